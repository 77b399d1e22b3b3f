// Copyright 2011 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package n2

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// FileId and BuildId are dense indexes into the Graph arenas. The graph is
// self-referential (files point at builds, builds at files), so everything
// is addressed by id rather than by pointer.
type FileId int32

type BuildId int32

const noBuild BuildId = -1

// File is one logical target, identified by its canonicalized path.
type File struct {
	Name string
	// Input is the build that produces this file, or noBuild for sources.
	Input BuildId
	// Dependents are the builds that consume this file.
	Dependents []BuildId
}

// Location of a statement in a manifest, for diagnostics.
type Location struct {
	Filename string
	Line     int
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d", l.Filename, l.Line)
}

// BuildIns is a build's ordered input list. Sections are stored back to
// back; the counts delimit explicit ($in), implicit (dirtying but not $in)
// and order-only (must exist, never dirties) inputs.
type BuildIns struct {
	Ids       []FileId
	Explicit  int
	Implicit  int
	OrderOnly int
}

// BuildOuts is a build's ordered output list: explicit ($out) outputs first,
// then implicit ones.
type BuildOuts struct {
	Ids      []FileId
	Explicit int
}

// RspFile describes a response file written before the command runs.
type RspFile struct {
	Path    string
	Content string
}

// Build is one build statement: a command invocation producing outputs from
// inputs. Fields are fully evaluated at load time; DiscoveredIns is filled
// in from the state log and from depfile//showIncludes output after a run.
type Build struct {
	Location Location

	Ins           BuildIns
	Validations   []FileId
	DiscoveredIns []FileId
	Outs          BuildOuts

	// CmdLine is empty exactly for phony builds.
	CmdLine string
	Desc    string
	Depfile string
	RspFile *RspFile

	ParseShowIncludes bool
	Generator         bool
	Restat            bool
	HideProgress      bool

	Pool *Pool
}

// DirtyingIns returns the inputs that participate in the freshness
// fingerprint: explicit and implicit, but not order-only.
func (b *Build) DirtyingIns() []FileId {
	return b.Ins.Ids[:b.Ins.Explicit+b.Ins.Implicit]
}

// GatingIns returns the manifest inputs that must be ready before the build
// can run: explicit, implicit and order-only. Discovered inputs are not
// included; the scheduler checks them separately.
func (b *Build) GatingIns() []FileId {
	return b.Ins.Ids
}

// ExplicitIns returns the inputs materialized into $in.
func (b *Build) ExplicitIns() []FileId {
	return b.Ins.Ids[:b.Ins.Explicit]
}

// ExplicitOuts returns the outputs materialized into $out.
func (b *Build) ExplicitOuts() []FileId {
	return b.Outs.Ids[:b.Outs.Explicit]
}

func (b *Build) Phony() bool {
	return b.CmdLine == ""
}

// Pool is a named concurrency limit shared by a set of builds, backed by a
// bounded semaphore. The scheduler is the only acquirer, so TryAcquire
// cannot race with itself.
type Pool struct {
	Name  string
	Depth int
	sem   *semaphore.Weighted
}

func NewPool(name string, depth int) *Pool {
	p := &Pool{Name: name, Depth: depth}
	if depth > 0 {
		p.sem = semaphore.NewWeighted(int64(depth))
	}
	return p
}

// TryAcquire takes a pool token if one is free. A nil or unbounded pool
// always admits.
func (p *Pool) TryAcquire() bool {
	if p == nil || p.sem == nil {
		return true
	}
	return p.sem.TryAcquire(1)
}

func (p *Pool) Release() {
	if p != nil && p.sem != nil {
		p.sem.Release(1)
	}
}

// Acquire blocks until a token is free. A nil or unbounded pool admits
// at once.
func (p *Pool) Acquire(ctx context.Context) error {
	if p == nil || p.sem == nil {
		return nil
	}
	return p.sem.Acquire(ctx, 1)
}

// Graph owns the files and builds parsed out of a manifest. Ids are handed
// out densely in interning order.
type Graph struct {
	Files  []File
	Builds []Build

	byName map[string]FileId
}

func NewGraph() *Graph {
	return &Graph{byName: map[string]FileId{}}
}

// FileId interns a canonicalized path.
func (g *Graph) FileId(name string) FileId {
	if id, ok := g.byName[name]; ok {
		return id
	}
	id := FileId(len(g.Files))
	g.Files = append(g.Files, File{Name: name, Input: noBuild})
	g.byName[name] = id
	return id
}

// Lookup returns the id of an already interned path.
func (g *Graph) Lookup(name string) (FileId, bool) {
	id, ok := g.byName[name]
	return id, ok
}

func (g *Graph) File(id FileId) *File {
	return &g.Files[id]
}

func (g *Graph) Build(id BuildId) *Build {
	return &g.Builds[id]
}

// AddBuild installs a build and its forward and reverse edges. A file with
// two producers is a manifest error.
func (g *Graph) AddBuild(b Build) (BuildId, error) {
	id := BuildId(len(g.Builds))
	for _, out := range b.Outs.Ids {
		f := &g.Files[out]
		if f.Input != noBuild {
			return noBuild, fmt.Errorf("%s: multiple rules generate %s", b.Location, f.Name)
		}
		f.Input = id
	}
	for _, in := range b.Ins.Ids {
		g.Files[in].Dependents = append(g.Files[in].Dependents, id)
	}
	g.Builds = append(g.Builds, b)
	return id, nil
}

// addDependent records id as a consumer of in, used when discovered inputs
// attach after load.
func (g *Graph) addDependent(in FileId, id BuildId) {
	for _, d := range g.Files[in].Dependents {
		if d == id {
			return
		}
	}
	g.Files[in].Dependents = append(g.Files[in].Dependents, id)
}

// MTime is the stat() result for a file: missing, or a timestamp in seconds.
// Inside FileState, unknownMTime marks a file that has not been stat'd yet.
type MTime int64

const (
	// Missing means the file does not exist on disk.
	Missing MTime = -1
	// unknownMTime marks a FileState slot that has not been populated.
	unknownMTime MTime = -2
)

// hashStamp serializes an MTime for fingerprinting: 0 for a missing file,
// t+1 otherwise.
func (m MTime) hashStamp() uint64 {
	return uint64(m + 1)
}

// FileState caches per-file mtimes for the duration of one scheduler run.
// Slots are populated lazily on first touch and invalidated after a task
// rewrites the file.
type FileState struct {
	mtimes []MTime
}

func NewFileState(n int) *FileState {
	s := &FileState{mtimes: make([]MTime, n)}
	for i := range s.mtimes {
		s.mtimes[i] = unknownMTime
	}
	return s
}

// Get returns the cached mtime, or unknownMTime if not stat'd yet.
func (s *FileState) Get(id FileId) MTime {
	if int(id) >= len(s.mtimes) {
		return unknownMTime
	}
	return s.mtimes[id]
}

func (s *FileState) grow(id FileId) {
	for int(id) >= len(s.mtimes) {
		s.mtimes = append(s.mtimes, unknownMTime)
	}
}

// Stat fills the slot for id from fs if needed and returns it.
func (s *FileState) Stat(g *Graph, fs FileSystem, id FileId) (MTime, error) {
	s.grow(id)
	if s.mtimes[id] != unknownMTime {
		return s.mtimes[id], nil
	}
	mtime, err := fs.Stat(g.File(id).Name)
	if err != nil {
		return Missing, fmt.Errorf("stat %s: %w", g.File(id).Name, err)
	}
	s.mtimes[id] = mtime
	return mtime, nil
}

// Invalidate drops the cached stamp, forcing a fresh stat on next touch.
func (s *FileState) Invalidate(id FileId) {
	s.grow(id)
	s.mtimes[id] = unknownMTime
}
