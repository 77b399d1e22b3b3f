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
	"errors"
	"fmt"
	"sort"
	"strings"
)

// BuildState is the scheduler's per-edge state machine:
// want -> ready -> queued -> running -> done, with failed as the sibling
// terminal.
type BuildState int32

const (
	// StateUnknown: not visited by want propagation.
	StateUnknown BuildState = iota
	// StateWant: needed, but some input is not ready yet.
	StateWant
	// StateReady: all inputs exist and are ready; awaiting dispatch.
	StateReady
	// StateQueued: admitted to the runner but not started.
	StateQueued
	// StateRunning: a subprocess is live.
	StateRunning
	StateDone
	StateFailed

	numBuildStates
)

func (s BuildState) String() string {
	switch s {
	case StateWant:
		return "want"
	case StateReady:
		return "ready"
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// StateCounts tallies builds per state for progress display.
type StateCounts [numBuildStates]int

func (c *StateCounts) Get(s BuildState) int {
	return c[s]
}

// Total returns the number of builds the scheduler has visited.
func (c *StateCounts) Total() int {
	n := 0
	for s := StateWant; s < numBuildStates; s++ {
		n += c[s]
	}
	return n
}

// An edge revisited more than this many times (via discovered-dependency
// replanning) aborts the build rather than regenerate forever.
const maxBuildReschedules = 100

// Sentinel results from Work.Run; the driver maps them onto exit behavior.
var (
	errBuildFailed  = errors.New("build failed")
	errInterrupted  = errors.New("interrupted by user")
	errManifestLoop = errors.New("manifest regeneration did not converge")
)

// WorkOptions configures one scheduler run.
type WorkOptions struct {
	// KeepGoing is the number of failing tasks tolerated before the build
	// stops; 0 means keep going until nothing else can run.
	KeepGoing int
	// Explain logs why each edge is dirty, plus the fingerprint manifest
	// when a recorded hash no longer matches.
	Explain bool
}

// CommandRunner abstracts task execution so scheduler tests can fake it.
// The real implementation is the subprocess worker pool.
type CommandRunner interface {
	CanRunMore() bool
	IsRunning() bool
	StartCommand(id BuildId, b *Build)
	// Wait blocks until some task finishes. Output lines arriving in the
	// meantime are delivered to output.
	Wait(output func(BuildId, []byte)) FinishedTask
}

// Work walks the graph for a set of wanted files, decides what is dirty,
// feeds runnable edges to the runner and folds results (including
// dynamically discovered dependencies) back in. It owns all mutable build
// state; workers only ever talk to it through the runner's channel.
type Work struct {
	graph   *Graph
	fs      FileSystem
	db      *DepsLog
	status  Status
	runner  CommandRunner
	options WorkOptions

	fstate     *FileState
	lastHashes map[FileId]BuildHash

	states []BuildState
	counts StateCounts
	ready  map[BuildId]struct{}
	// Times each edge has been scheduled, for the replanning bound.
	scheduled map[BuildId]int

	failures int
	tasksRan int
}

func NewWork(g *Graph, fs FileSystem, db *DepsLog, status Status, runner CommandRunner, options WorkOptions) *Work {
	lastHashes := map[FileId]BuildHash{}
	if db != nil {
		lastHashes = db.LastHashes
	}
	return &Work{
		graph:      g,
		fs:         fs,
		db:         db,
		status:     status,
		runner:     runner,
		options:    options,
		fstate:     NewFileState(len(g.Files)),
		lastHashes: lastHashes,
		states:     make([]BuildState, len(g.Builds)),
		ready:      map[BuildId]struct{}{},
		scheduled:  map[BuildId]int{},
	}
}

func (w *Work) setState(id BuildId, s BuildState) {
	prev := w.states[id]
	if prev == s {
		return
	}
	if prev != StateUnknown {
		w.counts[prev]--
	}
	w.states[id] = s
	w.counts[s]++
	if s == StateReady {
		w.ready[id] = struct{}{}
	} else {
		delete(w.ready, id)
	}
	w.status.Update(&w.counts)
}

// WantFile adds a target by name.
func (w *Work) WantFile(name string) error {
	id, ok := w.graph.Lookup(CanonicalizePath(name))
	if !ok {
		return fmt.Errorf("unknown path %q", name)
	}
	return w.WantFileId(id)
}

// WantFileId adds a target. Files without a producer are sources and want
// nothing; their existence is checked when a consumer is examined.
func (w *Work) WantFileId(id FileId) error {
	return w.wantFileId(id, nil)
}

func (w *Work) wantFileId(id FileId, stack []BuildId) error {
	f := w.graph.File(id)
	if f.Input == noBuild {
		return nil
	}
	return w.wantBuild(f.Input, stack)
}

func (w *Work) wantBuild(id BuildId, stack []BuildId) error {
	if w.states[id] != StateUnknown {
		for _, s := range stack {
			if s == id {
				return w.cycleError(stack, id)
			}
		}
		return nil
	}
	w.setState(id, StateWant)
	w.scheduled[id] = 1
	stack = append(stack, id)
	b := w.graph.Build(id)

	// Visit inputs. Order-only inputs gate execution but are exempt from
	// cycle checking, as are validations; both get a fresh stack.
	dirtying := b.Ins.Explicit + b.Ins.Implicit
	for i, in := range b.Ins.Ids {
		st := stack
		if i >= dirtying {
			st = nil
		}
		if err := w.wantFileId(in, st); err != nil {
			return err
		}
	}
	for _, in := range b.DiscoveredIns {
		if err := w.wantFileId(in, stack); err != nil {
			return err
		}
	}
	// Validations join the top-level want set without gating this edge.
	for _, v := range b.Validations {
		if err := w.wantFileId(v, nil); err != nil {
			return err
		}
	}
	return w.recheckReady(id)
}

func (w *Work) cycleError(stack []BuildId, id BuildId) error {
	var names []string
	seen := false
	for _, s := range stack {
		if s == id {
			seen = true
		}
		if seen {
			names = append(names, w.buildName(s))
		}
	}
	names = append(names, w.buildName(id))
	return fmt.Errorf("dependency cycle: %s", strings.Join(names, " -> "))
}

// buildName labels an edge by its first output, for diagnostics.
func (w *Work) buildName(id BuildId) string {
	return w.graph.File(w.graph.Build(id).Outs.Ids[0]).Name
}

// inputReady reports whether in can be consumed: it is a source, or its
// producer finished.
func (w *Work) inputReady(in FileId) bool {
	p := w.graph.File(in).Input
	return p == noBuild || w.states[p] == StateDone
}

// recheckReady re-evaluates a wanted edge after one of its inputs settled.
// Once every gating input is ready the edge either turns out clean (done
// without running) or becomes ready for dispatch.
func (w *Work) recheckReady(id BuildId) error {
	if w.states[id] != StateWant {
		return nil
	}
	b := w.graph.Build(id)
	for _, in := range b.GatingIns() {
		if !w.inputReady(in) {
			return nil
		}
	}
	for _, in := range b.DiscoveredIns {
		if !w.inputReady(in) {
			return nil
		}
	}
	if b.Phony() {
		w.setState(id, StateReady)
		return nil
	}
	dirty, err := w.isDirty(id, b)
	if err != nil {
		return err
	}
	if !dirty {
		return w.markDone(id)
	}
	w.setState(id, StateReady)
	return nil
}

// isDirty implements the freshness decision: dirty when an output is
// missing, or when the journaled fingerprint is absent or no longer matches.
// Output stamps are part of the fingerprint, so a match also proves no
// relevant mtime moved; a bare mtime comparison would rebuild on touches
// that restore a previously recorded state.
func (w *Work) isDirty(id BuildId, b *Build) (bool, error) {
	missingOut := FileId(-1)
	for _, out := range b.Outs.Ids {
		mtime, err := w.fstate.Stat(w.graph, w.fs, out)
		if err != nil {
			return false, err
		}
		if mtime == Missing && missingOut < 0 {
			missingOut = out
		}
	}
	for _, in := range b.DirtyingIns() {
		mtime, err := w.fstate.Stat(w.graph, w.fs, in)
		if err != nil {
			return false, err
		}
		if mtime == Missing && w.graph.File(in).Input == noBuild {
			return false, fmt.Errorf("%s: input %s missing", b.Location, w.graph.File(in).Name)
		}
	}
	for _, in := range b.DiscoveredIns {
		// A discovered input may have vanished since the journal recorded
		// it; it stamps as missing and the fingerprint mismatch forces a
		// rerun.
		if _, err := w.fstate.Stat(w.graph, w.fs, in); err != nil {
			return false, err
		}
	}
	if missingOut >= 0 {
		w.explain(b, fmt.Sprintf("output %s missing", w.graph.File(missingOut).Name))
		return true, nil
	}
	hash := hashBuild(w.graph, w.fstate, b)
	last, ok := w.lastHashes[b.ExplicitOuts()[0]]
	if !ok {
		w.explain(b, "never built")
		return true, nil
	}
	if hash != last {
		w.explain(b, "manifest changed")
		w.explainManifest(b)
		return true, nil
	}
	return false, nil
}

func (w *Work) explain(b *Build, why string) {
	if w.options.Explain {
		w.status.Log(fmt.Sprintf("explain: %s: %s", b.Location, why))
	}
}

func (w *Work) explainManifest(b *Build) {
	if w.options.Explain {
		w.status.Log(strings.TrimRight(explainBuild(w.graph, w.fstate, b), "\n"))
	}
}

// markDone finishes an edge and wakes the wanted dependents of its outputs.
func (w *Work) markDone(id BuildId) error {
	w.setState(id, StateDone)
	b := w.graph.Build(id)
	for _, out := range b.Outs.Ids {
		for _, dep := range w.graph.File(out).Dependents {
			if w.states[dep] == StateWant {
				if err := w.recheckReady(dep); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// dispatch starts as many ready edges as the runner and their pools admit.
// Phony edges complete on the spot. Loops because completing a phony edge
// can ready new work.
func (w *Work) dispatch() error {
	for {
		progressed := false
		ids := make([]BuildId, 0, len(w.ready))
		for id := range w.ready {
			ids = append(ids, id)
		}
		// Deterministic dispatch order keeps output stable for tests.
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			b := w.graph.Build(id)
			if b.Phony() {
				if err := w.markDone(id); err != nil {
					return err
				}
				progressed = true
				continue
			}
			if wasInterrupted() || !w.runner.CanRunMore() {
				continue
			}
			if !b.Pool.TryAcquire() {
				// Token exhausted; leave it ready and try another edge.
				continue
			}
			w.setState(id, StateQueued)
			w.runner.StartCommand(id, b)
			w.setState(id, StateRunning)
			w.status.TaskStarted(id, b)
			progressed = true
		}
		if !progressed {
			return nil
		}
	}
}

// finished folds one task result back into the plan.
func (w *Work) finished(t FinishedTask) error {
	b := w.graph.Build(t.Id)
	b.Pool.Release()
	traceTask(b, t)

	if t.Result.Termination != TerminationSuccess {
		w.status.TaskFinished(t.Id, b, &t.Result)
		w.setState(t.Id, StateFailed)
		w.failures++
		return nil
	}

	if t.Result.DiscoveredDeps != nil {
		ids := make([]FileId, 0, len(t.Result.DiscoveredDeps))
		for _, dep := range t.Result.DiscoveredDeps {
			ids = append(ids, w.graph.FileId(CanonicalizePath(dep)))
		}
		w.graph.setDiscoveredIns(t.Id, ids)
	}

	// Stat anything newly discovered and pull unbuilt producers into the
	// plan.
	requeue := false
	for _, in := range b.DiscoveredIns {
		mtime, err := w.fstate.Stat(w.graph, w.fs, in)
		if err != nil {
			return err
		}
		p := w.graph.File(in).Input
		if p == noBuild {
			if mtime == Missing {
				return fmt.Errorf("%s: depfile references nonexistent %s", b.Location, w.graph.File(in).Name)
			}
			continue
		}
		if w.states[p] == StateUnknown {
			if err := w.wantBuild(p, nil); err != nil {
				return err
			}
		}
		if w.states[p] != StateDone {
			requeue = true
		}
	}
	w.status.TaskFinished(t.Id, b, &t.Result)
	w.tasksRan++

	if requeue {
		// The task ran before we knew about a prerequisite. Put it back in
		// the plan; its dependents stay blocked until it settles.
		w.scheduled[t.Id]++
		if w.scheduled[t.Id] > maxBuildReschedules {
			return fmt.Errorf("%s: scheduled %d times; giving up on a dependency loop",
				b.Location, w.scheduled[t.Id])
		}
		w.setState(t.Id, StateWant)
		return nil
	}

	// Re-stat outputs now that the command ran, journal the new
	// fingerprint, then finish. The journal write precedes the done mark so
	// a crash never records work as done that the log does not know about.
	for _, out := range b.Outs.Ids {
		w.fstate.Invalidate(out)
		if _, err := w.fstate.Stat(w.graph, w.fs, out); err != nil {
			return err
		}
	}
	hash := hashBuild(w.graph, w.fstate, b)
	if w.db != nil {
		if err := w.db.WriteBuild(w.graph, b, hash); err != nil {
			return err
		}
	}
	w.lastHashes[b.ExplicitOuts()[0]] = hash
	return w.markDone(t.Id)
}

// drain lets running tasks terminate naturally after a failure or
// interrupt. Their results are reported but not journaled.
func (w *Work) drain() {
	for w.runner.IsRunning() {
		t := w.runner.Wait(func(id BuildId, line []byte) {
			w.status.TaskOutput(id, line)
		})
		b := w.graph.Build(t.Id)
		b.Pool.Release()
		w.status.TaskFinished(t.Id, b, &t.Result)
		if t.Result.Termination == TerminationSuccess {
			w.setState(t.Id, StateDone)
		} else {
			w.setState(t.Id, StateFailed)
			w.failures++
		}
	}
}

// Run drives the plan to quiescence and returns the number of tasks
// executed. A nil error means everything wanted is up to date.
func (w *Work) Run() (int, error) {
	for {
		if wasInterrupted() {
			w.drain()
			return w.tasksRan, errInterrupted
		}
		if err := w.dispatch(); err != nil {
			w.drain()
			return w.tasksRan, err
		}
		if !w.runner.IsRunning() {
			break
		}
		t := w.runner.Wait(func(id BuildId, line []byte) {
			w.status.TaskOutput(id, line)
		})
		if err := w.finished(t); err != nil {
			w.drain()
			return w.tasksRan, err
		}
		if w.options.KeepGoing > 0 && w.failures >= w.options.KeepGoing {
			w.drain()
			return w.tasksRan, errBuildFailed
		}
	}
	if wasInterrupted() {
		return w.tasksRan, errInterrupted
	}
	if w.failures > 0 {
		return w.tasksRan, errBuildFailed
	}
	if w.counts.Get(StateWant)+w.counts.Get(StateReady) > 0 {
		return w.tasksRan, fmt.Errorf("graph is stuck: %d edges wanted but nothing is runnable",
			w.counts.Get(StateWant)+w.counts.Get(StateReady))
	}
	return w.tasksRan, nil
}
