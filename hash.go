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
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"strings"
)

// BuildHash identifies one instance of a build's execution: a fingerprint
// over its materialized inputs, command and outputs. Equality against the
// journaled value decides freshness, so the function must be stable across
// runs and binary versions; fnv-64a is, unlike the seeded runtime hashes.
type BuildHash uint64

const unitSeparator byte = 0x1F

// buildManifest is the single description of what goes into a BuildHash.
// It is written twice: once through the terse hasher for normal builds, and
// once through a text renderer for "-d explain", so the two can never drift.
type buildManifest interface {
	writeFiles(desc string, g *Graph, state *FileState, ids []FileId)
	writeCmdline(cmdline string)
	writeRsp(rsp *RspFile)
}

// writeBuildManifest feeds one build through m. Every referenced file must
// already be stat'd; a missing stamp here is a scheduler bug.
func writeBuildManifest(m buildManifest, g *Graph, state *FileState, b *Build) {
	m.writeFiles("in", g, state, b.DirtyingIns())
	m.writeFiles("discovered", g, state, b.DiscoveredIns)
	m.writeCmdline(b.CmdLine)
	if b.RspFile != nil {
		m.writeRsp(b.RspFile)
	}
	m.writeFiles("out", g, state, b.Outs.Ids)
}

func fileStamp(g *Graph, state *FileState, id FileId) (string, MTime) {
	mtime := state.Get(id)
	if mtime == unknownMTime {
		fatalf("no stat for %s", g.File(id).Name)
	}
	return g.File(id).Name, mtime
}

type terseHash struct {
	h interface {
		Write([]byte) (int, error)
		Sum64() uint64
	}
}

func (t *terseHash) writeString(s string) {
	t.h.Write([]byte(s))
}

func (t *terseHash) writeSeparator() {
	t.h.Write([]byte{unitSeparator})
}

func (t *terseHash) writeStamp(m MTime) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], m.hashStamp())
	t.h.Write(buf[:])
}

func (t *terseHash) writeFiles(desc string, g *Graph, state *FileState, ids []FileId) {
	for _, id := range ids {
		name, mtime := fileStamp(g, state, id)
		t.writeString(name)
		t.writeStamp(mtime)
	}
	t.writeSeparator()
}

func (t *terseHash) writeCmdline(cmdline string) {
	t.writeString(cmdline)
	t.writeSeparator()
}

func (t *terseHash) writeRsp(rsp *RspFile) {
	t.writeString(rsp.Path)
	t.writeString(rsp.Content)
	t.writeSeparator()
}

// hashBuild computes the fingerprint for one build.
// Prerequisite: all dirtying inputs and outputs have been stat'd. It makes
// no sense to hash a build whose stamps are unknown; missing files hash as
// zero stamps, which is fine since they are part of the recorded state.
func hashBuild(g *Graph, state *FileState, b *Build) BuildHash {
	t := terseHash{h: fnv.New64a()}
	writeBuildManifest(&t, g, state, b)
	return BuildHash(t.h.Sum64())
}

// explainHash renders the same content human-readably for "-d explain".
type explainHash struct {
	text strings.Builder
}

func (e *explainHash) writeFiles(desc string, g *Graph, state *FileState, ids []FileId) {
	fmt.Fprintf(&e.text, "%s:\n", desc)
	for _, id := range ids {
		name, mtime := fileStamp(g, state, id)
		fmt.Fprintf(&e.text, "  %d %s\n", mtime.hashStamp(), name)
	}
}

func (e *explainHash) writeCmdline(cmdline string) {
	fmt.Fprintf(&e.text, "cmdline: %s\n", cmdline)
}

func (e *explainHash) writeRsp(rsp *RspFile) {
	h := fnv.New64a()
	h.Write([]byte(rsp.Content))
	fmt.Fprintf(&e.text, "rspfile path: %s\nrspfile hash: %x\n", rsp.Path, h.Sum64())
}

// explainBuild returns the state of all inputs used when hashing a build,
// for "-d explain" output.
func explainBuild(g *Graph, state *FileState, b *Build) string {
	var e explainHash
	writeBuildManifest(&e, g, state, b)
	return e.text.String()
}
