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
	"strings"
	"testing"
)

func TestGraphInterning(t *testing.T) {
	g := NewGraph()
	a := g.FileId("a")
	b := g.FileId("b")
	if a == b {
		t.Fatal("distinct names shared an id")
	}
	if again := g.FileId("a"); again != a {
		t.Fatal("repeated interning changed the id")
	}
	if _, ok := g.Lookup("c"); ok {
		t.Fatal("lookup invented a file")
	}
}

func TestGraphDoubleProducer(t *testing.T) {
	g := NewGraph()
	out := g.FileId("out")
	if _, err := g.AddBuild(Build{CmdLine: "x", Outs: BuildOuts{Ids: []FileId{out}, Explicit: 1}}); err != nil {
		t.Fatal(err)
	}
	_, err := g.AddBuild(Build{CmdLine: "y", Outs: BuildOuts{Ids: []FileId{out}, Explicit: 1}})
	if err == nil || !strings.Contains(err.Error(), "multiple rules generate out") {
		t.Fatalf("err = %v", err)
	}
}

func TestGraphReverseEdges(t *testing.T) {
	g := NewGraph()
	in := g.FileId("in")
	out := g.FileId("out")
	id, err := g.AddBuild(Build{
		CmdLine: "x",
		Ins:     BuildIns{Ids: []FileId{in}, Explicit: 1},
		Outs:    BuildOuts{Ids: []FileId{out}, Explicit: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	if deps := g.File(in).Dependents; len(deps) != 1 || deps[0] != id {
		t.Fatalf("dependents = %v", deps)
	}
	if g.File(out).Input != id {
		t.Fatalf("producer = %v", g.File(out).Input)
	}
	// addDependent is idempotent.
	g.addDependent(in, id)
	if deps := g.File(in).Dependents; len(deps) != 1 {
		t.Fatalf("dependents after re-add = %v", deps)
	}
}

func TestMTimeHashStamp(t *testing.T) {
	if Missing.hashStamp() != 0 {
		t.Fatalf("missing stamp = %d", Missing.hashStamp())
	}
	if MTime(41).hashStamp() != 42 {
		t.Fatalf("stamp = %d", MTime(41).hashStamp())
	}
}

func TestFileStateCaching(t *testing.T) {
	fs := NewVirtualFileSystem()
	fs.Create("f", "")
	g := NewGraph()
	id := g.FileId("f")
	state := NewFileState(len(g.Files))

	m1, err := state.Stat(g, fs, id)
	if err != nil {
		t.Fatal(err)
	}
	// A later change is invisible until invalidated.
	fs.Tick()
	fs.Create("f", "")
	m2, _ := state.Stat(g, fs, id)
	if m2 != m1 {
		t.Fatal("cached stat was re-read")
	}
	state.Invalidate(id)
	m3, _ := state.Stat(g, fs, id)
	if m3 == m1 {
		t.Fatal("invalidate did not force a fresh stat")
	}
}

func TestPoolTokens(t *testing.T) {
	p := NewPool("link", 2)
	if !p.TryAcquire() || !p.TryAcquire() {
		t.Fatal("acquire within depth failed")
	}
	if p.TryAcquire() {
		t.Fatal("acquired past depth")
	}
	p.Release()
	if !p.TryAcquire() {
		t.Fatal("token not returned")
	}
	// Unbounded pools always admit.
	var nilPool *Pool
	if !nilPool.TryAcquire() {
		t.Fatal("nil pool refused")
	}
	nilPool.Release()
}

func TestSetDiscoveredInsFiltersKnown(t *testing.T) {
	g := NewGraph()
	in := g.FileId("in")
	out := g.FileId("out")
	hdr := g.FileId("hdr.h")
	id, err := g.AddBuild(Build{
		CmdLine: "x",
		Ins:     BuildIns{Ids: []FileId{in}, Explicit: 1},
		Outs:    BuildOuts{Ids: []FileId{out}, Explicit: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	// A depfile restating the explicit input must not double-count it, and
	// duplicates collapse.
	g.setDiscoveredIns(id, []FileId{in, hdr, hdr})
	b := g.Build(id)
	if len(b.DiscoveredIns) != 1 || b.DiscoveredIns[0] != hdr {
		t.Fatalf("discovered = %v", b.DiscoveredIns)
	}
}
