// Copyright 2012 Google Inc. All Rights Reserved.
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
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFindLastLine(t *testing.T) {
	data := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"\n", ""},
		{"hello", "hello"},
		{"hello\n", "hello"},
		{"hello\nt", "t"},
		{"hello\nt\n", "t"},
		{"hello\n\n", "hello"},
		{"hello\nt\n\n", "t"},
	}
	for _, line := range data {
		if got := string(findLastLine([]byte(line.in))); got != line.want {
			t.Errorf("findLastLine(%q) = %q; want %q", line.in, got, line.want)
		}
	}
}

func TestExtractShowIncludes(t *testing.T) {
	includes, output := extractShowIncludes([]byte("some text\nNote: including file: a\nother text\nNote: including file:   b\r\nmore text\n"))
	if diff := cmp.Diff([]string{"a", "b"}, includes); diff != "" {
		t.Fatal(diff)
	}
	if got := string(output); got != "some text\nother text\nmore text\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestRunCommandCapturesMergedOutput(t *testing.T) {
	var buf bytes.Buffer
	term, err := runCommand("echo to-stdout && echo to-stderr >&2", func(b []byte) { buf.Write(b) })
	if err != nil {
		t.Fatal(err)
	}
	if term != TerminationSuccess {
		t.Fatalf("termination = %v", term)
	}
	out := buf.String()
	if !strings.Contains(out, "to-stdout") || !strings.Contains(out, "to-stderr") {
		t.Fatalf("output = %q", out)
	}
}

func TestRunCommandFailure(t *testing.T) {
	term, err := runCommand("exit 3", func([]byte) {})
	if err != nil {
		t.Fatal(err)
	}
	if term != TerminationFailure {
		t.Fatalf("termination = %v", term)
	}
}

func TestRunTaskMissingDepfileIsEmpty(t *testing.T) {
	result := runTask("true", filepath.Join(t.TempDir(), "missing.d"), nil, false, func([]byte) {})
	if result.Termination != TerminationSuccess {
		t.Fatalf("termination = %v; output %q", result.Termination, result.Output)
	}
	if result.DiscoveredDeps == nil || len(result.DiscoveredDeps) != 0 {
		t.Fatalf("deps = %#v", result.DiscoveredDeps)
	}
}

func TestRunTaskReadsDepfile(t *testing.T) {
	dir := t.TempDir()
	dep := filepath.Join(dir, "out.d")
	if err := os.WriteFile(dep, []byte("out: h1 h2\n"), 0o666); err != nil {
		t.Fatal(err)
	}
	result := runTask("true", dep, nil, false, func([]byte) {})
	if diff := cmp.Diff([]string{"h1", "h2"}, result.DiscoveredDeps); diff != "" {
		t.Fatal(diff)
	}
}

func TestRunTaskWritesRspFile(t *testing.T) {
	dir := t.TempDir()
	rsp := &RspFile{Path: filepath.Join(dir, "make", "me", "args.rsp"), Content: "one two"}
	result := runTask("true", "", rsp, false, func([]byte) {})
	if result.Termination != TerminationSuccess {
		t.Fatalf("termination = %v; output %q", result.Termination, result.Output)
	}
	got, err := os.ReadFile(rsp.Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "one two" {
		t.Fatalf("rsp = %q", got)
	}
}

func TestSubprocessRunnerParallelismAccounting(t *testing.T) {
	r := NewSubprocessRunner(2)
	if !r.CanRunMore() || r.IsRunning() {
		t.Fatal("fresh runner state wrong")
	}
	b := &Build{CmdLine: "true", Outs: BuildOuts{Ids: []FileId{0}, Explicit: 1}}
	r.StartCommand(1, b)
	r.StartCommand(2, b)
	if r.CanRunMore() {
		t.Fatal("runner over capacity")
	}
	seen := map[BuildId]bool{}
	for r.IsRunning() {
		task := r.Wait(func(BuildId, []byte) {})
		seen[task.Id] = true
		if task.Result.Termination != TerminationSuccess {
			t.Fatalf("termination = %v", task.Result.Termination)
		}
	}
	if !seen[1] || !seen[2] {
		t.Fatalf("seen = %v", seen)
	}
}

func TestRunnerForwardsLastLine(t *testing.T) {
	r := NewSubprocessRunner(1)
	b := &Build{CmdLine: "echo first && echo last"}
	r.StartCommand(7, b)
	var lines []string
	task := r.Wait(func(id BuildId, line []byte) {
		lines = append(lines, string(line))
	})
	if task.Id != 7 {
		t.Fatalf("id = %d", task.Id)
	}
	if len(lines) == 0 || lines[len(lines)-1] != "last" {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.Contains(string(task.Result.Output), "first\nlast\n") {
		t.Fatalf("output = %q", task.Result.Output)
	}
}

func TestThreadIdsReuseLowestSlot(t *testing.T) {
	var tids threadIds
	a := tids.claim()
	b := tids.claim()
	if a != 0 || b != 1 {
		t.Fatalf("claims = %d, %d", a, b)
	}
	tids.release(a)
	if c := tids.claim(); c != 0 {
		t.Fatalf("reclaim = %d", c)
	}
}
