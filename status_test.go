// Copyright 2016 Google Inc. All Rights Reserved.
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
	"encoding/json"
	"strings"
	"testing"
)

func TestBuildMessage(t *testing.T) {
	b := &Build{CmdLine: "cc a.c"}
	if got := buildMessage(b); got != "$ cc a.c" {
		t.Fatalf("message = %q", got)
	}
	b.Desc = "CC a.o"
	if got := buildMessage(b); got != "CC a.o" {
		t.Fatalf("message = %q", got)
	}
}

func TestStatusPrinterOutput(t *testing.T) {
	var buf strings.Builder
	s := NewStatusPrinter(&buf, false)
	b := &Build{CmdLine: "cc a.c", Desc: "CC a.o"}
	s.TaskStarted(1, b)
	s.TaskFinished(1, b, &TaskResult{Termination: TerminationSuccess, Output: []byte("warning: x\n")})
	out := buf.String()
	if !strings.Contains(out, "CC a.o") {
		t.Fatalf("output = %q", out)
	}
	if !strings.Contains(out, "warning: x") {
		t.Fatalf("output = %q", out)
	}
	// The description printed once, not repeated by the finish.
	if strings.Count(out, "CC a.o") != 1 {
		t.Fatalf("output = %q", out)
	}
}

func TestStatusPrinterVerbose(t *testing.T) {
	var buf strings.Builder
	s := NewStatusPrinter(&buf, true)
	b := &Build{CmdLine: "cc a.c", Desc: "CC a.o"}
	s.TaskStarted(1, b)
	if !strings.Contains(buf.String(), "$ cc a.c") {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestStatusPrinterFailure(t *testing.T) {
	var buf strings.Builder
	s := NewStatusPrinter(&buf, false)
	b := &Build{CmdLine: "cc a.c"}
	s.TaskFinished(1, b, &TaskResult{Termination: TerminationFailure, Output: []byte("boom")})
	out := buf.String()
	if !strings.Contains(out, "failed: $ cc a.c") || !strings.Contains(out, "boom") {
		t.Fatalf("output = %q", out)
	}
}

func TestJSONStatusLines(t *testing.T) {
	var buf strings.Builder
	s := NewJSONStatus(&buf)
	var counts StateCounts
	counts[StateWant] = 2
	counts[StateDone] = 1
	s.Update(&counts)
	s.TaskStarted(3, &Build{CmdLine: "cc"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	var update struct {
		Counts jsonCounts `json:"counts"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &update); err != nil {
		t.Fatal(err)
	}
	if update.Counts.Want != 2 || update.Counts.Done != 1 {
		t.Fatalf("counts = %+v", update.Counts)
	}
	if !strings.Contains(lines[1], `"id":3`) {
		t.Fatalf("task line = %q", lines[1])
	}
}

func TestProgressBar(t *testing.T) {
	var counts StateCounts
	counts[StateDone] = 1
	counts[StateRunning] = 1
	counts[StateWant] = 2
	bar := progressBar(&counts, 8)
	if !strings.HasPrefix(bar, "[") || !strings.HasSuffix(bar, "]") {
		t.Fatalf("bar = %q", bar)
	}
	if !strings.Contains(bar, "=") || !strings.Contains(bar, "*") {
		t.Fatalf("bar = %q", bar)
	}
}
