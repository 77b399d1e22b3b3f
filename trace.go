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
	"bufio"
	"fmt"
	"os"
	"time"
)

// Chrome trace output ("-d trace"): a JSON array of complete events, one
// per load span or task execution. Load spans use tid 0; a task uses its
// runner lane number plus one. Load the result in chrome://tracing or
// Perfetto.
type trace struct {
	start time.Time
	f     *os.File
	w     *bufio.Writer
	count int
}

// Only the scheduler goroutine writes events, so no lock.
var currentTrace *trace

func traceOpen(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "[")
	currentTrace = &trace{start: time.Now(), f: f, w: w}
	return nil
}

func (t *trace) writeComplete(name string, tid int, start, end time.Time) {
	if t.count > 0 {
		fmt.Fprint(t.w, ",")
	}
	t.count++
	fmt.Fprintf(t.w, "{\"pid\":0, \"name\":%q, \"ts\":%d, \"tid\": %d, \"ph\":\"X\", \"dur\":%d}\n",
		name, start.Sub(t.start).Microseconds(), tid, end.Sub(start).Microseconds())
}

// traceScope times f as one event on lane 0, for load phases.
func traceScope(name string, f func() error) error {
	if currentTrace == nil {
		return f()
	}
	start := time.Now()
	err := f()
	currentTrace.writeComplete(name, 0, start, time.Now())
	return err
}

// traceTask records one finished task on its worker's lane.
func traceTask(b *Build, t FinishedTask) {
	if currentTrace == nil {
		return
	}
	currentTrace.writeComplete(buildMessage(b), t.Tid+1, t.Start, t.Finish)
}

func traceClose() {
	if currentTrace == nil {
		return
	}
	t := currentTrace
	currentTrace = nil
	t.writeComplete("main", 0, t.start, time.Now())
	fmt.Fprintln(t.w, "]")
	t.w.Flush()
	t.f.Close()
}
