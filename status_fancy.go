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
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// How often the ticker repaints the transient progress line.
const fancyRefresh = 50 * time.Millisecond

// FancyStatus renders an overprinted progress bar plus the currently
// running tasks on a terminal. The scheduler calls in from its goroutine
// and a ticker goroutine repaints concurrently, so all state is behind a
// lock; task execution never waits on the display beyond it.
type FancyStatus struct {
	mu      sync.Mutex
	w       io.Writer
	verbose bool
	counts  StateCounts
	tasks   map[BuildId]*fancyTask
	// Rows currently occupied by the transient display.
	transient int
	done      chan struct{}
	ticker    *time.Ticker
}

type fancyTask struct {
	message  string
	lastLine string
	start    time.Time
}

func NewFancyStatus(w io.Writer, verbose bool) *FancyStatus {
	f := &FancyStatus{
		w:       w,
		verbose: verbose,
		tasks:   map[BuildId]*fancyTask{},
		done:    make(chan struct{}),
		ticker:  time.NewTicker(fancyRefresh),
	}
	go func() {
		for {
			select {
			case <-f.done:
				return
			case <-f.ticker.C:
				f.mu.Lock()
				f.repaint()
				f.mu.Unlock()
			}
		}
	}()
	return f
}

func (f *FancyStatus) Update(counts *StateCounts) {
	f.mu.Lock()
	f.counts = *counts
	f.mu.Unlock()
}

func (f *FancyStatus) TaskStarted(id BuildId, b *Build) {
	f.mu.Lock()
	msg := buildMessage(b)
	if f.verbose {
		msg = "$ " + b.CmdLine
	}
	f.tasks[id] = &fancyTask{message: msg, start: time.Now()}
	f.repaint()
	f.mu.Unlock()
}

func (f *FancyStatus) TaskOutput(id BuildId, line []byte) {
	f.mu.Lock()
	if t, ok := f.tasks[id]; ok {
		t.lastLine = string(line)
	}
	f.mu.Unlock()
}

func (f *FancyStatus) TaskFinished(id BuildId, b *Build, result *TaskResult) {
	f.mu.Lock()
	delete(f.tasks, id)
	f.clearTransient()
	switch result.Termination {
	case TerminationInterrupted:
		fmt.Fprintln(f.w, "interrupted: "+buildMessage(b))
	case TerminationFailure:
		fmt.Fprintln(f.w, "failed: "+buildMessage(b))
	}
	if len(result.Output) != 0 {
		if result.Termination == TerminationSuccess {
			fmt.Fprintln(f.w, buildMessage(b))
		}
		f.w.Write(result.Output)
		if result.Output[len(result.Output)-1] != '\n' {
			io.WriteString(f.w, "\n")
		}
	}
	f.repaint()
	f.mu.Unlock()
}

func (f *FancyStatus) Log(msg string) {
	f.mu.Lock()
	f.clearTransient()
	fmt.Fprintln(f.w, msg)
	f.repaint()
	f.mu.Unlock()
}

// Finish stops the ticker and erases the transient display.
func (f *FancyStatus) Finish() {
	f.ticker.Stop()
	select {
	case <-f.done:
	default:
		close(f.done)
	}
	f.mu.Lock()
	f.clearTransient()
	f.mu.Unlock()
}

// clearTransient moves the cursor back over the repainted region and wipes
// it. Callers hold the lock.
func (f *FancyStatus) clearTransient() {
	if f.transient == 0 {
		return
	}
	fmt.Fprintf(f.w, "\x1b[%dA\x1b[J", f.transient)
	f.transient = 0
}

// repaint redraws the progress bar and running task list. Callers hold the
// lock.
func (f *FancyStatus) repaint() {
	f.clearTransient()
	total := f.counts.Total()
	if total == 0 {
		return
	}
	cols := terminalCols()
	if cols == 0 {
		cols = 80
	}

	var line strings.Builder
	fmt.Fprintf(&line, "[%d/%d] ", f.counts.Get(StateDone), total)
	bar := progressBar(&f.counts, 40)
	line.WriteString(bar)
	fmt.Fprintln(f.w, trimToWidth(line.String(), cols))
	f.transient = 1

	ids := make([]BuildId, 0, len(f.tasks))
	for id := range f.tasks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return f.tasks[ids[i]].start.Before(f.tasks[ids[j]].start) })
	for _, id := range ids {
		t := f.tasks[id]
		row := fmt.Sprintf("%4.1fs %s", time.Since(t.start).Seconds(), t.message)
		if t.lastLine != "" {
			row += ": " + t.lastLine
		}
		fmt.Fprintln(f.w, trimToWidth(row, cols))
		f.transient++
	}
}

// progressBar renders state counts as a fixed-width bar: done, then
// running, ready and want.
func progressBar(counts *StateCounts, width int) string {
	total := counts.Total()
	if total == 0 {
		return ""
	}
	var out strings.Builder
	out.WriteByte('[')
	sum := 0
	for _, seg := range []struct {
		n  int
		ch byte
	}{
		{counts.Get(StateDone) + counts.Get(StateFailed), '='},
		{counts.Get(StateQueued) + counts.Get(StateRunning), '*'},
		{counts.Get(StateReady), '-'},
		{counts.Get(StateWant), ' '},
	} {
		sum += seg.n
		for out.Len()-1 < sum*width/total {
			out.WriteByte(seg.ch)
		}
	}
	out.WriteByte(']')
	return out.String()
}

func trimToWidth(s string, width int) string {
	if len(s) > width {
		return s[:width]
	}
	return s
}
