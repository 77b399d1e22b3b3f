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
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio"
)

// Termination classifies how a subprocess ended.
type Termination int

const (
	TerminationSuccess Termination = iota
	TerminationInterrupted
	TerminationFailure
)

// TaskResult is everything a worker learned from running one build step.
type TaskResult struct {
	Termination Termination
	// Combined stdout+stderr.
	Output []byte
	// DiscoveredDeps is non-nil when the task was configured to collect
	// dependencies (depfile or /showIncludes scraping).
	DiscoveredDeps []string
}

// FinishedTask is the completion message a worker posts to the scheduler.
type FinishedTask struct {
	// Tid is a small "lane" number for trace output, reused across tasks.
	Tid    int
	Id     BuildId
	Start  time.Time
	Finish time.Time
	Result TaskResult
}

// runnerMessage is what travels on the single worker->scheduler channel:
// either an intermediate output line or a completion.
type runnerMessage struct {
	id   BuildId
	line []byte
	done *FinishedTask
}

// threadIds hands out the smallest free lane number, so traces show
// parallelism as compact tracks.
type threadIds struct {
	slots []bool
}

func (t *threadIds) claim() int {
	for i, used := range t.slots {
		if !used {
			t.slots[i] = true
			return i
		}
	}
	t.slots = append(t.slots, true)
	return len(t.slots) - 1
}

func (t *threadIds) release(i int) {
	t.slots[i] = false
}

// SubprocessRunner executes tasks with bounded parallelism, one goroutine
// per live subprocess. The goroutines mostly block on pipe reads, so this
// costs little over a poll loop while keeping depfile parsing off the
// scheduler. Messages flow to the scheduler over one channel; the scheduler
// is the only receiver.
type SubprocessRunner struct {
	msgs        chan runnerMessage
	running     int
	parallelism int
	tids        threadIds
}

func NewSubprocessRunner(parallelism int) *SubprocessRunner {
	return &SubprocessRunner{
		msgs:        make(chan runnerMessage),
		parallelism: parallelism,
	}
}

func (r *SubprocessRunner) CanRunMore() bool {
	return r.running < r.parallelism
}

func (r *SubprocessRunner) IsRunning() bool {
	return r.running > 0
}

// StartCommand launches a worker for one edge. The worker only reads the
// values captured here; it never touches the graph.
func (r *SubprocessRunner) StartCommand(id BuildId, b *Build) {
	cmdline := b.CmdLine
	depfile := b.Depfile
	rspfile := b.RspFile
	parseShowIncludes := b.ParseShowIncludes
	hideProgress := b.HideProgress

	tid := r.tids.claim()
	r.running++
	go func() {
		start := time.Now()
		result := runTask(cmdline, depfile, rspfile, parseShowIncludes, func(line []byte) {
			if !hideProgress {
				r.msgs <- runnerMessage{id: id, line: append([]byte(nil), line...)}
			}
		})
		r.msgs <- runnerMessage{id: id, done: &FinishedTask{
			Tid:    tid,
			Id:     id,
			Start:  start,
			Finish: time.Now(),
			Result: result,
		}}
	}()
}

// Wait blocks for the next completion, forwarding output lines seen on the
// way.
func (r *SubprocessRunner) Wait(output func(BuildId, []byte)) FinishedTask {
	for {
		m := <-r.msgs
		if m.done == nil {
			output(m.id, m.line)
			continue
		}
		r.tids.release(m.done.Tid)
		r.running--
		return *m.done
	}
}

// runTask performs one build step start to finish on the worker goroutine:
// rspfile, subprocess, then dependency extraction.
func runTask(cmdline, depfile string, rspfile *RspFile, parseShowIncludes bool, lastLine func([]byte)) TaskResult {
	if rspfile != nil {
		if err := writeRspFile(rspfile); err != nil {
			return failedResult(err)
		}
	}

	var output bytes.Buffer
	termination, err := runCommand(cmdline, func(buf []byte) {
		output.Write(buf)
		lastLine(findLastLine(output.Bytes()))
	})
	if err != nil {
		return failedResult(err)
	}

	result := TaskResult{Termination: termination, Output: output.Bytes()}
	if parseShowIncludes {
		// Strip /showIncludes lines regardless of success or failure.
		includes, filtered := extractShowIncludes(result.Output)
		result.Output = filtered
		result.DiscoveredDeps = includes
	}
	if termination == TerminationSuccess && depfile != "" {
		deps, err := readDepfile(depfile)
		if err != nil {
			return failedResult(err)
		}
		if result.DiscoveredDeps == nil {
			result.DiscoveredDeps = deps
		} else {
			result.DiscoveredDeps = append(result.DiscoveredDeps, deps...)
		}
	}
	return result
}

func failedResult(err error) TaskResult {
	return TaskResult{
		Termination: TerminationFailure,
		Output:      []byte(err.Error() + "\n"),
	}
}

// writeRspFile materializes a response file, creating parent directories.
// The write is atomic so the command can never observe a torn file.
func writeRspFile(rsp *RspFile) error {
	if dir := filepath.Dir(rsp.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o777); err != nil {
			return err
		}
	}
	return renameio.WriteFile(rsp.Path, []byte(rsp.Content), 0o666)
}

// readDepfile collects the dependencies a compiler wrote next to its
// output. The returned slice is non-nil even when empty, so a run that
// found nothing still replaces any previously discovered set. A missing
// depfile means no deps; the command simply did not produce one.
func readDepfile(path string) ([]string, error) {
	buf, err := ReadFileWithNul(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read depfile %s: %w", path, err)
	}
	deps, err := parseDepfile(buf)
	if err != nil {
		return nil, fmt.Errorf("depfile %s: %s", path, formatParseError(path, buf, err))
	}
	// Return a non-nil slice so "ran with a depfile, found nothing" still
	// replaces any previously discovered set.
	out := deps.deps
	if out == nil {
		out = []string{}
	}
	return out, nil
}

var showIncludesPrefix = []byte("Note: including file: ")

// extractShowIncludes splits MSVC/clang-cl "/showIncludes" lines out of a
// command's output, returning the include list and the remaining output.
func extractShowIncludes(output []byte) ([]string, []byte) {
	includes := []string{}
	var filtered []byte
	for _, line := range bytes.Split(output, []byte{'\n'}) {
		if bytes.HasPrefix(line, showIncludesPrefix) {
			include := line[len(showIncludesPrefix):]
			include = bytes.TrimLeft(include, " ")
			include = bytes.TrimSuffix(include, []byte{'\r'})
			includes = append(includes, string(include))
			continue
		}
		if len(filtered) > 0 {
			filtered = append(filtered, '\n')
		}
		filtered = append(filtered, line...)
	}
	return includes, filtered
}

// findLastLine returns the span of the last line of text in buf, ignoring
// trailing newlines, for live progress display.
func findLastLine(buf []byte) []byte {
	isNl := func(c byte) bool { return c == '\r' || c == '\n' }
	end := len(buf)
	for end > 0 && isNl(buf[end-1]) {
		end--
	}
	start := 0
	for i := end - 1; i >= 0; i-- {
		if isNl(buf[i]) {
			start = i + 1
			break
		}
	}
	return buf[start:end]
}
