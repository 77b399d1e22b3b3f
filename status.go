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
)

// Status is the abstract interface to an object tracking build progress for
// display. The scheduler notifies it on every state transition; the fancy
// implementation additionally repaints itself on a timer.
type Status interface {
	Update(counts *StateCounts)
	TaskStarted(id BuildId, b *Build)
	TaskOutput(id BuildId, line []byte)
	TaskFinished(id BuildId, b *Build, result *TaskResult)
	Log(msg string)
	// Finish flushes any transient display state; called on every exit
	// path, fatal ones included.
	Finish()
}

// buildMessage is the one-line description of a task: its description if it
// has one, otherwise the command.
func buildMessage(b *Build) string {
	if b.Desc != "" {
		return b.Desc
	}
	return "$ " + b.CmdLine
}

// StatusPrinter prints progress as plain lines, for dumb consoles and
// non-tty output.
type StatusPrinter struct {
	w       io.Writer
	verbose bool

	// The id of the last command printed, to avoid printing it twice when a
	// start and a finish arrive back to back.
	lastStarted BuildId
}

func NewStatusPrinter(w io.Writer, verbose bool) *StatusPrinter {
	return &StatusPrinter{w: w, verbose: verbose, lastStarted: -1}
}

func (s *StatusPrinter) Update(counts *StateCounts) {
}

func (s *StatusPrinter) TaskStarted(id BuildId, b *Build) {
	if s.verbose {
		s.Log("$ " + b.CmdLine)
	} else {
		s.Log(buildMessage(b))
	}
	s.lastStarted = id
}

func (s *StatusPrinter) TaskOutput(id BuildId, line []byte) {
}

func (s *StatusPrinter) TaskFinished(id BuildId, b *Build, result *TaskResult) {
	switch result.Termination {
	case TerminationSuccess:
		if len(result.Output) != 0 && s.lastStarted != id {
			s.Log(buildMessage(b))
		}
	case TerminationInterrupted:
		s.Log("interrupted: " + buildMessage(b))
	case TerminationFailure:
		s.Log("failed: " + buildMessage(b))
	}
	if len(result.Output) != 0 {
		s.w.Write(result.Output)
		if result.Output[len(result.Output)-1] != '\n' {
			io.WriteString(s.w, "\n")
		}
	}
}

func (s *StatusPrinter) Log(msg string) {
	fmt.Fprintln(s.w, msg)
}

func (s *StatusPrinter) Finish() {
}
