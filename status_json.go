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
	"io"
)

// JSONStatus forwards progress as JSON lines to a stream, for tools
// wrapping the build. Write errors silently disable the stream; the build
// must not die because a consumer went away.
type JSONStatus struct {
	w io.Writer
}

func NewJSONStatus(w io.Writer) *JSONStatus {
	return &JSONStatus{w: w}
}

type jsonCounts struct {
	Want    int `json:"want"`
	Ready   int `json:"ready"`
	Queued  int `json:"queued"`
	Running int `json:"running"`
	Done    int `json:"done"`
	Failed  int `json:"failed"`
}

func (j *JSONStatus) write(v interface{}) {
	if j.w == nil {
		return
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return
	}
	buf = append(buf, '\n')
	if _, err := j.w.Write(buf); err != nil {
		j.w = nil
	}
}

func (j *JSONStatus) Update(counts *StateCounts) {
	j.write(map[string]jsonCounts{"counts": {
		Want:    counts.Get(StateWant),
		Ready:   counts.Get(StateReady),
		Queued:  counts.Get(StateQueued),
		Running: counts.Get(StateRunning),
		Done:    counts.Get(StateDone),
		Failed:  counts.Get(StateFailed),
	}})
}

func (j *JSONStatus) TaskStarted(id BuildId, b *Build) {
	j.write(map[string]interface{}{"task": map[string]interface{}{
		"id":      int(id),
		"message": buildMessage(b),
	}})
}

func (j *JSONStatus) TaskOutput(id BuildId, line []byte) {
}

func (j *JSONStatus) TaskFinished(id BuildId, b *Build, result *TaskResult) {
	j.write(map[string]interface{}{"task": map[string]interface{}{
		"id":   int(id),
		"done": result.Termination == TerminationSuccess,
	}})
}

func (j *JSONStatus) Log(msg string) {
	j.write(map[string]string{"log": msg})
}

func (j *JSONStatus) Finish() {
}
