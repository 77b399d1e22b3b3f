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
	"os"
	"os/signal"
	"sync/atomic"
)

// The first SIGINT also reaches the children through the terminal process
// group; they fail on their own and the scheduler reports that. We only
// record the fact and stop dispatching. A second SIGINT falls back to the
// default handler and kills the process.
var interrupted atomic.Bool

// installSigintHandler arranges for SIGINT to set the interrupted flag.
func installSigintHandler() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		interrupted.Store(true)
		signal.Stop(c)
	}()
}

// wasInterrupted is polled by the scheduler after each finished task.
func wasInterrupted() bool {
	return interrupted.Load()
}

// resetInterrupted is for tests only.
func resetInterrupted() {
	interrupted.Store(false)
}
