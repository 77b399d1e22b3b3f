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

//go:build !windows

package n2

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// runCommand spawns "/bin/sh -c cmdline" with stdin on /dev/null and stdout
// and stderr merged onto a single pipe, streaming chunks to outputCb as they
// arrive. The child stays in our process group so a terminal SIGINT reaches
// it directly.
func runCommand(cmdline string, outputCb func([]byte)) (Termination, error) {
	cmd := exec.Command("/bin/sh", "-c", cmdline)
	r, w, err := os.Pipe()
	if err != nil {
		return TerminationFailure, err
	}
	cmd.Stdout = w
	cmd.Stderr = w
	// Stdin nil means the child reads from /dev/null.
	if err := cmd.Start(); err != nil {
		w.Close()
		r.Close()
		return TerminationFailure, fmt.Errorf("spawn: %s: %w", cmdline, err)
	}
	// The child holds the write end now; drop ours so the read loop sees
	// EOF when the child exits.
	w.Close()

	buf := make([]byte, 4<<10)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			outputCb(buf[:n])
		}
		if err != nil {
			break
		}
	}
	r.Close()

	err = cmd.Wait()
	if err == nil {
		return TerminationSuccess, nil
	}
	var exit *exec.ExitError
	if errors.As(err, &exit) {
		if ws, ok := exit.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			if ws.Signal() == syscall.SIGINT {
				outputCb([]byte("interrupted"))
				return TerminationInterrupted, nil
			}
			outputCb([]byte(fmt.Sprintf("signal %d", ws.Signal())))
		}
		return TerminationFailure, nil
	}
	return TerminationFailure, err
}
