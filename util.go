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
	"fmt"
	"os"
)

// Upper bound on the number of path components tracked while canonicalizing.
const maxPathComponents = 60

// CanonicalizePath lexically simplifies a /-separated path: runs of slashes
// collapse to one, "." components are dropped, and "foo/.." pairs cancel.
// Leading ".." components are preserved, as is "/.." stuck at the root.
// No disk access; paths like these mostly arise from variable expansion.
//
// Works in place on a copy of the input; the result can only shrink.
func CanonicalizePath(path string) string {
	if path == "" {
		return path
	}
	buf := []byte(path)
	// Offsets into buf where each copied component starts, so ".." can pop
	// back to the previous one.
	var components [maxPathComponents]int
	componentCount := 0

	src := 0
	dst := 0
	end := len(buf)

	if buf[src] == '/' {
		src++
		dst++
	}

	for src < end {
		switch buf[src] {
		case '/':
			src++
			continue
		case '.':
			peek := src + 1
			if peek == end {
				// Trailing ".", trim.
				src = end
				continue
			}
			if buf[peek] == '/' {
				// "./", skip.
				src += 2
				continue
			}
			if buf[peek] == '.' && (peek+1 == end || buf[peek+1] == '/') {
				// ".." component, back up if possible.
				if componentCount > 0 {
					componentCount--
					dst = components[componentCount]
				} else {
					buf[dst] = '.'
					buf[dst+1] = '.'
					dst += 2
					if peek+1 != end {
						buf[dst] = '/'
						dst++
					}
				}
				src += 3
				continue
			}
			// An ordinary component that happens to start with a dot.
		}

		if componentCount == maxPathComponents {
			fatalf("path has too many components: %s", path)
		}
		components[componentCount] = dst
		componentCount++

		// Copy one component, including its trailing slash.
		for src < end {
			buf[dst] = buf[src]
			src++
			dst++
			if buf[src-1] == '/' {
				break
			}
		}
	}
	return string(buf[:dst])
}

// fatalf reports an unrecoverable internal condition and exits.
func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "n2: fatal: "+format+"\n", args...)
	os.Exit(2)
}
