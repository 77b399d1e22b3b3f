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

// Depfile parsing: the Makefile fragment emitted by gcc -M and friends,
// "target: dep1 dep2 ...". Backslash-newline continues the line; spaces
// separate paths. We follow what gcc/clang produce rather than full
// Makefile quoting: "\ " escapes a space within a path, a lone backslash
// before a newline is a continuation, anything else passes through.

// depfileDeps is one parsed depfile rule.
type depfileDeps struct {
	target string
	deps   []string
}

// parseDepfile parses buf, which must be nul-terminated.
func parseDepfile(buf []byte) (depfileDeps, error) {
	s := newScanner(buf)
	var out depfileDeps

	target := readDepfilePath(&s)
	if target == "" {
		return out, s.parseError("expected target")
	}
	out.target = target
	if err := s.expect(':'); err != nil {
		return out, err
	}
	for {
		p := readDepfilePath(&s)
		if p == "" {
			break
		}
		out.deps = append(out.deps, p)
	}
	skipDepfileSpace(&s)
	for s.peek() == '\n' || s.peek() == '\r' {
		s.next()
	}
	if s.peek() != 0 {
		return out, s.parseError("trailing garbage after dependency list")
	}
	return out, nil
}

func skipDepfileSpace(s *scanner) {
	for {
		switch s.peek() {
		case ' ', '\t':
			s.next()
		case '\\':
			// Backslash-newline is a continuation.
			s.next()
			if s.peek() == '\r' {
				s.next()
			}
			if s.peek() == '\n' {
				s.next()
				continue
			}
			s.back()
			return
		case '\r':
			// A newline inside the rule only continues it after a backslash,
			// but tolerate blank leading lines.
			return
		default:
			return
		}
	}
}

func readDepfilePath(s *scanner) string {
	skipDepfileSpace(s)
	var path []byte
	for {
		switch c := s.peek(); c {
		case 0, ' ', '\t', ':', '\n', '\r':
			return string(path)
		case '\\':
			s.next()
			switch s.peek() {
			case '\n':
				// Continuation; ends the current path.
				s.back()
				return string(path)
			case '\r':
				s.back()
				return string(path)
			case ' ':
				path = append(path, ' ')
				s.next()
			default:
				path = append(path, '\\')
			}
		default:
			path = append(path, c)
			s.next()
		}
	}
}
