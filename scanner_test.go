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
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestScannerBasics(t *testing.T) {
	s := newScanner([]byte("ab\ncd\x00"))
	if c := s.read(); c != 'a' {
		t.Fatalf("read = %q", c)
	}
	if c := s.peek(); c != 'b' {
		t.Fatalf("peek = %q", c)
	}
	s.next()
	if s.line != 1 {
		t.Fatalf("line = %d", s.line)
	}
	s.next() // consume newline
	if s.line != 2 {
		t.Fatalf("line = %d", s.line)
	}
	s.back()
	if s.line != 1 {
		t.Fatalf("line after back = %d", s.line)
	}
}

func TestFormatParseError(t *testing.T) {
	buf := []byte("first line\nsecond line here\n\x00")
	s := newScanner(buf)
	for s.peek() != 's' || s.ofs < 11 {
		s.next()
	}
	// Point at "second".
	err := s.parseError("boom")
	msg := formatParseError("test.ninja", buf, err)
	if !strings.Contains(msg, "parse error: boom") {
		t.Errorf("missing message: %q", msg)
	}
	if !strings.Contains(msg, "test.ninja:2: ") {
		t.Errorf("missing location: %q", msg)
	}
	if !strings.Contains(msg, "second line here") {
		t.Errorf("missing excerpt: %q", msg)
	}
	if !strings.Contains(msg, "^") {
		t.Errorf("missing caret: %q", msg)
	}
}

func TestFormatParseErrorTrimsLongLines(t *testing.T) {
	long := strings.Repeat("x", 100) + "HERE" + strings.Repeat("y", 100)
	buf := append([]byte(long), 0)
	err := &parseError{msg: "boom", ofs: 100}
	msg := formatParseError("f", buf, err)
	if !strings.Contains(msg, "...") {
		t.Errorf("expected trimming: %q", msg)
	}
}

func TestReadFileWithNul(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, []byte("hello"), 0o666); err != nil {
		t.Fatal(err)
	}
	buf, err := ReadFileWithNul(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hello\x00" {
		t.Fatalf("buf = %q", buf)
	}
}

func TestWithNul(t *testing.T) {
	if got := withNul([]byte("a")); string(got) != "a\x00" {
		t.Fatalf("withNul = %q", got)
	}
	in := []byte("a\x00")
	if got := withNul(in); &got[0] != &in[0] {
		t.Fatal("withNul copied an already terminated buffer")
	}
}
