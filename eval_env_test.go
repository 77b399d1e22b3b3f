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

import "testing"

func TestEvalStringEvaluate(t *testing.T) {
	var e EvalString
	e.addLiteral("cc ")
	e.addVarRef("in")
	e.addLiteral(" -o ")
	e.addVarRef("out")

	scope := NewScope(nil)
	scope.Set("in", "a.c")
	scope.Set("out", "a.o")
	if got := e.Evaluate(scope); got != "cc a.c -o a.o" {
		t.Fatalf("Evaluate = %q", got)
	}
	if got := e.Serialize(); got != "[cc ][$in][ -o ][$out]" {
		t.Fatalf("Serialize = %q", got)
	}
}

func TestEvalStringMissingVarIsEmpty(t *testing.T) {
	var e EvalString
	e.addLiteral("x")
	e.addVarRef("nope")
	e.addLiteral("y")
	if got := e.Evaluate(NewScope(nil)); got != "xy" {
		t.Fatalf("Evaluate = %q", got)
	}
}

func TestScopeShadowing(t *testing.T) {
	parent := NewScope(nil)
	parent.Set("a", "1")
	parent.Set("b", "2")
	child := NewScope(parent)
	child.Set("a", "override")

	if v, _ := child.Get("a"); v != "override" {
		t.Fatalf("child a = %q", v)
	}
	if v, _ := child.Get("b"); v != "2" {
		t.Fatalf("child b = %q", v)
	}
	// Child bindings must not leak up.
	if v, _ := parent.Get("a"); v != "1" {
		t.Fatalf("parent a = %q", v)
	}
}

func TestLazyVarsLastWins(t *testing.T) {
	var l lazyVars
	first := &EvalString{}
	first.addLiteral("first")
	second := &EvalString{}
	second.addLiteral("second")
	l.insert("command", first)
	l.insert("command", second)
	if got := l.get("command"); got != second {
		t.Fatal("expected the second binding to win")
	}
	if l.get("missing") != nil {
		t.Fatal("expected nil for missing key")
	}
}
