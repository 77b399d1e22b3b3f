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
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// parseAll runs the parser over input and returns every statement.
func parseAll(t *testing.T, input string) []interface{} {
	t.Helper()
	p := newParser(withNul([]byte(input)))
	var out []interface{}
	for {
		stmt, err := p.read()
		if err != nil {
			t.Fatalf("parse: %s", formatParseError("input", withNul([]byte(input)), err))
		}
		if stmt == nil {
			return out
		}
		out = append(out, stmt)
	}
}

func parseOne(t *testing.T, input string) interface{} {
	t.Helper()
	stmts := parseAll(t, input)
	if len(stmts) != 1 {
		t.Fatalf("got %d statements, want 1", len(stmts))
	}
	return stmts[0]
}

func TestParseEmpty(t *testing.T) {
	if stmts := parseAll(t, ""); len(stmts) != 0 {
		t.Fatalf("got %d statements", len(stmts))
	}
}

func TestParseRule(t *testing.T) {
	r, ok := parseOne(t, "rule cat\n  command = cat $in > $out\n").(*parsedRule)
	if !ok {
		t.Fatal("not a rule")
	}
	if r.name != "cat" {
		t.Fatalf("name = %q", r.name)
	}
	if got := r.bindings.get("command").Serialize(); got != "[cat ][$in][ > ][$out]" {
		t.Fatalf("command = %q", got)
	}
}

func TestParseRuleAttributes(t *testing.T) {
	// All recognized rule keys parse.
	parseOne(t, "rule cat\n  command = a\n  depfile = a\n  deps = a\n  description = a\n"+
		"  generator = a\n  restat = a\n  rspfile = a\n  rspfile_content = a\n  pool = a\n"+
		"  msvc_deps_prefix = a\n")
}

func TestParseRuleUnknownKey(t *testing.T) {
	p := newParser(withNul([]byte("rule cat\n  commnd = cat\n")))
	if _, err := p.read(); err == nil || !strings.Contains(err.Error(), "unexpected variable") {
		t.Fatalf("err = %v", err)
	}
}

func TestParseBuildSections(t *testing.T) {
	b, ok := parseOne(t, "build o1 o2 | io1 : cc e1 e2 | i1 || oo1 oo2 |@ v1\n").(*parsedBuild)
	if !ok {
		t.Fatal("not a build")
	}
	if b.rule != "cc" {
		t.Fatalf("rule = %q", b.rule)
	}
	paths := func(es []*EvalString) []string {
		var out []string
		for _, e := range es {
			out = append(out, e.Evaluate(NewScope(nil)))
		}
		return out
	}
	if diff := cmp.Diff([]string{"o1", "o2", "io1"}, paths(b.outs)); diff != "" {
		t.Fatalf("outs: %s", diff)
	}
	if b.explicitOuts != 2 {
		t.Fatalf("explicitOuts = %d", b.explicitOuts)
	}
	if diff := cmp.Diff([]string{"e1", "e2", "i1", "oo1", "oo2"}, paths(b.ins)); diff != "" {
		t.Fatalf("ins: %s", diff)
	}
	if b.explicitIns != 2 || b.implicitIns != 1 || b.orderOnly != 2 {
		t.Fatalf("sections = %d/%d/%d", b.explicitIns, b.implicitIns, b.orderOnly)
	}
	if diff := cmp.Diff([]string{"v1"}, paths(b.validations)); diff != "" {
		t.Fatalf("validations: %s", diff)
	}
}

func TestParseBuildBindings(t *testing.T) {
	b := parseOne(t, "build out: cc in\n  flags = -O2\n").(*parsedBuild)
	if got := b.bindings.get("flags").Serialize(); got != "[-O2]" {
		t.Fatalf("flags = %q", got)
	}
}

func TestParseIndentedComments(t *testing.T) {
	stmts := parseAll(t, "  #indented comment\nrule cat\n  command = cat\n  #comment\nbuild out: cat in\n  #comment\n")
	if len(stmts) != 2 {
		t.Fatalf("got %d statements", len(stmts))
	}
}

func TestParseEscapes(t *testing.T) {
	b := parseOne(t, "build a$ b: cc c$:d\n  v = x$$y\n").(*parsedBuild)
	scope := NewScope(nil)
	if got := b.outs[0].Evaluate(scope); got != "a b" {
		t.Fatalf("out = %q", got)
	}
	if got := b.ins[0].Evaluate(scope); got != "c:d" {
		t.Fatalf("in = %q", got)
	}
	if got := b.bindings.get("v").Evaluate(scope); got != "x$y" {
		t.Fatalf("v = %q", got)
	}
}

func TestParseLineContinuation(t *testing.T) {
	b := parseOne(t, "build out: cc in\n  command = a $\n      b\n").(*parsedBuild)
	if got := b.bindings.get("command").Evaluate(NewScope(nil)); got != "a b" {
		t.Fatalf("command = %q", got)
	}
}

func TestParseVarRefs(t *testing.T) {
	stmt := parseOne(t, "x = ${foo}bar $baz\n").(*parsedBinding)
	if stmt.name != "x" {
		t.Fatalf("name = %q", stmt.name)
	}
	if got := stmt.value.Serialize(); got != "[$foo][bar ][$baz]" {
		t.Fatalf("value = %q", got)
	}
}

func TestParseVarRefStopsAtDot(t *testing.T) {
	// "$out.d" is $out followed by a literal ".d"; braces opt out.
	b := parseOne(t, "build out: cc in\n  depfile = $out.d\n  other = ${a.b}c\n").(*parsedBuild)
	if got := b.bindings.get("depfile").Serialize(); got != "[$out][.d]" {
		t.Fatalf("depfile = %q", got)
	}
	if got := b.bindings.get("other").Serialize(); got != "[$a.b][c]" {
		t.Fatalf("other = %q", got)
	}
}

func TestParsePool(t *testing.T) {
	p := parseOne(t, "pool link\n  depth = 3\n").(*parsedPool)
	if p.name != "link" {
		t.Fatalf("name = %q", p.name)
	}
	if got := p.depth.Evaluate(NewScope(nil)); got != "3" {
		t.Fatalf("depth = %q", got)
	}
}

func TestParsePoolMissingDepth(t *testing.T) {
	p := newParser(withNul([]byte("pool link\n")))
	if _, err := p.read(); err == nil || !strings.Contains(err.Error(), "depth") {
		t.Fatalf("err = %v", err)
	}
}

func TestParseDefaultAndIncludes(t *testing.T) {
	stmts := parseAll(t, "default a b\ninclude foo.ninja\nsubninja bar.ninja\n")
	d := stmts[0].(*parsedDefault)
	if len(d.targets) != 2 {
		t.Fatalf("targets = %d", len(d.targets))
	}
	inc := stmts[1].(*parsedInclude)
	if inc.newScope {
		t.Fatal("include must share scope")
	}
	sub := stmts[2].(*parsedInclude)
	if !sub.newScope {
		t.Fatal("subninja must get a child scope")
	}
}

func TestParseCRLF(t *testing.T) {
	b := parseOne(t, "build out: cc in\r\n  v = w\r\n").(*parsedBuild)
	if got := b.bindings.get("v").Evaluate(NewScope(nil)); got != "w" {
		t.Fatalf("v = %q", got)
	}
}

func TestParseComments(t *testing.T) {
	stmts := parseAll(t, "# a comment\nx = 1\n# another\n")
	if len(stmts) != 1 {
		t.Fatalf("got %d statements", len(stmts))
	}
}

func TestParseUnexpectedWhitespace(t *testing.T) {
	p := newParser(withNul([]byte("  x = 1\n")))
	if _, err := p.read(); err == nil || !strings.Contains(err.Error(), "unexpected whitespace") {
		t.Fatalf("err = %v", err)
	}
}
