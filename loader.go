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
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Rule is a command template: a name plus unexpanded bindings, expanded per
// edge against the layered environment.
type Rule struct {
	Name     string
	bindings lazyVars
}

// LoadedState is everything the loader produces from one manifest tree.
type LoadedState struct {
	Graph    *Graph
	Defaults []FileId
	Pools    map[string]*Pool
	// BuildDir is the top-level $builddir binding, or "".
	BuildDir string
}

type loader struct {
	fs    FileSystem
	graph *Graph
	rules map[string]*Rule
	pools map[string]*Pool
	state *LoadedState
	warn  func(msg string)
}

// Load parses the manifest at path, following include and subninja
// statements, and returns the constructed graph. warn receives non-fatal
// diagnostics; nil discards them.
func Load(fs FileSystem, path string, warn func(string)) (*LoadedState, error) {
	if warn == nil {
		warn = func(string) {}
	}
	l := &loader{
		fs:    fs,
		graph: NewGraph(),
		rules: map[string]*Rule{},
		pools: map[string]*Pool{"console": NewPool("console", 1)},
		warn:  warn,
	}
	l.state = &LoadedState{Graph: l.graph, Pools: l.pools}
	root := NewScope(nil)
	if err := l.loadFile(path, root); err != nil {
		return nil, err
	}
	if dir, ok := root.Get("builddir"); ok {
		l.state.BuildDir = CanonicalizePath(dir)
	}
	return l.state, nil
}

func (l *loader) loadFile(path string, scope *Scope) error {
	buf, err := l.fs.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	buf = withNul(buf)
	p := newParser(buf)
	for {
		stmt, err := p.read()
		if err != nil {
			return errors.New(formatParseError(path, buf, err))
		}
		if stmt == nil {
			return nil
		}
		switch s := stmt.(type) {
		case *parsedBinding:
			scope.Set(s.name, s.value.Evaluate(scope))
		case *parsedRule:
			if err := l.addRule(s, path); err != nil {
				return err
			}
		case *parsedPool:
			if err := l.addPool(s, scope, path); err != nil {
				return err
			}
		case *parsedInclude:
			child := scope
			if s.newScope {
				child = NewScope(scope)
			}
			// Parsed immediately, before the rest of the current file.
			if err := l.loadFile(CanonicalizePath(s.path.Evaluate(scope)), child); err != nil {
				return err
			}
		case *parsedDefault:
			for _, t := range s.targets {
				name := CanonicalizePath(t.Evaluate(scope))
				id, ok := l.graph.Lookup(name)
				if !ok {
					return fmt.Errorf("%s:%d: unknown default target %q", path, s.lineNum, name)
				}
				l.state.Defaults = append(l.state.Defaults, id)
			}
		case *parsedBuild:
			if err := l.addBuild(s, scope, path); err != nil {
				return err
			}
		default:
			fatalf("unhandled statement %T", stmt)
		}
	}
}

func (l *loader) addRule(s *parsedRule, path string) error {
	if s.name == "phony" {
		return fmt.Errorf("%s:%d: cannot override built-in rule 'phony'", path, s.line)
	}
	if _, ok := l.rules[s.name]; ok {
		return fmt.Errorf("%s:%d: duplicate rule %q", path, s.line, s.name)
	}
	l.rules[s.name] = &Rule{Name: s.name, bindings: s.bindings}
	return nil
}

func (l *loader) addPool(s *parsedPool, scope *Scope, path string) error {
	if _, ok := l.pools[s.name]; ok {
		return fmt.Errorf("%s:%d: duplicate pool %q", path, s.lineNum, s.name)
	}
	depth, err := strconv.Atoi(s.depth.Evaluate(scope))
	if err != nil || depth < 0 {
		return fmt.Errorf("%s:%d: invalid pool depth", path, s.lineNum)
	}
	l.pools[s.name] = NewPool(s.name, depth)
	return nil
}

func (l *loader) addBuild(s *parsedBuild, scope *Scope, path string) error {
	loc := Location{Filename: path, Line: s.lineNum}

	var rule *Rule
	if s.rule != "phony" {
		var ok bool
		if rule, ok = l.rules[s.rule]; !ok {
			return fmt.Errorf("%s: unknown rule %q", loc, s.rule)
		}
	}

	// Evaluate and canonicalize output paths, recording a repeated path only
	// once.
	var outs BuildOuts
	seen := map[FileId]bool{}
	for i, es := range s.outs {
		name := CanonicalizePath(es.Evaluate(scope))
		id := l.graph.FileId(name)
		if seen[id] {
			l.warn(fmt.Sprintf("%s: %s is repeated in output list", loc, name))
			continue
		}
		seen[id] = true
		outs.Ids = append(outs.Ids, id)
		if i < s.explicitOuts {
			outs.Explicit++
		}
	}
	if len(outs.Ids) == 0 {
		return fmt.Errorf("%s: expected output path", loc)
	}
	if outs.Explicit == 0 && s.rule != "phony" {
		return fmt.Errorf("%s: need at least one explicit output", loc)
	}

	var ins BuildIns
	for i, es := range s.ins {
		id := l.graph.FileId(CanonicalizePath(es.Evaluate(scope)))
		ins.Ids = append(ins.Ids, id)
		switch {
		case i < s.explicitIns:
			ins.Explicit++
		case i < s.explicitIns+s.implicitIns:
			ins.Implicit++
		default:
			ins.OrderOnly++
		}
	}
	var validations []FileId
	for _, es := range s.validations {
		validations = append(validations, l.graph.FileId(CanonicalizePath(es.Evaluate(scope))))
	}

	b := Build{
		Location:    loc,
		Ins:         ins,
		Outs:        outs,
		Validations: validations,
	}

	env := &edgeEnv{
		scope:     scope,
		rule:      rule,
		edge:      &s.bindings,
		inStr:     l.joinNames(ins.Ids[:ins.Explicit], ' '),
		inNewline: l.joinNames(ins.Ids[:ins.Explicit], '\n'),
		outStr:    l.joinNames(outs.Ids[:outs.Explicit], ' '),
	}

	if rule != nil {
		b.CmdLine = env.lookup("command")
		if b.CmdLine == "" {
			return fmt.Errorf("%s: rule %q has no command", loc, rule.Name)
		}
		b.Desc = env.lookup("description")
		b.Depfile = env.lookup("depfile")
		if b.Depfile != "" {
			b.Depfile = CanonicalizePath(b.Depfile)
		}
		if rsp := env.lookup("rspfile"); rsp != "" {
			b.RspFile = &RspFile{
				Path:    CanonicalizePath(rsp),
				Content: env.lookup("rspfile_content"),
			}
		}
		switch deps := env.lookup("deps"); deps {
		case "", "gcc":
		case "msvc":
			b.ParseShowIncludes = true
		default:
			return fmt.Errorf("%s: unknown deps style %q", loc, deps)
		}
		b.Generator = env.lookup("generator") != ""
		b.Restat = env.lookup("restat") != ""
		if name := env.lookup("pool"); name != "" {
			pool, ok := l.pools[name]
			if !ok {
				return fmt.Errorf("%s: unknown pool name %q", loc, name)
			}
			b.Pool = pool
		}
	}
	b.HideProgress = env.lookup("hide_progress") != ""

	_, err := l.graph.AddBuild(b)
	return err
}

func (l *loader) joinNames(ids []FileId, sep byte) string {
	var out strings.Builder
	for i, id := range ids {
		if i > 0 {
			out.WriteByte(sep)
		}
		out.WriteString(l.graph.File(id).Name)
	}
	return out.String()
}

// edgeEnv layers variable lookup for one build statement: edge-local
// bindings, then the rule's recognized bindings, then the manifest scope
// active when the statement was parsed. $in/$out/$in_newline are
// materialized up front.
type edgeEnv struct {
	scope     *Scope
	rule      *Rule
	edge      *lazyVars
	inStr     string
	outStr    string
	inNewline string

	// Names currently being expanded, to cut self-referential bindings.
	expanding []string
}

func (e *edgeEnv) Get(name string) (string, bool) {
	switch name {
	case "in":
		return e.inStr, true
	case "out":
		return e.outStr, true
	case "in_newline":
		return e.inNewline, true
	}
	for _, n := range e.expanding {
		if n == name {
			return "", true
		}
	}
	if es := e.edge.get(name); es != nil {
		return e.expand(name, es), true
	}
	if e.rule != nil && ruleKnownKeys[name] {
		if es := e.rule.bindings.get(name); es != nil {
			return e.expand(name, es), true
		}
	}
	return e.scope.Get(name)
}

func (e *edgeEnv) expand(name string, es *EvalString) string {
	e.expanding = append(e.expanding, name)
	v := es.Evaluate(e)
	e.expanding = e.expanding[:len(e.expanding)-1]
	return v
}

func (e *edgeEnv) lookup(name string) string {
	v, _ := e.Get(name)
	return v
}

// RootOuts returns the produced files nothing consumes, the implicit targets
// when neither the command line nor the manifest names any.
func (g *Graph) RootOuts() []FileId {
	var roots []FileId
	for id := range g.Files {
		f := &g.Files[id]
		if f.Input != noBuild && len(f.Dependents) == 0 {
			roots = append(roots, FileId(id))
		}
	}
	return roots
}
