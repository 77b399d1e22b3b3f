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

import "strings"

// Env resolves variable references during expansion. A missing variable
// expands to the empty string, so Get reports presence separately for the
// callers that care.
type Env interface {
	Get(name string) (string, bool)
}

// evalPart is one token of an EvalString: literal text or a $variable
// reference.
type evalPart struct {
	text   string
	varRef bool
}

// EvalString is a parsed but unexpanded string with embedded variable
// references, e.g. "cc $in -o $out". Rule bindings stay in this form because
// each edge using the rule expands them differently.
type EvalString struct {
	parts []evalPart
}

func (e *EvalString) addLiteral(s string) {
	if s != "" {
		e.parts = append(e.parts, evalPart{text: s})
	}
}

func (e *EvalString) addVarRef(name string) {
	e.parts = append(e.parts, evalPart{text: name, varRef: true})
}

func (e *EvalString) empty() bool {
	return len(e.parts) == 0
}

// Evaluate expands the string against env.
func (e *EvalString) Evaluate(env Env) string {
	var out strings.Builder
	for _, p := range e.parts {
		if !p.varRef {
			out.WriteString(p.text)
			continue
		}
		if v, ok := env.Get(p.text); ok {
			out.WriteString(v)
		}
	}
	return out.String()
}

// Serialize renders the parsed form for tests and diagnostics, e.g.
// "[cc ][$in][ -o ][$out]".
func (e *EvalString) Serialize() string {
	var out strings.Builder
	for _, p := range e.parts {
		out.WriteByte('[')
		if p.varRef {
			out.WriteByte('$')
		}
		out.WriteString(p.text)
		out.WriteByte(']')
	}
	return out.String()
}

// Scope is one level of eagerly evaluated bindings. Top-level manifest
// bindings are evaluated at parse time against the scope then in effect;
// subninja introduces a child scope whose bindings do not leak out.
type Scope struct {
	vars   map[string]string
	parent *Scope
}

func NewScope(parent *Scope) *Scope {
	return &Scope{vars: map[string]string{}, parent: parent}
}

func (s *Scope) Set(name, value string) {
	s.vars[name] = value
}

func (s *Scope) Get(name string) (string, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if v, ok := sc.vars[name]; ok {
			return v, true
		}
	}
	return "", false
}

// lazyVars is a scope's worth of unexpanded bindings, as attached to rules
// and build statements. Order is preserved; lists are tiny in practice.
type lazyVars struct {
	keys []string
	vals []*EvalString
}

func (l *lazyVars) insert(key string, val *EvalString) {
	for i, k := range l.keys {
		if k == key {
			l.vals[i] = val
			return
		}
	}
	l.keys = append(l.keys, key)
	l.vals = append(l.vals, val)
}

func (l *lazyVars) get(key string) *EvalString {
	for i, k := range l.keys {
		if k == key {
			return l.vals[i]
		}
	}
	return nil
}
