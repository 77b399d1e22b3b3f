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

import "fmt"

// Statements produced by the parser. Paths and values are unexpanded
// EvalStrings; the loader owns evaluation so that include/subninja scoping
// stays in one place.

type parsedRule struct {
	name     string
	line     int
	bindings lazyVars
}

type parsedBuild struct {
	lineNum      int
	rule         string
	outs         []*EvalString
	explicitOuts int
	ins          []*EvalString
	explicitIns  int
	implicitIns  int
	orderOnly    int
	validations  []*EvalString
	bindings     lazyVars
}

type parsedDefault struct {
	targets []*EvalString
	lineNum int
}

type parsedInclude struct {
	path *EvalString
	// A subninja gets a fresh child scope; an include shares the current one.
	newScope bool
}

type parsedPool struct {
	name    string
	depth   *EvalString
	lineNum int
}

type parsedBinding struct {
	name  string
	value *EvalString
}

// Keys a rule may bind. Anything else is a parse error; per-build bindings
// are unrestricted.
var ruleKnownKeys = map[string]bool{
	"command":          true,
	"depfile":          true,
	"deps":             true,
	"description":      true,
	"generator":        true,
	"msvc_deps_prefix": true,
	"pool":             true,
	"restat":           true,
	"rspfile":          true,
	"rspfile_content":  true,
}

// parser recognizes the ninja manifest dialect statement by statement.
// It does not touch the graph; the loader drives it.
type parser struct {
	scanner scanner
}

func newParser(buf []byte) parser {
	return parser{scanner: newScanner(buf)}
}

// read returns the next statement, or nil at end of input. The returned
// value is one of the parsed* types above.
func (p *parser) read() (interface{}, error) {
	for {
		switch c := p.scanner.peek(); c {
		case 0:
			return nil, nil
		case '\n':
			p.scanner.next()
		case '\r':
			p.scanner.next()
		case '#':
			p.skipComment()
		case ' ', '\t':
			// An indented line with no preceding statement is only valid
			// when it holds a comment.
			p.scanner.skipSpaces()
			for p.scanner.skip('\t') {
			}
			if p.scanner.peek() == '#' {
				p.skipComment()
				continue
			}
			return nil, p.scanner.parseError("unexpected whitespace")
		default:
			ident, err := p.readIdent()
			if err != nil {
				return nil, err
			}
			p.scanner.skipSpaces()
			switch ident {
			case "rule":
				return p.readRule()
			case "build":
				return p.readBuild()
			case "default":
				return p.readDefault()
			case "include":
				return p.readInclude(false)
			case "subninja":
				return p.readInclude(true)
			case "pool":
				return p.readPool()
			default:
				val, err := p.readVardef()
				if err != nil {
					return nil, err
				}
				return &parsedBinding{name: ident, value: val}, nil
			}
		}
	}
}

func (p *parser) skipComment() {
	for {
		switch p.scanner.peek() {
		case 0:
			return
		case '\n':
			p.scanner.next()
			return
		default:
			p.scanner.next()
		}
	}
}

// Rule, pool and binding names may contain dots; a bare $var reference may
// not ("$out.d" is $out followed by ".d", use ${out.d} otherwise).
func isIdentChar(c byte) bool {
	return isSimpleVarChar(c) || c == '.'
}

func isSimpleVarChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' || c == '_' || c == '-'
}

func (p *parser) readIdent() (string, error) {
	start := p.scanner.ofs
	for isIdentChar(p.scanner.peek()) {
		p.scanner.next()
	}
	end := p.scanner.ofs
	if end == start {
		return "", p.scanner.parseError("failed to scan ident")
	}
	return p.scanner.slice(start, end), nil
}

// readVardef consumes "= value" after the name has been read.
func (p *parser) readVardef() (*EvalString, error) {
	p.scanner.skipSpaces()
	if err := p.scanner.expect('='); err != nil {
		return nil, err
	}
	p.scanner.skipSpaces()
	return p.readEval()
}

// readScopedVars reads the indented "key = value" lines following a rule,
// build or pool statement. Indented comments are skipped.
func (p *parser) readScopedVars() (lazyVars, error) {
	var vars lazyVars
	for p.scanner.peek() == ' ' || p.scanner.peek() == '\t' {
		p.scanner.skipSpaces()
		for p.scanner.skip('\t') {
		}
		if p.scanner.peek() == '#' {
			p.skipComment()
			continue
		}
		if p.scanner.peek() == '\n' || p.scanner.peek() == '\r' {
			p.skipNewline()
			continue
		}
		name, err := p.readIdent()
		if err != nil {
			return vars, err
		}
		val, err := p.readVardef()
		if err != nil {
			return vars, err
		}
		vars.insert(name, val)
	}
	return vars, nil
}

func (p *parser) readRule() (*parsedRule, error) {
	line := p.scanner.line
	name, err := p.readIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectNewline(); err != nil {
		return nil, err
	}
	vars, err := p.readScopedVars()
	if err != nil {
		return nil, err
	}
	for _, key := range vars.keys {
		if !ruleKnownKeys[key] {
			return nil, p.scanner.parseError(fmt.Sprintf("unexpected variable %q on rule %q", key, name))
		}
	}
	return &parsedRule{name: name, line: line, bindings: vars}, nil
}

func (p *parser) readPool() (*parsedPool, error) {
	line := p.scanner.line
	name, err := p.readIdent()
	if err != nil {
		return nil, p.scanner.parseError("expected pool name")
	}
	if err := p.expectNewline(); err != nil {
		return nil, err
	}
	vars, err := p.readScopedVars()
	if err != nil {
		return nil, err
	}
	var depth *EvalString
	for i, key := range vars.keys {
		if key != "depth" {
			return nil, p.scanner.parseError(fmt.Sprintf("unexpected variable %q", key))
		}
		depth = vars.vals[i]
	}
	if depth == nil {
		return nil, p.scanner.parseError("expected 'depth =' line")
	}
	return &parsedPool{name: name, depth: depth, lineNum: line}, nil
}

func (p *parser) readDefault() (*parsedDefault, error) {
	line := p.scanner.line
	var targets []*EvalString
	for {
		p.scanner.skipSpaces()
		path, err := p.readPath()
		if err != nil {
			return nil, err
		}
		if path == nil {
			break
		}
		targets = append(targets, path)
	}
	if len(targets) == 0 {
		return nil, p.scanner.parseError("expected target")
	}
	if err := p.expectNewline(); err != nil {
		return nil, err
	}
	return &parsedDefault{targets: targets, lineNum: line}, nil
}

func (p *parser) readInclude(newScope bool) (*parsedInclude, error) {
	path, err := p.readPath()
	if err != nil {
		return nil, err
	}
	if path == nil {
		return nil, p.scanner.parseError("expected path")
	}
	if err := p.expectNewline(); err != nil {
		return nil, err
	}
	return &parsedInclude{path: path, newScope: newScope}, nil
}

func (p *parser) readBuild() (*parsedBuild, error) {
	b := &parsedBuild{lineNum: p.scanner.line}

	for {
		p.scanner.skipSpaces()
		path, err := p.readPath()
		if err != nil {
			return nil, err
		}
		if path == nil {
			break
		}
		b.outs = append(b.outs, path)
	}
	b.explicitOuts = len(b.outs)

	if p.scanner.skip('|') {
		for {
			p.scanner.skipSpaces()
			path, err := p.readPath()
			if err != nil {
				return nil, err
			}
			if path == nil {
				break
			}
			b.outs = append(b.outs, path)
		}
	}

	if err := p.scanner.expect(':'); err != nil {
		return nil, err
	}
	p.scanner.skipSpaces()
	rule, err := p.readIdent()
	if err != nil {
		return nil, err
	}
	b.rule = rule

	// Input sections: explicit, then any of "|" implicit, "||" order-only,
	// "|@" validation.
	type section int
	const (
		secExplicit section = iota
		secImplicit
		secOrderOnly
		secValidation
	)
	cur := secExplicit
	for {
		p.scanner.skipSpaces()
		if p.scanner.peek() == '|' {
			p.scanner.next()
			switch p.scanner.peek() {
			case '|':
				p.scanner.next()
				cur = secOrderOnly
			case '@':
				p.scanner.next()
				cur = secValidation
			default:
				cur = secImplicit
			}
			continue
		}
		path, err := p.readPath()
		if err != nil {
			return nil, err
		}
		if path == nil {
			break
		}
		switch cur {
		case secExplicit:
			b.ins = append(b.ins, path)
			b.explicitIns++
		case secImplicit:
			b.ins = append(b.ins, path)
			b.implicitIns++
		case secOrderOnly:
			b.ins = append(b.ins, path)
			b.orderOnly++
		case secValidation:
			b.validations = append(b.validations, path)
		}
	}

	if err := p.expectNewline(); err != nil {
		return nil, err
	}
	vars, err := p.readScopedVars()
	if err != nil {
		return nil, err
	}
	b.bindings = vars
	return b, nil
}

// readEval reads the value side of a binding up to end of line.
func (p *parser) readEval() (*EvalString, error) {
	out := &EvalString{}
	start := p.scanner.ofs
	for {
		switch p.scanner.peek() {
		case 0:
			out.addLiteral(p.scanner.slice(start, p.scanner.ofs))
			return out, nil
		case '\r':
			out.addLiteral(p.scanner.slice(start, p.scanner.ofs))
			p.scanner.next()
			if err := p.scanner.expect('\n'); err != nil {
				return nil, err
			}
			return out, nil
		case '\n':
			out.addLiteral(p.scanner.slice(start, p.scanner.ofs))
			p.scanner.next()
			return out, nil
		case '$':
			out.addLiteral(p.scanner.slice(start, p.scanner.ofs))
			p.scanner.next()
			if err := p.readEscape(out); err != nil {
				return nil, err
			}
			start = p.scanner.ofs
		default:
			p.scanner.next()
		}
	}
}

// readPath reads one path, expanding $-escapes into the EvalString, stopping
// at a delimiter. Returns nil when no path is present.
func (p *parser) readPath() (*EvalString, error) {
	out := &EvalString{}
	start := p.scanner.ofs
	for {
		switch p.scanner.peek() {
		case 0, ' ', ':', '|', '\n', '\r':
			out.addLiteral(p.scanner.slice(start, p.scanner.ofs))
			if out.empty() {
				return nil, nil
			}
			return out, nil
		case '$':
			out.addLiteral(p.scanner.slice(start, p.scanner.ofs))
			p.scanner.next()
			if err := p.readEscape(out); err != nil {
				return nil, err
			}
			start = p.scanner.ofs
		default:
			p.scanner.next()
		}
	}
}

// readEscape handles the text following a '$'.
func (p *parser) readEscape(out *EvalString) error {
	switch c := p.scanner.peek(); c {
	case '\n':
		// Line continuation: swallow the newline and leading whitespace.
		p.scanner.next()
		p.scanner.skipSpaces()
	case '\r':
		p.scanner.next()
		if err := p.scanner.expect('\n'); err != nil {
			return err
		}
		p.scanner.skipSpaces()
	case ' ', ':', '$':
		out.addLiteral(string(c))
		p.scanner.next()
	case '{':
		p.scanner.next()
		start := p.scanner.ofs
		for {
			switch p.scanner.peek() {
			case 0:
				return p.scanner.parseError("unexpected EOF")
			case '}':
				out.addVarRef(p.scanner.slice(start, p.scanner.ofs))
				p.scanner.next()
				return nil
			default:
				p.scanner.next()
			}
		}
	default:
		start := p.scanner.ofs
		for isSimpleVarChar(p.scanner.peek()) {
			p.scanner.next()
		}
		if p.scanner.ofs == start {
			return p.scanner.parseError("bad $-escape (literal $ must be written as $$)")
		}
		out.addVarRef(p.scanner.slice(start, p.scanner.ofs))
	}
	return nil
}

func (p *parser) skipNewline() {
	p.scanner.skip('\r')
	p.scanner.skip('\n')
}

func (p *parser) expectNewline() error {
	if p.scanner.peek() == 0 {
		return nil
	}
	p.scanner.skip('\r')
	return p.scanner.expect('\n')
}
