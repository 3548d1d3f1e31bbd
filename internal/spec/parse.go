package spec

import (
	"fmt"
	"strings"

	"github.com/vjranagit/spack-sub003/internal/version"
)

// ParseError reports malformed spec text.
type ParseError struct {
	Input string
	Pos   int
	Msg   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("spec: parse %q at offset %d: %s", e.Input, e.Pos, e.Msg)
}

// Parse parses a spec expression:
//
//	name@versions +v ~v v=x v=x,y %compiler@versions arch=p-o-t ^[virtuals=a deptypes=b] dep...
//
// Every ^ dependency constrains the root's DAG; dependencies do not nest.
func Parse(input string) (*Spec, error) {
	p := &parser{in: input}
	if strings.TrimSpace(input) == "" {
		return nil, p.errorf("empty spec")
	}
	root, err := p.node(true)
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpace()
		if p.eof() {
			break
		}
		if p.peek() != '^' {
			return nil, p.errorf("unexpected %q", p.peek())
		}
		p.pos++
		dep, err := p.dependency()
		if err != nil {
			return nil, err
		}
		if prev := root.Dependency(dep.Spec.Name); prev != nil {
			merged, mErr := Merge(prev.Spec, dep.Spec)
			if mErr != nil {
				return nil, p.errorf("%v", mErr)
			}
			prev.Spec = merged
			prev.Types |= dep.Types
			prev.Virtuals = unionStrings(prev.Virtuals, dep.Virtuals)
			continue
		}
		root.Deps = append(root.Deps, dep)
	}
	return root, nil
}

// MustParse is like Parse but panics on error.
func MustParse(input string) *Spec {
	s, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return s
}

type parser struct {
	in  string
	pos int
}

func (p *parser) eof() bool  { return p.pos >= len(p.in) }
func (p *parser) peek() byte { return p.in[p.pos] }

func (p *parser) errorf(format string, args ...any) *ParseError {
	return &ParseError{Input: p.in, Pos: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) skipSpace() {
	for !p.eof() && isSpace(p.peek()) {
		p.pos++
	}
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' }

func isIdent(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-' || c == '.'
}

func (p *parser) ident() string {
	start := p.pos
	for !p.eof() && isIdent(p.peek()) {
		p.pos++
	}
	return p.in[start:p.pos]
}

// until consumes up to whitespace or any byte in stop.
func (p *parser) until(stop string) string {
	start := p.pos
	for !p.eof() && !isSpace(p.peek()) && !strings.ContainsRune(stop, rune(p.peek())) {
		p.pos++
	}
	return p.in[start:p.pos]
}

func (p *parser) versions() (version.List, error) {
	start := p.pos
	raw := p.until("+~%^")
	if raw == "" {
		return version.List{}, &ParseError{Input: p.in, Pos: start, Msg: "expected version after @"}
	}
	l, err := version.ParseList(raw)
	if err != nil {
		return version.List{}, &ParseError{Input: p.in, Pos: start, Msg: err.Error()}
	}
	return l, nil
}

// node parses one node's attributes, stopping at ^ or end of input.
func (p *parser) node(allowAnonymous bool) (*Spec, error) {
	s := &Spec{}
	first := true
	for {
		p.skipSpace()
		if p.eof() || p.peek() == '^' {
			break
		}
		c := p.peek()
		switch {
		case c == '@':
			p.pos++
			if !s.Versions.IsAny() {
				return nil, p.errorf("version constraint given twice")
			}
			l, err := p.versions()
			if err != nil {
				return nil, err
			}
			if l.IsAny() {
				break
			}
			s.Versions = l
		case c == '+' || c == '~':
			p.pos++
			name := p.ident()
			if name == "" {
				return nil, p.errorf("expected variant name after %q", c)
			}
			if prev, ok := s.Variants[name]; ok && prev.String() != BoolVariant(name, c == '+').String() {
				return nil, p.errorf("variant %q given conflicting values", name)
			}
			s.SetVariant(BoolVariant(name, c == '+'))
		case c == '%':
			p.pos++
			name := p.ident()
			if name == "" {
				return nil, p.errorf("expected compiler name after %%")
			}
			if s.Compiler != nil {
				return nil, p.errorf("compiler given twice")
			}
			cs := &CompilerSpec{Name: name}
			if !p.eof() && p.peek() == '@' {
				p.pos++
				l, err := p.versions()
				if err != nil {
					return nil, err
				}
				cs.Versions = l
			}
			s.Compiler = cs
		case isIdent(c):
			start := p.pos
			word := p.ident()
			if !p.eof() && p.peek() == '=' {
				p.pos++
				value := p.until("^")
				if value == "" {
					return nil, &ParseError{Input: p.in, Pos: start, Msg: fmt.Sprintf("expected value for %q", word)}
				}
				if err := s.setKey(word, value); err != nil {
					return nil, &ParseError{Input: p.in, Pos: start, Msg: err.Error()}
				}
				break
			}
			if !first || s.Name != "" {
				return nil, &ParseError{Input: p.in, Pos: start, Msg: fmt.Sprintf("unexpected name %q", word)}
			}
			s.Name = word
		default:
			return nil, p.errorf("unexpected %q", c)
		}
		first = false
	}
	if s.Name == "" && !allowAnonymous {
		return nil, p.errorf("dependency must be named")
	}
	return s, nil
}

func (s *Spec) setKey(key, value string) error {
	switch key {
	case "arch":
		a, err := ParseArch(value)
		if err != nil {
			return err
		}
		merged, field, ok := mergeArch(s.Arch, a)
		if !ok {
			return fmt.Errorf("conflicting %s", field)
		}
		s.Arch = merged
	case "platform", "os", "target":
		a := Arch{}
		switch key {
		case "platform":
			a.Platform = value
		case "os":
			a.OS = value
		default:
			a.Target = value
		}
		merged, field, ok := mergeArch(s.Arch, a)
		if !ok {
			return fmt.Errorf("conflicting %s", field)
		}
		s.Arch = merged
	default:
		if _, ok := s.Variants[key]; ok {
			return fmt.Errorf("variant %q given twice", key)
		}
		values := strings.Split(value, ",")
		for _, v := range values {
			if v == "" {
				return fmt.Errorf("empty value for variant %q", key)
			}
		}
		v := NewVariant(key, values...)
		if len(v.Values) == 1 {
			switch v.Values[0] {
			case "true", "True":
				v = BoolVariant(key, true)
			case "false", "False":
				v = BoolVariant(key, false)
			}
		}
		s.SetVariant(v)
	}
	return nil
}

func (p *parser) dependency() (*Dependency, error) {
	d := &Dependency{}
	p.skipSpace()
	if !p.eof() && p.peek() == '[' {
		p.pos++
		for {
			p.skipSpace()
			if p.eof() {
				return nil, p.errorf("unterminated edge qualifier")
			}
			if p.peek() == ']' {
				p.pos++
				break
			}
			start := p.pos
			key := p.ident()
			if key == "" || p.eof() || p.peek() != '=' {
				return nil, &ParseError{Input: p.in, Pos: start, Msg: "expected key=value in edge qualifier"}
			}
			p.pos++
			value := p.until("]")
			values := strings.Split(value, ",")
			switch key {
			case "virtuals":
				d.Virtuals = unionStrings(d.Virtuals, values)
			case "deptypes":
				t, err := ParseDepTypes(values)
				if err != nil {
					return nil, &ParseError{Input: p.in, Pos: start, Msg: err.Error()}
				}
				d.Types |= t
			default:
				return nil, &ParseError{Input: p.in, Pos: start, Msg: fmt.Sprintf("unknown edge qualifier %q", key)}
			}
		}
	}
	s, err := p.node(false)
	if err != nil {
		return nil, err
	}
	d.Spec = s
	return d, nil
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string(nil), a...), b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
