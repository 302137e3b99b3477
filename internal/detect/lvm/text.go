package lvm

import (
	"fmt"
	"strconv"
	"strings"
)

// Value is a metadata value: a string, an integer or a list of values
type Value struct {
	Str   string
	Int   int64
	List  []Value
	IsInt bool
	// IsList distinguishes an empty list from an empty string
	IsList bool
}

// Section is a named block of assignments and child sections. Children keep
// their on-disk order.
type Section struct {
	Name     string
	Fields   map[string]Value
	Children []*Section
}

// Child returns the first child section called name
func (s *Section) Child(name string) *Section {
	for _, c := range s.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (s *Section) String(key string) (string, bool) {
	v, ok := s.Fields[key]
	if !ok || v.IsInt || v.IsList {
		return "", false
	}
	return v.Str, true
}

func (s *Section) Int(key string) (int64, bool) {
	v, ok := s.Fields[key]
	if !ok || !v.IsInt {
		return 0, false
	}
	return v.Int, true
}

// Uint returns a non-negative integer field
func (s *Section) Uint(key string) (uint64, bool) {
	n, ok := s.Int(key)
	if !ok || n < 0 {
		return 0, false
	}
	return uint64(n), true
}

func (s *Section) List(key string) ([]Value, bool) {
	v, ok := s.Fields[key]
	if !ok || !v.IsList {
		return nil, false
	}
	return v.List, true
}

// HasFlag reports whether the string list key contains flag
func (s *Section) HasFlag(key, flag string) bool {
	list, _ := s.List(key)
	for _, v := range list {
		if !v.IsInt && !v.IsList && v.Str == flag {
			return true
		}
	}
	return false
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	line int
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of metadata"
	}
	return fmt.Sprintf("%q", t.text)
}

type lexer struct {
	src  string
	pos  int
	line int
}

func isIdentByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '_' || c == '.' || c == '+' || c == '-'
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '\n':
			l.line++
			l.pos++
		case c == ' ' || c == '\t' || c == '\r':
			l.pos++
		case c == '#':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
		case c == 0:
			// the metadata buffer is NUL padded
			l.pos = len(l.src)
		default:
			return l.token(c)
		}
	}
	return token{kind: tokEOF, line: l.line}, nil
}

func (l *lexer) token(c byte) (token, error) {
	start := l.pos
	switch {
	case strings.IndexByte("{}[]=,", c) >= 0:
		l.pos++
		return token{kind: tokPunct, text: string(c), line: l.line}, nil
	case c == '"':
		var b strings.Builder
		l.pos++
		for l.pos < len(l.src) {
			c := l.src[l.pos]
			switch c {
			case '"':
				l.pos++
				return token{kind: tokString, text: b.String(), line: l.line}, nil
			case '\\':
				l.pos++
				if l.pos < len(l.src) {
					b.WriteByte(l.src[l.pos])
				}
			case '\n':
				l.line++
				b.WriteByte(c)
			default:
				b.WriteByte(c)
			}
			l.pos++
		}
		return token{}, fmt.Errorf("line %d: unterminated string", l.line)
	case isIdentByte(c):
		for l.pos < len(l.src) && isIdentByte(l.src[l.pos]) {
			l.pos++
		}
		text := l.src[start:l.pos]
		if _, err := strconv.ParseInt(text, 10, 64); err == nil {
			return token{kind: tokNumber, text: text, line: l.line}, nil
		}
		return token{kind: tokIdent, text: text, line: l.line}, nil
	}
	return token{}, fmt.Errorf("line %d: unexpected character %q", l.line, c)
}

type parser struct {
	lex lexer
	tok token
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) expect(punct string) error {
	if p.tok.kind != tokPunct || p.tok.text != punct {
		return fmt.Errorf("line %d: expected %q, got %s", p.tok.line, punct, p.tok)
	}
	return p.advance()
}

// ParseText parses LVM2 text metadata into an unnamed root section
func ParseText(src string) (*Section, error) {
	p := &parser{lex: lexer{src: src, line: 1}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	root, err := p.body("", 0)
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, fmt.Errorf("line %d: unexpected %s", p.tok.line, p.tok)
	}
	return root, nil
}

// maxNesting caps section depth; real metadata goes four levels deep
const maxNesting = 16

// body parses items until a closing brace or the end of input
func (p *parser) body(name string, depth int) (*Section, error) {
	if depth > maxNesting {
		return nil, fmt.Errorf("line %d: sections nested too deep", p.tok.line)
	}
	s := &Section{Name: name, Fields: map[string]Value{}}
	for p.tok.kind == tokIdent || p.tok.kind == tokNumber {
		key := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		switch {
		case p.tok.kind == tokPunct && p.tok.text == "=":
			if err := p.advance(); err != nil {
				return nil, err
			}
			v, err := p.value(0)
			if err != nil {
				return nil, err
			}
			s.Fields[key] = v
		case p.tok.kind == tokPunct && p.tok.text == "{":
			if err := p.advance(); err != nil {
				return nil, err
			}
			child, err := p.body(key, depth+1)
			if err != nil {
				return nil, err
			}
			if err := p.expect("}"); err != nil {
				return nil, err
			}
			s.Children = append(s.Children, child)
		default:
			return nil, fmt.Errorf("line %d: expected '=' or '{' after %q, got %s", p.tok.line, key, p.tok)
		}
	}
	return s, nil
}

func (p *parser) value(depth int) (Value, error) {
	if depth > maxNesting {
		return Value{}, fmt.Errorf("line %d: lists nested too deep", p.tok.line)
	}
	t := p.tok
	switch {
	case t.kind == tokString:
		return Value{Str: t.text}, p.advance()
	case t.kind == tokNumber:
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("line %d: %w", t.line, err)
		}
		return Value{Int: n, IsInt: true}, p.advance()
	case t.kind == tokPunct && t.text == "[":
		if err := p.advance(); err != nil {
			return Value{}, err
		}
		v := Value{IsList: true}
		for !(p.tok.kind == tokPunct && p.tok.text == "]") {
			if len(v.List) > 0 {
				if err := p.expect(","); err != nil {
					return Value{}, err
				}
			}
			item, err := p.value(depth + 1)
			if err != nil {
				return Value{}, err
			}
			v.List = append(v.List, item)
		}
		return v, p.advance()
	}
	return Value{}, fmt.Errorf("line %d: expected a value, got %s", t.line, t)
}
