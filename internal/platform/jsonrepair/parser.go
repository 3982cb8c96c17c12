// Package jsonrepair turns the near-JSON text produced by template rendering
// into strict JSON. Stray commas are tolerated, and empty strings, objects
// and arrays are dropped recursively. Structural damage that cannot be
// repaired is reported with its line and column.
package jsonrepair

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ehr/fhirconverter/internal/platform/fault"
)

const maxDepth = 512

// ============================================================================
// Parser: recursive descent
// ============================================================================

type parser struct {
	tokens []token
	pos    int
	depth  int
}

func (p *parser) peek() token {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return p.tokens[len(p.tokens)-1]
}

func (p *parser) advance() token {
	t := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind) (token, error) {
	t := p.advance()
	if t.kind != kind {
		return t, errorAt(t, "expected %s but got %s", kind, t.describe())
	}
	return t, nil
}

func (p *parser) skipCommas() {
	for p.peek().kind == tkComma {
		p.advance()
	}
}

func errorAt(t token, format string, args ...interface{}) *SyntaxError {
	return &SyntaxError{Line: t.line, Column: t.col, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) enter(t token) error {
	p.depth++
	if p.depth > maxDepth {
		return errorAt(t, "nesting deeper than %d levels", maxDepth)
	}
	return nil
}

func (p *parser) parseValue() (Node, error) {
	t := p.peek()
	switch t.kind {
	case tkLBrace:
		return p.parseObject()
	case tkLBrack:
		return p.parseArray()
	case tkString:
		p.advance()
		if t.value == `""` {
			return Absent{}, nil
		}
		return &Scalar{Raw: t.value}, nil
	case tkNumber, tkLiteral:
		p.advance()
		return &Scalar{Raw: t.value}, nil
	}
	return nil, errorAt(t, "expected a value but got %s", t.describe())
}

func (p *parser) parseObject() (Node, error) {
	open, err := p.expect(tkLBrace)
	if err != nil {
		return nil, err
	}
	if err := p.enter(open); err != nil {
		return nil, err
	}
	defer func() { p.depth-- }()

	obj := &Object{}
	for {
		p.skipCommas()
		if p.peek().kind == tkRBrace {
			p.advance()
			break
		}

		key, err := p.expect(tkString)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tkColon); err != nil {
			return nil, err
		}
		value, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		if value.Present() {
			obj.Members = append(obj.Members, Member{Key: key.value, Value: value})
		}

		switch next := p.peek(); next.kind {
		case tkComma, tkRBrace:
		case tkRBrack:
			return nil, errorAt(next, "mismatched ']' in object starting at line %d, column %d", open.line, open.col)
		case tkEOF:
			return nil, errorAt(next, "unterminated object starting at line %d, column %d", open.line, open.col)
		default:
			return nil, errorAt(next, "missing comma before %s", next.describe())
		}
	}

	if !obj.Present() {
		return Absent{}, nil
	}
	return obj, nil
}

func (p *parser) parseArray() (Node, error) {
	open, err := p.expect(tkLBrack)
	if err != nil {
		return nil, err
	}
	if err := p.enter(open); err != nil {
		return nil, err
	}
	defer func() { p.depth-- }()

	arr := &Array{}
	for {
		p.skipCommas()
		if p.peek().kind == tkRBrack {
			p.advance()
			break
		}

		value, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		if value.Present() {
			arr.Elements = append(arr.Elements, value)
		}

		switch next := p.peek(); next.kind {
		case tkComma, tkRBrack:
		case tkRBrace:
			return nil, errorAt(next, "mismatched '}' in array starting at line %d, column %d", open.line, open.col)
		case tkEOF:
			return nil, errorAt(next, "unterminated array starting at line %d, column %d", open.line, open.col)
		default:
			return nil, errorAt(next, "missing comma before %s", next.describe())
		}
	}

	if !arr.Present() {
		return Absent{}, nil
	}
	return arr, nil
}

// Parse builds the repaired tree of text. The top level must be an object.
func Parse(text string) (Node, error) {
	text = strings.TrimPrefix(text, "\ufeff")
	tokens, err := tokenize(text)
	if err != nil {
		return nil, fault.Wrap(fault.JSONParsingError, err, "")
	}

	p := &parser{tokens: tokens}
	node, err := p.parseObject()
	if err != nil {
		return nil, fault.Wrap(fault.JSONParsingError, err, "")
	}
	if t := p.peek(); t.kind != tkEOF {
		return nil, fault.Wrap(fault.JSONParsingError, errorAt(t, "unexpected %s after top-level object", t.describe()), "")
	}
	return node, nil
}

// Repair returns text as strict JSON with empty values removed.
func Repair(text string) (string, error) {
	node, err := Parse(text)
	if err != nil {
		return "", err
	}
	return Render(node), nil
}

// ParseJSON repairs text and decodes it. Numbers are kept as json.Number
// so their textual form survives.
func ParseJSON(text string) (map[string]interface{}, error) {
	repaired, err := Repair(text)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(repaired)))
	dec.UseNumber()
	var out map[string]interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, fault.Wrap(fault.JSONParsingError, err, "decode repaired json")
	}
	return out, nil
}
