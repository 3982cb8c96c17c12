package jsonrepair

import (
	"fmt"
	"regexp"
)

// ============================================================================
// Token types
// ============================================================================

type tokenKind int

const (
	tkLBrace   tokenKind = iota // {
	tkRBrace                    // }
	tkLBrack                    // [
	tkRBrack                    // ]
	tkColon                     // :
	tkComma                     // ,
	tkString                    // "double-quoted", raw text kept
	tkNumber                    // -12.5e3
	tkLiteral                   // true, false, null
	tkEOF                       // end-of-input
)

var tokenNames = map[tokenKind]string{
	tkLBrace:  "'{'",
	tkRBrace:  "'}'",
	tkLBrack:  "'['",
	tkRBrack:  "']'",
	tkColon:   "':'",
	tkComma:   "','",
	tkString:  "string",
	tkNumber:  "number",
	tkLiteral: "literal",
	tkEOF:     "end of input",
}

func (k tokenKind) String() string {
	return tokenNames[k]
}

type token struct {
	kind  tokenKind
	value string
	line  int
	col   int
}

func (t token) describe() string {
	if t.kind == tkEOF {
		return t.kind.String()
	}
	return fmt.Sprintf("%s %q", t.kind, t.value)
}

// SyntaxError reports unrecoverable input with its 1-based position.
type SyntaxError struct {
	Line   int
	Column int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d, column %d: %s", e.Line, e.Column, e.Msg)
}

var numberPattern = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)

// ============================================================================
// Lexer / Tokenizer
// ============================================================================

type lexer struct {
	input string
	pos   int
	line  int
	col   int
}

func tokenize(input string) ([]token, error) {
	lx := &lexer{input: input, line: 1, col: 1}
	var tokens []token
	for {
		tok, err := lx.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.kind == tkEOF {
			return tokens, nil
		}
	}
}

func (lx *lexer) errorf(line, col int, format string, args ...interface{}) error {
	return &SyntaxError{Line: line, Column: col, Msg: fmt.Sprintf(format, args...)}
}

func (lx *lexer) advance() byte {
	ch := lx.input[lx.pos]
	lx.pos++
	if ch == '\n' {
		lx.line++
		lx.col = 1
	} else if ch < 0x80 || ch >= 0xC0 {
		// Continuation bytes do not start a new column.
		lx.col++
	}
	return ch
}

func (lx *lexer) next() (token, error) {
	for lx.pos < len(lx.input) && isSpace(lx.input[lx.pos]) {
		lx.advance()
	}

	line, col := lx.line, lx.col
	if lx.pos >= len(lx.input) {
		return token{kind: tkEOF, line: line, col: col}, nil
	}

	single := func(kind tokenKind) (token, error) {
		ch := lx.advance()
		return token{kind: kind, value: string(ch), line: line, col: col}, nil
	}

	ch := lx.input[lx.pos]
	switch {
	case ch == '{':
		return single(tkLBrace)
	case ch == '}':
		return single(tkRBrace)
	case ch == '[':
		return single(tkLBrack)
	case ch == ']':
		return single(tkRBrack)
	case ch == ':':
		return single(tkColon)
	case ch == ',':
		return single(tkComma)
	case ch == '"':
		return lx.lexString(line, col)
	case ch == '-' || (ch >= '0' && ch <= '9'):
		start := lx.pos
		for lx.pos < len(lx.input) && isNumberChar(lx.input[lx.pos]) {
			lx.advance()
		}
		text := lx.input[start:lx.pos]
		if !numberPattern.MatchString(text) {
			return token{}, lx.errorf(line, col, "invalid number %q", text)
		}
		return token{kind: tkNumber, value: text, line: line, col: col}, nil
	case isLetter(ch):
		start := lx.pos
		for lx.pos < len(lx.input) && isLetter(lx.input[lx.pos]) {
			lx.advance()
		}
		word := lx.input[start:lx.pos]
		switch word {
		case "true", "false", "null":
			return token{kind: tkLiteral, value: word, line: line, col: col}, nil
		}
		return token{}, lx.errorf(line, col, "unexpected token %q", word)
	}
	return token{}, lx.errorf(line, col, "unexpected character %q", ch)
}

// lexString scans a double-quoted string. Raw control characters are
// accepted here and escaped on output; escape sequences must be valid JSON.
func (lx *lexer) lexString(line, col int) (token, error) {
	start := lx.pos
	lx.advance()
	for lx.pos < len(lx.input) {
		eLine, eCol := lx.line, lx.col
		switch lx.advance() {
		case '"':
			return token{kind: tkString, value: lx.input[start:lx.pos], line: line, col: col}, nil
		case '\\':
			if lx.pos >= len(lx.input) {
				return token{}, lx.errorf(line, col, "unterminated string")
			}
			switch esc := lx.advance(); esc {
			case '"', '\\', '/', 'b', 'f', 'n', 'r', 't':
			case 'u':
				for i := 0; i < 4; i++ {
					if lx.pos >= len(lx.input) || !isHex(lx.input[lx.pos]) {
						return token{}, lx.errorf(eLine, eCol, "invalid unicode escape")
					}
					lx.advance()
				}
			default:
				return token{}, lx.errorf(eLine, eCol, "invalid escape sequence \\%c", esc)
			}
		}
	}
	return token{}, lx.errorf(line, col, "unterminated string")
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}

func isNumberChar(ch byte) bool {
	return (ch >= '0' && ch <= '9') || ch == '-' || ch == '+' || ch == '.' || ch == 'e' || ch == 'E'
}

func isLetter(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
}

func isHex(ch byte) bool {
	return (ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')
}
