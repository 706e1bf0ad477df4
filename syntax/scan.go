// Package syntax provides an Ember expression parser and abstract syntax tree.
package syntax

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// A Token represents an Ember lexical token.
type Token int8

const (
	ILLEGAL Token = iota
	EOF

	IDENT  // x
	INT    // 123
	STRING // "foo" or 'foo'

	PLUS   // +
	MINUS  // -
	LT     // <
	EQL    // ==
	COMMA  // ,
	LPAREN // (
	RPAREN // )
	LBRACK // [
	RBRACK // ]
)

var tokenNames = [...]string{
	ILLEGAL: "illegal token",
	EOF:     "end of file",
	IDENT:   "identifier",
	INT:     "int literal",
	STRING:  "string literal",
	PLUS:    "+",
	MINUS:   "-",
	LT:      "<",
	EQL:     "==",
	COMMA:   ",",
	LPAREN:  "(",
	RPAREN:  ")",
	LBRACK:  "[",
	RBRACK:  "]",
}

func (tok Token) String() string { return tokenNames[tok] }

// A Position describes the location of a rune of input.
type Position struct {
	file *string // filename (indirect for compactness)
	Line int32   // 1-based line number; 0 if line unknown
	Col  int32   // 1-based column (rune) number; 0 if column unknown
}

// IsValid reports whether the position is valid.
func (p Position) IsValid() bool { return p.file != nil }

// Filename returns the name of the file containing this position.
func (p Position) Filename() string {
	if p.file != nil {
		return *p.file
	}
	return "<invalid>"
}

// MakePosition returns position with the specified components.
func MakePosition(file *string, line, col int32) Position { return Position{file, line, col} }

func (p Position) String() string {
	file := p.Filename()
	if p.Line > 0 {
		if p.Col > 0 {
			return fmt.Sprintf("%s:%d:%d", file, p.Line, p.Col)
		}
		return fmt.Sprintf("%s:%d", file, p.Line)
	}
	return file
}

// An Error describes the nature and position of a scanner or parser error.
type Error struct {
	Pos Position
	Msg string
}

func (e Error) Error() string { return e.Pos.String() + ": " + e.Msg }

type scanner struct {
	rest  []byte
	token []byte
	pos   Position
}

type tokenValue struct {
	raw    string
	int    int64
	string string
	pos    Position
}

func newScanner(filename string, src []byte) *scanner {
	return &scanner{
		rest: src,
		pos:  MakePosition(&filename, 1, 1),
	}
}

func (sc *scanner) error(pos Position, s string) {
	panic(Error{pos, s})
}

func (sc *scanner) eof() bool { return len(sc.rest) == 0 }

func (sc *scanner) peekRune() rune {
	if len(sc.rest) == 0 {
		return 0
	}
	if b := sc.rest[0]; b < utf8.RuneSelf {
		return rune(b)
	}
	r, _ := utf8.DecodeRune(sc.rest)
	return r
}

func (sc *scanner) readRune() rune {
	if len(sc.rest) == 0 {
		sc.error(sc.pos, "internal scanner error: readRune at EOF")
	}
	r, n := rune(sc.rest[0]), 1
	if r >= utf8.RuneSelf {
		r, n = utf8.DecodeRune(sc.rest)
	}
	sc.rest = sc.rest[n:]
	if r == '\n' {
		sc.pos.Line++
		sc.pos.Col = 1
	} else {
		sc.pos.Col++
	}
	return r
}

func (sc *scanner) startToken(val *tokenValue) {
	sc.token = sc.rest
	val.raw = ""
	val.pos = sc.pos
}

func (sc *scanner) endToken(val *tokenValue) {
	if val.raw == "" {
		val.raw = string(sc.token[:len(sc.token)-len(sc.rest)])
	}
}

// nextToken is called by the parser to obtain the next input token.
func (sc *scanner) nextToken(val *tokenValue) Token {
	for {
		c := sc.peekRune()
		if c == '#' {
			for !sc.eof() && sc.peekRune() != '\n' {
				sc.readRune()
			}
			continue
		}
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			sc.readRune()
			continue
		}
		break
	}

	sc.startToken(val)
	if sc.eof() {
		return EOF
	}

	c := sc.peekRune()
	switch {
	case isIdentStart(c):
		for isIdent(sc.peekRune()) {
			sc.readRune()
		}
		sc.endToken(val)
		return IDENT
	case isDigit(c):
		for isDigit(sc.peekRune()) || sc.peekRune() == '_' {
			sc.readRune()
		}
		sc.endToken(val)
		i, err := strconv.ParseInt(strings.ReplaceAll(val.raw, "_", ""), 10, 64)
		if err != nil {
			sc.error(val.pos, fmt.Sprintf("invalid int literal %s", val.raw))
		}
		val.int = i
		return INT
	case c == '"' || c == '\'':
		return sc.scanString(val, c)
	}

	sc.readRune()
	switch c {
	case '+':
		return PLUS
	case '-':
		return MINUS
	case '<':
		return LT
	case ',':
		return COMMA
	case '(':
		return LPAREN
	case ')':
		return RPAREN
	case '[':
		return LBRACK
	case ']':
		return RBRACK
	case '=':
		if sc.peekRune() == '=' {
			sc.readRune()
			return EQL
		}
	}
	sc.error(val.pos, fmt.Sprintf("unexpected input character %#q", c))
	panic("unreachable")
}

func (sc *scanner) scanString(val *tokenValue, quote rune) Token {
	sc.readRune()
	for {
		if sc.eof() || sc.peekRune() == '\n' {
			sc.error(val.pos, "unexpected newline in string")
		}
		c := sc.readRune()
		if c == quote {
			break
		}
		if c == '\\' {
			if sc.eof() {
				sc.error(val.pos, "unexpected EOF in string")
			}
			sc.readRune()
		}
	}
	sc.endToken(val)

	raw := val.raw
	if quote == '\'' {
		raw = `"` + strings.ReplaceAll(raw[1:len(raw)-1], `"`, `\"`) + `"`
	}
	s, err := strconv.Unquote(raw)
	if err != nil {
		sc.error(val.pos, fmt.Sprintf("invalid string literal: %v", err))
	}
	val.string = s
	return STRING
}

func isDigit(c rune) bool { return '0' <= c && c <= '9' }

func isIdentStart(c rune) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || c == '_' || c >= utf8.RuneSelf && unicode.IsLetter(c)
}

func isIdent(c rune) bool { return isDigit(c) || isIdentStart(c) }
