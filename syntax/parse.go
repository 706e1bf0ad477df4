package syntax

import (
	"fmt"
	"io"
	"os"
)

// ParseExpr parses an Ember expression.
// The src argument may be a string, a []byte, an io.Reader, or nil, in
// which case the named file is read.
func ParseExpr(filename string, src interface{}) (expr Expr, err error) {
	data, err := readSource(filename, src)
	if err != nil {
		return nil, err
	}

	p := parser{in: newScanner(filename, data)}
	defer p.recover(&err)

	p.nextToken()
	expr = p.parseTest()
	if p.tok != EOF {
		p.in.error(p.tokval.pos, fmt.Sprintf("got %s after expression, want EOF", p.tok))
	}
	return expr, nil
}

// readSource returns the source bytes of src, which may be a string,
// a []byte, an io.Reader, or nil (in which case filename is read).
func readSource(filename string, src interface{}) ([]byte, error) {
	switch src := src.(type) {
	case string:
		return []byte(src), nil
	case []byte:
		return src, nil
	case io.Reader:
		data, err := io.ReadAll(src)
		if err != nil {
			err = &os.PathError{Op: "read", Path: filename, Err: err}
			return nil, err
		}
		return data, nil
	case nil:
		return os.ReadFile(filename)
	default:
		return nil, fmt.Errorf("invalid source: %T", src)
	}
}

type parser struct {
	in     *scanner
	tok    Token
	tokval tokenValue
}

func (p *parser) recover(err *error) {
	if e := recover(); e != nil {
		if e, ok := e.(Error); ok {
			*err = e
			return
		}
		panic(e)
	}
}

func (p *parser) nextToken() Position {
	oldpos := p.tokval.pos
	p.tok = p.in.nextToken(&p.tokval)
	return oldpos
}

func (p *parser) consume(t Token) Position {
	if p.tok != t {
		p.in.error(p.tokval.pos, fmt.Sprintf("got %s, want %s", p.tok, t))
	}
	return p.nextToken()
}

// test = arith ('<' | '==') arith
func (p *parser) parseTest() Expr {
	x := p.parseArith()
	for p.tok == LT || p.tok == EQL {
		op := p.tok
		pos := p.nextToken()
		y := p.parseArith()
		x = &BinaryExpr{OpPos: pos, Op: op, X: x, Y: y}
	}
	return x
}

// arith = primary {('+' | '-') primary}
func (p *parser) parseArith() Expr {
	x := p.parsePrimaryWithSuffix()
	for p.tok == PLUS || p.tok == MINUS {
		op := p.tok
		pos := p.nextToken()
		y := p.parsePrimaryWithSuffix()
		x = &BinaryExpr{OpPos: pos, Op: op, X: x, Y: y}
	}
	return x
}

// primary_with_suffix = primary {'(' args ')'}
func (p *parser) parsePrimaryWithSuffix() Expr {
	x := p.parsePrimary()
	for p.tok == LPAREN {
		lparen := p.nextToken()
		args := p.parseExprList(RPAREN)
		rparen := p.consume(RPAREN)
		x = &CallExpr{Fn: x, Lparen: lparen, Args: args, Rparen: rparen}
	}
	return x
}

// primary = IDENT | INT | STRING | '[' exprs ']' | '(' test ')' | '-' INT
func (p *parser) parsePrimary() Expr {
	switch p.tok {
	case IDENT:
		name := p.tokval.raw
		pos := p.nextToken()
		return &Ident{NamePos: pos, Name: name}
	case INT:
		val := p.tokval
		p.nextToken()
		return &Literal{Token: INT, TokenPos: val.pos, Raw: val.raw, Value: val.int}
	case STRING:
		val := p.tokval
		p.nextToken()
		return &Literal{Token: STRING, TokenPos: val.pos, Raw: val.raw, Value: val.string}
	case MINUS:
		pos := p.nextToken()
		if p.tok != INT {
			p.in.error(pos, "unary minus applies only to int literals")
		}
		val := p.tokval
		p.nextToken()
		return &Literal{Token: INT, TokenPos: pos, Raw: "-" + val.raw, Value: -val.int}
	case LBRACK:
		lbrack := p.nextToken()
		list := p.parseExprList(RBRACK)
		rbrack := p.consume(RBRACK)
		return &ListExpr{Lbrack: lbrack, List: list, Rbrack: rbrack}
	case LPAREN:
		lparen := p.nextToken()
		x := p.parseTest()
		rparen := p.consume(RPAREN)
		return &ParenExpr{Lparen: lparen, X: x, Rparen: rparen}
	}
	p.in.error(p.tokval.pos, fmt.Sprintf("got %s, want primary expression", p.tok))
	panic("unreachable")
}

// exprs = [test {',' test} [',']]
func (p *parser) parseExprList(terminator Token) []Expr {
	var list []Expr
	for p.tok != terminator {
		list = append(list, p.parseTest())
		if p.tok != COMMA {
			break
		}
		p.nextToken()
	}
	return list
}
