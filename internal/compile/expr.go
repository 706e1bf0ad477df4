package compile

import (
	"fmt"

	"github.com/canonical/ember/syntax"
)

// Expr compiles an expression into a program whose toplevel function
// evaluates it. Free identifiers other than None, True and False must
// satisfy isPredeclared.
//
// A list literal [e1, ..., en] is lowered to a chain of n nested cell
// constructors: the constructor for ek evaluates ek, calls the
// constructor for ek+1 and conses ek onto its result. Each element thus
// costs one call frame and one cell allocation at run time.
func Expr(expr syntax.Expr, filename string, isPredeclared func(string) bool) (prog *Program, err error) {
	c := &compiler{
		prog:          NewProgram(filename),
		isPredeclared: isPredeclared,
	}
	defer func() {
		if e := recover(); e != nil {
			if e, ok := e.(syntax.Error); ok {
				prog, err = nil, e
				return
			}
			panic(e)
		}
	}()

	b := c.prog.NewToplevel(expr.Span(), 0)
	c.expr(b, expr)
	b.Emit(RETURN)
	if _, err := b.Finish(); err != nil {
		return nil, err
	}
	return c.prog, nil
}

type compiler struct {
	prog          *Program
	isPredeclared func(string) bool
}

func (c *compiler) errorf(pos syntax.Position, format string, args ...interface{}) {
	panic(syntax.Error{Pos: pos, Msg: fmt.Sprintf(format, args...)})
}

func (c *compiler) expr(b *Builder, e syntax.Expr) {
	switch e := e.(type) {
	case *syntax.ParenExpr:
		c.expr(b, e.X)

	case *syntax.Ident:
		b.SetPosition(e.NamePos)
		switch e.Name {
		case "None":
			b.Emit(NONE)
		case "True":
			b.Emit(TRUE)
		case "False":
			b.Emit(FALSE)
		default:
			if c.isPredeclared == nil || !c.isPredeclared(e.Name) {
				c.errorf(e.NamePos, "undefined: %s", e.Name)
			}
			b.Predeclared(e.Name)
		}

	case *syntax.Literal:
		b.SetPosition(e.TokenPos)
		b.Constant(e.Value)

	case *syntax.ListExpr:
		if len(e.List) == 0 {
			b.SetPosition(e.Lbrack)
			b.Emit(NIL)
			return
		}
		cell := c.listCell(e.List, e.Lbrack)
		b.SetPosition(e.Lbrack)
		b.EmitArg(MAKEFUNC, cell)
		b.EmitArg(CALL, 0)

	case *syntax.CallExpr:
		c.expr(b, e.Fn)
		for _, arg := range e.Args {
			c.expr(b, arg)
		}
		b.SetPosition(e.Lparen)
		b.EmitArg(CALL, uint32(len(e.Args)))

	case *syntax.BinaryExpr:
		c.expr(b, e.X)
		c.expr(b, e.Y)
		b.SetPosition(e.OpPos)
		switch e.Op {
		case syntax.PLUS:
			b.Emit(PLUS)
		case syntax.MINUS:
			b.Emit(MINUS)
		case syntax.LT:
			b.Emit(LT)
		case syntax.EQL:
			b.Emit(EQL)
		default:
			c.errorf(e.OpPos, "unsupported binary operator %s", e.Op)
		}

	default:
		c.errorf(e.Span(), "unexpected expression %T", e)
	}
}

// listCell compiles the constructor for the first of elems and,
// recursively, those of the rest, returning its function index.
func (c *compiler) listCell(elems []syntax.Expr, pos syntax.Position) uint32 {
	b, index := c.prog.NewFunction("<list cell>", elems[0].Span(), 0, 0)
	c.expr(b, elems[0])
	if len(elems) > 1 {
		next := c.listCell(elems[1:], pos)
		b.SetPosition(elems[0].Span())
		b.EmitArg(MAKEFUNC, next)
		b.EmitArg(CALL, 0)
	} else {
		b.Emit(NIL)
	}
	b.Emit(CONS)
	b.Emit(RETURN)
	if _, err := b.Finish(); err != nil {
		c.errorf(pos, "%v", err)
	}
	return index
}
