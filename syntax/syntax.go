package syntax

// An Expr is an Ember expression.
type Expr interface {
	// Span returns the start position of the expression.
	Span() Position
	expr()
}

// An Ident represents an identifier.
type Ident struct {
	NamePos Position
	Name    string
}

// A Literal represents a literal int or string.
type Literal struct {
	Token    Token // INT or STRING
	TokenPos Position
	Raw      string      // uninterpreted text
	Value    interface{} // = int64 | string
}

// A ListExpr represents a list literal: [ List ].
type ListExpr struct {
	Lbrack Position
	List   []Expr
	Rbrack Position
}

// A CallExpr represents a function call expression: Fn(Args).
type CallExpr struct {
	Fn     Expr
	Lparen Position
	Args   []Expr
	Rparen Position
}

// A BinaryExpr represents a binary expression: X Op Y.
type BinaryExpr struct {
	OpPos Position
	Op    Token
	X, Y  Expr
}

// A ParenExpr represents a parenthesized expression: (X).
type ParenExpr struct {
	Lparen Position
	X      Expr
	Rparen Position
}

func (x *Ident) Span() Position      { return x.NamePos }
func (x *Literal) Span() Position    { return x.TokenPos }
func (x *ListExpr) Span() Position   { return x.Lbrack }
func (x *CallExpr) Span() Position   { return x.Fn.Span() }
func (x *BinaryExpr) Span() Position { return x.X.Span() }
func (x *ParenExpr) Span() Position  { return x.Lparen }

func (*Ident) expr()      {}
func (*Literal) expr()    {}
func (*ListExpr) expr()   {}
func (*CallExpr) expr()   {}
func (*BinaryExpr) expr() {}
func (*ParenExpr) expr()  {}

// Walk traverses the syntax tree in depth-first order. It starts by
// calling f(n); n must not be nil. If f returns true, Walk calls itself
// recursively for each non-nil child of n.
func Walk(n Expr, f func(Expr) bool) {
	if !f(n) {
		return
	}
	switch n := n.(type) {
	case *ListExpr:
		for _, x := range n.List {
			Walk(x, f)
		}
	case *CallExpr:
		Walk(n.Fn, f)
		for _, x := range n.Args {
			Walk(x, f)
		}
	case *BinaryExpr:
		Walk(n.X, f)
		Walk(n.Y, f)
	case *ParenExpr:
		Walk(n.X, f)
	}
}
