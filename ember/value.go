// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ember provides an interpreter for the Ember expression
// language which enforces per-thread resource limits.
//
// Ember values are represented by the Value interface.
// The following built-in Value types are known to the evaluator:
//
//	NoneType        -- NoneType
//	Bool            -- bool
//	Int             -- int
//	String          -- string
//	*List           -- list
//	Tuple           -- tuple (arguments only)
//	*Function       -- function (implemented in Ember)
//	*Builtin        -- builtin_function_or_method (function or method implemented in Go)
//
// Client applications may define new data types that satisfy at least
// the Value interface.
//
// A Thread carries the limits under which programs run. Every frame it
// pushes and every list cell or function it creates is accounted in
// bytes against its memory limit before being made, and every call is
// checked against its stack-depth limit. Exceeding either aborts the
// evaluation with an *OutOfMemoryError or *StackOverflowError, after
// which the thread may be used again.
package ember

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/canonical/ember/internal/compile"
	"github.com/canonical/ember/syntax"
)

// Value is a value in the Ember interpreter.
type Value interface {
	// String returns the string representation of the value.
	// Ember string values are quoted as if by Python's repr.
	String() string

	// Type returns a short string describing the value's type.
	Type() string

	// Truth returns the truth value of an object.
	Truth() Bool
}

// A Callable value f may be the operand of a function call, f(x).
//
// Clients should use the Call function, never the CallInternal method.
type Callable interface {
	Value
	Name() string
	CallInternal(thread *Thread, args Tuple) (Value, error)
}

type callableWithPosition interface {
	Callable
	Position() syntax.Position
}

var (
	_ Callable             = (*Builtin)(nil)
	_ callableWithPosition = (*Function)(nil)
)

// A Traversable value refers to other values. Collection follows these
// references to find the heap values still in use.
type Traversable interface {
	Value
	Traverse(visit func(Value))
}

var (
	_ Traversable = (*List)(nil)
	_ Traversable = (*Function)(nil)
	_ Traversable = Tuple(nil)
)

// NoneType is the type of None. Its only legal value is None.
// (We represent it as a number, not struct{}, so that None may be constant.)
type NoneType byte

const None = NoneType(0)

func (NoneType) String() string { return "None" }
func (NoneType) Type() string   { return "NoneType" }
func (NoneType) Truth() Bool    { return False }

// Bool is the type of an Ember bool.
type Bool bool

const (
	False Bool = false
	True  Bool = true
)

func (b Bool) String() string {
	if b {
		return "True"
	} else {
		return "False"
	}
}
func (b Bool) Type() string { return "bool" }
func (b Bool) Truth() Bool  { return b }

// Int is the type of an Ember int, a signed 64-bit integer.
type Int int64

// MakeInt returns an Ember int for the specified signed integer.
func MakeInt(x int) Int { return Int(x) }

func (i Int) String() string { return strconv.FormatInt(int64(i), 10) }
func (i Int) Type() string   { return "int" }
func (i Int) Truth() Bool    { return i != 0 }

// Int64 returns the value as an int64.
func (i Int) Int64() int64 { return int64(i) }

// String is the type of an Ember string.
type String string

func (s String) String() string   { return strconv.Quote(string(s)) }
func (s String) GoString() string { return string(s) }
func (s String) Type() string     { return "string" }
func (s String) Truth() Bool      { return len(s) > 0 }

// A Tuple represents the arguments of a call.
type Tuple []Value

func (t Tuple) String() string {
	buf := new(strings.Builder)
	buf.WriteByte('(')
	for i, elem := range t {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(elem.String())
	}
	if len(t) == 1 {
		buf.WriteByte(',')
	}
	buf.WriteByte(')')
	return buf.String()
}
func (t Tuple) Type() string { return "tuple" }
func (t Tuple) Truth() Bool  { return len(t) > 0 }

func (t Tuple) Traverse(visit func(Value)) {
	for _, elem := range t {
		visit(elem)
	}
}

// A List is an immutable Ember list: either the empty list or a cell
// holding an element and the rest of the list.
type List struct {
	head Value
	tail *List
	len  int
}

// EmptyList is the list with no elements.
var EmptyList = &List{}

// NewList returns a list containing the specified elements. The cells
// are not accounted to any thread.
func NewList(elems []Value) *List {
	l := EmptyList
	for i := len(elems) - 1; i >= 0; i-- {
		l = &List{head: elems[i], tail: l, len: l.len + 1}
	}
	return l
}

// Len returns the number of elements of the list.
func (l *List) Len() int { return l.len }

// Head returns the first element of a non-empty list.
func (l *List) Head() Value { return l.head }

// Tail returns all but the first element of a non-empty list.
func (l *List) Tail() *List { return l.tail }

// Index returns the element at index i, which must be in range.
func (l *List) Index(i int) Value {
	for ; i > 0; i-- {
		l = l.tail
	}
	return l.head
}

// Elems returns a new slice containing the elements of the list.
func (l *List) Elems() []Value {
	elems := make([]Value, 0, l.len)
	for ; l.len > 0; l = l.tail {
		elems = append(elems, l.head)
	}
	return elems
}

func (l *List) String() string {
	buf := new(strings.Builder)
	buf.WriteByte('[')
	for cell := l; cell.len > 0; cell = cell.tail {
		if cell != l {
			buf.WriteString(", ")
		}
		buf.WriteString(cell.head.String())
	}
	buf.WriteByte(']')
	return buf.String()
}
func (l *List) Type() string { return "list" }
func (l *List) Truth() Bool  { return l.len > 0 }

func (l *List) Traverse(visit func(Value)) {
	if l.len > 0 {
		visit(l.head)
		visit(l.tail)
	}
}

func (*List) heapObject() {}

// A StringDict is a mapping from names to values, used for the
// predeclared environment of a program.
type StringDict map[string]Value

// Keys returns a new sorted slice of d's keys.
func (d StringDict) Keys() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d StringDict) String() string {
	buf := new(strings.Builder)
	buf.WriteByte('{')
	for i, name := range d.Keys() {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.WriteString(d[name].String())
	}
	buf.WriteByte('}')
	return buf.String()
}

// Has reports whether the dictionary contains the specified key.
func (d StringDict) Has(key string) bool { _, ok := d[key]; return ok }

// A Function is a function defined by an Ember program, such as a
// list cell constructor or a program's toplevel.
type Function struct {
	funcode *compile.Funcode
	module  *module
}

// A module is the dynamic counterpart to a compiled Program,
// shared by every function it defines.
type module struct {
	program     *compile.Program
	predeclared StringDict
	constants   []Value
}

func (fn *Function) Name() string              { return fn.funcode.Name }
func (fn *Function) String() string            { return fmt.Sprintf("<function %s>", fn.Name()) }
func (fn *Function) Type() string              { return "function" }
func (fn *Function) Truth() Bool               { return true }
func (fn *Function) NumParams() int            { return fn.funcode.NumParams }
func (fn *Function) Position() syntax.Position { return fn.funcode.Pos }

// Traverse visits the predeclared values the function can reach.
func (fn *Function) Traverse(visit func(Value)) {
	for _, v := range fn.module.predeclared {
		visit(v)
	}
}

func (*Function) heapObject() {}

// A Builtin is a function implemented in Go.
type Builtin struct {
	name string
	fn   func(thread *Thread, fn *Builtin, args Tuple) (Value, error)
}

// NewBuiltin returns a new 'builtin_function_or_method' value with the
// specified name and implementation.
//
// A builtin which allocates must report it with thread.AddAllocs first
// and return the error if the allocation is refused.
func NewBuiltin(name string, fn func(thread *Thread, fn *Builtin, args Tuple) (Value, error)) *Builtin {
	return &Builtin{name: name, fn: fn}
}

func (b *Builtin) Name() string   { return b.name }
func (b *Builtin) String() string { return fmt.Sprintf("<built-in function %s>", b.Name()) }
func (b *Builtin) Type() string   { return "builtin_function_or_method" }
func (b *Builtin) Truth() Bool    { return true }

func (b *Builtin) CallInternal(thread *Thread, args Tuple) (Value, error) {
	return b.fn(thread, b, args)
}

// Equal reports whether two Ember values are equal. Lists are compared
// element-wise; functions by identity.
func Equal(x, y Value) (bool, error) {
	switch x := x.(type) {
	case *List:
		y, ok := y.(*List)
		if !ok {
			return false, nil
		}
		if x.len != y.len {
			return false, nil
		}
		for ; x.len > 0 && x != y; x, y = x.tail, y.tail {
			if eq, err := Equal(x.head, y.head); err != nil || !eq {
				return false, err
			}
		}
		return true, nil
	case Tuple:
		y, ok := y.(Tuple)
		if !ok || len(x) != len(y) {
			return false, nil
		}
		for i := range x {
			if eq, err := Equal(x[i], y[i]); err != nil || !eq {
				return false, err
			}
		}
		return true, nil
	case NoneType, Bool, Int, String, *Function, *Builtin:
		return x == y, nil
	}
	return false, fmt.Errorf("unsupported comparison %s == %s", x.Type(), y.Type())
}

// Less reports whether x < y, for two ints or two strings.
func Less(x, y Value) (bool, error) {
	switch x := x.(type) {
	case Int:
		if y, ok := y.(Int); ok {
			return x < y, nil
		}
	case String:
		if y, ok := y.(String); ok {
			return x < y, nil
		}
	}
	return false, fmt.Errorf("unsupported comparison %s < %s", x.Type(), y.Type())
}
