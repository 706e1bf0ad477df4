package ember

// This file defines the bytecode interpreter.

import (
	"fmt"

	"github.com/canonical/ember/internal/compile"
)

// CallInternal runs the function's bytecode. Its locals and operand
// stack are accounted to the thread for the duration of the call.
func (fn *Function) CallInternal(thread *Thread, args Tuple) (Value, error) {
	f := fn.funcode
	if len(args) != f.NumParams {
		return nil, fmt.Errorf("function %s takes %d arguments (%d given)", fn.Name(), f.NumParams, len(args))
	}
	fr := thread.frameAt(0)

	nlocals := f.NumLocals
	nspace := nlocals + f.MaxStack
	scratch := EstimateMakeSize([]Value{}, nspace)
	if err := thread.AddAllocs(scratch); err != nil {
		return nil, err
	}
	defer thread.releaseAllocs(scratch)

	space := make([]Value, nspace)
	locals := space[:nlocals:nlocals]
	stack := space[nlocals:]
	copy(locals, args)
	fr.locals = locals

	mod := fn.module
	code := f.Code
	sp := 0
	var pc uint32
	for {
		if err := thread.step(); err != nil {
			return nil, err
		}

		fr.pc = pc
		op, arg, next := compile.DecodeInsn(code, pc)
		if next < 0 {
			return nil, fmt.Errorf("internal error: truncated instruction at pc %d", pc)
		}
		pc = uint32(next)

		switch op {
		case compile.NOP:
			// nop

		case compile.DUP:
			stack[sp] = stack[sp-1]
			sp++

		case compile.POP:
			sp--
			stack[sp] = nil

		case compile.NONE:
			stack[sp] = None
			sp++

		case compile.TRUE:
			stack[sp] = True
			sp++

		case compile.FALSE:
			stack[sp] = False
			sp++

		case compile.NIL:
			stack[sp] = EmptyList
			sp++

		case compile.CONS:
			tail, ok := stack[sp-1].(*List)
			if !ok {
				return nil, fmt.Errorf("cannot prepend to %s, want list", stack[sp-1].Type())
			}
			cell, err := thread.cons(stack[sp-2], tail)
			if err != nil {
				return nil, err
			}
			sp--
			stack[sp] = nil
			stack[sp-1] = cell

		case compile.PLUS, compile.MINUS:
			y := stack[sp-1]
			x := stack[sp-2]
			z, err := arith(op, x, y)
			if err != nil {
				return nil, err
			}
			sp--
			stack[sp] = nil
			stack[sp-1] = z

		case compile.LT, compile.EQL:
			y := stack[sp-1]
			x := stack[sp-2]
			var ok bool
			var err error
			if op == compile.LT {
				ok, err = Less(x, y)
			} else {
				ok, err = Equal(x, y)
			}
			if err != nil {
				return nil, err
			}
			sp--
			stack[sp] = nil
			stack[sp-1] = Bool(ok)

		case compile.RETURN:
			return stack[sp-1], nil

		case compile.JMP:
			pc = arg

		case compile.CJMP:
			sp--
			if stack[sp].Truth() {
				pc = arg
			}
			stack[sp] = nil

		case compile.CONSTANT:
			stack[sp] = mod.constants[arg]
			sp++

		case compile.LOCAL:
			v := locals[arg]
			if v == nil {
				return nil, fmt.Errorf("local variable %d referenced before assignment", arg)
			}
			stack[sp] = v
			sp++

		case compile.SETLOCAL:
			sp--
			locals[arg] = stack[sp]
			stack[sp] = nil

		case compile.PREDECLARED:
			name := mod.program.Names[arg]
			v, ok := mod.predeclared[name]
			if !ok {
				return nil, fmt.Errorf("undefined: %s", name)
			}
			stack[sp] = v
			sp++

		case compile.MAKEFUNC:
			funcode := mod.program.Functions[arg]
			closure, err := thread.makeFunction(funcode, mod)
			if err != nil {
				return nil, err
			}
			stack[sp] = closure
			sp++

		case compile.MAKELIST:
			n := int(arg)
			list, err := thread.makeList(stack[sp-n : sp])
			if err != nil {
				return nil, err
			}
			clear(stack[sp-n : sp])
			sp -= n
			stack[sp] = list
			sp++

		case compile.CALL:
			n := int(arg)
			callee := stack[sp-n-1]
			result, err := Call(thread, callee, Tuple(stack[sp-n:sp]))
			if err != nil {
				return nil, err
			}
			clear(stack[sp-n : sp])
			sp -= n
			stack[sp-1] = result

		default:
			return nil, fmt.Errorf("unimplemented: %s", op)
		}
	}
}

func arith(op compile.Opcode, x, y Value) (Value, error) {
	xi, xok := x.(Int)
	yi, yok := y.(Int)
	if !xok || !yok {
		sym := "+"
		if op == compile.MINUS {
			sym = "-"
		}
		return nil, fmt.Errorf("unsupported operand types for %s: %s and %s", sym, x.Type(), y.Type())
	}
	var z SafeInteger
	if op == compile.PLUS {
		z = SafeAdd(int64(xi), int64(yi))
	} else {
		z = SafeSub(int64(xi), int64(yi))
	}
	z64, ok := z.Int64()
	if !ok {
		return nil, fmt.Errorf("int overflow")
	}
	return Int(z64), nil
}
