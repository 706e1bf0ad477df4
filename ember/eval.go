// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ember

import (
	"errors"
	"fmt"
	"io"

	"github.com/canonical/ember/internal/compile"
	"github.com/canonical/ember/syntax"
)

// A frame records a call to an Ember function (including a program's
// toplevel) or a built-in function.
type frame struct {
	callable Callable // current function (or toplevel) or built-in
	pc       uint32   // program counter (Ember frames only)
	locals   []Value  // local variables (Ember frames only)
}

var frameSize = EstimateSize(&frame{})

// Position returns the source position of the current point of execution in this frame.
func (fr *frame) Position() syntax.Position {
	switch c := fr.callable.(type) {
	case *Function:
		// Ember function
		return c.funcode.Position(fr.pc)
	case callableWithPosition:
		// If a built-in Callable defines
		// a Position method, use it.
		return c.Position()
	}
	return syntax.MakePosition(&builtinFilename, 0, 0)
}

var builtinFilename = "<builtin>"

// Callable returns the frame's function or built-in.
func (fr *frame) Callable() Callable { return fr.callable }

func (fr *frame) asCallFrame() CallFrame {
	return CallFrame{
		Name: fr.Callable().Name(),
		Pos:  fr.Position(),
	}
}

// A CallTracer observes the calls made by a thread. StartCall is called
// once a call's frame has been pushed; the function it returns is called
// with the call's outcome before the frame is popped.
type CallTracer interface {
	StartCall(thread *Thread, fn Callable) (end func(err error))
}

// A Program is a compiled Ember program.
//
// Programs are immutable, and contain no Values.
// A Program may be created by parsing a source expression (see ExprProgram)
// or by loading a previously saved compiled program (see CompiledProgram).
type Program struct {
	compiled *compile.Program
}

// CompilerVersion is the version number of the protocol for compiled
// files. Applications must not run programs compiled by one version
// with an interpreter at another version, and should thus incorporate
// the compiler version into the cache key when reusing compiled code.
const CompilerVersion = compile.Version

// Filename returns the name of the file from which this program was loaded.
func (prog *Program) Filename() string { return prog.compiled.Filename }

func (prog *Program) String() string { return prog.Filename() }

// Write writes a compiled Ember program to out.
func (prog *Program) Write(out io.Writer) error {
	data := prog.compiled.Encode()
	_, err := out.Write(data)
	return err
}

// ExprProgram produces a new program by parsing and compiling an
// expression. isPredeclared reports which free identifiers the
// environment passed to Run will define.
//
// The filename and src parameters are as for syntax.ParseExpr.
func ExprProgram(filename string, src interface{}, isPredeclared func(string) bool) (*Program, error) {
	expr, err := syntax.ParseExpr(filename, src)
	if err != nil {
		return nil, err
	}
	compiled, err := compile.Expr(expr, filename, isPredeclared)
	if err != nil {
		return nil, err
	}
	return &Program{compiled}, nil
}

// CompiledProgram produces a new program from the representation
// of a compiled program previously saved by Program.Write.
func CompiledProgram(in io.Reader) (*Program, error) {
	data, err := io.ReadAll(in)
	if err != nil {
		return nil, err
	}
	compiled, err := compile.DecodeProgram(data)
	if err != nil {
		return nil, err
	}
	return &Program{compiled}, nil
}

// Run evaluates the program on thread, with the specified predeclared
// environment, and returns the value of its expression.
//
// Run fails with ErrThreadBusy if the thread is already evaluating.
// Otherwise any error is an *EvalError; if a limit of the thread was
// exceeded it wraps an *OutOfMemoryError, *StackOverflowError or
// *TooManyStepsError. Whatever the outcome, the thread's call stack is
// left as it was found and the thread may run further programs.
func (prog *Program) Run(thread *Thread, predeclared StringDict) (Value, error) {
	if !thread.beginEvaluation() {
		return nil, ErrThreadBusy
	}
	defer thread.endEvaluation()

	toplevel := makeToplevelFunction(prog.compiled, predeclared)
	result, err := Call(thread, toplevel, nil)
	if err != nil {
		var evalErr *EvalError
		if !errors.As(err, &evalErr) {
			err = thread.evalError(err)
		}
		return nil, err
	}
	return result, nil
}

// Eval parses, compiles and evaluates an expression on thread.
func Eval(thread *Thread, filename string, src interface{}, env StringDict) (Value, error) {
	prog, err := ExprProgram(filename, src, env.Has)
	if err != nil {
		return nil, err
	}
	return prog.Run(thread, env)
}

// makeToplevelFunction returns the function that evaluates prog. It is
// owned by the caller of Run and is not accounted to the thread.
func makeToplevelFunction(prog *compile.Program, predeclared StringDict) *Function {
	constants := make([]Value, len(prog.Constants))
	for i, c := range prog.Constants {
		var v Value
		switch c := c.(type) {
		case int64:
			v = Int(c)
		case string:
			v = String(c)
		default:
			panic(fmt.Sprintf("internal error: unexpected constant %T", c))
		}
		constants[i] = v
	}

	return &Function{
		funcode: prog.Toplevel,
		module: &module{
			program:     prog,
			predeclared: predeclared,
			constants:   constants,
		},
	}
}

// Call calls the function fn with the specified arguments, under the
// limits of thread. The callee must not retain args.
//
// The new frame counts towards the thread's stack-depth limit and its
// memory is accounted before it is pushed; it is popped on every exit
// path, including panics. If the thread's evaluation was aborted during
// the call, the abort is reported even if the callee returned normally.
func Call(thread *Thread, fn Value, args Tuple) (result Value, err error) {
	c, ok := fn.(Callable)
	if !ok {
		return nil, fmt.Errorf("invalid call of non-function (%s)", fn.Type())
	}

	if thread.beginEvaluation() {
		defer thread.endEvaluation()
	}

	if _, err := thread.enterCall(c); err != nil {
		return nil, thread.evalError(err)
	}

	var end func(error)
	if thread.Tracer != nil {
		end = thread.Tracer.StartCall(thread, c)
	}

	// Use defer to ensure that panics from built-ins
	// pass through the interpreter without leaving
	// it in a bad state.
	defer func() {
		if end != nil {
			end(err)
		}
		thread.exitCall()
	}()

	result, err = c.CallInternal(thread, args)

	if abort := thread.pendingAbort(); abort != nil && !errors.Is(err, abort) {
		err = abort
	}

	// Sanity check: nil is not a valid Ember value.
	if result == nil && err == nil {
		err = fmt.Errorf("internal error: nil (not None) returned from %s", fn)
	}

	if err != nil {
		result = nil
		var evalErr *EvalError
		if !errors.As(err, &evalErr) {
			err = thread.evalError(err)
		}
	}
	return result, err
}
