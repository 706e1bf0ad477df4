package ember

import (
	"errors"
	"fmt"
	"strings"

	"github.com/canonical/ember/syntax"
)

// ErrSafety is matched by every error reporting that a thread exceeded one
// of its Limits. Use errors.As with a specific error type to tell which.
var ErrSafety = errors.New("resource limit exceeded")

// ErrThreadBusy is returned when a program is run on a thread which is
// already evaluating.
var ErrThreadBusy = errors.New("thread is already evaluating a program")

// ViolationKind identifies the resource whose limit was crossed.
type ViolationKind uint8

const (
	OutOfMemory ViolationKind = iota + 1
	StackOverflow
	TooManySteps
)

func (k ViolationKind) String() string {
	switch k {
	case OutOfMemory:
		return "OutOfMemory"
	case StackOverflow:
		return "StackOverflow"
	case TooManySteps:
		return "TooManySteps"
	}
	return fmt.Sprintf("ViolationKind(%d)", k)
}

// A Violation records the moment a tracker rejected an operation.
type Violation struct {
	Kind  ViolationKind
	Limit uint64

	// Current is the tracked total before the rejected operation;
	// Requested is the amount that operation asked for.
	Current, Requested int64
}

// Err converts the violation into the error reported to callers.
func (v Violation) Err() error {
	switch v.Kind {
	case OutOfMemory:
		return &OutOfMemoryError{Limit: v.Limit, Current: v.Current, Requested: v.Requested}
	case StackOverflow:
		return &StackOverflowError{Limit: v.Limit}
	case TooManySteps:
		return &TooManyStepsError{Limit: v.Limit}
	}
	panic(fmt.Sprintf("internal error: unknown violation kind %v", v.Kind))
}

// ViolationOf returns the violation reported by err or any error it
// wraps, if there is one.
func ViolationOf(err error) (Violation, bool) {
	var oom *OutOfMemoryError
	if errors.As(err, &oom) {
		return Violation{Kind: OutOfMemory, Limit: oom.Limit, Current: oom.Current, Requested: oom.Requested}, true
	}
	var overflow *StackOverflowError
	if errors.As(err, &overflow) {
		return Violation{Kind: StackOverflow, Limit: overflow.Limit}, true
	}
	var steps *TooManyStepsError
	if errors.As(err, &steps) {
		return Violation{Kind: TooManySteps, Limit: steps.Limit}, true
	}
	return Violation{}, false
}

// An OutOfMemoryError reports that an allocation would have taken the
// thread's accounted memory past its limit. The allocation was not made.
type OutOfMemoryError struct {
	Limit     uint64
	Current   int64
	Requested int64
}

func (e *OutOfMemoryError) Error() string {
	return fmt.Sprintf("out of memory: exceeded memory limit of %d bytes", e.Limit)
}

func (e *OutOfMemoryError) Is(err error) bool {
	return err == ErrSafety
}

// A StackOverflowError reports that a call would have taken the thread's
// call stack deeper than its limit. The call was not made.
type StackOverflowError struct {
	Limit uint64
}

func (e *StackOverflowError) Error() string {
	return fmt.Sprintf("stack overflow: exceeded call depth limit of %d", e.Limit)
}

func (e *StackOverflowError) Is(err error) bool {
	return err == ErrSafety
}

// A TooManyStepsError reports that the thread reached its step limit.
type TooManyStepsError struct {
	Limit uint64
}

func (e *TooManyStepsError) Error() string {
	return fmt.Sprintf("too many steps: exceeded step limit of %d", e.Limit)
}

func (e *TooManyStepsError) Is(err error) bool {
	return err == ErrSafety
}

// A CallStack is a stack of call frames, outermost first.
type CallStack []CallFrame

// At returns a copy of the frame at depth i.
// At(0) returns the topmost frame.
func (stack CallStack) At(i int) CallFrame { return stack[len(stack)-1-i] }

// Pop removes and returns the topmost frame.
func (stack *CallStack) Pop() CallFrame {
	last := len(*stack) - 1
	top := (*stack)[last]
	*stack = (*stack)[:last]
	return top
}

// String returns a user-friendly description of the stack.
func (stack CallStack) String() string {
	out := new(strings.Builder)
	if len(stack) > 0 {
		fmt.Fprintf(out, "Traceback (most recent call last):\n")
	}
	for _, fr := range stack {
		fmt.Fprintf(out, "  %s: in %s\n", fr.Pos, fr.Name)
	}
	return out.String()
}

// A CallFrame represents the function name and current
// position of execution of an enclosing call frame.
type CallFrame struct {
	Name string
	Pos  syntax.Position
}

// An EvalError is an Ember evaluation error and
// a copy of the thread's stack at the moment of the error.
type EvalError struct {
	Msg       string
	CallStack CallStack
	cause     error
}

func (thread *Thread) evalError(err error) *EvalError {
	return &EvalError{
		Msg:       err.Error(),
		CallStack: thread.CallStack(),
		cause:     err,
	}
}

func (e *EvalError) Error() string { return e.Msg }

// Backtrace returns a user-friendly error message describing the stack
// of calls that led to this error.
func (e *EvalError) Backtrace() string {
	// If the topmost stack frame is a built-in function,
	// remove it from the stack and add print "Error in fn:".
	stack := e.CallStack
	suffix := ""
	if last := len(stack) - 1; last >= 0 && stack[last].Pos.Filename() == builtinFilename {
		suffix = " in " + stack[last].Name
		stack = stack[:last]
	}
	return fmt.Sprintf("%sError%s: %s", stack, suffix, e.Msg)
}

func (e *EvalError) Unwrap() error { return e.cause }
