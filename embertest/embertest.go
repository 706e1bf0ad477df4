// Package embertest runs Ember programs under resource limits from Go
// tests, benchmarks and gocheck suites, checking that every run leaves
// its thread reusable.
package embertest

import (
	"fmt"
	"strings"
	"testing"

	"gopkg.in/check.v1"

	"github.com/canonical/ember/ember"
)

type testBase interface {
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Logf(format string, args ...interface{})
	Failed() bool
}

var _ testBase = &testing.T{}
var _ testBase = &testing.B{}
var _ testBase = &check.C{}

// ST is a test of Ember code run under a set of limits.
type ST struct {
	predeclared ember.StringDict
	locals      map[string]interface{}
	limits      ember.Limits
	expectedErr string
	violation   *ember.Violation
	testBase
}

// From returns a new test reporting to base, which may be a *testing.T,
// a *testing.B or a *check.C.
func From(base testBase) *ST {
	return &ST{testBase: base}
}

// SetMaxAllocs sets the memory limit of the threads the test runs.
func (st *ST) SetMaxAllocs(max uint64) {
	st.limits.Memory = ember.LimitOf(max)
}

// SetMaxStackDepth sets the stack-depth limit of the threads the test runs.
func (st *ST) SetMaxStackDepth(max uint64) {
	st.limits.Stack = ember.LimitOf(max)
}

// SetMaxSteps sets the step limit of the threads the test runs.
func (st *ST) SetMaxSteps(max uint64) {
	st.limits.Steps = ember.LimitOf(max)
}

// AddValue makes value available to the test's programs as name.
func (st *ST) AddValue(name string, value ember.Value) {
	if st.predeclared == nil {
		st.predeclared = make(ember.StringDict)
	}
	st.predeclared[name] = value
}

// AddBuiltin makes fn available to the test's programs under its name.
func (st *ST) AddBuiltin(fn *ember.Builtin) {
	st.AddValue(fn.Name(), fn)
}

// AddLocal sets a thread-local value on the threads the test runs.
func (st *ST) AddLocal(key string, value interface{}) {
	if st.locals == nil {
		st.locals = make(map[string]interface{})
	}
	st.locals[key] = value
}

// Expect declares that runs must fail with an error containing err.
func (st *ST) Expect(err string) {
	st.expectedErr = err
}

// ExpectViolation declares that runs must be aborted by the given kind
// of violation of the given limit.
func (st *ST) ExpectViolation(kind ember.ViolationKind, limit uint64) {
	st.violation = &ember.Violation{Kind: kind, Limit: limit}
}

// N returns the number of times each run is repeated: b.N for
// benchmarks, once otherwise.
func (st *ST) N() int {
	if b, ok := st.testBase.(*testing.B); ok {
		return b.N
	}
	return 1
}

// RunString compiles and runs the expression src, returning the value of
// the last run.
func (st *ST) RunString(src string) ember.Value {
	prog, err := ember.ExprProgram("embertest.ember", src, st.predeclared.Has)
	if err != nil {
		st.Error(err)
		return nil
	}
	return st.RunProgram(prog)
}

// RunProgram runs prog N times on one thread, checking the outcome of
// every run and collecting the heap in between.
func (st *ST) RunProgram(prog *ember.Program) ember.Value {
	var result ember.Value
	st.RunThread(func(thread *ember.Thread) {
		for i := 0; i < st.N(); i++ {
			var err error
			result, err = prog.Run(thread, st.predeclared)
			st.checkOutcome(err)
			if st.Failed() {
				return
			}
			if result != nil {
				_, err = thread.Collect(result)
			} else {
				_, err = thread.Collect()
			}
			if err != nil {
				st.Errorf("collect: %v", err)
				return
			}
		}
	})
	return result
}

// RunThread calls fn with a thread configured for the test and checks
// that the thread's call stack is empty once fn returns.
func (st *ST) RunThread(fn func(thread *ember.Thread)) {
	thread := &ember.Thread{Name: "embertest"}
	thread.SetLimits(st.limits)
	for key, value := range st.locals {
		thread.SetLocal(key, value)
	}

	fn(thread)

	if depth := thread.CallStackDepth(); depth != 0 {
		st.Errorf("call stack not unwound: depth %d", depth)
	}
	if thread.Evaluating() {
		st.Errorf("thread still evaluating")
	}
	allocs, _ := thread.Allocs()
	st.Logf("%s: %d bytes accounted, peak %d", thread.Name, allocs, thread.PeakAllocs())
}

func (st *ST) checkOutcome(err error) {
	switch {
	case st.violation != nil:
		if err == nil {
			st.Errorf("expected %s violation of limit %d, got success", st.violation.Kind, st.violation.Limit)
			return
		}
		v, ok := ember.ViolationOf(err)
		if !ok {
			st.Errorf("expected %s violation of limit %d, got %v", st.violation.Kind, st.violation.Limit, err)
			return
		}
		if v.Kind != st.violation.Kind || v.Limit != st.violation.Limit {
			st.Errorf("expected %s violation of limit %d, got %s violation of limit %d", st.violation.Kind, st.violation.Limit, v.Kind, v.Limit)
		}
	case st.expectedErr != "":
		if err == nil {
			st.Errorf("expected error %q, got success", st.expectedErr)
		} else if !strings.Contains(err.Error(), st.expectedErr) {
			st.Errorf("expected error %q, got %q", st.expectedErr, err)
		}
	default:
		if err != nil {
			st.Error(fmt.Sprintf("unexpected error: %v", err))
		}
	}
}
