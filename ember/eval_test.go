package ember_test

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/canonical/ember/ember"
	"github.com/canonical/ember/internal/compile"
	"github.com/canonical/ember/syntax"
)

// listSource returns the source of a literal list of n ints.
func listSource(n int) string {
	elems := make([]string, n)
	for i := range elems {
		elems[i] = strconv.Itoa(i + 1)
	}
	return "[" + strings.Join(elems, ", ") + "]"
}

func run(t *testing.T, thread *ember.Thread, src string) (ember.Value, error) {
	t.Helper()
	prog, err := ember.ExprProgram("test.ember", src, nil)
	if err != nil {
		t.Fatalf("compile %s: %v", src, err)
	}
	return prog.Run(thread, nil)
}

func TestLimitScenarios(t *testing.T) {
	tests := []struct {
		name      string
		limits    ember.Limits
		want      string
		violation *ember.Violation
	}{{
		name:      "memory",
		limits:    ember.Limits{Memory: ember.LimitOf(10)},
		violation: &ember.Violation{Kind: ember.OutOfMemory, Limit: 10},
	}, {
		name:      "stack",
		limits:    ember.Limits{Stack: ember.LimitOf(3)},
		violation: &ember.Violation{Kind: ember.StackOverflow, Limit: 3},
	}, {
		name: "unbounded",
		want: "[1, 2, 3, 4]",
	}}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			thread := &ember.Thread{}
			thread.SetLimits(test.limits)
			result, err := run(t, thread, `[1, 2, 3, 4]`)

			if test.violation == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got := result.String(); got != test.want {
					t.Errorf("got %s, want %s", got, test.want)
				}
				return
			}

			if result != nil {
				t.Errorf("got result %v alongside a violation", result)
			}
			if !errors.Is(err, ember.ErrSafety) {
				t.Fatalf("got %v, want a safety error", err)
			}
			v, ok := ember.ViolationOf(err)
			if !ok {
				t.Fatalf("no violation in %v", err)
			}
			if v.Kind != test.violation.Kind || v.Limit != test.violation.Limit {
				t.Errorf("got %s{limit: %d}, want %s{limit: %d}", v.Kind, v.Limit, test.violation.Kind, test.violation.Limit)
			}
			var evalErr *ember.EvalError
			if !errors.As(err, &evalErr) {
				t.Errorf("violation not reported as an EvalError: %T", err)
			}
		})
	}
}

func TestViolationErrorTypes(t *testing.T) {
	thread := &ember.Thread{}
	thread.SetMaxAllocs(10)
	_, err := run(t, thread, `[1, 2, 3, 4]`)
	var oom *ember.OutOfMemoryError
	if !errors.As(err, &oom) {
		t.Fatalf("got %T, want *OutOfMemoryError", err)
	}
	if oom.Limit != 10 {
		t.Errorf("limit = %d, want 10", oom.Limit)
	}
	if want := "out of memory: exceeded memory limit of 10 bytes"; err.Error() != want {
		t.Errorf("got message %q, want %q", err, want)
	}

	thread = &ember.Thread{}
	thread.SetMaxStackDepth(3)
	_, err = run(t, thread, `[1, 2, 3, 4]`)
	var overflow *ember.StackOverflowError
	if !errors.As(err, &overflow) {
		t.Fatalf("got %T, want *StackOverflowError", err)
	}
	var alsoOOM *ember.OutOfMemoryError
	if errors.As(err, &alsoOOM) {
		t.Error("stack overflow also reported as out of memory")
	}
	if want := "stack overflow: exceeded call depth limit of 3"; err.Error() != want {
		t.Errorf("got message %q, want %q", err, want)
	}
}

func TestStackDepthBoundary(t *testing.T) {
	for limit := 1; limit <= 8; limit++ {
		// A list of n elements needs n+1 frames, counting the toplevel.
		thread := &ember.Thread{}
		thread.SetMaxStackDepth(uint64(limit))
		if _, err := run(t, thread, listSource(limit-1)); err != nil {
			t.Errorf("limit %d: depth %d program failed: %v", limit, limit, err)
		}
		_, err := run(t, thread, listSource(limit))
		if v, ok := ember.ViolationOf(err); !ok || v.Kind != ember.StackOverflow || v.Limit != uint64(limit) {
			t.Errorf("limit %d: depth %d program: got %v, want stack overflow", limit, limit+1, err)
		}
	}
}

func TestZeroStackLimit(t *testing.T) {
	thread := &ember.Thread{}
	thread.SetMaxStackDepth(0)
	_, err := run(t, thread, `1`)
	if v, ok := ember.ViolationOf(err); !ok || v.Kind != ember.StackOverflow || v.Limit != 0 {
		t.Errorf("got %v, want stack overflow of limit 0", err)
	}
}

func TestDepthRestoredAfterAbort(t *testing.T) {
	thread := &ember.Thread{}
	thread.SetMaxStackDepth(3)

	if _, err := run(t, thread, `[1, 2, 3, 4]`); err == nil {
		t.Fatal("expected stack overflow")
	}
	if depth := thread.CallStackDepth(); depth != 0 {
		t.Errorf("call stack depth %d after abort, want 0", depth)
	}
	if thread.Evaluating() {
		t.Error("thread still evaluating after abort")
	}

	result, err := run(t, thread, `[1, 2]`)
	if err != nil {
		t.Fatalf("depth 3 program failed after abort: %v", err)
	}
	if result.String() != "[1, 2]" {
		t.Errorf("got %v, want [1, 2]", result)
	}
}

func TestReuseAfterOutOfMemory(t *testing.T) {
	thread := &ember.Thread{}
	thread.SetMaxAllocs(10)
	if _, err := run(t, thread, `[1, 2, 3, 4]`); !errors.Is(err, ember.ErrSafety) {
		t.Fatalf("got %v, want out of memory", err)
	}
	if allocs, _ := thread.Allocs(); allocs != 0 {
		t.Errorf("%d bytes accounted after the first allocation failed", allocs)
	}

	thread.SetMaxAllocs(1 << 20)
	result, err := run(t, thread, `1 + 2`)
	if err != nil {
		t.Fatalf("unexpected error after abort: %v", err)
	}
	if result != ember.Int(3) {
		t.Errorf("got %v, want 3", result)
	}
}

func TestMemoryBoundaryIsTight(t *testing.T) {
	src := listSource(6)

	measure := &ember.Thread{}
	if _, err := run(t, measure, src); err != nil {
		t.Fatal(err)
	}
	peak := measure.PeakAllocs()
	if peak <= 0 {
		t.Fatalf("peak allocation %d, want positive", peak)
	}

	enough := &ember.Thread{}
	enough.SetMaxAllocs(uint64(peak))
	if _, err := run(t, enough, src); err != nil {
		t.Errorf("limit equal to peak allocation: %v", err)
	}

	short := &ember.Thread{}
	short.SetMaxAllocs(uint64(peak - 1))
	_, err := run(t, short, src)
	if v, ok := ember.ViolationOf(err); !ok || v.Kind != ember.OutOfMemory || v.Limit != uint64(peak-1) {
		t.Errorf("limit one below peak allocation: got %v, want out of memory", err)
	}
	if allocs, _ := short.Allocs(); allocs > peak-1 {
		t.Errorf("%d bytes accounted, past the limit of %d", allocs, peak-1)
	}
}

func TestFailedAllocationNotCounted(t *testing.T) {
	thread := &ember.Thread{}
	thread.SetMaxAllocs(100)

	if err := thread.AddAllocs(60); err != nil {
		t.Fatal(err)
	}
	err := thread.AddAllocs(50)
	var oom *ember.OutOfMemoryError
	if !errors.As(err, &oom) {
		t.Fatalf("got %v, want out of memory", err)
	}
	if diff := cmp.Diff(&ember.OutOfMemoryError{Limit: 100, Current: 60, Requested: 50}, oom); diff != "" {
		t.Errorf("error mismatch (-want +got):\n%s", diff)
	}
	if allocs, _ := thread.Allocs(); allocs != 60 {
		t.Errorf("allocs = %d after a refused allocation, want 60", allocs)
	}

	if err := thread.CheckAllocs(40); err != nil {
		t.Errorf("CheckAllocs(40): %v", err)
	}
	if err := thread.AddAllocs(40); err != nil {
		t.Errorf("AddAllocs(40): %v", err)
	}
	if allocs, _ := thread.Allocs(); allocs != 100 {
		t.Errorf("allocs = %d, want 100", allocs)
	}
	if err := thread.CheckAllocs(1); err == nil {
		t.Error("CheckAllocs(1) at the limit succeeded")
	}

	// Lowering the limit does not apply retroactively.
	thread.SetMaxAllocs(50)
	if err := thread.AddAllocs(-30); err != nil {
		t.Errorf("release under a lowered limit: %v", err)
	}
	if got := thread.PeakAllocs(); got != 100 {
		t.Errorf("peak = %d, want 100", got)
	}
}

func TestSwallowedViolationAborts(t *testing.T) {
	thread := &ember.Thread{}
	thread.SetMaxAllocs(1 << 20)
	greedy := ember.NewBuiltin("greedy", func(thread *ember.Thread, _ *ember.Builtin, _ ember.Tuple) (ember.Value, error) {
		thread.AddAllocs(1 << 30) // error ignored
		return ember.None, nil
	})
	env := ember.StringDict{"greedy": greedy}

	_, err := ember.Eval(thread, "test.ember", `[greedy(), 1]`, env)
	if v, ok := ember.ViolationOf(err); !ok || v.Kind != ember.OutOfMemory || v.Limit != 1<<20 {
		t.Fatalf("got %v, want out of memory", err)
	}
	if depth := thread.CallStackDepth(); depth != 0 {
		t.Errorf("call stack depth %d after abort, want 0", depth)
	}

	result, err := ember.Eval(thread, "test.ember", `1 + 1`, env)
	if err != nil {
		t.Fatalf("abort leaked into the next evaluation: %v", err)
	}
	if result != ember.Int(2) {
		t.Errorf("got %v, want 2", result)
	}
}

func TestPanicInBuiltinUnwinds(t *testing.T) {
	thread := &ember.Thread{}
	boom := ember.NewBuiltin("boom", func(*ember.Thread, *ember.Builtin, ember.Tuple) (ember.Value, error) {
		panic("boom")
	})
	env := ember.StringDict{"boom": boom}

	func() {
		defer func() {
			if r := recover(); r != "boom" {
				t.Errorf("recovered %v, want boom", r)
			}
		}()
		ember.Eval(thread, "test.ember", `[1, boom()]`, env)
	}()

	if depth := thread.CallStackDepth(); depth != 0 {
		t.Errorf("call stack depth %d after panic, want 0", depth)
	}
	if thread.Evaluating() {
		t.Error("thread still evaluating after panic")
	}
	if result, err := ember.Eval(thread, "test.ember", `[1, 2]`, env); err != nil || result.String() != "[1, 2]" {
		t.Errorf("got %v, %v after panic, want [1, 2]", result, err)
	}
}

func TestEvalErrorBacktrace(t *testing.T) {
	thread := &ember.Thread{}
	fail := ember.NewBuiltin("fail", func(*ember.Thread, *ember.Builtin, ember.Tuple) (ember.Value, error) {
		return nil, errors.New("bang")
	})
	_, err := ember.Eval(thread, "trace.ember", `[1, fail()]`, ember.StringDict{"fail": fail})

	var evalErr *ember.EvalError
	if !errors.As(err, &evalErr) {
		t.Fatalf("got %T, want *EvalError", err)
	}
	if got := len(evalErr.CallStack); got != 4 {
		t.Errorf("call stack has %d frames, want 4", got)
	}
	backtrace := evalErr.Backtrace()
	for _, want := range []string{
		"Traceback (most recent call last):",
		"trace.ember:1:1: in <toplevel>",
		"trace.ember:1:9: in <list cell>",
		"Error in fail: bang",
	} {
		if !strings.Contains(backtrace, want) {
			t.Errorf("backtrace lacks %q:\n%s", want, backtrace)
		}
	}
}

func TestUndefined(t *testing.T) {
	_, err := ember.Eval(&ember.Thread{}, "test.ember", `[1, y]`, nil)
	var syntaxErr syntax.Error
	if !errors.As(err, &syntaxErr) || syntaxErr.Msg != "undefined: y" {
		t.Errorf("got %v, want undefined: y", err)
	}
}

func TestRuntimeErrors(t *testing.T) {
	tests := []struct {
		src, want string
	}{
		{`1 + "a"`, `unsupported operand types for +: int and string`},
		{`"a" - 1`, `unsupported operand types for -: string and int`},
		{`1 < "a"`, `unsupported comparison int < string`},
		{`9223372036854775807 + 1`, `int overflow`},
		{`x()`, `invalid call of non-function (int)`},
	}
	for _, test := range tests {
		thread := &ember.Thread{}
		_, err := ember.Eval(thread, "test.ember", test.src, ember.StringDict{"x": ember.Int(1)})
		if err == nil || err.Error() != test.want {
			t.Errorf("%s: got %v, want %s", test.src, err, test.want)
		}
		if _, ok := ember.ViolationOf(err); ok {
			t.Errorf("%s: ordinary error classified as a violation", test.src)
		}
	}
}

func TestValues(t *testing.T) {
	tests := []struct {
		src, want string
	}{
		{`[]`, `[]`},
		{`[1, "two", [None, True], []]`, `[1, "two", [None, True], []]`},
		{`[1, 2] == [1, 2]`, `True`},
		{`[1, 2] == [1, 3]`, `False`},
		{`"a" < "b"`, `True`},
		{`-3 - 4`, `-7`},
		{`(1 + 2) == 3`, `True`},
	}
	for _, test := range tests {
		result, err := run(t, &ember.Thread{}, test.src)
		if err != nil {
			t.Errorf("%s: %v", test.src, err)
			continue
		}
		if got := result.String(); got != test.want {
			t.Errorf("%s: got %s, want %s", test.src, got, test.want)
		}
	}
}

func TestSteps(t *testing.T) {
	thread := &ember.Thread{}
	thread.SetMaxSteps(3)

	// constant, constant, plus, return
	_, err := run(t, thread, `1 + 2`)
	if v, ok := ember.ViolationOf(err); !ok || v.Kind != ember.TooManySteps || v.Limit != 3 {
		t.Fatalf("got %v, want too many steps", err)
	}
	if steps, _ := thread.Steps(); steps != 3 {
		t.Errorf("steps = %d, want 3", steps)
	}

	thread.SetMaxSteps(7)
	if _, err := run(t, thread, `1 + 2`); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestInfiniteLoopStopsAtStepLimit(t *testing.T) {
	compiled := compile.NewProgram("loop.ember")
	b := compiled.NewToplevel(syntax.Position{}, 0)
	loop := b.NewLabel()
	b.Bind(loop)
	b.Jump(compile.JMP, loop)
	b.Emit(compile.NONE)
	b.Emit(compile.RETURN)
	if _, err := b.Finish(); err != nil {
		t.Fatal(err)
	}
	prog, err := ember.MakeProgram(compiled)
	if err != nil {
		t.Fatal(err)
	}

	thread := &ember.Thread{}
	thread.SetMaxSteps(1000)
	_, err = prog.Run(thread, nil)
	if v, ok := ember.ViolationOf(err); !ok || v.Kind != ember.TooManySteps {
		t.Errorf("got %v, want too many steps", err)
	}
}

func TestMakeList(t *testing.T) {
	compiled := compile.NewProgram("makelist.ember")
	b := compiled.NewToplevel(syntax.Position{}, 0)
	b.Constant(int64(1))
	b.Constant("two")
	b.Emit(compile.NIL)
	b.EmitArg(compile.MAKELIST, 3)
	b.Emit(compile.RETURN)
	if _, err := b.Finish(); err != nil {
		t.Fatal(err)
	}
	prog, err := ember.MakeProgram(compiled)
	if err != nil {
		t.Fatal(err)
	}

	thread := &ember.Thread{}
	result, err := prog.Run(thread, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := result.String(), `[1, "two", []]`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
	if got := thread.HeapObjects(); got != 3 {
		t.Errorf("%d heap objects, want 3", got)
	}

	// Each cell is accounted as it is made.
	thread = &ember.Thread{}
	thread.SetMaxAllocs(1 << 10)
	if _, err := prog.Run(thread, nil); err != nil {
		t.Fatal(err)
	}
	before, _ := thread.Allocs()
	scratch := ember.EstimateMakeSize([]ember.Value{}, 3)
	thread.SetMaxAllocs(uint64(before + scratch + 2*ember.ListCellSize))
	_, err = prog.Run(thread, nil)
	if v, ok := ember.ViolationOf(err); !ok || v.Kind != ember.OutOfMemory {
		t.Fatalf("got %v, want out of memory", err)
	}
	if got := thread.HeapObjects(); got != 5 {
		t.Errorf("%d heap objects, want 5", got)
	}
}

func TestThreadBusy(t *testing.T) {
	inner, err := ember.ExprProgram("inner.ember", `1`, nil)
	if err != nil {
		t.Fatal(err)
	}
	var runErr, collectErr error
	reenter := ember.NewBuiltin("reenter", func(thread *ember.Thread, _ *ember.Builtin, _ ember.Tuple) (ember.Value, error) {
		_, runErr = inner.Run(thread, nil)
		_, collectErr = thread.Collect()
		return ember.None, nil
	})

	thread := &ember.Thread{}
	if _, err := ember.Eval(thread, "outer.ember", `reenter()`, ember.StringDict{"reenter": reenter}); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(runErr, ember.ErrThreadBusy) {
		t.Errorf("nested Run: got %v, want ErrThreadBusy", runErr)
	}
	if !errors.Is(collectErr, ember.ErrThreadBusy) {
		t.Errorf("Collect during evaluation: got %v, want ErrThreadBusy", collectErr)
	}
}

func TestCallFromBuiltin(t *testing.T) {
	apply := ember.NewBuiltin("apply", func(thread *ember.Thread, _ *ember.Builtin, args ember.Tuple) (ember.Value, error) {
		if depth := thread.CallStackDepth(); depth != 2 {
			t.Errorf("depth in builtin = %d, want 2", depth)
		}
		if name := thread.CallFrame(1).Name; name != "<toplevel>" {
			t.Errorf("caller = %s, want <toplevel>", name)
		}
		return ember.Call(thread, args[0], args[1:])
	})
	double := ember.NewBuiltin("double", func(_ *ember.Thread, _ *ember.Builtin, args ember.Tuple) (ember.Value, error) {
		return args[0].(ember.Int) + args[0].(ember.Int), nil
	})
	env := ember.StringDict{"apply": apply, "double": double}

	thread := &ember.Thread{}
	thread.SetMaxStackDepth(2)
	_, err := ember.Eval(thread, "test.ember", `apply(double, 21)`, env)
	if v, ok := ember.ViolationOf(err); !ok || v.Kind != ember.StackOverflow {
		t.Fatalf("got %v, want stack overflow", err)
	}

	thread.SetMaxStackDepth(3)
	result, err := ember.Eval(thread, "test.ember", `apply(double, 21)`, env)
	if err != nil {
		t.Fatal(err)
	}
	if result != ember.Int(42) {
		t.Errorf("got %v, want 42", result)
	}
}

func TestCompiledProgramRoundTrip(t *testing.T) {
	prog, err := ember.ExprProgram("roundtrip.ember", `[1, "two", [3]] == [1, "two", [3]]`, nil)
	if err != nil {
		t.Fatal(err)
	}
	buf := new(bytes.Buffer)
	if err := prog.Write(buf); err != nil {
		t.Fatal(err)
	}
	loaded, err := ember.CompiledProgram(buf)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Filename() != "roundtrip.ember" {
		t.Errorf("filename = %q", loaded.Filename())
	}

	want, err := prog.Run(&ember.Thread{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := loaded.Run(&ember.Thread{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != want || got != ember.True {
		t.Errorf("got %v, want %v", got, want)
	}

	if _, err := ember.CompiledProgram(strings.NewReader("garbage")); err == nil {
		t.Error("loaded garbage without error")
	}
}

func TestCancel(t *testing.T) {
	thread := &ember.Thread{}
	thread.Cancel("stop %d", 1)

	for i := 0; i < 2; i++ {
		_, err := run(t, thread, `1`)
		if err == nil || err.Error() != "Ember computation cancelled: stop 1" {
			t.Errorf("run %d: got %v, want cancellation", i, err)
		}
		if _, ok := ember.ViolationOf(err); ok {
			t.Errorf("run %d: cancellation classified as a violation", i)
		}
	}
}

func TestParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	thread := &ember.Thread{}
	thread.SetParentContext(ctx)

	if _, err := run(t, thread, `1`); err != nil {
		t.Fatal(err)
	}

	cancel()
	<-thread.Context().Done()
	if err := thread.Context().Err(); err != context.Canceled {
		t.Errorf("context error = %v, want context.Canceled", err)
	}
	_, err := run(t, thread, `1`)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestLocals(t *testing.T) {
	thread := &ember.Thread{}
	thread.SetLocal("key", "value")
	if got := thread.Local("key"); got != "value" {
		t.Errorf("Local = %v", got)
	}
	if got := thread.Context().Value("key"); got != "value" {
		t.Errorf("Context().Value = %v", got)
	}
}

func TestEnsureStack(t *testing.T) {
	thread := &ember.Thread{}
	thread.SetMaxAllocs(10)
	if err := thread.EnsureStack(16); !errors.Is(err, ember.ErrSafety) {
		t.Errorf("got %v, want out of memory", err)
	}
	if allocs, _ := thread.Allocs(); allocs != 0 {
		t.Errorf("%d bytes accounted after a refused EnsureStack", allocs)
	}

	thread.SetMaxAllocs(1 << 20)
	if err := thread.EnsureStack(16); err != nil {
		t.Fatal(err)
	}
	reserved, _ := thread.Allocs()
	if reserved <= 0 {
		t.Fatalf("EnsureStack accounted %d bytes", reserved)
	}

	// The reserved frames are reused rather than accounted again.
	if _, err := run(t, thread, listSource(8)); err != nil {
		t.Fatal(err)
	}
	heap := 8 * (ember.ListCellSize + ember.FunctionSize)
	if allocs, _ := thread.Allocs(); allocs != reserved+heap {
		t.Errorf("allocs = %d after the run, want %d", allocs, reserved+heap)
	}

	// Collection releases the reservation with the heap.
	freed, err := thread.Collect()
	if err != nil {
		t.Fatal(err)
	}
	if freed != reserved+heap {
		t.Errorf("collection freed %d bytes, want %d", freed, reserved+heap)
	}
	if allocs, _ := thread.Allocs(); allocs != 0 {
		t.Errorf("allocs = %d after collection, want 0", allocs)
	}
}

func TestStepLimitPerEvaluation(t *testing.T) {
	thread := &ember.Thread{}
	thread.SetMaxSteps(4)

	// Each run takes four steps: constant, constant, plus, return.
	for i := 0; i < 5; i++ {
		if _, err := run(t, thread, `1 + 2`); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if steps, _ := thread.Steps(); steps != 20 {
		t.Errorf("steps = %d, want 20", steps)
	}

	_, err := run(t, thread, `[1, 2]`)
	v, ok := ember.ViolationOf(err)
	if !ok || v.Kind != ember.TooManySteps || v.Limit != 4 {
		t.Fatalf("got %v, want too many steps", err)
	}
	if v.Current != 4 {
		t.Errorf("violation reports %d steps taken, want 4", v.Current)
	}

	if _, err := run(t, thread, `1 + 2`); err != nil {
		t.Errorf("run after violation: %v", err)
	}
}

type recordingTracer struct {
	calls []string
	depth []int
}

func (r *recordingTracer) StartCall(thread *ember.Thread, fn ember.Callable) func(error) {
	r.calls = append(r.calls, fn.Name())
	r.depth = append(r.depth, thread.CallStackDepth())
	return func(err error) {
		if err != nil {
			r.calls = append(r.calls, "error")
		}
	}
}

func TestTracer(t *testing.T) {
	tracer := &recordingTracer{}
	thread := &ember.Thread{Tracer: tracer}
	thread.SetMaxStackDepth(2)
	run(t, thread, `[1, 2]`)

	want := []string{"<toplevel>", "<list cell>", "error", "error"}
	if diff := cmp.Diff(want, tracer.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 2}, tracer.depth); diff != "" {
		t.Errorf("depths mismatch (-want +got):\n%s", diff)
	}
}
