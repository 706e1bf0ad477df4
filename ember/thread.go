package ember

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// maxStackDepth bounds the call stack of every thread, whatever its
// configured Limits, so that deep Ember recursion cannot exhaust the Go
// stack.
const maxStackDepth = 110_000

const (
	threadIdle int32 = iota
	threadRunning
)

// A Thread contains the state of an Ember thread: its resource limits and
// the trackers enforcing them, its call stack, and thread-local storage.
// The Thread is threaded throughout the evaluator.
//
// A Thread runs one evaluation at a time and may be reused for any number
// of evaluations, including after one is aborted for exceeding a limit.
type Thread struct {
	// Name is an optional name that describes the thread, for debugging.
	Name string

	// Tracer, if non-nil, is notified of every call made by the thread.
	Tracer CallTracer

	// contextLock synchronises access to fields required to implement
	// context and to the pending abort.
	contextLock   sync.Mutex
	parentContext context.Context
	cancelCleanup func() bool
	cancelReason  error
	done          chan struct{}

	// abort is the violation which ends the current evaluation. Unlike
	// cancelReason it is cleared when the evaluation finishes.
	abort error

	state atomic.Int32

	// stack is the stack of (internal) call frames. Its slack portion
	// holds frames kept for reuse.
	stack     []*frame
	maxStack  Limit
	stackLock sync.Mutex

	// steps counts the instructions executed by this thread; stepsBase
	// is its value when the current evaluation began. maxSteps bounds
	// their difference.
	steps     SafeInteger
	stepsBase SafeInteger
	maxSteps  Limit
	stepsLock sync.Mutex

	// allocs counts the bytes accounted to this thread; peakAllocs is its
	// high-water mark. heap records which of those bytes belong to
	// collectable values.
	allocs     SafeInteger
	peakAllocs int64
	maxAllocs  Limit
	heap       heap
	allocsLock sync.Mutex

	// locals holds arbitrary "thread-local" Go values belonging to the client.
	// They are accessible to the client but not to any Ember program.
	locals map[string]interface{}
}

// SetMaxAllocs sets the number of bytes which may be accounted to this
// thread. An allocation which would take the total past max fails with
// an OutOfMemoryError and is not counted.
func (thread *Thread) SetMaxAllocs(max uint64) {
	thread.allocsLock.Lock()
	defer thread.allocsLock.Unlock()

	thread.maxAllocs = LimitOf(max)
}

// SetMaxStackDepth sets the deepest call stack this thread may reach.
// The toplevel frame of a program is at depth 1, so a limit of zero
// rejects every program.
func (thread *Thread) SetMaxStackDepth(max uint64) {
	thread.stackLock.Lock()
	defer thread.stackLock.Unlock()

	thread.maxStack = LimitOf(max)
}

// SetMaxSteps sets the number of instructions each evaluation on this
// thread may execute.
func (thread *Thread) SetMaxSteps(max uint64) {
	thread.stepsLock.Lock()
	defer thread.stepsLock.Unlock()

	thread.maxSteps = LimitOf(max)
}

// SetLimits replaces every limit of the thread. Use Unbounded to lift one.
func (thread *Thread) SetLimits(limits Limits) {
	thread.allocsLock.Lock()
	thread.maxAllocs = limits.Memory
	thread.allocsLock.Unlock()

	thread.stackLock.Lock()
	thread.maxStack = limits.Stack
	thread.stackLock.Unlock()

	thread.stepsLock.Lock()
	thread.maxSteps = limits.Steps
	thread.stepsLock.Unlock()
}

// Limits returns the limits currently enforced by the thread.
func (thread *Thread) Limits() Limits {
	var limits Limits

	thread.allocsLock.Lock()
	limits.Memory = thread.maxAllocs
	thread.allocsLock.Unlock()

	thread.stackLock.Lock()
	limits.Stack = thread.maxStack
	thread.stackLock.Unlock()

	thread.stepsLock.Lock()
	limits.Steps = thread.maxSteps
	thread.stepsLock.Unlock()

	return limits
}

// Allocs returns the total bytes currently accounted to this thread.
func (thread *Thread) Allocs() (int64, bool) {
	thread.allocsLock.Lock()
	defer thread.allocsLock.Unlock()

	return thread.allocs.Int64()
}

// PeakAllocs returns the largest value Allocs has reached.
func (thread *Thread) PeakAllocs() int64 {
	thread.allocsLock.Lock()
	defer thread.allocsLock.Unlock()

	return thread.peakAllocs
}

// CheckAllocs returns an error if a change in allocations associated with
// this thread would be rejected by AddAllocs.
//
// It is safe to call CheckAllocs from any goroutine, even if the thread is
// actively executing.
func (thread *Thread) CheckAllocs(deltas ...int64) error {
	thread.allocsLock.Lock()
	defer thread.allocsLock.Unlock()

	_, err := thread.simulateAllocs(deltas...)
	return err
}

// AddAllocs reports a change in the bytes associated with this thread.
// It must be called before the memory it reports is allocated. If the
// new total would exceed the limit set by SetMaxAllocs, nothing is
// recorded, an *OutOfMemoryError is returned and the current evaluation
// is aborted: builtins must not allocate after such an error.
//
// It is safe to call AddAllocs from any goroutine, even if the thread is
// actively executing.
func (thread *Thread) AddAllocs(deltas ...int64) error {
	thread.allocsLock.Lock()
	defer thread.allocsLock.Unlock()

	return thread.addAllocsLocked(deltas...)
}

func (thread *Thread) addAllocsLocked(deltas ...int64) error {
	next, err := thread.simulateAllocs(deltas...)
	if err != nil {
		thread.abortWith(err)
		return err
	}
	thread.allocs = next
	if next64, _ := next.Int64(); next64 > thread.peakAllocs {
		thread.peakAllocs = next64
	}
	return nil
}

// releaseAllocs returns bytes to the thread's budget. Releases are
// never refused.
func (thread *Thread) releaseAllocs(n int64) {
	if n == 0 {
		return
	}
	if err := thread.AddAllocs(-n); err != nil {
		panic(fmt.Sprintf("internal error: releasing %d bytes: %v", n, err))
	}
}

// simulateAllocs simulates a call to AddAllocs returning the new total
// allocations associated with this thread and any error this would
// entail. No change is recorded.
func (thread *Thread) simulateAllocs(deltas ...int64) (SafeInteger, error) {
	next := thread.allocs
	requested := SafeInt(0)
	for _, delta := range deltas {
		next = SafeAdd(next, delta)
		requested = SafeAdd(requested, delta)

		// Releases are accepted even if the limit has since been lowered.
		if delta > 0 && !thread.maxAllocs.permits(next) {
			max, _ := thread.maxAllocs.Max()
			current, _ := thread.allocs.Int64()
			req, ok := requested.Int64()
			if !ok {
				req = -1
			}
			v := Violation{Kind: OutOfMemory, Limit: max, Current: current, Requested: req}
			return thread.allocs, v.Err()
		}
	}
	if next64, ok := next.Int64(); !ok || next64 < 0 {
		return InvalidSafeInt, errors.New("alloc count invalidated")
	}
	return next, nil
}

// Steps returns the number of instructions this thread has executed
// over its lifetime.
func (thread *Thread) Steps() (int64, bool) {
	thread.stepsLock.Lock()
	defer thread.stepsLock.Unlock()

	return thread.steps.Int64()
}

// AddSteps reports an increase in the number of steps taken by this
// thread. If the steps of the current evaluation would exceed the limit
// set by SetMaxSteps, nothing is recorded, a *TooManyStepsError is
// returned and the evaluation is aborted.
//
// It is safe to call AddSteps from any goroutine, even if the thread is
// actively executing.
func (thread *Thread) AddSteps(delta SafeInteger) error {
	thread.stepsLock.Lock()
	defer thread.stepsLock.Unlock()

	next := SafeAdd(thread.steps, delta)
	if !thread.maxSteps.permits(SafeSub(next, thread.stepsBase)) {
		max, _ := thread.maxSteps.Max()
		current, _ := SafeSub(thread.steps, thread.stepsBase).Int64()
		req, _ := delta.Int64()
		err := Violation{Kind: TooManySteps, Limit: max, Current: current, Requested: req}.Err()
		thread.abortWith(err)
		return err
	}
	if next64, ok := next.Int64(); !ok || next64 < 0 {
		err := errors.New("step count invalidated")
		thread.abortWith(err)
		return err
	}
	thread.steps = next
	return nil
}

// step is called by the interpreter before every instruction.
func (thread *Thread) step() error {
	if err := thread.pendingAbort(); err != nil {
		return err
	}
	return thread.AddSteps(SafeInt(1))
}

// abortWith records err as the reason the current evaluation must stop.
// The first violation wins. Outside an evaluation it has no effect.
func (thread *Thread) abortWith(err error) {
	if thread.state.Load() != threadRunning {
		return
	}

	thread.contextLock.Lock()
	defer thread.contextLock.Unlock()

	if thread.abort == nil {
		thread.abort = err
	}
}

// pendingAbort returns the reason the current evaluation must stop, if any.
func (thread *Thread) pendingAbort() error {
	thread.contextLock.Lock()
	defer thread.contextLock.Unlock()

	if thread.cancelReason != nil {
		return thread.cancelReason
	}
	return thread.abort
}

// beginEvaluation moves the thread from idle to running, reporting
// whether it was idle. The step budget starts afresh.
func (thread *Thread) beginEvaluation() bool {
	if !thread.state.CompareAndSwap(threadIdle, threadRunning) {
		return false
	}
	thread.stepsLock.Lock()
	thread.stepsBase = thread.steps
	thread.stepsLock.Unlock()
	return true
}

func (thread *Thread) endEvaluation() {
	thread.contextLock.Lock()
	thread.abort = nil
	thread.contextLock.Unlock()

	thread.state.Store(threadIdle)
}

// Evaluating reports whether the thread is running a program.
func (thread *Thread) Evaluating() bool {
	return thread.state.Load() == threadRunning
}

type threadContext Thread

var _ context.Context = &threadContext{}

func (tc *threadContext) Deadline() (deadline time.Time, ok bool) {
	thread := (*Thread)(tc)
	return thread.parentContext.Deadline()
}

var closedChannel chan struct{}

func init() {
	closedChannel = make(chan struct{})
	close(closedChannel)
}

func (tc *threadContext) Done() <-chan struct{} {
	thread := (*Thread)(tc)

	thread.contextLock.Lock()
	defer thread.contextLock.Unlock()

	if thread.done == nil {
		if thread.cancelReason != nil {
			// Leave thread.done unset so it is never closed twice.
			return closedChannel
		}
		thread.done = make(chan struct{})
	}
	return thread.done
}

func (tc *threadContext) Err() error {
	thread := (*Thread)(tc)

	thread.contextLock.Lock()
	defer thread.contextLock.Unlock()

	if thread.cancelReason != nil {
		if errors.Is(thread.cancelReason, context.DeadlineExceeded) {
			return context.DeadlineExceeded
		}
		return context.Canceled
	}
	return nil
}

func (tc *threadContext) Value(key interface{}) interface{} {
	thread := (*Thread)(tc)
	if stringKey, ok := key.(string); ok {
		if local, ok := thread.locals[stringKey]; ok {
			return local
		}
	}
	return thread.parentContext.Value(key)
}

// SetParentContext sets the parent for this thread's context. It can
// only be called once, before execution begins or any thread.Context
// calls. Cancelling ctx cancels the thread.
func (thread *Thread) SetParentContext(ctx context.Context) {
	thread.contextLock.Lock()
	defer thread.contextLock.Unlock()

	if thread.parentContext != nil {
		panic("cannot set parent context: already set")
	}
	thread.parentContext = ctx
	thread.cancelCleanup = context.AfterFunc(ctx, func() {
		thread.cancel(context.Cause(ctx))
	})
}

// Context returns a context which gets cancelled when this thread is
// cancelled. Calling Value on the returned context with a string key is
// equivalent to calling thread.Local with that key.
func (thread *Thread) Context() context.Context {
	thread.contextLock.Lock()
	defer thread.contextLock.Unlock()

	if thread.parentContext == nil {
		thread.parentContext = context.Background()
	}
	return (*threadContext)(thread)
}

// Cancel causes execution of Ember code in the specified thread to
// promptly fail with an EvalError that includes the specified reason.
// There may be a delay before the interpreter observes the cancellation
// if the thread is currently in a call to a built-in function.
//
// Cancellation is permanent: every later evaluation on the thread fails
// immediately.
//
// Unlike most methods of Thread, it is safe to call Cancel from any
// goroutine, even if the thread is actively executing.
func (thread *Thread) Cancel(reason string, args ...interface{}) {
	var err error
	if len(args) == 0 {
		err = errors.New(reason)
	} else {
		err = fmt.Errorf(reason, args...)
	}
	thread.cancel(err)
}

func (thread *Thread) cancel(err error) {
	thread.contextLock.Lock()
	defer thread.contextLock.Unlock()

	if thread.cancelReason != nil {
		return
	}
	thread.cancelReason = fmt.Errorf("Ember computation cancelled: %w", err)

	if thread.done != nil {
		close(thread.done)
	}
	if thread.cancelCleanup != nil {
		thread.cancelCleanup()
		thread.cancelCleanup = nil
	}
}

// SetLocal sets the thread-local value associated with the specified key.
// It must not be called after execution begins.
func (thread *Thread) SetLocal(key string, value interface{}) {
	if thread.locals == nil {
		thread.locals = make(map[string]interface{})
	}
	thread.locals[key] = value
}

// Local returns the thread-local value associated with the specified key.
func (thread *Thread) Local(key string) interface{} {
	return thread.locals[key]
}

// enterCall pushes a frame for c, failing without any effect if the new
// depth would exceed the thread's stack limit or the memory for the frame
// cannot be accounted.
func (thread *Thread) enterCall(c Callable) (*frame, error) {
	depth := len(thread.stack) + 1

	thread.stackLock.Lock()
	limit := thread.maxStack
	thread.stackLock.Unlock()

	if !limit.permits(SafeInt(depth)) {
		max, _ := limit.Max()
		err := Violation{Kind: StackOverflow, Limit: max, Current: int64(depth - 1), Requested: 1}.Err()
		thread.abortWith(err)
		return nil, err
	}
	if depth > maxStackDepth {
		err := Violation{Kind: StackOverflow, Limit: maxStackDepth, Current: int64(depth - 1), Requested: 1}.Err()
		thread.abortWith(err)
		return nil, err
	}

	// Account for the frame and any growth of the stack in one step,
	// before either is made.
	n := len(thread.stack)
	newCap := cap(thread.stack)
	var delta int64
	if n == newCap {
		newCap = max(2*n, 8)
		delta += EstimateMakeSize([]*frame{}, newCap) - EstimateMakeSize([]*frame{}, n)
	}
	var fr *frame
	if n < cap(thread.stack) {
		// Optimization: the slack portion of thread.stack is a
		// freelist of empty frames.
		fr = thread.stack[n : n+1][0]
	}
	if fr == nil {
		delta += frameSize
	}
	if delta > 0 {
		if err := thread.AddAllocs(delta); err != nil {
			return nil, err
		}
	}

	if newCap != cap(thread.stack) {
		grown := make([]*frame, n, newCap)
		copy(grown, thread.stack)
		thread.stack = grown
	}
	if fr == nil {
		fr = new(frame)
	}
	fr.callable = c
	thread.stack = append(thread.stack, fr)
	return fr, nil
}

// exitCall pops the topmost frame, keeping it for reuse.
func (thread *Thread) exitCall() {
	last := len(thread.stack) - 1
	*thread.stack[last] = frame{}
	thread.stack = thread.stack[:last]
}

// EnsureStack makes room for n more nested calls, accounting for the
// frames in advance. It is meant for built-ins about to make many nested
// calls through Call, which can then fail early rather than part way.
// Frames reserved this way are released by Collect.
func (thread *Thread) EnsureStack(n int) error {
	if n < 0 {
		panic("internal error: negative stack size")
	}

	depth := len(thread.stack)
	want := depth + n
	var delta int64
	if want > cap(thread.stack) {
		delta += EstimateMakeSize([]*frame{}, want) - EstimateMakeSize([]*frame{}, cap(thread.stack))
	}
	missing := 0
	for i := depth; i < want; i++ {
		if i >= cap(thread.stack) || thread.stack[:cap(thread.stack)][i] == nil {
			missing++
		}
	}
	delta += int64(missing) * frameSize
	if err := thread.AddAllocs(delta); err != nil {
		return err
	}

	stack := thread.stack
	if want > cap(stack) {
		stack = make([]*frame, cap(thread.stack), want)
		copy(stack, thread.stack[:cap(thread.stack)])
	}
	full := stack[:want]
	newFrames := make([]frame, missing)
	for i := depth; i < want; i++ {
		if full[i] == nil {
			full[i] = &newFrames[0]
			newFrames = newFrames[1:]
		}
	}
	thread.stack = stack[:depth]
	return nil
}

// dropStack forgets the frames kept for reuse and returns the bytes
// they and the stack were accounted. The call stack must be empty.
func (thread *Thread) dropStack() int64 {
	if len(thread.stack) != 0 {
		panic("internal error: dropping a non-empty call stack")
	}
	frames := 0
	for _, fr := range thread.stack[:cap(thread.stack)] {
		if fr != nil {
			frames++
		}
	}
	size := SafeAdd(SafeMul(frames, frameSize), EstimateMakeSize([]*frame{}, cap(thread.stack)))
	thread.stack = nil
	n, ok := size.Int64()
	if !ok {
		panic("internal error: stack size overflow")
	}
	return n
}

func (thread *Thread) frameAt(depth int) *frame {
	return thread.stack[len(thread.stack)-1-depth]
}

// CallFrame returns a copy of the specified frame of the callstack.
// It should only be used in built-ins called from Ember code.
// Depth 0 means the frame of the built-in itself, 1 is its caller, and so on.
//
// It is equivalent to CallStack().At(depth), but more efficient.
func (thread *Thread) CallFrame(depth int) CallFrame {
	return thread.frameAt(depth).asCallFrame()
}

// CallStack returns a new slice containing the thread's stack of call frames.
func (thread *Thread) CallStack() CallStack {
	frames := make([]CallFrame, len(thread.stack))
	for i, fr := range thread.stack {
		frames[i] = fr.asCallFrame()
	}
	return frames
}

// CallStackDepth returns the number of frames in the current call stack.
func (thread *Thread) CallStackDepth() int { return len(thread.stack) }
