package ember

import "github.com/canonical/ember/internal/compile"

// A heapObject is a value whose memory is accounted to the thread which
// created it, until the thread collects it.
type heapObject interface {
	Value
	heapObject()
}

// heap records the accounted size of every live heap object of a
// thread. It is guarded by the thread's allocsLock.
type heap struct {
	objects map[heapObject]int64
}

var (
	listCellSize = EstimateSize(&List{})
	functionSize = EstimateSize(&Function{})
)

// allocate accounts size bytes to thread and only then makes the object,
// which is recorded as live until collected.
func allocate[T heapObject](thread *Thread, size int64, newObject func() T) (T, error) {
	thread.allocsLock.Lock()
	defer thread.allocsLock.Unlock()

	if err := thread.addAllocsLocked(size); err != nil {
		var zero T
		return zero, err
	}
	obj := newObject()
	if thread.heap.objects == nil {
		thread.heap.objects = map[heapObject]int64{}
	}
	thread.heap.objects[obj] = size
	return obj, nil
}

// cons returns a new list cell.
func (thread *Thread) cons(head Value, tail *List) (*List, error) {
	return allocate(thread, listCellSize, func() *List {
		return &List{head: head, tail: tail, len: tail.len + 1}
	})
}

// makeList returns a new list of the given elements, built from the
// last cell to the first.
func (thread *Thread) makeList(elems []Value) (*List, error) {
	l := EmptyList
	for i := len(elems) - 1; i >= 0; i-- {
		var err error
		if l, err = thread.cons(elems[i], l); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// makeFunction returns a new function for the given code.
func (thread *Thread) makeFunction(funcode *compile.Funcode, mod *module) (*Function, error) {
	return allocate(thread, functionSize, func() *Function {
		return &Function{funcode: funcode, module: mod}
	})
}

// HeapObjects returns the number of heap values accounted to the thread
// and not yet collected.
func (thread *Thread) HeapObjects() int {
	thread.allocsLock.Lock()
	defer thread.allocsLock.Unlock()

	return len(thread.heap.objects)
}

// Collect reclaims the memory of the thread's heap values which cannot
// be reached from roots, and of the call frames kept for reuse,
// returning the number of bytes released to the thread's budget. Values returned by earlier evaluations must be passed
// as roots if they are to stay accounted; those not passed must no
// longer be used with the thread.
//
// Collect may only be called while the thread is not evaluating.
func (thread *Thread) Collect(roots ...Value) (int64, error) {
	if !thread.beginEvaluation() {
		return 0, ErrThreadBusy
	}
	defer thread.endEvaluation()

	thread.allocsLock.Lock()
	defer thread.allocsLock.Unlock()

	marked := make(map[heapObject]bool)
	worklist := append([]Value(nil), roots...)
	for len(worklist) > 0 {
		v := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		if obj, ok := v.(heapObject); ok {
			if marked[obj] {
				continue
			}
			marked[obj] = true
		}
		if t, ok := v.(Traversable); ok {
			t.Traverse(func(v Value) {
				if v != nil {
					worklist = append(worklist, v)
				}
			})
		}
	}

	var freed int64
	for obj, size := range thread.heap.objects {
		if !marked[obj] {
			delete(thread.heap.objects, obj)
			freed += size
		}
	}
	freed += thread.dropStack()
	if freed > 0 {
		thread.allocs = SafeSub(thread.allocs, freed)
	}
	return freed, nil
}
