package ember

import "strconv"

// A Limit is a ceiling on a resource tracked by a Thread. The zero Limit
// is unbounded.
type Limit struct {
	max     uint64
	bounded bool
}

// Unbounded is the Limit which never triggers.
var Unbounded = Limit{}

// LimitOf returns a Limit permitting at most max units of a resource.
// Zero is a legal limit: it rejects any use at all.
func LimitOf(max uint64) Limit {
	return Limit{max: max, bounded: true}
}

// Max returns the ceiling and whether the limit is bounded at all.
func (l Limit) Max() (uint64, bool) { return l.max, l.bounded }

// Bounded reports whether the limit can ever trigger.
func (l Limit) Bounded() bool { return l.bounded }

// permits reports whether a total of n units is within the limit.
func (l Limit) permits(n SafeInteger) bool {
	if !l.bounded {
		return true
	}
	n64, ok := n.Int64()
	return ok && n64 >= 0 && uint64(n64) <= l.max
}

func (l Limit) String() string {
	if !l.bounded {
		return "unbounded"
	}
	return strconv.FormatUint(l.max, 10)
}

// Limits holds the ceilings a Thread enforces during evaluation.
// The zero Limits is unbounded in every dimension.
type Limits struct {
	// Memory bounds the bytes accounted to the thread.
	Memory Limit

	// Stack bounds the depth of the call stack. The toplevel frame of a
	// program counts as depth 1.
	Stack Limit

	// Steps bounds the number of instructions executed.
	Steps Limit
}
