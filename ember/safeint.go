package ember

import (
	"fmt"
	"math"
)

// A SafeInteger is an int64 which remembers overflow: once an operation
// overflows, its result and everything computed from it are invalid.
// The trackers count with SafeIntegers so that huge or hostile deltas
// can never wrap a total back under its limit.
type SafeInteger struct {
	value int64
}

// math.MinInt64 marks the invalid state. Without it the valid values
// are symmetric, so negation never overflows.
const invalidSafeInt = math.MinInt64

// InvalidSafeInt is the result of every overflowing operation.
var InvalidSafeInt = SafeInteger{invalidSafeInt}

type signed interface {
	int | int8 | int16 | int32 | int64
}

type unsigned interface {
	uint | uint8 | uint16 | uint32 | uint64 | uintptr
}

// Integer is the set of Go integer types convertible with SafeInt.
type Integer interface {
	signed | unsigned
}

func fromSigned[S signed](s S) SafeInteger { return SafeInteger{int64(s)} }

func fromUnsigned[U unsigned](u U) SafeInteger {
	if uint64(u) > math.MaxInt64 {
		return InvalidSafeInt
	}
	return SafeInteger{int64(u)}
}

// SafeInt converts i to a SafeInteger, which is invalid if i does not
// fit.
func SafeInt[I Integer | SafeInteger](i I) SafeInteger {
	switch i := any(i).(type) {
	case SafeInteger:
		return i
	case int:
		return fromSigned(i)
	case int8:
		return fromSigned(i)
	case int16:
		return fromSigned(i)
	case int32:
		return fromSigned(i)
	case int64:
		return fromSigned(i)
	case uint:
		return fromUnsigned(i)
	case uint8:
		return fromUnsigned(i)
	case uint16:
		return fromUnsigned(i)
	case uint32:
		return fromUnsigned(i)
	case uint64:
		return fromUnsigned(i)
	case uintptr:
		return fromUnsigned(i)
	}
	panic(fmt.Sprintf("unreachable: %T", i))
}

func (si SafeInteger) String() string {
	if v, ok := si.Int64(); ok {
		return fmt.Sprintf("SafeInt(%d)", v)
	}
	return "SafeInt(invalid)"
}

// Valid reports whether no overflow went into si.
func (si SafeInteger) Valid() bool { return si.value != invalidSafeInt }

// Int64 returns the value of si, if valid.
func (si SafeInteger) Int64() (int64, bool) {
	if !si.Valid() {
		return 0, false
	}
	return si.value, true
}

// Int returns the value of si, if valid and representable as an int.
func (si SafeInteger) Int() (int, bool) {
	v, ok := si.Int64()
	if !ok || v < math.MinInt || v > math.MaxInt {
		return 0, false
	}
	return int(v), true
}

// SafeNeg returns -i.
func SafeNeg[I Integer | SafeInteger](i I) SafeInteger {
	// -MinInt64 == MinInt64, so the invalid state maps to itself.
	return SafeInteger{-SafeInt(i).value}
}

// SafeAdd returns a+b.
func SafeAdd[A, B Integer | SafeInteger](a A, b B) SafeInteger {
	x, y := SafeInt(a), SafeInt(b)
	if !x.Valid() || !y.Valid() {
		return InvalidSafeInt
	}
	sum := x.value + y.value
	// Overflow flips the sign away from both operands.
	if (sum^x.value)&(sum^y.value) < 0 {
		return InvalidSafeInt
	}
	return SafeInteger{sum}
}

// SafeSub returns a-b.
func SafeSub[A, B Integer | SafeInteger](a A, b B) SafeInteger {
	return SafeAdd(a, SafeNeg(b))
}

// SafeMul returns a*b.
func SafeMul[A, B Integer | SafeInteger](a A, b B) SafeInteger {
	x, y := SafeInt(a), SafeInt(b)
	if !x.Valid() || !y.Valid() {
		return InvalidSafeInt
	}
	if x.value == 0 || y.value == 0 {
		return SafeInteger{0}
	}
	product := x.value * y.value
	if product/y.value != x.value || product == invalidSafeInt {
		return InvalidSafeInt
	}
	return SafeInteger{product}
}
