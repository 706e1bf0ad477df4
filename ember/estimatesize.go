package ember

import (
	"fmt"
	"reflect"
	"sort"
	"unsafe"
)

// EstimateSize returns the number of bytes the Go allocator uses for the
// value obj points to and everything reachable from it. Memory shared
// within the tree is counted once.
func EstimateSize(obj interface{}) int64 {
	if obj == nil {
		return 0
	}
	s := sizer{seen: make(map[uintptr]bool)}
	return int64(s.pointee(reflect.ValueOf(obj)))
}

// EstimateMakeSize returns the size of a slice made with room for n
// elements or a map made to hold n entries. If template holds one
// element, the memory each element references is assumed to be like
// that element's.
func EstimateMakeSize(template interface{}, n int) int64 {
	v := reflect.ValueOf(template)
	if v.Len() > 1 {
		panic(fmt.Sprintf("template length must be at most 1: got length %d", v.Len()))
	}

	s := sizer{seen: make(map[uintptr]bool)}
	var size, each uintptr
	switch v.Kind() {
	case reflect.Slice:
		size = roundAllocSize(uintptr(n) * v.Type().Elem().Size())
		if v.Len() == 1 {
			each = s.referenced(v.Index(0))
		}
	case reflect.Map:
		size = mapSize(v.Type(), n)
		if v.Len() == 1 {
			iter := v.MapRange()
			iter.Next()
			each = s.referenced(iter.Key()) + s.referenced(iter.Value())
		}
	default:
		panic(fmt.Sprintf("template must be a slice or map: got %s", v.Kind()))
	}
	return int64(size + uintptr(n)*each)
}

// A sizer walks a value tree, remembering the addresses it has counted.
type sizer struct {
	seen map[uintptr]bool
}

// pointee returns the size of the block v points to, plus what it
// references. Non-pointers are treated as if boxed.
func (s *sizer) pointee(v reflect.Value) uintptr {
	if v.Kind() != reflect.Ptr {
		return s.block(v)
	}
	if v.IsNil() || s.seen[v.Pointer()] {
		return 0
	}
	return s.block(v.Elem())
}

// block returns the size of a heap block holding v, plus what v
// references.
func (s *sizer) block(v reflect.Value) uintptr {
	switch v.Kind() {
	case reflect.String:
		if v.Len() == 0 {
			return 0
		}
		return roundAllocSize(v.Type().Size()) + roundAllocSize(uintptr(v.Len()))
	case reflect.Map:
		return s.mapping(v)
	}
	return roundAllocSize(v.Type().Size()) + s.referenced(v)
}

// referenced returns the size of the memory v references, not counting
// v itself.
func (s *sizer) referenced(v reflect.Value) uintptr {
	// A pointer to v, or to a field of it, must not count v again.
	if v.CanAddr() {
		s.seen[v.Addr().Pointer()] = true
	}

	var size uintptr
	switch v.Kind() {
	case reflect.Interface:
		if !v.IsNil() {
			size = s.pointee(v.Elem())
		}
	case reflect.Ptr:
		size = s.pointee(v)
	case reflect.Map:
		size = s.mapping(v)
	case reflect.String:
		size = roundAllocSize(uintptr(v.Len()))
	case reflect.Slice:
		if !v.IsNil() {
			size = roundAllocSize(v.Type().Elem().Size() * uintptr(v.Cap()))
			size += s.elements(v)
		}
	case reflect.Array:
		size = s.elements(v)
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			size += s.referenced(v.Field(i))
		}
	}
	return size
}

func (s *sizer) elements(v reflect.Value) uintptr {
	var size uintptr
	for i := 0; i < v.Len(); i++ {
		size += s.referenced(v.Index(i))
	}
	return size
}

func (s *sizer) mapping(v reflect.Value) uintptr {
	if v.IsNil() || s.seen[v.Pointer()] {
		return 0
	}
	s.seen[v.Pointer()] = true

	size := mapSize(v.Type(), v.Len())
	iter := v.MapRange()
	for iter.Next() {
		size += s.referenced(iter.Key()) + s.referenced(iter.Value())
	}
	return size
}

// mapSize over-approximates the memory of a map of type t holding n
// entries, since Go does not expose a map's capacity. It is a linear fit
// of measured sizes.
func mapSize(t reflect.Type, n int) uintptr {
	const fixed = 204*unsafe.Sizeof(uintptr(0)) + 280
	return roundAllocSize(uintptr(n)*mapEntrySize(t.Key().Size(), t.Elem().Size())) + fixed
}

// mapEntrySize returns the bucket space of one entry. Keys and values
// over 128 bytes are stored out of line, behind a pointer.
func mapEntrySize(k, v uintptr) uintptr {
	const inline = 128
	const ptr = unsafe.Sizeof(uintptr(0))

	var extra uintptr
	if k >= inline {
		extra += k
		k = ptr
	}
	if v >= inline {
		extra += v
		v = ptr
	}
	return (k+v+1)*4 + ptr + extra
}

// roundAllocSize returns the size of the block Go allocates for size
// bytes. Small allocations are grouped, so the minimum is 16.
func roundAllocSize(size uintptr) uintptr {
	const tinyAllocMaxSize = 16

	switch {
	case size == 0:
		return 0
	case size < tinyAllocMaxSize:
		return tinyAllocMaxSize
	default:
		return roundupsize(size)
	}
}

// sizeClasses are the object sizes of the Go allocator's small-object
// size classes (runtime/sizeclasses.go).
var sizeClasses = [...]uintptr{
	8, 16, 24, 32, 48, 64, 80, 96, 112, 128, 144, 160, 176, 192, 208, 224,
	240, 256, 288, 320, 352, 384, 416, 448, 480, 512, 576, 640, 704, 768,
	896, 1024, 1152, 1280, 1408, 1536, 1792, 2048, 2304, 2688, 3072, 3200,
	3456, 4096, 4864, 5376, 6144, 6528, 6784, 6912, 8192, 9472, 9728, 10240,
	10880, 12288, 13568, 14336, 16384, 18432, 19072, 20480, 21760, 24576,
	27264, 28672, 32768,
}

const pageSize = 8192

// roundupsize returns the size of the memory block that the Go allocator
// would use for an allocation of the given size.
func roundupsize(size uintptr) uintptr {
	if size <= sizeClasses[len(sizeClasses)-1] {
		i := sort.Search(len(sizeClasses), func(i int) bool { return sizeClasses[i] >= size })
		return sizeClasses[i]
	}
	if size+pageSize < size {
		return size
	}
	return (size + pageSize - 1) &^ (pageSize - 1)
}
