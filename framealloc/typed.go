package framealloc

import (
	"reflect"
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
)

// pointerFree caches the result of containsPointers per type.
var pointerFree sync.Map // reflect.Type -> bool

// Alloc returns n zero-initialized values of T from l.
//
// T must not contain Go pointers (including strings, slices, maps,
// interfaces, channels and funcs); Alloc panics otherwise.
func Alloc[T any](l *Local, n int) []T {
	checkPointerFree[T]()
	if n <= 0 {
		return nil
	}
	var zero T
	size := int(unsafe.Sizeof(zero))
	if size == 0 {
		return make([]T, n)
	}
	b := l.AllocAligned(size*n, int(unsafe.Alignof(zero)))
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), n)
}

// NewValue returns a pointer to one zero-initialized T from l.
func NewValue[T any](l *Local) *T {
	return &Alloc[T](l, 1)[0]
}

// Copy allocates len(src) values from l and copies src into them.
func Copy[T any](l *Local, src []T) []T {
	if len(src) == 0 {
		return nil
	}
	dst := Alloc[T](l, len(src))
	copy(dst, src)
	return dst
}

func checkPointerFree[T any]() {
	t := reflect.TypeFor[T]()
	if ok, cached := pointerFree.Load(t); cached {
		if !ok.(bool) {
			panic(errors.AssertionFailedf("framealloc: type %s contains pointers", t))
		}
		return
	}
	ok := !containsPointers(t)
	pointerFree.Store(t, ok)
	if !ok {
		panic(errors.AssertionFailedf("framealloc: type %s contains pointers", t))
	}
}

func containsPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.UnsafePointer, reflect.Map, reflect.Chan,
		reflect.Func, reflect.Interface, reflect.Slice, reflect.String:
		return true
	case reflect.Array:
		return t.Len() > 0 && containsPointers(t.Elem())
	case reflect.Struct:
		for i := range t.NumField() {
			if containsPointers(t.Field(i).Type) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
