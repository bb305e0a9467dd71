package state

import (
	"math"
	"reflect"
)

// SameValue is the equality policy used by every cell kind to decide whether
// a write is a change:
//
//   - floats (and complex parts) compare like JavaScript's Object.is:
//     NaN equals NaN, +0 and -0 differ
//   - other comparable values compare with ==
//   - slices are equal only when they share backing array, length and capacity
//   - maps and channels compare by identity
//   - funcs are equal only when both are nil
//   - any other non-comparable value (e.g. a struct holding a slice) is never
//     equal, so writing it always notifies
//
// It never compares deeply. Cells accept WithEquals to override it.
func SameValue[T any](a, b T) bool {
	switch av := any(a).(type) {
	case int:
		bv, ok := any(b).(int)
		return ok && av == bv
	case int64:
		bv, ok := any(b).(int64)
		return ok && av == bv
	case string:
		bv, ok := any(b).(string)
		return ok && av == bv
	case bool:
		bv, ok := any(b).(bool)
		return ok && av == bv
	case float64:
		bv, ok := any(b).(float64)
		return ok && sameFloat(av, bv)
	case float32:
		bv, ok := any(b).(float32)
		return ok && sameFloat(float64(av), float64(bv))
	}
	return sameReflect(reflect.ValueOf(any(a)), reflect.ValueOf(any(b)))
}

func sameFloat(x, y float64) bool {
	if math.IsNaN(x) && math.IsNaN(y) {
		return true
	}
	if x == 0 && y == 0 {
		return math.Signbit(x) == math.Signbit(y)
	}
	return x == y
}

func sameReflect(va, vb reflect.Value) bool {
	if !va.IsValid() || !vb.IsValid() {
		return va.IsValid() == vb.IsValid()
	}
	if va.Type() != vb.Type() {
		return false
	}

	switch va.Kind() {
	case reflect.Float32, reflect.Float64:
		return sameFloat(va.Float(), vb.Float())
	case reflect.Complex64, reflect.Complex128:
		ca, cb := va.Complex(), vb.Complex()
		return sameFloat(real(ca), real(cb)) && sameFloat(imag(ca), imag(cb))
	case reflect.Slice:
		return va.Len() == vb.Len() &&
			va.Cap() == vb.Cap() &&
			va.UnsafePointer() == vb.UnsafePointer()
	case reflect.Map, reflect.Chan:
		return va.UnsafePointer() == vb.UnsafePointer()
	case reflect.Func:
		return va.IsNil() && vb.IsNil()
	}

	if va.Comparable() && vb.Comparable() {
		return va.Equal(vb)
	}
	return false
}
