// Package methodcall implements type-erased argument/return-value
// marshalling into a fixed-size per-instance call queue with an
// at-most-one in-flight slot policy.
package methodcall

import (
	"fmt"
	"reflect"
	"unsafe"
)

// Layout is the result of ComputeLayout: the size, alignment, and
// per-element byte offsets for packing a tuple of values into one
// contiguous buffer.
type Layout struct {
	Size    uintptr
	Align   uintptr
	Offsets []uintptr

	types []reflect.Type
}

// ComputeLayout computes the equivalent struct layout for types in order:
// the result matches the compiler's layout of the equivalent struct
// bit-for-bit, satisfied by actually asking
// reflect.StructOf to build that struct and reading its Size/Align/field
// offsets back, rather than reimplementing alignment arithmetic by hand.
func ComputeLayout(types ...reflect.Type) Layout {
	if len(types) == 0 {
		return Layout{Size: 0, Align: 1}
	}

	fields := make([]reflect.StructField, len(types))
	for i, t := range types {
		fields[i] = reflect.StructField{
			Name: fmt.Sprintf("F%d", i),
			Type: t,
		}
	}

	st := reflect.StructOf(fields)

	offsets := make([]uintptr, len(types))
	for i := range types {
		offsets[i] = st.Field(i).Offset
	}

	return Layout{
		Size:    st.Size(),
		Align:   uintptr(st.Align()),
		Offsets: offsets,
		types:   append([]reflect.Type(nil), types...),
	}
}

// Pack copies values into buf at the offsets this layout computed.
// len(values) must equal the arity ComputeLayout was given, and each
// value's dynamic type must equal the corresponding type exactly.
func (l Layout) Pack(buf []byte, values []any) error {
	if uintptr(len(buf)) < l.Size {
		return fmt.Errorf("methodcall: buffer too small: need %d, have %d", l.Size, len(buf))
	}

	if len(values) != len(l.types) {
		return fmt.Errorf("methodcall: value count %d does not match layout arity %d", len(values), len(l.types))
	}

	if len(buf) == 0 {
		return nil
	}

	base := unsafe.Pointer(&buf[0])

	for i, v := range values {
		rv := reflect.ValueOf(v)
		if rv.Type() != l.types[i] {
			return fmt.Errorf("methodcall: argument %d: expected %s, got %s", i, l.types[i], rv.Type())
		}

		dst := reflect.NewAt(l.types[i], unsafe.Pointer(uintptr(base)+l.Offsets[i])).Elem()
		dst.Set(rv)
	}

	return nil
}

// UnpackPtr returns a pointer to the i'th packed element in buf, typed as
// *T. Callers must supply the same T that ComputeLayout was given at
// index i; a mismatched T produces a pointer to the wrong offset's bytes.
// The only production call site, CallZeroCopy, unpacks index 0 of the
// return layout as the same R its ReturnPtr is typed with.
func UnpackPtr[T any](l Layout, buf []byte, i int) *T {
	if i < 0 || i >= len(l.Offsets) {
		panic(fmt.Sprintf("methodcall: index %d out of range for layout of arity %d", i, len(l.Offsets)))
	}

	if len(buf) == 0 {
		panic("methodcall: UnpackPtr on empty buffer")
	}

	base := unsafe.Pointer(&buf[0])

	return (*T)(unsafe.Pointer(uintptr(base) + l.Offsets[i])) //nolint:govet // intentional offset arithmetic into a caller-owned buffer
}
