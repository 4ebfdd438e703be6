package methodcall

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestComputeLayoutMatchesEquivalentStruct pins the property that
// computing layout for a list of types equals the size and alignment of
// the equivalent declared struct.
func TestComputeLayoutMatchesEquivalentStruct(t *testing.T) {
	t.Parallel()

	type equivalent struct {
		A int8
		B int64
		C int16
	}

	layout := ComputeLayout(
		reflect.TypeOf(int8(0)),
		reflect.TypeOf(int64(0)),
		reflect.TypeOf(int16(0)),
	)

	require.Equal(t, reflect.TypeOf(equivalent{}).Size(), layout.Size)
	require.Equal(t, uintptr(reflect.TypeOf(equivalent{}).Align()), layout.Align)
}

// TestPackUnpackRoundTrip pins the round-trip property: pack args into
// a buffer, unpack typed pointers back out, and every value matches.
func TestPackUnpackRoundTrip(t *testing.T) {
	t.Parallel()

	layout := ComputeLayout(
		reflect.TypeOf(uint8(0)),
		reflect.TypeOf(uint32(0)),
		reflect.TypeOf(float64(0)),
	)

	buf := make([]byte, layout.Size)
	require.NoError(t, layout.Pack(buf, []any{uint8(7), uint32(1234), float64(3.5)}))

	require.Equal(t, uint8(7), *UnpackPtr[uint8](layout, buf, 0))
	require.Equal(t, uint32(1234), *UnpackPtr[uint32](layout, buf, 1))
	require.Equal(t, float64(3.5), *UnpackPtr[float64](layout, buf, 2))
}

func TestPackRejectsTypeMismatch(t *testing.T) {
	t.Parallel()

	layout := ComputeLayout(reflect.TypeOf(int32(0)))
	buf := make([]byte, layout.Size)

	err := layout.Pack(buf, []any{"not an int32"})
	require.Error(t, err)
}

func TestComputeLayoutEmpty(t *testing.T) {
	t.Parallel()

	layout := ComputeLayout()
	require.Equal(t, uintptr(0), layout.Size)
}
