package methodcall

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeBinding struct {
	calledAt int
	fail     bool
}

func (b *fakeBinding) DoCall(queuePos int) error {
	b.calledAt = queuePos

	if b.fail {
		return errCallFailed
	}

	return nil
}

var errCallFailed = &callErr{}

type callErr struct{}

func (*callErr) Error() string { return "binding call failed" }

func TestCallCopyingRoundTrip(t *testing.T) {
	t.Parallel()

	queue := NewQueue(1)
	binding := &fakeBinding{}

	inLayout := ComputeLayout(reflect.TypeOf(int32(0)))
	returnLayout := ComputeLayout(reflect.TypeOf(int32(0)))

	ret, release, err := CallCopying[int32](queue, binding, inLayout, returnLayout, []any{int32(42)})
	require.NoError(t, err)

	defer release()
	defer ret.Close()

	require.Equal(t, 0, binding.calledAt)
}

func TestCallCopyingReleasesOnBindingFailure(t *testing.T) {
	t.Parallel()

	queue := NewQueue(1)
	binding := &fakeBinding{fail: true}

	inLayout := ComputeLayout(reflect.TypeOf(int32(0)))
	returnLayout := ComputeLayout(reflect.TypeOf(int32(0)))

	_, _, err := CallCopying[int32](queue, binding, inLayout, returnLayout, []any{int32(1)})
	require.Error(t, err)

	// Slot must be free again after a failed call.
	pos, err := queue.Acquire()
	require.NoError(t, err)
	require.Equal(t, 0, pos)
}

func TestInArgPtrCloseIsIdempotentAndMoveSuppresses(t *testing.T) {
	t.Parallel()

	queue := NewQueue(1)

	var v int32 = 9

	p := newInArgPtr[int32](queue, 0, 0, &v)
	require.True(t, queue.inArgActive[0][0])

	moved := p.Take()

	// p is moved-from: Close is a no-op, Get panics.
	p.Close()
	require.Panics(t, func() { p.Get() })

	require.True(t, queue.inArgActive[0][0])

	moved.Close()
	require.False(t, queue.inArgActive[0][0])

	// A second Close on the same handle is a no-op.
	moved.Close()
	require.False(t, queue.inArgActive[0][0])
}
