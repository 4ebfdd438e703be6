package methodcall

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aracom/lola/lola"
)

// TestQueueFull pins the end-to-end scenario: queue
// size 1, allocate in-args, allocate again without releasing fails with
// CallQueueFull, release, then allocate succeeds.
func TestQueueFull(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)

	pos, err := q.Acquire()
	require.NoError(t, err)
	require.Equal(t, 0, pos)

	q.setInArgActive(pos, 0, true)

	_, err = q.Acquire()
	require.ErrorIs(t, err, lola.ErrCallQueueFull)

	q.setInArgActive(pos, 0, false)

	pos2, err := q.Acquire()
	require.NoError(t, err)
	require.Equal(t, 0, pos2)
}

func TestQueueWithoutInArgsIgnoresInArgFlags(t *testing.T) {
	t.Parallel()

	q := NewQueue(0)

	pos, err := q.Acquire()
	require.NoError(t, err)

	q.setReturnActive(pos, true)

	_, err = q.Acquire()
	require.ErrorIs(t, err, lola.ErrCallQueueFull)

	q.setReturnActive(pos, false)

	_, err = q.Acquire()
	require.NoError(t, err)
}
