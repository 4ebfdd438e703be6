package registration

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScopedRegistrationFiresOnceWhenScopeLive(t *testing.T) {
	t.Parallel()

	var scope Scope

	calls := 0
	r := New(&scope, func() { calls++ })

	r.Close()
	r.Close() // idempotent: no second firing

	require.Equal(t, 1, calls)
}

func TestScopedRegistrationSuppressedAfterScopeExpiry(t *testing.T) {
	t.Parallel()

	var scope Scope

	calls := 0
	r := New(&scope, func() { calls++ })

	scope.Expire()
	r.Close()

	require.Equal(t, 0, calls)
}

// TestMove exercises move-assignment: g1 =
// move(g2). g1's original action fires exactly once at the assignment;
// G2 becomes moved-from; later closing G1 fires G2's original action
// exactly once; closing G2 fires nothing.
func TestMove(t *testing.T) {
	t.Parallel()

	var scope Scope

	g1Fired, g2Fired := 0, 0

	g1 := New(&scope, func() { g1Fired++ })
	g2 := New(&scope, func() { g2Fired++ })

	g1.MoveAssign(g2) // G1 = std::move(G2)

	require.Equal(t, 1, g1Fired, "G1's original action must fire exactly once at the move")
	require.Equal(t, 0, g2Fired)

	g1.Close()
	require.Equal(t, 1, g2Fired, "G1 now owns G2's registration")

	g2.Close()
	require.Equal(t, 1, g2Fired, "G2 is moved-from; closing it fires nothing")
}

func TestTakeSuppressesSourceAction(t *testing.T) {
	t.Parallel()

	var scope Scope

	calls := 0
	r := New(&scope, func() { calls++ })

	moved := r.Take()

	r.Close() // moved-from: no-op
	require.Equal(t, 0, calls)

	moved.Close()
	require.Equal(t, 1, calls)
}
