package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGuardBeginRejectsSecondTurn(t *testing.T) {
	var g responseGuard
	require.NoError(t, g.begin())
	require.ErrorIs(t, g.begin(), ErrResponsePending)

	pending, id := g.outstanding()
	require.True(t, pending)
	require.Empty(t, id)
}

func TestGuardFinishCorrelatesByID(t *testing.T) {
	var g responseGuard
	require.NoError(t, g.begin())
	g.started("resp_1")

	// A completion for some other response leaves the slot claimed.
	require.False(t, g.finish("resp_2"))
	pending, id := g.outstanding()
	require.True(t, pending)
	require.Equal(t, "resp_1", id)

	require.True(t, g.finish("resp_1"))
	pending, _ = g.outstanding()
	require.False(t, pending)
}

func TestGuardFinishWithoutID(t *testing.T) {
	var g responseGuard
	require.NoError(t, g.begin())
	require.True(t, g.finish(""))

	require.NoError(t, g.begin())
	g.started("resp_9")
	// No identifier on either side of the mismatch check clears.
	require.True(t, g.finish(""))
}

func TestGuardFinishIdleIsNoop(t *testing.T) {
	var g responseGuard
	require.False(t, g.finish("resp_1"))
}

func TestGuardReset(t *testing.T) {
	var g responseGuard
	require.NoError(t, g.begin())
	g.started("resp_3")
	g.reset()
	pending, id := g.outstanding()
	require.False(t, pending)
	require.Empty(t, id)
	require.NoError(t, g.begin())
}
