package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrder_ValidatesEndpoints(t *testing.T) {
	g, err := NewGrid(3, 3)
	require.NoError(t, err)
	require.NoError(t, g.SetKindAt(Pos{1, 1}, Wall))

	o, err := NewOrder(1, g, Pos{0, 0}, Pos{2, 2}, 3.5)
	require.NoError(t, err)
	assert.Equal(t, Pending, o.Status)
	assert.Equal(t, 3.5, o.CreatedAt)

	_, err = NewOrder(2, g, Pos{1, 1}, Pos{2, 2}, 0)
	assert.ErrorIs(t, err, ErrNotWalkable)

	_, err = NewOrder(3, g, Pos{0, 0}, Pos{3, 0}, 0)
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestOrder_AdvanceIsStrictlySequential(t *testing.T) {
	g, err := NewGrid(2, 1)
	require.NoError(t, err)
	o, err := NewOrder(1, g, Pos{0, 0}, Pos{1, 0}, 0)
	require.NoError(t, err)

	assert.Error(t, o.Advance(PickedUp), "cannot skip Assigned")
	require.NoError(t, o.Advance(Assigned))
	assert.Error(t, o.Advance(Assigned), "cannot enter Assigned twice")
	require.NoError(t, o.Advance(PickedUp))
	require.NoError(t, o.Advance(Completed))
	assert.Error(t, o.Advance(Completed))

	o.CompletedAt = 12
	assert.Equal(t, 12.0, o.Duration())
}

func TestOrder_Reopen(t *testing.T) {
	g, err := NewGrid(2, 1)
	require.NoError(t, err)
	o, err := NewOrder(1, g, Pos{0, 0}, Pos{1, 0}, 0)
	require.NoError(t, err)

	require.NoError(t, o.Advance(Assigned))
	o.RealDistance = 3
	o.Reopen()
	assert.Equal(t, Pending, o.Status)
	assert.Equal(t, 3.0, o.RealDistance)
	assert.Equal(t, 1, o.Reopened)
	require.NoError(t, o.Advance(Assigned))
}

func TestOrder_ReopenAfterPickupRunsPickupAgain(t *testing.T) {
	g, err := NewGrid(2, 1)
	require.NoError(t, err)
	o, err := NewOrder(1, g, Pos{0, 0}, Pos{1, 0}, 0)
	require.NoError(t, err)

	o.Reopen()
	assert.Equal(t, 0, o.Reopened, "a Pending order is not reopened")

	require.NoError(t, o.Advance(Assigned))
	require.NoError(t, o.Advance(PickedUp))
	o.Reopen()
	assert.Equal(t, Pending, o.Status)
	assert.Equal(t, 1, o.Reopened)

	assert.Error(t, o.Advance(Completed), "the lost load must be picked up again")
	require.NoError(t, o.Advance(Assigned))
	require.NoError(t, o.Advance(PickedUp))
	require.NoError(t, o.Advance(Completed))

	o.Reopen()
	assert.Equal(t, Completed, o.Status)
	assert.Equal(t, 1, o.Reopened)
}
