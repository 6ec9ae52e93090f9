package core

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOccupancy map[Pos]AgentID

func (f fakeOccupancy) Holder(p Pos) AgentID { return f[p] }

func (f fakeOccupancy) Exclusive(p Pos, fn func(AgentID) error) error { return fn(f[p]) }

func TestNewGrid_RejectsEmptyDimensions(t *testing.T) {
	_, err := NewGrid(0, 3)
	assert.Error(t, err)
	_, err = NewGrid(3, -1)
	assert.Error(t, err)
}

func TestGrid_GetBoundsChecked(t *testing.T) {
	g, err := NewGrid(4, 3)
	require.NoError(t, err)

	c, ok := g.Get(3, 2)
	require.True(t, ok)
	assert.Equal(t, Pos{X: 3, Y: 2}, c.Pos())

	for _, p := range []Pos{{-1, 0}, {4, 0}, {0, 3}, {0, -1}} {
		_, ok := g.At(p)
		assert.False(t, ok, "expected %v to be out of bounds", p)
	}
}

func TestGrid_Neighbors(t *testing.T) {
	g, err := NewGrid(3, 3)
	require.NoError(t, err)

	corner, _ := g.Get(0, 0)
	assert.Len(t, g.Neighbors(corner), 2)

	edge, _ := g.Get(1, 0)
	assert.Len(t, g.Neighbors(edge), 3)

	center, _ := g.Get(1, 1)
	got := g.Neighbors(center)
	require.Len(t, got, 4)
	// Fixed N, S, E, W order.
	assert.Equal(t, Pos{1, 2}, got[0].Pos())
	assert.Equal(t, Pos{1, 0}, got[1].Pos())
	assert.Equal(t, Pos{2, 1}, got[2].Pos())
	assert.Equal(t, Pos{0, 1}, got[3].Pos())
}

func TestGrid_SetKindKeepsIndexInSync(t *testing.T) {
	g, err := NewGrid(3, 3)
	require.NoError(t, err)
	assert.Len(t, g.CellsOfKind(Empty), 9)
	assert.Empty(t, g.CellsOfKind(WaitingArea))

	require.NoError(t, g.SetKindAt(Pos{1, 1}, WaitingArea))
	require.NoError(t, g.SetKindAt(Pos{2, 2}, WaitingArea))

	spots := g.CellsOfKind(WaitingArea)
	require.Len(t, spots, 2)
	assert.Equal(t, Pos{1, 1}, spots[0].Pos())
	assert.Equal(t, Pos{2, 2}, spots[1].Pos())
	assert.Len(t, g.CellsOfKind(Empty), 7)

	require.NoError(t, g.SetKindAt(Pos{1, 1}, Wall))
	assert.Len(t, g.CellsOfKind(WaitingArea), 1)
	assert.Len(t, g.CellsOfKind(Wall), 1)
	assert.False(t, g.Walkable(Pos{1, 1}))
}

func TestGrid_SetKindNotifiesListeners(t *testing.T) {
	g, err := NewGrid(2, 2)
	require.NoError(t, err)

	var events []Kind
	g.Subscribe(func(c *Cell, k Kind) {
		events = append(events, k)
	})

	require.NoError(t, g.SetKindAt(Pos{0, 0}, Shelf))
	require.NoError(t, g.SetKindAt(Pos{0, 0}, Shelf)) // unchanged: no event
	require.NoError(t, g.SetKindAt(Pos{0, 0}, Empty))

	assert.Equal(t, []Kind{Shelf, Empty}, events)
}

func TestGrid_SetKindRefusesToWallInAgent(t *testing.T) {
	g, err := NewGrid(2, 2)
	require.NoError(t, err)
	g.AttachOccupancy(fakeOccupancy{{1, 1}: 7})

	err = g.SetKindAt(Pos{1, 1}, Wall)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCellOccupied))

	// Walkable kinds are fine on an occupied cell.
	assert.NoError(t, g.SetKindAt(Pos{1, 1}, WaitingArea))
	assert.Equal(t, AgentID(7), g.Occupant(Pos{1, 1}))
}

func TestGrid_SetKindOutOfBounds(t *testing.T) {
	g, err := NewGrid(2, 2)
	require.NoError(t, err)
	assert.ErrorIs(t, g.SetKindAt(Pos{5, 5}, Wall), ErrOutOfBounds)
}

func TestGrid_RecordVisit(t *testing.T) {
	g, err := NewGrid(2, 2)
	require.NoError(t, err)

	g.RecordVisit(Pos{1, 0})
	g.RecordVisit(Pos{1, 0})
	g.RecordVisit(Pos{0, 0})
	g.RecordVisit(Pos{9, 9}) // ignored

	c, _ := g.Get(1, 0)
	assert.Equal(t, 2, c.Visits())
	assert.Equal(t, 2, g.MaxVisits())
}

func TestGrid_ConcurrentKindAndVisitAccess(t *testing.T) {
	g, err := NewGrid(4, 4)
	require.NoError(t, err)
	p := Pos{2, 2}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			kind := Wall
			if i%2 == 1 {
				kind = Empty
			}
			assert.NoError(t, g.SetKindAt(p, kind))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = g.Walkable(p)
			g.RecordVisit(p)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = g.MaxVisits()
			_ = g.CellsOfKind(Wall)
		}
	}()
	wg.Wait()

	c, _ := g.At(p)
	assert.Equal(t, Empty, c.Kind())
	assert.Equal(t, 500, c.Visits())
	assert.Len(t, g.CellsOfKind(Empty), 16)
}
