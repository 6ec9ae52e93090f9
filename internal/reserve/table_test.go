package reserve

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elektrokombinacija/agv-fleet-sim/internal/core"
)

func newTable(t *testing.T, w, h int) (*core.Grid, *Table) {
	t.Helper()
	g, err := core.NewGrid(w, h)
	require.NoError(t, err)
	return g, New(g)
}

func TestTryClaim(t *testing.T) {
	g, tbl := newTable(t, 3, 3)
	require.NoError(t, g.SetKindAt(core.Pos{X: 2, Y: 2}, core.Wall))

	assert.True(t, tbl.TryClaim(core.Pos{X: 0, Y: 0}, 1))
	assert.True(t, tbl.TryClaim(core.Pos{X: 0, Y: 0}, 1), "re-claim by holder is idempotent")
	assert.False(t, tbl.TryClaim(core.Pos{X: 0, Y: 0}, 2))
	assert.Equal(t, core.AgentID(1), tbl.Holder(core.Pos{X: 0, Y: 0}))

	assert.False(t, tbl.TryClaim(core.Pos{X: 2, Y: 2}, 1), "walls cannot be claimed")
	assert.False(t, tbl.TryClaim(core.Pos{X: 5, Y: 5}, 1), "off-grid cells cannot be claimed")
	assert.False(t, tbl.TryClaim(core.Pos{X: 1, Y: 1}, core.NoAgent))
}

func TestRelease(t *testing.T) {
	_, tbl := newTable(t, 2, 2)
	p := core.Pos{X: 1, Y: 0}
	require.True(t, tbl.TryClaim(p, 1))

	assert.False(t, tbl.Release(p, 2), "non-holder release is a no-op")
	assert.Equal(t, core.AgentID(1), tbl.Holder(p))
	assert.True(t, tbl.Release(p, 1))
	assert.Equal(t, core.NoAgent, tbl.Holder(p))
	assert.False(t, tbl.Release(p, 1))

	assert.True(t, tbl.TryClaim(p, 2), "released cell is claimable again")
}

func TestTableGuardsGridMutation(t *testing.T) {
	g, tbl := newTable(t, 2, 1)
	require.True(t, tbl.TryClaim(core.Pos{X: 0, Y: 0}, 4))

	err := g.SetKindAt(core.Pos{X: 0, Y: 0}, core.Wall)
	assert.ErrorIs(t, err, core.ErrCellOccupied)

	require.True(t, tbl.Release(core.Pos{X: 0, Y: 0}, 4))
	assert.NoError(t, g.SetKindAt(core.Pos{X: 0, Y: 0}, core.Wall))
}

func TestReleaseAll(t *testing.T) {
	_, tbl := newTable(t, 3, 1)
	require.True(t, tbl.TryClaim(core.Pos{X: 0, Y: 0}, 1))
	require.True(t, tbl.TryClaim(core.Pos{X: 1, Y: 0}, 1))
	require.True(t, tbl.TryClaim(core.Pos{X: 2, Y: 0}, 2))
	tbl.Wait(1, core.Pos{X: 2, Y: 0})

	assert.Equal(t, []core.Pos{{X: 0, Y: 0}, {X: 1, Y: 0}}, tbl.Held(1))
	assert.Equal(t, 2, tbl.ReleaseAll(1))
	assert.Empty(t, tbl.Held(1))
	_, waiting := tbl.WaitingOn(1)
	assert.False(t, waiting)
	assert.Equal(t, core.AgentID(2), tbl.Holder(core.Pos{X: 2, Y: 0}))
}

func TestDetectDeadlock_HeadOn(t *testing.T) {
	_, tbl := newTable(t, 2, 1)
	a, b := core.Pos{X: 0, Y: 0}, core.Pos{X: 1, Y: 0}
	require.True(t, tbl.TryClaim(a, 1))
	require.True(t, tbl.TryClaim(b, 2))

	tbl.Wait(1, b)
	assert.Nil(t, tbl.DetectDeadlock(1), "one-sided wait is not a deadlock")

	tbl.Wait(2, a)
	assert.Equal(t, []core.AgentID{1, 2}, tbl.DetectDeadlock(1))
	assert.Equal(t, []core.AgentID{2, 1}, tbl.DetectDeadlock(2))
}

func TestDetectDeadlock_LongerCycle(t *testing.T) {
	_, tbl := newTable(t, 2, 2)
	cells := []core.Pos{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}
	for i, p := range cells {
		require.True(t, tbl.TryClaim(p, core.AgentID(i+1)))
	}
	// Each agent waits on the next agent's cell.
	for i := range cells {
		tbl.Wait(core.AgentID(i+1), cells[(i+1)%len(cells)])
	}

	assert.Equal(t, []core.AgentID{3, 4, 1, 2}, tbl.DetectDeadlock(3))

	// A tail into the cycle is not part of a cycle through the tail.
	tbl.StopWaiting(4)
	assert.Nil(t, tbl.DetectDeadlock(1))
}

func TestResolveDeadlock_ElectsOnce(t *testing.T) {
	_, tbl := newTable(t, 2, 1)
	a, b := core.Pos{X: 0, Y: 0}, core.Pos{X: 1, Y: 0}
	require.True(t, tbl.TryClaim(a, 5))
	require.True(t, tbl.TryClaim(b, 3))
	tbl.Wait(5, b)
	tbl.Wait(3, a)

	cycle, evader, found := tbl.ResolveDeadlock(5)
	require.True(t, found)
	assert.Equal(t, []core.AgentID{5, 3}, cycle)
	assert.Equal(t, core.AgentID(3), evader, "lower ID wins a tie on evasions")
	assert.Equal(t, 1, tbl.Evasions(3))

	// Neither side sees the cycle any more.
	_, _, found = tbl.ResolveDeadlock(3)
	assert.False(t, found)
	_, _, found = tbl.ResolveDeadlock(5)
	assert.False(t, found)

	assert.Equal(t, Yield, tbl.TakeVerdict(5))
	assert.Equal(t, Evade, tbl.TakeVerdict(3))
	assert.Equal(t, NoVerdict, tbl.TakeVerdict(3), "verdict is consumed")
}

func TestResolveDeadlock_RotatesEvader(t *testing.T) {
	_, tbl := newTable(t, 2, 1)
	a, b := core.Pos{X: 0, Y: 0}, core.Pos{X: 1, Y: 0}
	require.True(t, tbl.TryClaim(a, 1))
	require.True(t, tbl.TryClaim(b, 2))

	var evaders []core.AgentID
	for i := 0; i < 4; i++ {
		tbl.Wait(1, b)
		tbl.Wait(2, a)
		_, evader, found := tbl.ResolveDeadlock(1)
		require.True(t, found)
		evaders = append(evaders, evader)
		tbl.StopWaiting(1)
		tbl.StopWaiting(2)
	}
	assert.Equal(t, []core.AgentID{1, 2, 1, 2}, evaders)
}

func TestTryClaim_ConcurrentSingleWinner(t *testing.T) {
	_, tbl := newTable(t, 4, 4)
	target := core.Pos{X: 2, Y: 2}

	const agents = 32
	var wg sync.WaitGroup
	wins := make(chan core.AgentID, agents)
	for i := 1; i <= agents; i++ {
		wg.Add(1)
		go func(id core.AgentID) {
			defer wg.Done()
			if tbl.TryClaim(target, id) {
				wins <- id
			}
		}(core.AgentID(i))
	}
	wg.Wait()
	close(wins)

	var winners []core.AgentID
	for id := range wins {
		winners = append(winners, id)
	}
	require.Len(t, winners, 1)
	assert.Equal(t, winners[0], tbl.Holder(target))
}

func TestTryClaim_ConcurrentWithWallPlacement(t *testing.T) {
	for round := 0; round < 200; round++ {
		g, tbl := newTable(t, 3, 3)
		p := core.Pos{X: 1, Y: 1}

		var wg sync.WaitGroup
		var claimed bool
		var wallErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			claimed = tbl.TryClaim(p, 1)
		}()
		go func() {
			defer wg.Done()
			wallErr = g.SetKindAt(p, core.Wall)
		}()
		wg.Wait()

		c, _ := g.At(p)
		if claimed {
			require.ErrorIs(t, wallErr, core.ErrCellOccupied, "round %d", round)
			assert.True(t, c.Walkable())
			assert.Equal(t, core.AgentID(1), tbl.Holder(p))
		} else {
			require.NoError(t, wallErr, "round %d", round)
			assert.Equal(t, core.Wall, c.Kind())
			assert.Equal(t, core.NoAgent, tbl.Holder(p))
		}
	}
}

func TestStopWaitingDropsVerdict(t *testing.T) {
	_, tbl := newTable(t, 2, 1)
	require.True(t, tbl.TryClaim(core.Pos{X: 0, Y: 0}, 1))
	require.True(t, tbl.TryClaim(core.Pos{X: 1, Y: 0}, 2))
	tbl.Wait(1, core.Pos{X: 1, Y: 0})
	tbl.Wait(2, core.Pos{X: 0, Y: 0})

	_, _, found := tbl.ResolveDeadlock(2)
	require.True(t, found)
	tbl.StopWaiting(2)
	assert.Equal(t, NoVerdict, tbl.TakeVerdict(2))
	assert.Equal(t, Evade, tbl.TakeVerdict(1))
}

func TestSetLoggerTagsDeadlockResolution(t *testing.T) {
	var buf bytes.Buffer
	_, tbl := newTable(t, 2, 1)
	tbl.SetLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	require.True(t, tbl.TryClaim(core.Pos{X: 0, Y: 0}, 1))
	require.True(t, tbl.TryClaim(core.Pos{X: 1, Y: 0}, 2))
	tbl.Wait(1, core.Pos{X: 1, Y: 0})
	tbl.Wait(2, core.Pos{X: 0, Y: 0})
	_, _, found := tbl.ResolveDeadlock(1)
	require.True(t, found)

	assert.Contains(t, buf.String(), `"component":"reserve"`)
	assert.Contains(t, buf.String(), `"msg":"deadlock resolved"`)
}
