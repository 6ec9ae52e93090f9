// Package fleet implements the per-agent motion state machine and the roster
// that ticks it.
//
// Agents never run concurrently: Fleet.Tick advances each agent in
// registration order. All cell ownership still goes through the reservation
// table, so two agents can never stand on or enter the same cell.
package fleet

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/elektrokombinacija/agv-fleet-sim/internal/algo"
	"github.com/elektrokombinacija/agv-fleet-sim/internal/core"
	"github.com/elektrokombinacija/agv-fleet-sim/internal/reserve"
)

var (
	// ErrNotIdle is returned when an order is offered to a busy agent.
	ErrNotIdle = errors.New("agent not idle")
	// ErrCellUnavailable is returned when spawning on a wall, off the grid or
	// on a held cell.
	ErrCellUnavailable = errors.New("cell unavailable")
	// ErrUnknownAgent is returned for IDs not in the roster.
	ErrUnknownAgent = errors.New("unknown agent")
)

// Fleet owns the agents and the shared motion parameters.
type Fleet struct {
	grid      *core.Grid
	table     *reserve.Table
	params    Params
	algorithm algo.Algorithm

	agents []*Agent // registration order
	nextID core.AgentID

	rng      *rand.Rand
	observer Observer
	onIdle   func(*Agent)
	logger   *slog.Logger
}

// New creates an empty fleet on g. Claims go through table.
func New(g *core.Grid, table *reserve.Table, params Params) *Fleet {
	return &Fleet{
		grid:      g,
		table:     table,
		params:    params,
		algorithm: algo.AStar,
		rng:       rand.New(rand.NewSource(1)),
		observer:  NopObserver{},
		logger:    slog.Default().With("component", "fleet"),
	}
}

// SetAlgorithm switches the path search used by every later search.
// Paths already planned are kept.
func (f *Fleet) SetAlgorithm(a algo.Algorithm) {
	if a != f.algorithm {
		f.logger.Info("path algorithm changed", "from", f.algorithm, "to", a)
	}
	f.algorithm = a
}

// Algorithm returns the active path search.
func (f *Fleet) Algorithm() algo.Algorithm { return f.algorithm }

// SetObserver installs the event sink. nil disables events.
func (f *Fleet) SetObserver(o Observer) {
	if o == nil {
		o = NopObserver{}
	}
	f.observer = o
}

// SetRand replaces the source used for wait timeouts and siding holds.
func (f *Fleet) SetRand(r *rand.Rand) { f.rng = r }

// SetLogger replaces the fleet logger.
func (f *Fleet) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	f.logger = l.With("component", "fleet")
	for _, a := range f.agents {
		a.log = f.logger.With("agent", a.id.String())
	}
}

// SetIdleHook registers fn to run whenever an agent becomes Idle, so queued
// orders can be handed out without waiting for the next tick.
func (f *Fleet) SetIdleHook(fn func(*Agent)) { f.onIdle = fn }

// Params returns the motion parameters.
func (f *Fleet) Params() Params { return f.params }

// Spawn places a new Idle agent on p and claims the cell for it.
func (f *Fleet) Spawn(p core.Pos) (*Agent, error) {
	if !f.grid.Walkable(p) {
		return nil, fmt.Errorf("spawn at %s: not a walkable cell: %w", p, ErrCellUnavailable)
	}
	id := f.nextID + 1
	if !f.table.TryClaim(p, id) {
		return nil, fmt.Errorf("spawn at %s: held by %s: %w", p, f.table.Holder(p), ErrCellUnavailable)
	}
	f.nextID = id

	a := &Agent{
		id:    id,
		fleet: f,
		log:   f.logger.With("agent", id.String()),
		pos:   p,
		dest:  p,
		state: Idle,
		phase: phaseHalted,
	}
	f.agents = append(f.agents, a)
	f.logger.Info("agent spawned", "agent", id, "cell", p)
	return a, nil
}

// Remove takes an agent out of the fleet and frees every cell it holds. An
// order it was carrying is reopened and returned so it can be queued again.
func (f *Fleet) Remove(id core.AgentID) (*core.Order, error) {
	for i, a := range f.agents {
		if a.id != id {
			continue
		}
		f.agents = append(f.agents[:i:i], f.agents[i+1:]...)
		released := f.table.ReleaseAll(id)

		a.gone = true
		a.phase = phaseHalted
		a.path = nil
		o := a.order
		a.order = nil
		a.state = Idle
		if o != nil {
			o.Reopen()
		}
		f.logger.Info("agent removed", "agent", id, "released", released, "order_returned", o != nil)
		return o, nil
	}
	return nil, fmt.Errorf("remove %s: %w", id, ErrUnknownAgent)
}

// Agent returns the agent with the given ID.
func (f *Fleet) Agent(id core.AgentID) (*Agent, bool) {
	for _, a := range f.agents {
		if a.id == id {
			return a, true
		}
	}
	return nil, false
}

// Agents returns the roster in registration order.
func (f *Fleet) Agents() []*Agent {
	out := make([]*Agent, len(f.agents))
	copy(out, f.agents)
	return out
}

// Len returns the number of agents.
func (f *Fleet) Len() int { return len(f.agents) }

// NextIdle returns the first Idle agent in registration order, or nil.
func (f *Fleet) NextIdle() *Agent {
	for _, a := range f.agents {
		if a.state == Idle && a.order == nil {
			return a
		}
	}
	return nil
}

// IdleCount returns how many agents are Idle.
func (f *Fleet) IdleCount() int {
	n := 0
	for _, a := range f.agents {
		if a.state == Idle {
			n++
		}
	}
	return n
}

// Tick advances every agent from now by dt seconds, in registration order.
func (f *Fleet) Tick(now, dt float64) {
	for _, a := range f.Agents() {
		if !a.gone {
			a.step(now, dt)
		}
	}
}

func (f *Fleet) notifyIdle(a *Agent) {
	if f.onIdle != nil {
		f.onIdle(a)
	}
}

// nearestWaitingArea picks the free WaitingArea cell closest to a in straight
// line distance. Ties keep the first cell found.
func (f *Fleet) nearestWaitingArea(a *Agent) (core.Pos, bool) {
	var best core.Pos
	bestDist := -1.0
	for _, c := range f.grid.CellsOfKind(core.WaitingArea) {
		p := c.Pos()
		if !f.table.Available(p, a.id) {
			continue
		}
		if d := a.pos.Euclidean(p); bestDist < 0 || d < bestDist {
			best, bestDist = p, d
		}
	}
	return best, bestDist >= 0
}

func (f *Fleet) randBetween(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + f.rng.Float64()*(hi-lo)
}
