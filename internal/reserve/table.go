// Package reserve holds the cell reservation table shared by every agent.
//
// A cell is claimed before an agent enters it and released once the agent has
// left. At most one agent holds a cell at a time. The table also records what
// each blocked agent is waiting for, which is enough to find circular waits
// and elect one agent to give way.
package reserve

import (
	"log/slog"
	"sync"

	"github.com/elektrokombinacija/agv-fleet-sim/internal/core"
)

// Table is the single source of truth for cell ownership.
// All methods are safe for concurrent use.
type Table struct {
	mu       sync.Mutex
	grid     *core.Grid
	holders  []core.AgentID // indexed by grid.Index
	waiting  map[core.AgentID]core.Pos
	evasions map[core.AgentID]int
	verdicts map[core.AgentID]Verdict
	logger   *slog.Logger
}

// Verdict is the role handed to each member of a resolved deadlock.
type Verdict int

const (
	NoVerdict Verdict = iota
	Evade             // step aside into a siding
	Yield             // drop the path and route around the contested cell
)

func (v Verdict) String() string {
	return [...]string{"none", "evade", "yield"}[v]
}

// New creates an empty table for g and attaches it as g's occupancy source.
func New(g *core.Grid) *Table {
	t := &Table{
		grid:     g,
		holders:  make([]core.AgentID, g.Size()),
		waiting:  make(map[core.AgentID]core.Pos),
		evasions: make(map[core.AgentID]int),
		verdicts: make(map[core.AgentID]Verdict),
		logger:   slog.Default().With("component", "reserve"),
	}
	g.AttachOccupancy(t)
	return t
}

// SetLogger replaces the table logger. Call it before the table is shared.
func (t *Table) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	t.logger = l.With("component", "reserve")
}

// TryClaim gives p to agent a if p is walkable and free. Claiming a cell the
// agent already holds succeeds. It never blocks.
func (t *Table) TryClaim(p core.Pos, a core.AgentID) bool {
	if a == core.NoAgent {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	// Kind changes to Wall run under t.mu via Exclusive.
	if !t.grid.Walkable(p) {
		return false
	}
	i := t.grid.Index(p)
	switch t.holders[i] {
	case a:
		return true
	case core.NoAgent:
		t.holders[i] = a
		return true
	default:
		return false
	}
}

// Release frees p if a holds it. Releasing a cell held by someone else, or by
// nobody, is a no-op and returns false.
func (t *Table) Release(p core.Pos, a core.AgentID) bool {
	if !t.grid.InBounds(p) {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.grid.Index(p)
	if t.holders[i] != a || a == core.NoAgent {
		return false
	}
	t.holders[i] = core.NoAgent
	return true
}

// Holder returns the agent holding p, or core.NoAgent.
func (t *Table) Holder(p core.Pos) core.AgentID {
	if !t.grid.InBounds(p) {
		return core.NoAgent
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.holders[t.grid.Index(p)]
}

// Exclusive runs fn with the holder of p while the table is locked. The grid
// uses it to wall a cell only when nobody holds it. fn must not call back
// into the table.
func (t *Table) Exclusive(p core.Pos, fn func(holder core.AgentID) error) error {
	if !t.grid.InBounds(p) {
		return fn(core.NoAgent)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return fn(t.holders[t.grid.Index(p)])
}

// Available reports whether a could claim p right now.
func (t *Table) Available(p core.Pos, a core.AgentID) bool {
	if !t.grid.Walkable(p) {
		return false
	}
	h := t.Holder(p)
	return h == core.NoAgent || h == a
}

// Held returns every cell a holds, in grid order.
func (t *Table) Held(a core.AgentID) []core.Pos {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []core.Pos
	for i, h := range t.holders {
		if h == a {
			out = append(out, core.Pos{X: i % t.grid.Width(), Y: i / t.grid.Width()})
		}
	}
	return out
}

// ReleaseAll drops every claim and wait entry of a. Used when an agent
// leaves the fleet.
func (t *Table) ReleaseAll(a core.AgentID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for i, h := range t.holders {
		if h == a {
			t.holders[i] = core.NoAgent
			n++
		}
	}
	delete(t.waiting, a)
	delete(t.verdicts, a)
	delete(t.evasions, a)
	return n
}

// Wait records that a is blocked on p.
func (t *Table) Wait(a core.AgentID, p core.Pos) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.waiting[a] = p
}

// StopWaiting clears the wait entry of a and any verdict not yet taken.
func (t *Table) StopWaiting(a core.AgentID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.waiting, a)
	delete(t.verdicts, a)
}

// WaitingOn returns the cell a is blocked on.
func (t *Table) WaitingOn(a core.AgentID) (core.Pos, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.waiting[a]
	return p, ok
}

// Evasions returns how many times a has been elected to give way.
func (t *Table) Evasions(a core.AgentID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.evasions[a]
}

// DetectDeadlock follows the wait-for chain starting at a and returns the
// agents on the cycle through a, starting with a. It returns nil when the
// chain ends or loops without coming back to a.
func (t *Table) DetectDeadlock(a core.AgentID) []core.AgentID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cycleLocked(a)
}

func (t *Table) cycleLocked(a core.AgentID) []core.AgentID {
	seen := make(map[core.AgentID]bool)
	cycle := []core.AgentID{a}
	seen[a] = true
	cur := a
	for {
		p, ok := t.waiting[cur]
		if !ok {
			return nil
		}
		next := t.holders[t.grid.Index(p)]
		if next == core.NoAgent {
			return nil
		}
		if next == a {
			return cycle
		}
		if seen[next] {
			return nil
		}
		seen[next] = true
		cycle = append(cycle, next)
		cur = next
	}
}

// ResolveDeadlock detects a cycle through a and, if there is one, elects the
// agent on it with the fewest prior evasions (lowest ID on ties). The evader
// gets the Evade verdict and every other member Yield. Wait entries of the
// whole cycle are cleared so the same cycle is never resolved twice. Members
// collect their verdict with TakeVerdict.
func (t *Table) ResolveDeadlock(a core.AgentID) (cycle []core.AgentID, evader core.AgentID, found bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cycle = t.cycleLocked(a)
	if len(cycle) < 2 {
		return nil, core.NoAgent, false
	}

	evader = cycle[0]
	for _, id := range cycle[1:] {
		ei, ee := t.evasions[id], t.evasions[evader]
		if ei < ee || (ei == ee && id < evader) {
			evader = id
		}
	}
	t.evasions[evader]++
	for _, id := range cycle {
		delete(t.waiting, id)
		t.verdicts[id] = Yield
	}
	t.verdicts[evader] = Evade

	t.logger.Debug("deadlock resolved", "cycle", cycle, "evader", evader, "evasions", t.evasions[evader])
	return cycle, evader, true
}

// TakeVerdict returns the verdict handed to a by the last resolved deadlock
// and clears it.
func (t *Table) TakeVerdict(a core.AgentID) Verdict {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := t.verdicts[a]
	delete(t.verdicts, a)
	return v
}
