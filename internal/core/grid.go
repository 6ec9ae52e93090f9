package core

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
)

var (
	// ErrOutOfBounds is returned for coordinates outside the grid.
	ErrOutOfBounds = errors.New("cell out of bounds")
	// ErrNotWalkable is returned when an operation needs a walkable cell.
	ErrNotWalkable = errors.New("cell not walkable")
	// ErrCellOccupied is returned when a Kind change would strand an agent inside a wall.
	ErrCellOccupied = errors.New("cell occupied")
)

// Pos is an integer grid coordinate.
type Pos struct {
	X, Y int
}

func (p Pos) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// Step returns the neighbouring position in direction d.
func (p Pos) Step(d Direction) Pos {
	dx, dy := d.Delta()
	return Pos{X: p.X + dx, Y: p.Y + dy}
}

// Manhattan returns the 4-neighbour distance between p and q.
func (p Pos) Manhattan(q Pos) int {
	return abs(p.X-q.X) + abs(p.Y-q.Y)
}

// Euclidean returns the straight-line distance between p and q in cells.
func (p Pos) Euclidean(q Pos) float64 {
	return math.Hypot(float64(p.X-q.X), float64(p.Y-q.Y))
}

// DirectionTo returns the direction of a single step from p to an adjacent q,
// or DirNone when q is not a 4-neighbour of p.
func (p Pos) DirectionTo(q Pos) Direction {
	for _, d := range neighborOrder {
		if p.Step(d) == q {
			return d
		}
	}
	return DirNone
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Cell is one square of the warehouse floor.
type Cell struct {
	pos    Pos
	kind   atomic.Int32
	visits atomic.Int64
}

// Pos returns the cell coordinate.
func (c *Cell) Pos() Pos { return c.pos }

// Kind returns what the cell currently holds.
func (c *Cell) Kind() Kind { return Kind(c.kind.Load()) }

// Walkable reports whether agents may stand on the cell.
func (c *Cell) Walkable() bool { return c.Kind().Walkable() }

// Visits returns how many times an agent has arrived on the cell.
func (c *Cell) Visits() int { return int(c.visits.Load()) }

// Occupancy reports which agent holds a cell. The reservation table
// implements it; the grid only reads through it.
//
// Exclusive runs fn with the current holder of p while no claim on p can
// start or finish, so a Wall is never placed under a claiming agent.
type Occupancy interface {
	Holder(p Pos) AgentID
	Exclusive(p Pos, fn func(holder AgentID) error) error
}

// KindListener is notified after every Kind mutation.
type KindListener func(c *Cell, kind Kind)

// Grid is the fixed-size warehouse floor.
type Grid struct {
	width, height int
	cells         []*Cell
	byKind        map[Kind][]*Cell

	mu        sync.RWMutex // guards byKind, listeners and occupancy
	listeners []KindListener
	occupancy Occupancy
}

// NewGrid creates a width x height grid of Empty cells.
func NewGrid(width, height int) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("grid size %dx%d: dimensions must be positive", width, height)
	}
	g := &Grid{
		width:  width,
		height: height,
		cells:  make([]*Cell, width*height),
		byKind: make(map[Kind][]*Cell),
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := &Cell{pos: Pos{X: x, Y: y}}
			c.kind.Store(int32(Empty))
			g.cells[y*width+x] = c
			g.byKind[Empty] = append(g.byKind[Empty], c)
		}
	}
	return g, nil
}

// Width returns the number of columns.
func (g *Grid) Width() int { return g.width }

// Height returns the number of rows.
func (g *Grid) Height() int { return g.height }

// Size returns the total number of cells.
func (g *Grid) Size() int { return len(g.cells) }

// InBounds reports whether p lies on the grid.
func (g *Grid) InBounds(p Pos) bool {
	return p.X >= 0 && p.X < g.width && p.Y >= 0 && p.Y < g.height
}

// Index returns the dense index of p, valid for slices of length Size.
// p must be in bounds.
func (g *Grid) Index(p Pos) int {
	return p.Y*g.width + p.X
}

// Get returns the cell at (x, y), or false outside the grid.
func (g *Grid) Get(x, y int) (*Cell, bool) {
	return g.At(Pos{X: x, Y: y})
}

// At returns the cell at p, or false outside the grid.
func (g *Grid) At(p Pos) (*Cell, bool) {
	if !g.InBounds(p) {
		return nil, false
	}
	return g.cells[g.Index(p)], true
}

// Walkable reports whether p is on the grid and walkable.
func (g *Grid) Walkable(p Pos) bool {
	c, ok := g.At(p)
	return ok && c.Walkable()
}

// Neighbors returns the in-bounds N/S/E/W neighbours of c in a fixed order.
func (g *Grid) Neighbors(c *Cell) []*Cell {
	out := make([]*Cell, 0, 4)
	for _, d := range neighborOrder {
		if n, ok := g.At(c.pos.Step(d)); ok {
			out = append(out, n)
		}
	}
	return out
}

// WalkableNeighbors counts the walkable neighbours of c.
func (g *Grid) WalkableNeighbors(c *Cell) int {
	count := 0
	for _, n := range g.Neighbors(c) {
		if n.Walkable() {
			count++
		}
	}
	return count
}

// Cells returns every cell in row-major order.
func (g *Grid) Cells() []*Cell {
	out := make([]*Cell, len(g.cells))
	copy(out, g.cells)
	return out
}

// CellsOfKind returns the cells currently of kind k, in the order they
// acquired it. The result is a copy; it is empty when there are none.
func (g *Grid) CellsOfKind(k Kind) []*Cell {
	g.mu.RLock()
	defer g.mu.RUnlock()
	src := g.byKind[k]
	out := make([]*Cell, len(src))
	copy(out, src)
	return out
}

// AttachOccupancy lets SetKind refuse to wall in an agent.
func (g *Grid) AttachOccupancy(o Occupancy) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.occupancy = o
}

// Occupant returns the agent holding p, or NoAgent.
func (g *Grid) Occupant(p Pos) AgentID {
	g.mu.RLock()
	o := g.occupancy
	g.mu.RUnlock()
	if o == nil || !g.InBounds(p) {
		return NoAgent
	}
	return o.Holder(p)
}

// Subscribe registers a listener for Kind changes.
func (g *Grid) Subscribe(fn KindListener) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, fn)
}

// SetKind changes the kind of c and keeps the kind index in sync.
// Setting the current kind is a no-op. An occupied cell cannot become a Wall.
func (g *Grid) SetKind(c *Cell, kind Kind) error {
	if c == nil {
		return ErrOutOfBounds
	}
	if !kind.Valid() {
		return fmt.Errorf("set kind of %s: invalid kind %d", c.pos, int(kind))
	}

	g.mu.RLock()
	o := g.occupancy
	g.mu.RUnlock()

	changed := false
	apply := func(holder AgentID) error {
		if !kind.Walkable() && holder != NoAgent {
			return fmt.Errorf("set %s to %s: held by %s: %w", c.pos, kind, holder, ErrCellOccupied)
		}
		changed = g.swapKind(c, kind)
		return nil
	}
	var err error
	if o == nil || kind.Walkable() {
		err = apply(NoAgent)
	} else {
		err = o.Exclusive(c.pos, apply)
	}
	if err != nil || !changed {
		return err
	}

	g.mu.RLock()
	listeners := make([]KindListener, len(g.listeners))
	copy(listeners, g.listeners)
	g.mu.RUnlock()
	for _, fn := range listeners {
		fn(c, kind)
	}
	return nil
}

// swapKind moves c to kind in the index. It reports false when c already
// had that kind.
func (g *Grid) swapKind(c *Cell, kind Kind) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	old := c.Kind()
	if old == kind {
		return false
	}
	list := g.byKind[old]
	for i, other := range list {
		if other == c {
			g.byKind[old] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	g.byKind[kind] = append(g.byKind[kind], c)
	c.kind.Store(int32(kind))
	return true
}

// SetKindAt is SetKind addressed by coordinate.
func (g *Grid) SetKindAt(p Pos, kind Kind) error {
	c, ok := g.At(p)
	if !ok {
		return fmt.Errorf("set kind at %s: %w", p, ErrOutOfBounds)
	}
	return g.SetKind(c, kind)
}

// RecordVisit bumps the visit counter of the cell at p.
func (g *Grid) RecordVisit(p Pos) {
	c, ok := g.At(p)
	if !ok {
		return
	}
	c.visits.Add(1)
}

// MaxVisits returns the highest visit count on the grid.
func (g *Grid) MaxVisits() int {
	most := 0
	for _, c := range g.cells {
		if v := c.Visits(); v > most {
			most = v
		}
	}
	return most
}
