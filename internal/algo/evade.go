package algo

import "github.com/elektrokombinacija/agv-fleet-sim/internal/core"

// FindEvadeCell looks outward from `from` for a place to step aside during a
// head-on deadlock. It accepts the first available cell that is a dead end
// (one walkable neighbour) or a plain corridor cell reached after passing an
// intersection (more than two walkable neighbours). If neither exists it falls
// back to the first available intersection seen. The obstacle cell is never
// entered. available decides whether the caller may stand on a cell.
func FindEvadeCell(g *core.Grid, from, obstacle core.Pos, available func(core.Pos) bool) (core.Pos, bool) {
	type entry struct {
		pos                core.Pos
		passedIntersection bool
	}

	startCell, ok := g.At(from)
	if !ok {
		return core.Pos{}, false
	}

	visited := make(map[core.Pos]bool)
	visited[from] = true
	visited[obstacle] = true
	queue := []entry{{pos: from}}

	var fallback core.Pos
	haveFallback := false

	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]

		cell := startCell
		if e.pos != from {
			cell, _ = g.At(e.pos)
		}
		walkable := g.WalkableNeighbors(cell)
		passed := e.passedIntersection
		candidate := e.pos != from && available(e.pos)

		if walkable > 2 {
			passed = true
			if !haveFallback && candidate {
				fallback, haveFallback = e.pos, true
			}
		}
		if candidate {
			if walkable == 1 {
				return e.pos, true
			}
			if walkable == 2 && passed {
				return e.pos, true
			}
		}

		for _, n := range g.Neighbors(cell) {
			np := n.Pos()
			if n.Walkable() && !visited[np] {
				visited[np] = true
				queue = append(queue, entry{pos: np, passedIntersection: passed})
			}
		}
	}

	return fallback, haveFallback
}
