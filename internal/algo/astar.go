package algo

import (
	"container/heap"
	"errors"
	"fmt"
	"strings"

	"github.com/elektrokombinacija/agv-fleet-sim/internal/core"
)

// Cost model: one step costs StepCost and each change of direction adds
// TurnPenalty, so straight runs win ties without changing path length.
const (
	StepCost    = 10
	TurnPenalty = 2
)

var (
	// ErrInvalidEndpoint means the start or goal cell is missing or not walkable.
	ErrInvalidEndpoint = errors.New("start or goal not walkable")
	// ErrNoPath means the open set was exhausted.
	ErrNoPath = errors.New("no path found")
)

// Algorithm selects the search strategy.
type Algorithm int

const (
	AStar    Algorithm = iota // Manhattan heuristic
	Dijkstra                  // Uniform cost, heuristic forced to 0
)

func (a Algorithm) String() string {
	switch a {
	case AStar:
		return "AStar"
	case Dijkstra:
		return "Dijkstra"
	default:
		return fmt.Sprintf("Algorithm(%d)", int(a))
	}
}

// ParseAlgorithm maps "astar"/"dijkstra" (any case) to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "astar", "a*", "":
		return AStar, nil
	case "dijkstra":
		return Dijkstra, nil
	default:
		return AStar, fmt.Errorf("unknown path algorithm %q", s)
	}
}

// Avoid is a set of cells a search must not enter.
type Avoid map[core.Pos]bool

// searchNode wraps a cell for the lifetime of one FindPath call.
type searchNode struct {
	pos    core.Pos
	g      int // Cost so far
	h      int // Heuristic to goal
	parent *searchNode
	dir    core.Direction // Direction of the move that reached this node
	seq    int            // Insertion order, last tie-breaker
	index  int            // heap index, -1 when not queued
	closed bool
}

func (n *searchNode) f() int { return n.g + n.h }

// searchHeap implements heap.Interface ordered by (f, h, seq).
type searchHeap []*searchNode

func (h searchHeap) Len() int { return len(h) }
func (h searchHeap) Less(i, j int) bool {
	fi, fj := h[i].f(), h[j].f()
	if fi != fj {
		return fi < fj
	}
	if h[i].h != h[j].h {
		return h[i].h < h[j].h
	}
	return h[i].seq < h[j].seq
}
func (h searchHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *searchHeap) Push(x any) {
	n := x.(*searchNode)
	n.index = len(*h)
	*h = append(*h, n)
}
func (h *searchHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	x.index = -1
	*h = old[0 : n-1]
	return x
}

// FindPath searches g for a route from start to goal. The returned path
// includes both endpoints. Cells in avoid and non-walkable cells are never
// entered; cells occupied by agents are not excluded here.
func FindPath(g *core.Grid, start, goal core.Pos, algo Algorithm, avoid Avoid) ([]core.Pos, error) {
	if !g.Walkable(start) || !g.Walkable(goal) {
		return nil, fmt.Errorf("path %s -> %s: %w", start, goal, ErrInvalidEndpoint)
	}
	if avoid[start] || avoid[goal] {
		return nil, fmt.Errorf("path %s -> %s: endpoint avoided: %w", start, goal, ErrNoPath)
	}

	heuristic := func(p core.Pos) int {
		if algo == Dijkstra {
			return 0
		}
		return StepCost * p.Manhattan(goal)
	}

	nodes := make([]*searchNode, g.Size())
	open := &searchHeap{}
	heap.Init(open)
	seq := 0

	startNode := &searchNode{pos: start, h: heuristic(start), seq: seq}
	nodes[g.Index(start)] = startNode
	heap.Push(open, startNode)

	for open.Len() > 0 {
		current := heap.Pop(open).(*searchNode)
		current.closed = true

		if current.pos == goal {
			return reconstructPath(current), nil
		}

		cell, _ := g.At(current.pos)
		for _, neighbor := range g.Neighbors(cell) {
			np := neighbor.Pos()
			if !neighbor.Walkable() || avoid[np] {
				continue
			}
			node := nodes[g.Index(np)]
			if node != nil && node.closed {
				continue
			}

			dir := current.pos.DirectionTo(np)
			cost := current.g + StepCost
			if current.dir != core.DirNone && dir != current.dir {
				cost += TurnPenalty
			}

			if node == nil {
				seq++
				node = &searchNode{pos: np, g: cost, h: heuristic(np), parent: current, dir: dir, seq: seq}
				nodes[g.Index(np)] = node
				heap.Push(open, node)
				continue
			}
			if cost < node.g {
				node.g = cost
				node.parent = current
				node.dir = dir
				heap.Fix(open, node.index)
			}
		}
	}

	return nil, fmt.Errorf("path %s -> %s: %w", start, goal, ErrNoPath)
}

func reconstructPath(node *searchNode) []core.Pos {
	var path []core.Pos
	for n := node; n != nil; n = n.parent {
		path = append(path, n.pos)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// PathCost returns the search cost of a path under the same cost model.
func PathCost(path []core.Pos) int {
	cost := 0
	prev := core.DirNone
	for i := 1; i < len(path); i++ {
		dir := path[i-1].DirectionTo(path[i])
		cost += StepCost
		if prev != core.DirNone && dir != prev {
			cost += TurnPenalty
		}
		prev = dir
	}
	return cost
}
