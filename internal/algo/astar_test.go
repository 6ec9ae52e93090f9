package algo

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/elektrokombinacija/agv-fleet-sim/internal/core"
)

// createGrid creates an open w x h grid.
func createGrid(t *testing.T, w, h int) *core.Grid {
	t.Helper()
	g, err := core.NewGrid(w, h)
	if err != nil {
		t.Fatalf("NewGrid(%d, %d): %v", w, h, err)
	}
	return g
}

// checkPath verifies that consecutive cells are 4-neighbours and the ends match.
func checkPath(t *testing.T, path []core.Pos, start, goal core.Pos) {
	t.Helper()
	if len(path) == 0 {
		t.Fatal("empty path")
	}
	if path[0] != start || path[len(path)-1] != goal {
		t.Fatalf("path runs %v -> %v, want %v -> %v", path[0], path[len(path)-1], start, goal)
	}
	for i := 1; i < len(path); i++ {
		if path[i-1].Manhattan(path[i]) != 1 {
			t.Fatalf("path jumps from %v to %v at step %d", path[i-1], path[i], i)
		}
	}
}

func countTurns(path []core.Pos) int {
	turns := 0
	for i := 2; i < len(path); i++ {
		if path[i-2].DirectionTo(path[i-1]) != path[i-1].DirectionTo(path[i]) {
			turns++
		}
	}
	return turns
}

type occupiedEverywhere struct{}

func (occupiedEverywhere) Holder(core.Pos) core.AgentID { return 99 }

func (occupiedEverywhere) Exclusive(_ core.Pos, fn func(core.AgentID) error) error { return fn(99) }

func TestFindPath_OpenGridLengthIsManhattanPlusOne(t *testing.T) {
	g := createGrid(t, 6, 5)

	for _, algo := range []Algorithm{AStar, Dijkstra} {
		for _, start := range g.Cells() {
			for _, goal := range g.Cells() {
				s, e := start.Pos(), goal.Pos()
				path, err := FindPath(g, s, e, algo, nil)
				if err != nil {
					t.Fatalf("%v %v -> %v: %v", algo, s, e, err)
				}
				checkPath(t, path, s, e)
				if want := s.Manhattan(e) + 1; len(path) != want {
					t.Errorf("%v %v -> %v: len %d, want %d", algo, s, e, len(path), want)
				}
			}
		}
	}
}

func TestFindPath_FiveByFiveExample(t *testing.T) {
	g := createGrid(t, 5, 5)

	toPickup, err := FindPath(g, core.Pos{X: 0, Y: 0}, core.Pos{X: 4, Y: 0}, AStar, nil)
	if err != nil {
		t.Fatal(err)
	}
	toDelivery, err := FindPath(g, core.Pos{X: 4, Y: 0}, core.Pos{X: 4, Y: 4}, AStar, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(toPickup) != 5 || len(toDelivery) != 5 {
		t.Errorf("Expected 5-cell legs, got %d and %d", len(toPickup), len(toDelivery))
	}
}

func TestFindPath_NeverEntersWallsOrAvoidedCells(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 40; trial++ {
		g := createGrid(t, 8, 8)
		for _, c := range g.Cells() {
			if rng.Float64() < 0.25 {
				if err := g.SetKind(c, core.Wall); err != nil {
					t.Fatal(err)
				}
			}
		}
		avoid := Avoid{}
		for i := 0; i < 4; i++ {
			avoid[core.Pos{X: rng.Intn(8), Y: rng.Intn(8)}] = true
		}

		for i := 0; i < 20; i++ {
			s := core.Pos{X: rng.Intn(8), Y: rng.Intn(8)}
			e := core.Pos{X: rng.Intn(8), Y: rng.Intn(8)}
			path, err := FindPath(g, s, e, AStar, avoid)
			if err != nil {
				continue
			}
			checkPath(t, path, s, e)
			for _, p := range path {
				if !g.Walkable(p) {
					t.Fatalf("path %v -> %v enters wall at %v", s, e, p)
				}
				if avoid[p] {
					t.Fatalf("path %v -> %v enters avoided cell %v", s, e, p)
				}
			}
		}
	}
}

func TestFindPath_AlgorithmsAgreeOnReachability(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	g := createGrid(t, 10, 10)
	for _, c := range g.Cells() {
		if rng.Float64() < 0.3 {
			_ = g.SetKind(c, core.Wall)
		}
	}

	for i := 0; i < 200; i++ {
		s := core.Pos{X: rng.Intn(10), Y: rng.Intn(10)}
		e := core.Pos{X: rng.Intn(10), Y: rng.Intn(10)}
		_, errA := FindPath(g, s, e, AStar, nil)
		_, errD := FindPath(g, s, e, Dijkstra, nil)
		if (errA == nil) != (errD == nil) {
			t.Fatalf("%v -> %v: AStar err=%v, Dijkstra err=%v", s, e, errA, errD)
		}
	}
}

func TestFindPath_PrefersStraightRuns(t *testing.T) {
	g := createGrid(t, 5, 2)

	path, err := FindPath(g, core.Pos{X: 0, Y: 0}, core.Pos{X: 4, Y: 1}, AStar, nil)
	if err != nil {
		t.Fatal(err)
	}
	if turns := countTurns(path); turns != 1 {
		t.Errorf("Expected a single turn, got %d in %v", turns, path)
	}
	if cost := PathCost(path); cost != 5*StepCost+TurnPenalty {
		t.Errorf("Expected cost %d, got %d", 5*StepCost+TurnPenalty, cost)
	}
}

func TestFindPath_RoutesAroundWalls(t *testing.T) {
	g := createGrid(t, 5, 5)
	// Vertical wall at x=2 with a gap at y=4.
	for y := 0; y < 4; y++ {
		if err := g.SetKindAt(core.Pos{X: 2, Y: y}, core.Wall); err != nil {
			t.Fatal(err)
		}
	}

	path, err := FindPath(g, core.Pos{X: 0, Y: 0}, core.Pos{X: 4, Y: 0}, AStar, nil)
	if err != nil {
		t.Fatal(err)
	}
	checkPath(t, path, core.Pos{X: 0, Y: 0}, core.Pos{X: 4, Y: 0})
	if len(path) != 13 {
		t.Errorf("Expected 13 cells through the gap, got %d: %v", len(path), path)
	}
}

func TestFindPath_IgnoresOccupancy(t *testing.T) {
	g := createGrid(t, 3, 1)
	g.AttachOccupancy(occupiedEverywhere{})

	path, err := FindPath(g, core.Pos{X: 0, Y: 0}, core.Pos{X: 2, Y: 0}, AStar, nil)
	if err != nil {
		t.Fatalf("occupied cells must not block the search: %v", err)
	}
	if len(path) != 3 {
		t.Errorf("Expected 3 cells, got %d", len(path))
	}
}

func TestFindPath_Errors(t *testing.T) {
	g := createGrid(t, 4, 4)
	if err := g.SetKindAt(core.Pos{X: 3, Y: 3}, core.Wall); err != nil {
		t.Fatal(err)
	}

	_, err := FindPath(g, core.Pos{X: 0, Y: 0}, core.Pos{X: 3, Y: 3}, AStar, nil)
	if !errors.Is(err, ErrInvalidEndpoint) {
		t.Errorf("wall goal: got %v, want ErrInvalidEndpoint", err)
	}
	_, err = FindPath(g, core.Pos{X: -1, Y: 0}, core.Pos{X: 1, Y: 1}, AStar, nil)
	if !errors.Is(err, ErrInvalidEndpoint) {
		t.Errorf("off-grid start: got %v, want ErrInvalidEndpoint", err)
	}

	// Enclose (0,3).
	for _, p := range []core.Pos{{X: 0, Y: 2}, {X: 1, Y: 3}} {
		if err := g.SetKindAt(p, core.Wall); err != nil {
			t.Fatal(err)
		}
	}
	_, err = FindPath(g, core.Pos{X: 0, Y: 0}, core.Pos{X: 0, Y: 3}, Dijkstra, nil)
	if !errors.Is(err, ErrNoPath) {
		t.Errorf("enclosed goal: got %v, want ErrNoPath", err)
	}

	_, err = FindPath(g, core.Pos{X: 0, Y: 0}, core.Pos{X: 2, Y: 2}, AStar, Avoid{{X: 2, Y: 2}: true})
	if !errors.Is(err, ErrNoPath) {
		t.Errorf("avoided goal: got %v, want ErrNoPath", err)
	}
}

func TestFindPath_StartIsGoal(t *testing.T) {
	g := createGrid(t, 3, 3)
	path, err := FindPath(g, core.Pos{X: 1, Y: 1}, core.Pos{X: 1, Y: 1}, AStar, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(path) != 1 || path[0] != (core.Pos{X: 1, Y: 1}) {
		t.Errorf("Expected single-cell path, got %v", path)
	}
}

func TestFindPath_Deterministic(t *testing.T) {
	g := createGrid(t, 9, 9)
	_ = g.SetKindAt(core.Pos{X: 4, Y: 4}, core.Wall)

	first, err := FindPath(g, core.Pos{X: 0, Y: 0}, core.Pos{X: 8, Y: 8}, Dijkstra, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, err := FindPath(g, core.Pos{X: 0, Y: 0}, core.Pos{X: 8, Y: 8}, Dijkstra, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(again) != len(first) {
			t.Fatalf("run %d: length changed %d -> %d", i, len(first), len(again))
		}
		for j := range first {
			if first[j] != again[j] {
				t.Fatalf("run %d: paths differ at %d: %v vs %v", i, j, first[j], again[j])
			}
		}
	}
}

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		in      string
		want    Algorithm
		wantErr bool
	}{
		{"astar", AStar, false},
		{"AStar", AStar, false},
		{"Dijkstra", Dijkstra, false},
		{"bfs", AStar, true},
	}
	for _, tt := range tests {
		got, err := ParseAlgorithm(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseAlgorithm(%q) = %v, %v", tt.in, got, err)
		}
	}
}
