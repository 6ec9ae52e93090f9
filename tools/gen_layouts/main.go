// Package main generates warehouse layouts for fleet benchmarks.
// Generation is deterministic for a given seed and size.
package main

import (
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/elektrokombinacija/agv-fleet-sim/internal/core"
	"github.com/elektrokombinacija/agv-fleet-sim/internal/layout"
)

// LayoutParams defines parameters for layout generation.
type LayoutParams struct {
	Seed         int64
	Width        int
	Height       int
	Agents       int     // spawn cells to mark
	Docks        int     // loading docks on the top edge, unloading docks on the bottom edge
	WaitingAreas int     // parking cells down the left edge
	WallDensity  float64 // fraction of free interior cells turned into pillars
}

func (p LayoutParams) name() string {
	return fmt.Sprintf("warehouse_%dx%d_%d", p.Width, p.Height, p.Seed)
}

// generateLayout builds a floor with shelf rows separated by aisles. Shelf
// rows are broken by a cross aisle every sixth column, and random pillars
// are only kept when every walkable cell stays reachable.
func generateLayout(p LayoutParams) (*core.Grid, []core.Pos, error) {
	if p.Width < 6 || p.Height < 6 {
		return nil, nil, fmt.Errorf("layout %dx%d: need at least 6x6", p.Width, p.Height)
	}
	rng := rand.New(rand.NewSource(p.Seed))
	g, err := core.NewGrid(p.Width, p.Height)
	if err != nil {
		return nil, nil, err
	}
	set := func(x, y int, k core.Kind) {
		// Coordinates are generated inside the grid.
		_ = g.SetKindAt(core.Pos{X: x, Y: y}, k)
	}

	for i := 0; i < p.Docks; i++ {
		x := 2 + (i*(p.Width-4))/max(p.Docks, 1)
		set(x, 0, core.LoadingDock)
		set(p.Width-1-x, p.Height-1, core.UnloadingDock)
	}
	for i := 0; i < p.WaitingAreas && 2+i < p.Height-2; i++ {
		set(0, 2+i, core.WaitingArea)
	}

	for y := 2; y < p.Height-2; y += 3 {
		for x := 2; x < p.Width-2; x++ {
			if (x-2)%6 == 5 {
				continue
			}
			set(x, y, core.Shelf)
		}
	}

	var interior []core.Pos
	for y := 1; y < p.Height-1; y++ {
		for x := 1; x < p.Width-1; x++ {
			if c, _ := g.Get(x, y); c.Kind() == core.Empty {
				interior = append(interior, core.Pos{X: x, Y: y})
			}
		}
	}
	pillars := int(math.Round(float64(len(interior)) * p.WallDensity))
	rng.Shuffle(len(interior), func(i, j int) { interior[i], interior[j] = interior[j], interior[i] })
	for _, pos := range interior {
		if pillars == 0 {
			break
		}
		set(pos.X, pos.Y, core.Wall)
		if connected(g) {
			pillars--
			continue
		}
		set(pos.X, pos.Y, core.Empty)
	}

	var free []core.Pos
	for _, c := range g.CellsOfKind(core.Empty) {
		free = append(free, c.Pos())
	}
	if p.Agents > len(free) {
		return nil, nil, fmt.Errorf("layout %s: %d agents but only %d free cells", p.name(), p.Agents, len(free))
	}
	rng.Shuffle(len(free), func(i, j int) { free[i], free[j] = free[j], free[i] })
	return g, free[:p.Agents], nil
}

// connected reports whether every walkable cell is reachable from every other.
func connected(g *core.Grid) bool {
	var start *core.Cell
	walkable := 0
	for _, c := range g.Cells() {
		if c.Walkable() {
			walkable++
			if start == nil {
				start = c
			}
		}
	}
	if start == nil {
		return true
	}
	seen := map[core.Pos]bool{start.Pos(): true}
	queue := []*core.Cell{start}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		for _, n := range g.Neighbors(c) {
			if n.Walkable() && !seen[n.Pos()] {
				seen[n.Pos()] = true
				queue = append(queue, n)
			}
		}
	}
	return len(seen) == walkable
}

func main() {
	// Parse flags
	seed := flag.Int64("seed", 42, "Random seed for deterministic generation")
	width := flag.Int("width", 20, "Grid width")
	height := flag.Int("height", 20, "Grid height")
	agents := flag.Int("agents", 4, "Spawn cells to mark")
	docks := flag.Int("docks", 3, "Loading and unloading docks per edge")
	waiting := flag.Int("waiting", 4, "Waiting area cells")
	walls := flag.Float64("walls", 0.05, "Pillar density over free interior cells (0-1)")
	outputDir := flag.String("output", "layouts", "Output directory")
	ascii := flag.Bool("ascii", false, "Write .txt ASCII maps instead of JSON")
	scalingMode := flag.Bool("scaling", false, "Generate the scaling suite (10x10 to 80x80, agents grow with area)")

	flag.Parse()

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	var suite []LayoutParams
	if *scalingMode {
		for _, size := range []int{10, 20, 40, 80} {
			suite = append(suite, LayoutParams{
				Seed:         *seed,
				Width:        size,
				Height:       size,
				Agents:       size * size / 25,
				Docks:        max(size/6, 1),
				WaitingAreas: min(size/2, size-4),
				WallDensity:  *walls,
			})
		}
	} else {
		suite = append(suite, LayoutParams{
			Seed:         *seed,
			Width:        *width,
			Height:       *height,
			Agents:       *agents,
			Docks:        *docks,
			WaitingAreas: *waiting,
			WallDensity:  *walls,
		})
	}

	failed := false
	for _, p := range suite {
		g, spawns, err := generateLayout(p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating %s: %v\n", p.name(), err)
			failed = true
			continue
		}
		path, err := write(*outputDir, p.name(), g, spawns, *ascii)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", p.name(), err)
			failed = true
			continue
		}
		fmt.Printf("Generated: %s (%dx%d, %d agents, %d shelves)\n",
			path, p.Width, p.Height, len(spawns), len(g.CellsOfKind(core.Shelf)))
	}
	if failed {
		os.Exit(1)
	}
}

func write(dir, name string, g *core.Grid, spawns []core.Pos, ascii bool) (string, error) {
	if ascii {
		marks := make(map[core.Pos]byte, len(spawns))
		for _, p := range spawns {
			marks[p] = 'A'
		}
		path := filepath.Join(dir, name+".txt")
		text := fmt.Sprintf("; %s\n%s", name, layout.FormatASCII(g, marks))
		return path, os.WriteFile(path, []byte(text), 0644)
	}
	d := layout.Capture(g)
	d.Spawns = spawns
	path := filepath.Join(dir, name+".json")
	return path, layout.Save(path, d)
}
