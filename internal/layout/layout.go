// Package layout saves and restores warehouse floors.
//
// The JSON form lists every non-Empty tile with its kind as an integer:
//
//	{"width": 10, "height": 8, "tiles": [{"x": 0, "y": 0, "type": 1}]}
//
// Restoring goes through Grid.SetKind so kind indexes and listeners stay in
// sync. A plain-text form is also accepted, see ParseASCII.
package layout

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/elektrokombinacija/agv-fleet-sim/internal/core"
)

// ErrSizeMismatch is returned when applying a layout to a grid of another size.
var ErrSizeMismatch = errors.New("layout size does not match grid")

// Tile is one non-Empty cell.
type Tile struct {
	X    int `json:"x"`
	Y    int `json:"y"`
	Type int `json:"type"`
}

// Data is the serialised floor. Spawns is only filled from ASCII maps.
type Data struct {
	Width  int        `json:"width"`
	Height int        `json:"height"`
	Tiles  []Tile     `json:"tiles"`
	Spawns []core.Pos `json:"spawns,omitempty"`
}

// Capture reads the kind of every cell of g. Empty cells are omitted.
func Capture(g *core.Grid) Data {
	d := Data{Width: g.Width(), Height: g.Height(), Tiles: []Tile{}}
	for x := 0; x < g.Width(); x++ {
		for y := 0; y < g.Height(); y++ {
			c, _ := g.Get(x, y)
			if c.Kind() != core.Empty {
				d.Tiles = append(d.Tiles, Tile{X: x, Y: y, Type: int(c.Kind())})
			}
		}
	}
	return d
}

// Apply resets g to Empty and then sets every tile of d. Tiles outside the
// grid are skipped with a warning.
func Apply(g *core.Grid, d Data) error {
	if d.Width != g.Width() || d.Height != g.Height() {
		return fmt.Errorf("%w: layout %dx%d, grid %dx%d", ErrSizeMismatch, d.Width, d.Height, g.Width(), g.Height())
	}
	for _, t := range d.Tiles {
		if !core.Kind(t.Type).Valid() {
			return fmt.Errorf("tile (%d,%d): unknown type %d", t.X, t.Y, t.Type)
		}
	}

	for _, c := range g.Cells() {
		if err := g.SetKind(c, core.Empty); err != nil {
			return fmt.Errorf("clearing %s: %w", c.Pos(), err)
		}
	}
	for _, t := range d.Tiles {
		p := core.Pos{X: t.X, Y: t.Y}
		c, ok := g.At(p)
		if !ok {
			slog.Warn("layout tile outside grid, skipped", "tile", p)
			continue
		}
		if err := g.SetKind(c, core.Kind(t.Type)); err != nil {
			return fmt.Errorf("placing %s: %w", p, err)
		}
	}
	return nil
}

// Build creates a new grid holding d.
func Build(d Data) (*core.Grid, error) {
	g, err := core.NewGrid(d.Width, d.Height)
	if err != nil {
		return nil, err
	}
	if err := Apply(g, d); err != nil {
		return nil, err
	}
	return g, nil
}

// Save writes d as indented JSON.
func Save(path string, d Data) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating layout directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0644)
}

// Load reads a layout file. Files ending in .txt or .map are parsed as ASCII,
// anything else as JSON.
func Load(path string) (Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Data{}, fmt.Errorf("reading layout: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".map":
		return ParseASCII(string(raw))
	}
	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		return Data{}, fmt.Errorf("parsing layout %s: %w", path, err)
	}
	if d.Width <= 0 || d.Height <= 0 {
		return Data{}, fmt.Errorf("layout %s: invalid size %dx%d", path, d.Width, d.Height)
	}
	return d, nil
}
