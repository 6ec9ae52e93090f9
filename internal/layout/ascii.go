package layout

import (
	"fmt"
	"strings"

	"github.com/elektrokombinacija/agv-fleet-sim/internal/core"
)

var kindRunes = map[core.Kind]byte{
	core.Empty:         '.',
	core.Wall:          '#',
	core.Shelf:         'S',
	core.LoadingDock:   'L',
	core.UnloadingDock: 'U',
	core.WaitingArea:   'W',
}

// spawnRune marks an Empty cell where an agent starts.
const spawnRune = 'A'

// ParseASCII reads a map with one character per cell. Row i of the text is
// y = i. Blank lines and lines starting with ';' are ignored. Characters:
//
//	. empty   # wall   S shelf   L loading dock
//	U unloading dock   W waiting area   A agent spawn (empty cell)
func ParseASCII(text string) (Data, error) {
	var rows []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r \t")
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		rows = append(rows, line)
	}
	if len(rows) == 0 {
		return Data{}, fmt.Errorf("ascii layout: no rows")
	}

	width := len(rows[0])
	d := Data{Width: width, Height: len(rows), Tiles: []Tile{}}
	for y, row := range rows {
		if len(row) != width {
			return Data{}, fmt.Errorf("ascii layout: row %d has %d cells, want %d", y, len(row), width)
		}
		for x := 0; x < width; x++ {
			ch := row[x]
			if ch == spawnRune {
				d.Spawns = append(d.Spawns, core.Pos{X: x, Y: y})
				continue
			}
			kind, ok := kindFor(ch)
			if !ok {
				return Data{}, fmt.Errorf("ascii layout: unknown cell %q at (%d,%d)", ch, x, y)
			}
			if kind != core.Empty {
				d.Tiles = append(d.Tiles, Tile{X: x, Y: y, Type: int(kind)})
			}
		}
	}
	return d, nil
}

func kindFor(ch byte) (core.Kind, bool) {
	for k, r := range kindRunes {
		if r == ch {
			return k, true
		}
	}
	return core.Empty, false
}

// FormatASCII renders g in the ParseASCII alphabet. Cells in marks are drawn
// with the given character instead of their kind.
func FormatASCII(g *core.Grid, marks map[core.Pos]byte) string {
	var b strings.Builder
	b.Grow((g.Width() + 1) * g.Height())
	for y := 0; y < g.Height(); y++ {
		for x := 0; x < g.Width(); x++ {
			p := core.Pos{X: x, Y: y}
			if m, ok := marks[p]; ok {
				b.WriteByte(m)
				continue
			}
			c, _ := g.At(p)
			b.WriteByte(kindRunes[c.Kind()])
		}
		b.WriteByte('\n')
	}
	return b.String()
}
