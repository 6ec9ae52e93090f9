package layout

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elektrokombinacija/agv-fleet-sim/internal/core"
)

const smallMap = `
; two docks, one shelf row, a parking strip
L..A.U
.SS#S.
......
WW..A.
`

func TestParseASCII(t *testing.T) {
	d, err := ParseASCII(smallMap)
	require.NoError(t, err)
	assert.Equal(t, 6, d.Width)
	assert.Equal(t, 4, d.Height)
	assert.Equal(t, []core.Pos{{X: 3, Y: 0}, {X: 4, Y: 3}}, d.Spawns)

	g, err := Build(d)
	require.NoError(t, err)
	kindAt := func(x, y int) core.Kind {
		c, ok := g.Get(x, y)
		require.True(t, ok)
		return c.Kind()
	}
	assert.Equal(t, core.LoadingDock, kindAt(0, 0))
	assert.Equal(t, core.UnloadingDock, kindAt(5, 0))
	assert.Equal(t, core.Wall, kindAt(3, 1))
	assert.Equal(t, core.Shelf, kindAt(4, 1))
	assert.Equal(t, core.Empty, kindAt(3, 0), "spawn cells are empty floor")
	assert.Len(t, g.CellsOfKind(core.WaitingArea), 2)
	assert.Len(t, g.CellsOfKind(core.Shelf), 3)
}

func TestParseASCII_Errors(t *testing.T) {
	_, err := ParseASCII("")
	assert.Error(t, err)

	_, err = ParseASCII("...\n..\n")
	assert.Error(t, err, "ragged rows")

	_, err = ParseASCII("..?\n")
	assert.Error(t, err, "unknown character")
}

func TestFormatASCIIRoundTrip(t *testing.T) {
	d, err := ParseASCII(smallMap)
	require.NoError(t, err)
	g, err := Build(d)
	require.NoError(t, err)

	marks := map[core.Pos]byte{}
	for _, p := range d.Spawns {
		marks[p] = 'A'
	}
	want := "L..A.U\n.SS#S.\n......\nWW..A.\n"
	assert.Equal(t, want, FormatASCII(g, marks))
}

func TestCaptureApply(t *testing.T) {
	g, err := core.NewGrid(3, 2)
	require.NoError(t, err)
	require.NoError(t, g.SetKindAt(core.Pos{X: 0, Y: 1}, core.Wall))
	require.NoError(t, g.SetKindAt(core.Pos{X: 2, Y: 0}, core.Shelf))

	d := Capture(g)
	assert.Equal(t, []Tile{{X: 0, Y: 1, Type: int(core.Wall)}, {X: 2, Y: 0, Type: int(core.Shelf)}}, d.Tiles)

	other, err := core.NewGrid(3, 2)
	require.NoError(t, err)
	require.NoError(t, other.SetKindAt(core.Pos{X: 1, Y: 1}, core.LoadingDock))

	var changes int
	other.Subscribe(func(*core.Cell, core.Kind) { changes++ })
	require.NoError(t, Apply(other, d))
	assert.Equal(t, d, Capture(other))
	assert.Equal(t, 3, changes, "dock cleared, wall and shelf placed")

	small, err := core.NewGrid(2, 2)
	require.NoError(t, err)
	assert.ErrorIs(t, Apply(small, d), ErrSizeMismatch)

	bad := Data{Width: 3, Height: 2, Tiles: []Tile{{X: 0, Y: 0, Type: 99}}}
	assert.Error(t, Apply(other, bad))
}

func TestApplySkipsOutOfGridTiles(t *testing.T) {
	g, err := core.NewGrid(2, 2)
	require.NoError(t, err)
	d := Data{Width: 2, Height: 2, Tiles: []Tile{{X: 5, Y: 5, Type: int(core.Wall)}, {X: 1, Y: 1, Type: int(core.Shelf)}}}

	require.NoError(t, Apply(g, d))
	c, _ := g.Get(1, 1)
	assert.Equal(t, core.Shelf, c.Kind())
}

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	d, err := ParseASCII(smallMap)
	require.NoError(t, err)

	jsonPath := filepath.Join(dir, "layouts", "small.json")
	require.NoError(t, Save(jsonPath, d))
	loaded, err := Load(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, d, loaded)

	txtPath := filepath.Join(dir, "small.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte(smallMap), 0644))
	fromText, err := Load(txtPath)
	require.NoError(t, err)
	assert.Equal(t, d, fromText)

	_, err = Load(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "zero.json"), []byte(`{"width":0,"height":3}`), 0644))
	_, err = Load(filepath.Join(dir, "zero.json"))
	assert.Error(t, err)
}
