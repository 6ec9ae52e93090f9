package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elektrokombinacija/agv-fleet-sim/internal/algo"
	"github.com/elektrokombinacija/agv-fleet-sim/internal/fleet"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, fleet.DefaultParams(), cfg.Fleet.Params())
	assert.Equal(t, 100*time.Millisecond, cfg.Simulation.TimeStep)
	assert.Equal(t, 10*time.Minute, cfg.Simulation.Duration)
	assert.Equal(t, algo.AStar, cfg.Pathfinding.Algo())
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("AGV_LAYOUT", "layouts/hall.json")
	path := writeConfig(t, "sim.yaml", `
grid:
  layout: ${AGV_LAYOUT}
fleet:
  agents: 6
  spawns:
    - {x: 1, y: 2}
  wait_timeout_min: 3s
  wait_timeout_max: 5s
pathfinding:
  algorithm: dijkstra
orders:
  inbound_interval: 0s
simulation:
  time_step: 50ms
logging:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "layouts/hall.json", cfg.Grid.Layout)
	assert.Equal(t, 6, cfg.Fleet.Agents)
	assert.Equal(t, []Cell{{X: 1, Y: 2}}, cfg.Fleet.Spawns)
	assert.Equal(t, 3.0, cfg.Fleet.Params().WaitTimeoutMin)
	assert.Equal(t, 5.0, cfg.Fleet.Params().WaitTimeoutMax)
	assert.Equal(t, algo.Dijkstra, cfg.Pathfinding.Algo())
	assert.Equal(t, time.Duration(0), cfg.Orders.InboundInterval)
	assert.Equal(t, 20*time.Second, cfg.Orders.OutboundInterval, "untouched values keep defaults")
	assert.Equal(t, 50*time.Millisecond, cfg.Simulation.TimeStep)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "sim.toml", `
[fleet]
agents = 2
speed = 4.0
load_duration = "500ms"

[simulation]
seed = 7
duration = "90s"

[stats]
csv_path = "out/results.csv"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Fleet.Agents)
	assert.Equal(t, 4.0, cfg.Fleet.Params().Speed)
	assert.Equal(t, 0.5, cfg.Fleet.Params().LoadDuration)
	assert.Equal(t, int64(7), cfg.Simulation.Seed)
	assert.Equal(t, 90*time.Second, cfg.Simulation.Duration)
	assert.Equal(t, "out/results.csv", cfg.Stats.CSVPath)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "fleet: [unterminated"},
		{"bad duration", "fleet:\n  retry_delay: soon\n"},
		{"unknown algorithm", "pathfinding:\n  algorithm: bfs\n"},
		{"inverted timeout", "fleet:\n  wait_timeout_min: 8s\n  wait_timeout_max: 2s\n"},
		{"zero step", "simulation:\n  time_step: 0s\n"},
		{"no grid", "grid:\n  width: 0\n"},
		{"bad level", "logging:\n  level: loud\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "c.yaml", tt.content))
			assert.Error(t, err)
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("AGV_TEST_A", "alpha")
	assert.Equal(t, "x=alpha y=", expandEnvVars("x=${AGV_TEST_A} y=${AGV_TEST_UNSET_VAR}"))
	assert.Equal(t, "no vars", expandEnvVars("no vars"))
}
