// Package config loads simulation settings from YAML or TOML files.
//
// Environment variables written as ${VAR_NAME} are expanded before parsing.
// Durations are given as strings ("4s", "250ms") and parsed with
// time.ParseDuration. Every field has a default, so a config file only needs
// the values it changes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/elektrokombinacija/agv-fleet-sim/internal/algo"
	"github.com/elektrokombinacija/agv-fleet-sim/internal/fleet"
)

// Config is the complete simulation configuration.
type Config struct {
	Grid        GridConfig        `yaml:"grid" toml:"grid"`
	Fleet       FleetConfig       `yaml:"fleet" toml:"fleet"`
	Pathfinding PathfindingConfig `yaml:"pathfinding" toml:"pathfinding"`
	Orders      OrdersConfig      `yaml:"orders" toml:"orders"`
	Simulation  SimulationConfig  `yaml:"simulation" toml:"simulation"`
	Stats       StatsConfig       `yaml:"stats" toml:"stats"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging"`
}

// GridConfig selects the floor. Layout wins over Width/Height.
type GridConfig struct {
	Layout string `yaml:"layout" toml:"layout"` // JSON or ASCII layout file
	Width  int    `yaml:"width" toml:"width"`
	Height int    `yaml:"height" toml:"height"`
}

// Cell is a coordinate in config files.
type Cell struct {
	X int `yaml:"x" toml:"x"`
	Y int `yaml:"y" toml:"y"`
}

// FleetConfig holds agent count, spawn cells and motion timing.
type FleetConfig struct {
	Agents   int     `yaml:"agents" toml:"agents"`
	Spawns   []Cell  `yaml:"spawns" toml:"spawns"`
	Speed    float64 `yaml:"speed" toml:"speed"`
	CellSize float64 `yaml:"cell_size" toml:"cell_size"`

	WaitTimeoutMin time.Duration `yaml:"-" toml:"-"`
	WaitTimeoutMax time.Duration `yaml:"-" toml:"-"`
	RetryDelay     time.Duration `yaml:"-" toml:"-"`
	EvadeHoldMin   time.Duration `yaml:"-" toml:"-"`
	EvadeHoldMax   time.Duration `yaml:"-" toml:"-"`
	LoadDuration   time.Duration `yaml:"-" toml:"-"`
	UnloadDuration time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	WaitTimeoutMinRaw string `yaml:"wait_timeout_min" toml:"wait_timeout_min"`
	WaitTimeoutMaxRaw string `yaml:"wait_timeout_max" toml:"wait_timeout_max"`
	RetryDelayRaw     string `yaml:"retry_delay" toml:"retry_delay"`
	EvadeHoldMinRaw   string `yaml:"evade_hold_min" toml:"evade_hold_min"`
	EvadeHoldMaxRaw   string `yaml:"evade_hold_max" toml:"evade_hold_max"`
	LoadDurationRaw   string `yaml:"load_duration" toml:"load_duration"`
	UnloadDurationRaw string `yaml:"unload_duration" toml:"unload_duration"`
}

// PathfindingConfig selects the search algorithm ("astar" or "dijkstra").
type PathfindingConfig struct {
	Algorithm string `yaml:"algorithm" toml:"algorithm"`
}

// OrdersConfig drives the order generators. A zero interval disables a generator.
type OrdersConfig struct {
	Initial int `yaml:"initial" toml:"initial"` // random orders created at start

	InboundInterval  time.Duration `yaml:"-" toml:"-"`
	OutboundInterval time.Duration `yaml:"-" toml:"-"`
	RandomInterval   time.Duration `yaml:"-" toml:"-"`

	InboundIntervalRaw  string `yaml:"inbound_interval" toml:"inbound_interval"`
	OutboundIntervalRaw string `yaml:"outbound_interval" toml:"outbound_interval"`
	RandomIntervalRaw   string `yaml:"random_interval" toml:"random_interval"`
}

// SimulationConfig controls the tick loop.
type SimulationConfig struct {
	Seed  int64   `yaml:"seed" toml:"seed"`
	Speed float64 `yaml:"speed" toml:"speed"` // time scale applied to every step

	Duration time.Duration `yaml:"-" toml:"-"`
	TimeStep time.Duration `yaml:"-" toml:"-"`

	DurationRaw string `yaml:"duration" toml:"duration"`
	TimeStepRaw string `yaml:"time_step" toml:"time_step"`
}

// StatsConfig names the export targets. Empty paths disable an export.
type StatsConfig struct {
	CSVPath     string `yaml:"csv_path" toml:"csv_path"`
	Database    string `yaml:"database" toml:"database"`
	MetricsPath string `yaml:"metrics_path" toml:"metrics_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	p := fleet.DefaultParams()
	secs := func(s float64) string { return time.Duration(s * float64(time.Second)).String() }
	cfg := &Config{
		Grid: GridConfig{Width: 20, Height: 20},
		Fleet: FleetConfig{
			Agents:            4,
			Speed:             p.Speed,
			CellSize:          p.CellSize,
			WaitTimeoutMinRaw: secs(p.WaitTimeoutMin),
			WaitTimeoutMaxRaw: secs(p.WaitTimeoutMax),
			RetryDelayRaw:     secs(p.RetryDelay),
			EvadeHoldMinRaw:   secs(p.EvadeHoldMin),
			EvadeHoldMaxRaw:   secs(p.EvadeHoldMax),
			LoadDurationRaw:   secs(p.LoadDuration),
			UnloadDurationRaw: secs(p.UnloadDuration),
		},
		Pathfinding: PathfindingConfig{Algorithm: "astar"},
		Orders: OrdersConfig{
			Initial:             4,
			InboundIntervalRaw:  "15s",
			OutboundIntervalRaw: "20s",
		},
		Simulation: SimulationConfig{
			Seed:        42,
			Speed:       1,
			DurationRaw: "10m",
			TimeStepRaw: "100ms",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
	// Defaults are always parseable.
	_ = parseDurations(cfg)
	return cfg
}

// Load reads a configuration file on top of Default. The format follows the
// file extension: .toml for TOML, anything else YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	expanded := expandEnvVars(string(data))

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})
}

// parseDurations converts the raw duration strings into time.Duration values.
// Empty strings leave the current value alone.
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"fleet.wait_timeout_min", cfg.Fleet.WaitTimeoutMinRaw, &cfg.Fleet.WaitTimeoutMin},
		{"fleet.wait_timeout_max", cfg.Fleet.WaitTimeoutMaxRaw, &cfg.Fleet.WaitTimeoutMax},
		{"fleet.retry_delay", cfg.Fleet.RetryDelayRaw, &cfg.Fleet.RetryDelay},
		{"fleet.evade_hold_min", cfg.Fleet.EvadeHoldMinRaw, &cfg.Fleet.EvadeHoldMin},
		{"fleet.evade_hold_max", cfg.Fleet.EvadeHoldMaxRaw, &cfg.Fleet.EvadeHoldMax},
		{"fleet.load_duration", cfg.Fleet.LoadDurationRaw, &cfg.Fleet.LoadDuration},
		{"fleet.unload_duration", cfg.Fleet.UnloadDurationRaw, &cfg.Fleet.UnloadDuration},
		{"orders.inbound_interval", cfg.Orders.InboundIntervalRaw, &cfg.Orders.InboundInterval},
		{"orders.outbound_interval", cfg.Orders.OutboundIntervalRaw, &cfg.Orders.OutboundInterval},
		{"orders.random_interval", cfg.Orders.RandomIntervalRaw, &cfg.Orders.RandomInterval},
		{"simulation.duration", cfg.Simulation.DurationRaw, &cfg.Simulation.Duration},
		{"simulation.time_step", cfg.Simulation.TimeStepRaw, &cfg.Simulation.TimeStep},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// Validate checks that the configuration can drive a simulation.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Grid.Layout == "" && (c.Grid.Width <= 0 || c.Grid.Height <= 0) {
		return fmt.Errorf("grid.width and grid.height must be positive when no layout is given")
	}
	if c.Fleet.Agents < 0 {
		return fmt.Errorf("fleet.agents must not be negative")
	}
	if _, err := algo.ParseAlgorithm(c.Pathfinding.Algorithm); err != nil {
		return fmt.Errorf("pathfinding.algorithm: %w", err)
	}
	if err := c.Fleet.Params().Validate(); err != nil {
		return err
	}
	if c.Simulation.TimeStep <= 0 {
		return fmt.Errorf("simulation.time_step must be positive")
	}
	if c.Simulation.Duration < 0 {
		return fmt.Errorf("simulation.duration must not be negative")
	}
	if c.Simulation.Speed <= 0 {
		return fmt.Errorf("simulation.speed must be positive")
	}
	for _, d := range []time.Duration{c.Orders.InboundInterval, c.Orders.OutboundInterval, c.Orders.RandomInterval} {
		if d < 0 {
			return fmt.Errorf("orders intervals must not be negative")
		}
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not text or json", c.Logging.Format)
	}
	return nil
}

// Params converts the fleet section into motion parameters in seconds.
func (f FleetConfig) Params() fleet.Params {
	return fleet.Params{
		Speed:          f.Speed,
		CellSize:       f.CellSize,
		WaitTimeoutMin: f.WaitTimeoutMin.Seconds(),
		WaitTimeoutMax: f.WaitTimeoutMax.Seconds(),
		RetryDelay:     f.RetryDelay.Seconds(),
		EvadeHoldMin:   f.EvadeHoldMin.Seconds(),
		EvadeHoldMax:   f.EvadeHoldMax.Seconds(),
		LoadDuration:   f.LoadDuration.Seconds(),
		UnloadDuration: f.UnloadDuration.Seconds(),
	}
}

// Algo returns the configured path search.
func (p PathfindingConfig) Algo() algo.Algorithm {
	a, _ := algo.ParseAlgorithm(p.Algorithm)
	return a
}
