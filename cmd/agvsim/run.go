package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	"github.com/elektrokombinacija/agv-fleet-sim/internal/config"
	"github.com/elektrokombinacija/agv-fleet-sim/internal/core"
	"github.com/elektrokombinacija/agv-fleet-sim/internal/fleet"
	"github.com/elektrokombinacija/agv-fleet-sim/internal/layout"
	"github.com/elektrokombinacija/agv-fleet-sim/internal/sim"
	"github.com/elektrokombinacija/agv-fleet-sim/internal/stats"
)

func runSim(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("AGVSIM_CONFIG"), "Config file (.yaml or .toml); built-in defaults when empty")
	layoutPath := fs.String("layout", "", "Layout file, overrides grid.layout")
	algorithm := fs.String("algorithm", "", "Path search (astar or dijkstra), overrides pathfinding.algorithm")
	quiet := fs.Bool("quiet", false, "Skip the banner and the final map")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}
	if *layoutPath != "" {
		cfg.Grid.Layout = *layoutPath
	}
	if *algorithm != "" {
		cfg.Pathfinding.Algorithm = *algorithm
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	if !*quiet {
		color.New(color.FgCyan).Print(banner)
		fmt.Println()
	}

	g, spawns, layoutName, err := buildGrid(cfg.Grid)
	if err != nil {
		return err
	}

	sc := sim.ConfigFrom(cfg, g, spawns)
	sc.Logger = logger
	s, err := sim.NewSimulator(sc)
	if err != nil {
		return fmt.Errorf("creating simulator: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Layout:    %s (%dx%d)\n", layoutName, g.Width(), g.Height())
	green.Print("    ▶ ")
	fmt.Printf("Agents:    %d\n", s.Fleet().Len())
	green.Print("    ▶ ")
	fmt.Printf("Algorithm: %s\n", s.Fleet().Algorithm())
	green.Print("    ▶ ")
	fmt.Printf("Duration:  %s at %s steps\n\n", cfg.Simulation.Duration, cfg.Simulation.TimeStep)

	exp, err := openExports(ctx, cfg.Stats, s, stats.RunInfo{
		Layout:    layoutName,
		Algorithm: s.Fleet().Algorithm().String(),
		Agents:    s.Fleet().Len(),
		Seed:      cfg.Simulation.Seed,
	})
	if err != nil {
		return err
	}
	defer exp.close()

	metrics, runErr := s.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	if runErr != nil {
		color.Yellow("    interrupted at %.1fs simulated\n", metrics.SimulatedTime)
	}

	// Exports still run after an interrupt; the context may be done already.
	if err := exp.finish(context.WithoutCancel(ctx), s, metrics); err != nil {
		return err
	}
	if cfg.Stats.MetricsPath != "" {
		if err := s.ExportMetrics(cfg.Stats.MetricsPath); err != nil {
			return fmt.Errorf("exporting metrics: %w", err)
		}
	}

	printSummary(metrics, exp)
	if !*quiet {
		fmt.Println()
		fmt.Print(layout.FormatASCII(g, agentMarks(s.Fleet())))
	}
	return nil
}

// buildGrid loads the configured layout, or an empty floor when none is set.
func buildGrid(cfg config.GridConfig) (*core.Grid, []core.Pos, string, error) {
	if cfg.Layout == "" {
		g, err := core.NewGrid(cfg.Width, cfg.Height)
		if err != nil {
			return nil, nil, "", err
		}
		return g, nil, fmt.Sprintf("empty-%dx%d", cfg.Width, cfg.Height), nil
	}
	d, err := layout.Load(cfg.Layout)
	if err != nil {
		return nil, nil, "", err
	}
	g, err := layout.Build(d)
	if err != nil {
		return nil, nil, "", fmt.Errorf("building layout %s: %w", cfg.Layout, err)
	}
	name := strings.TrimSuffix(filepath.Base(cfg.Layout), filepath.Ext(cfg.Layout))
	return g, d.Spawns, name, nil
}

// exports holds the optional CSV file and SQLite run for one simulation.
type exports struct {
	csv   *stats.CSVExporter
	store *stats.SQLiteStore
	runID string
}

func openExports(ctx context.Context, cfg config.StatsConfig, s *sim.Simulator, info stats.RunInfo) (*exports, error) {
	exp := &exports{}
	if cfg.CSVPath != "" {
		csvExp, err := stats.NewCSVExporter(cfg.CSVPath)
		if err != nil {
			return nil, fmt.Errorf("opening csv export: %w", err)
		}
		exp.csv = csvExp
		s.Recorder().OnCompletion(func(c fleet.Completion) {
			if err := csvExp.Append(c); err != nil {
				slog.Error("csv export failed", "order", c.OrderID, "err", err)
			}
		})
	}
	if cfg.Database != "" {
		store, err := stats.NewSQLiteStore(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("opening stats database: %w", err)
		}
		runID, err := store.BeginRun(ctx, info)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("starting run: %w", err)
		}
		exp.store, exp.runID = store, runID
		saveCtx := context.WithoutCancel(ctx)
		s.Recorder().OnCompletion(func(c fleet.Completion) {
			if err := store.SaveCompletion(saveCtx, runID, c); err != nil {
				slog.Error("saving completion failed", "order", c.OrderID, "err", err)
			}
		})
	}
	return exp, nil
}

func (e *exports) finish(ctx context.Context, s *sim.Simulator, m *sim.SimulationMetrics) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.SaveHeatmap(ctx, e.runID, stats.Heatmap(s.Grid())); err != nil {
		return fmt.Errorf("saving heatmap: %w", err)
	}
	if err := e.store.FinishRun(ctx, e.runID, m.SimulatedTime, m.Stats); err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	return nil
}

func (e *exports) close() {
	if e.store != nil {
		e.store.Close()
	}
}

func printSummary(m *sim.SimulationMetrics, exp *exports) {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Println("Summary")
	fmt.Printf("  Simulated:        %.1fs in %d steps (%s wall)\n", m.SimulatedTime, m.Steps, m.EndTime.Sub(m.StartTime).Round(1e6))
	fmt.Printf("  Orders created:   %d (%d rejected)\n", m.OrdersCreated, m.OrdersRejected)
	fmt.Printf("  Completed:        %d\n", m.Stats.CompletedOrders)
	fmt.Printf("  Avg delivery:     %.2fs\n", m.Stats.AverageDeliveryTime)
	fmt.Printf("  Distance:         %.1f over %.1fs moving\n", m.Stats.TotalDistance, m.Stats.TotalMoveTime)
	fmt.Printf("  Collisions:       %d\n", m.Stats.Collisions)
	fmt.Printf("  Deadlocks:        %d\n", m.Stats.Deadlocks)
	if m.OrdersPending > 0 || m.OrdersActive > 0 {
		yellow.Printf("  Unfinished:       %d queued, %d in flight\n", m.OrdersPending, m.OrdersActive)
	}
	if exp.csv != nil {
		fmt.Printf("  CSV:              %s\n", exp.csv.Path())
	}
	if exp.store != nil {
		fmt.Printf("  Run ID:           %s\n", exp.runID)
	}
}

// agentMarks draws agents as their ID's last digit.
func agentMarks(f *fleet.Fleet) map[core.Pos]byte {
	marks := make(map[core.Pos]byte)
	for _, a := range f.Agents() {
		marks[a.Pos()] = byte('0' + int(a.ID())%10)
	}
	return marks
}

func runShow(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	dbPath := fs.String("db", "agvsim.db", "Stats database")
	csvOut := fs.Bool("csv", false, "Print completed orders as CSV")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("show needs exactly one run ID")
	}
	runID := fs.Arg(0)

	store, err := stats.NewSQLiteStore(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	completions, err := store.Completions(ctx, runID)
	if err != nil {
		return err
	}
	if *csvOut {
		return stats.WriteCSV(os.Stdout, completions)
	}

	cyan := color.New(color.FgCyan)
	cyan.Printf("Run %s\n", run.ID)
	fmt.Printf("  Layout:     %s\n", run.Layout)
	fmt.Printf("  Algorithm:  %s\n", run.Algorithm)
	fmt.Printf("  Agents:     %d (seed %d)\n", run.Agents, run.Seed)
	fmt.Printf("  Started:    %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
	if run.FinishedAt == nil {
		color.Yellow("  Unfinished\n")
	} else {
		fmt.Printf("  Simulated:  %.1fs\n", run.SimulatedTime)
	}
	fmt.Printf("  Completed:  %d orders, avg %.2fs\n", run.Summary.CompletedOrders, run.Summary.AverageDeliveryTime)
	fmt.Printf("  Traffic:    %d collisions, %d deadlocks\n", run.Summary.Collisions, run.Summary.Deadlocks)
	fmt.Printf("  Stored:     %d order rows\n", len(completions))
	return nil
}

func runMap(args []string) error {
	fs := flag.NewFlagSet("map", flag.ContinueOnError)
	layoutPath := fs.String("layout", "", "Layout file (.json, .txt or .map)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *layoutPath == "" {
		return fmt.Errorf("map needs -layout")
	}
	d, err := layout.Load(*layoutPath)
	if err != nil {
		return err
	}
	g, err := layout.Build(d)
	if err != nil {
		return err
	}
	marks := make(map[core.Pos]byte)
	for _, p := range d.Spawns {
		marks[p] = 'A'
	}
	fmt.Print(layout.FormatASCII(g, marks))
	for _, k := range core.AllKinds() {
		if n := len(g.CellsOfKind(k)); n > 0 {
			fmt.Printf("%-14s %d\n", k, n)
		}
	}
	return nil
}
