// Package main runs the fleet simulation over a set of layouts with every
// path algorithm and collects throughput metrics.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/elektrokombinacija/agv-fleet-sim/internal/algo"
	"github.com/elektrokombinacija/agv-fleet-sim/internal/layout"
	"github.com/elektrokombinacija/agv-fleet-sim/internal/sim"
)

// BenchmarkResult stores results from a single simulation run.
type BenchmarkResult struct {
	Timestamp  string `json:"timestamp"`
	CommitHash string `json:"commit_hash"`
	GoVersion  string `json:"go_version"`
	OS         string `json:"os"`
	Arch       string `json:"arch"`

	Layout    string `json:"layout"`
	GridSize  string `json:"grid_size"`
	NumAgents int    `json:"num_agents"`
	Algorithm string `json:"algorithm"`
	Seed      int64  `json:"seed"`

	RuntimeMs       float64 `json:"runtime_ms"`
	Success         bool    `json:"success"`
	Error           string  `json:"error,omitempty"`
	SimulatedTime   float64 `json:"simulated_time"`
	OrdersCreated   int     `json:"orders_created"`
	OrdersCompleted int     `json:"orders_completed"`
	AvgDelivery     float64 `json:"avg_delivery"`
	TotalDistance   float64 `json:"total_distance"`
	Collisions      int     `json:"collisions"`
	Deadlocks       int     `json:"deadlocks"`
}

// AlgorithmMetrics holds per-algorithm aggregated metrics.
type AlgorithmMetrics struct {
	Name         string
	TotalRuns    int
	Successes    int
	Completed    int
	TotalRuntime float64
	TotalAvgTime float64
	Collisions   int
	Deadlocks    int
}

var algorithms = []algo.Algorithm{algo.AStar, algo.Dijkstra}

func getGitCommit() string {
	cmd := exec.Command("git", "rev-parse", "--short", "HEAD")
	output, err := cmd.Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(output))
}

// job is one layout/algorithm/seed combination.
type job struct {
	path      string
	algorithm algo.Algorithm
	seed      int64
}

type runSettings struct {
	duration  float64
	agents    int
	interval  float64
	initial   int
	timeout   time.Duration
	commit    string
	timestamp string
}

func runJob(ctx context.Context, j job, rs runSettings) *BenchmarkResult {
	name := strings.TrimSuffix(filepath.Base(j.path), filepath.Ext(j.path))
	result := &BenchmarkResult{
		Timestamp:  rs.timestamp,
		CommitHash: rs.commit,
		GoVersion:  runtime.Version(),
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		Layout:     name,
		Algorithm:  j.algorithm.String(),
		Seed:       j.seed,
	}

	// Every run gets its own grid; visit counters are per run.
	d, err := layout.Load(j.path)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	g, err := layout.Build(d)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.GridSize = fmt.Sprintf("%dx%d", g.Width(), g.Height())

	cfg := sim.DefaultConfig()
	cfg.Grid = g
	cfg.Spawns = d.Spawns
	cfg.Agents = len(d.Spawns)
	if rs.agents > 0 {
		cfg.Agents = rs.agents
	}
	cfg.Algorithm = j.algorithm
	cfg.Seed = j.seed
	cfg.Duration = rs.duration
	cfg.InitialOrders = rs.initial
	cfg.RandomInterval = rs.interval
	result.NumAgents = cfg.Agents

	runCtx, cancel := context.WithTimeout(ctx, rs.timeout)
	defer cancel()

	start := time.Now()
	res, err := sim.RunSimulation(runCtx, cfg)
	result.RuntimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		result.Error = err.Error()
	}
	result.Success = res.Success
	m := res.Metrics
	result.SimulatedTime = m.SimulatedTime
	result.OrdersCreated = m.OrdersCreated
	result.OrdersCompleted = m.Stats.CompletedOrders
	result.AvgDelivery = m.Stats.AverageDeliveryTime
	result.TotalDistance = m.Stats.TotalDistance
	result.Collisions = m.Stats.Collisions
	result.Deadlocks = m.Stats.Deadlocks
	return result
}

func writeCSV(results []*BenchmarkResult, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{
		"timestamp", "commit_hash", "go_version", "os", "arch",
		"layout", "grid_size", "num_agents", "algorithm", "seed",
		"runtime_ms", "success", "simulated_time", "orders_created", "orders_completed",
		"avg_delivery", "total_distance", "collisions", "deadlocks",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, r := range results {
		row := []string{
			r.Timestamp, r.CommitHash, r.GoVersion, r.OS, r.Arch,
			r.Layout, r.GridSize, strconv.Itoa(r.NumAgents), r.Algorithm, strconv.FormatInt(r.Seed, 10),
			fmt.Sprintf("%.3f", r.RuntimeMs), strconv.FormatBool(r.Success),
			fmt.Sprintf("%.1f", r.SimulatedTime), strconv.Itoa(r.OrdersCreated), strconv.Itoa(r.OrdersCompleted),
			fmt.Sprintf("%.2f", r.AvgDelivery), fmt.Sprintf("%.1f", r.TotalDistance),
			strconv.Itoa(r.Collisions), strconv.Itoa(r.Deadlocks),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeJSON(results []*BenchmarkResult, path string) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func printSummary(results []*BenchmarkResult) {
	metrics := make(map[string]*AlgorithmMetrics)
	for _, r := range results {
		m, ok := metrics[r.Algorithm]
		if !ok {
			m = &AlgorithmMetrics{Name: r.Algorithm}
			metrics[r.Algorithm] = m
		}
		m.TotalRuns++
		if r.Success {
			m.Successes++
			m.Completed += r.OrdersCompleted
			m.TotalRuntime += r.RuntimeMs
			m.TotalAvgTime += r.AvgDelivery
		}
		m.Collisions += r.Collisions
		m.Deadlocks += r.Deadlocks
	}

	fmt.Println("\n=== BENCHMARK SUMMARY ===")
	fmt.Printf("%-10s %6s %8s %10s %12s %12s %11s %10s\n",
		"Algorithm", "Runs", "Success", "Completed", "Avg Time(ms)", "AvgDelivery", "Collisions", "Deadlocks")
	fmt.Println(strings.Repeat("-", 86))

	var names []string
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		m := metrics[name]
		avgTime, avgDelivery := 0.0, 0.0
		if m.Successes > 0 {
			avgTime = m.TotalRuntime / float64(m.Successes)
			avgDelivery = m.TotalAvgTime / float64(m.Successes)
		}
		fmt.Printf("%-10s %6d %8d %10d %12.2f %12.2f %11d %10d\n",
			m.Name, m.TotalRuns, m.Successes, m.Completed, avgTime, avgDelivery, m.Collisions, m.Deadlocks)
	}
}

func main() {
	inputDir := flag.String("input", "layouts", "Directory containing layout files (.json, .txt)")
	outputFile := flag.String("output", "evidence/benchmark_results.csv", "Output CSV file")
	jsonOut := flag.Bool("json", false, "Also write results as JSON next to the CSV")
	timeout := flag.Duration("timeout", 5*time.Minute, "Wall clock timeout per run")
	duration := flag.Float64("duration", 600, "Simulated seconds per run")
	agents := flag.Int("agents", 0, "Agents per run (0 = one per layout spawn)")
	interval := flag.Float64("interval", 5, "Seconds between random orders")
	initial := flag.Int("initial", 10, "Orders queued at start")
	seeds := flag.Int("seeds", 3, "Seeds per layout and algorithm")
	algoFilter := flag.String("algorithm", "", "Run only these algorithms (comma-separated)")
	parallel := flag.Int("parallel", runtime.NumCPU(), "Concurrent runs")
	verbose := flag.Bool("verbose", false, "Verbose output")

	flag.Parse()

	level := slog.LevelError
	if *verbose {
		level = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := os.MkdirAll(filepath.Dir(*outputFile), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	var files []string
	for _, ext := range []string{"*.json", "*.txt", "*.map"} {
		matches, err := filepath.Glob(filepath.Join(*inputDir, ext))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding layout files: %v\n", err)
			os.Exit(1)
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "No layout files found in %s\n", *inputDir)
		fmt.Fprintf(os.Stderr, "Run gen_layouts first: go run ./tools/gen_layouts -scaling -output layouts\n")
		os.Exit(1)
	}
	sort.Strings(files)

	active := algorithms
	if *algoFilter != "" {
		active = nil
		for _, name := range strings.Split(*algoFilter, ",") {
			a, err := algo.ParseAlgorithm(name)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			active = append(active, a)
		}
	}

	var jobs []job
	for _, f := range files {
		for _, a := range active {
			for s := 0; s < *seeds; s++ {
				jobs = append(jobs, job{path: f, algorithm: a, seed: int64(42 + s)})
			}
		}
	}

	rs := runSettings{
		duration:  *duration,
		agents:    *agents,
		interval:  *interval,
		initial:   *initial,
		timeout:   *timeout,
		commit:    getGitCommit(),
		timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	fmt.Printf("Running benchmarks: %d layouts x %d algorithms x %d seeds = %d runs (%d parallel)\n",
		len(files), len(active), *seeds, len(jobs), *parallel)
	fmt.Printf("Timeout per run: %v\n\n", *timeout)

	results := make([]*BenchmarkResult, len(jobs))
	var (
		mu   sync.Mutex
		done int
	)
	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(max(*parallel, 1))
	for i, j := range jobs {
		i, j := i, j
		g.Go(func() error {
			r := runJob(ctx, j, rs)
			results[i] = r

			mu.Lock()
			defer mu.Unlock()
			done++
			if *verbose {
				status := "OK"
				if !r.Success {
					status = "FAILED " + r.Error
				}
				fmt.Printf("[%d/%d] %s / %s / seed %d: %s (%d orders, %.0fms)\n",
					done, len(jobs), r.Layout, r.Algorithm, r.Seed, status, r.OrdersCompleted, r.RuntimeMs)
			} else {
				fmt.Printf("\r[%d/%d] Running...", done, len(jobs))
			}
			return nil
		})
	}
	// Runs report failures in their result rows, never through the group.
	_ = g.Wait()
	fmt.Println()

	if err := writeCSV(results, *outputFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing results: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Results written to: %s\n", *outputFile)

	if *jsonOut {
		jsonPath := strings.TrimSuffix(*outputFile, filepath.Ext(*outputFile)) + ".json"
		if err := writeJSON(results, jsonPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing results: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Results written to: %s\n", jsonPath)
	}

	printSummary(results)
}
