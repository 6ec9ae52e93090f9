// Package sim runs the warehouse fleet on a fixed simulated time step.
//
// One Step generates due orders, hands queued orders to idle agents and then
// ticks every agent once. Everything runs on the caller's goroutine; the
// mutex only guards against control calls (SetSpeed, Pause, CreateOrder)
// made from another goroutine while Run is looping.
package sim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/elektrokombinacija/agv-fleet-sim/internal/algo"
	"github.com/elektrokombinacija/agv-fleet-sim/internal/config"
	"github.com/elektrokombinacija/agv-fleet-sim/internal/core"
	"github.com/elektrokombinacija/agv-fleet-sim/internal/dispatch"
	"github.com/elektrokombinacija/agv-fleet-sim/internal/fleet"
	"github.com/elektrokombinacija/agv-fleet-sim/internal/reserve"
	"github.com/elektrokombinacija/agv-fleet-sim/internal/stats"
)

// ErrNoOrderCells is returned when a random order cannot find two distinct
// walkable cells.
var ErrNoOrderCells = errors.New("no cells available for a random order")

// SimulationConfig configures the simulation parameters
type SimulationConfig struct {
	// Floor to simulate. Required.
	Grid *core.Grid

	// Agent count and preferred spawn cells. Agents beyond the listed spawns
	// start on free waiting areas, then on random free floor.
	Agents int
	Spawns []core.Pos

	Params    fleet.Params
	Algorithm algo.Algorithm

	// Random orders created before the first step.
	InitialOrders int

	// Order generator periods in simulated seconds; 0 disables a generator.
	InboundInterval  float64 // loading dock -> shelf
	OutboundInterval float64 // shelf -> unloading dock
	RandomInterval   float64 // any walkable cell -> any other

	// Simulation duration in seconds. 0 runs until the context ends.
	Duration float64

	// Time step for simulation (seconds)
	TimeStep float64

	// Time scale applied to every step.
	Speed float64

	// Random seed for reproducibility
	Seed int64

	Logger *slog.Logger
}

// DefaultConfig returns default simulation configuration
func DefaultConfig() SimulationConfig {
	return SimulationConfig{
		Agents:           4,
		Params:           fleet.DefaultParams(),
		Algorithm:        algo.AStar,
		InboundInterval:  15,
		OutboundInterval: 20,
		Duration:         600,
		TimeStep:         0.1,
		Speed:            1,
		Seed:             42,
	}
}

// ConfigFrom converts a loaded file configuration for grid g. Spawns listed in
// the file come first, followed by extra.
func ConfigFrom(cfg *config.Config, g *core.Grid, extra []core.Pos) SimulationConfig {
	sc := SimulationConfig{
		Grid:             g,
		Agents:           cfg.Fleet.Agents,
		Params:           cfg.Fleet.Params(),
		Algorithm:        cfg.Pathfinding.Algo(),
		InitialOrders:    cfg.Orders.Initial,
		InboundInterval:  cfg.Orders.InboundInterval.Seconds(),
		OutboundInterval: cfg.Orders.OutboundInterval.Seconds(),
		RandomInterval:   cfg.Orders.RandomInterval.Seconds(),
		Duration:         cfg.Simulation.Duration.Seconds(),
		TimeStep:         cfg.Simulation.TimeStep.Seconds(),
		Speed:            cfg.Simulation.Speed,
		Seed:             cfg.Simulation.Seed,
	}
	for _, c := range cfg.Fleet.Spawns {
		sc.Spawns = append(sc.Spawns, core.Pos{X: c.X, Y: c.Y})
	}
	sc.Spawns = append(sc.Spawns, extra...)
	return sc
}

// Validate reports the first setting the simulator cannot run with.
func (c SimulationConfig) Validate() error {
	switch {
	case c.Grid == nil:
		return fmt.Errorf("sim: no grid")
	case c.Agents < 0:
		return fmt.Errorf("sim: negative agent count")
	case c.TimeStep <= 0:
		return fmt.Errorf("sim: time step must be positive")
	case c.Speed <= 0:
		return fmt.Errorf("sim: speed must be positive")
	case c.Duration < 0:
		return fmt.Errorf("sim: duration must not be negative")
	case c.InboundInterval < 0 || c.OutboundInterval < 0 || c.RandomInterval < 0:
		return fmt.Errorf("sim: order intervals must not be negative")
	}
	return c.Params.Validate()
}

// SimulationMetrics collects metrics during simulation
type SimulationMetrics struct {
	// Timing
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	SimulatedTime float64   `json:"simulated_time"`
	Steps         int       `json:"steps"`

	// Fleet
	Agents    int    `json:"agents"`
	Algorithm string `json:"algorithm"`

	// Orders
	OrdersCreated    int `json:"orders_created"`
	OrdersRejected   int `json:"orders_rejected"`
	OrdersDispatched int `json:"orders_dispatched"`
	OrdersPending    int `json:"orders_pending"`
	OrdersActive     int `json:"orders_active"`

	// Throughput and traffic, from the recorder.
	Stats stats.Summary `json:"stats"`
}

// Simulator runs the fleet, the dispatch queue and the order generators.
type Simulator struct {
	mu sync.Mutex

	config SimulationConfig

	grid     *core.Grid
	table    *reserve.Table
	fleet    *fleet.Fleet
	queue    *dispatch.Queue
	recorder *stats.Recorder
	rng      *rand.Rand
	logger   *slog.Logger

	// State
	currentTime float64
	speed       float64
	resume      chan struct{} // non-nil while paused
	generators  []*generator

	// Metrics
	metrics SimulationMetrics
}

// NewSimulator builds the fleet on config.Grid, spawns the agents and queues
// the initial orders.
func NewSimulator(config SimulationConfig) (*Simulator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Simulator{
		config:   config,
		grid:     config.Grid,
		table:    reserve.New(config.Grid),
		queue:    dispatch.New(config.Grid),
		recorder: stats.NewRecorder(),
		rng:      rand.New(rand.NewSource(config.Seed)),
		logger:   logger.With("component", "sim"),
		speed:    config.Speed,
	}

	s.table.SetLogger(logger)
	s.queue.SetLogger(logger)
	s.fleet = fleet.New(s.grid, s.table, config.Params)
	s.fleet.SetLogger(logger)
	s.fleet.SetAlgorithm(config.Algorithm)
	s.fleet.SetRand(rand.New(rand.NewSource(config.Seed + 1)))
	s.fleet.SetObserver(fleet.Observers{s.recorder, completionRelay{queue: s.queue}})
	s.fleet.SetIdleHook(func(*fleet.Agent) { s.dispatch() })

	if err := s.spawnAgents(); err != nil {
		return nil, err
	}
	s.generators = s.newGenerators()

	for i := 0; i < config.InitialOrders; i++ {
		if _, err := s.createRandomOrder(); err != nil {
			s.logger.Warn("initial order skipped", "err", err)
		}
	}

	s.metrics.Agents = s.fleet.Len()
	s.metrics.Algorithm = config.Algorithm.String()
	return s, nil
}

// completionRelay tells the queue an order left the system.
type completionRelay struct {
	fleet.NopObserver
	queue *dispatch.Queue
}

func (r completionRelay) OnOrderCompleted(c fleet.Completion) {
	r.queue.Complete(c.OrderID)
}

// idlePool offers the fleet's idle agents to the dispatch queue.
type idlePool struct{ fleet *fleet.Fleet }

func (p idlePool) NextIdle() (dispatch.Assignee, bool) {
	a := p.fleet.NextIdle()
	if a == nil {
		return nil, false
	}
	return a, true
}

func (s *Simulator) dispatch() {
	s.metrics.OrdersDispatched += s.queue.TryDispatchAll(idlePool{s.fleet})
}

// spawnAgents places the configured agents: listed spawns first, then free
// waiting areas, then random free floor.
func (s *Simulator) spawnAgents() error {
	want := s.config.Agents
	for _, p := range s.config.Spawns {
		if s.fleet.Len() == want {
			return nil
		}
		if _, err := s.fleet.Spawn(p); err != nil {
			s.logger.Warn("spawn cell skipped", "cell", p, "err", err)
		}
	}
	for _, c := range s.grid.CellsOfKind(core.WaitingArea) {
		if s.fleet.Len() == want {
			return nil
		}
		if s.table.Holder(c.Pos()) == core.NoAgent {
			_, _ = s.fleet.Spawn(c.Pos())
		}
	}

	var free []core.Pos
	for _, c := range s.grid.Cells() {
		if c.Kind() == core.Empty && s.table.Holder(c.Pos()) == core.NoAgent {
			free = append(free, c.Pos())
		}
	}
	s.rng.Shuffle(len(free), func(i, j int) { free[i], free[j] = free[j], free[i] })
	for _, p := range free {
		if s.fleet.Len() == want {
			return nil
		}
		_, _ = s.fleet.Spawn(p)
	}
	if s.fleet.Len() < want {
		return fmt.Errorf("sim: room for %d of %d agents: %w", s.fleet.Len(), want, fleet.ErrCellUnavailable)
	}
	return nil
}

// Step advances the simulation by one time step. It does nothing while paused.
func (s *Simulator) Step() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resume != nil {
		return
	}
	s.step()
}

func (s *Simulator) step() {
	dt := s.config.TimeStep * s.speed
	for _, g := range s.generators {
		g.run(s)
	}
	s.dispatch()
	s.fleet.Tick(s.currentTime, dt)
	s.currentTime += dt
	s.metrics.Steps++
}

// Run executes the simulation until the configured duration has been
// simulated or ctx ends. A paused simulator blocks in Run until resumed.
func (s *Simulator) Run(ctx context.Context) (*SimulationMetrics, error) {
	s.mu.Lock()
	s.metrics.StartTime = time.Now()
	s.mu.Unlock()

	var err error
loop:
	for {
		s.mu.Lock()
		if s.config.Duration > 0 && s.currentTime >= s.config.Duration-1e-9 {
			s.mu.Unlock()
			break
		}
		resume := s.resume
		if resume == nil {
			s.step()
		}
		s.mu.Unlock()

		if resume != nil {
			select {
			case <-ctx.Done():
				err = ctx.Err()
				break loop
			case <-resume:
			}
			continue
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break loop
		default:
		}
	}

	s.mu.Lock()
	s.metrics.EndTime = time.Now()
	m := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("simulation finished",
		"simulated", m.SimulatedTime,
		"steps", m.Steps,
		"completed", m.Stats.CompletedOrders,
		"pending", m.OrdersPending,
		"deadlocks", m.Stats.Deadlocks)
	return &m, err
}

// Pause stops Step and Run until Resume is called.
func (s *Simulator) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resume == nil {
		s.resume = make(chan struct{})
		s.logger.Info("simulation paused", "t", s.currentTime)
	}
}

// Resume continues a paused simulation.
func (s *Simulator) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resume != nil {
		close(s.resume)
		s.resume = nil
		s.logger.Info("simulation resumed", "t", s.currentTime)
	}
}

// Paused reports whether the simulation is paused.
func (s *Simulator) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resume != nil
}

// SetSpeed changes the time scale. Non-positive values are ignored.
func (s *Simulator) SetSpeed(speed float64) {
	if speed <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speed = speed
	s.logger.Info("simulation speed changed", "speed", speed)
}

// SetAlgorithm switches the path search for all later searches and resets
// the statistics so runs with different algorithms are compared fairly.
func (s *Simulator) SetAlgorithm(a algo.Algorithm) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fleet.SetAlgorithm(a)
	s.recorder.Reset()
	s.metrics.Algorithm = a.String()
}

// CreateOrder queues a pickup/delivery order created now.
func (s *Simulator) CreateOrder(pickup, delivery core.Pos) (*core.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createOrder(pickup, delivery)
}

func (s *Simulator) createOrder(pickup, delivery core.Pos) (*core.Order, error) {
	o, err := s.queue.Create(pickup, delivery, s.currentTime)
	if err != nil {
		s.metrics.OrdersRejected++
		s.logger.Warn("order rejected", "pickup", pickup, "delivery", delivery, "err", err)
		return nil, err
	}
	s.metrics.OrdersCreated++
	return o, nil
}

// CreateRandomOrder queues an order between two distinct random walkable cells.
func (s *Simulator) CreateRandomOrder() (*core.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createRandomOrder()
}

const randomOrderAttempts = 10

func (s *Simulator) createRandomOrder() (*core.Order, error) {
	var walkable []core.Pos
	for _, c := range s.grid.Cells() {
		if c.Walkable() {
			walkable = append(walkable, c.Pos())
		}
	}
	if len(walkable) < 2 {
		return nil, ErrNoOrderCells
	}
	for i := 0; i < randomOrderAttempts; i++ {
		pickup := walkable[s.rng.Intn(len(walkable))]
		delivery := walkable[s.rng.Intn(len(walkable))]
		if pickup != delivery {
			return s.createOrder(pickup, delivery)
		}
	}
	return nil, ErrNoOrderCells
}

// SpawnAgent adds an agent on p.
func (s *Simulator) SpawnAgent(p core.Pos) (core.AgentID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.fleet.Spawn(p)
	if err != nil {
		return core.NoAgent, err
	}
	s.metrics.Agents = s.fleet.Len()
	return a.ID(), nil
}

// RemoveAgent takes an agent off the floor. Its order, if any, goes back to
// the front of the queue.
func (s *Simulator) RemoveAgent(id core.AgentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.fleet.Remove(id)
	if err != nil {
		return err
	}
	if o != nil {
		s.queue.Requeue(o)
	}
	s.metrics.Agents = s.fleet.Len()
	return nil
}

// Grid returns the simulated floor.
func (s *Simulator) Grid() *core.Grid { return s.grid }

// Fleet returns the agent roster. Callers must not tick it.
func (s *Simulator) Fleet() *fleet.Fleet { return s.fleet }

// Queue returns the order queue.
func (s *Simulator) Queue() *dispatch.Queue { return s.queue }

// Recorder returns the statistics recorder.
func (s *Simulator) Recorder() *stats.Recorder { return s.recorder }

// Time returns the simulated time in seconds.
func (s *Simulator) Time() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTime
}

// Metrics returns current simulation metrics
func (s *Simulator) Metrics() SimulationMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Simulator) snapshotLocked() SimulationMetrics {
	m := s.metrics
	m.SimulatedTime = s.currentTime
	m.OrdersPending = s.queue.Len()
	m.OrdersActive = s.queue.Active()
	m.Stats = s.recorder.Summary()
	return m
}

// ExportMetrics writes metrics to a JSON file
func (s *Simulator) ExportMetrics(path string) error {
	metrics := s.Metrics()

	data, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating metrics directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0644)
}

// SimulationResult is the final output of a simulation run
type SimulationResult struct {
	Metrics     SimulationMetrics  `json:"metrics"`
	Completions []fleet.Completion `json:"completions"`
	Success     bool               `json:"success"`
	Error       string             `json:"error,omitempty"`
}

// RunSimulation is a convenience function to run a complete simulation
func RunSimulation(ctx context.Context, config SimulationConfig) (*SimulationResult, error) {
	sim, err := NewSimulator(config)
	if err != nil {
		return &SimulationResult{Error: err.Error()}, err
	}

	metrics, err := sim.Run(ctx)

	result := &SimulationResult{
		Completions: sim.Recorder().Completions(),
		Success:     err == nil,
	}
	if err != nil {
		result.Error = err.Error()
	}
	if metrics != nil {
		result.Metrics = *metrics
	}
	return result, err
}
