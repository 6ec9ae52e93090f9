// Package stats collects run statistics from fleet events and exports them
// as CSV rows, SQLite records and heatmap data.
package stats

import (
	"sync"

	"github.com/elektrokombinacija/agv-fleet-sim/internal/core"
	"github.com/elektrokombinacija/agv-fleet-sim/internal/fleet"
)

// Summary is a snapshot of the aggregate counters.
type Summary struct {
	CompletedOrders     int     `json:"completed_orders"`
	AverageDeliveryTime float64 `json:"average_delivery_time"`
	TotalDeliveryTime   float64 `json:"total_delivery_time"`
	TotalDistance       float64 `json:"total_distance"`
	TotalMoveTime       float64 `json:"total_move_time"`
	Moves               int     `json:"moves"`
	Collisions          int     `json:"collisions"`
	Deadlocks           int     `json:"deadlocks"`
}

// Recorder is a fleet.Observer that keeps every completion plus running
// totals. It is safe for concurrent reads while the fleet ticks.
type Recorder struct {
	mu          sync.Mutex
	completions []fleet.Completion
	summary     Summary
	evasions    map[core.AgentID]int
	sinks       []func(fleet.Completion)
}

var _ fleet.Observer = (*Recorder)(nil)

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{evasions: make(map[core.AgentID]int)}
}

// OnCompletion registers fn to receive every completion after it is recorded.
func (r *Recorder) OnCompletion(fn func(fleet.Completion)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, fn)
}

func (r *Recorder) OnOrderCompleted(c fleet.Completion) {
	r.mu.Lock()
	r.completions = append(r.completions, c)
	r.summary.CompletedOrders++
	r.summary.TotalDeliveryTime += c.Duration
	r.summary.AverageDeliveryTime = r.summary.TotalDeliveryTime / float64(r.summary.CompletedOrders)
	sinks := make([]func(fleet.Completion), len(r.sinks))
	copy(sinks, r.sinks)
	r.mu.Unlock()

	for _, fn := range sinks {
		fn(c)
	}
}

func (r *Recorder) OnMoved(m fleet.Motion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Moves++
	r.summary.TotalDistance += m.Distance
	r.summary.TotalMoveTime += m.Duration
}

func (r *Recorder) OnCollision(core.AgentID, core.Pos) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Collisions++
}

func (r *Recorder) OnDeadlock(_ []core.AgentID, evader core.AgentID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Deadlocks++
	r.evasions[evader]++
}

// Summary returns the current totals.
func (r *Recorder) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary
}

// Completions returns every completion so far, in completion order.
func (r *Recorder) Completions() []fleet.Completion {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]fleet.Completion, len(r.completions))
	copy(out, r.completions)
	return out
}

// Evasions returns how often each agent was elected to evade.
func (r *Recorder) Evasions() map[core.AgentID]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[core.AgentID]int, len(r.evasions))
	for id, n := range r.evasions {
		out[id] = n
	}
	return out
}

// Reset clears all counters. Registered sinks are kept.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completions = nil
	r.summary = Summary{}
	r.evasions = make(map[core.AgentID]int)
}

// HeatCell is the visit count of one cell, scaled against the busiest cell.
type HeatCell struct {
	Pos       core.Pos `json:"pos"`
	Visits    int      `json:"visits"`
	Intensity float64  `json:"intensity"`
}

// Heatmap returns every visited cell in row-major order.
func Heatmap(g *core.Grid) []HeatCell {
	most := g.MaxVisits()
	if most == 0 {
		most = 1
	}
	var out []HeatCell
	for _, c := range g.Cells() {
		if v := c.Visits(); v > 0 {
			out = append(out, HeatCell{Pos: c.Pos(), Visits: v, Intensity: float64(v) / float64(most)})
		}
	}
	return out
}
