package fleet

import "github.com/elektrokombinacija/agv-fleet-sim/internal/core"

// Completion is reported once per delivered order.
type Completion struct {
	OrderID        core.OrderID
	Agent          core.AgentID
	Algorithm      string
	RealDistance   float64
	Duration       float64 // seconds from creation to delivery
	CollisionCount int
	CreatedAt      float64
	CompletedAt    float64
}

// Motion is reported for every finished cell-to-cell move.
type Motion struct {
	Agent    core.AgentID
	From, To core.Pos
	Distance float64
	Duration float64
}

// Observer receives fleet events. Calls happen on the ticking goroutine and
// must not call back into the fleet.
type Observer interface {
	// OnOrderCompleted is called after an agent finishes unloading.
	OnOrderCompleted(c Completion)

	// OnMoved is called when an agent lands on a new cell.
	OnMoved(m Motion)

	// OnCollision is called each time an agent is refused the next cell.
	OnCollision(agent core.AgentID, at core.Pos)

	// OnDeadlock is called when a circular wait is broken.
	OnDeadlock(cycle []core.AgentID, evader core.AgentID)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) OnOrderCompleted(Completion)             {}
func (NopObserver) OnMoved(Motion)                          {}
func (NopObserver) OnCollision(core.AgentID, core.Pos)      {}
func (NopObserver) OnDeadlock([]core.AgentID, core.AgentID) {}

// Observers fans every event out to each member in order.
type Observers []Observer

func (obs Observers) OnOrderCompleted(c Completion) {
	for _, o := range obs {
		o.OnOrderCompleted(c)
	}
}

func (obs Observers) OnMoved(m Motion) {
	for _, o := range obs {
		o.OnMoved(m)
	}
}

func (obs Observers) OnCollision(agent core.AgentID, at core.Pos) {
	for _, o := range obs {
		o.OnCollision(agent, at)
	}
}

func (obs Observers) OnDeadlock(cycle []core.AgentID, evader core.AgentID) {
	for _, o := range obs {
		o.OnDeadlock(cycle, evader)
	}
}
