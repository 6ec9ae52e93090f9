package fleet

import (
	"log/slog"

	"github.com/elektrokombinacija/agv-fleet-sim/internal/algo"
	"github.com/elektrokombinacija/agv-fleet-sim/internal/core"
	"github.com/elektrokombinacija/agv-fleet-sim/internal/reserve"
)

// State is the order-driven state of an agent.
type State int

const (
	Idle State = iota
	MovingToPickup
	Loading
	MovingToDelivery
	Unloading
	MovingToWaiting
)

var stateNames = [...]string{"Idle", "MovingToPickup", "Loading", "MovingToDelivery", "Unloading", "MovingToWaiting"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// phase is what the agent is doing within its State on the current tick.
type phase int

const (
	phaseHalted  phase = iota // nothing to do until an order arrives
	phaseReady                // path pending, next cell not yet claimed
	phaseMoving               // crossing into a claimed cell
	phaseBlocked              // next cell refused
	phaseTimer                // sleeping until the timer fires
)

type timerAction int

const (
	actRetry    timerAction = iota // search the route again
	actLoaded                      // loading finished
	actUnloaded                    // unloading finished
	actResume                      // siding hold finished
)

// arrival says what reaching dest means.
type arrival int

const (
	arrivePickup arrival = iota
	arriveDelivery
	arriveWaiting
)

const (
	epsilon = 1e-9
	// Bound on consecutive phase changes that spend no time. A long tick may
	// take any number of timed phases; only a zero-time spin is cut short.
	maxInstantTransitions = 64
)

// Agent is one AGV. It is driven entirely by Fleet.Tick.
type Agent struct {
	id    core.AgentID
	fleet *Fleet
	log   *slog.Logger
	gone  bool

	pos   core.Pos
	state State
	order *core.Order

	path   []core.Pos // remaining cells, current cell excluded
	dest   core.Pos   // final destination, kept across reroutes
	arrive arrival
	detour bool // path leads into a siding rather than to dest

	phase    phase
	next     core.Pos
	progress float64 // fraction of the current move already done

	blockedOn core.Pos
	waited    float64
	timeout   float64

	timer  float64
	action timerAction
}

// ID returns the agent identifier.
func (a *Agent) ID() core.AgentID { return a.id }

// Pos returns the cell the agent stands on. While moving this is the cell
// being left; it stays claimed until the move lands.
func (a *Agent) Pos() core.Pos { return a.pos }

// State returns the order-driven state.
func (a *Agent) State() State { return a.state }

// Order returns the active order, or nil.
func (a *Agent) Order() *core.Order { return a.order }

// Destination returns the final destination of the current leg.
func (a *Agent) Destination() core.Pos { return a.dest }

// Path returns a copy of the cells still to be entered.
func (a *Agent) Path() []core.Pos {
	out := make([]core.Pos, len(a.path))
	copy(out, a.path)
	return out
}

// Moving returns the cell being entered and how far along the move is.
func (a *Agent) Moving() (to core.Pos, progress float64, ok bool) {
	if a.phase != phaseMoving {
		return core.Pos{}, 0, false
	}
	return a.next, a.progress, true
}

// Blocked returns the refused cell while the agent waits for it.
func (a *Agent) Blocked() (core.Pos, bool) {
	return a.blockedOn, a.phase == phaseBlocked
}

// Evading reports whether the agent is heading into or holding a siding.
func (a *Agent) Evading() bool {
	return a.detour || (a.phase == phaseTimer && a.action == actResume)
}

// AssignOrder hands o to an Idle agent and starts the trip to the pickup.
func (a *Agent) AssignOrder(o *core.Order) error {
	if a.gone || a.state != Idle || a.order != nil {
		return ErrNotIdle
	}
	if err := o.Advance(core.Assigned); err != nil {
		return err
	}
	a.order = o
	a.state = MovingToPickup
	a.log.Info("order assigned", "order", o.ID, "pickup", o.Pickup, "delivery", o.Delivery)
	a.setDestination(o.Pickup, arrivePickup, nil)
	return nil
}

// step advances the agent from now by dt seconds.
func (a *Agent) step(now, dt float64) {
	budget := dt
	instant := 0
	for budget > epsilon {
		if instant >= maxInstantTransitions {
			a.log.Warn("no progress within tick, dropping remainder", "phase", a.phase, "left", budget, "t", now+dt-budget)
			return
		}
		at := now + dt - budget
		before := budget
		switch a.phase {
		case phaseHalted:
			return
		case phaseReady:
			a.departOrArrive(at)
		case phaseMoving:
			budget = a.move(at, budget)
		case phaseBlocked:
			budget = a.waitBlocked(at, budget)
		case phaseTimer:
			budget = a.sleep(at, budget)
		}
		if budget < before {
			instant = 0
		} else {
			instant++
		}
	}
}

func (a *Agent) setDestination(dest core.Pos, arrive arrival, avoid algo.Avoid) {
	a.dest, a.arrive, a.detour = dest, arrive, false
	a.route(avoid)
}

// route replaces the path with a fresh search from the current cell to dest.
func (a *Agent) route(avoid algo.Avoid) {
	path, err := algo.FindPath(a.fleet.grid, a.pos, a.dest, a.fleet.algorithm, avoid)
	if err != nil {
		a.log.Warn("no route, will retry", "dest", a.dest, "avoid", len(avoid), "retry_in", a.fleet.params.RetryDelay, "err", err)
		a.path = nil
		a.startTimer(a.fleet.params.RetryDelay, actRetry)
		return
	}
	a.path = path[1:]
	a.phase = phaseReady
}

func (a *Agent) startTimer(d float64, act timerAction) {
	a.phase = phaseTimer
	a.timer = d
	a.action = act
}

func (a *Agent) departOrArrive(at float64) {
	if len(a.path) == 0 {
		a.arrived(at)
		return
	}
	next := a.path[0]
	if a.fleet.table.TryClaim(next, a.id) {
		a.path = a.path[1:]
		a.next, a.progress, a.phase = next, 0, phaseMoving
		return
	}
	a.block(at, next)
}

func (a *Agent) block(at float64, next core.Pos) {
	a.phase = phaseBlocked
	a.blockedOn = next
	a.waited = 0
	a.timeout = a.fleet.randBetween(a.fleet.params.WaitTimeoutMin, a.fleet.params.WaitTimeoutMax)
	if a.order != nil {
		a.order.CollisionCount++
	}
	a.fleet.table.Wait(a.id, next)
	a.fleet.observer.OnCollision(a.id, next)
	a.log.Debug("blocked", "cell", next, "holder", a.fleet.table.Holder(next), "timeout", a.timeout, "t", at)
}

func (a *Agent) move(at, budget float64) float64 {
	stepTime := a.fleet.params.StepTime()
	need := (1 - a.progress) * stepTime
	if budget+epsilon < need {
		a.progress += budget / stepTime
		return 0
	}
	a.land()
	if budget <= need {
		return 0
	}
	return budget - need
}

// land finishes a move: the new cell becomes current and the old one is freed.
func (a *Agent) land() {
	from := a.pos
	a.pos = a.next
	a.progress = 0
	a.phase = phaseReady
	a.fleet.table.Release(from, a.id)
	a.fleet.grid.RecordVisit(a.pos)

	dist := a.fleet.params.CellSize
	if a.order != nil {
		a.order.RealDistance += dist
	}
	a.fleet.observer.OnMoved(Motion{
		Agent:    a.id,
		From:     from,
		To:       a.pos,
		Distance: dist,
		Duration: a.fleet.params.StepTime(),
	})
}

// waitBlocked spends one tick waiting for blockedOn. A freed cell is taken
// straight away and the rest of the tick is spent moving.
func (a *Agent) waitBlocked(at, budget float64) float64 {
	table := a.fleet.table
	if table.TryClaim(a.blockedOn, a.id) {
		table.StopWaiting(a.id)
		a.path = a.path[1:]
		a.next, a.progress, a.phase = a.blockedOn, 0, phaseMoving
		return budget
	}

	a.waited += budget
	if a.settleDeadlock() {
		return 0
	}
	if a.waited >= a.timeout {
		a.log.Debug("wait timed out, rerouting", "cell", a.blockedOn, "waited", a.waited, "t", at)
		a.reroute(a.blockedOn)
	}
	return 0
}

// settleDeadlock acts on a pending verdict, or looks for a circular wait
// through this agent and breaks it. It reports whether the agent changed course.
func (a *Agent) settleDeadlock() bool {
	table := a.fleet.table
	v := table.TakeVerdict(a.id)
	if v == reserve.NoVerdict {
		cycle, evader, found := table.ResolveDeadlock(a.id)
		if !found {
			return false
		}
		a.fleet.logger.Info("deadlock detected", "cycle", cycle, "evader", evader, "cell", a.blockedOn)
		a.fleet.observer.OnDeadlock(cycle, evader)
		v = table.TakeVerdict(a.id)
	}

	switch v {
	case reserve.Evade:
		a.evade()
	case reserve.Yield:
		a.log.Debug("yielding, rerouting", "cell", a.blockedOn)
		a.reroute(a.blockedOn)
	default:
		return false
	}
	return true
}

// reroute drops the remaining path and searches again with contested avoided.
func (a *Agent) reroute(contested core.Pos) {
	a.fleet.table.StopWaiting(a.id)
	a.path = nil
	avoid := algo.Avoid{contested: true}
	if a.arrive == arriveWaiting {
		a.park(avoid)
		return
	}
	a.detour = false
	a.route(avoid)
}

// evade steps aside into a nearby siding so the rest of a deadlock cycle can
// pass. The final destination is kept and retried after a hold.
func (a *Agent) evade() {
	table := a.fleet.table
	table.StopWaiting(a.id)
	obstacle := a.blockedOn

	siding, ok := algo.FindEvadeCell(a.fleet.grid, a.pos, obstacle, func(p core.Pos) bool {
		return table.Available(p, a.id)
	})
	if !ok {
		a.log.Warn("no siding found, rerouting", "obstacle", obstacle)
		a.reroute(obstacle)
		return
	}
	path, err := algo.FindPath(a.fleet.grid, a.pos, siding, a.fleet.algorithm, algo.Avoid{obstacle: true})
	if err != nil {
		a.log.Warn("siding unreachable, rerouting", "siding", siding, "err", err)
		a.reroute(obstacle)
		return
	}

	a.log.Info("evading", "siding", siding, "obstacle", obstacle)
	a.path = path[1:]
	a.detour = true
	a.phase = phaseReady
}

func (a *Agent) arrived(at float64) {
	p := a.fleet.params
	if a.detour {
		a.detour = false
		hold := a.fleet.randBetween(p.EvadeHoldMin, p.EvadeHoldMax)
		a.log.Debug("holding in siding", "cell", a.pos, "hold", hold, "t", at)
		a.startTimer(hold, actResume)
		return
	}

	switch a.arrive {
	case arrivePickup:
		a.state = Loading
		a.log.Debug("loading", "order", a.order.ID, "t", at)
		a.startTimer(p.LoadDuration, actLoaded)
	case arriveDelivery:
		a.state = Unloading
		a.log.Debug("unloading", "order", a.order.ID, "t", at)
		a.startTimer(p.UnloadDuration, actUnloaded)
	case arriveWaiting:
		a.state = Idle
		a.phase = phaseHalted
		a.fleet.notifyIdle(a)
	}
}

func (a *Agent) sleep(at, budget float64) float64 {
	if budget+epsilon < a.timer {
		a.timer -= budget
		return 0
	}
	d := a.timer
	left := budget - d
	a.timer = 0
	a.fire(at + d)
	if left < 0 {
		return 0
	}
	return left
}

func (a *Agent) fire(at float64) {
	switch a.action {
	case actRetry:
		if a.arrive == arriveWaiting {
			a.park(nil)
			return
		}
		a.route(nil)
	case actResume:
		a.log.Debug("leaving siding", "dest", a.dest, "t", at)
		a.route(nil)
	case actLoaded:
		if err := a.order.Advance(core.PickedUp); err != nil {
			a.log.Error("order out of sequence", "order", a.order.ID, "err", err)
		}
		a.state = MovingToDelivery
		a.setDestination(a.order.Delivery, arriveDelivery, nil)
	case actUnloaded:
		a.complete(at)
	}
}

func (a *Agent) complete(at float64) {
	o := a.order
	if err := o.Advance(core.Completed); err != nil {
		a.log.Error("order out of sequence", "order", o.ID, "err", err)
	}
	o.CompletedAt = at

	a.order = nil
	a.path = nil
	a.state = Idle
	a.phase = phaseHalted

	a.log.Info("order completed", "order", o.ID, "distance", o.RealDistance, "duration", o.Duration(), "collisions", o.CollisionCount)
	a.fleet.observer.OnOrderCompleted(Completion{
		OrderID:        o.ID,
		Agent:          a.id,
		Algorithm:      a.fleet.algorithm.String(),
		RealDistance:   o.RealDistance,
		Duration:       o.Duration(),
		CollisionCount: o.CollisionCount,
		CreatedAt:      o.CreatedAt,
		CompletedAt:    o.CompletedAt,
	})

	// A queued order may be handed over right here.
	a.fleet.notifyIdle(a)
	if a.state == Idle && a.order == nil && !a.gone {
		a.park(nil)
	}
}

// park sends the agent to the nearest free waiting area. With none free, or
// when already standing on the nearest one, it stays Idle in place.
func (a *Agent) park(avoid algo.Avoid) {
	spot, ok := a.fleet.nearestWaitingArea(a)
	if !ok || spot == a.pos {
		if !ok {
			a.log.Debug("no free waiting area, idling in place", "cell", a.pos)
		}
		a.state = Idle
		a.phase = phaseHalted
		a.path = nil
		return
	}
	a.state = MovingToWaiting
	a.setDestination(spot, arriveWaiting, avoid)
}
