// Package dispatch queues orders and hands them to idle agents in FIFO order.
package dispatch

import (
	"log/slog"
	"sync"

	"github.com/elektrokombinacija/agv-fleet-sim/internal/core"
)

// Assignee is an agent that can take an order.
type Assignee interface {
	ID() core.AgentID
	AssignOrder(o *core.Order) error
}

// Pool supplies idle agents. NextIdle returns false when none is free.
type Pool interface {
	NextIdle() (Assignee, bool)
}

// Queue holds Pending orders until an agent is free and tracks the ones in
// flight until they are completed.
type Queue struct {
	mu      sync.Mutex
	grid    *core.Grid
	pending []*core.Order
	active  map[core.OrderID]*core.Order
	nextID  core.OrderID
	logger  *slog.Logger
}

// New creates an empty queue for orders on g.
func New(g *core.Grid) *Queue {
	return &Queue{
		grid:   g,
		active: make(map[core.OrderID]*core.Order),
		logger: slog.Default().With("component", "dispatch"),
	}
}

// SetLogger replaces the queue logger. Call it before the queue is shared.
func (q *Queue) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	q.logger = l.With("component", "dispatch")
}

// Create builds a new order with the next ID and enqueues it. Orders with an
// off-grid or non-walkable endpoint are rejected.
func (q *Queue) Create(pickup, delivery core.Pos, now float64) (*core.Order, error) {
	q.mu.Lock()
	id := q.nextID + 1
	o, err := core.NewOrder(id, q.grid, pickup, delivery, now)
	if err != nil {
		q.mu.Unlock()
		return nil, err
	}
	q.nextID = id
	q.pending = append(q.pending, o)
	q.mu.Unlock()

	q.logger.Info("order created", "order", id, "pickup", pickup, "delivery", delivery)
	return o, nil
}

// Enqueue appends a Pending order to the back of the queue.
func (q *Queue) Enqueue(o *core.Order) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if o.ID > q.nextID {
		q.nextID = o.ID
	}
	q.pending = append(q.pending, o)
}

// Requeue puts an order that lost its agent back at the front of the queue.
func (q *Queue) Requeue(o *core.Order) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.active, o.ID)
	o.Reopen()
	q.pending = append([]*core.Order{o}, q.pending...)
	q.logger.Info("order requeued", "order", o.ID)
}

// TryDispatchAll assigns queued orders, oldest first, to idle agents until
// either runs out. Orders whose endpoints are no longer walkable stay queued
// and are skipped. It returns the number of orders assigned.
func (q *Queue) TryDispatchAll(pool Pool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	assigned := 0
	kept := q.pending[:0]
	for i, o := range q.pending {
		if !o.EndpointsWalkable(q.grid) {
			q.logger.Warn("order endpoint not walkable, keeping it queued", "order", o.ID, "pickup", o.Pickup, "delivery", o.Delivery)
			kept = append(kept, o)
			continue
		}
		agent, ok := pool.NextIdle()
		if !ok {
			kept = append(kept, q.pending[i:]...)
			break
		}
		if err := agent.AssignOrder(o); err != nil {
			q.logger.Error("assignment refused", "order", o.ID, "agent", agent.ID(), "err", err)
			kept = append(kept, q.pending[i:]...)
			break
		}
		q.active[o.ID] = o
		assigned++
		q.logger.Debug("order dispatched", "order", o.ID, "agent", agent.ID())
	}
	clear(q.pending[len(kept):])
	q.pending = kept
	return assigned
}

// Complete forgets a delivered order. It reports whether o was in flight.
func (q *Queue) Complete(id core.OrderID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.active[id]; !ok {
		return false
	}
	delete(q.active, id)
	return true
}

// Pending returns the queued orders, oldest first.
func (q *Queue) Pending() []*core.Order {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*core.Order, len(q.pending))
	copy(out, q.pending)
	return out
}

// Active returns the number of orders assigned and not yet completed.
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

// Len returns the number of queued orders.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
