package core

import "fmt"

// OrderID is a unique order identifier.
type OrderID int

// OrderStatus tracks how far an order has progressed.
type OrderStatus int

const (
	Pending   OrderStatus = iota // Waiting in the dispatch queue
	Assigned                     // Agent driving to the pickup cell
	PickedUp                     // Load on board, driving to delivery
	Completed                    // Delivered
)

func (s OrderStatus) String() string {
	return [...]string{"Pending", "Assigned", "PickedUp", "Completed"}[s]
}

// Order is one pickup/delivery job.
type Order struct {
	ID       OrderID
	Pickup   Pos
	Delivery Pos
	Status   OrderStatus

	CreatedAt   float64 // Simulation seconds
	CompletedAt float64

	// Accumulated by the assigned agent.
	CollisionCount int
	RealDistance   float64

	// Times the order went back to Pending after losing its agent.
	Reopened int
}

// NewOrder creates a Pending order after checking both endpoints are walkable.
func NewOrder(id OrderID, g *Grid, pickup, delivery Pos, now float64) (*Order, error) {
	for _, p := range []Pos{pickup, delivery} {
		c, ok := g.At(p)
		if !ok {
			return nil, fmt.Errorf("order %d endpoint %s: %w", id, p, ErrOutOfBounds)
		}
		if !c.Walkable() {
			return nil, fmt.Errorf("order %d endpoint %s (%s): %w", id, p, c.Kind(), ErrNotWalkable)
		}
	}
	return &Order{
		ID:        id,
		Pickup:    pickup,
		Delivery:  delivery,
		Status:    Pending,
		CreatedAt: now,
	}, nil
}

// Advance moves the order to the next status. Statuses may only be entered
// in order, each exactly once per assignment. A Reopen ends the assignment:
// the load left with the removed agent, so the order runs from Assigned
// through PickedUp again.
func (o *Order) Advance(to OrderStatus) error {
	if to != o.Status+1 {
		return fmt.Errorf("order %d: illegal transition %s -> %s", o.ID, o.Status, to)
	}
	o.Status = to
	return nil
}

// Reopen puts an order whose agent left the fleet back to Pending.
// Accumulated distance and collisions are kept. Completed and Pending
// orders are left alone.
func (o *Order) Reopen() {
	if o.Status == Completed || o.Status == Pending {
		return
	}
	o.Status = Pending
	o.Reopened++
}

// Duration returns creation-to-completion time in seconds.
func (o *Order) Duration() float64 {
	if o.Status != Completed {
		return 0
	}
	return o.CompletedAt - o.CreatedAt
}

// EndpointsWalkable reports whether both endpoints are still walkable on g.
func (o *Order) EndpointsWalkable(g *Grid) bool {
	return g.Walkable(o.Pickup) && g.Walkable(o.Delivery)
}
