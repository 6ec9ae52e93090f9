// Package core defines the warehouse grid model for the AGV fleet simulator.
package core

import (
	"fmt"
	"strings"
)

// Kind classifies what a grid cell holds.
type Kind int

const (
	Empty         Kind = iota // Open floor
	Wall                      // Never walkable, never occupied
	Shelf                     // Storage rack face (pick/put location)
	LoadingDock               // Inbound goods arrive here
	UnloadingDock             // Outbound goods leave here
	WaitingArea               // Parking spot for idle agents
)

var kindNames = [...]string{"Empty", "Wall", "Shelf", "LoadingDock", "UnloadingDock", "WaitingArea"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k >= 0 && int(k) < len(kindNames)
}

// Walkable reports whether an agent may stand on a cell of this kind.
func (k Kind) Walkable() bool {
	return k != Wall
}

// AllKinds returns every cell kind in declaration order.
func AllKinds() []Kind {
	return []Kind{Empty, Wall, Shelf, LoadingDock, UnloadingDock, WaitingArea}
}

// ParseKind maps a kind name (case-insensitive) back to its Kind.
func ParseKind(s string) (Kind, error) {
	for i, name := range kindNames {
		if strings.EqualFold(name, s) {
			return Kind(i), nil
		}
	}
	return Empty, fmt.Errorf("unknown cell kind %q", s)
}

// AgentID is a stable, unique agent identifier. The zero value means "nobody".
type AgentID int

// NoAgent marks an unoccupied cell.
const NoAgent AgentID = 0

func (id AgentID) String() string {
	return fmt.Sprintf("agv-%d", int(id))
}

// Direction is a 4-neighbour move direction.
type Direction int

const (
	DirNone Direction = iota
	North             // +Y
	South             // -Y
	East              // +X
	West              // -X
)

func (d Direction) String() string {
	return [...]string{"None", "North", "South", "East", "West"}[d]
}

// Delta returns the coordinate offset of one step in direction d.
func (d Direction) Delta() (dx, dy int) {
	switch d {
	case North:
		return 0, 1
	case South:
		return 0, -1
	case East:
		return 1, 0
	case West:
		return -1, 0
	default:
		return 0, 0
	}
}

// neighborOrder fixes the expansion order of neighbours; search results depend on it.
var neighborOrder = [4]Direction{North, South, East, West}
