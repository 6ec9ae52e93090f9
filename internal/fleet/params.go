package fleet

import "fmt"

// Params holds the motion and timing constants shared by every agent.
// All durations are simulated seconds.
type Params struct {
	Speed    float64 // world units per second
	CellSize float64 // world units per cell

	// Wait on a refused cell before routing around it.
	WaitTimeoutMin float64
	WaitTimeoutMax float64

	// Delay before a failed path search is tried again.
	RetryDelay float64

	// How long an evader stays in its siding.
	EvadeHoldMin float64
	EvadeHoldMax float64

	LoadDuration   float64
	UnloadDuration float64
}

// DefaultParams returns the warehouse defaults.
func DefaultParams() Params {
	return Params{
		Speed:          2,
		CellSize:       1,
		WaitTimeoutMin: 4,
		WaitTimeoutMax: 6,
		RetryDelay:     1,
		EvadeHoldMin:   4,
		EvadeHoldMax:   6,
		LoadDuration:   2,
		UnloadDuration: 2,
	}
}

// Validate rejects parameters the motion model cannot run with.
func (p Params) Validate() error {
	switch {
	case p.Speed <= 0:
		return fmt.Errorf("fleet: speed must be positive, got %g", p.Speed)
	case p.CellSize <= 0:
		return fmt.Errorf("fleet: cell size must be positive, got %g", p.CellSize)
	case p.WaitTimeoutMin < 0 || p.WaitTimeoutMax < p.WaitTimeoutMin:
		return fmt.Errorf("fleet: wait timeout range [%g, %g] is invalid", p.WaitTimeoutMin, p.WaitTimeoutMax)
	case p.EvadeHoldMin < 0 || p.EvadeHoldMax < p.EvadeHoldMin:
		return fmt.Errorf("fleet: evade hold range [%g, %g] is invalid", p.EvadeHoldMin, p.EvadeHoldMax)
	case p.RetryDelay <= 0:
		return fmt.Errorf("fleet: retry delay must be positive, got %g", p.RetryDelay)
	case p.LoadDuration < 0 || p.UnloadDuration < 0:
		return fmt.Errorf("fleet: load/unload durations must not be negative")
	}
	return nil
}

// StepTime is the time needed to cross one cell.
func (p Params) StepTime() float64 {
	return p.CellSize / p.Speed
}
