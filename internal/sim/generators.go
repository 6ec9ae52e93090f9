package sim

import (
	"github.com/elektrokombinacija/agv-fleet-sim/internal/core"
)

// generator emits one order every interval simulated seconds.
type generator struct {
	name     string
	interval float64
	next     float64
	emit     func(s *Simulator) error
}

func (g *generator) run(s *Simulator) {
	for s.currentTime+1e-9 >= g.next {
		g.next += g.interval
		if err := g.emit(s); err != nil {
			s.logger.Debug("generator produced no order", "generator", g.name, "err", err)
		}
	}
}

func (s *Simulator) newGenerators() []*generator {
	var gens []*generator
	add := func(name string, interval float64, emit func(*Simulator) error) {
		if interval > 0 {
			gens = append(gens, &generator{name: name, interval: interval, next: interval, emit: emit})
		}
	}
	add("inbound", s.config.InboundInterval, func(s *Simulator) error {
		return s.kindOrder(core.LoadingDock, core.Shelf)
	})
	add("outbound", s.config.OutboundInterval, func(s *Simulator) error {
		return s.kindOrder(core.Shelf, core.UnloadingDock)
	})
	add("random", s.config.RandomInterval, func(s *Simulator) error {
		_, err := s.createRandomOrder()
		return err
	})
	return gens
}

// kindOrder creates an order from a random cell of kind from to a random cell
// of kind to.
func (s *Simulator) kindOrder(from, to core.Kind) error {
	pickups := s.grid.CellsOfKind(from)
	deliveries := s.grid.CellsOfKind(to)
	if len(pickups) == 0 || len(deliveries) == 0 {
		return ErrNoOrderCells
	}
	pickup := pickups[s.rng.Intn(len(pickups))].Pos()
	delivery := deliveries[s.rng.Intn(len(deliveries))].Pos()
	_, err := s.createOrder(pickup, delivery)
	return err
}
