package ga

import (
	"math"

	"github.com/petrel-dev/petrel/core"
)

// Selector picks parents from a rank-ordered population (best first).
type Selector interface {
	Select(pop []*Chromosome) *Chromosome
}

// NewSelector builds the configured selection operator.
func NewSelector(cfg *core.Config, rng *core.Source) Selector {
	if cfg.Selection == core.SelectionRank {
		return &RankSelector{Rand: rng, Bias: cfg.RankBias}
	}
	return &TournamentSelector{Rand: rng, Size: cfg.TournamentSize}
}

// TournamentSelector draws k contestants and keeps the best-ranked.
type TournamentSelector struct {
	Rand *core.Source
	Size int
}

// Select implements Selector. Population order encodes rank, so the
// lowest index wins.
func (s *TournamentSelector) Select(pop []*Chromosome) *Chromosome {
	if len(pop) == 0 {
		return nil
	}
	best := s.Rand.Intn(len(pop))
	for i := 1; i < s.Size; i++ {
		c := s.Rand.Intn(len(pop))
		if c < best {
			best = c
		}
	}
	return pop[best]
}

// RankSelector picks by rank with a configurable bias towards the top.
type RankSelector struct {
	Rand *core.Source
	Bias float64
}

// Select implements Selector using the standard rank-bias transform.
func (s *RankSelector) Select(pop []*Chromosome) *Chromosome {
	if len(pop) == 0 {
		return nil
	}
	n := float64(len(pop))
	b := s.Bias
	if b <= 1 {
		return pop[s.Rand.Intn(len(pop))]
	}
	r := s.Rand.Float64()
	idx := int(n * (b - math.Sqrt(b*b-4*(b-1)*r)) / (2 * (b - 1)))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(pop) {
		idx = len(pop) - 1
	}
	return pop[idx]
}
