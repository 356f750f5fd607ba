package ga

import (
	"sort"

	"github.com/petrel-dev/petrel/coverage"
	"github.com/petrel-dev/petrel/core"
	"github.com/petrel-dev/petrel/testcase"
)

// mioEntry pairs an individual with its h-value and sampling counter.
type mioEntry struct {
	test    *testcase.TestCase
	h       float64
	samples int
}

// MIOParameters are the adaptive knobs of the MIO archive: the fresh
// sampling probability, the per-goal population bound and the mutation
// count per sampled individual.
type MIOParameters struct {
	Pr float64
	N  int
	M  int
}

// MIOArchive keeps, per goal, a bounded population ordered by h-value
// descending with shorter tests winning ties. h = 1 - normalized
// fitness, so h = 1 denotes coverage.
type MIOArchive struct {
	rand  *core.Source
	goals []coverage.Goal
	pops  map[string][]*mioEntry

	exploration  MIOParameters
	exploitation MIOParameters
	focusAt      float64
	params       MIOParameters
}

// NewMIOArchive builds the archive with the canonical exploration and
// exploitation endpoints.
func NewMIOArchive(rng *core.Source, goals []coverage.Goal, focusAt float64) *MIOArchive {
	a := &MIOArchive{
		rand:         rng,
		goals:        goals,
		pops:         make(map[string][]*mioEntry),
		exploration:  MIOParameters{Pr: 0.5, N: 5, M: 1},
		exploitation: MIOParameters{Pr: 0, N: 1, M: 10},
		focusAt:      focusAt,
	}
	a.params = a.exploration
	return a
}

// Params returns the current adaptive parameters.
func (a *MIOArchive) Params() MIOParameters { return a.params }

// Adapt advances the parameters linearly from exploration towards
// exploitation as coverage crosses the focus threshold.
func (a *MIOArchive) Adapt(coverageShare float64) {
	if a.focusAt <= 0 || a.focusAt >= 1 {
		return
	}
	progress := coverageShare / a.focusAt
	if progress > 1 {
		progress = 1
	}
	a.params = MIOParameters{
		Pr: a.exploration.Pr + (a.exploitation.Pr-a.exploration.Pr)*progress,
		N:  a.exploration.N + int(float64(a.exploitation.N-a.exploration.N)*progress),
		M:  a.exploration.M + int(float64(a.exploitation.M-a.exploration.M)*progress),
	}
	if a.params.N < 1 {
		a.params.N = 1
	}
	if a.params.M < 1 {
		a.params.M = 1
	}
	if progress >= 1 {
		a.shrink()
	}
}

// shrink trims per-goal populations towards the exploitation bound.
func (a *MIOArchive) shrink() {
	for id, pop := range a.pops {
		if len(pop) > a.params.N {
			a.pops[id] = pop[:a.params.N]
		}
	}
}

// Update records the chromosome's h-value for every goal. Covered
// goals collapse their population to the single best individual.
func (a *MIOArchive) Update(c *Chromosome) bool {
	if c.Trace == nil || c.Trace.TimedOut {
		return false
	}
	improved := false
	for _, g := range a.goals {
		id := g.ID()
		h := 1 - normalizeFitness(c.Fitness(id))
		if h <= 0 {
			continue
		}
		entry := &mioEntry{test: c.Test.Clone(), h: h}
		entry.test.Freeze()
		pop := a.pops[id]
		if h >= 1 {
			// Covered: keep only the shortest covering individual.
			if len(pop) == 1 && pop[0].h >= 1 && pop[0].test.Size() <= entry.test.Size() {
				continue
			}
			a.pops[id] = []*mioEntry{entry}
			improved = true
			continue
		}
		if len(pop) == 1 && pop[0].h >= 1 {
			continue // already covered, gradient individuals are noise
		}
		pop = append(pop, entry)
		sort.SliceStable(pop, func(i, j int) bool {
			if pop[i].h != pop[j].h {
				return pop[i].h > pop[j].h
			}
			return pop[i].test.Size() < pop[j].test.Size()
		})
		if len(pop) > a.params.N {
			pop = pop[:a.params.N]
		}
		a.pops[id] = pop
		improved = true
	}
	return improved
}

// Sample draws an individual for the goal: with probability Pr a fresh
// one is requested (nil return), otherwise a population member with a
// low sampling count.
func (a *MIOArchive) Sample(goalID string) *testcase.TestCase {
	if a.rand.Chance(a.params.Pr) {
		return nil
	}
	pop := a.pops[goalID]
	if len(pop) == 0 {
		return nil
	}
	minSamples := pop[0].samples
	for _, e := range pop {
		if e.samples < minSamples {
			minSamples = e.samples
		}
	}
	var least []*mioEntry
	for _, e := range pop {
		if e.samples == minSamples {
			least = append(least, e)
		}
	}
	pick := least[a.rand.Intn(len(least))]
	pick.samples++
	return pick.test.Clone()
}

// CoveredCount counts goals whose population reached h = 1.
func (a *MIOArchive) CoveredCount() int {
	n := 0
	for _, pop := range a.pops {
		if len(pop) > 0 && pop[0].h >= 1 {
			n++
		}
	}
	return n
}

// Goals returns the tracked goals.
func (a *MIOArchive) Goals() []coverage.Goal { return a.goals }

// normalizeFitness maps a fitness value into [0,1] for h-value use.
func normalizeFitness(f float64) float64 {
	if f <= 0 {
		return 0
	}
	return f / (f + 1)
}
