package ga

import "github.com/petrel-dev/petrel/coverage"

// MIO implements the many-independent-objective algorithm: per-goal
// archives with adaptive exploration/exploitation parameters, no rank
// sorting.
type MIO struct {
	*Engine
	archive *MIOArchive
}

// Name implements Algorithm.
func (a *MIO) Name() string { return "MIO" }

// Run implements Algorithm.
func (a *MIO) Run() *Result {
	a.begin()
	goals := a.Eval.Goals()
	a.archive = NewMIOArchive(a.Rand, goals, a.Cfg.MIOExploitationStart)

	stoppedBy := ""
	for {
		if fired, name := a.shouldStop(); fired {
			stoppedBy = name
			break
		}
		improved := false
		m := a.archive.Params().M
		for _, g := range goals {
			if _, covered := a.Archive.CoveringTest(g.ID()); covered {
				continue
			}
			for i := 0; i < m; i++ {
				c := a.sampleFor(g)
				a.Eval.Evaluate(c)
				if a.archive.Update(c) {
					improved = true
				}
				if a.Archive.Update(c) {
					improved = true
				}
			}
		}
		a.archive.Adapt(a.Archive.Coverage())
		a.afterIteration(improved)
	}
	return a.result(stoppedBy)
}

// sampleFor draws an individual for the goal: fresh random with
// probability Pr, otherwise a mutated copy of a low-sample-count
// archive member.
func (a *MIO) sampleFor(g coverage.Goal) *Chromosome {
	base := a.archive.Sample(g.ID())
	if base == nil {
		size := 1 + a.Rand.Intn(maxInt(1, a.Cfg.MaxTestLength/4))
		return NewChromosome(a.Factory.RandomTestCase(size))
	}
	c := NewChromosome(base)
	if a.Mutator.Mutate(c.Test) {
		c.Invalidate()
	}
	return c
}
