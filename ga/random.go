package ga

import "github.com/petrel-dev/petrel/testcase"

// FeedbackRandom is the feedback-directed random baseline: it extends
// existing passing tests with calls to random callables, partitions
// passing from failing sequences, and deduplicates structurally.
type FeedbackRandom struct {
	*Engine
}

// Name implements Algorithm.
func (a *FeedbackRandom) Name() string { return "Random" }

// Run implements Algorithm.
func (a *FeedbackRandom) Run() *Result {
	a.begin()
	var passing []*testcase.TestCase
	seenKeys := make(map[string]bool)

	stoppedBy := ""
	for {
		if fired, name := a.shouldStop(); fired {
			stoppedBy = name
			break
		}
		improved := false
		for i := 0; i < a.Cfg.PopulationSize; i++ {
			var tc *testcase.TestCase
			if len(passing) > 0 && a.Rand.Chance(0.75) {
				tc = passing[a.Rand.Intn(len(passing))].Clone()
			} else {
				tc = testcase.New()
			}
			if !a.Factory.InsertRandomCall(tc, tc.Size()) {
				continue
			}
			key := tc.Key()
			if seenKeys[key] {
				continue
			}
			seenKeys[key] = true

			c := NewChromosome(tc)
			a.Eval.Evaluate(c)
			if a.Archive.Update(c) {
				improved = true
			}
			if passed(c) {
				passing = append(passing, tc)
			}
		}
		a.afterIteration(improved)
	}
	return a.result(stoppedBy)
}

// passed reports whether the execution finished without exception or
// timeout.
func passed(c *Chromosome) bool {
	if c.Trace == nil || c.Trace.TimedOut {
		return false
	}
	for _, o := range c.Trace.Outcomes {
		if o.Exc != nil || o.Timeout {
			return false
		}
	}
	return true
}

// RandomSearch samples fresh suites every iteration, keeping only the
// archive as memory.
type RandomSearch struct {
	*Engine
}

// Name implements Algorithm.
func (a *RandomSearch) Name() string { return "RandomSearch" }

// Run implements Algorithm.
func (a *RandomSearch) Run() *Result {
	a.begin()
	stoppedBy := ""
	for {
		if fired, name := a.shouldStop(); fired {
			stoppedBy = name
			break
		}
		improved := false
		for i := 0; i < a.Cfg.PopulationSize; i++ {
			size := 1 + a.Rand.Intn(maxInt(1, a.Cfg.MaxTestLength/4))
			c := NewChromosome(a.Factory.RandomTestCase(size))
			a.Eval.Evaluate(c)
			if a.Archive.Update(c) {
				improved = true
			}
		}
		a.afterIteration(improved)
	}
	return a.result(stoppedBy)
}
