// Package ga implements the evolutionary search: chromosomes, archives,
// preference sorting, selection and the algorithm family.
package ga

import (
	"github.com/petrel-dev/petrel/coverage"
	"github.com/petrel-dev/petrel/testcase"
	"github.com/petrel-dev/petrel/trace"
	"github.com/petrel-dev/petrel/worker"
)

// Chromosome is a candidate solution wrapping one test case together
// with its latest evaluation.
type Chromosome struct {
	Test *testcase.TestCase

	// Trace of the most recent execution; nil before evaluation or
	// after a structural change.
	Trace *trace.Trace

	fitness map[string]float64
}

// NewChromosome wraps a test case.
func NewChromosome(tc *testcase.TestCase) *Chromosome {
	return &Chromosome{Test: tc}
}

// Clone copies the chromosome; the evaluation travels with it because
// the clone has identical structure.
func (c *Chromosome) Clone() *Chromosome {
	return &Chromosome{Test: c.Test.Clone(), Trace: c.Trace, fitness: c.fitness}
}

// Invalidate drops memoized results after a structural mutation.
func (c *Chromosome) Invalidate() {
	c.Trace = nil
	c.fitness = nil
}

// Evaluated reports whether a trace is available.
func (c *Chromosome) Evaluated() bool { return c.Trace != nil }

// Size is the statement count, the universal tie-breaker.
func (c *Chromosome) Size() int { return c.Test.Size() }

// Fitness returns the memoized fitness for a goal id.
func (c *Chromosome) Fitness(goalID string) float64 {
	if c.fitness == nil {
		return 1
	}
	f, ok := c.fitness[goalID]
	if !ok {
		return 1
	}
	return f
}

// Evaluator executes chromosomes and scores them against the current
// goal set, memoizing by structural key so clones and unchanged
// offspring skip re-execution.
type Evaluator struct {
	Exec     worker.Service
	Computer *coverage.Computer
	Cache    *coverage.Cache

	goals []coverage.Goal
}

// NewEvaluator builds an evaluator over the execution service.
func NewEvaluator(exec worker.Service, computer *coverage.Computer, cache *coverage.Cache, goals []coverage.Goal) *Evaluator {
	return &Evaluator{Exec: exec, Computer: computer, Cache: cache, goals: goals}
}

// Goals returns the live goal slice.
func (e *Evaluator) Goals() []coverage.Goal { return e.goals }

// AddGoals extends the goal set (dynamic goal addition). Chromosomes
// evaluated earlier are re-scored lazily from their retained traces.
func (e *Evaluator) AddGoals(gs []coverage.Goal) {
	e.goals = append(e.goals, gs...)
}

// Evaluate runs the chromosome if needed and refreshes its fitness
// vector over the current goals.
func (e *Evaluator) Evaluate(c *Chromosome) {
	if c.Trace == nil {
		key := c.Test.Key()
		if e.Cache != nil {
			if ev, ok := e.Cache.Get(key); ok {
				c.Trace = ev.Trace
				c.fitness = ev.Fitness
				e.rescoreMissing(c)
				return
			}
		}
		c.Trace = e.Exec.Execute(c.Test)
		c.fitness = e.Computer.Vector(e.goals, c.Trace)
		if e.Cache != nil && !c.Trace.TimedOut {
			e.Cache.Put(key, &coverage.Evaluation{Fitness: c.fitness, Trace: c.Trace})
		}
		return
	}
	e.rescoreMissing(c)
}

// rescoreMissing fills fitness entries for goals added after the last
// execution, computed from the retained trace.
func (e *Evaluator) rescoreMissing(c *Chromosome) {
	if c.fitness == nil {
		c.fitness = make(map[string]float64, len(e.goals))
	}
	for _, g := range e.goals {
		if _, ok := c.fitness[g.ID()]; !ok {
			c.fitness[g.ID()] = e.Computer.Fitness(g, c.Trace)
		}
	}
}
