package core

import "time"

// Budget bounds a single target-code execution.
type Budget struct {
	PerStatement time.Duration
	PerTest      time.Duration
	// AbortGrace is how long the tracer waits after requesting a
	// cooperative abort before declaring the test timed out.
	AbortGrace time.Duration
}

// ExecutionBudget derives the per-execution budget from the configured
// timeouts.
func (c *Config) ExecutionBudget() Budget {
	return Budget{
		PerStatement: c.Timeouts.PerStatement,
		PerTest:      c.Timeouts.PerTest,
		AbortGrace:   250 * time.Millisecond,
	}
}

// IterationEvent is yielded to observers once per search iteration.
type IterationEvent struct {
	Iteration    int
	CoveredGoals int
	TotalGoals   int
	ArchiveSize  int
	BestFitness  float64
	Elapsed      time.Duration
}

// IterationObserver receives IterationEvents from the running algorithm.
type IterationObserver interface {
	OnIteration(ev IterationEvent)
}

// Coverage returns the covered share, guarding the empty-goal case.
func (ev IterationEvent) Coverage() float64 {
	if ev.TotalGoals == 0 {
		return 1.0
	}
	return float64(ev.CoveredGoals) / float64(ev.TotalGoals)
}
