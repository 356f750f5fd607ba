// Package stopping provides composable termination predicates for the
// search loop. The composite fires when any member predicate holds; the
// loop exits gracefully after finishing the current iteration.
package stopping

import (
	"fmt"
	"time"

	"github.com/petrel-dev/petrel/core"
)

// Stats is the run-state snapshot conditions are evaluated against,
// taken at the top of each iteration.
type Stats interface {
	Elapsed() time.Duration
	Iterations() int
	StatementExecutions() int64
	TestExecutions() int64
	Coverage() float64
	IterationsSinceArchiveGrowth() int
	MemoryMB() int
}

// Condition is one termination predicate.
type Condition interface {
	Name() string
	Fired(s Stats) bool
}

// Composite fires when any member condition fires.
type Composite struct {
	conds []Condition
}

// NewComposite assembles a composite from conditions.
func NewComposite(conds ...Condition) *Composite {
	return &Composite{conds: conds}
}

// FromConfig assembles the composite configured in the stopping
// section. Zero-valued thresholds contribute no condition.
func FromConfig(cfg core.StoppingConfig) *Composite {
	var conds []Condition
	if cfg.MaxTime > 0 {
		conds = append(conds, MaxTime{Limit: cfg.MaxTime})
	}
	if cfg.MaxIterations > 0 {
		conds = append(conds, MaxIterations{Limit: cfg.MaxIterations})
	}
	if cfg.MaxStatementExecs > 0 {
		conds = append(conds, MaxStatementExecutions{Limit: cfg.MaxStatementExecs})
	}
	if cfg.MaxTestExecs > 0 {
		conds = append(conds, MaxTestExecutions{Limit: cfg.MaxTestExecs})
	}
	if cfg.MaxCoverage > 0 {
		conds = append(conds, MaxCoverage{Limit: cfg.MaxCoverage})
	}
	if cfg.CoveragePlateau > 0 {
		conds = append(conds, CoveragePlateau{Window: cfg.CoveragePlateau})
	}
	if cfg.MaxMemoryMB > 0 {
		conds = append(conds, MaxMemory{LimitMB: cfg.MaxMemoryMB})
	}
	return NewComposite(conds...)
}

// Fired reports whether any condition holds, returning the first
// firing condition's name for logging.
func (c *Composite) Fired(s Stats) (bool, string) {
	for _, cond := range c.conds {
		if cond.Fired(s) {
			return true, cond.Name()
		}
	}
	return false, ""
}

// MaxTime bounds wall-clock duration.
type MaxTime struct{ Limit time.Duration }

func (c MaxTime) Name() string { return fmt.Sprintf("max-time(%s)", c.Limit) }
func (c MaxTime) Fired(s Stats) bool { return s.Elapsed() >= c.Limit }

// MaxIterations bounds loop iterations.
type MaxIterations struct{ Limit int }

func (c MaxIterations) Name() string       { return fmt.Sprintf("max-iterations(%d)", c.Limit) }
func (c MaxIterations) Fired(s Stats) bool { return s.Iterations() >= c.Limit }

// MaxStatementExecutions bounds the summed trace lengths.
type MaxStatementExecutions struct{ Limit int64 }

func (c MaxStatementExecutions) Name() string {
	return fmt.Sprintf("max-statement-executions(%d)", c.Limit)
}
func (c MaxStatementExecutions) Fired(s Stats) bool { return s.StatementExecutions() >= c.Limit }

// MaxTestExecutions bounds the number of executed tests.
type MaxTestExecutions struct{ Limit int64 }

func (c MaxTestExecutions) Name() string       { return fmt.Sprintf("max-test-executions(%d)", c.Limit) }
func (c MaxTestExecutions) Fired(s Stats) bool { return s.TestExecutions() >= c.Limit }

// MaxCoverage fires once the covered share reaches the limit.
type MaxCoverage struct{ Limit float64 }

func (c MaxCoverage) Name() string       { return fmt.Sprintf("max-coverage(%.2f)", c.Limit) }
func (c MaxCoverage) Fired(s Stats) bool { return s.Coverage() >= c.Limit }

// CoveragePlateau fires after N consecutive iterations without archive
// growth.
type CoveragePlateau struct{ Window int }

func (c CoveragePlateau) Name() string       { return fmt.Sprintf("coverage-plateau(%d)", c.Window) }
func (c CoveragePlateau) Fired(s Stats) bool { return s.IterationsSinceArchiveGrowth() >= c.Window }

// MaxMemory bounds resident memory.
type MaxMemory struct{ LimitMB int }

func (c MaxMemory) Name() string       { return fmt.Sprintf("max-memory(%dMB)", c.LimitMB) }
func (c MaxMemory) Fired(s Stats) bool { return s.MemoryMB() >= c.LimitMB }
