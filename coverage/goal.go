// Package coverage defines coverage goals and the minimizing fitness
// functions scoring execution traces against them.
package coverage

import (
	"fmt"

	"github.com/petrel-dev/petrel/core"
	"github.com/petrel-dev/petrel/trace"
)

// GoalKind discriminates coverage goals.
type GoalKind int

const (
	GoalCodeObject GoalKind = iota // branchless code object entered
	GoalBranchTrue                 // predicate took the true branch
	GoalBranchFalse                // predicate took the false branch
	GoalLine                       // line executed
	GoalChecked                    // statement checked by an assertion
)

// Goal is one coverage target with a stable identity usable as an
// archive key.
type Goal struct {
	Kind         GoalKind
	CodeObjectID int
	PredicateID  int
	LineID       int
}

// ID returns the stable goal identity.
func (g Goal) ID() string {
	switch g.Kind {
	case GoalCodeObject:
		return fmt.Sprintf("code:%d", g.CodeObjectID)
	case GoalBranchTrue:
		return fmt.Sprintf("branch:%d:true", g.PredicateID)
	case GoalBranchFalse:
		return fmt.Sprintf("branch:%d:false", g.PredicateID)
	case GoalLine:
		return fmt.Sprintf("line:%d", g.LineID)
	default:
		return fmt.Sprintf("checked:%d", g.LineID)
	}
}

// isModuleBody reports whether the code object is a module top level,
// which runs only at import time and is never a test target.
func isModuleBody(co *trace.CodeObjectMeta) bool {
	return co.Code != nil && co.Code.Name == ""
}

// GoalsFor enumerates the goals of the selected metrics over the
// instrumented registry. Skipped code objects and module bodies
// contribute nothing.
func GoalsFor(metrics []core.Metric, registry *trace.Registry) []Goal {
	var goals []Goal
	has := func(m core.Metric) bool {
		for _, x := range metrics {
			if x == m {
				return true
			}
		}
		return false
	}
	if has(core.MetricBranch) {
		for _, co := range registry.CodeObjects() {
			if co.Skipped || isModuleBody(co) {
				continue
			}
			if co.Branchless {
				goals = append(goals, Goal{Kind: GoalCodeObject, CodeObjectID: co.ID})
			}
		}
		for _, p := range registry.Predicates() {
			if co := registry.CodeObject(p.CodeObjectID); co != nil && co.Skipped {
				continue
			}
			goals = append(goals,
				Goal{Kind: GoalBranchTrue, PredicateID: p.ID, CodeObjectID: p.CodeObjectID},
				Goal{Kind: GoalBranchFalse, PredicateID: p.ID, CodeObjectID: p.CodeObjectID},
			)
		}
	}
	if has(core.MetricLine) {
		for _, l := range registry.Lines() {
			goals = append(goals, Goal{Kind: GoalLine, LineID: l.ID})
		}
	}
	if has(core.MetricChecked) {
		for _, l := range registry.Lines() {
			goals = append(goals, Goal{Kind: GoalChecked, LineID: l.ID})
		}
	}
	return goals
}
