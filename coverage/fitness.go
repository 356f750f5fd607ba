package coverage

import (
	"github.com/petrel-dev/petrel/slicer"
	"github.com/petrel-dev/petrel/trace"
)

// Computer scores traces against goals. Fitness is minimization: zero
// means covered, and coverage is inferred from fitness without a
// separate pass.
type Computer struct {
	Registry *trace.Registry
}

// NewComputer builds a fitness computer over the shared registry.
func NewComputer(registry *trace.Registry) *Computer {
	return &Computer{Registry: registry}
}

// Fitness scores one goal against a trace.
func (c *Computer) Fitness(g Goal, tr *trace.Trace) float64 {
	switch g.Kind {
	case GoalCodeObject:
		if tr.ExecutedCodeObjects[g.CodeObjectID] {
			return 0
		}
		return 1
	case GoalBranchTrue:
		return c.branchFitness(g.PredicateID, tr, true)
	case GoalBranchFalse:
		return c.branchFitness(g.PredicateID, tr, false)
	case GoalLine:
		if tr.CoveredLines[g.LineID] {
			return 0
		}
		return 1
	case GoalChecked:
		if len(tr.Instructions) == 0 {
			return 1
		}
		if slicer.CheckedLines(tr, c.Registry)[g.LineID] {
			return 0
		}
		return 1
	}
	return 1
}

// branchFitness follows the two-case discipline: an unexecuted
// predicate scores one plus its approach level in the
// control-dependence tree; an executed predicate scores the normalized
// minimum distance towards the wanted branch.
func (c *Computer) branchFitness(predID int, tr *trace.Trace, wantTrue bool) float64 {
	if tr.PredicateCounts[predID] > 0 {
		var d float64
		var ok bool
		if wantTrue {
			d, ok = tr.TrueDistances[predID]
		} else {
			d, ok = tr.FalseDistances[predID]
		}
		if !ok {
			return 1
		}
		return trace.Normalize(d)
	}
	return 1 + c.approachLevel(predID, tr)
}

// approachLevel is the graph distance in the control-dependence tree
// from the nearest executed predicate to the target. An unentered code
// object adds one more level beyond the tree depth.
func (c *Computer) approachLevel(predID int, tr *trace.Trace) float64 {
	meta := c.Registry.Predicate(predID)
	if meta == nil {
		return 1
	}
	co := c.Registry.CodeObject(meta.CodeObjectID)
	if co == nil || co.Tree == nil {
		return 1
	}
	frontier := co.Tree.Parents[predID]
	visited := map[int]bool{predID: true}
	level := 1.0
	for len(frontier) > 0 {
		var next []int
		for _, p := range frontier {
			if visited[p] {
				continue
			}
			visited[p] = true
			if tr.PredicateCounts[p] > 0 {
				return level
			}
			next = append(next, co.Tree.Parents[p]...)
		}
		frontier = next
		level++
	}
	if tr.ExecutedCodeObjects[meta.CodeObjectID] {
		return level
	}
	return level + 1
}

// Vector scores every goal, keyed by goal identity.
func (c *Computer) Vector(goals []Goal, tr *trace.Trace) map[string]float64 {
	out := make(map[string]float64, len(goals))
	for _, g := range goals {
		out[g.ID()] = c.Fitness(g, tr)
	}
	return out
}

// Covered lists the goals a trace covers (fitness zero).
func (c *Computer) Covered(goals []Goal, tr *trace.Trace) []Goal {
	var out []Goal
	for _, g := range goals {
		if c.Fitness(g, tr) == 0 {
			out = append(out, g)
		}
	}
	return out
}
