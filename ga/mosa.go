package ga

import (
	"github.com/petrel-dev/petrel/coverage"
	"github.com/petrel-dev/petrel/trace"
)

// GoalManager maintains the DynaMOSA activation frontier: initially the
// root goals (branches not control-dependent on any other), with CDG
// children activating as their parents are covered.
type GoalManager struct {
	registry *trace.Registry
	all      []coverage.Goal
	// childGoals maps a predicate id to the goals of its CDG children.
	childGoals map[int][]coverage.Goal
	active     map[string]bool
	activated  []coverage.Goal
}

// NewGoalManager partitions the branch goals by control dependence.
// Goals without predicates (code-object, line, checked) are always
// active roots.
func NewGoalManager(registry *trace.Registry, goals []coverage.Goal) *GoalManager {
	m := &GoalManager{
		registry:   registry,
		all:        goals,
		childGoals: make(map[int][]coverage.Goal),
		active:     make(map[string]bool),
	}
	for _, g := range goals {
		switch g.Kind {
		case coverage.GoalBranchTrue, coverage.GoalBranchFalse:
			meta := registry.Predicate(g.PredicateID)
			var parents []int
			if meta != nil {
				if co := registry.CodeObject(meta.CodeObjectID); co != nil && co.Tree != nil {
					parents = co.Tree.Parents[g.PredicateID]
				}
			}
			if len(parents) == 0 {
				m.activate(g)
				continue
			}
			for _, p := range parents {
				m.childGoals[p] = append(m.childGoals[p], g)
			}
		default:
			m.activate(g)
		}
	}
	return m
}

func (m *GoalManager) activate(g coverage.Goal) {
	id := g.ID()
	if m.active[id] {
		return
	}
	m.active[id] = true
	m.activated = append(m.activated, g)
}

// ActiveGoals returns the goals currently in the frontier.
func (m *GoalManager) ActiveGoals() []coverage.Goal { return m.activated }

// OnCovered activates the CDG children of a freshly covered branch
// goal, returning the newly activated goals.
func (m *GoalManager) OnCovered(g coverage.Goal) []coverage.Goal {
	switch g.Kind {
	case coverage.GoalBranchTrue, coverage.GoalBranchFalse:
	default:
		return nil
	}
	before := len(m.activated)
	for _, child := range m.childGoals[g.PredicateID] {
		m.activate(child)
	}
	return m.activated[before:]
}

// MOSA implements the many-objective sorting algorithm; with dynamic
// goal activation it becomes DynaMOSA.
type MOSA struct {
	*Engine
	dynamic bool
}

// Name implements Algorithm.
func (a *MOSA) Name() string {
	if a.dynamic {
		return "DynaMOSA"
	}
	return "MOSA"
}

// Run implements Algorithm.
func (a *MOSA) Run() *Result {
	a.begin()
	pop := a.initialPopulation(a.Seeds)
	a.syncGoalActivation()

	stoppedBy := ""
	for {
		if fired, name := a.shouldStop(); fired {
			stoppedBy = name
			break
		}
		ranked := a.rank(pop)
		offspring := a.breedOffspring(ranked)
		improved := false
		for _, c := range offspring {
			a.Eval.Evaluate(c)
			if a.Archive.Update(c) {
				improved = true
			}
		}
		if a.dynamic && improved {
			a.syncGoalActivation()
		}
		combined := append(append([]*Chromosome{}, pop...), offspring...)
		pop = a.truncate(a.rank(combined))
		a.afterIteration(improved)
	}
	return a.result(stoppedBy)
}

// rank orders the population by preference sorting over the uncovered
// goals in scope: the active frontier for DynaMOSA, everything
// uncovered otherwise.
func (a *MOSA) rank(pop []*Chromosome) []*Chromosome {
	goals := a.scopedUncovered()
	return PreferenceSort(pop, goals).Flatten()
}

func (a *MOSA) scopedUncovered() []coverage.Goal {
	uncovered := a.Archive.UncoveredGoals()
	if !a.dynamic || a.GoalManager == nil {
		return uncovered
	}
	var scoped []coverage.Goal
	for _, g := range uncovered {
		if a.GoalManager.active[g.ID()] {
			scoped = append(scoped, g)
		}
	}
	return scoped
}

// syncGoalActivation walks covered goals and activates CDG children,
// feeding fresh goals into archive and evaluator.
func (a *MOSA) syncGoalActivation() {
	if !a.dynamic || a.GoalManager == nil {
		return
	}
	var fresh []coverage.Goal
	for _, g := range a.Eval.Goals() {
		if _, ok := a.Archive.CoveringTest(g.ID()); ok {
			fresh = append(fresh, a.GoalManager.OnCovered(g)...)
		}
	}
	if len(fresh) > 0 {
		a.Archive.AddGoals(fresh)
		a.Eval.AddGoals(fresh)
	}
}

// truncate keeps the best PopulationSize individuals in rank order.
func (a *MOSA) truncate(ranked []*Chromosome) []*Chromosome {
	if len(ranked) > a.Cfg.PopulationSize {
		ranked = ranked[:a.Cfg.PopulationSize]
	}
	return ranked
}
