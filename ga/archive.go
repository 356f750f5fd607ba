package ga

import (
	"sort"

	"github.com/petrel-dev/petrel/coverage"
	"github.com/petrel-dev/petrel/testcase"
)

// archiveEntry stores the best-known covering test for one goal.
type archiveEntry struct {
	test       *testcase.TestCase
	generation int
}

// Archive retains, per covered goal, the shortest known covering test
// case. Updates are serialized in insertion order; on equal length the
// incumbent wins.
type Archive struct {
	goals     map[string]coverage.Goal
	covered   map[string]*archiveEntry
	uncovered map[string]coverage.Goal
}

// NewArchive builds an archive over the initial goals.
func NewArchive(goals []coverage.Goal) *Archive {
	a := &Archive{
		goals:     make(map[string]coverage.Goal),
		covered:   make(map[string]*archiveEntry),
		uncovered: make(map[string]coverage.Goal),
	}
	a.AddGoals(goals)
	return a
}

// AddGoals registers additional goals and recomputes the uncovered set.
func (a *Archive) AddGoals(goals []coverage.Goal) {
	for _, g := range goals {
		id := g.ID()
		if _, ok := a.goals[id]; ok {
			continue
		}
		a.goals[id] = g
		if _, ok := a.covered[id]; !ok {
			a.uncovered[id] = g
		}
	}
}

// Update records a chromosome: every goal it covers either enters the
// archive or replaces a strictly longer incumbent. Timed-out tests are
// rejected outright.
func (a *Archive) Update(c *Chromosome) bool {
	if c.Trace == nil || c.Trace.TimedOut {
		return false
	}
	improved := false
	for id := range a.goals {
		if c.Fitness(id) != 0 {
			continue
		}
		cur, ok := a.covered[id]
		if ok && cur.test.Size() <= c.Size() {
			continue
		}
		frozen := c.Test.Clone()
		frozen.Freeze()
		a.covered[id] = &archiveEntry{test: frozen, generation: c.Test.CloneGeneration()}
		delete(a.uncovered, id)
		improved = true
	}
	return improved
}

// UncoveredGoals lists goals still missing, in stable order.
func (a *Archive) UncoveredGoals() []coverage.Goal {
	out := make([]coverage.Goal, 0, len(a.uncovered))
	ids := make([]string, 0, len(a.uncovered))
	for id := range a.uncovered {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		out = append(out, a.uncovered[id])
	}
	return out
}

// CoveredCount returns the number of covered goals.
func (a *Archive) CoveredCount() int { return len(a.covered) }

// TotalCount returns the number of known goals.
func (a *Archive) TotalCount() int { return len(a.goals) }

// Coverage returns covered/total, one when no goals exist.
func (a *Archive) Coverage() float64 {
	if len(a.goals) == 0 {
		return 1
	}
	return float64(len(a.covered)) / float64(len(a.goals))
}

// Solutions returns the archived tests, deduplicated structurally and
// ordered deterministically.
func (a *Archive) Solutions() []*testcase.TestCase {
	ids := make([]string, 0, len(a.covered))
	for id := range a.covered {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	seen := make(map[string]bool)
	var out []*testcase.TestCase
	for _, id := range ids {
		tc := a.covered[id].test
		key := tc.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tc)
	}
	return out
}

// CoveringTest returns the archived test for a goal id, if any.
func (a *Archive) CoveringTest(goalID string) (*testcase.TestCase, bool) {
	e, ok := a.covered[goalID]
	if !ok {
		return nil, false
	}
	return e.test, true
}
