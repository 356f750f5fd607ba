package testcase

import (
	"github.com/petrel-dev/petrel/cluster"
	"github.com/petrel-dev/petrel/core"
)

// Mutator applies the delete/change/insert operators to test cases,
// each independently with its configured probability. The residual
// probability mass is the no-op share.
type Mutator struct {
	Factory *Factory
	Rand    *core.Source
	Probs   core.MutationProbabilities
}

// NewMutator builds a mutator sharing the factory's cluster and PRNG.
func NewMutator(f *Factory, probs core.MutationProbabilities) *Mutator {
	return &Mutator{Factory: f, Rand: f.Rand, Probs: probs}
}

// Mutate applies the operators in place and reports whether the case
// changed structurally.
func (m *Mutator) Mutate(tc *TestCase) bool {
	if tc.Frozen() {
		return false
	}
	changed := false
	if m.Rand.Chance(m.Probs.Delete) && m.mutateDelete(tc) {
		changed = true
	}
	if m.Rand.Chance(m.Probs.Change) && m.mutateChange(tc) {
		changed = true
	}
	if m.Rand.Chance(m.Probs.Insert) && m.mutateInsert(tc) {
		changed = true
	}
	if changed {
		tc.RepairReferences()
		tc.Chop(m.Factory.MaxLength)
	}
	return changed
}

// mutateDelete removes a random statement and its forward dependents.
func (m *Mutator) mutateDelete(tc *TestCase) bool {
	if tc.Size() == 0 {
		return false
	}
	tc.RemoveWithDependents(m.Rand.Intn(tc.Size()))
	return true
}

// mutateChange rewrites a random statement: primitives get perturbed
// values, calls get re-targeted or their references swapped.
func (m *Mutator) mutateChange(tc *TestCase) bool {
	if tc.Size() == 0 {
		return false
	}
	pos := m.Rand.Intn(tc.Size())
	s := tc.Statements[pos]
	switch s.Kind {
	case StmtPrimitive:
		if s.Value == nil {
			return false
		}
		s.Value = m.Factory.MutateValue(s.Value)
		return true
	case StmtFunctionCall, StmtConstructor, StmtMethodCall:
		if m.Rand.Chance(0.5) && m.retarget(tc, pos) {
			return true
		}
		return m.swapReference(tc, pos)
	case StmtCollection, StmtFieldWrite:
		return m.swapReference(tc, pos)
	}
	return false
}

// retarget replaces the call with an alternative callable of a
// compatible return type, reusing argument synthesis for the new
// signature.
func (m *Mutator) retarget(tc *TestCase, pos int) bool {
	s := tc.Statements[pos]
	if s.Callable == nil || s.RetType == nil {
		return false
	}
	alternatives := m.Factory.Cluster.Returning(s.RetType)
	var candidates []*cluster.Callable
	for _, alt := range alternatives {
		if alt.Name != s.Callable.Name && alt.Kind == s.Callable.Kind {
			candidates = append(candidates, alt)
		}
	}
	if len(candidates) == 0 {
		return false
	}
	target := candidates[m.Rand.Intn(len(candidates))]
	// Synthesize the replacement ahead of the original, then drop the
	// original; its dependents are repaired against the replacement's
	// reference range.
	sizeBefore := tc.Size()
	if !m.Factory.InsertCall(tc, pos, target) {
		return false
	}
	added := tc.Size() - sizeBefore
	if added <= 0 {
		return false
	}
	original := pos + added
	if original < tc.Size() {
		tc.RemoveWithDependents(original)
	}
	return true
}

// swapReference rebinds one argument reference to another in-scope
// reference of a compatible type.
func (m *Mutator) swapReference(tc *TestCase, pos int) bool {
	s := tc.Statements[pos]
	refs := s.References()
	if len(refs) == 0 {
		return false
	}
	slot := m.Rand.Intn(len(refs))
	current := refs[slot]
	if current == NoRef {
		return false
	}
	wanted := tc.Statements[current].RetType
	options := tc.PositionsOfType(wanted, pos)
	var filtered []int
	for _, o := range options {
		if o != current {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return false
	}
	replacement := filtered[m.Rand.Intn(len(filtered))]
	m.setReference(s, slot, replacement)
	return true
}

// setReference writes the slot-th reference of s, in References order.
func (m *Mutator) setReference(s *Statement, slot, value int) {
	idx := 0
	if s.Recv != NoRef {
		if idx == slot {
			s.Recv = value
			return
		}
		idx++
	}
	for i := range s.Args {
		if idx == slot {
			s.Args[i] = value
			return
		}
		idx++
	}
	for i := range s.KwArgs {
		if idx == slot {
			s.KwArgs[i] = value
			return
		}
		idx++
	}
	for i := range s.Elems {
		if idx == slot {
			s.Elems[i] = value
			return
		}
		idx++
	}
	if s.Source != NoRef && idx == slot {
		s.Source = value
	}
}

// mutateInsert adds up to k random calls at random positions, with k
// drawn from an exponentially decaying distribution.
func (m *Mutator) mutateInsert(tc *TestCase) bool {
	const alpha = 0.5
	inserted := false
	for i := 0; ; i++ {
		if tc.Size() >= m.Factory.MaxLength {
			break
		}
		if i > 0 && !m.Rand.Chance(alpha) {
			break
		}
		pos := 0
		if tc.Size() > 0 {
			pos = m.Rand.Intn(tc.Size() + 1)
		}
		if m.Factory.InsertRandomCall(tc, pos) {
			inserted = true
		} else {
			break
		}
	}
	return inserted
}
