package testcase

import (
	"strings"

	"github.com/petrel-dev/petrel/cluster"
)

// AssertionKind discriminates regression assertions.
type AssertionKind int

const (
	AssertEqual AssertionKind = iota
	AssertFloatApprox
	AssertTypeName
	AssertLen
	AssertIsInstance
	AssertRaises
)

// Assertion checks the observed value at one statement position. Field
// selects an attribute of the produced object; empty means the return
// value itself.
type Assertion struct {
	Position int
	Kind     AssertionKind
	Field    string
	Expected any
	ExcKind  string // expected exception kind for AssertRaises

	// Contributing is set during mutation filtering when the assertion
	// helped kill at least one mutant.
	Contributing bool
}

// TestCase is a finite ordered statement sequence. Statement positions
// double as variable-reference identities.
type TestCase struct {
	Statements []*Statement
	Assertions []Assertion

	// frozen blocks further mutation once the case enters an archive.
	frozen bool
	// cloneGeneration counts how many clone steps separate this case
	// from its factory-built ancestor.
	cloneGeneration int
}

// New builds an empty test case.
func New() *TestCase { return &TestCase{} }

// Size returns the number of statements.
func (tc *TestCase) Size() int { return len(tc.Statements) }

// Freeze marks the case immutable. Mutation operators refuse frozen
// cases; archives freeze what they store.
func (tc *TestCase) Freeze() { tc.frozen = true }

// Frozen reports whether the case is frozen.
func (tc *TestCase) Frozen() bool { return tc.frozen }

// CloneGeneration returns the clone distance from the original.
func (tc *TestCase) CloneGeneration() int { return tc.cloneGeneration }

// Clone returns a deep copy with fresh reference identity and the same
// structural shape. The copy is unfrozen.
func (tc *TestCase) Clone() *TestCase {
	c := &TestCase{
		Statements:      make([]*Statement, len(tc.Statements)),
		Assertions:      append([]Assertion(nil), tc.Assertions...),
		cloneGeneration: tc.cloneGeneration + 1,
	}
	for i, s := range tc.Statements {
		c.Statements[i] = s.clone()
	}
	return c
}

// Append adds a statement at the tail and returns its position.
func (tc *TestCase) Append(s *Statement) int {
	tc.Statements = append(tc.Statements, s)
	return len(tc.Statements) - 1
}

// InsertAt places stmts starting at position pos, shifting the
// references of every later statement.
func (tc *TestCase) InsertAt(pos int, stmts []*Statement) {
	if pos < 0 {
		pos = 0
	}
	if pos > len(tc.Statements) {
		pos = len(tc.Statements)
	}
	delta := len(stmts)
	for i := pos; i < len(tc.Statements); i++ {
		tc.Statements[i].shiftRefs(pos, delta)
	}
	out := make([]*Statement, 0, len(tc.Statements)+delta)
	out = append(out, tc.Statements[:pos]...)
	out = append(out, stmts...)
	out = append(out, tc.Statements[pos:]...)
	tc.Statements = out
}

// dependents returns the set of positions transitively reading pos.
func (tc *TestCase) dependents(pos int) map[int]bool {
	out := map[int]bool{}
	for i := pos + 1; i < len(tc.Statements); i++ {
		for _, r := range tc.Statements[i].References() {
			if r == pos || out[r] {
				out[i] = true
				break
			}
		}
	}
	return out
}

// RemoveWithDependents deletes the statement at pos and every forward
// dependent, remapping the remaining references.
func (tc *TestCase) RemoveWithDependents(pos int) {
	if pos < 0 || pos >= len(tc.Statements) {
		return
	}
	drop := tc.dependents(pos)
	drop[pos] = true
	tc.removeSet(drop)
}

// removeSet deletes the given positions and renumbers references.
func (tc *TestCase) removeSet(drop map[int]bool) {
	remap := make([]int, len(tc.Statements))
	kept := make([]*Statement, 0, len(tc.Statements))
	for i, s := range tc.Statements {
		if drop[i] {
			remap[i] = NoRef
			continue
		}
		remap[i] = len(kept)
		kept = append(kept, s)
	}
	for _, s := range kept {
		apply := func(r int) int {
			if r == NoRef {
				return NoRef
			}
			return remap[r]
		}
		s.Recv = apply(s.Recv)
		s.Source = apply(s.Source)
		for i := range s.Args {
			s.Args[i] = apply(s.Args[i])
		}
		for i := range s.KwArgs {
			s.KwArgs[i] = apply(s.KwArgs[i])
		}
		for i := range s.Elems {
			s.Elems[i] = apply(s.Elems[i])
		}
	}
	tc.Statements = kept
	// Assertions keyed to dropped or shifted positions are remapped or
	// discarded.
	var asserts []Assertion
	for _, a := range tc.Assertions {
		if a.Position >= 0 && a.Position < len(remap) && remap[a.Position] != NoRef {
			a.Position = remap[a.Position]
			asserts = append(asserts, a)
		}
	}
	tc.Assertions = asserts
	tc.RepairReferences()
}

// RepairReferences drops statements violating reference-before-use
// until the case is closed again.
func (tc *TestCase) RepairReferences() {
	for {
		drop := map[int]bool{}
		for i, s := range tc.Statements {
			for _, r := range s.References() {
				if r == NoRef || r >= i {
					drop[i] = true
					break
				}
			}
		}
		if len(drop) == 0 {
			return
		}
		// Inline removal without recursing through removeSet.
		remap := make([]int, len(tc.Statements))
		kept := make([]*Statement, 0, len(tc.Statements))
		for i, s := range tc.Statements {
			if drop[i] {
				remap[i] = NoRef
				continue
			}
			remap[i] = len(kept)
			kept = append(kept, s)
		}
		for _, s := range kept {
			apply := func(r int) int {
				if r == NoRef {
					return NoRef
				}
				return remap[r]
			}
			s.Recv = apply(s.Recv)
			s.Source = apply(s.Source)
			for i := range s.Args {
				s.Args[i] = apply(s.Args[i])
			}
			for i := range s.KwArgs {
				s.KwArgs[i] = apply(s.KwArgs[i])
			}
			for i := range s.Elems {
				s.Elems[i] = apply(s.Elems[i])
			}
		}
		tc.Statements = kept
	}
}

// Valid reports whether every reference points at an earlier statement.
func (tc *TestCase) Valid() bool {
	for i, s := range tc.Statements {
		for _, r := range s.References() {
			if r == NoRef || r < 0 || r >= i {
				return false
			}
		}
	}
	return true
}

// Chop truncates the case to at most limit statements, dropping the
// tail and everything depending on it.
func (tc *TestCase) Chop(limit int) {
	if limit < 0 || tc.Size() <= limit {
		return
	}
	drop := map[int]bool{}
	for i := limit; i < len(tc.Statements); i++ {
		drop[i] = true
	}
	tc.removeSet(drop)
}

// PositionsOfType lists statement positions whose produced value fits
// the wanted type.
func (tc *TestCase) PositionsOfType(want *cluster.Type, before int) []int {
	var out []int
	if before < 0 || before > len(tc.Statements) {
		before = len(tc.Statements)
	}
	for i := 0; i < before; i++ {
		s := tc.Statements[i]
		if s.Kind == StmtFieldWrite {
			continue // produces nothing
		}
		if s.RetType != nil && s.RetType.AssignableTo(want) {
			out = append(out, i)
		}
	}
	return out
}

// Equal compares two cases structurally, ignoring object identity.
func (tc *TestCase) Equal(o *TestCase) bool {
	if len(tc.Statements) != len(o.Statements) {
		return false
	}
	for i := range tc.Statements {
		if !tc.Statements[i].equalShape(o.Statements[i]) {
			return false
		}
	}
	return true
}

// Key renders a stable structural fingerprint used for deduplication.
func (tc *TestCase) Key() string {
	var sb strings.Builder
	for _, s := range tc.Statements {
		sb.WriteString(s.String())
		sb.WriteByte(';')
	}
	return sb.String()
}
