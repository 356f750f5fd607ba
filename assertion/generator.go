package assertion

import (
	"math"

	"go.uber.org/zap"

	"github.com/petrel-dev/petrel/core"
	"github.com/petrel-dev/petrel/testcase"
	"github.com/petrel-dev/petrel/trace"
	"github.com/petrel-dev/petrel/worker"
)

// floatTolerance bounds the approximate float equality predicate.
const floatTolerance = 1e-6

// Generator attaches regression assertions to final test cases:
// candidate synthesis from repeated replays, then optional pruning by
// mutation analysis.
type Generator struct {
	Cfg      *core.Config
	Log      *zap.Logger
	Exec     *worker.Executor
	Analyzer *Analyzer // nil for the simple strategy
}

// Report summarizes the assertion phase.
type Report struct {
	Suite          []*testcase.TestCase
	MutantsCreated int
	MutantsKilled  int
	MutantsTimeout int
	MutationScore  float64
}

// Generate runs the configured assertion strategy over the suite.
func (g *Generator) Generate(suite []*testcase.TestCase) *Report {
	report := &Report{Suite: suite, MutationScore: math.NaN()}
	if g.Cfg.AssertionStrategy == core.AssertionsNone {
		return report
	}
	g.Exec.ObserveState = true
	defer func() { g.Exec.ObserveState = false }()

	for _, tc := range suite {
		tc.Assertions = g.candidates(tc)
	}
	if g.Cfg.AssertionStrategy == core.AssertionsMutation && g.Analyzer != nil {
		g.Analyzer.Filter(suite, report)
	}
	return report
}

// candidates replays the test several times and keeps only assertions
// whose observed value is stable across replays.
func (g *Generator) candidates(tc *testcase.TestCase) []testcase.Assertion {
	replays := g.Cfg.AssertionReplays
	if replays < 2 {
		replays = 2
	}
	runs := make([][]trace.StatementOutcome, 0, replays)
	for i := 0; i < replays; i++ {
		tr := g.Exec.Execute(tc.Clone())
		if tr.TimedOut {
			return nil
		}
		runs = append(runs, tr.Outcomes)
	}
	base := runs[0]
	var out []testcase.Assertion
	for _, o := range base {
		stable := true
		for _, other := range runs[1:] {
			if !sameOutcome(o, outcomeAt(other, o.Position)) {
				stable = false
				break
			}
		}
		if !stable {
			continue // flaky observation
		}
		out = append(out, assertionsFor(o)...)
	}
	return out
}

func outcomeAt(outcomes []trace.StatementOutcome, pos int) *trace.StatementOutcome {
	for i := range outcomes {
		if outcomes[i].Position == pos {
			return &outcomes[i]
		}
	}
	return nil
}

// sameOutcome compares two replays of the same statement.
func sameOutcome(a trace.StatementOutcome, b *trace.StatementOutcome) bool {
	if b == nil {
		return false
	}
	if (a.Exc == nil) != (b.Exc == nil) {
		return false
	}
	if a.Exc != nil {
		return a.Exc.Kind == b.Exc.Kind
	}
	if a.TypeName != b.TypeName {
		return false
	}
	if !equalValue(a.Value, b.Value) {
		return false
	}
	if a.HasLength != b.HasLength || a.Length != b.Length {
		return false
	}
	if len(a.Fields) != len(b.Fields) {
		return false
	}
	for k, v := range a.Fields {
		if !equalValue(v, b.Fields[k]) {
			return false
		}
	}
	return true
}

func equalValue(a, b any) bool {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok && bok {
		return math.Abs(af-bf) <= floatTolerance
	}
	return a == b
}

// assertionsFor derives the candidate assertions of one stable
// observation. Iterators get no assertions; functions stay opaque
// beyond their type name.
func assertionsFor(o trace.StatementOutcome) []testcase.Assertion {
	if o.Timeout {
		return nil
	}
	if o.Exc != nil {
		return []testcase.Assertion{{
			Position: o.Position,
			Kind:     testcase.AssertRaises,
			ExcKind:  o.Exc.Kind,
		}}
	}
	var out []testcase.Assertion
	switch v := o.Value.(type) {
	case nil:
		if o.TypeName == "none" {
			out = append(out, testcase.Assertion{Position: o.Position, Kind: testcase.AssertEqual, Expected: nil})
		}
	case float64:
		out = append(out, testcase.Assertion{Position: o.Position, Kind: testcase.AssertFloatApprox, Expected: v})
	case int64, bool, string:
		out = append(out, testcase.Assertion{Position: o.Position, Kind: testcase.AssertEqual, Expected: v})
	}
	if o.Value == nil && o.TypeName != "none" && o.TypeName != "iterator" && o.TypeName != "" {
		out = append(out, testcase.Assertion{Position: o.Position, Kind: testcase.AssertTypeName, Expected: o.TypeName})
		if o.Fields != nil {
			out = append(out, testcase.Assertion{Position: o.Position, Kind: testcase.AssertIsInstance, Expected: o.TypeName})
		}
	}
	if o.HasLength {
		out = append(out, testcase.Assertion{Position: o.Position, Kind: testcase.AssertLen, Expected: o.Length})
	}
	for name, v := range o.Fields {
		out = append(out, testcase.Assertion{Position: o.Position, Kind: testcase.AssertEqual, Field: name, Expected: v})
	}
	return out
}

// Holds checks one assertion against a replay's outcomes. A missing
// outcome (the mutant diverged before the position) fails the
// assertion, which counts as a kill.
func Holds(a testcase.Assertion, outcomes []trace.StatementOutcome) bool {
	o := outcomeAt(outcomes, a.Position)
	if o == nil {
		return false
	}
	switch a.Kind {
	case testcase.AssertRaises:
		return o.Exc != nil && o.Exc.Kind == a.ExcKind
	case testcase.AssertEqual:
		if o.Exc != nil {
			return false
		}
		if a.Field != "" {
			return equalValue(o.Fields[a.Field], a.Expected)
		}
		return equalValue(o.Value, a.Expected)
	case testcase.AssertFloatApprox:
		if o.Exc != nil {
			return false
		}
		return equalValue(o.Value, a.Expected)
	case testcase.AssertTypeName, testcase.AssertIsInstance:
		return o.Exc == nil && o.TypeName == a.Expected
	case testcase.AssertLen:
		return o.Exc == nil && o.HasLength && o.Length == a.Expected
	}
	return false
}
