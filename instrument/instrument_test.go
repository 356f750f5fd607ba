package instrument

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrel-dev/petrel/lang/bytecode"
	"github.com/petrel-dev/petrel/lang/vm"
	"github.com/petrel-dev/petrel/trace"
)

const fixtureSource = `
fn classify(score: int) -> str {
	if score >= 90 {
		return "excellent"
	}
	if score >= 50 {
		return "pass"
	}
	return "fail"
}

fn constant() -> int {
	return 7
}
`

func newTestChain(t *testing.T, registry *trace.Registry) *Chain {
	t.Helper()
	isa := bytecode.V1{}
	chain, err := NewChain(isa, registry,
		NewBranchAdapter(registry),
		NewLineAdapter(registry, nil),
		NewCheckedAdapter(),
		NewSeedingAdapter(),
		NewUnwrapAdapter(),
	)
	require.NoError(t, err)
	return chain
}

func loadFixture(t *testing.T, registry *trace.Registry, tracer *trace.Tracer) *vm.Module {
	t.Helper()
	chain := newTestChain(t, registry)
	loader, err := NewLoader(bytecode.V1{}, MemFinder{"fixture": fixtureSource}, chain, nil)
	require.NoError(t, err)
	tracer.Begin()
	module, err := loader.Load("fixture", tracer)
	tracer.End()
	require.NoError(t, err)
	return module
}

func TestInstrumentRegistersMetadata(t *testing.T) {
	registry := trace.NewRegistry()
	tracer := trace.NewTracer(registry, nil)
	loadFixture(t, registry, tracer)

	// Module code object plus the two functions.
	codeObjects := registry.CodeObjects()
	require.Len(t, codeObjects, 3)

	// classify has two conditional branches, constant none.
	preds := registry.Predicates()
	assert.Len(t, preds, 2)

	var branchless int
	for _, co := range codeObjects {
		if co.Branchless {
			branchless++
		}
		assert.False(t, co.Skipped)
		require.NotNil(t, co.CFG)
		require.NotNil(t, co.CDG)
		require.NotNil(t, co.Tree)
	}
	assert.Equal(t, 2, branchless, "module body and constant() have no branches")
}

func TestInstrumentedExecutionTracesBranches(t *testing.T) {
	registry := trace.NewRegistry()
	tracer := trace.NewTracer(registry, nil)
	module := loadFixture(t, registry, tracer)

	machine := vm.New()
	machine.Hook = tracer
	fn, ok := module.Lookup("classify")
	require.True(t, ok)

	tracer.Begin()
	v, err := machine.Call(fn, []vm.Value{int64(97)}, nil, nil)
	tr := tracer.End()
	require.NoError(t, err)
	assert.Equal(t, "excellent", v)

	// First predicate taken true: distance zero on the true side.
	require.Len(t, registry.Predicates(), 2)
	firstPred := registry.Predicates()[0].ID
	assert.Equal(t, int64(1), tr.PredicateCounts[firstPred])
	assert.Equal(t, 0.0, tr.TrueDistances[firstPred])
	assert.Greater(t, tr.FalseDistances[firstPred], 0.0)

	// Lines of the taken path are covered.
	assert.NotEmpty(t, tr.CoveredLines)

	tracer.Begin()
	v, err = machine.Call(fn, []vm.Value{int64(10)}, nil, nil)
	tr = tracer.End()
	require.NoError(t, err)
	assert.Equal(t, "fail", v)
	assert.Equal(t, 0.0, tr.FalseDistances[firstPred])
	assert.Equal(t, 80.0, tr.TrueDistances[firstPred], "10 >= 90 misses by 80")
}

func TestSeedingAdapterHarvestsComparedValues(t *testing.T) {
	registry := trace.NewRegistry()
	pool := &seedSink{}
	tracer := trace.NewTracer(registry, pool)
	module := loadFixture(t, registry, tracer)

	machine := vm.New()
	machine.Hook = tracer
	fn, _ := module.Lookup("classify")
	tracer.Begin()
	_, err := machine.Call(fn, []vm.Value{int64(42)}, nil, nil)
	tracer.End()
	require.NoError(t, err)

	assert.Contains(t, pool.values, int64(90), "the compared constant is pooled")
	assert.Contains(t, pool.values, int64(42), "the runtime operand is pooled")
}

type seedSink struct{ values []any }

func (s *seedSink) Add(values ...any) { s.values = append(s.values, values...) }

func TestDoubleInstrumentationIsFatal(t *testing.T) {
	registry := trace.NewRegistry()
	chain := newTestChain(t, registry)
	loader, err := NewLoader(bytecode.V1{}, MemFinder{"fixture": fixtureSource}, chain, nil)
	require.NoError(t, err)
	code, err := loader.Compile("fixture")
	require.NoError(t, err)

	err = chain.InstrumentModule(code)
	require.Error(t, err, "re-instrumenting cached code must abort")
}

func TestExcludedModulesGetUnwrapOnly(t *testing.T) {
	registry := trace.NewRegistry()
	chain := newTestChain(t, registry)
	loader, err := NewLoader(bytecode.V1{}, MemFinder{"vendor.lib": `
fn helper(x: int) -> int {
	if x > 0 {
		return x
	}
	return abs(x)
}
`}, chain, []string{"vendor"})
	require.NoError(t, err)
	code, err := loader.Compile("vendor.lib")
	require.NoError(t, err)

	var sawCoverage, sawUnwrap bool
	bytecode.EachCode(code, func(co *bytecode.Code) {
		for _, in := range co.Instrs {
			switch in.Op {
			case bytecode.OpTraceCmp, bytecode.OpTraceBool, bytecode.OpTraceLine:
				sawCoverage = true
			case bytecode.OpUnwrap:
				sawUnwrap = true
			}
		}
	})
	assert.False(t, sawCoverage, "excluded modules receive no coverage adapters")
	assert.True(t, sawUnwrap)
}

func TestJumpTargetsStayValidAfterInstrumentation(t *testing.T) {
	registry := trace.NewRegistry()
	tracer := trace.NewTracer(registry, nil)
	module := loadFixture(t, registry, tracer)

	// Exhaustively exercise classify to prove relocated jumps behave.
	machine := vm.New()
	machine.Hook = tracer
	fn, _ := module.Lookup("classify")
	for _, tc := range []struct {
		score int64
		want  string
	}{{95, "excellent"}, {90, "excellent"}, {89, "pass"}, {50, "pass"}, {49, "fail"}, {-3, "fail"}} {
		tracer.Begin()
		v, err := machine.Call(fn, []vm.Value{tc.score}, nil, nil)
		tracer.End()
		require.NoError(t, err)
		assert.Equal(t, tc.want, v, "classify(%d)", tc.score)
	}
}
