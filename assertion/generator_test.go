package assertion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrel-dev/petrel/cluster"
	"github.com/petrel-dev/petrel/core"
	"github.com/petrel-dev/petrel/instrument"
	"github.com/petrel-dev/petrel/lang"
	"github.com/petrel-dev/petrel/lang/bytecode"
	"github.com/petrel-dev/petrel/pkg/logging"
	"github.com/petrel-dev/petrel/testcase"
	"github.com/petrel-dev/petrel/trace"
	"github.com/petrel-dev/petrel/worker"
)

const subjectSource = `
fn safe_div(a: int, b: int) -> float {
	if b == 0 {
		raise ZeroDivisionError("division by zero")
	}
	return a / b
}

fn shout(word: str) -> str {
	return word.upper()
}
`

type fixture struct {
	cfg  *core.Config
	exec *worker.Executor
	ast  *lang.Module
	cl   *cluster.Cluster
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry := trace.NewRegistry()
	isa := bytecode.V1{}
	chain, err := instrument.NewChain(isa, registry,
		instrument.NewBranchAdapter(registry),
		instrument.NewLineAdapter(registry, nil),
		instrument.NewCheckedAdapter(),
		instrument.NewSeedingAdapter(),
		instrument.NewUnwrapAdapter(),
	)
	require.NoError(t, err)
	loader, err := instrument.NewLoader(isa, instrument.MemFinder{"mod": subjectSource}, chain, nil)
	require.NoError(t, err)
	tracer := trace.NewTracer(registry, nil)
	tracer.Begin()
	module, err := loader.Load("mod", tracer)
	tracer.End()
	require.NoError(t, err)

	ast, _, err := lang.Parse("mod", subjectSource)
	require.NoError(t, err)
	cl := cluster.Build(ast, module, nil, nil)

	cfg := core.DefaultConfig()
	cfg.AssertionReplays = 2
	budget := core.Budget{PerStatement: 2 * time.Second, PerTest: 5 * time.Second, AbortGrace: 100 * time.Millisecond}
	return &fixture{
		cfg:  cfg,
		exec: worker.NewExecutor(cl, tracer, tracer, budget),
		ast:  ast,
		cl:   cl,
	}
}

func (f *fixture) callable(name string) *cluster.Callable {
	for _, ca := range f.cl.Callables() {
		if ca.Name == name {
			return ca
		}
	}
	return nil
}

func (f *fixture) divisionCase(a, b int64) *testcase.TestCase {
	tc := testcase.New()
	pa := tc.Append(testcase.PrimitiveStatement(a))
	pb := tc.Append(testcase.PrimitiveStatement(b))
	tc.Append(testcase.CallStatement(f.callable("mod.safe_div"), []int{pa, pb}))
	return tc
}

func TestSimpleStrategyAttachesStableAssertions(t *testing.T) {
	f := newFixture(t)
	f.cfg.AssertionStrategy = core.AssertionsSimple

	ok := f.divisionCase(9, 2)
	raising := f.divisionCase(1, 0)
	gen := &Generator{Cfg: f.cfg, Log: logging.NewNop().Zap(), Exec: f.exec}
	report := gen.Generate([]*testcase.TestCase{ok, raising})
	require.Len(t, report.Suite, 2)

	require.NotEmpty(t, ok.Assertions)
	var sawFloat bool
	for _, a := range ok.Assertions {
		if a.Kind == testcase.AssertFloatApprox && a.Position == 2 {
			sawFloat = true
			assert.Equal(t, 4.5, a.Expected)
		}
	}
	assert.True(t, sawFloat, "the division result gets an approximate assertion")

	require.NotEmpty(t, raising.Assertions)
	var sawRaises bool
	for _, a := range raising.Assertions {
		if a.Kind == testcase.AssertRaises {
			sawRaises = true
			assert.Equal(t, "ZeroDivisionError", a.ExcKind)
			assert.Equal(t, 2, a.Position)
		}
	}
	assert.True(t, sawRaises, "the raising statement gets an expected-exception assertion")
}

func TestNoneStrategySkipsEverything(t *testing.T) {
	f := newFixture(t)
	f.cfg.AssertionStrategy = core.AssertionsNone
	tc := f.divisionCase(4, 2)
	gen := &Generator{Cfg: f.cfg, Log: logging.NewNop().Zap(), Exec: f.exec}
	gen.Generate([]*testcase.TestCase{tc})
	assert.Empty(t, tc.Assertions)
}

func TestMutationFilterKeepsKillingAssertions(t *testing.T) {
	f := newFixture(t)
	f.cfg.AssertionStrategy = core.AssertionsMutation
	f.cfg.MutationOperators = []string{"cmp", "const"}

	suite := []*testcase.TestCase{
		f.divisionCase(9, 2),
		f.divisionCase(1, 0),
	}
	gen := &Generator{
		Cfg:  f.cfg,
		Log:  logging.NewNop().Zap(),
		Exec: f.exec,
		Analyzer: &Analyzer{
			Cfg:     f.cfg,
			Log:     logging.NewNop().Zap(),
			AST:     f.ast,
			Cluster: f.cl,
			Budget:  core.Budget{PerStatement: time.Second, PerTest: 3 * time.Second, AbortGrace: 100 * time.Millisecond},
		},
	}
	report := gen.Generate(suite)

	assert.Greater(t, report.MutantsCreated, 0)
	assert.Greater(t, report.MutantsKilled, 0, "the b==0 guard mutants must die")
	assert.GreaterOrEqual(t, report.MutationScore, 0.0)
	assert.LessOrEqual(t, report.MutationScore, 1.0)

	// Every surviving assertion contributed to a kill.
	for _, tc := range suite {
		for _, a := range tc.Assertions {
			assert.True(t, a.Contributing)
		}
	}
	// And at least one killing assertion survived somewhere.
	total := 0
	for _, tc := range suite {
		total += len(tc.Assertions)
	}
	assert.Greater(t, total, 0)
}

func TestEmptyMutantSetKeepsAllAssertions(t *testing.T) {
	f := newFixture(t)
	f.cfg.AssertionStrategy = core.AssertionsMutation
	// An operator selection matching nothing yields zero mutants.
	f.cfg.MutationOperators = []string{"loopjump"}

	tc := f.divisionCase(8, 2)
	gen := &Generator{
		Cfg:  f.cfg,
		Log:  logging.NewNop().Zap(),
		Exec: f.exec,
		Analyzer: &Analyzer{
			Cfg:     f.cfg,
			Log:     logging.NewNop().Zap(),
			AST:     f.ast,
			Cluster: f.cl,
			Budget:  core.Budget{PerStatement: time.Second, PerTest: 3 * time.Second, AbortGrace: 100 * time.Millisecond},
		},
	}
	report := gen.Generate([]*testcase.TestCase{tc})
	assert.Equal(t, 0, report.MutantsCreated)
	assert.NotEmpty(t, tc.Assertions, "an empty mutant set keeps all candidates unpruned")
}

func TestHoldsChecksOutcomes(t *testing.T) {
	outcomes := []trace.StatementOutcome{
		{Position: 0, Value: int64(5), TypeName: "int"},
		{Position: 1, Exc: &trace.ExceptionInfo{Kind: "ValueError"}},
		{Position: 2, TypeName: "Queue", HasLength: false, Fields: map[string]any{"n": int64(3)}},
	}
	assert.True(t, Holds(testcase.Assertion{Position: 0, Kind: testcase.AssertEqual, Expected: int64(5)}, outcomes))
	assert.False(t, Holds(testcase.Assertion{Position: 0, Kind: testcase.AssertEqual, Expected: int64(6)}, outcomes))
	assert.True(t, Holds(testcase.Assertion{Position: 1, Kind: testcase.AssertRaises, ExcKind: "ValueError"}, outcomes))
	assert.False(t, Holds(testcase.Assertion{Position: 1, Kind: testcase.AssertRaises, ExcKind: "KeyError"}, outcomes))
	assert.True(t, Holds(testcase.Assertion{Position: 2, Kind: testcase.AssertTypeName, Expected: "Queue"}, outcomes))
	assert.True(t, Holds(testcase.Assertion{Position: 2, Kind: testcase.AssertEqual, Field: "n", Expected: int64(3)}, outcomes))
	assert.False(t, Holds(testcase.Assertion{Position: 9, Kind: testcase.AssertEqual, Expected: int64(1)}, outcomes),
		"a missing outcome fails the assertion and counts as a kill")
}
