package assertion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrel-dev/petrel/lang"
	"github.com/petrel-dev/petrel/lang/compile"
	"github.com/petrel-dev/petrel/lang/vm"
)

const mutopsSource = `
fn grade(score: int) -> str {
	if score >= 50 and score <= 100 {
		return "pass"
	}
	if not (score >= 0) {
		raise ValueError("negative")
	}
	return "fail"
}

fn scan(xs: list) -> int {
	total = 0
	for x in xs {
		if x < 0 {
			break
		}
		total = total + x
	}
	return total
}

fn fetch(d: dict, k: str) -> int {
	try {
		return d[k]
	} except KeyError {
		return -1
	}
}
`

func parsedModule(t *testing.T) *lang.Module {
	t.Helper()
	mod, _, err := lang.Parse("mod", mutopsSource)
	require.NoError(t, err)
	return mod
}

func TestOperatorsEnumerateSites(t *testing.T) {
	mod := parsedModule(t)
	counts := map[string]int{}
	for _, op := range DefaultOperators() {
		counts[op.Name()] = len(op.Mutations(mod))
	}
	assert.Greater(t, counts["arith"], 0)
	assert.Greater(t, counts["cmp"], 0)
	assert.Greater(t, counts["boolop"], 0)
	assert.Greater(t, counts["not-del"], 0)
	assert.Greater(t, counts["loopjump"], 0)
	assert.Greater(t, counts["exc-swap"], 0)
	assert.Greater(t, counts["handler-del"], 0)
	assert.Greater(t, counts["const"], 0)
}

func TestMutantsLeaveOriginalUntouched(t *testing.T) {
	mod := parsedModule(t)
	for _, op := range DefaultOperators() {
		op.Mutations(mod)
	}
	// Structural spot check: the original boolean connective survived.
	fn := mod.Decls[0].(*lang.FnDecl)
	cond := fn.Body[0].(*lang.IfStmt).Cond.(*lang.BoolOp)
	assert.Equal(t, lang.BoolAnd, cond.Op)
}

func TestEveryMutantCompilesAndLoads(t *testing.T) {
	mod := parsedModule(t)
	var mutants []*Mutant
	for _, op := range DefaultOperators() {
		mutants = append(mutants, op.Mutations(mod)...)
	}
	require.NotEmpty(t, mutants)

	for _, m := range mutants {
		code, err := compile.Module(m.Module)
		require.NoError(t, err, "mutant %s %s fails to compile", m.Operator, m.Detail)
		_, err = vm.New().ExecModule("mod", code)
		require.NoError(t, err, "mutant %s %s fails to load", m.Operator, m.Detail)
	}
}

func TestComparisonSwapChangesBehavior(t *testing.T) {
	mod := parsedModule(t)
	muts := ComparisonReplacement{}.Mutations(mod)
	require.NotEmpty(t, muts)

	run := func(m *lang.Module, score int64) string {
		code, err := compile.Module(m)
		require.NoError(t, err)
		machine := vm.New()
		module, err := machine.ExecModule("mod", code)
		require.NoError(t, err)
		fn, _ := module.Lookup("grade")
		v, err := machine.Call(fn, []vm.Value{score}, nil, nil)
		require.NoError(t, err)
		return v.(string)
	}

	original := run(mod, 50)
	changed := false
	for _, m := range muts {
		if run(m.Module, 50) != original {
			changed = true
			break
		}
	}
	assert.True(t, changed, "at least one comparison swap must flip an outcome")
}

func TestOperatorsByNameFilters(t *testing.T) {
	ops := OperatorsByName([]string{"cmp", "const"})
	require.Len(t, ops, 2)
	assert.Equal(t, "cmp", ops[0].Name())
	assert.Equal(t, "const", ops[1].Name())

	assert.Len(t, OperatorsByName(nil), len(DefaultOperators()))
}

func TestHigherOrderPairingReducesCount(t *testing.T) {
	mod := parsedModule(t)
	ops := DefaultOperators()
	var first []*Mutant
	for _, op := range ops {
		first = append(first, op.Mutations(mod)...)
	}
	require.Greater(t, len(first), 2)

	paired := pairHigherOrder(ops, first)
	assert.Less(t, len(paired), len(first), "pairing must reduce mutant count")
	diverse := false
	for _, m := range paired {
		if m.Operator == "higher-order" {
			require.Len(t, m.Orders, 2)
			diverse = true
		}
	}
	assert.True(t, diverse, "pairs combine different operators")
}
