package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrel-dev/petrel/lang/bytecode"
)

func TestTracerWindow(t *testing.T) {
	tr := NewTracer(NewRegistry(), nil)

	// Events outside an execution window are dropped with an early
	// return instead of corrupting the next trace.
	tr.PassedBoolPredicate(int64(1), 0)
	tr.TrackLine(3)

	tr.Begin()
	tr.PassedCmpPredicate(int64(1), int64(5), bytecode.CmpEq, 0)
	tr.PassedCmpPredicate(int64(5), int64(5), bytecode.CmpEq, 0)
	tr.TrackLine(3)
	tr.EnteredCode(2)
	got := tr.End()

	assert.Equal(t, int64(2), got.PredicateCounts[0])
	assert.Equal(t, 0.0, got.TrueDistances[0], "minimum of both observations")
	assert.Equal(t, 0.0, got.FalseDistances[0])
	assert.True(t, got.CoveredLines[3])
	assert.True(t, got.ExecutedCodeObjects[2])

	// A fresh window starts empty.
	tr.Begin()
	empty := tr.End()
	assert.Empty(t, empty.PredicateCounts)
	assert.Empty(t, empty.CoveredLines)
}

func TestTracerDistanceAggregation(t *testing.T) {
	tr := NewTracer(NewRegistry(), nil)
	tr.Begin()
	tr.PassedCmpPredicate(int64(10), int64(3), bytecode.CmpLt, 7)
	tr.PassedCmpPredicate(int64(4), int64(3), bytecode.CmpLt, 7)
	got := tr.End()

	assert.Equal(t, 2.0, got.TrueDistances[7], "keeps the minimum true distance")
	assert.Equal(t, 0.0, got.FalseDistances[7])
}

type poolStub struct{ values []any }

func (p *poolStub) Add(values ...any) { p.values = append(p.values, values...) }

func TestTracerSeedHarvest(t *testing.T) {
	pool := &poolStub{}
	tr := NewTracer(NewRegistry(), pool)
	tr.Begin()
	tr.HarvestSeeds([]any{int64(42), "token", nil, &struct{}{}})
	tr.End()

	assert.Equal(t, []any{int64(42), "token"}, pool.values, "only primitives are pooled")
}

func TestRegistryAssignsStableIDs(t *testing.T) {
	reg := NewRegistry()
	id0 := reg.RegisterPredicate(&PredicateMeta{CodeObjectID: 0})
	id1 := reg.RegisterPredicate(&PredicateMeta{CodeObjectID: 0})
	assert.Equal(t, 0, id0)
	assert.Equal(t, 1, id1)

	lineA := reg.RegisterLine("m", 10)
	lineB := reg.RegisterLine("m", 10)
	assert.Equal(t, lineA, lineB, "line ids are interned")
	assert.NotEqual(t, lineA, reg.RegisterLine("m", 11))

	require.NotNil(t, reg.Predicate(id1))
	assert.Nil(t, reg.Predicate(99))
}

func TestProxySwapBetweenPhases(t *testing.T) {
	reg := NewRegistry()
	first := NewTracer(reg, nil)
	second := NewTracer(reg, nil)
	proxy := NewProxy(first)

	first.Begin()
	proxy.TrackLine(1)
	firstTrace := first.End()
	assert.True(t, firstTrace.CoveredLines[1])

	prev := proxy.Swap(second)
	assert.Same(t, first, prev)

	second.Begin()
	proxy.TrackLine(2)
	secondTrace := second.End()
	assert.True(t, secondTrace.CoveredLines[2])
	assert.False(t, secondTrace.CoveredLines[1])
}

func TestTraceMergeKeepsMinimaAndUnions(t *testing.T) {
	a := NewTrace()
	a.TrueDistances[1] = 5
	a.CoveredLines[1] = true
	b := NewTrace()
	b.TrueDistances[1] = 2
	b.CoveredLines[2] = true
	b.PredicateCounts[1] = 3

	a.Merge(b)
	assert.Equal(t, 2.0, a.TrueDistances[1])
	assert.True(t, a.CoveredLines[1])
	assert.True(t, a.CoveredLines[2])
	assert.Equal(t, int64(3), a.PredicateCounts[1])
}

func TestDiscardAfter(t *testing.T) {
	tr := NewTrace()
	tr.Outcomes = []StatementOutcome{{Position: 0}, {Position: 1}, {Position: 2}}
	tr.DiscardAfter(1)
	require.Len(t, tr.Outcomes, 1)
	assert.Equal(t, 0, tr.Outcomes[0].Position)
}
