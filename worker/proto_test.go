package worker

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrel-dev/petrel/testcase"
	"github.com/petrel-dev/petrel/trace"
)

func TestTestCaseRoundTrip(t *testing.T) {
	_, cl := newExecutor(t, defaultBudget())

	tc := testcase.New()
	q := tc.Append(testcase.ConstructorStatement(findCallable(cl, "mod.Queue"), nil))
	v := tc.Append(testcase.PrimitiveStatement(int64(7)))
	tc.Append(testcase.MethodStatement(findCallable(cl, "mod.Queue.enqueue"), q, []int{v}))

	dto := EncodeTestCase(tc)
	back, err := DecodeTestCase(dto, cl)
	require.NoError(t, err)

	require.Equal(t, tc.Size(), back.Size())
	assert.True(t, tc.Equal(back), "round trip preserves structure")
	assert.True(t, back.Valid())
}

func TestDecodeUnknownCallable(t *testing.T) {
	_, cl := newExecutor(t, defaultBudget())
	dto := TestCaseDTO{Statements: []StatementDTO{{
		Kind: int(testcase.StmtFunctionCall), Callable: "mod.vanished", Recv: -1, Source: -1,
	}}}
	_, err := DecodeTestCase(dto, cl)
	assert.Error(t, err)
}

func TestTraceRoundTripCarriesRawInstructions(t *testing.T) {
	tr := trace.NewTrace()
	tr.ExecutedCodeObjects[1] = true
	tr.PredicateCounts[0] = 2
	tr.TrueDistances[0] = 0.5
	tr.FalseDistances[0] = 0
	tr.CoveredLines[4] = true
	tr.Instructions = append(tr.Instructions, trace.ExecutedInstr{CodeID: 1, Offset: 3, Name: "x", Line: 9})
	tr.Outcomes = append(tr.Outcomes, trace.StatementOutcome{
		Position: 0,
		Value:    int64(5),
		TypeName: "int",
		Elapsed:  3 * time.Millisecond,
		Fields:   map[string]any{"count": int64(2)},
	}, trace.StatementOutcome{
		Position: 1,
		Exc:      &trace.ExceptionInfo{Kind: "ValueError", Msg: "boom"},
	})
	tr.Runtime = 20 * time.Millisecond
	tr.TimedOut = false

	back := DecodeTrace(EncodeTrace(tr))

	assert.True(t, back.ExecutedCodeObjects[1])
	assert.Equal(t, int64(2), back.PredicateCounts[0])
	assert.Equal(t, 0.5, back.TrueDistances[0])
	assert.True(t, back.CoveredLines[4])
	require.Len(t, back.Instructions, 1, "checked coverage needs the raw stream")
	assert.Equal(t, "x", back.Instructions[0].Name)
	require.Len(t, back.Outcomes, 2)
	assert.Equal(t, int64(5), back.Outcomes[0].Value)
	assert.Equal(t, int64(2), back.Outcomes[0].Fields["count"])
	require.NotNil(t, back.Outcomes[1].Exc)
	assert.Equal(t, "ValueError", back.Outcomes[1].Exc.Kind)
	if diff := cmp.Diff(tr.Runtime, back.Runtime); diff != "" {
		t.Errorf("runtime mismatch: %s", diff)
	}
}

func TestRestartPolicyRetriesUntilSuccess(t *testing.T) {
	p := NewRestartPolicy()
	p.InitialBackoff = time.Millisecond
	p.MaxBackoff = 2 * time.Millisecond

	calls := 0
	err := p.Run(func() error {
		calls++
		if calls < 3 {
			return errors.New("worker died")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRestartPolicyOpensBreaker(t *testing.T) {
	p := NewRestartPolicy()
	p.InitialBackoff = time.Millisecond
	p.MaxBackoff = time.Millisecond
	p.MaxAttempts = 5

	failing := func() error { return errors.New("crash") }
	err := p.Run(failing)
	require.Error(t, err)

	// After three consecutive failures the breaker is open.
	err = p.Run(failing)
	assert.ErrorIs(t, err, ErrWorkerUnavailable)
}
