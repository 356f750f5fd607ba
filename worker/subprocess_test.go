package worker

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrel-dev/petrel/testcase"
)

func TestServeAnswersBatches(t *testing.T) {
	exec, cl := newExecutor(t, defaultBudget())
	loader := func(req BatchRequest) (*Executor, func(TestCaseDTO) (*testcase.TestCase, error), error) {
		return exec, func(dto TestCaseDTO) (*testcase.TestCase, error) {
			return DecodeTestCase(dto, cl)
		}, nil
	}

	tc := testcase.New()
	a := tc.Append(testcase.PrimitiveStatement(int64(8)))
	b := tc.Append(testcase.PrimitiveStatement(int64(2)))
	tc.Append(testcase.CallStatement(findCallable(cl, "mod.safe_div"), []int{a, b}))

	req := BatchRequest{
		Module:         "mod",
		PerStatementMS: 2000,
		PerTestMS:      5000,
		Tests:          []TestCaseDTO{EncodeTestCase(tc), EncodeTestCase(tc)},
	}
	data, err := json.Marshal(req)
	require.NoError(t, err)

	var out bytes.Buffer
	err = Serve(strings.NewReader(string(data)+"\n"), &out, loader)
	require.NoError(t, err)

	var resp BatchResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Empty(t, resp.Error)
	require.Len(t, resp.Traces, 2)

	tr := DecodeTrace(resp.Traces[0])
	require.Len(t, tr.Outcomes, 3)
	assert.Equal(t, 4.0, tr.Outcomes[2].Value)
}

func TestServeReportsDecodeErrors(t *testing.T) {
	exec, cl := newExecutor(t, defaultBudget())
	loader := func(req BatchRequest) (*Executor, func(TestCaseDTO) (*testcase.TestCase, error), error) {
		return exec, func(dto TestCaseDTO) (*testcase.TestCase, error) {
			return DecodeTestCase(dto, cl)
		}, nil
	}
	req := BatchRequest{
		Module:         "mod",
		PerStatementMS: 1000,
		PerTestMS:      1000,
		Tests: []TestCaseDTO{{Statements: []StatementDTO{{
			Kind: int(testcase.StmtFunctionCall), Callable: "mod.vanished", Recv: -1, Source: -1,
		}}}},
	}
	data, err := json.Marshal(req)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, Serve(strings.NewReader(string(data)+"\n"), &out, loader))

	var resp BatchResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.NotEmpty(t, resp.Error)
}
