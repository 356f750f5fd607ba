package llmseed

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrel-dev/petrel/cluster"
	"github.com/petrel-dev/petrel/core"
	"github.com/petrel-dev/petrel/lang"
	"github.com/petrel-dev/petrel/lang/compile"
	"github.com/petrel-dev/petrel/lang/vm"
	"github.com/petrel-dev/petrel/pkg/logging"
	"github.com/petrel-dev/petrel/testcase"
)

const seederSource = `
fn triangle(a: int, b: int, c: int) -> str {
	return "x"
}
fn greet(name: str) -> str {
	return name
}
`

func newSeeder(t *testing.T, client Client) *Seeder {
	t.Helper()
	ast, _, err := lang.Parse("mod", seederSource)
	require.NoError(t, err)
	code, err := compile.Module(ast)
	require.NoError(t, err)
	module, err := vm.New().ExecModule("mod", code)
	require.NoError(t, err)
	cl := cluster.Build(ast, module, nil, nil)
	seed := int64(1)
	rng := core.NewSource(&seed)
	f := testcase.NewFactory(cl, rng, nil, core.SeedPools{Random: 1}, 20)
	cfg := core.LLMSeedConfig{Enabled: true, Model: "gpt-4o-mini", MaxTokens: 512, RequestsSec: 100}
	return NewSeeder(cfg, client, cl, f, logging.NewNop().Zap())
}

func TestSeedsParsedFromProposals(t *testing.T) {
	client := &MockClient{Response: "triangle(1, 1, 1)\ngreet(\"ada\")\nnonsense!!\nmissing(1)"}
	s := newSeeder(t, client)

	seeds := s.Seeds(context.Background(), 10)
	require.Len(t, seeds, 2)
	assert.Equal(t, 1, client.Calls)

	first := seeds[0]
	require.True(t, first.Valid())
	last := first.Statements[first.Size()-1]
	assert.Equal(t, testcase.StmtFunctionCall, last.Kind)
	assert.Equal(t, "mod.triangle", last.Callable.Name)
	require.Len(t, last.Args, 3)
	for _, ref := range last.Args {
		assert.Equal(t, int64(1), first.Statements[ref].Value)
	}
}

func TestSeedsRespectMax(t *testing.T) {
	client := &MockClient{Response: "triangle(1,2,3)\ntriangle(2,3,4)\ntriangle(3,4,5)"}
	s := newSeeder(t, client)
	seeds := s.Seeds(context.Background(), 2)
	assert.Len(t, seeds, 2)
}

func TestSeedingFailureDegradesToNothing(t *testing.T) {
	client := &MockClient{Err: errors.New("quota exceeded")}
	s := newSeeder(t, client)
	assert.Empty(t, s.Seeds(context.Background(), 5))
}

func TestDisabledSeederIsInert(t *testing.T) {
	client := &MockClient{Response: "triangle(1,1,1)"}
	s := newSeeder(t, client)
	s.Cfg.Enabled = false
	assert.Empty(t, s.Seeds(context.Background(), 5))
	assert.Zero(t, client.Calls)
}

func TestParseLiteralForms(t *testing.T) {
	cases := map[string]any{
		"42":      int64(42),
		"-7":      int64(-7),
		"2.5":     2.5,
		"true":    true,
		"false":   false,
		"none":    nil,
		`"hi"`:    "hi",
		`'there'`: "there",
	}
	for in, want := range cases {
		got, ok := parseLiteral(in)
		require.True(t, ok, "literal %q", in)
		assert.Equal(t, want, got, "literal %q", in)
	}
	_, ok := parseLiteral("foo(")
	assert.False(t, ok)
}

func TestPromptListsSignatures(t *testing.T) {
	s := newSeeder(t, &MockClient{})
	p := s.prompt()
	assert.Contains(t, p, "mod.triangle(a: int, b: int, c: int)")
	assert.Contains(t, p, "mod.greet(name: str)")
}
