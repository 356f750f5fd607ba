package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestValidateRejectsBadCombinations(t *testing.T) {
	cases := []struct {
		name  string
		mutate func(*Config)
		field string
	}{
		{"unknown algorithm", func(c *Config) { c.Algorithm = "Simulated" }, "algorithm"},
		{"no metrics", func(c *Config) { c.CoverageMetrics = nil }, "coverage_metrics"},
		{"bad metric", func(c *Config) { c.CoverageMetrics = []Metric{"paths"} }, "coverage_metrics"},
		{"zero population", func(c *Config) { c.PopulationSize = 0 }, "population_size"},
		{"mutation prob sum", func(c *Config) { c.MutationProbs = MutationProbabilities{Insert: 0.5, Change: 0.5, Delete: 0.5} }, "mutation_probabilities"},
		{"crossover range", func(c *Config) { c.CrossoverProb = 1.5 }, "crossover_probability"},
		{"tournament size", func(c *Config) { c.Selection = SelectionTournament; c.TournamentSize = 1 }, "tournament_size"},
		{"assertion strategy", func(c *Config) { c.AssertionStrategy = "guess" }, "assertion_strategy"},
		{"no stopping", func(c *Config) { c.Stopping = StoppingConfig{} }, "stopping"},
		{"timeouts", func(c *Config) { c.Timeouts.PerTest = 0 }, "timeouts"},
		{"llm without model", func(c *Config) { c.LLMSeed.Enabled = true; c.LLMSeed.Model = "" }, "llm_seed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			var cerr *ConfigError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tc.field, cerr.Field)
		})
	}
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "petrel.yaml")
	doc := `
algorithm: MOSA
coverage_metrics: [branch, line]
population_size: 30
max_test_length: 20
crossover_probability: 0.6
selection: rank
rank_bias: 1.5
stopping:
  max_iterations: 100
  coverage_plateau: 7
assertion_strategy: simple
timeouts:
  per_statement: 1s
  per_test: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, AlgorithmMOSA, cfg.Algorithm)
	assert.Equal(t, []Metric{MetricBranch, MetricLine}, cfg.CoverageMetrics)
	assert.Equal(t, 30, cfg.PopulationSize)
	assert.Equal(t, 100, cfg.Stopping.MaxIterations)
	assert.Equal(t, 7, cfg.Stopping.CoveragePlateau)
	assert.Equal(t, time.Second, cfg.Timeouts.PerStatement)
	assert.Equal(t, SelectionRank, cfg.Selection)
}

func TestEnvOverridesWin(t *testing.T) {
	t.Setenv("PETREL_ALGORITHM", "MIO")
	t.Setenv("PETREL_SEED", "1234")
	t.Setenv("PETREL_POPULATION", "8")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, AlgorithmMIO, cfg.Algorithm)
	require.NotNil(t, cfg.Seed)
	assert.Equal(t, int64(1234), *cfg.Seed)
	assert.Equal(t, 8, cfg.PopulationSize)
}

func TestSourceReproducibility(t *testing.T) {
	seed := int64(77)
	a := NewSource(&seed)
	b := NewSource(&seed)
	for i := 0; i < 100; i++ {
		assert.Equal(t, a.Int63(), b.Int63())
	}
	assert.Equal(t, int64(77), a.Seed())
}

func TestSourceAutoSeedIsReported(t *testing.T) {
	s := NewSource(nil)
	assert.NotZero(t, s.Seed())
}

func TestExecutionBudget(t *testing.T) {
	cfg := DefaultConfig()
	b := cfg.ExecutionBudget()
	assert.Equal(t, cfg.Timeouts.PerStatement, b.PerStatement)
	assert.Equal(t, cfg.Timeouts.PerTest, b.PerTest)
	assert.Greater(t, b.AbortGrace, time.Duration(0))
}
