package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Algorithm selects the search algorithm driving test generation.
type Algorithm string

const (
	AlgorithmDynaMOSA     Algorithm = "DynaMOSA"
	AlgorithmMOSA         Algorithm = "MOSA"
	AlgorithmMIO          Algorithm = "MIO"
	AlgorithmWholeSuite   Algorithm = "WholeSuite"
	AlgorithmRandom       Algorithm = "Random"
	AlgorithmRandomSearch Algorithm = "RandomSearch"
)

// Metric names a coverage metric contributing goals to the search.
type Metric string

const (
	MetricBranch  Metric = "branch"
	MetricLine    Metric = "line"
	MetricChecked Metric = "checked"
)

// AssertionStrategy selects how assertions are attached to final tests.
type AssertionStrategy string

const (
	AssertionsSimple   AssertionStrategy = "simple"
	AssertionsMutation AssertionStrategy = "mutation"
	AssertionsNone     AssertionStrategy = "none"
)

// SelectionKind selects the parent-selection operator.
type SelectionKind string

const (
	SelectionRank       SelectionKind = "rank"
	SelectionTournament SelectionKind = "tournament"
)

// MutationProbabilities holds the per-operator application probabilities.
// The residual up to 1.0 is the no-op share.
type MutationProbabilities struct {
	Insert float64 `yaml:"insert"`
	Change float64 `yaml:"change"`
	Delete float64 `yaml:"delete"`
}

// StoppingConfig holds thresholds for the composite stopping condition.
// Zero values disable the respective predicate.
type StoppingConfig struct {
	MaxTime           time.Duration `yaml:"max_time"`
	MaxIterations     int           `yaml:"max_iterations"`
	MaxStatementExecs int64         `yaml:"max_statement_executions"`
	MaxTestExecs      int64         `yaml:"max_test_executions"`
	MaxCoverage       float64       `yaml:"max_coverage"`
	CoveragePlateau   int           `yaml:"coverage_plateau"`
	MaxMemoryMB       int           `yaml:"max_memory_mb"`
}

// Timeouts bounds target-code execution.
type Timeouts struct {
	PerStatement time.Duration `yaml:"per_statement"`
	PerTest      time.Duration `yaml:"per_test"`
	Total        time.Duration `yaml:"total"`
}

// SeedPools controls the ratio of the three primitive-value sources used
// by the test factory: fresh random, dynamic constant pool, mutated seed.
type SeedPools struct {
	Random  float64 `yaml:"random"`
	Dynamic float64 `yaml:"dynamic"`
	Mutated float64 `yaml:"mutated"`
}

// LLMSeedConfig configures the optional LLM-proposed initial population.
type LLMSeedConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	RequestsSec float64 `yaml:"requests_per_second"`
}

// Config is the configuration object handed to the generator. It is
// loaded from a YAML document, then overridden from the environment.
type Config struct {
	ProjectRoot string `yaml:"project_root"`
	ModuleName  string `yaml:"module_name"`
	OutputDir   string `yaml:"output_dir"`

	Algorithm       Algorithm `yaml:"algorithm"`
	CoverageMetrics []Metric  `yaml:"coverage_metrics"`

	PopulationSize int `yaml:"population_size"`
	MaxTestLength  int `yaml:"max_test_length"`
	MaxSuiteLength int `yaml:"max_suite_length"`

	MutationProbs MutationProbabilities `yaml:"mutation_probabilities"`
	CrossoverProb float64               `yaml:"crossover_probability"`

	Selection      SelectionKind `yaml:"selection"`
	RankBias       float64       `yaml:"rank_bias"`
	TournamentSize int           `yaml:"tournament_size"`

	Stopping StoppingConfig `yaml:"stopping"`

	// Seed drives every stochastic choice. Nil means auto-seed (logged).
	Seed *int64 `yaml:"seed"`

	AssertionStrategy AssertionStrategy `yaml:"assertion_strategy"`
	MutationOperators []string          `yaml:"mutation_operators"`
	AssertionReplays  int               `yaml:"assertion_replays"`

	Timeouts   Timeouts `yaml:"timeouts"`
	Subprocess bool     `yaml:"subprocess"`
	BatchSize  int      `yaml:"batch_size"`

	IncludeMethods []string `yaml:"include_methods"`
	ExcludeMethods []string `yaml:"exclude_methods"`
	ExcludeModules []string `yaml:"exclude_modules"`

	SeedPools SeedPools `yaml:"seed_pools"`
	SeedFile  string    `yaml:"seed_file"`

	LLMSeed LLMSeedConfig `yaml:"llm_seed"`

	// MIO adaptive-parameter knobs.
	MIOExploitationStart float64 `yaml:"mio_focus_threshold"`

	LogLevel string `yaml:"log_level"` // quiet, normal, verbose, debug

	// ElitismCount preserves the best k suites in whole-suite mode.
	ElitismCount int `yaml:"elitism_count"`
}

// DefaultConfig returns the configuration used when no document or
// overrides are supplied.
func DefaultConfig() *Config {
	return &Config{
		Algorithm:       AlgorithmDynaMOSA,
		CoverageMetrics: []Metric{MetricBranch},
		PopulationSize:  50,
		MaxTestLength:   40,
		MaxSuiteLength:  50,
		MutationProbs:   MutationProbabilities{Insert: 1.0 / 3.0, Change: 1.0 / 3.0, Delete: 1.0 / 3.0},
		CrossoverProb:   0.75,
		Selection:       SelectionTournament,
		RankBias:        1.7,
		TournamentSize:  5,
		Stopping: StoppingConfig{
			MaxTime: 600 * time.Second,
		},
		AssertionStrategy: AssertionsMutation,
		AssertionReplays:  2,
		Timeouts: Timeouts{
			PerStatement: 2 * time.Second,
			PerTest:      10 * time.Second,
			Total:        600 * time.Second,
		},
		BatchSize:            20,
		SeedPools:            SeedPools{Random: 0.5, Dynamic: 0.3, Mutated: 0.2},
		MIOExploitationStart: 0.85,
		LogLevel:             "normal",
		ElitismCount:         1,
		LLMSeed: LLMSeedConfig{
			Model:       "gpt-4o-mini",
			MaxTokens:   1024,
			RequestsSec: 0.5,
		},
	}
}

// LoadConfig reads a YAML document (optional) and applies environment
// overrides on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets the environment win over the document for the
// knobs that are commonly flipped per run.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PETREL_ALGORITHM"); v != "" {
		cfg.Algorithm = Algorithm(v)
	}
	if v := os.Getenv("PETREL_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Seed = &n
		}
	}
	if v := os.Getenv("PETREL_POPULATION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PopulationSize = n
		}
	}
	if v := os.Getenv("PETREL_MAX_TIME"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Stopping.MaxTime = d
		}
	}
	if v := os.Getenv("PETREL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PETREL_SUBPROCESS"); v != "" {
		cfg.Subprocess = v == "1" || strings.EqualFold(v, "true")
	}
}

// Validate rejects option combinations the engine cannot honor.
func (c *Config) Validate() error {
	switch c.Algorithm {
	case AlgorithmDynaMOSA, AlgorithmMOSA, AlgorithmMIO,
		AlgorithmWholeSuite, AlgorithmRandom, AlgorithmRandomSearch:
	default:
		return &ConfigError{Field: "algorithm", Reason: fmt.Sprintf("unknown algorithm %q", c.Algorithm)}
	}
	if len(c.CoverageMetrics) == 0 {
		return &ConfigError{Field: "coverage_metrics", Reason: "at least one metric required"}
	}
	for _, m := range c.CoverageMetrics {
		switch m {
		case MetricBranch, MetricLine, MetricChecked:
		default:
			return &ConfigError{Field: "coverage_metrics", Reason: fmt.Sprintf("unknown metric %q", m)}
		}
	}
	if c.PopulationSize <= 0 {
		return &ConfigError{Field: "population_size", Reason: "must be positive"}
	}
	if c.MaxTestLength <= 0 {
		return &ConfigError{Field: "max_test_length", Reason: "must be positive"}
	}
	sum := c.MutationProbs.Insert + c.MutationProbs.Change + c.MutationProbs.Delete
	if sum > 1.0+1e-9 {
		return &ConfigError{Field: "mutation_probabilities", Reason: "probabilities sum above 1"}
	}
	if c.CrossoverProb < 0 || c.CrossoverProb > 1 {
		return &ConfigError{Field: "crossover_probability", Reason: "outside [0,1]"}
	}
	switch c.Selection {
	case SelectionRank, SelectionTournament:
	default:
		return &ConfigError{Field: "selection", Reason: fmt.Sprintf("unknown selection %q", c.Selection)}
	}
	if c.Selection == SelectionTournament && c.TournamentSize < 2 {
		return &ConfigError{Field: "tournament_size", Reason: "tournament needs at least 2 contestants"}
	}
	switch c.AssertionStrategy {
	case AssertionsSimple, AssertionsMutation, AssertionsNone:
	default:
		return &ConfigError{Field: "assertion_strategy", Reason: fmt.Sprintf("unknown strategy %q", c.AssertionStrategy)}
	}
	if c.Stopping.MaxTime <= 0 && c.Stopping.MaxIterations <= 0 &&
		c.Stopping.MaxStatementExecs <= 0 && c.Stopping.MaxTestExecs <= 0 &&
		c.Stopping.MaxCoverage <= 0 && c.Stopping.CoveragePlateau <= 0 &&
		c.Stopping.MaxMemoryMB <= 0 {
		return &ConfigError{Field: "stopping", Reason: "no stopping condition configured"}
	}
	if c.Timeouts.PerStatement <= 0 || c.Timeouts.PerTest <= 0 {
		return &ConfigError{Field: "timeouts", Reason: "per-statement and per-test timeouts must be positive"}
	}
	if c.LLMSeed.Enabled && c.LLMSeed.Model == "" {
		return &ConfigError{Field: "llm_seed", Reason: "model required when llm seeding is enabled"}
	}
	return nil
}
