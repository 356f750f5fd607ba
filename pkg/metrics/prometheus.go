// Package metrics exposes generation-run counters through Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GenerationMetrics holds the Prometheus collectors of the generator.
type GenerationMetrics struct {
	RunsTotal        *prometheus.CounterVec
	IterationsTotal  prometheus.Counter
	TestsExecuted    prometheus.Counter
	TestTimeouts     prometheus.Counter
	ExecutionSeconds prometheus.Histogram

	GoalsCovered prometheus.Gauge
	GoalsTotal   prometheus.Gauge
	ArchiveSize  prometheus.Gauge
	Coverage     prometheus.Gauge

	MutantsCreated prometheus.Counter
	MutantsKilled  prometheus.Counter
	MutationScore  prometheus.Gauge

	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
}

// New registers and returns the generation metrics.
func New() *GenerationMetrics {
	return &GenerationMetrics{
		RunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "petrel_runs_total",
				Help: "Total generation runs by algorithm and outcome",
			},
			[]string{"algorithm", "outcome"},
		),
		IterationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "petrel_iterations_total",
			Help: "Total search iterations",
		}),
		TestsExecuted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "petrel_tests_executed_total",
			Help: "Total test-case executions against the target",
		}),
		TestTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "petrel_test_timeouts_total",
			Help: "Total test executions aborted by timeout",
		}),
		ExecutionSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "petrel_execution_seconds",
			Help:    "Wall-clock duration of single test executions",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		GoalsCovered: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "petrel_goals_covered",
			Help: "Covered coverage goals",
		}),
		GoalsTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "petrel_goals_total",
			Help: "Known coverage goals",
		}),
		ArchiveSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "petrel_archive_size",
			Help: "Archived covering tests",
		}),
		Coverage: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "petrel_coverage",
			Help: "Covered share of all goals",
		}),
		MutantsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "petrel_mutants_created_total",
			Help: "Mutant modules created for assertion filtering",
		}),
		MutantsKilled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "petrel_mutants_killed_total",
			Help: "Mutants killed by the assertion-enriched suite",
		}),
		MutationScore: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "petrel_mutation_score",
			Help: "killed / (created - timed out) of the last run",
		}),
		CacheHitsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "petrel_fitness_cache_hits_total",
			Help: "Fitness computation cache hits",
		}),
		CacheMissesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "petrel_fitness_cache_misses_total",
			Help: "Fitness computation cache misses",
		}),
	}
}

// RecordRun counts a finished run.
func (m *GenerationMetrics) RecordRun(algorithm, outcome string) {
	m.RunsTotal.WithLabelValues(algorithm, outcome).Inc()
}

// RecordIteration updates the per-iteration gauges.
func (m *GenerationMetrics) RecordIteration(covered, total, archive int) {
	m.IterationsTotal.Inc()
	m.GoalsCovered.Set(float64(covered))
	m.GoalsTotal.Set(float64(total))
	m.ArchiveSize.Set(float64(archive))
	if total > 0 {
		m.Coverage.Set(float64(covered) / float64(total))
	}
}

// RecordExecution counts one test execution.
func (m *GenerationMetrics) RecordExecution(d time.Duration, timedOut bool) {
	m.TestsExecuted.Inc()
	m.ExecutionSeconds.Observe(d.Seconds())
	if timedOut {
		m.TestTimeouts.Inc()
	}
}

// RecordMutation updates mutation-analysis counters.
func (m *GenerationMetrics) RecordMutation(created, killed int, score float64) {
	m.MutantsCreated.Add(float64(created))
	m.MutantsKilled.Add(float64(killed))
	m.MutationScore.Set(score)
}

// RecordCache folds computation-cache counters in.
func (m *GenerationMetrics) RecordCache(hits, misses int64) {
	m.CacheHitsTotal.Add(float64(hits))
	m.CacheMissesTotal.Add(float64(misses))
}
