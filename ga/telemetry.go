package ga

import (
	"expvar"
	"sync"
)

// Telemetry publishes search counters through expvar, mirroring what
// verbose logging prints per iteration.
type Telemetry struct {
	mu sync.Mutex

	IterationsTotal *expvar.Int
	TestsExecuted   *expvar.Int
	GoalsCovered    *expvar.Int
	GoalsTotal      *expvar.Int
	ArchiveSize     *expvar.Int
	Coverage        *expvar.Float
}

var (
	telemetryOnce sync.Once
	telemetry     *Telemetry
)

// NewTelemetry returns the process-wide telemetry instance. expvar
// names are process-global, so the instance is shared.
func NewTelemetry() *Telemetry {
	telemetryOnce.Do(func() {
		telemetry = &Telemetry{
			IterationsTotal: expvar.NewInt("search_iterations_total"),
			TestsExecuted:   expvar.NewInt("search_tests_executed"),
			GoalsCovered:    expvar.NewInt("search_goals_covered"),
			GoalsTotal:      expvar.NewInt("search_goals_total"),
			ArchiveSize:     expvar.NewInt("search_archive_size"),
			Coverage:        expvar.NewFloat("search_coverage"),
		}
	})
	return telemetry
}

// RecordIteration updates the counters after one iteration.
func (t *Telemetry) RecordIteration(covered, total, archiveSize int, testsExecuted int64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.IterationsTotal.Add(1)
	t.TestsExecuted.Set(testsExecuted)
	t.GoalsCovered.Set(int64(covered))
	t.GoalsTotal.Set(int64(total))
	t.ArchiveSize.Set(int64(archiveSize))
	if total > 0 {
		t.Coverage.Set(float64(covered) / float64(total))
	}
}
