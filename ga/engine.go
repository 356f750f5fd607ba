package ga

import (
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/petrel-dev/petrel/core"
	"github.com/petrel-dev/petrel/stopping"
	"github.com/petrel-dev/petrel/testcase"
	"github.com/petrel-dev/petrel/worker"
)

// Result is the outcome of one search run.
type Result struct {
	Suite      []*testcase.TestCase
	Iterations int
	Coverage   float64
	Covered    int
	Total      int
	WallTime   time.Duration
	StoppedBy  string
}

// Engine bundles the collaborators shared by every algorithm.
type Engine struct {
	Cfg       *core.Config
	Rand      *core.Source
	Factory   *testcase.Factory
	Mutator   *testcase.Mutator
	Crossover *testcase.Crossover
	Eval      *Evaluator
	Archive   *Archive
	Stop      *stopping.Composite
	Selector  Selector
	Log       *zap.Logger
	Telemetry *Telemetry
	Observers []core.IterationObserver

	// GoalManager activates goals dynamically; nil outside DynaMOSA.
	GoalManager *GoalManager

	// Seeds are externally proposed initial tests (seed file, LLM).
	Seeds []*testcase.TestCase

	started     time.Time
	iteration   int
	sinceGrowth int
	lastCovered int
}

// Algorithm runs one search to completion.
type Algorithm interface {
	Name() string
	Run() *Result
}

// NewAlgorithm instantiates the configured algorithm over the engine.
func NewAlgorithm(e *Engine) Algorithm {
	switch e.Cfg.Algorithm {
	case core.AlgorithmDynaMOSA:
		return &MOSA{Engine: e, dynamic: true}
	case core.AlgorithmMOSA:
		return &MOSA{Engine: e}
	case core.AlgorithmMIO:
		return &MIO{Engine: e}
	case core.AlgorithmWholeSuite:
		return &WholeSuite{Engine: e}
	case core.AlgorithmRandom:
		return &FeedbackRandom{Engine: e}
	default:
		return &RandomSearch{Engine: e}
	}
}

// runState adapts the engine to the stopping.Stats snapshot.
type runState struct{ e *Engine }

func (s runState) Elapsed() time.Duration { return time.Since(s.e.started) }
func (s runState) Iterations() int        { return s.e.iteration }

func (s runState) StatementExecutions() int64 {
	if counter, ok := s.e.Eval.Exec.(worker.Counter); ok {
		_, stmts, _ := counter.Counts()
		return stmts
	}
	return 0
}

func (s runState) TestExecutions() int64 {
	if counter, ok := s.e.Eval.Exec.(worker.Counter); ok {
		tests, _, _ := counter.Counts()
		return tests
	}
	return 0
}

func (s runState) Coverage() float64 { return s.e.Archive.Coverage() }

func (s runState) IterationsSinceArchiveGrowth() int { return s.e.sinceGrowth }

func (s runState) MemoryMB() int {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return int(m.HeapAlloc / (1024 * 1024))
}

// begin initializes run-shared counters.
func (e *Engine) begin() {
	e.started = time.Now()
	e.iteration = 0
	e.sinceGrowth = 0
	e.lastCovered = 0
}

// shouldStop evaluates the composite at the top of an iteration.
func (e *Engine) shouldStop() (bool, string) {
	return e.Stop.Fired(runState{e})
}

// afterIteration updates plateau accounting, telemetry and observers.
// The plateau counts covered-set growth; replacing an incumbent with a
// shorter test is not growth.
func (e *Engine) afterIteration(improved bool) {
	e.iteration++
	if covered := e.Archive.CoveredCount(); covered > e.lastCovered {
		e.lastCovered = covered
		e.sinceGrowth = 0
	} else {
		e.sinceGrowth++
	}
	var tests int64
	if counter, ok := e.Eval.Exec.(worker.Counter); ok {
		tests, _, _ = counter.Counts()
	}
	e.Telemetry.RecordIteration(e.Archive.CoveredCount(), e.Archive.TotalCount(), len(e.Archive.covered), tests)
	ev := core.IterationEvent{
		Iteration:    e.iteration,
		CoveredGoals: e.Archive.CoveredCount(),
		TotalGoals:   e.Archive.TotalCount(),
		ArchiveSize:  len(e.Archive.covered),
		Elapsed:      time.Since(e.started),
	}
	for _, obs := range e.Observers {
		obs.OnIteration(ev)
	}
	if e.Log != nil && improved {
		e.Log.Debug("archive grew",
			zap.Int("iteration", e.iteration),
			zap.Int("covered", e.Archive.CoveredCount()),
			zap.Int("total", e.Archive.TotalCount()),
		)
	}
}

// result snapshots the final run outcome.
func (e *Engine) result(stoppedBy string) *Result {
	return &Result{
		Suite:      e.Archive.Solutions(),
		Iterations: e.iteration,
		Coverage:   e.Archive.Coverage(),
		Covered:    e.Archive.CoveredCount(),
		Total:      e.Archive.TotalCount(),
		WallTime:   time.Since(e.started),
		StoppedBy:  stoppedBy,
	}
}

// initialPopulation builds and evaluates the starting population,
// optionally seeded with externally proposed tests.
func (e *Engine) initialPopulation(seeds []*testcase.TestCase) []*Chromosome {
	pop := make([]*Chromosome, 0, e.Cfg.PopulationSize)
	for _, s := range seeds {
		if len(pop) >= e.Cfg.PopulationSize {
			break
		}
		pop = append(pop, NewChromosome(s))
	}
	for len(pop) < e.Cfg.PopulationSize {
		size := 1 + e.Rand.Intn(maxInt(1, e.Cfg.MaxTestLength/4))
		pop = append(pop, NewChromosome(e.Factory.RandomTestCase(size)))
	}
	for _, c := range pop {
		e.Eval.Evaluate(c)
		e.Archive.Update(c)
	}
	// Initial coverage is the plateau baseline, not growth.
	e.lastCovered = e.Archive.CoveredCount()
	return pop
}

// breedOffspring applies selection, crossover and mutation to produce
// the next generation's candidates.
func (e *Engine) breedOffspring(ranked []*Chromosome) []*Chromosome {
	var offspring []*Chromosome
	for len(offspring) < e.Cfg.PopulationSize {
		p1 := e.Selector.Select(ranked)
		p2 := e.Selector.Select(ranked)
		if p1 == nil || p2 == nil {
			break
		}
		var o1, o2 *Chromosome
		if e.Rand.Chance(e.Cfg.CrossoverProb) {
			t1, t2 := e.Crossover.Apply(p1.Test, p2.Test)
			o1, o2 = NewChromosome(t1), NewChromosome(t2)
		} else {
			o1, o2 = p1.Clone(), p2.Clone()
		}
		if e.Mutator.Mutate(o1.Test) {
			o1.Invalidate()
		}
		if e.Mutator.Mutate(o2.Test) {
			o2.Invalidate()
		}
		offspring = append(offspring, o1, o2)
	}
	if len(offspring) > e.Cfg.PopulationSize {
		offspring = offspring[:e.Cfg.PopulationSize]
	}
	return offspring
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
