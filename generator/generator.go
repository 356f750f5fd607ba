// Package generator is the composition root: it instruments the target
// module, builds the cluster, runs the configured search algorithm,
// attaches assertions and emits the final suite with its statistics
// row.
package generator

import (
	"context"
	"math"
	"os"
	"path/filepath"

	"github.com/petrel-dev/petrel/assertion"
	"github.com/petrel-dev/petrel/cluster"
	"github.com/petrel-dev/petrel/core"
	"github.com/petrel-dev/petrel/coverage"
	"github.com/petrel-dev/petrel/ga"
	"github.com/petrel-dev/petrel/instrument"
	"github.com/petrel-dev/petrel/lang"
	"github.com/petrel-dev/petrel/lang/bytecode"
	"github.com/petrel-dev/petrel/llmseed"
	"github.com/petrel-dev/petrel/pkg/logging"
	"github.com/petrel-dev/petrel/pkg/metrics"
	"github.com/petrel-dev/petrel/pkg/tracing"
	"github.com/petrel-dev/petrel/seeding"
	"github.com/petrel-dev/petrel/stats"
	"github.com/petrel-dev/petrel/stopping"
	"github.com/petrel-dev/petrel/testcase"
	"github.com/petrel-dev/petrel/trace"
	"github.com/petrel-dev/petrel/worker"
)

// Emitter hands the structured suite to the external unparser.
type Emitter interface {
	Emit(outputDir string, module string, suite []*testcase.TestCase) error
}

// RunResult is the outcome of a full generation run.
type RunResult struct {
	ExitCode      int
	Suite         []*testcase.TestCase
	Coverage      float64
	Iterations    int
	MutationScore float64
	RunID         string
}

// Generator owns the collaborators of one run.
type Generator struct {
	Cfg     *core.Config
	Log     *logging.Logger
	Metrics *metrics.GenerationMetrics
	Tracer  *tracing.Tracer
	Finder  instrument.Finder // nil = DirFinder over ProjectRoot
	Emitter Emitter           // nil = structured JSON emitter
	LLM     llmseed.Client    // nil = disabled unless configured
}

// Run executes the whole pipeline and returns the run outcome. Only
// setup problems surface as errors; per-test failures are survived
// inside the loop.
func (g *Generator) Run(ctx context.Context) (*RunResult, error) {
	if os.Getenv(core.ConsentEnvVar) == "" {
		g.Log.Error("refusing to load target code", "reason", core.ConsentEnvVar+" is not set")
		return &RunResult{ExitCode: core.ExitNoIsolation}, nil
	}
	runID := stats.NewRunID()
	log := g.Log.With(map[string]any{"run_id": runID})
	rng := core.NewSource(g.Cfg.Seed)
	log.Info("run starting",
		"module", g.Cfg.ModuleName,
		"algorithm", string(g.Cfg.Algorithm),
		"seed", rng.Seed(),
	)

	// Instrumentation.
	ctx, span := g.Tracer.StartPhase(ctx, "instrument", g.Cfg.ModuleName)
	isa, err := bytecode.ForVersion(bytecode.CurrentVersion)
	if err != nil {
		return &RunResult{ExitCode: core.ExitSetup}, err
	}
	registry := trace.NewRegistry()
	pool := seeding.NewPool()
	if g.Cfg.SeedFile != "" {
		if err := seeding.LoadSeedFile(g.Cfg.SeedFile, pool); err != nil {
			log.Warn("seed file unusable", "error", err)
		}
	}
	chain, err := instrument.NewChain(isa, registry,
		instrument.NewBranchAdapter(registry),
		instrument.NewLineAdapter(registry, nil),
		instrument.NewCheckedAdapter(),
		instrument.NewSeedingAdapter(),
		instrument.NewUnwrapAdapter(),
	)
	if err != nil {
		span.End()
		return &RunResult{ExitCode: core.ExitSetup}, err
	}
	finder := g.Finder
	if finder == nil {
		finder = instrument.DirFinder{Root: g.Cfg.ProjectRoot}
	}
	loader, err := instrument.NewLoader(isa, finder, chain, g.Cfg.ExcludeModules)
	if err != nil {
		span.End()
		return &RunResult{ExitCode: core.ExitSetup}, err
	}

	tracer := trace.NewTracer(registry, pool)
	hook := trace.NewProxy(tracer)
	for _, m := range g.Cfg.CoverageMetrics {
		if m == core.MetricChecked {
			tracer.SetRecordInstructions(true)
		}
	}

	tracer.Begin() // module import runs under tracing too
	module, err := loader.Load(g.Cfg.ModuleName, hook)
	tracer.End()
	if err != nil {
		tracing.RecordSpanError(span, err)
		span.End()
		return &RunResult{ExitCode: core.ExitSetup}, err
	}
	span.End()

	// Cluster construction needs the annotated declarations.
	src, err := finder.Find(g.Cfg.ModuleName)
	if err != nil {
		return &RunResult{ExitCode: core.ExitSetup}, err
	}
	ast, _, err := lang.Parse(g.Cfg.ModuleName, src)
	if err != nil {
		return &RunResult{ExitCode: core.ExitSetup}, err
	}
	cl := cluster.Build(ast, module, g.Cfg.IncludeMethods, g.Cfg.ExcludeMethods)
	if len(cl.UnderTest()) == 0 {
		log.Error("no callables under test", "module", g.Cfg.ModuleName)
		return &RunResult{ExitCode: core.ExitSetup}, nil
	}
	log.Info("cluster built", "callables", len(cl.Callables()))

	// Execution services.
	budget := g.Cfg.ExecutionBudget()
	executor := worker.NewExecutor(cl, tracer, hook, budget)
	var service worker.Service = executor
	var subprocess *worker.SubprocessService
	if g.Cfg.Subprocess {
		subprocess = worker.NewSubprocessService(g.Cfg, log.Zap())
		defer subprocess.Close()
		service = subprocess
	}

	// Search machinery.
	goals := coverage.GoalsFor(g.Cfg.CoverageMetrics, registry)
	computer := coverage.NewComputer(registry)
	cache, err := coverage.NewCache(0)
	if err != nil {
		return &RunResult{ExitCode: core.ExitSetup}, err
	}
	factory := testcase.NewFactory(cl, rng, pool, g.Cfg.SeedPools, g.Cfg.MaxTestLength)
	engine := &ga.Engine{
		Cfg:       g.Cfg,
		Rand:      rng,
		Factory:   factory,
		Mutator:   testcase.NewMutator(factory, g.Cfg.MutationProbs),
		Crossover: testcase.NewCrossover(rng),
		Stop:      stopping.FromConfig(g.Cfg.Stopping),
		Selector:  ga.NewSelector(g.Cfg, rng),
		Log:       log.Zap(),
		Telemetry: ga.NewTelemetry(),
		Observers: []core.IterationObserver{&metricsObserver{m: g.Metrics}},
	}
	if g.Cfg.Algorithm == core.AlgorithmDynaMOSA {
		engine.GoalManager = ga.NewGoalManager(registry, goals)
		active := engine.GoalManager.ActiveGoals()
		engine.Archive = ga.NewArchive(active)
		engine.Eval = ga.NewEvaluator(service, computer, cache, active)
	} else {
		engine.Archive = ga.NewArchive(goals)
		engine.Eval = ga.NewEvaluator(service, computer, cache, goals)
	}

	// Optional LLM seeds.
	if g.Cfg.LLMSeed.Enabled {
		client := g.LLM
		if client == nil {
			client = llmseed.NewOpenAIClient(os.Getenv("OPENAI_API_KEY"), g.Cfg.LLMSeed.Model, g.Cfg.LLMSeed.MaxTokens)
		}
		seeder := llmseed.NewSeeder(g.Cfg.LLMSeed, client, cl, factory, log.Zap())
		engine.Seeds = seeder.Seeds(ctx, g.Cfg.PopulationSize/2)
	}

	// Search.
	algorithm := ga.NewAlgorithm(engine)
	ctx, searchSpan := g.Tracer.StartSearchSpan(ctx, algorithm.Name(), len(goals))
	result := algorithm.Run()
	tracing.RecordSearchResult(searchSpan, result.Coverage, result.Iterations, result.WallTime)
	searchSpan.End()
	log.Info("search finished",
		"coverage", result.Coverage,
		"covered", result.Covered,
		"total", result.Total,
		"iterations", result.Iterations,
		"stopped_by", result.StoppedBy,
		"suite_size", len(result.Suite),
	)
	hits, misses := cache.Stats()
	g.Metrics.RecordCache(hits, misses)

	// Assertions.
	mutationScore := math.NaN()
	if g.Cfg.AssertionStrategy != core.AssertionsNone && len(result.Suite) > 0 {
		ctx, assertSpan := g.Tracer.StartPhase(ctx, "assertions", g.Cfg.ModuleName)
		_ = ctx
		gen := &assertion.Generator{Cfg: g.Cfg, Log: log.Zap(), Exec: executor}
		if g.Cfg.AssertionStrategy == core.AssertionsMutation {
			gen.Analyzer = &assertion.Analyzer{
				Cfg:     g.Cfg,
				Log:     log.Zap(),
				AST:     ast,
				Cluster: cl,
				Budget:  budget,
			}
		}
		report := gen.Generate(result.Suite)
		if !math.IsNaN(report.MutationScore) {
			mutationScore = report.MutationScore
			g.Metrics.RecordMutation(report.MutantsCreated, report.MutantsKilled, report.MutationScore)
		}
		assertSpan.End()
	}

	// Emit suite, statistics and harvested seeds.
	emitter := g.Emitter
	if emitter == nil {
		emitter = JSONEmitter{}
	}
	if g.Cfg.OutputDir != "" {
		if err := os.MkdirAll(g.Cfg.OutputDir, 0o755); err != nil {
			return &RunResult{ExitCode: core.ExitSetup}, err
		}
		if err := emitter.Emit(g.Cfg.OutputDir, g.Cfg.ModuleName, result.Suite); err != nil {
			return &RunResult{ExitCode: core.ExitSetup}, err
		}
		var testsExecuted int64
		if counter, ok := service.(worker.Counter); ok {
			testsExecuted, _, _ = counter.Counts()
		}
		record := stats.Record{
			RunID:          runID,
			Algorithm:      string(g.Cfg.Algorithm),
			Module:         g.Cfg.ModuleName,
			Seed:           rng.Seed(),
			Coverage:       result.Coverage,
			CoveredGoals:   result.Covered,
			TotalGoals:     result.Total,
			ArchiveSize:    len(result.Suite),
			Iterations:     result.Iterations,
			TestsExecuted:  testsExecuted,
			MutationScore:  mutationScore,
			WallTime:       result.WallTime,
			StoppedBy:      result.StoppedBy,
			ConfigSnapshot: stats.ConfigSnapshot(g.Cfg),
		}
		if err := stats.Append(filepath.Join(g.Cfg.OutputDir, "statistics.csv"), record); err != nil {
			log.Warn("statistics row not written", "error", err)
		}
		if g.Cfg.SeedFile != "" {
			if err := seeding.AppendSeedFile(g.Cfg.SeedFile, pool); err != nil {
				log.Warn("seed file not updated", "error", err)
			}
		}
	}

	exit := core.ExitOK
	if result.Covered == 0 {
		exit = core.ExitNoCoverage
	}
	g.Metrics.RecordRun(string(g.Cfg.Algorithm), result.StoppedBy)
	return &RunResult{
		ExitCode:      exit,
		Suite:         result.Suite,
		Coverage:      result.Coverage,
		Iterations:    result.Iterations,
		MutationScore: mutationScore,
		RunID:         runID,
	}, nil
}

// metricsObserver bridges iteration events into Prometheus.
type metricsObserver struct {
	m *metrics.GenerationMetrics
}

func (o *metricsObserver) OnIteration(ev core.IterationEvent) {
	if o.m == nil {
		return
	}
	o.m.RecordIteration(ev.CoveredGoals, ev.TotalGoals, ev.ArchiveSize)
}
