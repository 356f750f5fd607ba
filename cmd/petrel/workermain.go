package main

import (
	"fmt"
	"os"
	"time"

	"github.com/petrel-dev/petrel/cluster"
	"github.com/petrel-dev/petrel/core"
	"github.com/petrel-dev/petrel/instrument"
	"github.com/petrel-dev/petrel/lang"
	"github.com/petrel-dev/petrel/lang/bytecode"
	"github.com/petrel-dev/petrel/testcase"
	"github.com/petrel-dev/petrel/trace"
	"github.com/petrel-dev/petrel/worker"
)

// runWorker serves batches on stdin/stdout. The worker instruments the
// module exactly like the master, so identifier spaces line up.
func runWorker() int {
	loader := func(req worker.BatchRequest) (*worker.Executor, func(worker.TestCaseDTO) (*testcase.TestCase, error), error) {
		isa, err := bytecode.ForVersion(bytecode.CurrentVersion)
		if err != nil {
			return nil, nil, err
		}
		registry := trace.NewRegistry()
		chain, err := instrument.NewChain(isa, registry,
			instrument.NewBranchAdapter(registry),
			instrument.NewLineAdapter(registry, nil),
			instrument.NewCheckedAdapter(),
			instrument.NewSeedingAdapter(),
			instrument.NewUnwrapAdapter(),
		)
		if err != nil {
			return nil, nil, err
		}
		finder := instrument.DirFinder{Root: req.ProjectRoot}
		ld, err := instrument.NewLoader(isa, finder, chain, nil)
		if err != nil {
			return nil, nil, err
		}
		tracer := trace.NewTracer(registry, nil)
		for _, m := range req.Metrics {
			if m == string(core.MetricChecked) {
				// Checked coverage needs the raw instruction trace on
				// the master, so the worker records and ships it.
				tracer.SetRecordInstructions(true)
			}
		}
		tracer.Begin()
		module, err := ld.Load(req.Module, tracer)
		tracer.End()
		if err != nil {
			return nil, nil, err
		}
		src, err := finder.Find(req.Module)
		if err != nil {
			return nil, nil, err
		}
		ast, _, err := lang.Parse(req.Module, src)
		if err != nil {
			return nil, nil, err
		}
		cl := cluster.Build(ast, module, nil, nil)
		budget := core.Budget{
			PerStatement: time.Duration(req.PerStatementMS) * time.Millisecond,
			PerTest:      time.Duration(req.PerTestMS) * time.Millisecond,
			AbortGrace:   250 * time.Millisecond,
		}
		exec := worker.NewExecutor(cl, tracer, tracer, budget)
		decode := func(dto worker.TestCaseDTO) (*testcase.TestCase, error) {
			return worker.DecodeTestCase(dto, cl)
		}
		return exec, decode, nil
	}
	if err := worker.Serve(os.Stdin, os.Stdout, loader); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
