package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/petrel-dev/petrel/core"
	"github.com/petrel-dev/petrel/generator"
	"github.com/petrel-dev/petrel/pkg/logging"
	"github.com/petrel-dev/petrel/pkg/metrics"
	"github.com/petrel-dev/petrel/pkg/tracing"
	"github.com/petrel-dev/petrel/worker"
)

func main() {
	if os.Getenv(worker.WorkerEnvFlag) != "" {
		os.Exit(runWorker())
	}
	os.Exit(run())
}

func run() int {
	var (
		configPath  = flag.String("config", "", "YAML configuration document")
		projectRoot = flag.String("project", ".", "project root containing the target module")
		moduleName  = flag.String("module", "", "module identifier under test")
		outputDir   = flag.String("out", "petrel-tests", "output directory for suites and statistics")
		metricsAddr = flag.String("metrics", "", "optional address serving /metrics and /debug/vars")
		jaeger      = flag.String("jaeger", "", "optional Jaeger collector endpoint")
	)
	flag.Parse()

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return core.ExitConfig
	}
	if *projectRoot != "" {
		cfg.ProjectRoot = *projectRoot
	}
	if *moduleName != "" {
		cfg.ModuleName = *moduleName
	}
	if *outputDir != "" {
		cfg.OutputDir = *outputDir
	}
	if cfg.ModuleName == "" {
		fmt.Fprintln(os.Stderr, "config: module_name: a target module is required")
		return core.ExitConfig
	}

	log, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: "console", Output: "stderr"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return core.ExitConfig
	}
	tracer, err := tracing.NewTracer(tracing.Config{
		ServiceName:    "petrel",
		ServiceVersion: "1.0.0",
		JaegerEndpoint: *jaeger,
		Environment:    "cli",
	})
	if err != nil {
		log.Warn("tracing disabled", "error", err)
		tracer, _ = tracing.NewTracer(tracing.Config{})
	}
	defer func() { _ = tracer.Shutdown(context.Background()) }()

	m := metrics.New()
	group, ctx := errgroup.WithContext(context.Background())
	var srv *http.Server
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.Handle("/debug/vars", http.DefaultServeMux)
		srv = &http.Server{Addr: *metricsAddr, Handler: mux}
		group.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	gen := &generator.Generator{Cfg: cfg, Log: log, Metrics: m, Tracer: tracer}
	result, runErr := gen.Run(ctx)
	if srv != nil {
		_ = srv.Shutdown(context.Background())
	}
	if err := group.Wait(); err != nil {
		log.Warn("metrics listener stopped", "error", err)
	}
	if runErr != nil {
		log.Error("run failed", "error", runErr)
		if result != nil {
			return result.ExitCode
		}
		return core.ExitSetup
	}
	return result.ExitCode
}
