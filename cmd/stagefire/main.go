package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/stagefire/internal/auth"
	"github.com/torosent/stagefire/internal/config"
	"github.com/torosent/stagefire/internal/dashboard"
	"github.com/torosent/stagefire/internal/history"
	"github.com/torosent/stagefire/internal/hoststats"
	"github.com/torosent/stagefire/internal/httpclient"
	"github.com/torosent/stagefire/internal/logging"
	"github.com/torosent/stagefire/internal/metrics"
	"github.com/torosent/stagefire/internal/output"
	"github.com/torosent/stagefire/internal/probe"
	"github.com/torosent/stagefire/internal/runner"
	"github.com/torosent/stagefire/internal/threshold"
	"github.com/torosent/stagefire/internal/tracing"
)

const (
	progressInterval = time.Second
	snapshotInterval = time.Second
	hostInterval     = time.Second
	shutdownTimeout  = 5 * time.Second

	// exitThresholdsFailed is the k6 exit code for failed thresholds.
	exitThresholdsFailed = 99
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var thErr *threshold.ThresholdError
	if errors.As(err, &thErr) {
		return exitThresholdsFailed
	}
	return 1
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, err := config.NewLoader().Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}

	if cfg.PrintConfig {
		data, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = stdout.Write(data)
		return err
	}
	if cfg.History.List > 0 {
		return listHistory(ctx, cfg.History, stdout)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.NewWithWriter(cfg.Log, stderr)
	if err != nil {
		return err
	}
	defer logger.Sync()
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}
	checks, err := buildChecks(cfg.Checks)
	if err != nil {
		return err
	}

	tp, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer shutdownWithTimeout(logger, "tracing", tp.Shutdown)

	sinks, stopTelemetry, err := startTelemetry(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stopTelemetry()

	collector := metrics.NewCollector(
		metrics.WithPercentiles(threshold.RequiredPercentiles(thresholds)...),
		metrics.WithSinks(sinks...),
	)

	builder, err := httpclient.NewRequestBuilder(cfg)
	if err != nil {
		return err
	}
	builder.WithPropagator(tp.Propagator())

	authProvider, err := auth.New(cfg.Auth)
	if err != nil {
		return err
	}
	if authProvider != nil {
		defer authProvider.Close()
		builder.WithAuth(authProvider)
		logger.Info("authenticating probe requests", zap.String("type", string(cfg.Auth.Type)))
	}

	prober, err := probe.New(probe.Config{
		Client:    httpclient.NewClient(cfg.Timeout),
		Builder:   builder,
		Recorder:  collector,
		Checks:    checks,
		Think:     probe.NewJitter(cfg.Sleep.Min, cfg.Sleep.Max, 0),
		Tracer:    tp.Tracer(),
		BodyLimit: httpclient.DefaultBodyLimit,
	})
	if err != nil {
		return err
	}

	r := runner.New(runner.Options{
		Stages:           toRunnerStages(cfg.EffectiveStages()),
		StartVUs:         cfg.EffectiveStartVUs(),
		RatePerSecond:    cfg.RPS,
		GracefulRampDown: cfg.GracefulRampDown,
		GracefulStop:     cfg.GracefulStop,
		Requester:        runner.WithLogging(prober, logger, cfg.Log.Errors),
		Logger:           logger,
		OnVUs:            collector.SetVUs,
	})

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	auxCtx, stopAux := context.WithCancel(ctx)
	var aux sync.WaitGroup

	var sampler *hoststats.Sampler
	if cfg.HostStats {
		sampler = hoststats.NewSampler(hostInterval, logger)
		aux.Add(1)
		go func() {
			defer aux.Done()
			sampler.Run(auxCtx)
		}()
	}
	aux.Add(1)
	go func() {
		defer aux.Done()
		snapshotLoop(auxCtx, collector)
	}()

	var dash *dashboard.Dashboard
	if cfg.Dashboard {
		var host dashboard.HostFunc
		if sampler != nil {
			host = sampler.Latest
		}
		dash, err = dashboard.New(collector, dashboardConfig(cfg, builder.Target()), r.TargetAt, host, stopRun)
		if err != nil {
			stopAux()
			return err
		}
		dash.Start()
	}

	var progress *output.ProgressReporter
	if !cfg.JSONOutput && !cfg.Dashboard {
		progress = output.NewProgressReporter(collector, r.TargetAt, progressInterval, stderr)
		progress.Start()
	}

	logger.Info("starting probe",
		zap.String("target", builder.Target()),
		zap.String("profile", cfg.Profile),
		zap.Int("stages", len(cfg.EffectiveStages())),
		zap.Int("max_vus", cfg.MaxVUs()),
		zap.Int("rps", cfg.RPS),
		zap.Duration("duration", r.TotalDuration()),
	)

	startedAt := time.Now()
	collector.Start()
	result := r.Run(runCtx)

	stopAux()
	aux.Wait()
	if progress != nil {
		progress.Stop()
	}
	if dash != nil {
		dash.Stop()
	}

	stats := collector.Stats(result.Duration)
	results := threshold.NewEvaluator(thresholds).Evaluate(stats)

	var host *hoststats.Summary
	if sampler != nil {
		summary := sampler.Summary()
		host = &summary
		if summary.Saturated {
			logger.Warn("load generator CPU was saturated during the run",
				zap.Float64("max_cpu_percent", summary.MaxCPUPercent))
		}
	}

	meta := output.ReportMetadata{
		RunID:     history.NewRunID(startedAt, nil),
		Profile:   cfg.Profile,
		TargetURL: builder.Target(),
		RPS:       cfg.RPS,
		Stages:    stageInfo(cfg.EffectiveStages()),
	}
	report := output.NewReport(meta, stats, results, host)

	if cfg.JSONOutput {
		if err := output.PrintJSONReport(stdout, report); err != nil {
			return err
		}
	} else {
		output.PrintReport(stdout, report)
	}

	if cfg.HTMLOutput != "" {
		if err := writeHTMLReport(cfg.HTMLOutput, report, collector.History()); err != nil {
			return err
		}
		logger.Info("wrote HTML report", zap.String("path", cfg.HTMLOutput))
	}

	if cfg.History.File != "" {
		hctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err := history.NewStore(cfg.History.File).Append(hctx, history.FromReport(report, startedAt))
		cancel()
		if err != nil {
			logger.Warn("failed to record run history", zap.Error(err))
		}
	}

	logger.Info("probe finished",
		zap.String("run_id", meta.RunID),
		zap.Int64("iterations", result.Iterations),
		zap.Int64("interrupted", result.Interrupted),
		zap.Int("max_vus", result.MaxVUs),
		zap.Duration("duration", result.Duration),
		zap.Bool("passed", report.Passed),
	)

	return threshold.Check(results)
}

func listHistory(ctx context.Context, cfg config.HistoryConfig, w io.Writer) error {
	if cfg.File == "" {
		return errors.New("--list-history requires --history-file")
	}
	entries, err := history.NewStore(cfg.File).Recent(ctx, cfg.List)
	if err != nil {
		return err
	}
	return history.PrintEntries(w, entries)
}

func snapshotLoop(ctx context.Context, collector *metrics.Collector) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			collector.Snapshot()
		}
	}
}

func writeHTMLReport(path string, report output.Report, points []metrics.DataPoint) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create HTML report file: %w", err)
	}
	if err := output.GenerateHTMLReport(f, report, points); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func shutdownWithTimeout(logger *zap.Logger, name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Warn("shutdown failed", zap.String("component", name), zap.Error(err))
	}
}
