package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/torosent/stagefire/internal/check"
	"github.com/torosent/stagefire/internal/config"
	"github.com/torosent/stagefire/internal/dashboard"
	"github.com/torosent/stagefire/internal/metrics"
	"github.com/torosent/stagefire/internal/output"
	"github.com/torosent/stagefire/internal/runner"
	"github.com/torosent/stagefire/internal/telemetry"
)

const defaultServiceName = "stagefire"

func buildChecks(cfgs []config.CheckConfig) (check.Set, error) {
	if len(cfgs) == 0 {
		return nil, nil
	}
	specs := make([]check.Spec, len(cfgs))
	for i, c := range cfgs {
		specs[i] = check.Spec{
			Name:     c.Name,
			Kind:     c.Type,
			Max:      c.Max,
			Status:   c.Status,
			Path:     c.Path,
			Equals:   c.Equals,
			Contains: c.Contains,
		}
	}
	set, err := check.FromSpecs(specs)
	if err != nil {
		return nil, fmt.Errorf("checks: %w", err)
	}
	return set, nil
}

// startTelemetry creates the configured metric sinks. The returned func flushes
// and stops them.
func startTelemetry(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]metrics.Sink, func(), error) {
	var (
		sinks   []metrics.Sink
		closers []func(context.Context) error
		names   []string
	)
	stop := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			shutdownWithTimeout(logger, names[i], closers[i])
		}
	}

	tcfg := cfg.Telemetry
	if tcfg.Endpoint != "" || tcfg.Protocol == "stdout" {
		serviceName := cfg.Tracing.ServiceName
		if serviceName == "" {
			serviceName = defaultServiceName
		}
		sink, err := telemetry.NewOTelSink(ctx, tcfg, serviceName)
		if err != nil {
			return nil, stop, fmt.Errorf("otlp metrics: %w", err)
		}
		sinks = append(sinks, sink)
		closers = append(closers, sink.Shutdown)
		names = append(names, "otlp metrics")
		logger.Info("exporting metrics over OTLP",
			zap.String("endpoint", tcfg.Endpoint),
			zap.String("protocol", tcfg.Protocol),
			zap.Duration("interval", tcfg.Interval))
	}

	if tcfg.MetricsAddr != "" {
		prom := telemetry.NewPrometheusSink()
		srv, err := telemetry.Serve(tcfg.MetricsAddr, prom.Handler(), logger)
		if err != nil {
			stop()
			return nil, func() {}, fmt.Errorf("prometheus endpoint: %w", err)
		}
		sinks = append(sinks, prom)
		closers = append(closers, srv.Shutdown)
		names = append(names, "prometheus endpoint")
		logger.Info("serving Prometheus metrics", zap.String("addr", srv.Addr()))
	}

	return sinks, stop, nil
}

func toRunnerStages(stages []config.Stage) []runner.Stage {
	out := make([]runner.Stage, len(stages))
	for i, s := range stages {
		out[i] = runner.Stage{Duration: s.Duration, Target: s.Target}
	}
	return out
}

func stageInfo(stages []config.Stage) []output.StageInfo {
	out := make([]output.StageInfo, len(stages))
	for i, s := range stages {
		out[i] = output.StageInfo{Duration: s.Duration.String(), Target: s.Target}
	}
	return out
}

func dashboardConfig(cfg *config.Config, target string) dashboard.RunConfig {
	stages := make([]dashboard.Stage, 0, len(cfg.EffectiveStages()))
	for _, s := range cfg.EffectiveStages() {
		stages = append(stages, dashboard.Stage{Duration: s.Duration, Target: s.Target})
	}
	return dashboard.RunConfig{
		TargetURL:  target,
		Profile:    cfg.Profile,
		RPS:        cfg.RPS,
		Timeout:    cfg.Timeout,
		Stages:     stages,
		ConfigFile: cfg.ConfigFile,
	}
}
