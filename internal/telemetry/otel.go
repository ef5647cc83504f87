// Package telemetry exports live probe metrics to OpenTelemetry collectors and
// Prometheus scrapers while a run is in progress.
package telemetry

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/torosent/stagefire/internal/config"
	"github.com/torosent/stagefire/internal/metrics"
)

const meterName = "stagefire"

// OTelSink forwards collector samples to an OpenTelemetry MeterProvider.
type OTelSink struct {
	provider *sdkmetric.MeterProvider
	meter    metric.Meter

	latency  metric.Float64Histogram
	requests metric.Int64Counter
	failed   metric.Int64Counter
	checks   metric.Int64Counter
	vusGauge metric.Int64ObservableGauge
	vusReg   metric.Registration

	vus atomic.Int64
}

var _ metrics.Sink = (*OTelSink)(nil)

// NewOTelSink builds a MeterProvider with a periodic reader exporting through
// the protocol named in cfg ("grpc", "http" or "stdout").
func NewOTelSink(ctx context.Context, cfg config.TelemetryConfig, serviceName string) (*OTelSink, error) {
	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	if serviceName == "" {
		serviceName = meterName
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics resource: %w", err)
	}

	var readerOpts []sdkmetric.PeriodicReaderOption
	if cfg.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.Interval))
	}
	return newOTelSink(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)
}

func newOTelSink(opts ...sdkmetric.Option) (*OTelSink, error) {
	mp := sdkmetric.NewMeterProvider(opts...)
	s := &OTelSink{
		provider: mp,
		meter:    mp.Meter(meterName),
	}
	if err := s.registerInstruments(); err != nil {
		_ = mp.Shutdown(context.Background())
		return nil, err
	}
	return s, nil
}

func newExporter(ctx context.Context, cfg config.TelemetryConfig) (sdkmetric.Exporter, error) {
	switch strings.ToLower(cfg.Protocol) {
	case "stdout":
		return stdoutmetric.New()

	case "", "grpc":
		opts := []otlpmetricgrpc.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)

	case "http":
		opts := []otlpmetrichttp.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unknown exporter protocol: %s", cfg.Protocol)
	}
}

func (s *OTelSink) registerInstruments() error {
	var err error

	s.latency, err = s.meter.Float64Histogram(
		"stagefire.http_req_duration",
		metric.WithDescription("Duration of probe requests"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("failed to create request duration histogram: %w", err)
	}

	s.requests, err = s.meter.Int64Counter(
		"stagefire.http_reqs",
		metric.WithDescription("Count of probe requests by status code"),
	)
	if err != nil {
		return fmt.Errorf("failed to create request counter: %w", err)
	}

	s.failed, err = s.meter.Int64Counter(
		"stagefire.http_req_failed",
		metric.WithDescription("Count of failed probe requests"),
	)
	if err != nil {
		return fmt.Errorf("failed to create failure counter: %w", err)
	}

	s.checks, err = s.meter.Int64Counter(
		"stagefire.checks",
		metric.WithDescription("Count of check evaluations by check and outcome"),
	)
	if err != nil {
		return fmt.Errorf("failed to create check counter: %w", err)
	}

	s.vusGauge, err = s.meter.Int64ObservableGauge(
		"stagefire.vus",
		metric.WithDescription("Number of active virtual users"),
	)
	if err != nil {
		return fmt.Errorf("failed to create vus gauge: %w", err)
	}

	s.vusReg, err = s.meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(s.vusGauge, s.vus.Load())
			return nil
		},
		s.vusGauge,
	)
	if err != nil {
		return fmt.Errorf("failed to register vus gauge callback: %w", err)
	}

	return nil
}

func (s *OTelSink) ObserveRequest(latency time.Duration, status int, failed bool) {
	ctx := context.Background()
	statusAttr := metric.WithAttributes(attribute.String("status", statusLabel(status)))
	s.latency.Record(ctx, float64(latency)/float64(time.Millisecond), statusAttr)
	s.requests.Add(ctx, 1, statusAttr)
	if failed {
		s.failed.Add(ctx, 1)
	}
}

func (s *OTelSink) ObserveCheck(name string, passed bool) {
	s.checks.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("check", name),
		attribute.Bool("passed", passed),
	))
}

func (s *OTelSink) ObserveVUs(active int) {
	s.vus.Store(int64(active))
}

// Shutdown flushes pending metrics and stops the exporter.
func (s *OTelSink) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if s.vusReg != nil {
		if err := s.vusReg.Unregister(); err != nil {
			return fmt.Errorf("failed to unregister vus callback: %w", err)
		}
	}
	return s.provider.Shutdown(ctx)
}

func statusLabel(status int) string {
	if status <= 0 {
		return "none"
	}
	return strconv.Itoa(status)
}
