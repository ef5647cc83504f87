// Package probe implements the single probe iteration each VU loops over:
// one GET, the configured checks, then a random think-time sleep.
package probe

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/torosent/stagefire/internal/check"
	"github.com/torosent/stagefire/internal/httpclient"
	"github.com/torosent/stagefire/internal/metrics"
	"github.com/torosent/stagefire/internal/runner"
	"github.com/torosent/stagefire/internal/tracing"
)

const errorBodySnippet = 256

// Recorder receives the samples of each iteration. *metrics.Collector implements it.
type Recorder interface {
	RecordRequest(latency time.Duration, err error, meta *metrics.RequestMetadata)
	RecordCheck(name string, passed bool)
	RecordIteration(d time.Duration)
	RecordInterrupted()
}

// Doer sends HTTP requests. *http.Client implements it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config wires a Prober.
type Config struct {
	Client    Doer                       // required
	Builder   *httpclient.RequestBuilder // required
	Recorder  Recorder                   // required
	Checks    check.Set                  // defaults to check.Defaults(200ms)
	Think     *Jitter                    // nil draws from [1s, 3s)
	Tracer    trace.Tracer               // optional
	BodyLimit int64                      // bytes of body kept for checks
}

// Prober runs one probe iteration per Do call and implements runner.Requester.
type Prober struct {
	client    Doer
	builder   *httpclient.RequestBuilder
	recorder  Recorder
	checks    check.Set
	think     *Jitter
	tracer    trace.Tracer
	bodyLimit int64
}

var _ runner.Requester = (*Prober)(nil)

func New(cfg Config) (*Prober, error) {
	if cfg.Client == nil {
		return nil, errors.New("probe: client is required")
	}
	if cfg.Builder == nil {
		return nil, errors.New("probe: request builder is required")
	}
	if cfg.Recorder == nil {
		return nil, errors.New("probe: recorder is required")
	}
	checks := cfg.Checks
	if len(checks) == 0 {
		checks = check.Defaults(200 * time.Millisecond)
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("stagefire")
	}
	return &Prober{
		client:    cfg.Client,
		builder:   cfg.Builder,
		recorder:  cfg.Recorder,
		checks:    checks,
		think:     cfg.Think,
		tracer:    tracer,
		bodyLimit: cfg.BodyLimit,
	}, nil
}

// Checks returns the checks evaluated on every response.
func (p *Prober) Checks() check.Set {
	return p.checks
}

// Do issues one GET, records its latency and status, evaluates the checks and
// sleeps for the think time. A request that fails because ctx was cancelled is
// reported as interrupted, not as a failure.
func (p *Prober) Do(ctx context.Context) error {
	start := time.Now()

	interrupted, reqErr := p.request(ctx)
	if interrupted {
		p.recorder.RecordInterrupted()
		return ctx.Err()
	}

	if err := p.sleep(ctx); err != nil {
		p.recorder.RecordInterrupted()
		return err
	}

	p.recorder.RecordIteration(time.Since(start))
	return reqErr
}

func (p *Prober) request(ctx context.Context) (interrupted bool, err error) {
	info, _ := runner.VUFromContext(ctx)
	ctx, span := tracing.StartIterationSpan(ctx, p.tracer, p.builder.Target(), info.ID, info.Iteration)

	req, err := p.builder.Build(ctx)
	if err != nil {
		if ctx.Err() != nil {
			tracing.EndSpan(span, ctx.Err())
			return true, nil
		}
		tracing.EndSpan(span, err)
		return false, err
	}

	sent := time.Now()
	resp, err := p.client.Do(req)
	var (
		status int
		body   httpclient.Body
	)
	if err == nil {
		status = resp.StatusCode
		body, err = httpclient.ReadBody(resp, p.checks.NeedsBody(), p.bodyLimit)
	}
	latency := time.Since(sent)

	if err != nil && ctx.Err() != nil {
		tracing.EndSpan(span, ctx.Err())
		return true, nil
	}

	failure := err
	if failure == nil && status >= http.StatusBadRequest {
		failure = &runner.HTTPError{StatusCode: status, Body: snippet(body.Data)}
	}

	p.recorder.RecordRequest(latency, failure, &metrics.RequestMetadata{
		Status:        status,
		BytesReceived: body.Size,
	})

	outcomes := p.checks.Evaluate(check.Response{
		Status:   status,
		Duration: latency,
		Body:     body.Data,
		Err:      err,
	})
	for _, o := range outcomes {
		p.recorder.RecordCheck(o.Name, o.Passed)
	}

	tracing.EndSpan(span, failure, attribute.Int("http.response.status_code", status))
	return false, failure
}

func (p *Prober) sleep(ctx context.Context) error {
	var d time.Duration
	if p.think != nil {
		d = p.think.Next()
	} else {
		d = RandomDelay(DefaultSleepMin, DefaultSleepMax)
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > errorBodySnippet {
		s = s[:errorBodySnippet]
	}
	return s
}
