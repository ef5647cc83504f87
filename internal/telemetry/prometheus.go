package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/torosent/stagefire/internal/metrics"
)

// PrometheusSink exposes collector samples in the Prometheus exposition format.
type PrometheusSink struct {
	registry *prometheus.Registry
	duration *prometheus.HistogramVec
	requests *prometheus.CounterVec
	failed   prometheus.Counter
	checks   *prometheus.CounterVec
	vus      prometheus.Gauge
}

var _ metrics.Sink = (*PrometheusSink)(nil)

// NewPrometheusSink registers the probe metrics on a private registry, along
// with the Go runtime and process collectors.
func NewPrometheusSink() *PrometheusSink {
	s := &PrometheusSink{
		registry: prometheus.NewRegistry(),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stagefire",
			Name:      "http_req_duration_seconds",
			Help:      "Duration of probe requests.",
			Buckets:   []float64{.01, .025, .05, .1, .2, .3, .5, 1, 2.5, 5, 10},
		}, []string{"status"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stagefire",
			Name:      "http_reqs_total",
			Help:      "Probe requests by status code.",
		}, []string{"status"}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stagefire",
			Name:      "http_req_failed_total",
			Help:      "Failed probe requests.",
		}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stagefire",
			Name:      "checks_total",
			Help:      "Check evaluations by check name and result.",
		}, []string{"check", "result"}),
		vus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stagefire",
			Name:      "vus",
			Help:      "Active virtual users.",
		}),
	}
	s.registry.MustRegister(
		s.duration,
		s.requests,
		s.failed,
		s.checks,
		s.vus,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return s
}

func (s *PrometheusSink) ObserveRequest(latency time.Duration, status int, failed bool) {
	label := statusLabel(status)
	s.duration.WithLabelValues(label).Observe(latency.Seconds())
	s.requests.WithLabelValues(label).Inc()
	if failed {
		s.failed.Inc()
	}
}

func (s *PrometheusSink) ObserveCheck(name string, passed bool) {
	result := "fail"
	if passed {
		result = "pass"
	}
	s.checks.WithLabelValues(name, result).Inc()
}

func (s *PrometheusSink) ObserveVUs(active int) {
	s.vus.Set(float64(active))
}

// Registry returns the registry the sink's metrics are registered on.
func (s *PrometheusSink) Registry() *prometheus.Registry {
	return s.registry
}

// Handler serves the registry for scraping.
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
