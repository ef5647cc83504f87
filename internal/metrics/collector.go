package metrics

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// DefaultPercentiles are always computed, regardless of configured thresholds.
var DefaultPercentiles = []float64{50, 90, 95, 99}

// Sink observes every sample recorded by a Collector.
// Implementations must be safe for concurrent use.
type Sink interface {
	ObserveRequest(latency time.Duration, status int, failed bool)
	ObserveCheck(name string, passed bool)
	ObserveVUs(active int)
}

// RequestMetadata carries optional per-request details.
type RequestMetadata struct {
	Status        int   // HTTP status code, 0 when no response was received
	BytesReceived int64 // response body size
}

// Option configures a Collector.
type Option func(*Collector)

// WithPercentiles adds latency percentiles (0-100) to compute in Stats.
func WithPercentiles(ps ...float64) Option {
	return func(c *Collector) {
		for _, p := range ps {
			if p <= 0 || p > 100 {
				continue
			}
			c.percentiles = appendUnique(c.percentiles, p)
		}
	}
}

// WithSinks registers sinks that receive every recorded sample.
func WithSinks(sinks ...Sink) Option {
	return func(c *Collector) {
		for _, s := range sinks {
			if s != nil {
				c.sinks = append(c.sinks, s)
			}
		}
	}
}

// Collector records per-request, per-check and per-iteration metrics in a thread-safe manner.
type Collector struct {
	mu            sync.Mutex
	hist          *hdrhistogram.Histogram
	iterHist      *hdrhistogram.Histogram
	successes     int64
	failures      int64
	minLatency    time.Duration
	maxLatency    time.Duration
	sumLatency    time.Duration
	bytesReceived int64
	errorsByType  map[string]int64
	statusCodes   map[string]int64
	checks        map[string]*checkTally
	checkOrder    []string
	iterations    int64
	interrupted   int64
	sumIteration  time.Duration
	vus           int
	vusMax        int
	percentiles   []float64
	sinks         []Sink
	start         time.Time

	history      []DataPoint
	lastSnapTime time.Time
	lastSnapReqs int64
}

type checkTally struct {
	passes int64
	fails  int64
}

// Stats represents aggregated metrics.
type Stats struct {
	Total          int64         `json:"total"`
	Successes      int64         `json:"successes"`
	Failures       int64         `json:"failures"`
	FailureRate    float64       `json:"failure_rate"`
	MinLatency     time.Duration `json:"-"`
	MaxLatency     time.Duration `json:"-"`
	MeanLatency    time.Duration `json:"-"`
	P50Latency     time.Duration `json:"-"`
	P90Latency     time.Duration `json:"-"`
	P95Latency     time.Duration `json:"-"`
	P99Latency     time.Duration `json:"-"`
	Duration       time.Duration `json:"-"`
	RequestsPerSec float64       `json:"requests_per_sec"`
	BytesReceived  int64         `json:"bytes_received"`

	// JSON-friendly millisecond fields.
	MinLatencyMs         float64            `json:"min_latency_ms"`
	MaxLatencyMs         float64            `json:"max_latency_ms"`
	MeanLatencyMs        float64            `json:"mean_latency_ms"`
	P50LatencyMs         float64            `json:"p50_latency_ms"`
	P90LatencyMs         float64            `json:"p90_latency_ms"`
	P95LatencyMs         float64            `json:"p95_latency_ms"`
	P99LatencyMs         float64            `json:"p99_latency_ms"`
	LatencyPercentilesMs map[string]float64 `json:"latency_percentiles_ms,omitempty"`
	DurationMs           float64            `json:"duration_ms"`

	Iterations             int64              `json:"iterations"`
	InterruptedIterations  int64              `json:"interrupted_iterations"`
	IterationsPerSec       float64            `json:"iterations_per_sec"`
	MeanIterationMs        float64            `json:"mean_iteration_ms"`
	MaxIterationMs         float64            `json:"max_iteration_ms"`
	IterationPercentilesMs map[string]float64 `json:"iteration_percentiles_ms,omitempty"`
	Checks                 []CheckStats       `json:"checks,omitempty"`
	ChecksPassed           int64              `json:"checks_passed"`
	ChecksFailed           int64              `json:"checks_failed"`
	ChecksRate             float64            `json:"checks_rate"`
	VUs                    int                `json:"vus"`
	VUsMax                 int                `json:"vus_max"`
	StatusCodes            map[string]int     `json:"status_codes,omitempty"`
	Errors                 map[string]int     `json:"errors,omitempty"`
}

// CheckStats is the pass/fail tally of one named check.
type CheckStats struct {
	Name   string  `json:"name"`
	Passes int64   `json:"passes"`
	Fails  int64   `json:"fails"`
	Rate   float64 `json:"rate"`
}

func NewCollector(opts ...Option) *Collector {
	// Track latencies from 1µs up to 60s with 3 significant figures.
	c := &Collector{
		hist:         hdrhistogram.New(1, 60_000_000, 3),
		iterHist:     hdrhistogram.New(1, 600_000_000, 3),
		errorsByType: make(map[string]int64),
		statusCodes:  make(map[string]int64),
		checks:       make(map[string]*checkTally),
		percentiles:  append([]float64(nil), DefaultPercentiles...),
		start:        time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	sort.Float64s(c.percentiles)
	return c
}

// Start marks the beginning of the run for rate calculations and snapshots.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = time.Now()
	c.lastSnapTime = c.start
	c.lastSnapReqs = 0
}

// Percentiles returns the latency percentiles computed in Stats.
func (c *Collector) Percentiles() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]float64(nil), c.percentiles...)
}

// RecordRequest records a single request's latency and error state.
// A non-nil err marks the request as failed.
func (c *Collector) RecordRequest(latency time.Duration, err error, meta *RequestMetadata) {
	status := 0
	var bytes int64
	if meta != nil {
		status = meta.Status
		bytes = meta.BytesReceived
	}

	c.mu.Lock()
	recordClamped(c.hist, latency)
	c.sumLatency += latency
	if c.minLatency == 0 || latency < c.minLatency {
		c.minLatency = latency
	}
	if latency > c.maxLatency {
		c.maxLatency = latency
	}
	c.bytesReceived += bytes

	if err == nil {
		c.successes++
	} else {
		c.failures++
		c.errorsByType[ClassifyError(err)]++
	}
	c.statusCodes[statusKey(status, err)]++
	sinks := c.sinks
	c.mu.Unlock()

	for _, s := range sinks {
		s.ObserveRequest(latency, status, err != nil)
	}
}

// RecordCheck records the outcome of a named check.
func (c *Collector) RecordCheck(name string, passed bool) {
	c.mu.Lock()
	tally, ok := c.checks[name]
	if !ok {
		tally = &checkTally{}
		c.checks[name] = tally
		c.checkOrder = append(c.checkOrder, name)
	}
	if passed {
		tally.passes++
	} else {
		tally.fails++
	}
	sinks := c.sinks
	c.mu.Unlock()

	for _, s := range sinks {
		s.ObserveCheck(name, passed)
	}
}

// RecordIteration records a completed iteration and its full duration, think time included.
func (c *Collector) RecordIteration(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.iterations++
	c.sumIteration += d
	recordClamped(c.iterHist, d)
}

// RecordInterrupted counts an iteration cut short by a ramp-down or stop.
func (c *Collector) RecordInterrupted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interrupted++
}

// SetVUs updates the active virtual user gauge.
func (c *Collector) SetVUs(active int) {
	c.mu.Lock()
	c.vus = active
	if active > c.vusMax {
		c.vusMax = active
	}
	sinks := c.sinks
	c.mu.Unlock()

	for _, s := range sinks {
		s.ObserveVUs(active)
	}
}

// Stats computes and returns current aggregated statistics.
func (c *Collector) Stats(elapsed time.Duration) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.successes + c.failures
	stats := Stats{
		Total:                 total,
		Successes:             c.successes,
		Failures:              c.failures,
		MinLatency:            c.minLatency,
		MaxLatency:            c.maxLatency,
		BytesReceived:         c.bytesReceived,
		Iterations:            c.iterations,
		InterruptedIterations: c.interrupted,
		VUs:                   c.vus,
		VUsMax:                c.vusMax,
	}

	if total > 0 {
		stats.MeanLatency = time.Duration(int64(c.sumLatency) / total)
		stats.FailureRate = float64(c.failures) / float64(total)
	}

	if c.hist.TotalCount() > 0 {
		stats.P50Latency = quantile(c.hist, 50)
		stats.P90Latency = quantile(c.hist, 90)
		stats.P95Latency = quantile(c.hist, 95)
		stats.P99Latency = quantile(c.hist, 99)
		stats.LatencyPercentilesMs = make(map[string]float64, len(c.percentiles))
		for _, p := range c.percentiles {
			stats.LatencyPercentilesMs[PercentileKey(p)] = toMs(quantile(c.hist, p))
		}
	}

	stats.MinLatencyMs = toMs(stats.MinLatency)
	stats.MaxLatencyMs = toMs(stats.MaxLatency)
	stats.MeanLatencyMs = toMs(stats.MeanLatency)
	stats.P50LatencyMs = toMs(stats.P50Latency)
	stats.P90LatencyMs = toMs(stats.P90Latency)
	stats.P95LatencyMs = toMs(stats.P95Latency)
	stats.P99LatencyMs = toMs(stats.P99Latency)

	if c.iterations > 0 {
		stats.MeanIterationMs = toMs(time.Duration(int64(c.sumIteration) / c.iterations))
		stats.MaxIterationMs = toMs(time.Duration(c.iterHist.Max()) * time.Microsecond)
		stats.IterationPercentilesMs = make(map[string]float64, len(c.percentiles))
		for _, p := range c.percentiles {
			stats.IterationPercentilesMs[PercentileKey(p)] = toMs(quantile(c.iterHist, p))
		}
	}

	stats.Duration = elapsed
	stats.DurationMs = toMs(elapsed)
	if elapsed > 0 {
		stats.RequestsPerSec = float64(total) / elapsed.Seconds()
		stats.IterationsPerSec = float64(c.iterations) / elapsed.Seconds()
	}

	if len(c.checkOrder) > 0 {
		stats.Checks = make([]CheckStats, 0, len(c.checkOrder))
		for _, name := range c.checkOrder {
			tally := c.checks[name]
			cs := CheckStats{Name: name, Passes: tally.passes, Fails: tally.fails}
			if n := tally.passes + tally.fails; n > 0 {
				cs.Rate = float64(tally.passes) / float64(n)
			}
			stats.Checks = append(stats.Checks, cs)
			stats.ChecksPassed += tally.passes
			stats.ChecksFailed += tally.fails
		}
		if n := stats.ChecksPassed + stats.ChecksFailed; n > 0 {
			stats.ChecksRate = float64(stats.ChecksPassed) / float64(n)
		}
	}

	if len(c.statusCodes) > 0 {
		stats.StatusCodes = make(map[string]int, len(c.statusCodes))
		for k, v := range c.statusCodes {
			stats.StatusCodes[k] = int(v)
		}
	}
	if len(c.errorsByType) > 0 {
		stats.Errors = make(map[string]int, len(c.errorsByType))
		for k, v := range c.errorsByType {
			stats.Errors[k] = int(v)
		}
	}

	return stats
}

// PercentileKey formats a percentile the way thresholds name it, e.g. "p(95)" or "p(99.9)".
func PercentileKey(p float64) string {
	return "p(" + strconv.FormatFloat(p, 'f', -1, 64) + ")"
}

func recordClamped(h *hdrhistogram.Histogram, d time.Duration) {
	if d <= 0 {
		return
	}
	us := d.Microseconds()
	if us < h.LowestTrackableValue() {
		us = h.LowestTrackableValue()
	}
	if us > h.HighestTrackableValue() {
		us = h.HighestTrackableValue()
	}
	_ = h.RecordValue(us)
}

func quantile(h *hdrhistogram.Histogram, p float64) time.Duration {
	if h.TotalCount() == 0 {
		return 0
	}
	return time.Duration(h.ValueAtQuantile(p)) * time.Microsecond
}

func toMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func statusKey(status int, err error) string {
	if status > 0 {
		return strconv.Itoa(status)
	}
	if err != nil {
		return "NO_RESPONSE"
	}
	return "UNKNOWN"
}

func appendUnique(list []float64, v float64) []float64 {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// DataPoint is one per-interval sample used for charts.
type DataPoint struct {
	Timestamp          time.Time     `json:"timestamp"`
	TotalRequests      int64         `json:"total_requests"`
	SuccessfulRequests int64         `json:"successful_requests"`
	Errors             int64         `json:"errors"`
	CurrentRPS         float64       `json:"current_rps"`
	VUs                int           `json:"vus"`
	P50Latency         time.Duration `json:"-"`
	P95Latency         time.Duration `json:"-"`
	P99Latency         time.Duration `json:"-"`
	P50LatencyMs       float64       `json:"p50_latency_ms"`
	P95LatencyMs       float64       `json:"p95_latency_ms"`
	P99LatencyMs       float64       `json:"p99_latency_ms"`
}

// Snapshot appends a data point for the interval since the previous snapshot.
// Callers typically invoke it once per second.
func (c *Collector) Snapshot() DataPoint {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	total := c.successes + c.failures
	dp := DataPoint{
		Timestamp:          now,
		TotalRequests:      total,
		SuccessfulRequests: c.successes,
		Errors:             c.failures,
		VUs:                c.vus,
		P50Latency:         quantile(c.hist, 50),
		P95Latency:         quantile(c.hist, 95),
		P99Latency:         quantile(c.hist, 99),
	}
	dp.P50LatencyMs = toMs(dp.P50Latency)
	dp.P95LatencyMs = toMs(dp.P95Latency)
	dp.P99LatencyMs = toMs(dp.P99Latency)

	if c.lastSnapTime.IsZero() {
		c.lastSnapTime = c.start
	}
	if window := now.Sub(c.lastSnapTime); window > 0 {
		dp.CurrentRPS = float64(total-c.lastSnapReqs) / window.Seconds()
	}
	c.lastSnapTime = now
	c.lastSnapReqs = total

	c.history = append(c.history, dp)
	return dp
}

// History returns a copy of all recorded snapshots.
func (c *Collector) History() []DataPoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]DataPoint, len(c.history))
	copy(out, c.history)
	return out
}
