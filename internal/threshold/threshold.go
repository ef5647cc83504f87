package threshold

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/torosent/stagefire/internal/metrics"
)

// Threshold represents a performance assertion that can pass or fail.
type Threshold struct {
	Metric     string  // e.g., "http_req_duration", "http_req_failed"
	Aggregate  string  // e.g., "p", "avg", "med", "max", "rate", "count"
	Percentile float64 // set when Aggregate is "p", e.g. 95 for p(95)
	Operator   string  // e.g., "<", "<=", ">", ">=", "==", "!="
	Value      float64 // The threshold value to compare against
	Raw        string  // Threshold as written, for display
}

// Expression renders the condition in k6 notation, e.g. "p(95)<200".
func (t Threshold) Expression() string {
	agg := t.Aggregate
	if agg == "p" {
		agg = metrics.PercentileKey(t.Percentile)
	}
	return agg + t.Operator + strconv.FormatFloat(t.Value, 'f', -1, 64)
}

// Result represents the outcome of evaluating a threshold.
type Result struct {
	Threshold Threshold
	Actual    float64
	Pass      bool
	Message   string
}

// Evaluator evaluates thresholds against collected metrics.
type Evaluator struct {
	thresholds []Threshold
}

// NewEvaluator creates a new threshold evaluator.
func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{
		thresholds: thresholds,
	}
}

// Evaluate checks all thresholds against the provided stats.
func (e *Evaluator) Evaluate(stats metrics.Stats) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}

	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, evaluateOne(t, stats))
	}
	return results
}

func evaluateOne(t Threshold, stats metrics.Stats) Result {
	actual, err := extractMetricValue(t, stats)
	if err != nil {
		return Result{
			Threshold: t,
			Pass:      false,
			Message:   fmt.Sprintf("✗ %s: error: %v", t.Raw, err),
		}
	}

	pass := compareValues(actual, t.Operator, t.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}

	return Result{
		Threshold: t,
		Actual:    actual,
		Pass:      pass,
		Message:   fmt.Sprintf("%s %s: %.4g %s %g", status, t.Raw, actual, t.Operator, t.Value),
	}
}

// AllPassed reports whether every result passed. An empty set passes.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

// ThresholdError is returned when at least one threshold fails.
type ThresholdError struct {
	Failed []Result
	Total  int
}

func (e *ThresholdError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for _, r := range e.Failed {
		names = append(names, r.Threshold.Raw)
	}
	return fmt.Sprintf("%d of %d thresholds failed: %s", len(e.Failed), e.Total, strings.Join(names, ", "))
}

// Check wraps failing results in a *ThresholdError, or returns nil when all passed.
func Check(results []Result) error {
	var failed []Result
	for _, r := range results {
		if !r.Pass {
			failed = append(failed, r)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &ThresholdError{Failed: failed, Total: len(results)}
}

var (
	// metric:expression, e.g. "http_req_duration:p(95)<200" or "http_req_duration:p95 < 500"
	thresholdPattern = regexp.MustCompile(`^([a-z_]+)\s*:\s*(.+)$`)
	// aggregate operator value
	expressionPattern = regexp.MustCompile(`^(p\(\s*[0-9.]+\s*\)|p[0-9.]+|[a-z]+)\s*(<=|>=|==|!=|<|>)\s*(-?[0-9]+(?:\.[0-9]+)?)$`)
)

// metricAggregates lists the aggregates each metric accepts. "p" stands for any percentile.
var metricAggregates = map[string][]string{
	"http_req_duration":  {"p", "avg", "med", "min", "max"},
	"http_req_failed":    {"rate", "count"},
	"http_reqs":          {"count", "rate"},
	"checks":             {"rate"},
	"iterations":         {"count", "rate"},
	"iteration_duration": {"p", "avg", "med", "max"},
	"vus_max":            {"value", "max"},
}

// metricAliases maps alternative spellings onto canonical metric names.
var metricAliases = map[string]string{
	"http_requests": "http_reqs",
}

// Parse parses a threshold string into a Threshold struct.
// Supported formats:
//   - "http_req_duration:p(95)<200"     (k6 notation, latency percentile in ms)
//   - "http_req_duration:p95 < 500"     (latency percentile in ms)
//   - "http_req_duration:avg < 200"     (average latency in ms, also med, min, max)
//   - "http_req_failed:rate < 0.01"     (failure rate as decimal)
//   - "http_req_failed:count < 10"      (failure count)
//   - "http_reqs:rate > 100"            (requests per second)
//   - "checks:rate > 0.9"               (check pass ratio)
//   - "iteration_duration:p(95) < 3500" (iteration duration in ms)
//   - "vus_max:value <= 8"              (peak VUs)
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	m := thresholdPattern.FindStringSubmatch(s)
	if m == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected metric:expression, e.g. 'http_req_duration:p(95)<200')", s)
	}
	metric := m[1]
	if alias, ok := metricAliases[metric]; ok {
		metric = alias
	}
	allowed, ok := metricAggregates[metric]
	if !ok {
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: %s)", metric, strings.Join(supportedMetrics(), ", "))
	}

	t, err := ParseExpression(m[2])
	if err != nil {
		return Threshold{}, fmt.Errorf("%s: %w", metric, err)
	}
	if !contains(allowed, t.Aggregate) {
		return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s (supported: %s)", t.Aggregate, metric, strings.Join(allowed, ", "))
	}
	t.Metric = metric
	t.Raw = s
	return t, nil
}

// ParseExpression parses the condition half of a threshold, such as "p(95)<200"
// or "rate < 0.01". The returned Threshold has no metric set.
func ParseExpression(expr string) (Threshold, error) {
	expr = strings.TrimSpace(expr)
	m := expressionPattern.FindStringSubmatch(expr)
	if m == nil {
		return Threshold{}, fmt.Errorf("invalid threshold expression %q (expected aggregate operator value, e.g. 'p(95)<200')", expr)
	}

	t := Threshold{Aggregate: m[1], Operator: m[2]}
	value, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", m[3], err)
	}
	t.Value = value

	switch {
	case strings.HasPrefix(t.Aggregate, "p(") || (strings.HasPrefix(t.Aggregate, "p") && len(t.Aggregate) > 1 && isDigit(t.Aggregate[1])):
		raw := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(t.Aggregate, "p("), "p"), ")"))
		p, err := strconv.ParseFloat(raw, 64)
		if err != nil || p <= 0 || p > 100 {
			return Threshold{}, fmt.Errorf("invalid percentile %q (must be in (0, 100])", t.Aggregate)
		}
		t.Aggregate = "p"
		t.Percentile = p
	case t.Aggregate == "p":
		return Threshold{}, fmt.Errorf("percentile aggregate needs a value, e.g. 'p(95)'")
	case t.Aggregate == "mean":
		t.Aggregate = "avg"
	}
	return t, nil
}

// ParseMultiple parses multiple threshold strings.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var errors []string

	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errors = append(errors, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errors, "; "))
	}

	return result, nil
}

// RequiredPercentiles returns the distinct percentiles the thresholds reference,
// so the collector can be configured to compute them.
func RequiredPercentiles(thresholds []Threshold) []float64 {
	seen := make(map[float64]bool)
	var out []float64
	for _, t := range thresholds {
		if t.Aggregate != "p" || seen[t.Percentile] {
			continue
		}
		seen[t.Percentile] = true
		out = append(out, t.Percentile)
	}
	sort.Float64s(out)
	return out
}

func supportedMetrics() []string {
	names := make([]string, 0, len(metricAggregates))
	for name := range metricAggregates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func extractMetricValue(t Threshold, stats metrics.Stats) (float64, error) {
	switch t.Metric {
	case "http_req_duration":
		return extractLatencyMetric(t, stats)
	case "http_req_failed":
		return extractFailureMetric(t.Aggregate, stats)
	case "http_reqs":
		return extractRequestMetric(t.Aggregate, stats)
	case "checks":
		return stats.ChecksRate, nil
	case "iterations":
		if t.Aggregate == "rate" {
			return stats.IterationsPerSec, nil
		}
		return float64(stats.Iterations), nil
	case "iteration_duration":
		return extractIterationMetric(t, stats)
	case "vus_max":
		return float64(stats.VUsMax), nil
	default:
		return 0, fmt.Errorf("unknown metric: %s", t.Metric)
	}
}

func extractLatencyMetric(t Threshold, stats metrics.Stats) (float64, error) {
	switch t.Aggregate {
	case "p":
		return latencyPercentile(t.Percentile, stats)
	case "med":
		return stats.P50LatencyMs, nil
	case "avg":
		return stats.MeanLatencyMs, nil
	case "min":
		return stats.MinLatencyMs, nil
	case "max":
		return stats.MaxLatencyMs, nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for http_req_duration", t.Aggregate)
	}
}

func latencyPercentile(p float64, stats metrics.Stats) (float64, error) {
	if v, ok := stats.LatencyPercentilesMs[metrics.PercentileKey(p)]; ok {
		return v, nil
	}
	switch p {
	case 50:
		return stats.P50LatencyMs, nil
	case 90:
		return stats.P90LatencyMs, nil
	case 95:
		return stats.P95LatencyMs, nil
	case 99:
		return stats.P99LatencyMs, nil
	}
	if stats.Total == 0 {
		return 0, nil
	}
	return 0, fmt.Errorf("percentile %s was not collected", metrics.PercentileKey(p))
}

func extractIterationMetric(t Threshold, stats metrics.Stats) (float64, error) {
	switch t.Aggregate {
	case "p", "med":
		p := t.Percentile
		if t.Aggregate == "med" {
			p = 50
		}
		if v, ok := stats.IterationPercentilesMs[metrics.PercentileKey(p)]; ok {
			return v, nil
		}
		if stats.Iterations == 0 {
			return 0, nil
		}
		return 0, fmt.Errorf("percentile %s was not collected", metrics.PercentileKey(p))
	case "avg":
		return stats.MeanIterationMs, nil
	case "max":
		return stats.MaxIterationMs, nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for iteration_duration", t.Aggregate)
	}
}

func extractFailureMetric(aggregate string, stats metrics.Stats) (float64, error) {
	switch aggregate {
	case "count":
		return float64(stats.Failures), nil
	case "rate":
		if stats.Total == 0 {
			return 0, nil
		}
		return float64(stats.Failures) / float64(stats.Total), nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for http_req_failed (use 'count' or 'rate')", aggregate)
	}
}

func extractRequestMetric(aggregate string, stats metrics.Stats) (float64, error) {
	switch aggregate {
	case "count":
		return float64(stats.Total), nil
	case "rate":
		return stats.RequestsPerSec, nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for http_reqs (use 'count' or 'rate')", aggregate)
	}
}

func compareValues(actual float64, operator string, expected float64) bool {
	// Handle floating point comparison with small epsilon
	epsilon := 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	case "!=":
		return math.Abs(actual-expected) >= epsilon
	default:
		return false
	}
}
