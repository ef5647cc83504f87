package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/torosent/stagefire/internal/hoststats"
	"github.com/torosent/stagefire/internal/metrics"
	"github.com/torosent/stagefire/internal/threshold"
)

// ReportMetadata describes the run a report belongs to.
type ReportMetadata struct {
	RunID     string      `json:"run_id,omitempty"`
	Profile   string      `json:"profile,omitempty"`
	TargetURL string      `json:"target_url"`
	RPS       int         `json:"rps"`
	Stages    []StageInfo `json:"stages,omitempty"`
}

// StageInfo is one configured stage as shown in reports.
type StageInfo struct {
	Duration string `json:"duration"`
	Target   int    `json:"target"`
}

// ThresholdSummary aggregates threshold outcomes.
type ThresholdSummary struct {
	Total   int                   `json:"total"`
	Passed  int                   `json:"passed"`
	Failed  int                   `json:"failed"`
	Results []ThresholdResultJSON `json:"results"`
}

// ThresholdResultJSON is one threshold outcome in JSON-friendly form.
type ThresholdResultJSON struct {
	Threshold  string  `json:"threshold"`
	Metric     string  `json:"metric"`
	Expression string  `json:"expression"`
	Expected   float64 `json:"expected"`
	Actual     float64 `json:"actual"`
	Pass       bool    `json:"pass"`
}

// Report is everything printed or exported at the end of a run.
type Report struct {
	Metadata   ReportMetadata     `json:"metadata"`
	Stats      metrics.Stats      `json:"metrics"`
	Thresholds *ThresholdSummary  `json:"thresholds,omitempty"`
	Host       *hoststats.Summary `json:"host,omitempty"`
	Passed     bool               `json:"passed"`
}

// NewReport assembles a Report. host may be nil when host sampling is off.
func NewReport(meta ReportMetadata, stats metrics.Stats, results []threshold.Result, host *hoststats.Summary) Report {
	return Report{
		Metadata:   meta,
		Stats:      stats,
		Thresholds: BuildThresholdSummary(results),
		Host:       host,
		Passed:     threshold.AllPassed(results),
	}
}

// BuildThresholdSummary converts threshold results, or returns nil when there are none.
func BuildThresholdSummary(results []threshold.Result) *ThresholdSummary {
	if len(results) == 0 {
		return nil
	}
	summary := &ThresholdSummary{
		Total:   len(results),
		Results: make([]ThresholdResultJSON, len(results)),
	}
	for i, tr := range results {
		summary.Results[i] = ThresholdResultJSON{
			Threshold:  tr.Threshold.Raw,
			Metric:     tr.Threshold.Metric,
			Expression: tr.Threshold.Expression(),
			Expected:   tr.Threshold.Value,
			Actual:     tr.Actual,
			Pass:       tr.Pass,
		}
		if tr.Pass {
			summary.Passed++
		} else {
			summary.Failed++
		}
	}
	return summary
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, r Report) {
	stats := r.Stats
	fmt.Fprintln(w, "\n--- Probe Results ---")
	if r.Metadata.TargetURL != "" {
		fmt.Fprintf(w, "Target:            %s\n", r.Metadata.TargetURL)
	}
	if r.Metadata.Profile != "" {
		fmt.Fprintf(w, "Profile:           %s\n", r.Metadata.Profile)
	}
	fmt.Fprintf(w, "Duration:          %s\n", stats.Duration)
	fmt.Fprintf(w, "Max VUs:           %d\n", stats.VUsMax)

	if len(stats.Checks) > 0 {
		fmt.Fprintf(w, "\nChecks:            %.2f%% ✓ %d ✗ %d\n", stats.ChecksRate*100, stats.ChecksPassed, stats.ChecksFailed)
		width := 0
		for _, c := range stats.Checks {
			if len(c.Name) > width {
				width = len(c.Name)
			}
		}
		for _, c := range stats.Checks {
			mark := "✓"
			if c.Fails > 0 {
				mark = "✗"
			}
			fmt.Fprintf(w, "  %s %-*s  %6.2f%% (✓ %d / ✗ %d)\n", mark, width, c.Name, c.Rate*100, c.Passes, c.Fails)
		}
	}

	if r.Thresholds != nil {
		fmt.Fprintf(w, "\nThresholds:        %d/%d passed\n", r.Thresholds.Passed, r.Thresholds.Total)
		for _, tr := range r.Thresholds.Results {
			mark := "✓"
			if !tr.Pass {
				mark = "✗"
			}
			fmt.Fprintf(w, "  %s %s %s (actual %s)\n", mark, tr.Metric, tr.Expression, formatActual(tr.Actual))
		}
	}

	fmt.Fprintln(w, "\nRequests:")
	fmt.Fprintf(w, "  Total:           %d\n", stats.Total)
	fmt.Fprintf(w, "  Successful:      %d\n", stats.Successes)
	fmt.Fprintf(w, "  Failed:          %d (%.2f%%)\n", stats.Failures, stats.FailureRate*100)
	fmt.Fprintf(w, "  Requests/sec:    %.2f\n", stats.RequestsPerSec)
	fmt.Fprintf(w, "  Data received:   %s\n", formatBytes(stats.BytesReceived))

	fmt.Fprintln(w, "\nLatency:")
	fmt.Fprintf(w, "  Min:             %s\n", stats.MinLatency)
	fmt.Fprintf(w, "  Max:             %s\n", stats.MaxLatency)
	fmt.Fprintf(w, "  Mean:            %s\n", stats.MeanLatency)
	fmt.Fprintf(w, "  P50:             %s\n", stats.P50Latency)
	fmt.Fprintf(w, "  P90:             %s\n", stats.P90Latency)
	fmt.Fprintf(w, "  P95:             %s\n", stats.P95Latency)
	fmt.Fprintf(w, "  P99:             %s\n", stats.P99Latency)
	for _, key := range extraPercentiles(stats.LatencyPercentilesMs) {
		fmt.Fprintf(w, "  %-17s%.2fms\n", strings.ToUpper(key[:1])+key[1:]+":", stats.LatencyPercentilesMs[key])
	}

	fmt.Fprintln(w, "\nIterations:")
	fmt.Fprintf(w, "  Completed:       %d\n", stats.Iterations)
	fmt.Fprintf(w, "  Interrupted:     %d\n", stats.InterruptedIterations)
	fmt.Fprintf(w, "  Iterations/sec:  %.2f\n", stats.IterationsPerSec)
	fmt.Fprintf(w, "  Mean duration:   %.2fms\n", stats.MeanIterationMs)

	if len(stats.StatusCodes) > 0 {
		fmt.Fprintln(w, "\nStatus Codes:")
		writeStatusBuckets(w, stats.StatusCodes, "  ")
	}
	if len(stats.Errors) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		writeStatusBuckets(w, stats.Errors, "  ")
	}

	if r.Host != nil && r.Host.Samples > 0 {
		fmt.Fprintln(w, "\nLoad Generator:")
		fmt.Fprintf(w, "  CPU mean/max:    %.1f%% / %.1f%%\n", r.Host.MeanCPUPercent, r.Host.MaxCPUPercent)
		fmt.Fprintf(w, "  Memory max:      %.1f%%\n", r.Host.MaxMemUsedPercent)
		fmt.Fprintf(w, "  Process RSS max: %s\n", formatBytes(int64(r.Host.MaxProcessRSS)))
		if r.Host.Saturated {
			fmt.Fprintln(w, "  WARNING: load generator CPU was saturated; latency figures may be inflated")
		}
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func writeStatusBuckets(w io.Writer, buckets map[string]int, indent string) {
	rows := metrics.FlattenStatusBuckets(buckets)
	if len(rows) == 0 {
		fmt.Fprintf(w, "%sNone\n", indent)
		return
	}
	for _, row := range rows {
		fmt.Fprintf(w, "%s%s: %d\n", indent, row.Code, row.Count)
	}
}

// extraPercentiles returns requested percentile keys not already shown as fixed rows.
func extraPercentiles(ms map[string]float64) []string {
	fixed := map[string]bool{}
	for _, p := range metrics.DefaultPercentiles {
		fixed[metrics.PercentileKey(p)] = true
	}
	var keys []string
	for k := range ms {
		if !fixed[k] {
			keys = append(keys, k)
		}
	}
	sortPercentileKeys(keys)
	return keys
}

func formatActual(v float64) string {
	if v != 0 && v < 1 {
		return fmt.Sprintf("%.4f", v)
	}
	return fmt.Sprintf("%.2f", v)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func sortPercentileKeys(keys []string) {
	value := func(k string) float64 {
		v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimPrefix(k, "p("), ")"), 64)
		if err != nil {
			return 0
		}
		return v
	}
	sort.Slice(keys, func(i, j int) bool { return value(keys[i]) < value(keys[j]) })
}
