package output

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/torosent/stagefire/internal/hoststats"
	"github.com/torosent/stagefire/internal/metrics"
	"github.com/torosent/stagefire/internal/threshold"
)

func sampleResults() []threshold.Result {
	return []threshold.Result{
		{
			Threshold: threshold.Threshold{Metric: "http_req_duration", Aggregate: "p", Percentile: 95, Operator: "<", Value: 200, Raw: "http_req_duration:p(95)<200"},
			Actual:    120,
			Pass:      true,
		},
		{
			Threshold: threshold.Threshold{Metric: "http_req_failed", Aggregate: "rate", Operator: "<", Value: 0.1, Raw: "http_req_failed:rate<0.1"},
			Actual:    0.25,
			Pass:      false,
		},
	}
}

func sampleStats() metrics.Stats {
	return metrics.Stats{
		Total:          100,
		Successes:      75,
		Failures:       25,
		FailureRate:    0.25,
		RequestsPerSec: 2,
		Duration:       50 * time.Second,
		P95Latency:     120 * time.Millisecond,
		P95LatencyMs:   120,
		LatencyPercentilesMs: map[string]float64{
			"p(50)": 40, "p(90)": 100, "p(95)": 120, "p(99)": 180, "p(99.9)": 199, "p(97.5)": 150,
		},
		Iterations:            100,
		InterruptedIterations: 2,
		Checks: []metrics.CheckStats{
			{Name: "response time < 200ms", Passes: 100, Rate: 1},
			{Name: "status is 200", Passes: 75, Fails: 25, Rate: 0.75},
		},
		ChecksPassed: 175,
		ChecksFailed: 25,
		ChecksRate:   0.875,
		VUsMax:       8,
		StatusCodes:  map[string]int{"200": 75, "503": 25},
	}
}

func TestBuildThresholdSummary(t *testing.T) {
	if got := BuildThresholdSummary(nil); got != nil {
		t.Fatalf("BuildThresholdSummary(nil) = %+v, want nil", got)
	}

	summary := BuildThresholdSummary(sampleResults())
	if summary.Total != 2 || summary.Passed != 1 || summary.Failed != 1 {
		t.Fatalf("summary counts = %+v", summary)
	}
	want := ThresholdResultJSON{
		Threshold:  "http_req_duration:p(95)<200",
		Metric:     "http_req_duration",
		Expression: "p(95)<200",
		Expected:   200,
		Actual:     120,
		Pass:       true,
	}
	if !reflect.DeepEqual(summary.Results[0], want) {
		t.Errorf("Results[0] = %+v, want %+v", summary.Results[0], want)
	}
	if summary.Results[1].Expression != "rate<0.1" {
		t.Errorf("Results[1].Expression = %q, want rate<0.1", summary.Results[1].Expression)
	}
}

func TestNewReportPassed(t *testing.T) {
	results := sampleResults()
	if r := NewReport(ReportMetadata{}, sampleStats(), results, nil); r.Passed {
		t.Error("report with a failing threshold should not pass")
	}
	if r := NewReport(ReportMetadata{}, sampleStats(), results[:1], nil); !r.Passed {
		t.Error("report with only passing thresholds should pass")
	}
	if r := NewReport(ReportMetadata{}, sampleStats(), nil, nil); !r.Passed || r.Thresholds != nil {
		t.Errorf("report without thresholds = %+v, want passed with nil summary", r)
	}
}

func TestPrintReport(t *testing.T) {
	host := &hoststats.Summary{Samples: 10, MeanCPUPercent: 60, MaxCPUPercent: 97, MaxMemUsedPercent: 40, MaxProcessRSS: 32 << 20, Saturated: true}
	meta := ReportMetadata{TargetURL: "http://example.test/api/search", Profile: "default"}
	r := NewReport(meta, sampleStats(), sampleResults(), host)

	var buf bytes.Buffer
	PrintReport(&buf, r)
	out := buf.String()

	for _, want := range []string{
		"Target:            http://example.test/api/search",
		"Profile:           default",
		"Max VUs:           8",
		"Checks:            87.50%",
		"✓ response time < 200ms",
		"✗ status is 200",
		"Thresholds:        1/2 passed",
		"✓ http_req_duration p(95)<200 (actual 120.00)",
		"✗ http_req_failed rate<0.1 (actual 0.2500)",
		"Failed:          25 (25.00%)",
		"Interrupted:     2",
		"200: 75",
		"503: 25",
		"Process RSS max: 32.0 MiB",
		"WARNING: load generator CPU was saturated",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q\n%s", want, out)
		}
	}

	// Extra percentiles appear once, in ascending order.
	i975 := strings.Index(out, "P(97.5):")
	i999 := strings.Index(out, "P(99.9):")
	if i975 < 0 || i999 < 0 || i975 > i999 {
		t.Errorf("extra percentiles missing or unordered:\n%s", out)
	}
	if strings.Contains(out, "P(95):") {
		t.Error("default percentiles should not be repeated as extra rows")
	}
}

func TestPrintReportMinimal(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, NewReport(ReportMetadata{}, metrics.Stats{}, nil, nil))
	out := buf.String()
	for _, absent := range []string{"Checks:", "Thresholds:", "Status Codes:", "Load Generator:"} {
		if strings.Contains(out, absent) {
			t.Errorf("empty report should omit %q\n%s", absent, out)
		}
	}
}

func TestPrintJSONReport(t *testing.T) {
	meta := ReportMetadata{RunID: "01J0000000000000000000000", TargetURL: "http://example.test", RPS: 2, Stages: []StageInfo{{Duration: "1m0s", Target: 2}}}
	r := NewReport(meta, sampleStats(), sampleResults(), nil)

	var buf bytes.Buffer
	if err := PrintJSONReport(&buf, r); err != nil {
		t.Fatalf("PrintJSONReport() error = %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded["passed"] != false {
		t.Errorf("passed = %v, want false", decoded["passed"])
	}
	m, ok := decoded["metrics"].(map[string]any)
	if !ok || m["total"].(float64) != 100 {
		t.Errorf("metrics.total missing: %v", decoded["metrics"])
	}
	th := decoded["thresholds"].(map[string]any)
	if th["failed"].(float64) != 1 {
		t.Errorf("thresholds.failed = %v, want 1", th["failed"])
	}
	if _, ok := decoded["host"]; ok {
		t.Error("host should be omitted when sampling is off")
	}
	md := decoded["metadata"].(map[string]any)
	if md["run_id"] != meta.RunID || md["rps"].(float64) != 2 {
		t.Errorf("metadata = %v", md)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 << 20, "5.0 MiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
