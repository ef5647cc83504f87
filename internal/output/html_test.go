package output_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/torosent/stagefire/internal/hoststats"
	"github.com/torosent/stagefire/internal/metrics"
	"github.com/torosent/stagefire/internal/output"
	"github.com/torosent/stagefire/internal/threshold"
)

func TestGenerateHTMLReport(t *testing.T) {
	stats := metrics.Stats{
		Total:          100,
		Successes:      95,
		Failures:       5,
		FailureRate:    0.05,
		MinLatency:     10 * time.Millisecond,
		MaxLatency:     250 * time.Millisecond,
		P95Latency:     90 * time.Millisecond,
		P95LatencyMs:   90,
		RequestsPerSec: 2,
		Duration:       150 * time.Second,
		Checks: []metrics.CheckStats{
			{Name: "search response time < 200ms", Passes: 98, Fails: 2, Rate: 0.98},
			{Name: "search status is 200", Passes: 95, Fails: 5, Rate: 0.95},
		},
		ChecksPassed: 193,
		ChecksFailed: 7,
		ChecksRate:   0.965,
		VUsMax:       8,
		StatusCodes:  map[string]int{"200": 95, "500": 5},
	}
	history := []metrics.DataPoint{
		{Timestamp: time.Now(), TotalRequests: 50, CurrentRPS: 2, VUs: 2, P95LatencyMs: 85},
		{Timestamp: time.Now().Add(time.Second), TotalRequests: 100, CurrentRPS: 2, VUs: 8, P95LatencyMs: 90},
	}
	results := []threshold.Result{
		{
			Threshold: threshold.Threshold{Metric: "http_req_duration", Aggregate: "p", Percentile: 95, Operator: "<", Value: 200, Raw: "http_req_duration:p(95)<200"},
			Actual:    90,
			Pass:      true,
		},
		{
			Threshold: threshold.Threshold{Metric: "http_req_failed", Aggregate: "rate", Operator: "<", Value: 0.01, Raw: "http_req_failed:rate<0.01"},
			Actual:    0.05,
			Pass:      false,
		},
	}
	meta := output.ReportMetadata{
		Profile:   "strict",
		TargetURL: "http://example.test/api/search",
		RPS:       2,
		Stages:    []output.StageInfo{{Duration: "1m0s", Target: 2}, {Duration: "1m0s", Target: 8}, {Duration: "30s", Target: 0}},
	}
	host := &hoststats.Summary{Samples: 3, MeanCPUPercent: 20, MaxCPUPercent: 30}

	var buf bytes.Buffer
	if err := output.GenerateHTMLReport(&buf, output.NewReport(meta, stats, results, host), history); err != nil {
		t.Fatalf("GenerateHTMLReport() error = %v", err)
	}
	html := buf.String()

	for _, want := range []string{
		"<!DOCTYPE html>",
		"stagefire Probe Report",
		`class="fail"`,
		"http://example.test/api/search",
		"Profile: strict",
		"Thresholds (1/2 Passed)",
		"p(95)&lt;200",
		"rate&lt;0.01",
		"search status is 200",
		"Stages",
		"Load Generator",
		"rps-chart",
		"latency-chart",
		"uPlot",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML report missing %q", want)
		}
	}
	if strings.Contains(html, "saturated") {
		t.Error("unsaturated host should not produce a warning")
	}
}

func TestGenerateHTMLReportWithoutHistory(t *testing.T) {
	r := output.NewReport(output.ReportMetadata{}, metrics.Stats{Total: 1, Successes: 1}, nil, nil)

	var buf bytes.Buffer
	if err := output.GenerateHTMLReport(&buf, r, nil); err != nil {
		t.Fatalf("GenerateHTMLReport() error = %v", err)
	}
	html := buf.String()
	if strings.Contains(html, `id="rps-chart"`) {
		t.Error("charts should be omitted without history")
	}
	if strings.Contains(html, "Thresholds (") {
		t.Error("threshold section should be omitted without thresholds")
	}
	if !strings.Contains(html, `class="pass"`) {
		t.Error("report without thresholds should render as passed")
	}
}

func TestGenerateHTMLReportEscapesTarget(t *testing.T) {
	meta := output.ReportMetadata{TargetURL: `http://example.test/?q=<script>alert(1)</script>`}
	var buf bytes.Buffer
	if err := output.GenerateHTMLReport(&buf, output.NewReport(meta, metrics.Stats{}, nil, nil), nil); err != nil {
		t.Fatalf("GenerateHTMLReport() error = %v", err)
	}
	if strings.Contains(buf.String(), "<script>alert(1)</script>") {
		t.Error("target URL was not escaped")
	}
}
