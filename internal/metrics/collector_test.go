package metrics_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/torosent/stagefire/internal/metrics"
)

func TestCollectorLatencyStats(t *testing.T) {
	c := metrics.NewCollector()

	// Record deterministic latencies.
	c.RecordRequest(10*time.Millisecond, nil, nil)
	c.RecordRequest(20*time.Millisecond, nil, nil)
	c.RecordRequest(30*time.Millisecond, nil, nil)
	c.RecordRequest(40*time.Millisecond, nil, nil)
	c.RecordRequest(50*time.Millisecond, nil, nil)

	stats := c.Stats(0)

	if stats.Total != 5 {
		t.Errorf("expected total 5, got %d", stats.Total)
	}
	if stats.Successes != 5 {
		t.Errorf("expected successes 5, got %d", stats.Successes)
	}
	if stats.Failures != 0 {
		t.Errorf("expected failures 0, got %d", stats.Failures)
	}
	if stats.MinLatency != 10*time.Millisecond {
		t.Errorf("expected min 10ms, got %s", stats.MinLatency)
	}
	if stats.MaxLatency != 50*time.Millisecond {
		t.Errorf("expected max 50ms, got %s", stats.MaxLatency)
	}
	if stats.MeanLatency != 30*time.Millisecond {
		t.Errorf("expected mean 30ms, got %s", stats.MeanLatency)
	}
}

func TestPercentilesCalculations(t *testing.T) {
	c := metrics.NewCollector()

	// 100 samples: 1ms, 2ms, ..., 100ms.
	for i := 1; i <= 100; i++ {
		c.RecordRequest(time.Duration(i)*time.Millisecond, nil, nil)
	}

	stats := c.Stats(0)

	if stats.P50Latency < 49*time.Millisecond || stats.P50Latency > 51*time.Millisecond {
		t.Errorf("expected P50 ~50ms, got %s", stats.P50Latency)
	}
	if stats.P95Latency < 94*time.Millisecond || stats.P95Latency > 96*time.Millisecond {
		t.Errorf("expected P95 ~95ms, got %s", stats.P95Latency)
	}
	if stats.P99Latency < 98*time.Millisecond || stats.P99Latency > 101*time.Millisecond {
		t.Errorf("expected P99 ~99ms, got %s", stats.P99Latency)
	}
	if got := stats.LatencyPercentilesMs["p(95)"]; got < 94 || got > 96 {
		t.Errorf("expected p(95) ~95ms in percentile map, got %.2f", got)
	}
}

func TestWithPercentilesAddsCustomQuantiles(t *testing.T) {
	c := metrics.NewCollector(metrics.WithPercentiles(99.9, 75, 0, 150))
	for i := 1; i <= 1000; i++ {
		c.RecordRequest(time.Duration(i)*time.Millisecond, nil, nil)
	}

	stats := c.Stats(time.Second)
	for _, key := range []string{"p(50)", "p(75)", "p(90)", "p(95)", "p(99)", "p(99.9)"} {
		if _, ok := stats.LatencyPercentilesMs[key]; !ok {
			t.Errorf("missing percentile %s", key)
		}
	}
	if _, ok := stats.LatencyPercentilesMs["p(150)"]; ok {
		t.Error("out of range percentile should be ignored")
	}
	if got := stats.LatencyPercentilesMs["p(75)"]; got < 740 || got > 760 {
		t.Errorf("expected p(75) ~750ms, got %.2f", got)
	}
}

func TestPercentileKey(t *testing.T) {
	tests := map[float64]string{
		95:   "p(95)",
		99.9: "p(99.9)",
		50:   "p(50)",
	}
	for in, want := range tests {
		if got := metrics.PercentileKey(in); got != want {
			t.Errorf("PercentileKey(%v) = %q, want %q", in, got, want)
		}
	}
}

type statusErr struct{ code int }

func (e statusErr) Error() string   { return "bad status" }
func (e statusErr) HTTPStatus() int { return e.code }

func TestFailuresAndStatusCodes(t *testing.T) {
	c := metrics.NewCollector()
	c.RecordRequest(5*time.Millisecond, nil, &metrics.RequestMetadata{Status: 200, BytesReceived: 10})
	c.RecordRequest(5*time.Millisecond, statusErr{503}, &metrics.RequestMetadata{Status: 503})
	c.RecordRequest(5*time.Millisecond, errors.New("dial failed"), nil)
	c.RecordRequest(5*time.Millisecond, nil, &metrics.RequestMetadata{Status: 200, BytesReceived: 5})

	stats := c.Stats(time.Second)
	if stats.Failures != 2 {
		t.Fatalf("expected 2 failures, got %d", stats.Failures)
	}
	if stats.FailureRate != 0.5 {
		t.Errorf("expected failure rate 0.5, got %f", stats.FailureRate)
	}
	if stats.StatusCodes["200"] != 2 || stats.StatusCodes["503"] != 1 || stats.StatusCodes["NO_RESPONSE"] != 1 {
		t.Errorf("unexpected status codes: %v", stats.StatusCodes)
	}
	if stats.Errors["HTTP 503"] != 1 {
		t.Errorf("expected HTTP 503 error bucket, got %v", stats.Errors)
	}
	if stats.BytesReceived != 15 {
		t.Errorf("expected 15 bytes received, got %d", stats.BytesReceived)
	}
	if stats.RequestsPerSec != 4 {
		t.Errorf("expected 4 rps, got %f", stats.RequestsPerSec)
	}
}

func TestChecksKeepInsertionOrder(t *testing.T) {
	c := metrics.NewCollector()
	c.RecordCheck("status is 200", true)
	c.RecordCheck("response time < 200ms", false)
	c.RecordCheck("status is 200", false)
	c.RecordCheck("response time < 200ms", true)
	c.RecordCheck("status is 200", true)

	stats := c.Stats(0)
	if len(stats.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(stats.Checks))
	}
	if stats.Checks[0].Name != "status is 200" || stats.Checks[0].Passes != 2 || stats.Checks[0].Fails != 1 {
		t.Errorf("unexpected first check: %+v", stats.Checks[0])
	}
	if stats.ChecksPassed != 3 || stats.ChecksFailed != 2 {
		t.Errorf("expected 3 passed / 2 failed, got %d / %d", stats.ChecksPassed, stats.ChecksFailed)
	}
	if stats.ChecksRate != 0.6 {
		t.Errorf("expected checks rate 0.6, got %f", stats.ChecksRate)
	}
}

func TestIterationsAndVUs(t *testing.T) {
	c := metrics.NewCollector()
	c.SetVUs(1)
	c.SetVUs(4)
	c.SetVUs(2)
	c.RecordIteration(time.Second)
	c.RecordIteration(3 * time.Second)
	c.RecordInterrupted()

	stats := c.Stats(2 * time.Second)
	if stats.VUs != 2 || stats.VUsMax != 4 {
		t.Errorf("expected vus 2 / max 4, got %d / %d", stats.VUs, stats.VUsMax)
	}
	if stats.Iterations != 2 || stats.InterruptedIterations != 1 {
		t.Errorf("expected 2 iterations and 1 interrupted, got %d / %d", stats.Iterations, stats.InterruptedIterations)
	}
	if stats.MeanIterationMs != 2000 {
		t.Errorf("expected mean iteration 2000ms, got %f", stats.MeanIterationMs)
	}
	if stats.IterationsPerSec != 1 {
		t.Errorf("expected 1 iteration/s, got %f", stats.IterationsPerSec)
	}
}

type recordingSink struct {
	mu       sync.Mutex
	requests int
	failed   int
	checks   map[string]int
	vus      []int
}

func (s *recordingSink) ObserveRequest(_ time.Duration, _ int, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	if failed {
		s.failed++
	}
}

func (s *recordingSink) ObserveCheck(name string, passed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checks == nil {
		s.checks = make(map[string]int)
	}
	if passed {
		s.checks[name]++
	}
}

func (s *recordingSink) ObserveVUs(active int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vus = append(s.vus, active)
}

func TestSinksObserveEverySample(t *testing.T) {
	sink := &recordingSink{}
	c := metrics.NewCollector(metrics.WithSinks(sink, nil))

	c.RecordRequest(time.Millisecond, nil, &metrics.RequestMetadata{Status: 200})
	c.RecordRequest(time.Millisecond, errors.New("boom"), nil)
	c.RecordCheck("status is 200", true)
	c.SetVUs(3)

	if sink.requests != 2 || sink.failed != 1 {
		t.Errorf("expected 2 requests / 1 failed, got %d / %d", sink.requests, sink.failed)
	}
	if sink.checks["status is 200"] != 1 {
		t.Errorf("expected check to be observed, got %v", sink.checks)
	}
	if len(sink.vus) != 1 || sink.vus[0] != 3 {
		t.Errorf("expected vus [3], got %v", sink.vus)
	}
}

func TestSnapshotHistory(t *testing.T) {
	c := metrics.NewCollector()
	c.Start()
	c.RecordRequest(10*time.Millisecond, nil, nil)
	time.Sleep(10 * time.Millisecond)
	first := c.Snapshot()
	if first.TotalRequests != 1 {
		t.Fatalf("expected 1 request in snapshot, got %d", first.TotalRequests)
	}
	if first.CurrentRPS <= 0 {
		t.Errorf("expected positive current rps, got %f", first.CurrentRPS)
	}

	c.RecordRequest(20*time.Millisecond, errors.New("x"), nil)
	c.Snapshot()

	history := c.History()
	if len(history) != 2 {
		t.Fatalf("expected 2 data points, got %d", len(history))
	}
	if history[1].Errors != 1 {
		t.Errorf("expected 1 error in second data point, got %d", history[1].Errors)
	}
	history[0].TotalRequests = 99
	if c.History()[0].TotalRequests != 1 {
		t.Error("History should return a copy")
	}
}

func TestJSONReportSchema(t *testing.T) {
	c := metrics.NewCollector()

	c.RecordRequest(15*time.Millisecond, nil, nil)
	c.RecordRequest(25*time.Millisecond, nil, nil)

	stats := c.Stats(100 * time.Millisecond)

	data, err := json.Marshal(stats)
	if err != nil {
		t.Fatalf("failed to marshal stats: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	requiredFields := []string{"total", "successes", "failures", "failure_rate", "min_latency_ms", "max_latency_ms", "mean_latency_ms", "p50_latency_ms", "p90_latency_ms", "p95_latency_ms", "p99_latency_ms", "duration_ms", "requests_per_sec", "iterations", "vus_max", "checks_rate"}
	for _, field := range requiredFields {
		if _, ok := parsed[field]; !ok {
			t.Errorf("missing field %q in JSON output", field)
		}
	}
}

func TestConcurrentRecording(t *testing.T) {
	c := metrics.NewCollector()

	var wg sync.WaitGroup
	workers := 10
	recordsPerWorker := 100

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < recordsPerWorker; j++ {
				c.RecordRequest(time.Millisecond, nil, nil)
				c.RecordCheck("status is 200", true)
			}
		}()
	}
	wg.Wait()

	stats := c.Stats(0)
	expected := workers * recordsPerWorker
	if stats.Total != int64(expected) {
		t.Errorf("expected total %d, got %d", expected, stats.Total)
	}
	if stats.ChecksPassed != int64(expected) {
		t.Errorf("expected %d passed checks, got %d", expected, stats.ChecksPassed)
	}
}
