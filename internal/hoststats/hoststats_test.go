package hoststats

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		name    string
		samples []Sample
		want    Summary
	}{
		{name: "empty", want: Summary{}},
		{
			name: "idle generator",
			samples: []Sample{
				{CPUPercent: 10, MemUsedPercent: 40, ProcessRSS: 100},
				{CPUPercent: 30, MemUsedPercent: 42, ProcessRSS: 300},
			},
			want: Summary{Samples: 2, MeanCPUPercent: 20, MaxCPUPercent: 30, MaxMemUsedPercent: 42, MaxProcessRSS: 300},
		},
		{
			name: "saturated generator",
			samples: []Sample{
				{CPUPercent: 50},
				{CPUPercent: 95},
			},
			want: Summary{Samples: 2, MeanCPUPercent: 72.5, MaxCPUPercent: 95, Saturated: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Summarize(tt.samples); got != tt.want {
				t.Errorf("Summarize() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSamplerRun(t *testing.T) {
	var calls int64
	s := NewSampler(10*time.Millisecond, zap.NewNop())
	s.collect = func() (Sample, error) {
		n := atomic.AddInt64(&calls, 1)
		if n == 2 {
			return Sample{}, errors.New("transient")
		}
		return Sample{Timestamp: time.Now(), CPUPercent: float64(n)}, nil
	}

	if _, ok := s.Latest(); ok {
		t.Fatal("Latest() before Run should report no sample")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	sum := s.Summary()
	if sum.Samples < 2 {
		t.Fatalf("Samples = %d, want several samples with the failed one skipped", sum.Samples)
	}
	if n := atomic.LoadInt64(&calls); int64(sum.Samples) >= n {
		t.Errorf("Samples = %d, calls = %d; failed sample should be skipped", sum.Samples, n)
	}
	latest, ok := s.Latest()
	if !ok || latest.CPUPercent != sum.MaxCPUPercent {
		t.Errorf("Latest() = %+v, want the highest sample since values increase", latest)
	}
}

func TestCollectSampleReadsHost(t *testing.T) {
	s := NewSampler(0, nil)
	sample, err := s.collect()
	if err != nil {
		t.Skipf("host metrics unavailable: %v", err)
	}
	if sample.CPUPercent < 0 || sample.CPUPercent > 100 {
		t.Errorf("CPUPercent = %v, want 0-100", sample.CPUPercent)
	}
	if sample.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
}
