package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/stagefire/internal/metrics"
)

// TargetFunc reports the scheduled VU target and stage index at elapsed time into the run.
type TargetFunc func(elapsed time.Duration) (vus int, stage int, ok bool)

// ProgressReporter displays real-time progress updates.
type ProgressReporter struct {
	collector *metrics.Collector
	target    TargetFunc
	ticker    *time.Ticker
	done      chan struct{}
	finished  chan struct{}
	writer    io.Writer
	active    int32
	start     time.Time
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
// target may be nil, in which case the stage column is omitted.
func NewProgressReporter(collector *metrics.Collector, target TargetFunc, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		collector: collector,
		target:    target,
		ticker:    time.NewTicker(interval),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
		writer:    writer,
		start:     time.Now(),
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
		fmt.Fprintln(p.writer)
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprint(p.writer, "\r"+p.line(time.Since(p.start)))
		case <-p.done:
			return
		}
	}
}

func (p *ProgressReporter) line(elapsed time.Duration) string {
	stats := p.collector.Stats(elapsed)
	line := fmt.Sprintf("%s | VUs: %d", elapsed.Truncate(time.Second), stats.VUs)
	if p.target != nil {
		if vus, stage, ok := p.target(elapsed); ok {
			line += fmt.Sprintf("/%d | Stage: %d", vus, stage+1)
		}
	}
	line += fmt.Sprintf(" | Requests: %d | Failed: %.1f%% | RPS: %.1f | P95: %.1fms",
		stats.Total, stats.FailureRate*100, stats.RequestsPerSec, stats.P95LatencyMs)
	if len(stats.Checks) > 0 {
		line += fmt.Sprintf(" | Checks: %.1f%%", stats.ChecksRate*100)
	}
	return line
}
