// Package hoststats samples CPU and memory of the machine generating load, so
// reports can flag results skewed by a saturated generator.
package hoststats

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// SaturationCPUPercent is the host CPU level above which results are flagged.
const SaturationCPUPercent = 90.0

// Sample is one reading of host and process resource usage.
type Sample struct {
	Timestamp      time.Time `json:"timestamp"`
	CPUPercent     float64   `json:"cpu_percent"`
	MemUsedPercent float64   `json:"mem_used_percent"`
	Load1          float64   `json:"load1"`
	ProcessCPU     float64   `json:"process_cpu_percent"`
	ProcessRSS     uint64    `json:"process_rss_bytes"`
}

// Summary aggregates the samples of one run.
type Summary struct {
	Samples           int     `json:"samples"`
	MeanCPUPercent    float64 `json:"mean_cpu_percent"`
	MaxCPUPercent     float64 `json:"max_cpu_percent"`
	MaxMemUsedPercent float64 `json:"max_mem_used_percent"`
	MaxProcessRSS     uint64  `json:"max_process_rss_bytes"`
	Saturated         bool    `json:"saturated"`
}

// Sampler collects a Sample every interval until its context is done.
type Sampler struct {
	interval time.Duration
	logger   *zap.Logger
	collect  func() (Sample, error)

	mu      sync.Mutex
	samples []Sample
}

// NewSampler returns a Sampler reading host metrics through gopsutil.
func NewSampler(interval time.Duration, logger *zap.Logger) *Sampler {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Debug("process metrics unavailable", zap.Error(err))
		proc = nil
	}
	return &Sampler{
		interval: interval,
		logger:   logger,
		collect:  func() (Sample, error) { return collectSample(proc) },
	}
}

// Run samples until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample, err := s.collect()
			if err != nil {
				s.logger.Debug("host sample failed", zap.Error(err))
				continue
			}
			s.mu.Lock()
			s.samples = append(s.samples, sample)
			s.mu.Unlock()
		}
	}
}

// Latest returns the most recent sample.
func (s *Sampler) Latest() (Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.samples) == 0 {
		return Sample{}, false
	}
	return s.samples[len(s.samples)-1], true
}

// Summary aggregates all samples taken so far.
func (s *Sampler) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summarize(s.samples)
}

// Summarize aggregates samples into a Summary.
func Summarize(samples []Sample) Summary {
	sum := Summary{Samples: len(samples)}
	if len(samples) == 0 {
		return sum
	}
	var total float64
	for _, smp := range samples {
		total += smp.CPUPercent
		if smp.CPUPercent > sum.MaxCPUPercent {
			sum.MaxCPUPercent = smp.CPUPercent
		}
		if smp.MemUsedPercent > sum.MaxMemUsedPercent {
			sum.MaxMemUsedPercent = smp.MemUsedPercent
		}
		if smp.ProcessRSS > sum.MaxProcessRSS {
			sum.MaxProcessRSS = smp.ProcessRSS
		}
	}
	sum.MeanCPUPercent = total / float64(len(samples))
	sum.Saturated = sum.MaxCPUPercent >= SaturationCPUPercent
	return sum
}

func collectSample(proc *process.Process) (Sample, error) {
	sample := Sample{Timestamp: time.Now()}

	cpuPercent, err := cpu.Percent(0, false)
	if err != nil {
		return Sample{}, err
	}
	if len(cpuPercent) > 0 {
		sample.CPUPercent = cpuPercent[0]
	}

	if memInfo, err := mem.VirtualMemory(); err == nil && memInfo != nil {
		sample.MemUsedPercent = memInfo.UsedPercent
	}

	// Load average (Unix systems)
	if loadAvg, err := load.Avg(); err == nil && loadAvg != nil {
		sample.Load1 = loadAvg.Load1
	}

	if proc != nil {
		if pct, err := proc.CPUPercent(); err == nil {
			sample.ProcessCPU = pct
		}
		if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
			sample.ProcessRSS = memInfo.RSS
		}
	}
	return sample, nil
}
