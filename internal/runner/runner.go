package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Result captures execution summary.
type Result struct {
	Iterations  int64 // completed iterations, failed ones included
	Errors      int64 // completed iterations that returned an error
	Interrupted int64 // iterations cut short by a ramp-down, stop or cancellation
	MaxVUs      int
	Duration    time.Duration
}

// Runner executes a stage-ramped population of VUs, each looping over the Requester.
type Runner struct {
	opt  Options
	plan *stagePlan
	gate iterationGate

	iterations  int64
	errs        int64
	interrupted int64
}

// vuHandle controls one running VU goroutine.
type vuHandle struct {
	id     int
	retire chan struct{}
	cancel context.CancelFunc
	timer  *time.Timer
}

func New(opt Options) *Runner {
	opt.normalize()
	return &Runner{
		opt:  opt,
		plan: compileStagePlan(opt.StartVUs, opt.Stages),
		gate: newIterationGate(opt),
	}
}

// TotalDuration is the summed duration of all stages, grace periods excluded.
func (r *Runner) TotalDuration() time.Duration {
	return r.plan.totalDuration()
}

// TargetAt reports the VU target and the index of the active configured stage
// at elapsed time into the run.
func (r *Runner) TargetAt(elapsed time.Duration) (vus int, stage int, ok bool) {
	vus, segment, ok := r.plan.targetAt(elapsed)
	return vus, r.stageIndex(segment), ok
}

func (r *Runner) Run(ctx context.Context) Result {
	start := time.Now()
	log := r.opt.Logger

	var (
		wg      sync.WaitGroup
		active  []*vuHandle
		retired []*vuHandle
		nextID  int
		maxVUs  int
	)

	spawn := func() {
		nextID++
		vuCtx, cancel := context.WithCancel(ctx)
		h := &vuHandle{id: nextID, retire: make(chan struct{}), cancel: cancel}
		active = append(active, h)
		if len(active) > maxVUs {
			maxVUs = len(active)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer cancel()
			r.runVU(vuCtx, h)
		}()
	}

	// retire signals the newest VU to stop after its current iteration and
	// cancels it once grace has elapsed. IDs are never reused.
	retire := func(grace time.Duration) {
		h := active[len(active)-1]
		active = active[:len(active)-1]
		close(h.retire)
		h.timer = time.AfterFunc(grace, h.cancel)
		retired = append(retired, h)
	}

	scale := func(target int) {
		before := len(active)
		for len(active) < target {
			spawn()
		}
		for len(active) > target {
			retire(r.opt.GracefulRampDown)
		}
		if len(active) != before {
			log.Debug("vus changed", zap.Int("from", before), zap.Int("to", len(active)))
			if r.opt.OnVUs != nil {
				r.opt.OnVUs(len(active))
			}
		}
	}

	if r.plan != nil {
		currentStage := -1
		ticker := time.NewTicker(controllerTick)
	control:
		for {
			target, stage, ok := r.plan.targetAt(time.Since(start))
			if !ok {
				break
			}
			if stage != currentStage {
				currentStage = stage
				idx := r.stageIndex(stage)
				log.Info("stage started",
					zap.Int("stage", idx+1),
					zap.Int("target", r.opt.Stages[idx].Target),
					zap.Duration("duration", r.opt.Stages[idx].Duration),
				)
			}
			scale(target)
			select {
			case <-ctx.Done():
				break control
			case <-ticker.C:
			}
		}
		ticker.Stop()
	}

	if ctx.Err() == nil && len(active) > 0 {
		log.Info("stages complete, stopping vus", zap.Int("vus", len(active)), zap.Duration("graceful_stop", r.opt.GracefulStop))
	}
	for len(active) > 0 {
		retire(r.opt.GracefulStop)
	}
	if r.opt.OnVUs != nil {
		r.opt.OnVUs(0)
	}

	wg.Wait()
	for _, h := range retired {
		h.timer.Stop()
		h.cancel()
	}

	return Result{
		Iterations:  atomic.LoadInt64(&r.iterations),
		Errors:      atomic.LoadInt64(&r.errs),
		Interrupted: atomic.LoadInt64(&r.interrupted),
		MaxVUs:      maxVUs,
		Duration:    time.Since(start),
	}
}

func (r *Runner) runVU(ctx context.Context, h *vuHandle) {
	var iteration int64
	for {
		select {
		case <-h.retire:
			return
		case <-ctx.Done():
			return
		default:
		}

		// A VU retired while waiting hands its permit back to the others.
		if admitted, err := r.gate.Wait(ctx, h.retire); err != nil || !admitted {
			return
		}

		if r.opt.Requester == nil {
			return
		}
		err := r.opt.Requester.Do(withVU(ctx, VUInfo{ID: h.id, Iteration: iteration}))
		iteration++
		if ctx.Err() != nil {
			atomic.AddInt64(&r.interrupted, 1)
			return
		}
		atomic.AddInt64(&r.iterations, 1)
		if err != nil {
			atomic.AddInt64(&r.errs, 1)
		}
	}
}

// stageIndex maps a plan segment back to its configured stage, skipping zero-length stages.
func (r *Runner) stageIndex(segment int) int {
	n := -1
	for i, s := range r.opt.Stages {
		if s.Duration > 0 {
			n++
		}
		if n == segment {
			return i
		}
	}
	return len(r.opt.Stages) - 1
}
