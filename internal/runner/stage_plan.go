package runner

import (
	"math"
	"time"
)

type stagePlan struct {
	segments []stageSegment
	duration time.Duration
	maxVUs   int
}

type stageSegment struct {
	start    time.Duration
	duration time.Duration
	fromVUs  float64
	toVUs    float64
}

func compileStagePlan(startVUs int, stages []Stage) *stagePlan {
	if len(stages) == 0 {
		return nil
	}

	plan := &stagePlan{maxVUs: startVUs}
	var offset time.Duration
	from := float64(startVUs)
	for _, stage := range stages {
		if stage.Duration <= 0 {
			continue
		}
		to := float64(stage.Target)
		if to < 0 {
			to = 0
		}
		plan.segments = append(plan.segments, stageSegment{
			start:    offset,
			duration: stage.Duration,
			fromVUs:  from,
			toVUs:    to,
		})
		if stage.Target > plan.maxVUs {
			plan.maxVUs = stage.Target
		}
		offset += stage.Duration
		from = to
	}

	if len(plan.segments) == 0 {
		return nil
	}
	plan.duration = offset
	return plan
}

// vusAt returns the interpolated VU target and the index of the active stage.
// ok is false once elapsed is past the end of the plan.
func (p *stagePlan) vusAt(elapsed time.Duration) (vus float64, stage int, ok bool) {
	if p == nil || len(p.segments) == 0 {
		return 0, 0, false
	}
	if elapsed < 0 {
		elapsed = 0
	}
	for i, seg := range p.segments {
		end := seg.start + seg.duration
		if elapsed < seg.start || elapsed >= end {
			continue
		}
		if seg.fromVUs == seg.toVUs {
			return seg.fromVUs, i, true
		}
		progress := float64(elapsed-seg.start) / float64(seg.duration)
		if progress < 0 {
			progress = 0
		} else if progress > 1 {
			progress = 1
		}
		return seg.fromVUs + (seg.toVUs-seg.fromVUs)*progress, i, true
	}
	return 0, len(p.segments) - 1, false
}

// targetAt rounds the interpolated VU count to the nearest whole VU.
func (p *stagePlan) targetAt(elapsed time.Duration) (int, int, bool) {
	vus, stage, ok := p.vusAt(elapsed)
	if !ok {
		return 0, stage, false
	}
	return int(math.Round(vus)), stage, true
}

func (p *stagePlan) totalDuration() time.Duration {
	if p == nil {
		return 0
	}
	return p.duration
}
