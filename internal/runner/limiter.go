package runner

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// iterationGate paces iteration starts across all VUs. Wait reports false
// without consuming a permit when stop closes first.
type iterationGate interface {
	Wait(ctx context.Context, stop <-chan struct{}) (bool, error)
}

func newIterationGate(opt Options) iterationGate {
	if opt.RatePerSecond <= 0 {
		return openGate{}
	}
	return &limiterGate{limiter: opt.LimiterFactory(opt.RatePerSecond)}
}

type openGate struct{}

func (openGate) Wait(ctx context.Context, stop <-chan struct{}) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	select {
	case <-stop:
		return false, nil
	default:
		return true, nil
	}
}

// limiterGate delegates pacing to a shared rate.Limiter.
type limiterGate struct {
	limiter *rate.Limiter
}

func (g *limiterGate) Wait(ctx context.Context, stop <-chan struct{}) (bool, error) {
	if g == nil || g.limiter == nil {
		return openGate{}.Wait(ctx, stop)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	res := g.limiter.Reserve()
	if !res.OK() {
		return false, errors.New("rate limiter cannot grant a permit")
	}
	delay := res.Delay()
	if delay == 0 {
		select {
		case <-stop:
			res.Cancel()
			return false, nil
		default:
			return true, nil
		}
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true, nil
	case <-stop:
		res.Cancel()
		return false, nil
	case <-ctx.Done():
		res.Cancel()
		return false, ctx.Err()
	}
}
