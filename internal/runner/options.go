package runner

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultGracefulRampDown is how long a retired VU may finish its iteration before being cancelled.
	DefaultGracefulRampDown = 30 * time.Second
	// DefaultGracefulStop is how long VUs may finish their iteration after the last stage.
	DefaultGracefulStop = 30 * time.Second

	controllerTick = 100 * time.Millisecond
)

// Requester abstracts executing a single iteration.
// Implementations should return an error for failed requests.
type Requester interface {
	Do(ctx context.Context) error
}

// Stage is a time window during which the VU count ramps linearly to Target.
type Stage struct {
	Duration time.Duration
	Target   int
}

// Options configure the Runner.
type Options struct {
	Stages           []Stage                     // ramp profile, executed in order
	StartVUs         int                         // VU count at the start of the first stage
	RatePerSecond    int                         // iteration starts per second across all VUs (0 means unlimited)
	GracefulRampDown time.Duration               // grace period for VUs retired during a ramp-down
	GracefulStop     time.Duration               // grace period for VUs still running after the last stage
	Requester        Requester                   // iteration executor (required)
	LimiterFactory   func(rps int) *rate.Limiter // optional injection for tests
	Logger           *zap.Logger                 // optional, defaults to a no-op logger
	OnVUs            func(active int)            // optional, called whenever the active VU count changes
}

func (o *Options) normalize() {
	if o.StartVUs < 0 {
		o.StartVUs = 0
	}
	if o.RatePerSecond < 0 {
		o.RatePerSecond = 0
	}
	if o.GracefulRampDown <= 0 {
		o.GracefulRampDown = DefaultGracefulRampDown
	}
	if o.GracefulStop <= 0 {
		o.GracefulStop = DefaultGracefulStop
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(rps int) *rate.Limiter {
			if rps <= 0 {
				return rate.NewLimiter(rate.Inf, 0)
			}
			// Burst of one keeps the cap a hard ceiling within every second.
			return rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}
