package probe

import (
	"math/rand"
	"sync"
	"time"
)

// Default think time bounds after each iteration.
const (
	DefaultSleepMin = 1 * time.Second
	DefaultSleepMax = 3 * time.Second
)

// Jitter draws uniformly distributed think times in [min, max).
// It is safe for concurrent use.
type Jitter struct {
	min time.Duration
	max time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewJitter returns a Jitter over [min, max). A seed of 0 seeds from the clock.
// When max <= min every draw returns min.
func NewJitter(min, max time.Duration, seed int64) *Jitter {
	if min < 0 {
		min = 0
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Jitter{
		min: min,
		max: max,
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Next returns the next think time.
func (j *Jitter) Next() time.Duration {
	if j == nil {
		return 0
	}
	span := j.max - j.min
	if span <= 0 {
		return j.min
	}
	j.mu.Lock()
	n := j.rng.Int63n(int64(span))
	j.mu.Unlock()
	return j.min + time.Duration(n)
}

// Bounds returns the configured [min, max) interval.
func (j *Jitter) Bounds() (time.Duration, time.Duration) {
	return j.min, j.max
}

// RandomDelay returns a uniformly random duration in [min, max), or min when
// the interval is empty.
func RandomDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
