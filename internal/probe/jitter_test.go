package probe

import (
	"sync"
	"testing"
	"time"
)

func TestRandomDelayDefaultBounds(t *testing.T) {
	for i := 0; i < 10000; i++ {
		d := RandomDelay(DefaultSleepMin, DefaultSleepMax)
		if d < time.Second || d >= 3*time.Second {
			t.Fatalf("RandomDelay() = %s, want value in [1s, 3s)", d)
		}
	}
}

func TestRandomDelayEmptyInterval(t *testing.T) {
	if got := RandomDelay(2*time.Second, 2*time.Second); got != 2*time.Second {
		t.Errorf("RandomDelay(2s, 2s) = %s, want 2s", got)
	}
	if got := RandomDelay(2*time.Second, time.Second); got != 2*time.Second {
		t.Errorf("RandomDelay(2s, 1s) = %s, want min", got)
	}
}

func TestJitterBoundsAndSpread(t *testing.T) {
	j := NewJitter(time.Second, 3*time.Second, 42)
	var low, high int
	for i := 0; i < 10000; i++ {
		d := j.Next()
		if d < time.Second || d >= 3*time.Second {
			t.Fatalf("Next() = %s, want value in [1s, 3s)", d)
		}
		if d < 2*time.Second {
			low++
		} else {
			high++
		}
	}
	// A uniform draw puts roughly half of the samples on each side of 2s.
	if low < 4000 || high < 4000 {
		t.Errorf("distribution skewed: %d below 2s, %d above", low, high)
	}
}

func TestJitterDeterministicSeed(t *testing.T) {
	a := NewJitter(0, time.Second, 99)
	b := NewJitter(0, time.Second, 99)
	for i := 0; i < 100; i++ {
		if x, y := a.Next(), b.Next(); x != y {
			t.Fatalf("draw %d differs: %s != %s", i, x, y)
		}
	}
}

func TestJitterDegenerate(t *testing.T) {
	tests := []struct {
		name     string
		min, max time.Duration
		want     time.Duration
	}{
		{"zero", 0, 0, 0},
		{"fixed", 500 * time.Millisecond, 500 * time.Millisecond, 500 * time.Millisecond},
		{"inverted", time.Second, 0, time.Second},
		{"negative min", -time.Second, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewJitter(tt.min, tt.max, 1).Next(); got != tt.want {
				t.Errorf("Next() = %s, want %s", got, tt.want)
			}
		})
	}

	var nilJitter *Jitter
	if got := nilJitter.Next(); got != 0 {
		t.Errorf("nil Jitter Next() = %s, want 0", got)
	}
}

func TestJitterConcurrentUse(t *testing.T) {
	j := NewJitter(time.Millisecond, 2*time.Millisecond, 0)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				if d := j.Next(); d < time.Millisecond || d >= 2*time.Millisecond {
					t.Errorf("Next() = %s out of range", d)
					return
				}
			}
		}()
	}
	wg.Wait()
}
