// Package testtarget provides a configurable search endpoint for exercising
// probes end to end without a real backend.
package testtarget

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Options controls how the target behaves.
type Options struct {
	Latency       time.Duration // base delay before responding
	Jitter        time.Duration // extra random delay in [0, Jitter)
	FailureRatio  float64       // share of requests answered with FailureStatus
	FailureStatus int           // defaults to 500
	Seed          int64         // 0 seeds from the clock
}

// Handler is an http.Handler that answers every path with a small JSON search result.
type Handler struct {
	opts     Options
	requests atomic.Int64
	failures atomic.Int64

	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a Handler for opts.
func New(opts Options) *Handler {
	if opts.FailureStatus == 0 {
		opts.FailureStatus = http.StatusInternalServerError
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Handler{opts: opts, rng: rand.New(rand.NewSource(seed))}
}

// Requests returns how many requests were served.
func (h *Handler) Requests() int64 {
	return h.requests.Load()
}

// Failures returns how many requests were answered with the failure status.
func (h *Handler) Failures() int64 {
	return h.failures.Load()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.requests.Add(1)
	delay, fail := h.draw()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if fail {
		h.failures.Add(1)
		respondJSON(w, h.opts.FailureStatus, map[string]any{"error": "injected failure"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"path":    r.URL.Path,
		"query":   r.URL.Query().Get("query"),
		"results": []string{"alpha", "beta"},
	})
}

func (h *Handler) draw() (time.Duration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delay := h.opts.Latency
	if h.opts.Jitter > 0 {
		delay += time.Duration(h.rng.Int63n(int64(h.opts.Jitter)))
	}
	fail := h.opts.FailureRatio > 0 && h.rng.Float64() < h.opts.FailureRatio
	return delay, fail
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
