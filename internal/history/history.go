// Package history keeps an append-only JSONL log of probe runs so results can
// be compared across runs. Writers and readers coordinate through a lock file.
package history

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/gofrs/flock"
	"github.com/oklog/ulid/v2"

	"github.com/torosent/stagefire/internal/output"
)

const lockRetryDelay = 50 * time.Millisecond

// Entry is one recorded run.
type Entry struct {
	RunID            string    `json:"run_id"`
	StartedAt        time.Time `json:"started_at"`
	Profile          string    `json:"profile,omitempty"`
	Target           string    `json:"target"`
	DurationMs       float64   `json:"duration_ms"`
	Requests         int64     `json:"requests"`
	FailureRate      float64   `json:"failure_rate"`
	P95Ms            float64   `json:"p95_ms"`
	ChecksRate       float64   `json:"checks_rate"`
	MaxVUs           int       `json:"max_vus"`
	Passed           bool      `json:"passed"`
	FailedThresholds []string  `json:"failed_thresholds,omitempty"`
}

// NewRunID returns a ULID for a run started at t. entropy may be nil.
func NewRunID(t time.Time, entropy io.Reader) string {
	if entropy == nil {
		entropy = rand.Reader
	}
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// FromReport summarizes a finished run.
func FromReport(r output.Report, startedAt time.Time) Entry {
	e := Entry{
		RunID:       r.Metadata.RunID,
		StartedAt:   startedAt.UTC(),
		Profile:     r.Metadata.Profile,
		Target:      r.Metadata.TargetURL,
		DurationMs:  r.Stats.DurationMs,
		Requests:    r.Stats.Total,
		FailureRate: r.Stats.FailureRate,
		P95Ms:       r.Stats.P95LatencyMs,
		ChecksRate:  r.Stats.ChecksRate,
		MaxVUs:      r.Stats.VUsMax,
		Passed:      r.Passed,
	}
	if e.RunID == "" {
		e.RunID = NewRunID(startedAt, nil)
	}
	if r.Thresholds != nil {
		for _, tr := range r.Thresholds.Results {
			if !tr.Pass {
				e.FailedThresholds = append(e.FailedThresholds, tr.Threshold)
			}
		}
	}
	return e
}

// Store appends to and reads from a history file.
type Store struct {
	path string
	lock *flock.Flock
}

// NewStore returns a Store for path. The file is created on first Append.
func NewStore(path string) *Store {
	return &Store{path: path, lock: flock.New(path + ".lock")}
}

// Path returns the history file location.
func (s *Store) Path() string {
	return s.path
}

// Append writes e as one JSON line under an exclusive lock.
func (s *Store) Append(ctx context.Context, e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode history entry: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create history dir: %w", err)
		}
	}

	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock history file: %w", err)
	}
	if !locked {
		return errors.New("lock history file: not acquired")
	}
	defer s.lock.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history file: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("write history file: %w", err)
	}
	return f.Close()
}

// Recent returns up to n of the newest entries, newest first. n <= 0 returns all.
// Lines that fail to decode are skipped.
func (s *Store) Recent(ctx context.Context, n int) ([]Entry, error) {
	// The lock file lives beside the history file, so a missing directory means no runs yet.
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	locked, err := s.lock.TryRLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock history file: %w", err)
	}
	if !locked {
		return nil, errors.New("lock history file: not acquired")
	}
	defer s.lock.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read history file: %w", err)
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}

// PrintEntries writes entries as an aligned table.
func PrintEntries(w io.Writer, entries []Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSTARTED\tPROFILE\tREQUESTS\tFAILED\tP95\tCHECKS\tVUS\tRESULT")
	for _, e := range entries {
		result := "pass"
		if !e.Passed {
			result = "FAIL"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.2f%%\t%.1fms\t%.1f%%\t%d\t%s\n",
			e.RunID,
			e.StartedAt.Local().Format(time.DateTime),
			e.Profile,
			e.Requests,
			e.FailureRate*100,
			e.P95Ms,
			e.ChecksRate*100,
			e.MaxVUs,
			result,
		)
	}
	return tw.Flush()
}
