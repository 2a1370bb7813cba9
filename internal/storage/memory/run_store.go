package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/catalog-mirror/internal/crawler"
)

// RunStore provides an in-memory implementation for development/testing. It
// also collects manifest entries, so one value can back both interfaces.
type RunStore struct {
	mu       sync.RWMutex
	runs     map[string]crawler.Run
	manifest map[string][]crawler.ManifestEntry
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:     make(map[string]crawler.Run),
		manifest: make(map[string][]crawler.ManifestEntry),
	}
}

// CreateRun stores a new run in queued status.
func (s *RunStore) CreateRun(_ context.Context, run crawler.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	if run.Status == "" {
		run.Status = crawler.RunStatusQueued
	}
	s.runs[run.ID] = run
	return nil
}

// MarkRunning flags a run as started.
func (s *RunStore) MarkRunning(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return crawler.ErrRunNotFound
	}
	run.Status = crawler.RunStatusRunning
	if run.Started == nil {
		run.Started = pointerTime(time.Now().UTC())
	}
	s.runs[runID] = run
	return nil
}

// Finish stores the result and the terminal status derived from it.
func (s *RunStore) Finish(_ context.Context, runID string, result crawler.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return crawler.ErrRunNotFound
	}
	run.Status = crawler.RunStatusSucceeded
	if !result.Succeeded() {
		run.Status = crawler.RunStatusFailed
	}
	finished := result.FinishedAt
	if finished.IsZero() {
		finished = time.Now().UTC()
	}
	run.Finished = pointerTime(finished)
	res := result
	res.Failures = append([]crawler.Failure(nil), result.Failures...)
	run.Result = &res
	s.runs[runID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (crawler.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return crawler.Run{}, crawler.ErrRunNotFound
	}
	return run, nil
}

// ListRuns returns every run, newest submission first.
func (s *RunStore) ListRuns(_ context.Context) ([]crawler.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Submitted.Equal(out[j].Submitted) {
			return out[i].ID > out[j].ID
		}
		return out[i].Submitted.After(out[j].Submitted)
	})
	return out, nil
}

// RecordEntry appends a manifest row for a run.
func (s *RunStore) RecordEntry(_ context.Context, entry crawler.ManifestEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifest[entry.RunID] = append(s.manifest[entry.RunID], entry)
	return nil
}

// Entries returns the manifest rows recorded for a run.
func (s *RunStore) Entries(runID string) []crawler.ManifestEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.manifest[runID]
	out := make([]crawler.ManifestEntry, len(entries))
	copy(out, entries)
	return out
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
