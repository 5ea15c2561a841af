package job

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/reviewgate/reviewgate/internal/clock"
)

type memoryEntry struct {
	job Job
	seq uint64
}

// MemoryStore keeps jobs in process memory for the life of the process.
type MemoryStore struct {
	mu    sync.RWMutex
	jobs  map[string]*memoryEntry
	seq   uint64
	clock clock.Clock
}

// NewMemoryStore returns an empty store that timestamps with clk.
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	return &MemoryStore{
		jobs:  make(map[string]*memoryEntry),
		clock: clk,
	}
}

func (s *MemoryStore) Create(_ context.Context, rc ReviewContext) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	e := &memoryEntry{
		job: Job{
			ID:            uuid.NewString(),
			Status:        StatusPending,
			ReviewContext: rc,
			SubmittedAt:   s.clock.Now().UTC(),
		},
		seq: s.seq,
	}
	s.jobs[e.job.ID] = e
	return e.job.Clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return e.job.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context) ([]*Job, error) {
	s.mu.RLock()
	entries := make([]*memoryEntry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b *memoryEntry) int {
		if c := b.job.SubmittedAt.Compare(a.job.SubmittedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	jobs := make([]*Job, len(entries))
	for i, e := range entries {
		jobs[i] = e.job.Clone()
	}
	s.mu.RUnlock()
	return jobs, nil
}

func (s *MemoryStore) MarkProcessing(_ context.Context, id string) error {
	return s.transition(id, StatusPending, func(j *Job) {
		j.Status = StatusProcessing
	})
}

func (s *MemoryStore) Complete(_ context.Context, id string, result *ReviewResult) error {
	return s.transition(id, StatusProcessing, func(j *Job) {
		now := s.clock.Now().UTC()
		j.Status = StatusCompleted
		j.CompletedAt = &now
		j.Result = result
	})
}

func (s *MemoryStore) Fail(_ context.Context, id string, msg string) error {
	return s.transition(id, StatusProcessing, func(j *Job) {
		now := s.clock.Now().UTC()
		j.Status = StatusFailed
		j.CompletedAt = &now
		j.Error = &msg
	})
}

// transition applies fn under the write lock iff the job is in status from.
func (s *MemoryStore) transition(id string, from Status, fn func(j *Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if e.job.Status != from {
		return fmt.Errorf("job %s is %s, want %s: %w", id, e.job.Status, from, ErrInvalidTransition)
	}
	fn(&e.job)
	return nil
}
