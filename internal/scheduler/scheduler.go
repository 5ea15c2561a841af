// Package scheduler drives review jobs through their lifecycle:
// pending → processing → completed | failed.
//
// The scheduler is the only writer of job status. It hands new jobs to an
// Executor, applies the executor's reports to the store as guarded
// transitions and fans every applied transition out to subscribers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/reviewgate/reviewgate/internal/job"
	"github.com/reviewgate/reviewgate/internal/telemetry"
	"github.com/reviewgate/reviewgate/internal/worker"
)

// Event is a status change delivered to subscribers.
type Event struct {
	Event string // "status" or "result"
	Job   *job.Job
}

// Notifier is told about every job that reaches a terminal state.
type Notifier interface {
	Notify(ctx context.Context, j *job.Job)
}

// Scheduler owns job transitions. It implements worker.Reporter.
type Scheduler struct {
	store    job.Store
	executor worker.Executor
	notifier Notifier
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.RWMutex
	subs map[string][]chan Event
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithNotifier sends terminal snapshots to n.
func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// New creates a Scheduler that writes to store and runs work on exec.
func New(store job.Store, exec worker.Executor, logger *slog.Logger, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		store:    store,
		executor: exec,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[string][]chan Event),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close stops background notifications. Armed executor timers are left
// alone; their transitions still apply while the process lives.
func (s *Scheduler) Close() {
	s.cancel()
}

// Submit creates a pending job and hands it to the executor.
func (s *Scheduler) Submit(ctx context.Context, rc job.ReviewContext) (*job.Job, error) {
	j, err := s.store.Create(ctx, rc)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	telemetry.ReviewsSubmitted.Inc()
	telemetry.ReviewsInFlight.Inc()
	telemetry.ReviewTransitions.WithLabelValues(string(job.StatusPending)).Inc()
	s.logger.Info("review submitted",
		"job_id", j.ID,
		"repository_id", rc.RepositoryID,
		"pull_request_id", rc.PullRequestID,
		"iteration_id", rc.IterationID,
	)

	s.executor.Execute(*j, s)
	return j, nil
}

// Started moves the job to processing. A job that is gone or already past
// pending is left alone.
func (s *Scheduler) Started(id string) {
	if err := s.store.MarkProcessing(s.ctx, id); err != nil {
		s.logSkipped("processing", id, err)
		return
	}
	telemetry.ReviewTransitions.WithLabelValues(string(job.StatusProcessing)).Inc()
	s.logger.Debug("review processing", "job_id", id)

	if j, err := s.store.Get(s.ctx, id); err == nil {
		s.notify(id, Event{Event: "status", Job: j})
	}
}

// Finished commits the terminal state. If the start report has not been
// applied yet the job is moved through processing first, so no job skips
// a state.
func (s *Scheduler) Finished(id string, outcome worker.Outcome) {
	current, err := s.store.Get(s.ctx, id)
	if err != nil {
		s.logSkipped("terminal", id, err)
		return
	}
	if current.Status == job.StatusPending {
		s.Started(id)
	}

	if outcome.Failed() {
		err = s.store.Fail(s.ctx, id, outcome.Err)
	} else {
		err = s.store.Complete(s.ctx, id, outcome.Result)
	}
	if err != nil {
		s.logSkipped("terminal", id, err)
		return
	}

	final, err := s.store.Get(s.ctx, id)
	if err != nil {
		s.logger.Error("reload finished job", "job_id", id, "error", err)
		return
	}
	telemetry.ReviewTransitions.WithLabelValues(string(final.Status)).Inc()
	telemetry.ReviewsInFlight.Dec()
	s.logger.Info("review finished", "job_id", id, "status", final.Status)

	s.notifyAndClose(id, Event{Event: "result", Job: final})
	if s.notifier != nil {
		s.notifier.Notify(s.ctx, final)
	}
}

func (s *Scheduler) logSkipped(edge, id string, err error) {
	if errors.Is(err, job.ErrNotFound) || errors.Is(err, job.ErrInvalidTransition) {
		s.logger.Debug("transition skipped", "edge", edge, "job_id", id, "reason", err)
		return
	}
	s.logger.Error("transition failed", "edge", edge, "job_id", id, "error", err)
}
