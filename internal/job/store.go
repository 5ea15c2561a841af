package job

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned for an identity the store never issued.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when the job's current status does
	// not permit the requested edge.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store owns every job record. Reads return copies; writes are guarded
// status transitions so an edge is never applied twice.
type Store interface {
	// Create assigns an identity, status pending and submittedAt.
	Create(ctx context.Context, rc ReviewContext) (*Job, error)
	Get(ctx context.Context, id string) (*Job, error)
	// List returns all jobs, most recently submitted first. Jobs submitted
	// at the same instant keep insertion order.
	List(ctx context.Context) ([]*Job, error)
	// MarkProcessing moves a pending job to processing.
	MarkProcessing(ctx context.Context, id string) error
	// Complete moves a processing job to completed, attaching result and
	// stamping completedAt in one commit.
	Complete(ctx context.Context, id string, result *ReviewResult) error
	// Fail moves a processing job to failed, attaching msg and stamping
	// completedAt in one commit.
	Fail(ctx context.Context, id string, msg string) error
}
