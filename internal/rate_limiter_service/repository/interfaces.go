package repository

import (
	"context"

	"github.com/huntaze/message-gateway/internal/core_messaging/domain"
)

// DeadLetterRepository is the durable store for jobs that exhausted their
// retries or failed permanently. Keyed by job ID.
type DeadLetterRepository interface {
	// Upsert writes the record; a second failure of a retried job
	// overwrites the previous record for the same job ID.
	Upsert(ctx context.Context, rec *domain.DeadLetterRecord) error

	// GetByJobID returns domain.ErrDeadLetterNotFound when absent.
	GetByJobID(ctx context.Context, jobID string) (*domain.DeadLetterRecord, error)

	// DeleteByJobID returns domain.ErrDeadLetterNotFound when absent.
	DeleteByJobID(ctx context.Context, jobID string) error

	// List returns records ordered by failure time, newest first.
	List(ctx context.Context, limit, offset int) ([]*domain.DeadLetterRecord, error)

	Count(ctx context.Context) (int64, error)
}
