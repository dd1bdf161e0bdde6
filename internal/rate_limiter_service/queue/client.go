// Package queue wraps the managed queue behind enqueue / receive /
// acknowledge / delay / dead-letter semantics. The queue owns the job
// lifecycle: a received job stays invisible to other workers until its
// visibility timeout expires, it is acknowledged, or it is released.
package queue

import (
	"context"
	"time"

	"github.com/huntaze/message-gateway/internal/core_messaging/domain"
)

// Delivery is one received job plus the opaque handle needed to settle it.
// The same Delivery must be settled exactly once, by Acknowledge,
// ReleaseWithDelay, RetryWithDelay or MoveToDeadLetter.
type Delivery struct {
	Job *domain.OutboundMessageJob

	// Token identifies the underlying queue message; implementation-specific.
	Token any
}

// Stats is a point-in-time snapshot of queue depth for dashboards.
type Stats struct {
	Depth    int64 // jobs stored in the queue, including delayed ones
	InFlight int64 // jobs delivered to a worker and not yet settled
}

// Client is the managed-queue wrapper. All operations are network calls;
// implementations hold no job state of their own.
type Client interface {
	// Enqueue stores the job and returns its ID. Idempotent on the job ID
	// within the queue's dedup window: a duplicate publish yields the same
	// single deliverable job.
	Enqueue(ctx context.Context, job *domain.OutboundMessageJob) (string, error)

	// ReceiveBatch returns up to maxMessages jobs, each invisible to other
	// receivers for the configured visibility timeout. May long-poll; an
	// empty queue returns an empty slice, not an error.
	ReceiveBatch(ctx context.Context, maxMessages int) ([]Delivery, error)

	// Acknowledge permanently removes the job. Call only after successful
	// delivery.
	Acknowledge(ctx context.Context, d Delivery) error

	// ReleaseWithDelay returns the job to the queue unchanged, visible
	// again after delay. Used for rate denials, where the attempt count
	// must not move.
	ReleaseWithDelay(ctx context.Context, d Delivery, delay time.Duration) error

	// RetryWithDelay re-queues the job with its mutated attempt count and
	// last error, visible again after delay. Used for retryable delivery
	// failures.
	RetryWithDelay(ctx context.Context, d Delivery, delay time.Duration) error

	// MoveToDeadLetter writes a dead-letter record for the job and removes
	// it from the main queue.
	MoveToDeadLetter(ctx context.Context, d Delivery, finalError string) error

	Stats(ctx context.Context) (Stats, error)
}
