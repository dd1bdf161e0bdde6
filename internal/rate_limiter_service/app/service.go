// Package app holds the RateLimiterService facade: the surface the web
// application's request handlers call to enqueue sends and inspect the
// queue. Delivery itself happens asynchronously in the worker; Send never
// blocks on the downstream platform.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/huntaze/message-gateway/internal/core_messaging/domain"
	"github.com/huntaze/message-gateway/internal/rate_limiter_service/queue"
	"github.com/huntaze/message-gateway/internal/rate_limiter_service/repository"
)

// Config carries the rate defaults used for the estimated-send-time answer.
type Config struct {
	RateLimitPerWindow int
	RateWindow         time.Duration
}

// SendRequest is one message submission from the web layer. The caller is
// already authenticated and authorized; this service performs no auth.
type SendRequest struct {
	// JobID is an optional caller-supplied idempotency key; generated
	// when empty. Duplicate submissions inside the queue's dedup window
	// collapse into one deliverable job.
	JobID            string
	CreatorAccountID string
	RecipientID      string
	Payload          domain.MessagePayload
	Priority         int

	// RateLimitOverride replaces the configured per-window cap for this
	// job when > 0.
	RateLimitOverride int
}

// SendReceipt is the accepted-status answer. The send is asynchronous;
// EstimatedSendTime assumes the queue drains at the configured rate.
type SendReceipt struct {
	JobID             string
	QueuePosition     int64
	EstimatedSendTime time.Time
}

// QueueStatus is the dashboard snapshot of queue and dead-letter depth.
type QueueStatus struct {
	Depth                   int64
	InFlight                int64
	DeadLetterCount         int64
	EstimatedProcessingTime time.Duration
}

// RateLimiterService is the public entry point of the subsystem.
type RateLimiterService struct {
	queue   queue.Client
	dlqRepo repository.DeadLetterRepository
	logger  *slog.Logger
	cfg     Config
	nowFn   func() time.Time
}

func NewRateLimiterService(q queue.Client, dlqRepo repository.DeadLetterRepository, logger *slog.Logger, cfg Config) *RateLimiterService {
	return &RateLimiterService{
		queue:   q,
		dlqRepo: dlqRepo,
		logger:  logger.With("service", "rate_limiter_app"),
		cfg:     cfg,
		nowFn:   time.Now,
	}
}

// Send validates the request, enqueues a job and returns an accepted
// receipt. Validation and queue failures surface synchronously; delivery
// failures later are only visible through QueueStatus and the DLQ listing.
func (s *RateLimiterService) Send(ctx context.Context, req SendRequest) (*SendReceipt, error) {
	if err := validateSendRequest(req); err != nil {
		sendRequestsCounter.WithLabelValues("invalid").Inc()
		return nil, err
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}

	now := s.nowFn().UTC()
	job := &domain.OutboundMessageJob{
		JobID:             jobID,
		CreatorAccountID:  req.CreatorAccountID,
		RecipientID:       req.RecipientID,
		Payload:           req.Payload,
		Priority:          req.Priority,
		EnqueuedAt:        now,
		RateLimitOverride: req.RateLimitOverride,
	}

	if _, err := s.queue.Enqueue(ctx, job); err != nil {
		sendRequestsCounter.WithLabelValues("queue_error").Inc()
		s.logger.ErrorContext(ctx, "Failed to enqueue send job", "error", err, "job_id", jobID)
		return nil, fmt.Errorf("failed to enqueue job %s: %w", jobID, err)
	}
	sendRequestsCounter.WithLabelValues("accepted").Inc()

	// Best effort: a stats failure must not fail an already-accepted send.
	var position int64 = 1
	if stats, err := s.queue.Stats(ctx); err == nil && stats.Depth > 0 {
		position = stats.Depth
	}

	s.logger.InfoContext(ctx, "Send job accepted",
		"job_id", jobID,
		"creator_account_id", req.CreatorAccountID,
		"recipient_id", req.RecipientID,
		"queue_position", position)

	return &SendReceipt{
		JobID:             jobID,
		QueuePosition:     position,
		EstimatedSendTime: now.Add(s.drainTime(position)),
	}, nil
}

// QueueStatus reports queue depth, in-flight jobs and dead-letter count.
func (s *RateLimiterService) QueueStatus(ctx context.Context) (*QueueStatus, error) {
	stats, err := s.queue.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}
	dlqCount, err := s.dlqRepo.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return &QueueStatus{
		Depth:                   stats.Depth,
		InFlight:                stats.InFlight,
		DeadLetterCount:         dlqCount,
		EstimatedProcessingTime: s.drainTime(stats.Depth),
	}, nil
}

// RetryDeadLetter re-enqueues a dead-lettered job with a reset attempt
// count. The record itself is removed by the worker once the retried job
// delivers; a job failing again simply overwrites it.
func (s *RateLimiterService) RetryDeadLetter(ctx context.Context, jobID string) error {
	rec, err := s.dlqRepo.GetByJobID(ctx, jobID)
	if err != nil {
		if err == domain.ErrDeadLetterNotFound {
			dlqRetriesCounter.WithLabelValues("not_found").Inc()
		}
		return err
	}

	job := rec.Job
	job.AttemptCount = 0
	job.LastError = nil
	job.RetryOfDeadLetter = true
	job.EnqueuedAt = s.nowFn().UTC()

	if _, err := s.queue.Enqueue(ctx, &job); err != nil {
		dlqRetriesCounter.WithLabelValues("queue_error").Inc()
		return fmt.Errorf("failed to re-enqueue dead-lettered job %s: %w", jobID, err)
	}
	dlqRetriesCounter.WithLabelValues("requeued").Inc()
	s.logger.InfoContext(ctx, "Dead-lettered job re-enqueued", "job_id", jobID)
	return nil
}

// ListDeadLetters returns dead-letter records, newest failures first.
func (s *RateLimiterService) ListDeadLetters(ctx context.Context, limit, offset int) ([]*domain.DeadLetterRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.dlqRepo.List(ctx, limit, offset)
}

// drainTime estimates how long the queue needs to work through depth jobs
// at the configured per-creator rate. A coarse single-creator worst case,
// good enough for a dashboard.
func (s *RateLimiterService) drainTime(depth int64) time.Duration {
	if depth <= 0 || s.cfg.RateLimitPerWindow <= 0 {
		return 0
	}
	windows := (depth + int64(s.cfg.RateLimitPerWindow) - 1) / int64(s.cfg.RateLimitPerWindow)
	return time.Duration(windows) * s.cfg.RateWindow
}

func validateSendRequest(req SendRequest) error {
	if req.CreatorAccountID == "" {
		return &domain.ValidationError{Field: "creator_account_id", Reason: "is required"}
	}
	if req.RecipientID == "" {
		return &domain.ValidationError{Field: "recipient_id", Reason: "is required"}
	}
	if req.Payload.IsEmpty() {
		return &domain.ValidationError{Field: "payload", Reason: "must contain text or at least one attachment"}
	}
	if req.Payload.PriceCents < 0 {
		return &domain.ValidationError{Field: "payload.price_cents", Reason: "must not be negative"}
	}
	if req.Priority < 0 {
		return &domain.ValidationError{Field: "priority", Reason: "must not be negative"}
	}
	if req.RateLimitOverride < 0 {
		return &domain.ValidationError{Field: "rate_limit_override", Reason: "must not be negative"}
	}
	return nil
}
