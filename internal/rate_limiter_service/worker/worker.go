// Package worker implements the rate limiter worker: the poll loop that
// drains the send queue, enforces per-creator rate windows, performs
// delivery and routes failures to retry or the dead-letter store.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/huntaze/message-gateway/internal/core_messaging/domain"
	"github.com/huntaze/message-gateway/internal/rate_limiter_service/queue"
	"github.com/huntaze/message-gateway/internal/rate_limiter_service/ratewindow"
	"github.com/huntaze/message-gateway/internal/rate_limiter_service/repository"
	"github.com/huntaze/message-gateway/internal/rate_limiter_service/sender"
)

// Config holds the worker's tuning knobs. Every field maps to a
// configuration key; see internal/platform/config.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	Concurrency  int // cap on simultaneous downstream sends

	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	SendTimeout time.Duration

	RateLimit           ratewindow.Limit
	RateStoreRetryDelay time.Duration
}

// Worker runs the poll-process loop. Instances are horizontally scalable:
// all coordination happens through the queue and the rate-window store.
type Worker struct {
	queue   queue.Client
	window  ratewindow.Window
	sender  sender.Sender
	dlqRepo repository.DeadLetterRepository
	logger  *slog.Logger
	cfg     Config
}

func New(
	q queue.Client,
	window ratewindow.Window,
	snd sender.Sender,
	dlqRepo repository.DeadLetterRepository,
	logger *slog.Logger,
	cfg Config,
) *Worker {
	return &Worker{
		queue:   q,
		window:  window,
		sender:  snd,
		dlqRepo: dlqRepo,
		logger:  logger.With("service", "rate_limiter_worker"),
		cfg:     cfg,
	}
}

// Run polls until ctx is cancelled. In-flight jobs are always finished
// before Run returns; each job carries its own detached timeout so a
// shutdown never drops a half-processed delivery.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Rate limiter worker starting",
		"batch_size", w.cfg.BatchSize,
		"concurrency", w.cfg.Concurrency,
		"max_attempts", w.cfg.MaxAttempts,
		"rate_limit_per_window", w.cfg.RateLimit.PerWindow,
		"rate_window", w.cfg.RateLimit.Window.String())

	sem := make(chan struct{}, w.cfg.Concurrency)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Rate limiter worker stopping")
			return nil
		default:
		}

		deliveries, err := w.queue.ReceiveBatch(ctx, w.cfg.BatchSize)
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to receive batch from queue", "error", err)
			w.sleep(ctx, w.cfg.PollInterval)
			continue
		}
		if len(deliveries) == 0 {
			w.updateGauges(ctx)
			w.sleep(ctx, w.cfg.PollInterval)
			continue
		}

		var wg sync.WaitGroup
		for _, d := range deliveries {
			sem <- struct{}{}
			wg.Add(1)
			go func(d queue.Delivery) {
				defer wg.Done()
				defer func() { <-sem }()
				w.processDelivery(d)
			}(d)
		}
		wg.Wait()
		w.updateGauges(ctx)
	}
}

// processDelivery walks one job through the state machine:
// rate check -> send -> ack, or the denial / retry / dead-letter paths.
func (w *Worker) processDelivery(d queue.Delivery) {
	job := d.Job

	// Detached from the poll context so graceful shutdown finishes the job.
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.SendTimeout+10*time.Second)
	defer cancel()

	logger := w.logger.With("job_id", job.JobID, "creator_account_id", job.CreatorAccountID, "attempt_count", job.AttemptCount)

	limit := w.cfg.RateLimit
	if job.RateLimitOverride > 0 {
		limit.PerWindow = job.RateLimitOverride
	}

	decision, err := w.window.CheckAndConsume(ctx, job.CreatorAccountID, limit)
	if err != nil {
		// Fail closed: without a working rate store we cannot prove
		// capacity, so the job waits. Not a delivery failure.
		logger.ErrorContext(ctx, "Rate window store unavailable, delaying job", "error", err)
		jobsProcessedCounter.WithLabelValues("rate_store_unavailable").Inc()
		if relErr := w.queue.ReleaseWithDelay(ctx, d, w.cfg.RateStoreRetryDelay); relErr != nil {
			logger.ErrorContext(ctx, "Failed to release job after rate store error", "error", relErr)
		}
		return
	}

	if !decision.Allowed {
		delay := decision.RetryAfter
		if delay < time.Second {
			delay = time.Second
		}
		logger.InfoContext(ctx, "Send denied by rate window, delaying job", "retry_after", delay.String())
		jobsProcessedCounter.WithLabelValues("rate_denied").Inc()
		if relErr := w.queue.ReleaseWithDelay(ctx, d, delay); relErr != nil {
			logger.ErrorContext(ctx, "Failed to release rate-denied job", "error", relErr)
		}
		return
	}

	sendCtx, sendCancel := context.WithTimeout(ctx, w.cfg.SendTimeout)
	defer sendCancel()

	timer := prometheus.NewTimer(sendDurationHist.WithLabelValues(w.sender.Name()))
	resp, sendErr := w.sender.SendMessage(sendCtx, sender.Request{
		JobID:            job.JobID,
		CreatorAccountID: job.CreatorAccountID,
		RecipientID:      job.RecipientID,
		Payload:          job.Payload,
	})
	timer.ObserveDuration()

	if sendErr == nil {
		if ackErr := w.queue.Acknowledge(ctx, d); ackErr != nil {
			// The send went through; the visibility timeout will
			// redeliver and the platform-side idempotency key absorbs it.
			logger.ErrorContext(ctx, "Failed to acknowledge delivered job", "error", ackErr)
			return
		}
		if job.RetryOfDeadLetter {
			if delErr := w.dlqRepo.DeleteByJobID(ctx, job.JobID); delErr != nil && !errors.Is(delErr, domain.ErrDeadLetterNotFound) {
				logger.WarnContext(ctx, "Failed to remove dead-letter record after successful retry", "error", delErr)
			}
		}
		logger.InfoContext(ctx, "Message delivered", "platform_message_id", resp.PlatformMessageID)
		jobsProcessedCounter.WithLabelValues("success").Inc()
		return
	}

	// Delivery failed. From here on the attempt counts.
	job.AttemptCount++
	errMsg := sendErr.Error()
	job.LastError = &errMsg
	logger = logger.With("attempt_count", job.AttemptCount)

	var deliveryErr *domain.DeliveryError
	permanent := errors.As(sendErr, &deliveryErr) && !deliveryErr.Retryable()

	if permanent {
		logger.WarnContext(ctx, "Permanent delivery failure, moving job to dead letter", "error", sendErr)
		w.deadLetter(ctx, logger, d, errMsg)
		return
	}

	if job.AttemptCount >= w.cfg.MaxAttempts {
		logger.WarnContext(ctx, "Retry budget exhausted, moving job to dead letter", "error", sendErr)
		w.deadLetter(ctx, logger, d, errMsg)
		return
	}

	delay := w.backoff(job.AttemptCount)
	logger.InfoContext(ctx, "Retryable delivery failure, re-queueing job", "error", sendErr, "backoff", delay.String())
	jobsProcessedCounter.WithLabelValues("retried").Inc()
	if retryErr := w.queue.RetryWithDelay(ctx, d, delay); retryErr != nil {
		logger.ErrorContext(ctx, "Failed to re-queue job for retry", "error", retryErr)
	}
}

func (w *Worker) deadLetter(ctx context.Context, logger *slog.Logger, d queue.Delivery, finalError string) {
	if err := w.queue.MoveToDeadLetter(ctx, d, finalError); err != nil {
		// The job stays in the queue and redelivers; dropping it silently
		// is not an option.
		logger.ErrorContext(ctx, "Failed to move job to dead letter", "error", err)
		return
	}
	jobsProcessedCounter.WithLabelValues("dead_lettered").Inc()
}

// backoff doubles from the base per attempt: 1s, 2s, 4s, ... capped.
func (w *Worker) backoff(attemptCount int) time.Duration {
	d := w.cfg.BaseBackoff
	for i := 1; i < attemptCount; i++ {
		d *= 2
		if d >= w.cfg.MaxBackoff {
			return w.cfg.MaxBackoff
		}
	}
	if d > w.cfg.MaxBackoff {
		return w.cfg.MaxBackoff
	}
	return d
}

func (w *Worker) updateGauges(ctx context.Context) {
	if stats, err := w.queue.Stats(ctx); err == nil {
		queueDepthGauge.Set(float64(stats.Depth))
		queueInFlightGauge.Set(float64(stats.InFlight))
	}
	if count, err := w.dlqRepo.Count(ctx); err == nil {
		deadLetterGauge.Set(float64(count))
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
