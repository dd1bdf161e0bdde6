package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/huntaze/message-gateway/internal/core_messaging/domain"
	"github.com/huntaze/message-gateway/internal/rate_limiter_service/repository"
)

// headerNotBefore carries the earliest delivery time of a delayed job.
// JetStream has no native delayed publish; a republished retry is dated
// into the future and receivers NAK it back with the remaining delay.
const headerNotBefore = "Huntaze-Not-Before"

// JetStreamConfig describes the stream and durable consumer the client
// binds to. AckWait on the consumer is the visibility timeout.
type JetStreamConfig struct {
	Stream            string
	Subject           string
	Durable           string
	VisibilityTimeout time.Duration
	ReceiveWait       time.Duration // long-poll bound for ReceiveBatch
}

// JetStreamClient is the production queue client. The dead-letter store is
// injected so MoveToDeadLetter can persist the record before removing the
// message from the stream.
type JetStreamClient struct {
	js     nats.JetStreamContext
	sub    *nats.Subscription
	dlq    repository.DeadLetterRepository
	logger *slog.Logger
	cfg    JetStreamConfig
}

func NewJetStreamClient(js nats.JetStreamContext, dlq repository.DeadLetterRepository, logger *slog.Logger, cfg JetStreamConfig) (*JetStreamClient, error) {
	sub, err := js.PullSubscribe(cfg.Subject, cfg.Durable,
		nats.BindStream(cfg.Stream),
		nats.AckWait(cfg.VisibilityTimeout),
		nats.MaxDeliver(-1), // retry budget is enforced by the worker, not the broker
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pull consumer %q on stream %q: %w", cfg.Durable, cfg.Stream, err)
	}
	return &JetStreamClient{
		js:     js,
		sub:    sub,
		dlq:    dlq,
		logger: logger.With("component", "queue_client"),
		cfg:    cfg,
	}, nil
}

func (c *JetStreamClient) Enqueue(ctx context.Context, job *domain.OutboundMessageJob) (string, error) {
	if err := c.publish(ctx, job, dedupID(job), time.Time{}); err != nil {
		return "", err
	}
	return job.JobID, nil
}

func (c *JetStreamClient) ReceiveBatch(ctx context.Context, maxMessages int) ([]Delivery, error) {
	msgs, err := c.sub.Fetch(maxMessages, nats.MaxWait(c.cfg.ReceiveWait))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: fetch failed: %v", domain.ErrQueueUnavailable, err)
	}

	now := time.Now()
	deliveries := make([]Delivery, 0, len(msgs))
	for _, msg := range msgs {
		if nb, ok := notBefore(msg); ok && nb.After(now) {
			// Delayed job surfaced early; push it back out for the rest
			// of its delay without touching it.
			if err := msg.NakWithDelay(nb.Sub(now)); err != nil {
				c.logger.WarnContext(ctx, "Failed to NAK not-yet-due job", "error", err)
			}
			continue
		}

		var job domain.OutboundMessageJob
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			// Poison message: nothing downstream can do with it, keep it
			// out of the redelivery loop.
			c.logger.ErrorContext(ctx, "Failed to unmarshal queue message, terminating it", "error", err, "data_len", len(msg.Data))
			if termErr := msg.Term(); termErr != nil {
				c.logger.WarnContext(ctx, "Failed to terminate malformed message", "error", termErr)
			}
			continue
		}
		deliveries = append(deliveries, Delivery{Job: &job, Token: msg})
	}
	return deliveries, nil
}

func (c *JetStreamClient) Acknowledge(ctx context.Context, d Delivery) error {
	msg, err := c.natsMsg(d)
	if err != nil {
		return err
	}
	if err := msg.AckSync(nats.Context(ctx)); err != nil {
		return fmt.Errorf("%w: ack failed for job %s: %v", domain.ErrQueueUnavailable, d.Job.JobID, err)
	}
	return nil
}

func (c *JetStreamClient) ReleaseWithDelay(ctx context.Context, d Delivery, delay time.Duration) error {
	msg, err := c.natsMsg(d)
	if err != nil {
		return err
	}
	if err := msg.NakWithDelay(delay); err != nil {
		return fmt.Errorf("%w: delayed release failed for job %s: %v", domain.ErrQueueUnavailable, d.Job.JobID, err)
	}
	return nil
}

func (c *JetStreamClient) RetryWithDelay(ctx context.Context, d Delivery, delay time.Duration) error {
	msg, err := c.natsMsg(d)
	if err != nil {
		return err
	}

	// The redelivered body must carry the bumped attempt count, so the
	// job is republished under an attempt-scoped dedup ID and the old
	// message acknowledged. The not-before header implements the delay.
	retryID := dedupID(d.Job) + ":a" + strconv.Itoa(d.Job.AttemptCount)
	if err := c.publish(ctx, d.Job, retryID, time.Now().Add(delay)); err != nil {
		// Leave the original message to redeliver after its visibility
		// timeout rather than lose the job.
		return err
	}
	if err := msg.AckSync(nats.Context(ctx)); err != nil {
		return fmt.Errorf("%w: ack of retried job %s failed: %v", domain.ErrQueueUnavailable, d.Job.JobID, err)
	}
	return nil
}

func (c *JetStreamClient) MoveToDeadLetter(ctx context.Context, d Delivery, finalError string) error {
	msg, err := c.natsMsg(d)
	if err != nil {
		return err
	}

	rec := &domain.DeadLetterRecord{
		Job:        *d.Job,
		FailedAt:   time.Now().UTC(),
		FinalError: finalError,
	}
	if err := c.dlq.Upsert(ctx, rec); err != nil {
		// Keep the job in the queue; losing it silently is worse than one
		// extra delivery attempt.
		return fmt.Errorf("failed to persist dead letter for job %s: %w", d.Job.JobID, err)
	}
	if err := msg.Term(); err != nil {
		return fmt.Errorf("%w: failed to remove dead-lettered job %s from queue: %v", domain.ErrQueueUnavailable, d.Job.JobID, err)
	}
	return nil
}

func (c *JetStreamClient) Stats(ctx context.Context) (Stats, error) {
	si, err := c.js.StreamInfo(c.cfg.Stream, nats.Context(ctx))
	if err != nil {
		return Stats{}, fmt.Errorf("%w: stream info failed: %v", domain.ErrQueueUnavailable, err)
	}
	ci, err := c.js.ConsumerInfo(c.cfg.Stream, c.cfg.Durable, nats.Context(ctx))
	if err != nil {
		return Stats{}, fmt.Errorf("%w: consumer info failed: %v", domain.ErrQueueUnavailable, err)
	}
	return Stats{
		Depth:    int64(si.State.Msgs),
		InFlight: int64(ci.NumAckPending),
	}, nil
}

func (c *JetStreamClient) publish(ctx context.Context, job *domain.OutboundMessageJob, msgID string, notBeforeTime time.Time) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.JobID, err)
	}

	m := &nats.Msg{Subject: c.cfg.Subject, Data: data, Header: nats.Header{}}
	if !notBeforeTime.IsZero() {
		m.Header.Set(headerNotBefore, notBeforeTime.UTC().Format(time.RFC3339Nano))
	}
	if _, err := c.js.PublishMsg(m, nats.MsgId(msgID), nats.Context(ctx)); err != nil {
		return fmt.Errorf("%w: publish of job %s failed: %v", domain.ErrQueueUnavailable, job.JobID, err)
	}
	return nil
}

func (c *JetStreamClient) natsMsg(d Delivery) (*nats.Msg, error) {
	msg, ok := d.Token.(*nats.Msg)
	if !ok {
		return nil, fmt.Errorf("delivery for job %s does not belong to this queue client", d.Job.JobID)
	}
	return msg, nil
}

func notBefore(msg *nats.Msg) (time.Time, bool) {
	raw := msg.Header.Get(headerNotBefore)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// dedupID is the publish dedup key. Operator retries of a dead-lettered
// job must not collide with the original publish of the same job ID.
func dedupID(job *domain.OutboundMessageJob) string {
	if job.RetryOfDeadLetter {
		return job.JobID + ":dlq-retry:" + strconv.FormatInt(job.EnqueuedAt.UnixNano(), 10)
	}
	return job.JobID
}
