package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huntaze/message-gateway/internal/core_messaging/domain"
	"github.com/huntaze/message-gateway/internal/rate_limiter_service/queue"
	"github.com/huntaze/message-gateway/internal/rate_limiter_service/repository"
)

type serviceTestComponents struct {
	svc     *RateLimiterService
	queue   *queue.Memory
	dlqRepo *repository.MemoryDeadLetterRepository
}

func setupServiceTest(t *testing.T) serviceTestComponents {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dlqRepo := repository.NewMemoryDeadLetterRepository()
	q := queue.NewMemory(30*time.Second, 2*time.Minute, dlqRepo)
	svc := NewRateLimiterService(q, dlqRepo, logger, Config{
		RateLimitPerWindow: 10,
		RateWindow:         time.Minute,
	})
	return serviceTestComponents{svc: svc, queue: q, dlqRepo: dlqRepo}
}

func validSendRequest() SendRequest {
	return SendRequest{
		CreatorAccountID: "creatorA",
		RecipientID:      "fan-1",
		Payload:          domain.MessagePayload{Text: "hello"},
	}
}

func TestService_SendAcceptsAndEnqueues(t *testing.T) {
	c := setupServiceTest(t)
	ctx := context.Background()

	receipt, err := c.svc.Send(ctx, validSendRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.JobID)
	assert.Equal(t, int64(1), receipt.QueuePosition)
	assert.False(t, receipt.EstimatedSendTime.IsZero())

	status, err := c.svc.QueueStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.Depth)
	assert.Zero(t, status.DeadLetterCount)
}

func TestService_SendValidation(t *testing.T) {
	c := setupServiceTest(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*SendRequest)
	}{
		{"missing creator account", func(r *SendRequest) { r.CreatorAccountID = "" }},
		{"missing recipient", func(r *SendRequest) { r.RecipientID = "" }},
		{"empty payload", func(r *SendRequest) { r.Payload = domain.MessagePayload{} }},
		{"negative price", func(r *SendRequest) { r.Payload.PriceCents = -100 }},
		{"negative priority", func(r *SendRequest) { r.Priority = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validSendRequest()
			tc.mutate(&req)
			_, err := c.svc.Send(ctx, req)
			require.Error(t, err)

			var valErr *domain.ValidationError
			assert.True(t, errors.As(err, &valErr), "expected ValidationError, got %T", err)
		})
	}

	// Nothing invalid may reach the queue.
	status, err := c.svc.QueueStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.Depth)
}

func TestService_SendAttachmentOnlyPayloadIsValid(t *testing.T) {
	c := setupServiceTest(t)

	req := validSendRequest()
	req.Payload = domain.MessagePayload{AttachmentIDs: []string{"media-1"}, PriceCents: 500}
	_, err := c.svc.Send(context.Background(), req)
	assert.NoError(t, err)
}

func TestService_SendIdempotentOnCallerJobID(t *testing.T) {
	c := setupServiceTest(t)
	ctx := context.Background()

	req := validSendRequest()
	req.JobID = "caller-key-1"

	r1, err := c.svc.Send(ctx, req)
	require.NoError(t, err)
	r2, err := c.svc.Send(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, r1.JobID, r2.JobID)

	status, err := c.svc.QueueStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.Depth, "duplicate submission collapses into one job")
}

func TestService_QueueStatusReportsDLQ(t *testing.T) {
	c := setupServiceTest(t)
	ctx := context.Background()

	require.NoError(t, c.dlqRepo.Upsert(ctx, &domain.DeadLetterRecord{
		Job:        domain.OutboundMessageJob{JobID: "dead-1", CreatorAccountID: "creatorA", RecipientID: "fan-1"},
		FailedAt:   time.Now().UTC(),
		FinalError: "exhausted retries",
	}))

	status, err := c.svc.QueueStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.DeadLetterCount)
}

func TestService_RetryDeadLetterRequeuesFreshJob(t *testing.T) {
	c := setupServiceTest(t)
	ctx := context.Background()

	lastErr := "downstream 503"
	require.NoError(t, c.dlqRepo.Upsert(ctx, &domain.DeadLetterRecord{
		Job: domain.OutboundMessageJob{
			JobID:            "dead-1",
			CreatorAccountID: "creatorA",
			RecipientID:      "fan-1",
			Payload:          domain.MessagePayload{Text: "hello"},
			AttemptCount:     5,
			LastError:        &lastErr,
			EnqueuedAt:       time.Now().Add(-time.Hour).UTC(),
		},
		FailedAt:   time.Now().UTC(),
		FinalError: "exhausted retries",
	}))

	require.NoError(t, c.svc.RetryDeadLetter(ctx, "dead-1"))

	batch, err := c.queue.ReceiveBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	job := batch[0].Job
	assert.Equal(t, "dead-1", job.JobID)
	assert.Zero(t, job.AttemptCount, "retry resets the attempt count")
	assert.Nil(t, job.LastError)
	assert.True(t, job.RetryOfDeadLetter)

	// The record survives until the retried job actually delivers.
	_, err = c.dlqRepo.GetByJobID(ctx, "dead-1")
	assert.NoError(t, err)
}

func TestService_RetryDeadLetterUnknownJob(t *testing.T) {
	c := setupServiceTest(t)
	err := c.svc.RetryDeadLetter(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrDeadLetterNotFound)
}

func TestService_ListDeadLettersNewestFirst(t *testing.T) {
	c := setupServiceTest(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"dead-1", "dead-2", "dead-3"} {
		require.NoError(t, c.dlqRepo.Upsert(ctx, &domain.DeadLetterRecord{
			Job:        domain.OutboundMessageJob{JobID: id, CreatorAccountID: "creatorA", RecipientID: "fan-1"},
			FailedAt:   base.Add(time.Duration(i) * time.Minute),
			FinalError: "exhausted retries",
		}))
	}

	records, err := c.svc.ListDeadLetters(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "dead-3", records[0].Job.JobID)
	assert.Equal(t, "dead-2", records[1].Job.JobID)
}

func TestService_EstimatedDrainTime(t *testing.T) {
	c := setupServiceTest(t)

	// 25 jobs at 10 per minute round up to three windows.
	assert.Equal(t, 3*time.Minute, c.svc.drainTime(25))
	assert.Equal(t, time.Minute, c.svc.drainTime(1))
	assert.Zero(t, c.svc.drainTime(0))
}
