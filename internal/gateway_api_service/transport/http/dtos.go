package http

import (
	"time"

	"github.com/huntaze/message-gateway/internal/core_messaging/domain"
	"github.com/huntaze/message-gateway/internal/rate_limiter_service/app"
)

// SendMessageRequest DTO for POST /v1/messages/send
type SendMessageRequest struct {
	JobID             string   `json:"job_id,omitempty" validate:"omitempty,max=128"`
	CreatorAccountID  string   `json:"creator_account_id" validate:"required"`
	RecipientID       string   `json:"recipient_id" validate:"required"`
	Text              string   `json:"text" validate:"required_without=AttachmentIDs"`
	PriceCents        int64    `json:"price_cents,omitempty" validate:"gte=0"`
	AttachmentIDs     []string `json:"attachment_ids,omitempty"`
	Priority          int      `json:"priority,omitempty" validate:"gte=0"`
	RateLimitOverride int      `json:"rate_limit_override,omitempty" validate:"gte=0"`
}

// SendMessageResponse DTO
type SendMessageResponse struct {
	JobID             string    `json:"job_id"`
	Status            string    `json:"status"`
	QueuePosition     int64     `json:"queue_position"`
	EstimatedSendTime time.Time `json:"estimated_send_time"`
}

// QueueStatusResponse DTO for GET /v1/queue/status
type QueueStatusResponse struct {
	Depth                      int64  `json:"depth"`
	InFlight                   int64  `json:"in_flight"`
	DeadLetterCount            int64  `json:"dead_letter_count"`
	EstimatedProcessingSeconds int64  `json:"estimated_processing_seconds"`
	EstimatedProcessingTime    string `json:"estimated_processing_time"`
}

// DeadLetterResponse is one entry of GET /v1/dead-letters.
type DeadLetterResponse struct {
	JobID            string    `json:"job_id"`
	CreatorAccountID string    `json:"creator_account_id"`
	RecipientID      string    `json:"recipient_id"`
	AttemptCount     int       `json:"attempt_count"`
	LastError        *string   `json:"last_error,omitempty"`
	FinalError       string    `json:"final_error"`
	EnqueuedAt       time.Time `json:"enqueued_at"`
	FailedAt         time.Time `json:"failed_at"`
}

// ListDeadLettersResponse DTO
type ListDeadLettersResponse struct {
	DeadLetters []DeadLetterResponse `json:"dead_letters"`
}

// RetryDeadLetterResponse DTO for POST /v1/dead-letters/{jobID}/retry
type RetryDeadLetterResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type GenericErrorResponse struct {
	Error string `json:"error"`
}

func sendRequestFromDTO(req SendMessageRequest) app.SendRequest {
	return app.SendRequest{
		JobID:            req.JobID,
		CreatorAccountID: req.CreatorAccountID,
		RecipientID:      req.RecipientID,
		Payload: domain.MessagePayload{
			Text:          req.Text,
			PriceCents:    req.PriceCents,
			AttachmentIDs: req.AttachmentIDs,
		},
		Priority:          req.Priority,
		RateLimitOverride: req.RateLimitOverride,
	}
}

func deadLetterToDTO(rec *domain.DeadLetterRecord) DeadLetterResponse {
	return DeadLetterResponse{
		JobID:            rec.Job.JobID,
		CreatorAccountID: rec.Job.CreatorAccountID,
		RecipientID:      rec.Job.RecipientID,
		AttemptCount:     rec.Job.AttemptCount,
		LastError:        rec.Job.LastError,
		FinalError:       rec.FinalError,
		EnqueuedAt:       rec.Job.EnqueuedAt,
		FailedAt:         rec.FailedAt,
	}
}
