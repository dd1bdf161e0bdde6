package domain

import "time"

// MessagePayload is the creator-authored content of an outbound message.
// A payload is valid when it carries text or at least one attachment.
type MessagePayload struct {
	Text          string   `json:"text,omitempty"`
	PriceCents    int64    `json:"price_cents,omitempty"`
	AttachmentIDs []string `json:"attachment_ids,omitempty"`
}

// IsEmpty reports whether the payload has neither text nor attachments.
func (p MessagePayload) IsEmpty() bool {
	return p.Text == "" && len(p.AttachmentIDs) == 0
}

// OutboundMessageJob is the unit of work that travels through the queue.
// It is serialized as JSON into the queue message body; the queue owns its
// lifecycle until it is acknowledged or moved to the dead-letter store.
type OutboundMessageJob struct {
	JobID            string         `json:"job_id"` // UUID, also the enqueue dedup key
	CreatorAccountID string         `json:"creator_account_id"`
	RecipientID      string         `json:"recipient_id"`
	Payload          MessagePayload `json:"payload"`
	Priority         int            `json:"priority"`
	EnqueuedAt       time.Time      `json:"enqueued_at"`
	AttemptCount     int            `json:"attempt_count"`
	LastError        *string        `json:"last_error,omitempty"`

	// RateLimitOverride replaces the configured per-window cap for this
	// creator when > 0. Used by accounts with negotiated platform limits.
	RateLimitOverride int `json:"rate_limit_override,omitempty"`

	// RetryOfDeadLetter marks a job re-enqueued by an operator from the
	// dead-letter store; on successful delivery the worker removes the
	// corresponding dead-letter record.
	RetryOfDeadLetter bool `json:"retry_of_dead_letter,omitempty"`
}

// DeadLetterRecord is the durable copy of a job that exhausted its retries
// or failed permanently. Read-only afterward except for operator retry.
type DeadLetterRecord struct {
	Job        OutboundMessageJob `json:"job"`
	FailedAt   time.Time          `json:"failed_at"`
	FinalError string             `json:"final_error"`
}
