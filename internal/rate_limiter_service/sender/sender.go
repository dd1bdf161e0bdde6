// Package sender holds the adapters for the downstream platform send API.
// Every adapter must classify failures as retryable or permanent via
// domain.DeliveryError; the worker bases its retry-vs-dead-letter decision
// on that classification alone.
package sender

import (
	"context"

	"github.com/huntaze/message-gateway/internal/core_messaging/domain"
)

// Request carries one outbound message to the platform API.
type Request struct {
	JobID            string
	CreatorAccountID string
	RecipientID      string
	Payload          domain.MessagePayload
}

// Response is the outcome of a successful submission.
type Response struct {
	PlatformMessageID string
	StatusCode        int
}

// Sender is the downstream platform send API.
type Sender interface {
	// SendMessage delivers the message. A non-nil error is either a
	// *domain.DeliveryError (classified) or a transport error; callers
	// treat unclassified errors as retryable.
	SendMessage(ctx context.Context, req Request) (*Response, error)

	// Name identifies the adapter in logs and metrics.
	Name() string
}
