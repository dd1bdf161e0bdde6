package sender

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/huntaze/message-gateway/internal/core_messaging/domain"
)

// MockSender is a test and dev implementation of Sender.
type MockSender struct {
	logger *slog.Logger

	mu sync.Mutex
	// FailWith, when non-nil, is returned for every send until cleared.
	FailWith *domain.DeliveryError
	// SimulatedDelay adds latency to every call.
	SimulatedDelay time.Duration

	sent []Request
}

func NewMockSender(logger *slog.Logger) *MockSender {
	return &MockSender{logger: logger.With("sender", "mock")}
}

func (s *MockSender) SendMessage(ctx context.Context, req Request) (*Response, error) {
	s.mu.Lock()
	failWith := s.FailWith
	delay := s.SimulatedDelay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, domain.NewRetryableDeliveryError(0, "send cancelled: "+ctx.Err().Error())
		}
	}

	if failWith != nil {
		s.logger.WarnContext(ctx, "MockSender: simulated failure", "job_id", req.JobID, "class", string(failWith.Class))
		return nil, failWith
	}

	s.mu.Lock()
	s.sent = append(s.sent, req)
	s.mu.Unlock()

	platformMsgID := "mock-" + uuid.NewString()
	s.logger.InfoContext(ctx, "MockSender: message sent (simulated)", "job_id", req.JobID, "platform_message_id", platformMsgID)
	return &Response{PlatformMessageID: platformMsgID, StatusCode: 200}, nil
}

func (s *MockSender) Name() string {
	return "mock"
}

// Sent returns a copy of every successfully delivered request.
func (s *MockSender) Sent() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.sent))
	copy(out, s.sent)
	return out
}
