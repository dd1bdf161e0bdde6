package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/huntaze/message-gateway/internal/core_messaging/domain"
)

// OnlyFansSender submits chat messages through the OnlyFans connector API.
type OnlyFansSender struct {
	logger     *slog.Logger
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func NewOnlyFansSender(logger *slog.Logger, baseURL, apiKey string, httpClient *http.Client) *OnlyFansSender {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &OnlyFansSender{
		logger:     logger.With("sender", "onlyfans"),
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
}

type ofSendRequestBody struct {
	Text          string   `json:"text,omitempty"`
	PriceCents    int64    `json:"price_cents,omitempty"`
	AttachmentIDs []string `json:"attachment_ids,omitempty"`
}

type ofSendResponseBody struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

func (s *OnlyFansSender) SendMessage(ctx context.Context, req Request) (*Response, error) {
	s.logger.InfoContext(ctx, "OnlyFansSender: SendMessage called",
		"job_id", req.JobID,
		"creator_account_id", req.CreatorAccountID,
		"recipient_id", req.RecipientID,
		"text_length", len(req.Payload.Text))

	body := ofSendRequestBody{
		Text:          req.Payload.Text,
		PriceCents:    req.Payload.PriceCents,
		AttachmentIDs: req.Payload.AttachmentIDs,
	}
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal send request for job %s: %w", req.JobID, err)
	}

	url := fmt.Sprintf("%s/v2/chats/%s/messages", s.baseURL, req.RecipientID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to build send request for job %s: %w", req.JobID, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	httpReq.Header.Set("X-Creator-Account", req.CreatorAccountID)
	httpReq.Header.Set("X-Idempotency-Key", req.JobID)

	httpResp, err := s.httpClient.Do(httpReq)
	if err != nil {
		// Network failure or timeout; the platform may have never seen it.
		return nil, domain.NewRetryableDeliveryError(0, fmt.Sprintf("request to platform API failed: %v", err))
	}
	defer httpResp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, domain.NewRetryableDeliveryError(httpResp.StatusCode, fmt.Sprintf("failed to read platform API response: %v", err))
	}

	var respBody ofSendResponseBody
	if len(respBytes) > 0 {
		// A malformed body on a 2xx still counts as success; the status
		// line is authoritative.
		_ = json.Unmarshal(respBytes, &respBody)
	}

	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		s.logger.InfoContext(ctx, "Message submitted to platform", "job_id", req.JobID, "platform_message_id", respBody.MessageID)
		return &Response{PlatformMessageID: respBody.MessageID, StatusCode: httpResp.StatusCode}, nil
	}

	errMsg := respBody.Error
	if errMsg == "" {
		errMsg = http.StatusText(httpResp.StatusCode)
	}
	if retryableStatus(httpResp.StatusCode) {
		s.logger.WarnContext(ctx, "Platform API transient failure", "job_id", req.JobID, "status_code", httpResp.StatusCode, "error", errMsg)
		return nil, domain.NewRetryableDeliveryError(httpResp.StatusCode, errMsg)
	}

	s.logger.WarnContext(ctx, "Platform API rejected message", "job_id", req.JobID, "status_code", httpResp.StatusCode, "error", errMsg)
	return nil, domain.NewPermanentDeliveryError(httpResp.StatusCode, errMsg)
}

func (s *OnlyFansSender) Name() string {
	return "onlyfans"
}

// retryableStatus maps HTTP status codes to the transient class: server
// errors, platform throttling, and request timeouts. Remaining 4xx codes
// (bad recipient, content policy) are terminal rejections.
func retryableStatus(code int) bool {
	switch {
	case code >= 500:
		return true
	case code == http.StatusTooManyRequests:
		return true
	case code == http.StatusRequestTimeout:
		return true
	default:
		return false
	}
}
