package sender

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huntaze/message-gateway/internal/core_messaging/domain"
)

func testRequest() Request {
	return Request{
		JobID:            "job-1",
		CreatorAccountID: "creatorA",
		RecipientID:      "fan-1",
		Payload:          domain.MessagePayload{Text: "hey there"},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOnlyFansSender_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/chats/fan-1/messages", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "creatorA", r.Header.Get("X-Creator-Account"))
		assert.Equal(t, "job-1", r.Header.Get("X-Idempotency-Key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hey there", body["text"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"message_id": "pm-42"})
	}))
	defer server.Close()

	s := NewOnlyFansSender(discardLogger(), server.URL, "test-key", server.Client())
	resp, err := s.SendMessage(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "pm-42", resp.PlatformMessageID)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestOnlyFansSender_ServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"upstream exploded"}`, http.StatusBadGateway)
	}))
	defer server.Close()

	s := NewOnlyFansSender(discardLogger(), server.URL, "test-key", server.Client())
	_, err := s.SendMessage(context.Background(), testRequest())
	require.Error(t, err)

	var de *domain.DeliveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, domain.ErrorClassRetryable, de.Class)
	assert.Equal(t, http.StatusBadGateway, de.StatusCode)
}

func TestOnlyFansSender_ThrottleIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	s := NewOnlyFansSender(discardLogger(), server.URL, "test-key", server.Client())
	_, err := s.SendMessage(context.Background(), testRequest())

	var de *domain.DeliveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, domain.ErrorClassRetryable, de.Class)
}

func TestOnlyFansSender_ClientErrorIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"error": "recipient has blocked messages"})
	}))
	defer server.Close()

	s := NewOnlyFansSender(discardLogger(), server.URL, "test-key", server.Client())
	_, err := s.SendMessage(context.Background(), testRequest())
	require.Error(t, err)

	var de *domain.DeliveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, domain.ErrorClassPermanent, de.Class)
	assert.Equal(t, http.StatusUnprocessableEntity, de.StatusCode)
	assert.Contains(t, de.Message, "blocked")
}

func TestOnlyFansSender_TimeoutIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	s := NewOnlyFansSender(discardLogger(), server.URL, "test-key", server.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.SendMessage(ctx, testRequest())
	require.Error(t, err)

	var de *domain.DeliveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, domain.ErrorClassRetryable, de.Class)
}
