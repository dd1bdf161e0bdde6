package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/huntaze/message-gateway/internal/core_messaging/domain"
	"github.com/huntaze/message-gateway/internal/rate_limiter_service/app"
)

// MessageService is the slice of the rate limiter service the gateway
// handlers depend on.
type MessageService interface {
	Send(ctx context.Context, req app.SendRequest) (*app.SendReceipt, error)
	QueueStatus(ctx context.Context) (*app.QueueStatus, error)
	RetryDeadLetter(ctx context.Context, jobID string) error
	ListDeadLetters(ctx context.Context, limit, offset int) ([]*domain.DeadLetterRecord, error)
}

type MessageHandler struct {
	service  MessageService
	logger   *slog.Logger
	validate *validator.Validate
}

func NewMessageHandler(service MessageService, logger *slog.Logger, validate *validator.Validate) *MessageHandler {
	return &MessageHandler{
		service:  service,
		logger:   logger.With("handler", "message"),
		validate: validate,
	}
}

// RegisterRoutes registers the gateway routes with the given router.
func (h *MessageHandler) RegisterRoutes(r chi.Router) {
	r.Post("/messages/send", h.handleSendMessage)
	r.Get("/queue/status", h.handleQueueStatus)
	r.Get("/dead-letters", h.handleListDeadLetters)
	r.Post("/dead-letters/{jobID}/retry", h.handleRetryDeadLetter)
}

func (h *MessageHandler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "Failed to decode send message request", "error", err)
		h.jsonError(w, logger, "Invalid request payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.StructCtx(ctx, req); err != nil {
		logger.WarnContext(ctx, "Send message request failed validation", "error", err)
		h.jsonError(w, logger, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	receipt, err := h.service.Send(ctx, sendRequestFromDTO(req))
	if err != nil {
		var valErr *domain.ValidationError
		switch {
		case errors.As(err, &valErr):
			h.jsonError(w, logger, valErr.Error(), http.StatusBadRequest)
		case errors.Is(err, domain.ErrQueueUnavailable):
			logger.ErrorContext(ctx, "Queue unavailable for send", "error", err)
			h.jsonError(w, logger, "Message queue is unavailable, try again later", http.StatusServiceUnavailable)
		default:
			logger.ErrorContext(ctx, "Failed to accept send request", "error", err)
			h.jsonError(w, logger, "Failed to queue message", http.StatusInternalServerError)
		}
		return
	}

	logger.InfoContext(ctx, "Send request accepted", "job_id", receipt.JobID, "queue_position", receipt.QueuePosition)
	h.writeJSON(w, http.StatusAccepted, SendMessageResponse{
		JobID:             receipt.JobID,
		Status:            "queued",
		QueuePosition:     receipt.QueuePosition,
		EstimatedSendTime: receipt.EstimatedSendTime,
	})
}

func (h *MessageHandler) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	status, err := h.service.QueueStatus(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrQueueUnavailable) {
			h.jsonError(w, logger, "Message queue is unavailable", http.StatusServiceUnavailable)
			return
		}
		logger.ErrorContext(ctx, "Failed to read queue status", "error", err)
		h.jsonError(w, logger, "Failed to read queue status", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, QueueStatusResponse{
		Depth:                      status.Depth,
		InFlight:                   status.InFlight,
		DeadLetterCount:            status.DeadLetterCount,
		EstimatedProcessingSeconds: int64(status.EstimatedProcessingTime.Seconds()),
		EstimatedProcessingTime:    status.EstimatedProcessingTime.String(),
	})
}

func (h *MessageHandler) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	records, err := h.service.ListDeadLetters(ctx, limit, offset)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to list dead letters", "error", err)
		h.jsonError(w, logger, "Failed to list dead letters", http.StatusInternalServerError)
		return
	}

	resp := ListDeadLettersResponse{DeadLetters: make([]DeadLetterResponse, 0, len(records))}
	for _, rec := range records {
		resp.DeadLetters = append(resp.DeadLetters, deadLetterToDTO(rec))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *MessageHandler) handleRetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		h.jsonError(w, logger, "Job ID is required", http.StatusBadRequest)
		return
	}

	if err := h.service.RetryDeadLetter(ctx, jobID); err != nil {
		switch {
		case errors.Is(err, domain.ErrDeadLetterNotFound):
			h.jsonError(w, logger, "Dead-letter record not found", http.StatusNotFound)
		case errors.Is(err, domain.ErrQueueUnavailable):
			h.jsonError(w, logger, "Message queue is unavailable, try again later", http.StatusServiceUnavailable)
		default:
			logger.ErrorContext(ctx, "Failed to retry dead-lettered job", "error", err, "job_id", jobID)
			h.jsonError(w, logger, "Failed to retry dead-lettered job", http.StatusInternalServerError)
		}
		return
	}

	logger.InfoContext(ctx, "Dead-lettered job queued for retry", "job_id", jobID)
	h.writeJSON(w, http.StatusAccepted, RetryDeadLetterResponse{JobID: jobID, Status: "requeued"})
}

func (h *MessageHandler) writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response body", "error", err)
	}
}

func (h *MessageHandler) jsonError(w http.ResponseWriter, logger *slog.Logger, message string, statusCode int) {
	logger.Warn("API error response", "status_code", statusCode, "message", message)
	h.writeJSON(w, statusCode, GenericErrorResponse{Error: message})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
