package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httptransport "github.com/huntaze/message-gateway/internal/gateway_api_service/transport/http"
	"github.com/huntaze/message-gateway/internal/platform/config"
	"github.com/huntaze/message-gateway/internal/platform/database"
	"github.com/huntaze/message-gateway/internal/platform/logger"
	"github.com/huntaze/message-gateway/internal/platform/messagebroker"
	"github.com/huntaze/message-gateway/internal/rate_limiter_service/app"
	"github.com/huntaze/message-gateway/internal/rate_limiter_service/queue"
	pgrepo "github.com/huntaze/message-gateway/internal/rate_limiter_service/repository/postgres"
)

const serviceName = "gateway_api"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.LogLevel)
	appLogger.Info("Gateway API service starting...", "port", cfg.GatewayAPIPort)

	dbPool, err := database.NewDBPool(context.Background(), cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	appLogger.Info("Connected to PostgreSQL database")

	natsClient, err := messagebroker.NewNATSClient(cfg.NATSUrl, serviceName, appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()
	if err := natsClient.EnsureStream(cfg.QueueStream, cfg.QueueSubject, cfg.QueueDedupWindow); err != nil {
		appLogger.Error("Failed to ensure message stream", "error", err, "stream", cfg.QueueStream)
		os.Exit(1)
	}
	appLogger.Info("Connected to NATS JetStream", "stream", cfg.QueueStream)

	dlqRepo := pgrepo.NewPgDeadLetterRepository(dbPool)
	queueClient, err := queue.NewJetStreamClient(natsClient.JS, dlqRepo, appLogger, queue.JetStreamConfig{
		Stream:            cfg.QueueStream,
		Subject:           cfg.QueueSubject,
		Durable:           cfg.QueueDurable,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
		ReceiveWait:       cfg.QueueReceiveWait,
	})
	if err != nil {
		appLogger.Error("Failed to initialize queue client", "error", err)
		os.Exit(1)
	}

	service := app.NewRateLimiterService(queueClient, dlqRepo, appLogger, app.Config{
		RateLimitPerWindow: cfg.RateLimitPerWindow,
		RateWindow:         cfg.RateWindow,
	})

	validate := validator.New()
	messageHandler := httptransport.NewMessageHandler(service, appLogger, validate)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(httptransport.PrometheusMetricsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "Gateway API service is healthy"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1Router chi.Router) {
		messageHandler.RegisterRoutes(v1Router)
	})

	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.GatewayAPIPort), Handler: r}
	appLogger.Info(fmt.Sprintf("Gateway API server listening on port %d", cfg.GatewayAPIPort))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("HTTP server failed to serve", "error", err)
		}
	}()

	quitChan := make(chan os.Signal, 1)
	signal.Notify(quitChan, syscall.SIGINT, syscall.SIGTERM)
	<-quitChan
	appLogger.Info("Shutdown signal received, shutting down HTTP server...")
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		appLogger.Error("HTTP server shutdown failed", "error", err)
	} else {
		appLogger.Info("HTTP server shut down gracefully.")
	}
	appLogger.Info("Gateway API service shut down.")
}
