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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/huntaze/message-gateway/internal/platform/config"
	"github.com/huntaze/message-gateway/internal/platform/database"
	"github.com/huntaze/message-gateway/internal/platform/logger"
	"github.com/huntaze/message-gateway/internal/platform/messagebroker"
	"github.com/huntaze/message-gateway/internal/platform/redisclient"
	"github.com/huntaze/message-gateway/internal/rate_limiter_service/queue"
	"github.com/huntaze/message-gateway/internal/rate_limiter_service/ratewindow"
	pgrepo "github.com/huntaze/message-gateway/internal/rate_limiter_service/repository/postgres"
	"github.com/huntaze/message-gateway/internal/rate_limiter_service/sender"
	"github.com/huntaze/message-gateway/internal/rate_limiter_service/worker"
)

const serviceName = "rate_limiter_worker"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.LogLevel)
	appLogger.Info("Rate limiter worker starting...", "log_level", cfg.LogLevel)

	dbPool, err := database.NewDBPool(context.Background(), cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	appLogger.Info("Connected to PostgreSQL database")

	redisClient, err := redisclient.New(context.Background(), cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		appLogger.Error("Failed to connect to Redis", "error", err, "addr", cfg.RedisAddr)
		os.Exit(1)
	}
	defer redisClient.Close()
	appLogger.Info("Connected to Redis", "addr", cfg.RedisAddr)

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

	window := ratewindow.NewRedisWindow(redisClient)

	var messageSender sender.Sender
	switch cfg.SendProvider {
	case "onlyfans":
		if cfg.PlatformAPIKey == "" {
			appLogger.Error("Platform API key is required for the onlyfans provider (APP_PLATFORM_API_KEY)")
			os.Exit(1)
		}
		messageSender = sender.NewOnlyFansSender(appLogger, cfg.PlatformAPIURL, cfg.PlatformAPIKey, &http.Client{
			Timeout: cfg.PlatformAPITimeout,
		})
	case "mock":
		messageSender = sender.NewMockSender(appLogger)
	default:
		appLogger.Error("Unknown send provider", "provider", cfg.SendProvider)
		os.Exit(1)
	}
	appLogger.Info("Send provider initialized", "provider", messageSender.Name())

	w := worker.New(queueClient, window, messageSender, dlqRepo, appLogger, worker.Config{
		PollInterval: cfg.WorkerPollInterval,
		BatchSize:    cfg.WorkerBatchSize,
		Concurrency:  cfg.WorkerConcurrency,
		MaxAttempts:  cfg.WorkerMaxAttempts,
		BaseBackoff:  cfg.WorkerBaseBackoff,
		MaxBackoff:   cfg.WorkerMaxBackoff,
		SendTimeout:  cfg.WorkerSendTimeout,
		RateLimit: ratewindow.Limit{
			PerWindow: cfg.RateLimitPerWindow,
			Window:    cfg.RateWindow,
		},
		RateStoreRetryDelay: cfg.RateStoreRetryDelay,
	})

	// Metrics and health endpoint for the worker process.
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "Rate limiter worker is healthy"})
	})
	metricsServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.WorkerMetricsPort), Handler: metricsMux}
	go func() {
		appLogger.Info(fmt.Sprintf("Worker metrics server listening on port %d", cfg.WorkerMetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("Metrics server failed to serve", "error", err)
		}
	}()

	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	workerDone := make(chan error, 1)
	go func() {
		workerDone <- w.Run(appCtx)
	}()

	quitChan := make(chan os.Signal, 1)
	signal.Notify(quitChan, syscall.SIGINT, syscall.SIGTERM)
	receivedSignal := <-quitChan
	appLogger.Info("Shutdown signal received", "signal", receivedSignal.String())

	cancelAppCtx()
	select {
	case err := <-workerDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			appLogger.Error("Worker stopped with error", "error", err)
		}
	case <-time.After(60 * time.Second):
		appLogger.Warn("Worker did not stop within the shutdown deadline")
	}

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := metricsServer.Shutdown(ctxShutdown); err != nil {
		appLogger.Error("Metrics server shutdown failed", "error", err)
	}
	appLogger.Info("Rate limiter worker shut down successfully.")
}
