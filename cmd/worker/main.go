package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chenziqing0111/agent-core-2/internal/bootstrap"
	"github.com/chenziqing0111/agent-core-2/internal/config"
	"github.com/chenziqing0111/agent-core-2/internal/core/domain"
	natsqueue "github.com/chenziqing0111/agent-core-2/internal/infrastructure/queue/nats"
	"github.com/chenziqing0111/agent-core-2/internal/observability/logging"
	"github.com/chenziqing0111/agent-core-2/internal/observability/metrics"
)

const (
	serviceName    = "evidence-worker"
	requestTimeout = 5 * time.Minute
)

func main() {
	cfg, err := config.Load()
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)
	if err != nil {
		logger.Error("config_load_failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Logger:   logger,
		Observer: workerMetrics.Evidence(),
	})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("app_close_failed", "error", err)
		}
	}()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("worker_metrics_listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	queue, err := natsqueue.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, natsqueue.Options{
		ResilienceExecutor: app.Executor,
		Defaults:           app.Evidence.DefaultOptions(),
		Logger:             logger,
	})
	if err != nil {
		logger.Error("nats_connect_failed", "error", err)
		os.Exit(1)
	}
	defer queue.Close()

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject)
	err = queue.SubscribeEvidenceRequests(ctx, func(handlerCtx context.Context, req domain.EvidenceRequest) (*domain.EvidenceBundle, error) {
		assembleCtx, cancel := context.WithTimeout(handlerCtx, requestTimeout)
		defer cancel()

		workerMetrics.StartRequest()
		started := time.Now()
		bundle, err := app.Evidence.Assemble(assembleCtx, req)
		workerMetrics.FinishRequest(serviceName, time.Since(started), err)
		if err != nil {
			logger.Error("evidence_request_failed", "combination_key", req.Entity.Key().String(), "error", err)
		}
		return bundle, err
	})
	if err != nil {
		logger.Error("worker_subscribe_failed", "error", err)
	}
}
