package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/field-capture/internal/bootstrap"
	"github.com/kirillkom/field-capture/internal/config"
	"github.com/kirillkom/field-capture/internal/core/usecase"
	"github.com/kirillkom/field-capture/internal/observability/logging"
	"github.com/kirillkom/field-capture/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.NewJSONLogger("worker", "info").Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, "worker", cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	app, err := bootstrap.New(ctx, cfg, logger, workerMetrics)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", workerMetrics.Handler())
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()

	runner := usecase.NewSyncRunner(app.MediaSync, app.Connectivity, app.Queue, workerMetrics.SetQueueDepth, logger)

	go func() {
		err := app.Bus.SubscribeSyncRequests(ctx, func(context.Context) error {
			runner.Trigger()
			return nil
		})
		if err != nil {
			logger.Error("sync_subscribe_failed", "error", err)
		}
	}()

	logger.Info("worker_started", "interval", cfg.WorkerSyncInterval.String(), "batch_size", cfg.WorkerBatchSize)
	runner.Run(ctx, cfg.WorkerSyncInterval)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	logger.Info("worker_stopped")
}
