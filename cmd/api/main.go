package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	httpadapter "github.com/kirillkom/field-capture/internal/adapters/http"
	"github.com/kirillkom/field-capture/internal/bootstrap"
	"github.com/kirillkom/field-capture/internal/config"
	"github.com/kirillkom/field-capture/internal/observability/logging"
	"github.com/kirillkom/field-capture/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.NewJSONLogger("api", "info").Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, "api", cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger, nil)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	tokens, err := app.Tokens()
	if err != nil {
		logger.Error("auth_init_failed", "error", err)
		os.Exit(1)
	}

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	sessions := app.SessionRegistry(httpMetrics)
	go sessions.RunEviction(ctx, cfg.SessionIdleTTL, time.Minute)

	deps := httpadapter.RouterDeps{
		Sessions: httpadapter.NewRegistrySessions(sessions),
		Tokens:   tokens,
		Sync:     app.Bus,
		Metrics:  httpMetrics,
		Logger:   logger,
	}
	if app.LocalMedia != nil {
		deps.Media = app.LocalMedia
	}

	server := &http.Server{
		Handler:      httpadapter.NewRouter(cfg, deps).Handler(),
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: cfg.SummaryTimeout + cfg.SettleWait + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", ":"+cfg.APIPort)
	if err != nil {
		logger.Error("api_listen_failed", "port", cfg.APIPort, "error", err)
		os.Exit(1)
	}
	if cfg.APIMaxConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.APIMaxConnections)
	}

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort, "storage_backend", cfg.StorageBackend)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_failed", "error", err)
	}
	if err := sessions.Close(shutdownCtx); err != nil {
		logger.Error("session_flush_failed", "error", err)
	}
}
