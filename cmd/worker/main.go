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

	"github.com/kirillkom/idverify/internal/bootstrap"
	"github.com/kirillkom/idverify/internal/config"
	"github.com/kirillkom/idverify/internal/observability/logging"
	"github.com/kirillkom/idverify/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLogger("idverify-worker", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics("idverify-worker")
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Logger:          logger,
		BreakerObserver: workerMetrics.BreakerTransition,
	})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

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

	worker := app.NewWorker(workerMetrics)
	if err := worker.Start(ctx); err != nil {
		logger.Error("worker_start_failed", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()

	// Stop enforces its own ShutdownTimeout; the extra margin covers the
	// abort path.
	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.WorkerShutdownTimeout+5*time.Second)
	defer cancel()
	if err := worker.Stop(stopCtx); err != nil {
		logger.Error("worker_stop_failed", "error", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = metricsServer.Shutdown(shutdownCtx)
}
