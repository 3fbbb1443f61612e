// Command scheduler runs the governor/dispatcher tick loop (spec.md §4.2)
// and the zombie-run cleaner (spec.md §4.2.2). Its wiring follows the
// teacher's cmd/server/main.go shape — load config, build a logger, open
// the pool, register metrics and health, start background loops, wait for
// signal, shut down with a bounded timeout.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cronicorn/cronicorn/config"
	"github.com/cronicorn/cronicorn/internal/clock"
	"github.com/cronicorn/cronicorn/internal/cronexpr"
	"github.com/cronicorn/cronicorn/internal/dispatcher"
	"github.com/cronicorn/cronicorn/internal/health"
	"github.com/cronicorn/cronicorn/internal/infrastructure/postgres"
	ctxlog "github.com/cronicorn/cronicorn/internal/log"
	"github.com/cronicorn/cronicorn/internal/metrics"
	"github.com/cronicorn/cronicorn/internal/scheduler"
	"github.com/cronicorn/cronicorn/internal/secrets"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	logger.Info("db connected")

	box, err := secrets.New(cfg.HeaderEncryptionSecret)
	if err != nil {
		stop()
		log.Fatalf("header encryption: %v", err)
	}

	metrics.Register()
	checker := health.NewChecker(pool, logger, prometheus.DefaultRegisterer)

	jobsRepo := postgres.NewJobsRepository(pool, box)
	runsRepo := postgres.NewRunsRepository(pool)

	worker := scheduler.NewWorker(
		jobsRepo,
		runsRepo,
		dispatcher.New(logger),
		cronexpr.Standard{},
		clock.Real{},
		logger,
		scheduler.Config{
			PollInterval:   time.Duration(cfg.PollIntervalMs) * time.Millisecond,
			BatchSize:      cfg.BatchSize,
			ClaimHorizonMs: int64(cfg.ClaimHorizonMs),
		},
	)
	cleaner := scheduler.NewCleaner(
		runsRepo,
		time.Duration(cfg.CleanupIntervalMs)*time.Millisecond,
		time.Duration(cfg.ZombieRunThresholdMs)*time.Millisecond,
		logger,
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); worker.Start(ctx) }()
	go func() { defer wg.Done(); cleaner.Start(ctx) }()

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	metrics.WorkerStartTime.SetToCurrentTime()

	<-ctx.Done()
	stop()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutMs)*time.Millisecond)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out waiting for background loops")
	}

	logger.Info("scheduler shut down")
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
