// Command planner runs the AI planner worker (spec.md §4.4): discover
// endpoints with recent activity, analyze the ones due for reanalysis
// with a tool-using LLM, and persist a session per analysis. Wiring
// mirrors cmd/scheduler/main.go's shape; per spec.md §6, a missing
// OPENAI_API_KEY is not a startup failure — the planner logs and exits 0.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cronicorn/cronicorn/config"
	"github.com/cronicorn/cronicorn/internal/clock"
	"github.com/cronicorn/cronicorn/internal/health"
	"github.com/cronicorn/cronicorn/internal/infrastructure/postgres"
	ctxlog "github.com/cronicorn/cronicorn/internal/log"
	"github.com/cronicorn/cronicorn/internal/llm"
	"github.com/cronicorn/cronicorn/internal/metrics"
	"github.com/cronicorn/cronicorn/internal/planner"
	"github.com/cronicorn/cronicorn/internal/quota"
	"github.com/cronicorn/cronicorn/internal/secrets"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	if cfg.OpenAIAPIKey == "" {
		logger.Info("OPENAI_API_KEY not set, planner exiting cleanly")
		os.Exit(0)
	}

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

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			stop()
			log.Fatalf("redis url: %v", err)
		}
		redisClient = redis.NewClient(opts)
	}

	metrics.Register()
	checker := health.NewChecker(pool, logger, prometheus.DefaultRegisterer).WithCache(redisClient)

	jobsRepo := postgres.NewJobsRepository(pool, box)
	runsRepo := postgres.NewRunsRepository(pool)
	sessionsRepo := postgres.NewSessionsRepository(pool)
	usersRepo := postgres.NewUsersRepository(pool)
	quotaGuard := quota.New(jobsRepo, usersRepo, redisClient, clock.Real{})

	llmClient := llm.New(cfg.OpenAIAPIKey, cfg.AIModel, cfg.AIMaxTokens, float64(cfg.AITemperature), logger)

	worker := planner.NewWorker(
		jobsRepo,
		runsRepo,
		sessionsRepo,
		quotaGuard,
		usersRepo,
		llmClient,
		clock.Real{},
		logger,
		planner.Config{
			AnalysisInterval: time.Duration(cfg.AIAnalysisIntervalMs) * time.Millisecond,
			LookbackMinutes:  cfg.AILookbackMinutes,
			MaxTokens:        cfg.AIMaxTokens,
		},
	)

	done := make(chan struct{})
	go func() { defer close(done); worker.Start(ctx) }()

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

	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out waiting for planner loop")
	}

	logger.Info("planner shut down")
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
