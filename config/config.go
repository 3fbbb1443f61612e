// Package config loads process configuration the same way the teacher
// does: caarlos0/env struct tags for parsing, go-playground/validator for
// validation, one Config type shared across binaries.
package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Config holds every env var spec.md §6 names, across both the scheduler
// and the AI planner binaries — a process only reads the fields relevant
// to it, the way the teacher's single Config served both cmd/server and
// cmd/scheduler.
type Config struct {
	Env  string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`
	RedisURL    string `env:"REDIS_URL" envDefault:""`

	// HeaderEncryptionSecret derives the AES-256-GCM key that seals
	// sensitive endpoint headers at rest (spec.md §4.7).
	HeaderEncryptionSecret string `env:"HEADER_ENCRYPTION_SECRET,required" validate:"required,min=32"`

	// Scheduler worker tuning (spec.md §6).
	BatchSize           int `env:"BATCH_SIZE" envDefault:"10" validate:"min=1,max=1000"`
	PollIntervalMs      int `env:"POLL_INTERVAL_MS" envDefault:"5000" validate:"min=100"`
	ClaimHorizonMs      int `env:"CLAIM_HORIZON_MS" envDefault:"10000" validate:"min=0"`
	CleanupIntervalMs   int `env:"CLEANUP_INTERVAL_MS" envDefault:"300000" validate:"min=1000"`
	ZombieRunThresholdMs int `env:"ZOMBIE_RUN_THRESHOLD_MS" envDefault:"3600000" validate:"min=1000"`
	ShutdownTimeoutMs   int `env:"SHUTDOWN_TIMEOUT_MS" envDefault:"30000" validate:"min=100"`

	// AI planner tuning (spec.md §6).
	OpenAIAPIKey        string  `env:"OPENAI_API_KEY"`
	AIModel             string  `env:"AI_MODEL" envDefault:"gpt-4o-mini"`
	AIAnalysisIntervalMs int    `env:"AI_ANALYSIS_INTERVAL_MS" envDefault:"300000" validate:"min=1000"`
	AILookbackMinutes   int     `env:"AI_LOOKBACK_MINUTES" envDefault:"5" validate:"min=1"`
	AIMaxTokens         int     `env:"AI_MAX_TOKENS" envDefault:"1500" validate:"min=1"`
	AITemperature       float32 `env:"AI_TEMPERATURE" envDefault:"0.7" validate:"min=0,max=2"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel converts the LOG_LEVEL string to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
