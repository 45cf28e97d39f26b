// Package cli provides common process bootstrap shared by cmd/feedbackd,
// cmd/feedback-worker and cmd/feedbackctl.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"feedbackd/internal/config"
	"feedbackd/internal/feedback"
	"feedbackd/internal/feedback/memory"
	"feedbackd/internal/feedback/redis"
	"feedbackd/internal/log"
	"feedbackd/internal/storage"
)

// SetupLogger builds a text logger at the given LOG_LEVEL and installs it as
// the slog default. Unknown levels fall back to info with a warning.
func SetupLogger(w io.Writer, level string) *log.Logger {
	if w == nil {
		w = os.Stdout
	}
	lvl, err := log.ParseLevel(level)
	logger := log.NewText(w, lvl, log.ComponentApp)
	log.SetDefault(logger)
	if err != nil {
		logger.Warn("Falling back to info log level", log.FieldError, err)
	}
	return logger
}

// LoadEnvFile loads the .env file for local development.
// A missing file is not an error.
func LoadEnvFile(files ...string) {
	_ = godotenv.Load(files...)
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on failure.
func LoadAndValidateConfig(logger *log.Logger) *config.Config {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", log.FieldError, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg
}

// InitSQLite opens the feedback archive.
// Returns the repository or exits the process on failure.
func InitSQLite(logger *log.Logger, dbPath string) *storage.SQLiteRepository {
	repo, err := storage.NewSQLiteRepository(dbPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", log.FieldError, err, "path", dbPath)
		os.Exit(1)
	}
	return repo
}

// Limits maps the queue settings of cfg onto store limits.
func Limits(cfg *config.Config) feedback.Limits {
	return feedback.Limits{
		MaxPending: cfg.MaxPending,
		PendingTTL: cfg.PendingTTL,
		ResultTTL:  cfg.ResultTTL,
	}
}

// BuildStore creates the queue store selected by QUEUE_BACKEND.
func BuildStore(ctx context.Context, cfg *config.Config, logger *log.Logger) (feedback.Store, error) {
	limits := Limits(cfg)

	switch cfg.QueueBackend {
	case config.BackendMemory, "":
		logger.Info("Using in-memory feedback store",
			log.FieldBackend, config.BackendMemory,
			"max_pending", limits.MaxPending,
			"pending_ttl", limits.PendingTTL,
			"result_ttl", limits.ResultTTL)
		return memory.New(limits), nil
	case config.BackendRedis:
		store, err := redis.NewFromURL(ctx, cfg.RedisURL, cfg.RedisKeyPrefix, limits)
		if err != nil {
			return nil, fmt.Errorf("redis store: %w", err)
		}
		logger.Info("Using Redis feedback store",
			log.FieldBackend, config.BackendRedis,
			"prefix", cfg.RedisKeyPrefix,
			"max_pending", limits.MaxPending)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		logger.Info("Shutdown signal received", log.FieldOperation, log.OpShutdown)
	}()
	return ctx, stop
}
