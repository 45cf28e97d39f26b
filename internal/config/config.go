package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"feedbackd/internal/log"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	// HTTP Server
	Port     string `envconfig:"PORT" default:"8081"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Queue
	QueueBackend   string        `envconfig:"QUEUE_BACKEND" default:"memory"`
	RedisURL       string        `envconfig:"REDIS_URL"`
	RedisKeyPrefix string        `envconfig:"REDIS_KEY_PREFIX" default:"feedbackd"`
	PendingTTL     time.Duration `envconfig:"PENDING_TTL" default:"0"`
	ResultTTL      time.Duration `envconfig:"RESULT_TTL" default:"0"`
	MaxPending     int           `envconfig:"MAX_PENDING" default:"0"`
	SweepInterval  time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`

	// Archive
	ArchiveEnabled bool   `envconfig:"ARCHIVE_ENABLED" default:"false"`
	SQLiteDBPath   string `envconfig:"SQLITE_DB_PATH" default:"./data/feedback.db"`

	// AMQP
	AMQPURL                string `envconfig:"AMQP_URL"`
	AMQPExchange           string `envconfig:"AMQP_EXCHANGE" default:"feedback"`
	AMQPRequestQueue       string `envconfig:"AMQP_REQUEST_QUEUE" default:"feedback_requests"`
	AMQPResolvedRoutingKey string `envconfig:"AMQP_RESOLVED_ROUTING_KEY" default:"feedback.resolved"`

	// Rate limiting
	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"20"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"40"`

	// Google Sheets
	GoogleSpreadsheetID string `envconfig:"GOOGLE_SPREADSHEET_ID"`
	GoogleSheetName     string `envconfig:"GOOGLE_SHEET_NAME" default:"Feedback"`

	// Worker
	SyncBatchSize int           `envconfig:"SYNC_BATCH_SIZE" default:"25"`
	SyncInterval  time.Duration `envconfig:"SYNC_INTERVAL" default:"30s"`
}

// Load decodes the environment into a Config, applying defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	return &cfg, nil
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of [debug info warn error]", c.LogLevel))
	}

	validBackends := []string{BackendMemory, BackendRedis}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.QueueBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid queue backend '%s': must be one of %v", c.QueueBackend, validBackends))
	}

	if c.QueueBackend == BackendRedis {
		if c.RedisURL == "" {
			errors = append(errors, "REDIS_URL is required when using redis backend")
		} else if parsedURL, err := url.Parse(c.RedisURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid Redis URL '%s': %v", c.RedisURL, err))
		} else if parsedURL.Scheme != "redis" && parsedURL.Scheme != "rediss" {
			errors = append(errors, fmt.Sprintf("invalid Redis URL scheme '%s': must be 'redis' or 'rediss'", parsedURL.Scheme))
		}
		if strings.TrimSpace(c.RedisKeyPrefix) == "" {
			errors = append(errors, "Redis key prefix cannot be empty when using redis backend")
		}
	}

	if c.PendingTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid pending TTL %v: must not be negative", c.PendingTTL))
	}
	if c.ResultTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid result TTL %v: must not be negative", c.ResultTTL))
	}
	if c.MaxPending < 0 {
		errors = append(errors, fmt.Sprintf("invalid max pending %d: must not be negative", c.MaxPending))
	}
	if c.ExpiryEnabled() && c.SweepInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid sweep interval %v: must be at least 1 second", c.SweepInterval))
	}

	if c.ArchiveEnabled {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when archive is enabled")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPRequestQueue == "" {
			errors = append(errors, "AMQP request queue name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPResolvedRoutingKey == "" {
			errors = append(errors, "AMQP resolved routing key cannot be empty when AMQP URL is provided")
		}
	}

	if c.RateLimitRPS < 0 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %v: must not be negative", c.RateLimitRPS))
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit burst %d: must be at least 1", c.RateLimitBurst))
	}

	if c.GoogleSpreadsheetID != "" && c.GoogleSheetName == "" {
		errors = append(errors, "Google Sheet name is required when a spreadsheet ID is set")
	}

	if c.SyncBatchSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid sync batch size %d: must be at least 1", c.SyncBatchSize))
	} else if c.SyncBatchSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid sync batch size %d: must be at most 1000", c.SyncBatchSize))
	}

	if c.SyncInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at least 1 second", c.SyncInterval))
	} else if c.SyncInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at most 24 hours", c.SyncInterval))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// ExpiryEnabled reports whether any TTL needs the sweeper.
func (c *Config) ExpiryEnabled() bool {
	return c.PendingTTL > 0 || c.ResultTTL > 0
}

// AMQPEnabled reports whether the broker integration is configured.
func (c *Config) AMQPEnabled() bool {
	return c.AMQPURL != ""
}
