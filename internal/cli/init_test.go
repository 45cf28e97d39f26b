package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedbackd/internal/config"
	"feedbackd/internal/feedback/memory"
	"feedbackd/internal/feedback/redis"
)

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupLogger(&buf, "warn")
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	SetupLogger(&buf, "loud")
	assert.Contains(t, buf.String(), "Falling back to info log level")
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("FEEDBACKD_TEST_VALUE=from-dotenv\n"), 0o600))
	t.Setenv("FEEDBACKD_TEST_VALUE", "")
	require.NoError(t, os.Unsetenv("FEEDBACKD_TEST_VALUE"))

	LoadEnvFile(path)
	assert.Equal(t, "from-dotenv", os.Getenv("FEEDBACKD_TEST_VALUE"))

	// Missing files are ignored.
	LoadEnvFile(filepath.Join(t.TempDir(), "absent.env"))
}

func TestLimits(t *testing.T) {
	cfg := &config.Config{MaxPending: 3, PendingTTL: time.Hour, ResultTTL: time.Minute}
	l := Limits(cfg)
	assert.Equal(t, 3, l.MaxPending)
	assert.Equal(t, time.Hour, l.PendingTTL)
	assert.Equal(t, time.Minute, l.ResultTTL)
}

func TestBuildStore(t *testing.T) {
	ctx := context.Background()
	logger := SetupLogger(&bytes.Buffer{}, "error")

	t.Run("memory", func(t *testing.T) {
		store, err := BuildStore(ctx, &config.Config{QueueBackend: config.BackendMemory}, logger)
		require.NoError(t, err)
		assert.IsType(t, &memory.Store{}, store)
	})

	t.Run("redis", func(t *testing.T) {
		m := miniredis.RunT(t)
		cfg := &config.Config{
			QueueBackend:   config.BackendRedis,
			RedisURL:       "redis://" + m.Addr(),
			RedisKeyPrefix: "test",
		}
		store, err := BuildStore(ctx, cfg, logger)
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		assert.IsType(t, &redis.Store{}, store)
		require.NoError(t, store.Ping(ctx))
	})

	t.Run("redis unreachable", func(t *testing.T) {
		cfg := &config.Config{QueueBackend: config.BackendRedis, RedisURL: "not a url"}
		_, err := BuildStore(ctx, cfg, logger)
		assert.Error(t, err)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := BuildStore(ctx, &config.Config{QueueBackend: "etcd"}, logger)
		assert.ErrorContains(t, err, "unknown queue backend")
	})
}
