package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ordena/ordena/internal/config"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := config.NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	require.Equal(t, config.DefaultAPIHost, cfg.APIHost)
	require.Equal(t, config.DefaultAPIPort, cfg.APIPort)
	require.Equal(t, config.DefaultQueueBackend, cfg.QueueBackend)
	require.Equal(t, config.DefaultPaymentTimeout, cfg.PaymentTimeout)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("API_HOST", "127.0.0.1")
	t.Setenv("API_PORT", "9090")
	t.Setenv("DB_PATH", "/tmp/test.db")
	t.Setenv("QUEUE_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "redis.internal:6379")
	t.Setenv("PAYMENT_TIMEOUT", "90s")
	t.Setenv("TIMER_POLL_INTERVAL", "10ms")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := config.NewDefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())
	require.NoError(t, cfg.Validate())

	require.Equal(t, "127.0.0.1", cfg.APIHost)
	require.Equal(t, 9090, cfg.APIPort)
	require.Equal(t, "/tmp/test.db", cfg.DatabasePath)
	require.Equal(t, config.QueueBackendRedis, cfg.QueueBackend)
	require.Equal(t, "redis.internal:6379", cfg.RedisAddr)
	require.Equal(t, 90*time.Second, cfg.PaymentTimeout)
	require.Equal(t, 10*time.Millisecond, cfg.TimerPollInterval)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadFromEnvRejectsBadValues(t *testing.T) {
	t.Run("bad port", func(t *testing.T) {
		t.Setenv("API_PORT", "not-a-number")
		cfg := config.NewDefaultConfig()
		require.Error(t, cfg.LoadFromEnv())
	})

	t.Run("port out of range", func(t *testing.T) {
		t.Setenv("API_PORT", "70000")
		cfg := config.NewDefaultConfig()
		require.Error(t, cfg.LoadFromEnv())
	})

	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("PAYMENT_TIMEOUT", "two minutes")
		cfg := config.NewDefaultConfig()
		require.Error(t, cfg.LoadFromEnv())
	})

	t.Run("negative duration", func(t *testing.T) {
		t.Setenv("PAYMENT_TIMEOUT", "-10s")
		cfg := config.NewDefaultConfig()
		require.Error(t, cfg.LoadFromEnv())
	})
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name      string
		configMod func(*config.Config)
		wantErr   error
	}{
		{
			name:      "invalid api port",
			configMod: func(c *config.Config) { c.APIPort = 0 },
			wantErr:   config.ErrInvalidAPIPort,
		},
		{
			name:      "empty db path",
			configMod: func(c *config.Config) { c.DatabasePath = "" },
			wantErr:   config.ErrEmptyDatabasePath,
		},
		{
			name:      "unknown queue backend",
			configMod: func(c *config.Config) { c.QueueBackend = "kafka" },
			wantErr:   config.ErrInvalidQueueBackend,
		},
		{
			name: "redis backend without addr",
			configMod: func(c *config.Config) {
				c.QueueBackend = config.QueueBackendRedis
				c.RedisAddr = ""
			},
			wantErr: config.ErrEmptyRedisAddr,
		},
		{
			name:      "zero timer poll",
			configMod: func(c *config.Config) { c.TimerPollInterval = 0 },
			wantErr:   config.ErrInvalidTimerPoll,
		},
		{
			name:      "zero payment timeout",
			configMod: func(c *config.Config) { c.PaymentTimeout = 0 },
			wantErr:   config.ErrInvalidPaymentTimeout,
		},
		{
			name:      "zero shutdown timeout",
			configMod: func(c *config.Config) { c.ShutdownTimeout = 0 },
			wantErr:   config.ErrInvalidShutdownTimeout,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.NewDefaultConfig()
			tc.configMod(cfg)
			require.ErrorIs(t, cfg.Validate(), tc.wantErr)
		})
	}
}
