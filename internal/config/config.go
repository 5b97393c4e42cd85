// Package config holds the service configuration, loaded from environment
// variables over validated defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds configuration settings for the order service.
type Config struct {
	// API server
	APIHost  string
	APIPort  int
	LogLevel string

	// Engine persistence
	DatabasePath string

	// Relay queue
	QueueBackend string
	RedisAddr    string
	RedisPrefix  string

	// Engine timing
	TimerPollInterval time.Duration
	PaymentTimeout    time.Duration

	ShutdownTimeout time.Duration
}

// Relay queue backends.
const (
	QueueBackendMemory = "memory"
	QueueBackendSQLite = "sqlite"
	QueueBackendRedis  = "redis"
)

const (
	DefaultAPIHost  = "0.0.0.0"
	DefaultAPIPort  = 8080
	DefaultLogLevel = "info"
	MaxTCPPort      = 65535

	DefaultDatabasePath = "ordena.db"

	DefaultQueueBackend = QueueBackendSQLite
	DefaultRedisAddr    = "localhost:6379"
	DefaultRedisPrefix  = "ordena"

	DefaultTimerPollInterval = 25 * time.Millisecond
	DefaultPaymentTimeout    = 120 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second
)

var (
	ErrInvalidAPIPort         = errors.New("invalid API port")
	ErrEmptyDatabasePath      = errors.New("database path cannot be empty")
	ErrInvalidQueueBackend    = errors.New("invalid queue backend")
	ErrEmptyRedisAddr         = errors.New("redis address cannot be empty")
	ErrInvalidTimerPoll       = errors.New("timer poll interval must be positive")
	ErrInvalidPaymentTimeout  = errors.New("payment timeout must be positive")
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")
)

// NewDefaultConfig creates a configuration with sensible defaults for every
// setting.
func NewDefaultConfig() *Config {
	return &Config{
		APIHost:           DefaultAPIHost,
		APIPort:           DefaultAPIPort,
		LogLevel:          DefaultLogLevel,
		DatabasePath:      DefaultDatabasePath,
		QueueBackend:      DefaultQueueBackend,
		RedisAddr:         DefaultRedisAddr,
		RedisPrefix:       DefaultRedisPrefix,
		TimerPollInterval: DefaultTimerPollInterval,
		PaymentTimeout:    DefaultPaymentTimeout,
		ShutdownTimeout:   DefaultShutdownTimeout,
	}
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any env var cannot be parsed.
func (c *Config) LoadFromEnv() error {
	if host := os.Getenv("API_HOST"); host != "" {
		c.APIHost = host
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if path := os.Getenv("DB_PATH"); path != "" {
		c.DatabasePath = path
	}
	if backend := os.Getenv("QUEUE_BACKEND"); backend != "" {
		c.QueueBackend = backend
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.RedisAddr = addr
	}
	if prefix := os.Getenv("REDIS_PREFIX"); prefix != "" {
		c.RedisPrefix = prefix
	}

	if err := loadEnvInt("API_PORT", &c.APIPort, 0, MaxTCPPort); err != nil {
		return err
	}

	if err := loadEnvDuration("TIMER_POLL_INTERVAL", &c.TimerPollInterval); err != nil {
		return err
	}
	if err := loadEnvDuration("PAYMENT_TIMEOUT", &c.PaymentTimeout); err != nil {
		return err
	}
	if err := loadEnvDuration("SHUTDOWN_TIMEOUT", &c.ShutdownTimeout); err != nil {
		return err
	}

	return nil
}

// Validate checks that all configuration values are valid.
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, c.APIPort)
	}

	if c.DatabasePath == "" {
		return ErrEmptyDatabasePath
	}

	switch c.QueueBackend {
	case QueueBackendMemory, QueueBackendSQLite:
	case QueueBackendRedis:
		if c.RedisAddr == "" {
			return ErrEmptyRedisAddr
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidQueueBackend, c.QueueBackend)
	}

	if c.TimerPollInterval <= 0 {
		return ErrInvalidTimerPoll
	}
	if c.PaymentTimeout <= 0 {
		return ErrInvalidPaymentTimeout
	}
	if c.ShutdownTimeout <= 0 {
		return ErrInvalidShutdownTimeout
	}

	return nil
}

func loadEnvInt(key string, target *int, minimum, maximum int) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if v < minimum || v > maximum {
		return fmt.Errorf("%s %d out of range [%d, %d]", key, v, minimum, maximum)
	}
	*target = v
	return nil
}

func loadEnvDuration(key string, target *time.Duration) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", key, d)
	}
	*target = d
	return nil
}
