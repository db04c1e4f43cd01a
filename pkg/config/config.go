package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Lock backends.
const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

// Config holds application configuration.
type Config struct {
	// Application
	AppEnv    string
	LogLevel  string
	LogFormat string

	// Primary remote store (Postgres). Empty runs on the local store only.
	DatabaseURL             string
	PrimaryTimeout          time.Duration
	PrimaryMaxConns         int
	BreakerFailureThreshold int
	BreakerOpenTimeout      time.Duration

	// Durable local store (SQLite file under this directory)
	LocalStoreDir     string
	LocalMirrorWrites bool

	// Entity serialization
	LockBackend string
	LockTTL     time.Duration
	RedisURL    string

	// RabbitMQ event delivery
	RabbitMQURL string
	EventsQueue string

	// Billing provider
	StripeWebhookSecret string

	// Notifier
	PostmarkServerToken string
	PostmarkFrom        string
	AppBaseURL          string
	NotifyTimeout       time.Duration

	// Worker
	WorkerHTTPAddr    string
	StorageProbeEvery time.Duration
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:    getEnv("APP_ENV", "development"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", ""),

		DatabaseURL:             getEnv("DATABASE_URL", ""),
		PrimaryTimeout:          getDurationEnv("PRIMARY_TIMEOUT", 5*time.Second),
		PrimaryMaxConns:         getIntEnv("PRIMARY_MAX_CONNS", 10),
		BreakerFailureThreshold: getIntEnv("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerOpenTimeout:      getDurationEnv("BREAKER_OPEN_TIMEOUT", 30*time.Second),

		LocalStoreDir:     getEnv("LOCAL_STORE_DIR", defaultLocalStoreDir()),
		LocalMirrorWrites: getBoolEnv("LOCAL_MIRROR_WRITES", true),

		LockBackend: getEnv("LOCK_BACKEND", LockBackendMemory),
		LockTTL:     getDurationEnv("LOCK_TTL", 30*time.Second),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),

		RabbitMQURL: getEnv("RABBITMQ_URL", ""),
		EventsQueue: getEnv("EVENTS_QUEUE", "billsync.events"),

		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		PostmarkServerToken: getEnv("POSTMARK_SERVER_TOKEN", ""),
		PostmarkFrom:        getEnv("POSTMARK_FROM", "billing@localhost"),
		AppBaseURL:          getEnv("APP_BASE_URL", "http://localhost:3000"),
		NotifyTimeout:       getDurationEnv("NOTIFY_TIMEOUT", 10*time.Second),

		WorkerHTTPAddr:    getEnv("WORKER_HTTP_ADDR", "0.0.0.0:8081"),
		StorageProbeEvery: getDurationEnv("STORAGE_PROBE_INTERVAL", 15*time.Second),
	}

	return cfg, nil
}

// Validate reports configuration the worker cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.LocalStoreDir == "" {
		errs = append(errs, errors.New("LOCAL_STORE_DIR is required"))
	}
	if c.WorkerHTTPAddr != "" && c.StripeWebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required when WORKER_HTTP_ADDR is set"))
	}
	switch c.LockBackend {
	case LockBackendMemory:
	case LockBackendRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis lock backend"))
		}
	default:
		errs = append(errs, errors.New("LOCK_BACKEND must be memory or redis"))
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// LocalMode reports whether no primary store is configured.
func (c *Config) LocalMode() bool {
	return c.DatabaseURL == ""
}

// SQLitePath is the local store database file.
func (c *Config) SQLitePath() string {
	return filepath.Join(c.LocalStoreDir, "billsync.db")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func defaultLocalStoreDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".billsync"
	}
	return filepath.Join(home, ".billsync")
}
