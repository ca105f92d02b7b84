// Package config handles loading and validating configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the Pilot routing engine.
type Config struct {
	// Server
	Port     string
	LogLevel string

	// Management API
	AdminAPIKey string // Required for /api/v1 endpoints; empty = no auth

	// Database. Empty DBHost disables persistence and the ledger runs on the
	// in-memory repositories.
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Redis. Empty RedisHost disables spend counters and rate limiting.
	RedisHost     string
	RedisPort     int
	RedisPassword string

	// Circuit breaker defaults, overridable per workspace.
	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMax      int

	// Usage ledger batching
	LedgerBuffered      bool
	LedgerBatchSize     int
	LedgerFlushInterval time.Duration

	// Periodic budget alert sweep; zero disables the sweep.
	AlertSweepInterval time.Duration

	// Fixed-window rate limit per client; zero disables limiting.
	RateLimitPerMinute int64

	// Model catalog overrides
	CatalogFile   string // optional YAML seed, replaces the built-in catalog
	AliasOverride string // "alias=provider:model;..." applied on top

	AllowedOrigins []string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:     getEnv("PILOT_PORT", "8080"),
		LogLevel: getEnv("PILOT_LOG_LEVEL", "info"),

		AdminAPIKey: os.Getenv("PILOT_ADMIN_API_KEY"),

		DBHost:     os.Getenv("POSTGRES_HOST"),
		DBName:     getEnv("POSTGRES_DB", "opencloudops"),
		DBUser:     getEnv("POSTGRES_USER", "oco_user"),
		DBPassword: getEnv("POSTGRES_PASSWORD", ""),
		DBSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     os.Getenv("REDIS_HOST"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		LedgerBuffered: getEnv("PILOT_LEDGER_BUFFERED", "true") == "true",

		CatalogFile:   os.Getenv("PILOT_CATALOG_FILE"),
		AliasOverride: os.Getenv("PILOT_MODEL_ALIASES"),
	}

	var err error
	if cfg.DBPort, err = intEnv("POSTGRES_PORT", 5432); err != nil {
		return nil, err
	}
	if cfg.RedisPort, err = intEnv("REDIS_PORT", 6379); err != nil {
		return nil, err
	}

	if cfg.BreakerFailureThreshold, err = intEnv("PILOT_BREAKER_FAILURES", 5); err != nil {
		return nil, err
	}
	if cfg.BreakerSuccessThreshold, err = intEnv("PILOT_BREAKER_SUCCESSES", 2); err != nil {
		return nil, err
	}
	if cfg.BreakerOpenTimeout, err = durationEnv("PILOT_BREAKER_OPEN_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.BreakerHalfOpenMax, err = intEnv("PILOT_BREAKER_HALF_OPEN_MAX", 1); err != nil {
		return nil, err
	}

	if cfg.LedgerBatchSize, err = intEnv("PILOT_LEDGER_BATCH_SIZE", 50); err != nil {
		return nil, err
	}
	if cfg.LedgerFlushInterval, err = durationEnv("PILOT_LEDGER_FLUSH_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}

	if cfg.AlertSweepInterval, err = durationEnv("PILOT_ALERT_SWEEP_INTERVAL", time.Minute); err != nil {
		return nil, err
	}

	rate, err := intEnv("PILOT_RATE_LIMIT_PER_MINUTE", 0)
	if err != nil {
		return nil, err
	}
	cfg.RateLimitPerMinute = int64(rate)

	origins := getEnv("PILOT_ALLOWED_ORIGINS", "*")
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
		}
	}

	return cfg, nil
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// RedactedDSN returns the DSN with the password masked for safe logging.
func (c *Config) RedactedDSN() string {
	return fmt.Sprintf("postgres://%s:***@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// RedisAddr returns the Redis address in host:port format.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
