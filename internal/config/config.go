// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Remote ledger
	RemoteLedgerURL string        // Base URL of the authoritative ledger (optional, sync disabled if not set)
	SyncInterval    time.Duration // How often the sync client drains the backlog
	ReconcileEvery  time.Duration // How often balances are reconciled against the server

	// Accrual settings
	BaseRateUnits      int64         // Smallest units accrued per active second
	MaxSessionDuration time.Duration // Cap on a single session's counted time
	ClockTolerance     time.Duration // Allowed wall-vs-monotonic drift before flagging

	// Security
	RateLimitRPS int
	AdminSecret  string // Admin API secret

	// Tracing
	OTLPEndpoint string // OTLP gRPC endpoint (optional, tracing disabled if not set)
}

const (
	DefaultPort               = "8080"
	DefaultEnv                = "development"
	DefaultLogLevel           = "info"
	DefaultSyncInterval       = 30 * time.Second
	DefaultReconcileEvery     = 10 * time.Minute
	DefaultBaseRateUnits      = 11574 // ~10 CELF per day at 8 decimals
	DefaultMaxSessionDuration = 24 * time.Hour
	DefaultClockTolerance     = 30 * time.Second
	DefaultRateLimit          = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:        os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RemoteLedgerURL:    os.Getenv("REMOTE_LEDGER_URL"),
		SyncInterval:       getEnvDuration("SYNC_INTERVAL", DefaultSyncInterval),
		ReconcileEvery:     getEnvDuration("RECONCILE_INTERVAL", DefaultReconcileEvery),
		BaseRateUnits:      getEnvInt64("BASE_RATE_UNITS_PER_SEC", DefaultBaseRateUnits),
		MaxSessionDuration: getEnvDuration("MAX_SESSION_DURATION", DefaultMaxSessionDuration),
		ClockTolerance:     getEnvDuration("CLOCK_TOLERANCE", DefaultClockTolerance),
		RateLimitRPS:       int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		AdminSecret:        os.Getenv("ADMIN_SECRET"),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.BaseRateUnits <= 0 {
		return fmt.Errorf("BASE_RATE_UNITS_PER_SEC must be positive")
	}
	if c.MaxSessionDuration <= 0 {
		return fmt.Errorf("MAX_SESSION_DURATION must be positive")
	}
	if c.ClockTolerance < 0 {
		return fmt.Errorf("CLOCK_TOLERANCE must not be negative")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("SYNC_INTERVAL must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
