// Package config handles application configuration from environment variables
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/mbd888/consultcredit/internal/units"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Storage
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)
	RedisURL    string // Optional Redis store for usage accounts

	// Usage ledger
	UsageTimezone     string // IANA zone whose calendar month drives the free reset
	FreeMonthlyTokens int64

	// Reputation
	RankingSchedule string // robfig/cron spec for ranking recompute

	// Security
	AdminSecret    string
	RateLimitRPS   float64
	RateLimitBurst int

	// Tracing
	OTLPEndpoint     string
	TraceSampleRatio float64
}

const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
	DefaultUsageTimezone   = "UTC"
	DefaultRankingSchedule = "@every 1h"
	DefaultRateLimitRPS    = 20
	DefaultRateLimitBurst  = 40
	DefaultTraceSample     = 1.0

	// MaxFreeMonthlyTokens matches the ledger's per-amount ceiling.
	MaxFreeMonthlyTokens int64 = 1 << 50
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:         getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		UsageTimezone:     getEnv("USAGE_TIMEZONE", DefaultUsageTimezone),
		FreeMonthlyTokens: getEnvInt64("FREE_MONTHLY_TOKENS", units.DefaultFreeMonthlyTokens),
		RankingSchedule:   getEnv("RANKING_SCHEDULE", DefaultRankingSchedule),
		AdminSecret:       os.Getenv("ADMIN_SECRET"),
		RateLimitRPS:      getEnvFloat("RATE_LIMIT_RPS", DefaultRateLimitRPS),
		RateLimitBurst:    int(getEnvInt64("RATE_LIMIT_BURST", DefaultRateLimitBurst)),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRatio:  getEnvFloat("OTEL_TRACES_SAMPLE_RATIO", DefaultTraceSample),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Port == "" {
		errs = append(errs, errors.New("PORT is required"))
	}
	if _, err := time.LoadLocation(c.UsageTimezone); err != nil {
		errs = append(errs, fmt.Errorf("USAGE_TIMEZONE %q: %w", c.UsageTimezone, err))
	}
	if c.FreeMonthlyTokens <= 0 {
		errs = append(errs, fmt.Errorf("FREE_MONTHLY_TOKENS must be positive, got %d", c.FreeMonthlyTokens))
	} else if c.FreeMonthlyTokens > MaxFreeMonthlyTokens {
		errs = append(errs, fmt.Errorf("FREE_MONTHLY_TOKENS must be at most %d, got %d", MaxFreeMonthlyTokens, c.FreeMonthlyTokens))
	}
	if _, err := cron.ParseStandard(c.RankingSchedule); err != nil {
		errs = append(errs, fmt.Errorf("RANKING_SCHEDULE %q: %w", c.RankingSchedule, err))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive"))
	}
	if c.OTLPEndpoint != "" && (c.TraceSampleRatio <= 0 || c.TraceSampleRatio > 1) {
		errs = append(errs, fmt.Errorf("OTEL_TRACES_SAMPLE_RATIO must be in (0, 1], got %v", c.TraceSampleRatio))
	}
	if c.IsProduction() && c.AdminSecret == "" {
		errs = append(errs, errors.New("ADMIN_SECRET is required in production"))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

// Location returns the usage timezone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.UsageTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
