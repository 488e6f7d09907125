// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values for the API server.
// Values are populated by Load from environment variables.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Defaults to "8080".
	Port string

	// MetricsPort serves /metrics on its own listener. Defaults to "9090".
	MetricsPort string

	// DatabaseURL is the Postgres connection string. Required.
	DatabaseURL string

	// MigrateOnStart applies the embedded goose migrations before serving.
	MigrateOnStart bool

	// JWTSecret signs and verifies bearer tokens. Required.
	JWTSecret string

	// LogLevel controls the minimum log level. Defaults to "info".
	// Valid values: debug, info, warn, error.
	LogLevel string

	// CORSOrigins is the list of allowed cross-origin request origins.
	// Set CORS_ORIGINS to a comma-separated list to override.
	CORSOrigins []string

	// Redis backs the offer lease and idempotency keys.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// KafkaBrokers, when set, publishes trip events to KafkaTopic.
	KafkaBrokers []string
	KafkaTopic   string

	// AMQPURL, when set, publishes trip events to AMQPExchange.
	AMQPURL      string
	AMQPExchange string

	// OfferTimeout is the acceptance window when an offer names none.
	OfferTimeout time.Duration

	// OfferPollInterval is how often due offer timeouts are claimed.
	OfferPollInterval time.Duration

	// BookingMaxAttempts bounds the optimistic booking retry loop.
	BookingMaxAttempts int

	// MaxBodyBytes caps request bodies. Defaults to 64 KiB.
	MaxBodyBytes int64

	// IdempotencyTTL is how long an Idempotency-Key response is replayed.
	IdempotencyTTL time.Duration
}

// Load reads configuration from environment variables and returns a Config.
// Returns an error listing any required variables that are not set and any
// values that do not parse.
func Load() (Config, error) {
	cfg := Config{
		Port:         getEnv("PORT", "8080"),
		MetricsPort:  getEnv("METRICS_PORT", "9090"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		CORSOrigins:  splitCSV(getEnv("CORS_ORIGINS", "http://localhost:5173")),
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers: splitCSV(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "ridebook.trip-events"),
		AMQPURL:      os.Getenv("AMQP_URL"),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "ridebook.trips"),
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	var missing, invalid []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required environment variables not set: %s", strings.Join(missing, ", "))
	}

	p := parser{invalid: &invalid}
	cfg.RedisDB = p.int("REDIS_DB", 0)
	cfg.MigrateOnStart = p.bool("MIGRATE_ON_START", false)
	cfg.OfferTimeout = p.duration("OFFER_TIMEOUT", 2*time.Minute)
	cfg.OfferPollInterval = p.duration("OFFER_POLL_INTERVAL", time.Second)
	cfg.BookingMaxAttempts = p.int("BOOKING_MAX_ATTEMPTS", 5)
	cfg.MaxBodyBytes = int64(p.int("MAX_BODY_BYTES", 64<<10))
	cfg.IdempotencyTTL = p.duration("IDEMPOTENCY_TTL", 24*time.Hour)

	if cfg.OfferTimeout < time.Second || cfg.OfferTimeout > time.Hour {
		invalid = append(invalid, "OFFER_TIMEOUT (must be between 1s and 1h)")
	}
	if cfg.BookingMaxAttempts < 1 {
		invalid = append(invalid, "BOOKING_MAX_ATTEMPTS (must be at least 1)")
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment variables: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

// getEnv returns the value of the environment variable named by key,
// or fallback if the variable is not set or is empty.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// splitCSV splits a comma-separated string into a trimmed slice, ignoring empty entries.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parser reads typed optional variables, collecting the names of those that
// fail to parse.
type parser struct {
	invalid *[]string
}

func (p parser) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*p.invalid = append(*p.invalid, key)
		return fallback
	}
	return n
}

func (p parser) bool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*p.invalid = append(*p.invalid, key)
		return fallback
	}
	return b
}

func (p parser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*p.invalid = append(*p.invalid, key)
		return fallback
	}
	return d
}
