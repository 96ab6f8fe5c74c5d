// Package config loads server configuration from the environment and the
// optional genesis profile that seeds the membership registry, marketplace
// listings, and opening treasury balance.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds server configuration.
type Config struct {
	Port     string
	LogLevel string

	// DBDriver selects the proposal/treasury store: "sqlite", "postgres",
	// or "memory".
	DBDriver    string
	DatabaseURL string

	// RedisAddr enables the membership cache and distributed rate limiter
	// when non-empty.
	RedisAddr     string
	RedisPassword string

	JWTSecret string

	// Owner is the only address allowed to withdraw treasury surplus.
	Owner    string
	Currency string

	// VotingPeriod is the window between proposal creation and deadline.
	VotingPeriod time.Duration

	// InitialBalance seeds the treasury on first boot, in minor units.
	InitialBalance int64

	// GenesisPath points at the YAML genesis profile; empty means no seed.
	GenesisPath string

	RateLimitPerSecond float64
	RateLimitBurst     int

	TelemetryEnabled bool
	OTLPEndpoint     string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:               envDefault("PORT", "8080"),
		LogLevel:           envDefault("LOG_LEVEL", "INFO"),
		DBDriver:           envDefault("DB_DRIVER", "sqlite"),
		DatabaseURL:        envDefault("DATABASE_URL", "file:dao.db?_pragma=busy_timeout(5000)"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		Owner:              envDefault("DAO_OWNER", "0xowner"),
		Currency:           envDefault("DAO_CURRENCY", "WEI"),
		VotingPeriod:       envDuration("DAO_VOTING_PERIOD", 5*time.Minute),
		InitialBalance:     envInt64("DAO_INITIAL_BALANCE", 0),
		GenesisPath:        os.Getenv("DAO_GENESIS"),
		RateLimitPerSecond: envFloat("RATE_LIMIT_PER_SECOND", 10),
		RateLimitBurst:     int(envInt64("RATE_LIMIT_BURST", 20)),
		TelemetryEnabled:   os.Getenv("OTEL_ENABLED") == "true",
		OTLPEndpoint:       envDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
