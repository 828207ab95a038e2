package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port            string
	LogLevel        string
	DatabaseURL     string
	DBQueryTimeout  time.Duration
	DatasourcesPath string

	// Query gateway
	QueryRPCEndpoint     string
	QueryTimeout         time.Duration
	QueryRPCRetryMax     int
	QueryRPCRetryBackoff time.Duration
	BreakerMaxFailures   int
	BreakerResetTimeout  time.Duration

	// Hydration
	HydrateConcurrency   int
	HydrateStrictColumns bool

	// Scheduled refresh; zero interval disables it.
	RefreshInterval  time.Duration
	RefreshBatchSize int
}

func Load() Config {
	return Config{
		Port:                 getEnv("PORT", "8080"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		DatabaseURL:          getEnvRequired("DATABASE_URL"),
		DBQueryTimeout:       getEnvDuration("DB_QUERY_TIMEOUT", 5*time.Second),
		DatasourcesPath:      getEnv("DATASOURCES_PATH", ""),
		QueryRPCEndpoint:     getEnv("QUERY_RPC_ENDPOINT", ""),
		QueryTimeout:         getEnvDuration("QUERY_TIMEOUT", 30*time.Second),
		QueryRPCRetryMax:     getEnvInt("QUERY_RPC_RETRY_MAX", 2),
		QueryRPCRetryBackoff: getEnvDuration("QUERY_RPC_RETRY_BACKOFF", 200*time.Millisecond),
		BreakerMaxFailures:   getEnvInt("BREAKER_MAX_FAILURES", 5),
		BreakerResetTimeout:  getEnvDuration("BREAKER_RESET_TIMEOUT", 30*time.Second),
		HydrateConcurrency:   getEnvInt("HYDRATE_CONCURRENCY", 8),
		HydrateStrictColumns: getEnvBool("HYDRATE_STRICT_COLUMNS", false),
		RefreshInterval:      getEnvDuration("REFRESH_INTERVAL", 0),
		RefreshBatchSize:     getEnvInt("REFRESH_BATCH_SIZE", 50),
	}
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func getEnvRequired(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic("required environment variable " + key + " is not set")
	}
	return v
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid integer env var, using default", "key", key, "value", v, "error", err)
			return fallback
		}
		return n
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			slog.Warn("invalid boolean env var, using default", "key", key, "value", v, "error", err)
			return fallback
		}
		return b
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("invalid duration env var, using default", "key", key, "value", v, "error", err)
			return fallback
		}
		return d
	}
	return fallback
}
