package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds process-level settings resolved from the environment.
type Config struct {
	Environment string
	ListenAddr  string

	DatabaseDriver string
	DatabaseDSN    string

	SnowflakeNode int64

	RateLimitPerMinute int

	TracingEnabled       bool
	TracingEndpoint      string
	TracingProtocol      string
	TracingSamplingRatio float64
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:        getEnv("CONGNO_ENV", "development"),
		ListenAddr:         getEnv("CONGNO_LISTEN_ADDR", ":8080"),
		DatabaseDriver:     strings.ToLower(getEnv("CONGNO_DB_DRIVER", "sqlite")),
		DatabaseDSN:        getEnv("CONGNO_DB_DSN", "file:congno.db?cache=shared"),
		SnowflakeNode:      getEnvInt64("CONGNO_SNOWFLAKE_NODE", 1),
		RateLimitPerMinute: int(getEnvInt64("CONGNO_RATE_LIMIT_PER_MINUTE", 600)),

		TracingEnabled:       getEnvBool("CONGNO_TRACING_ENABLED", false),
		TracingEndpoint:      getEnv("CONGNO_TRACING_ENDPOINT", ""),
		TracingProtocol:      getEnv("CONGNO_TRACING_PROTOCOL", "grpc"),
		TracingSamplingRatio: getEnvFloat("CONGNO_TRACING_SAMPLING_RATIO", 0.1),
	}
	return cfg, nil
}

// IsProduction reports whether the process runs with production settings.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
