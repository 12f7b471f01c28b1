package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port            string
	Env             string
	ShutdownTimeout time.Duration

	// Database
	DatabaseURL      string
	DatabaseMaxConns int

	// Redis
	RedisURL string

	// JWT
	JWTSecret string

	// Ingest
	IngestWorkers     int
	IngestMaxAttempts int

	// Collector rate limit, per user
	CollectRateLimit  int
	CollectRateWindow time.Duration

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:              getEnvOrDefault("PORT", "8080"),
		Env:               getEnvOrDefault("ENV", "development"),
		ShutdownTimeout:   getEnvAsDurationOrDefault("SHUTDOWN_TIMEOUT", 30*time.Second),
		DatabaseURL:       mustGetEnv("DATABASE_URL"),
		DatabaseMaxConns:  getEnvAsIntOrDefault("DATABASE_MAX_CONNS", 25),
		RedisURL:          mustGetEnv("REDIS_URL"),
		JWTSecret:         mustGetEnv("JWT_SECRET"),
		IngestWorkers:     getEnvAsIntOrDefault("INGEST_WORKERS", 4),
		IngestMaxAttempts: getEnvAsIntOrDefault("INGEST_MAX_ATTEMPTS", 3),
		CollectRateLimit:  getEnvAsIntOrDefault("COLLECT_RATE_LIMIT", 120),
		CollectRateWindow: getEnvAsDurationOrDefault("COLLECT_RATE_WINDOW", time.Minute),
		FrontendURL:       getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	return cfg
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvAsDurationOrDefault accepts Go durations ("45s") or bare seconds ("45").
func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}
