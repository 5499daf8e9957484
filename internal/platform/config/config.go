package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName string
	PostgresDSN string
	RedisURL    string

	// Worker tuning
	GroupName          string
	ConsumerName       string
	MaxRetries         int
	IdemTTL            time.Duration
	WorkerBlock        time.Duration
	WorkerCount        int
	BackoffBaseSeconds float64
	BackoffJitterMax   float64

	// Budget defaults
	MaxDollars float64

	// Background jobs
	ReservationSweepInterval time.Duration
}

func Load() (Config, error) {
	// Best effort: a missing .env file is not an error.
	_ = godotenv.Load()

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}

	return Config{
		ServiceName: envString("SERVICE_NAME", "metismedia"),
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
		RedisURL:    redisURL,

		GroupName:          envString("GROUP_NAME", "metismedia-workers"),
		ConsumerName:       envString("CONSUMER_NAME", "worker-1"),
		MaxRetries:         envInt("MAX_RETRIES", 5),
		IdemTTL:            time.Duration(envInt("IDEM_TTL_SECONDS", 86400)) * time.Second,
		WorkerBlock:        time.Duration(envInt("WORKER_BLOCK_MS", 1000)) * time.Millisecond,
		WorkerCount:        envInt("WORKER_COUNT", 10),
		BackoffBaseSeconds: envFloat("BACKOFF_BASE_SECONDS", 0.5),
		BackoffJitterMax:   envFloat("BACKOFF_JITTER_MAX", 0.2),

		MaxDollars: envFloat("MAX_DOLLARS", 5.0),

		ReservationSweepInterval: time.Duration(envInt("RESERVATION_SWEEP_SECONDS", 300)) * time.Second,
	}, nil
}

func envString(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envFloat(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}
