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
	APIPort            string
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Database
	DatabaseURL string

	// Redis (worker nudge queue + session tokens)
	RedisURL string

	// Synthesis provider
	SynthProvider string        // "openai" (default) or "compat"
	OpenAIKey     string        // required when SynthProvider == "openai"
	SynthBaseURL  string        // base URL for the compat provider
	SynthAPIKey   string        // API key for the compat provider
	SynthTimeout  time.Duration // per-call timeout for synthesis requests

	// Worker
	WorkerEnabled     bool
	WorkerInterval    time.Duration // pass interval; redis nudges cut the latency between passes
	WorkerMaxAttempts int           // passes before an unresolvable job turns failed
	MaxConcurrentRows int           // bounded row parallelism within a job

	// Storage
	DataDir   string        // root for job outputs, workspaces and archives
	Retention time.Duration // generated-audio time-to-live for the cleanup sweep

	// Sessions
	SessionTTL time.Duration

	// Bootstrap admin account, created on first start when no users exist
	AdminEmail    string
	AdminPassword string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:            getEnv("API_PORT", "8080"),
		CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		SynthProvider:      getEnv("SYNTH_PROVIDER", "openai"),
		OpenAIKey:          getEnv("OPENAI_API_KEY", ""),
		SynthBaseURL:       getEnv("SYNTH_BASE_URL", ""),
		SynthAPIKey:        getEnv("SYNTH_API_KEY", ""),
		SynthTimeout:       time.Duration(getEnvInt("SYNTH_TIMEOUT_SECONDS", 90)) * time.Second,
		WorkerEnabled:      getEnvBool("WORKER_ENABLED", true),
		WorkerInterval:     time.Duration(getEnvInt("WORKER_INTERVAL_SECONDS", 30)) * time.Second,
		WorkerMaxAttempts:  getEnvInt("WORKER_MAX_ATTEMPTS", 10),
		MaxConcurrentRows:  getEnvInt("MAX_CONCURRENT_ROWS", 4),
		DataDir:            getEnv("DATA_DIR", "data"),
		Retention:          time.Duration(getEnvInt("RETENTION_HOURS", 72)) * time.Hour,
		SessionTTL:         time.Duration(getEnvInt("SESSION_TTL_HOURS", 24)) * time.Hour,
		AdminEmail:         getEnv("ADMIN_EMAIL", ""),
		AdminPassword:      getEnv("ADMIN_PASSWORD", ""),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	switch cfg.SynthProvider {
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when SYNTH_PROVIDER=openai")
		}
	case "compat":
		if cfg.SynthBaseURL == "" {
			return nil, fmt.Errorf("SYNTH_BASE_URL is required when SYNTH_PROVIDER=compat")
		}
	default:
		return nil, fmt.Errorf("unknown SYNTH_PROVIDER %q (expected openai or compat)", cfg.SynthProvider)
	}

	if cfg.MaxConcurrentRows < 1 {
		cfg.MaxConcurrentRows = 1
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}
