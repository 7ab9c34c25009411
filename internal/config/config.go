// Package config reads environment configuration and runs the start-of-day
// preflight checks.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration. Command-line flags override these
// values; the environment supplies the defaults.
type Config struct {
	OutputDir   string
	CachePath   string
	UniverseDir string
	LogLevel    string
	DevMode     bool

	Concurrency      int
	MaxRetries       int
	RetryDelayMS     int
	RateLimitDelayMS int
	RatePerSecond    int
	Exponential      bool
	Jitter           bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		OutputDir:        getEnv("OUTPUT_DIR", "./output"),
		CachePath:        getEnv("CACHE_PATH", "./data/cache.db"),
		UniverseDir:      getEnv("UNIVERSE_DIR", "./universes"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		DevMode:          getEnvAsBool("DEV_MODE", false),
		Concurrency:      getEnvAsInt("CONCURRENCY", 3),
		MaxRetries:       getEnvAsInt("MAX_RETRIES", 3),
		RetryDelayMS:     getEnvAsInt("RETRY_DELAY_MS", 1000),
		RateLimitDelayMS: getEnvAsInt("RATE_LIMIT_DELAY_MS", 30000),
		RatePerSecond:    getEnvAsInt("RATE_PER_SECOND", 2),
		Exponential:      getEnvAsBool("RETRY_EXPONENTIAL", true),
		Jitter:           getEnvAsBool("RETRY_JITTER", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.OutputDir == "" {
		return fmt.Errorf("OUTPUT_DIR is required")
	}
	if c.CachePath == "" {
		return fmt.Errorf("CACHE_PATH is required")
	}
	if c.Concurrency < 1 || c.Concurrency > 10 {
		return fmt.Errorf("CONCURRENCY must be between 1 and 10, got %d", c.Concurrency)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("MAX_RETRIES must be at least 1, got %d", c.MaxRetries)
	}
	return nil
}

// Preflight verifies the host can run a download: the output directory must
// be creatable and writable.
func (c *Config) Preflight() error {
	if err := os.MkdirAll(c.OutputDir, 0755); err != nil {
		return fmt.Errorf("output directory not creatable: %w", err)
	}
	probe := filepath.Join(c.OutputDir, ".write_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return fmt.Errorf("output directory not writable: %w", err)
	}
	os.Remove(probe)
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
