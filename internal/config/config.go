// Package config loads server configuration from the environment.
package config

import (
	"errors"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the server needs to start.
type Config struct {
	Addr        string
	Env         string
	DatabaseDSN string
	JWTSecret   string
	AccessTTL   time.Duration
}

// Load reads configuration from the environment, with a best-effort .env file
// load first. JWT_SECRET and DATABASE_DSN are required.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:        getEnv("ADDR", ":8080"),
		Env:         getEnv("ENV", "development"),
		DatabaseDSN: os.Getenv("DATABASE_DSN"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		AccessTTL:   parseDuration(getEnv("ACCESS_TOKEN_TTL", "15m")),
	}

	if cfg.DatabaseDSN == "" {
		return nil, errors.New("config: DATABASE_DSN is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("config: JWT_SECRET is required")
	}
	return cfg, nil
}

// Production reports whether the server runs in production mode.
func (c *Config) Production() bool { return c.Env == "production" }

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 15 * time.Minute
	}
	return d
}
