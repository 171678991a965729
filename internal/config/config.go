// Package config reads all settings from the environment, loading a local
// .env file first when one exists.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string
	DatabaseURL string
	Env         string

	// AlertTimeout bounds the staff-call alert loop; AlertInterval is the
	// gap between replays. PollInterval drives the clients' background
	// refresh. All fixed timers, no backoff.
	AlertTimeout  time.Duration
	AlertInterval time.Duration
	PollInterval  time.Duration
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Addr:          getenv("ADDR", ":8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		Env:           getenv("APP_ENV", "development"),
		AlertTimeout:  30 * time.Second,
		AlertInterval: 3 * time.Second,
		PollInterval:  30 * time.Second,
	}

	var err error
	if cfg.AlertTimeout, err = getDuration("ALERT_TIMEOUT", cfg.AlertTimeout); err != nil {
		return Config{}, err
	}
	if cfg.AlertInterval, err = getDuration("ALERT_INTERVAL", cfg.AlertInterval); err != nil {
		return Config{}, err
	}
	if cfg.PollInterval, err = getDuration("POLL_INTERVAL", cfg.PollInterval); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Production() bool { return c.Env == "production" }

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
