package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

var (
	// ErrMissingDVRURL is returned when no Channels DVR address is configured.
	ErrMissingDVRURL = errors.New("DVR_URL is required")
	// ErrMissingDatabaseURL is returned when no Postgres DSN is configured.
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")
)

// Config holds application configuration. DVRURL and DatabaseURL are
// required; everything else has a default or disables its subsystem when
// empty.
type Config struct {
	DVRURL      string        `yaml:"dvr_url" env:"DVR_URL"`
	DatabaseURL string        `yaml:"database_url" env:"DATABASE_URL"`
	RedisURL    string        `yaml:"redis_url" env:"REDIS_URL"`
	ServerPort  string        `yaml:"server_port" env:"SERVER_PORT"`
	HTTPTimeout time.Duration `yaml:"http_timeout" env:"HTTP_TIMEOUT"`

	// SyncInterval is the global pass cadence. Zero disables the global
	// pass; per-rule intervals still apply.
	SyncInterval time.Duration `yaml:"-" env:"SYNC_INTERVAL_MINUTES"`

	DispatcharrURL      string `yaml:"dispatcharr_url" env:"DISPATCHARR_URL"`
	DispatcharrUsername string `yaml:"dispatcharr_username" env:"DISPATCHARR_USERNAME"`
	DispatcharrPassword string `yaml:"dispatcharr_password" env:"DISPATCHARR_PASSWORD"`
}

// Load builds config from environment variables. If DVR_URL or DATABASE_URL
// is not set, Load tries .env.local and .env from the current directory
// first.
func Load() (*Config, error) {
	if os.Getenv("DVR_URL") == "" || os.Getenv("DATABASE_URL") == "" {
		loadEnvFiles()
	}
	c := &Config{
		DVRURL:              os.Getenv("DVR_URL"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		ServerPort:          os.Getenv("SERVER_PORT"),
		HTTPTimeout:         15 * time.Second,
		SyncInterval:        60 * time.Minute,
		DispatcharrURL:      os.Getenv("DISPATCHARR_URL"),
		DispatcharrUsername: os.Getenv("DISPATCHARR_USERNAME"),
		DispatcharrPassword: os.Getenv("DISPATCHARR_PASSWORD"),
	}
	if c.ServerPort == "" {
		c.ServerPort = "8080"
	}
	if s := os.Getenv("HTTP_TIMEOUT"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			c.HTTPTimeout = d
		}
	}
	if s := os.Getenv("SYNC_INTERVAL_MINUTES"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			c.SyncInterval = time.Duration(n) * time.Minute
		}
	}
	if c.DVRURL == "" {
		return nil, ErrMissingDVRURL
	}
	if c.DatabaseURL == "" {
		return nil, ErrMissingDatabaseURL
	}
	return c, nil
}
