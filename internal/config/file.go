package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	DVRURL              string `yaml:"dvr_url"`
	DatabaseURL         string `yaml:"database_url"`
	RedisURL            string `yaml:"redis_url"`
	ServerPort          string `yaml:"server_port"`
	HTTPTimeout         string `yaml:"http_timeout"`
	SyncIntervalMinutes *int   `yaml:"sync_interval_minutes"`
	DispatcharrURL      string `yaml:"dispatcharr_url"`
	DispatcharrUsername string `yaml:"dispatcharr_username"`
	DispatcharrPassword string `yaml:"dispatcharr_password"`
}

// LoadFromFile loads config from a YAML file. dvr_url and database_url are
// required.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.DVRURL == "" {
		return nil, ErrMissingDVRURL
	}
	if f.DatabaseURL == "" {
		return nil, ErrMissingDatabaseURL
	}
	c := &Config{
		DVRURL:              f.DVRURL,
		DatabaseURL:         f.DatabaseURL,
		RedisURL:            f.RedisURL,
		ServerPort:          f.ServerPort,
		HTTPTimeout:         15 * time.Second,
		SyncInterval:        60 * time.Minute,
		DispatcharrURL:      f.DispatcharrURL,
		DispatcharrUsername: f.DispatcharrUsername,
		DispatcharrPassword: f.DispatcharrPassword,
	}
	if c.ServerPort == "" {
		c.ServerPort = "8080"
	}
	if f.HTTPTimeout != "" {
		if d, err := time.ParseDuration(f.HTTPTimeout); err == nil {
			c.HTTPTimeout = d
		}
	}
	if f.SyncIntervalMinutes != nil && *f.SyncIntervalMinutes >= 0 {
		c.SyncInterval = time.Duration(*f.SyncIntervalMinutes) * time.Minute
	}
	return c, nil
}
