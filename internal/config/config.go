// Package config loads the device agent's configuration from a YAML file
// with environment overrides. The coordinator binary configures itself from
// the environment only; this package serves the agent.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the agent configuration file shape.
type Config struct {
	User struct {
		ID       string `yaml:"id"`
		DeviceID string `yaml:"device_id"`
	} `yaml:"user"`

	Coordinator struct {
		SocketURL string `yaml:"socket_url"`
		APIURL    string `yaml:"api_url"`
	} `yaml:"coordinator"`

	Database struct {
		// URL is the Postgres connection string. Empty means the agent runs
		// on the in-memory store.
		URL string `yaml:"url"`
	} `yaml:"database"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var cfg Config
	cfg.Coordinator.SocketURL = "ws://localhost:8081/ws/timers"
	cfg.Coordinator.APIURL = "http://localhost:8081"
	cfg.Log.Level = "info"
	return &cfg
}

// Load reads the YAML file at path and applies environment overrides. A
// missing file is not an error; the defaults plus environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults plus environment.
	case err != nil:
		return nil, fmt.Errorf("read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	if cfg.User.ID == "" {
		return nil, fmt.Errorf("user id is required (set user.id or HOURGLASS_USER_ID)")
	}
	if cfg.User.DeviceID == "" {
		return nil, fmt.Errorf("device id is required (set user.device_id or HOURGLASS_DEVICE_ID)")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.User.ID = getEnv("HOURGLASS_USER_ID", cfg.User.ID)
	cfg.User.DeviceID = getEnv("HOURGLASS_DEVICE_ID", cfg.User.DeviceID)
	cfg.Coordinator.SocketURL = getEnv("HOURGLASS_SOCKET_URL", cfg.Coordinator.SocketURL)
	cfg.Coordinator.APIURL = getEnv("HOURGLASS_API_URL", cfg.Coordinator.APIURL)
	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
