// Package config provides configuration for the storyloom daemon: defaults,
// an optional YAML file, then environment variable overrides, in that
// order.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the daemon configuration.
type Config struct {
	// Server settings
	Addr string `yaml:"addr"`

	// Database
	DatabasePath string `yaml:"database_path"`

	// Generator settings
	Provider    string  `yaml:"provider"` // anthropic or openai
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int64   `yaml:"max_tokens"`

	// Orchestration limits
	MaxAttempts      int `yaml:"max_attempts"`
	MaxModelCalls    int `yaml:"max_model_calls"`
	SceneConcurrency int `yaml:"scene_concurrency"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Addr:             ":8080",
		DatabasePath:     "file:storyloom.db?cache=shared&mode=rwc",
		Provider:         "anthropic",
		Temperature:      0.7,
		MaxTokens:        4096,
		MaxAttempts:      3,
		MaxModelCalls:    200,
		SceneConcurrency: 4,
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

// Load builds the configuration from defaults, an optional YAML file at
// path (empty path skips the file), and environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.Addr = getEnv("STORYLOOM_ADDR", cfg.Addr)
	cfg.DatabasePath = getEnv("STORYLOOM_DB", cfg.DatabasePath)
	cfg.Provider = getEnv("STORYLOOM_PROVIDER", cfg.Provider)
	cfg.Model = getEnv("STORYLOOM_MODEL", cfg.Model)
	cfg.MaxAttempts = getEnvInt("STORYLOOM_MAX_ATTEMPTS", cfg.MaxAttempts)
	cfg.MaxModelCalls = getEnvInt("STORYLOOM_MAX_MODEL_CALLS", cfg.MaxModelCalls)
	cfg.SceneConcurrency = getEnvInt("STORYLOOM_SCENE_CONCURRENCY", cfg.SceneConcurrency)
	cfg.LogLevel = getEnv("STORYLOOM_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("STORYLOOM_LOG_FORMAT", cfg.LogFormat)

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
