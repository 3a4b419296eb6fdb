// Package config provides configuration for the gateway.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the gateway configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Agent engine
	DefaultModel  string
	EngineTimeout time.Duration

	// Streaming
	PingInterval time.Duration

	// Runs
	RunExpiry time.Duration

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:      getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:   getEnv("DATABASE_URL", "file:agentgw.db?cache=shared&mode=rwc"),
		DefaultModel:  getEnv("DEFAULT_MODEL", "sonnet"),
		EngineTimeout: time.Duration(getEnvInt("ENGINE_TIMEOUT_MS", 300000)) * time.Millisecond,
		PingInterval:  time.Duration(getEnvInt("PING_INTERVAL_MS", 15000)) * time.Millisecond,
		RunExpiry:     time.Duration(getEnvInt("RUN_EXPIRY_MS", 600000)) * time.Millisecond,
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}
	return cfg
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
