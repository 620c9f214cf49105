// Package config provides configuration management for casetrace.
// It loads settings from environment variables with the CASETRACE_ prefix
// and provides sensible defaults for all configuration options.
package config

import (
	"os"
	"strconv"
)

// Config holds all configuration settings for the casetrace engine.
type Config struct {
	Storage StorageConfig
	Linkage LinkageConfig
	Ingest  IngestConfig
	Notify  NotifyConfig
}

// StorageConfig contains entity-index backend configuration.
type StorageConfig struct {
	StorageEngine string // Storage engine: memory, sqlite, postgres (default: sqlite)
	DataPath      string // Path to data directory (default: ./data)
	PostgresDSN   string // PostgreSQL connection string, required for the postgres engine
}

// LinkageConfig tunes linkage and graph computation.
type LinkageConfig struct {
	MaxEntityFanOut int // Exclude entities referenced by more than N reports from linkage; 0 disables (default: 0)
	GraphMaxDepth   int // Default BFS depth for investigation graphs (default: 2)
}

// IngestConfig throttles bulk payload ingestion.
type IngestConfig struct {
	Rate  float64 // Sustained ingests per second for directory ingestion (default: 10)
	Burst int     // Ingest burst size (default: 5)
}

// NotifyConfig controls cross-process index-change events.
type NotifyConfig struct {
	Enabled     bool   // Write event files on index mutations (default: true)
	ToolCatalog string // Optional YAML file overriding the follow-up tool catalog
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the CASETRACE_ prefix.
func LoadConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			StorageEngine: getEnv("CASETRACE_STORAGE_ENGINE", "sqlite"),
			DataPath:      getEnv("CASETRACE_DATA_PATH", "./data"),
			PostgresDSN:   getEnv("CASETRACE_POSTGRES_DSN", ""),
		},
		Linkage: LinkageConfig{
			MaxEntityFanOut: getEnvInt("CASETRACE_MAX_ENTITY_FANOUT", 0),
			GraphMaxDepth:   getEnvInt("CASETRACE_GRAPH_MAX_DEPTH", 2),
		},
		Ingest: IngestConfig{
			Rate:  getEnvFloat("CASETRACE_INGEST_RATE", 10),
			Burst: getEnvInt("CASETRACE_INGEST_BURST", 5),
		},
		Notify: NotifyConfig{
			Enabled:     getEnvBool("CASETRACE_NOTIFY_ENABLED", true),
			ToolCatalog: getEnv("CASETRACE_TOOL_CATALOG", ""),
		},
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. A value that does not parse as an integer falls back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default
// value. Accepts the forms strconv.ParseBool accepts (1, t, true, ...).
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
