package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, "sqlite", cfg.Storage.StorageEngine)
	assert.Equal(t, "./data", cfg.Storage.DataPath)
	assert.Equal(t, 0, cfg.Linkage.MaxEntityFanOut)
	assert.Equal(t, 2, cfg.Linkage.GraphMaxDepth)
	assert.Equal(t, 10.0, cfg.Ingest.Rate)
	assert.Equal(t, 5, cfg.Ingest.Burst)
	assert.True(t, cfg.Notify.Enabled)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("CASETRACE_STORAGE_ENGINE", "postgres")
	t.Setenv("CASETRACE_POSTGRES_DSN", "postgres://localhost/casetrace")
	t.Setenv("CASETRACE_MAX_ENTITY_FANOUT", "25")
	t.Setenv("CASETRACE_INGEST_RATE", "2.5")
	t.Setenv("CASETRACE_NOTIFY_ENABLED", "false")

	cfg := LoadConfig()

	assert.Equal(t, "postgres", cfg.Storage.StorageEngine)
	assert.Equal(t, "postgres://localhost/casetrace", cfg.Storage.PostgresDSN)
	assert.Equal(t, 25, cfg.Linkage.MaxEntityFanOut)
	assert.Equal(t, 2.5, cfg.Ingest.Rate)
	assert.False(t, cfg.Notify.Enabled)
}

func TestLoadConfigInvalidValuesFallBack(t *testing.T) {
	t.Setenv("CASETRACE_MAX_ENTITY_FANOUT", "not-a-number")
	t.Setenv("CASETRACE_NOTIFY_ENABLED", "maybe")

	cfg := LoadConfig()

	assert.Equal(t, 0, cfg.Linkage.MaxEntityFanOut)
	assert.True(t, cfg.Notify.Enabled)
}
