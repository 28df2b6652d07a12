package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromYAML(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
database:
  driver: sqlite
  dsn: "file::memory:"
replay:
  batch_size: 7
saga:
  stall_threshold: 2m
`), 0o600))

	cfg, err := LoadConfig(file)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "file::memory:", cfg.Database.ReadDSN)
	assert.Equal(t, 7, cfg.Replay.BatchSize)
	assert.Equal(t, 2*time.Minute, cfg.Saga.StallThreshold)
	assert.Equal(t, 3, cfg.Saga.DefaultMaxRetries)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("environment: test\n"), 0o600))

	t.Setenv("PLATFORM_BUS_BUFFER_SIZE", "8")

	cfg, err := LoadConfig(file)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Bus.BufferSize)
	assert.Equal(t, "test", cfg.Environment)
}

func TestFormatIndex(t *testing.T) {
	assert.Equal(t, "platform-tenants", FormatIndex(ElasticConfig{Prefix: "platform"}, "tenants"))
	assert.Equal(t, "tenants", FormatIndex(ElasticConfig{}, "tenants"))
}
