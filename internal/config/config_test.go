package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chtemp(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
}

func TestLoadDefaults(t *testing.T) {
	chtemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "harvester.db", cfg.Store.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "https://api.firecrawl.dev/v2", cfg.Firecrawl.BaseURL)
	assert.Equal(t, 3000, cfg.Firecrawl.WaitMS)
	assert.True(t, cfg.Headless.Enabled)
	assert.Equal(t, 15, cfg.Fetch.DirectTimeoutSecs)
	assert.Equal(t, 60, cfg.Fetch.GatewayTimeoutSecs)
	assert.Equal(t, 120, cfg.Fetch.HeadlessTimeoutSecs)
	assert.Equal(t, 2, cfg.Fetch.HostDelaySecs)
	assert.Equal(t, 300, cfg.Fetch.HostMaxDelaySecs)
	assert.InDelta(t, 2.0, cfg.Fetch.BackoffFactor, 0.001)
	assert.Equal(t, 30, cfg.Discovery.ExpiryDays)
	assert.Equal(t, 8, cfg.Discovery.MaxFilterProbes)
	assert.Equal(t, "https://nominatim.openstreetmap.org", cfg.Geocode.BaseURL)
	assert.Equal(t, 4, cfg.Pipeline.MaxConcurrentSources)
	assert.Equal(t, 900, cfg.Pipeline.SourceTimeoutSecs)
}

func TestLoadFromYAML(t *testing.T) {
	chtemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/harvester
log:
  level: debug
  format: console
pipeline:
  max_concurrent_sources: 8
headless:
  enabled: false
`
	dir, _ := os.Getwd()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/harvester", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 8, cfg.Pipeline.MaxConcurrentSources)
	assert.False(t, cfg.Headless.Enabled)
	// Unset keys keep their defaults.
	assert.Equal(t, 8, cfg.Discovery.MaxFilterProbes)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "nope", Format: "json"}))
}
