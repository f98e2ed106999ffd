package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farid-feyzi/jacoco/internal/execdata"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, execdata.ModeHitOnce, cfg.ProbeMode())
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel())

	cfg, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jacoco.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: hit-count
log:
  level: debug
  json: true
store:
  in_memory: true
  path: ""
watch:
  dir: /tmp/dumps
metrics:
  addr: "localhost:9464"
analysis:
  workers: 4
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, execdata.ModeHitCount, cfg.ProbeMode())
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel())
	assert.True(t, cfg.Log.JSON)
	assert.True(t, cfg.Store.InMemory)
	assert.Equal(t, "/tmp/dumps", cfg.Watch.Dir)
	assert.Equal(t, "*.exec", cfg.Watch.Pattern, "unset keys keep defaults")
	assert.Equal(t, "localhost:9464", cfg.Metrics.Addr)
	assert.Equal(t, 4, cfg.Analysis.Workers)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"mode", func(c *Config) { c.Mode = "sometimes" }},
		{"level", func(c *Config) { c.Log.Level = "loud" }},
		{"store path", func(c *Config) { c.Store.Path = "" }},
		{"metrics addr", func(c *Config) { c.Metrics.Addr = "not an address" }},
		{"workers", func(c *Config) { c.Analysis.Workers = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: [unterminated"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
