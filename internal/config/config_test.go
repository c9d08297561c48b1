package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncerrors "github.com/semweb/searchsync/internal/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, BackendElasticsearch, cfg.Search.Backend)
	assert.Equal(t, StrategyAutomatic, cfg.Update.Strategy)
	assert.Equal(t, 100, cfg.Indexing.BatchSize)

	wait, err := cfg.WaitInterval()
	require.NoError(t, err)
	assert.Equal(t, 8*time.Minute, wait)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
search:
  backend: embedded
update:
  strategy: invalidating
  wait_interval: 30s
  workers: 2
indexing:
  batch_size: 10
  workers: 3
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendEmbedded, cfg.Search.Backend)
	assert.Equal(t, StrategyInvalidating, cfg.Update.Strategy)
	assert.Equal(t, 10, cfg.Indexing.BatchSize)

	wait, err := cfg.WaitInterval()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, wait)
}

func TestLoad_MissingFileIsAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, syncerrors.ErrCodeConfigNotFound, syncerrors.GetCode(err))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SEARCHSYNC_TRIPLESTORE_ENDPOINT", "http://localhost:8890/sparql")
	t.Setenv("SEARCHSYNC_PORT", "9999")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8890/sparql", cfg.Triplestore.Endpoint)
	assert.Equal(t, 9999, cfg.Server.Port)
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad backend", func(c *Config) { c.Search.Backend = "solr" }},
		{"bad strategy", func(c *Config) { c.Update.Strategy = "eventually" }},
		{"bad wait interval", func(c *Config) { c.Update.WaitInterval = "soonish" }},
		{"zero batch size", func(c *Config) { c.Indexing.BatchSize = 0 }},
		{"zero pool size", func(c *Config) { c.Triplestore.PoolSize = 0 }},
		{"missing endpoint", func(c *Config) { c.Triplestore.Endpoint = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, syncerrors.IsFatal(err), "config errors must be fatal")
		})
	}
}

func TestValidate_UpdateEndpointDefaultsToQueryEndpoint(t *testing.T) {
	cfg := Default()
	cfg.Triplestore.UpdateEndpoint = ""
	require.NoError(t, cfg.Validate())
	assert.Equal(t, cfg.Triplestore.Endpoint, cfg.Triplestore.UpdateEndpoint)
}
