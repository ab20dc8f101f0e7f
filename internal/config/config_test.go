package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
catalog:
  path: /etc/factord/catalog.yaml
storage:
  backend: memory
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8585", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 3.0, cfg.Engine.PriorMean)
	assert.Equal(t, 10.0, cfg.Engine.Pseudocount)
	assert.Equal(t, 0.95, cfg.Engine.ConfidenceCap)
	assert.Equal(t, 0.6, cfg.Engine.Dampening)
	assert.Equal(t, 2, cfg.Engine.MinSiblings)
	assert.Equal(t, 1.0, cfg.Engine.DivergenceThreshold)
	assert.Equal(t, 200*time.Millisecond, cfg.Engine.Debounce)
	assert.Equal(t, 4.0, cfg.Engine.ContestedHigh)
	assert.Equal(t, 2.0, cfg.Engine.ContestedLow)
	assert.False(t, cfg.Engine.DecayEnabled)
}

func TestLoad_DeferredSynthesisByDefault(t *testing.T) {
	// A minimal config must leave synthesis on the background scheduler:
	// inline synthesis is an explicit opt-in, never the silent default.
	path := writeConfig(t, `
catalog:
  path: /etc/factord/catalog.yaml
storage:
  backend: memory
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Engine.Synchronous)

	path = writeConfig(t, `
catalog:
  path: /etc/factord/catalog.yaml
storage:
  backend: memory
engine:
  synchronous: true
`)

	cfg, err = Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Engine.Synchronous)
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
logging:
  level: debug
  format: console
storage:
  backend: badger
  data_dir: /var/lib/factord
engine:
  prior_mean: 2.5
  pseudocount: 5
  dampening: 0.5
catalog:
  path: /etc/factord/catalog.yaml
events:
  enabled: true
  url: nats://broker:4222
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "badger", cfg.Storage.Backend)
	assert.Equal(t, 2.5, cfg.Engine.PriorMean)
	assert.Equal(t, 5.0, cfg.Engine.Pseudocount)
	assert.Equal(t, 0.5, cfg.Engine.Dampening)
	assert.True(t, cfg.Events.Enabled)
	assert.Equal(t, "nats://broker:4222", cfg.Events.URL)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
storage:
  backend: memory
catalog:
  path: /etc/factord/catalog.yaml
`)

	t.Setenv("FACTORD_SERVER_ADDR", ":7070")
	t.Setenv("FACTORD_ENGINE_PRIOR_MEAN", "2.0")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, 2.0, cfg.Engine.PriorMean)
}

func TestLoad_NoFile(t *testing.T) {
	t.Setenv("FACTORD_CATALOG_PATH", "/etc/factord/catalog.yaml")
	t.Setenv("FACTORD_STORAGE_BACKEND", "memory")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Backend)
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing catalog path",
			content: `
storage:
  backend: memory
`,
			wantErr: "catalog.path",
		},
		{
			name: "badger without data dir",
			content: `
storage:
  backend: badger
catalog:
  path: /etc/factord/catalog.yaml
`,
			wantErr: "storage.data_dir",
		},
		{
			name: "unknown backend",
			content: `
storage:
  backend: postgres
catalog:
  path: /etc/factord/catalog.yaml
`,
			wantErr: "storage.backend",
		},
		{
			name: "bad log level",
			content: `
logging:
  level: verbose
storage:
  backend: memory
catalog:
  path: /etc/factord/catalog.yaml
`,
			wantErr: "logging.level",
		},
		{
			name: "decay reserved",
			content: `
storage:
  backend: memory
engine:
  decay_enabled: true
catalog:
  path: /etc/factord/catalog.yaml
`,
			wantErr: "decay_enabled",
		},
		{
			name: "dampening out of range",
			content: `
storage:
  backend: memory
engine:
  dampening: 1.5
catalog:
  path: /etc/factord/catalog.yaml
`,
			wantErr: "dampening",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_RejectsWorldReadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  backend: memory\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permissions")
}
