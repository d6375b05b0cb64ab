package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1:7070", cfg.Server.Addr())
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "./data/lattice.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "development", cfg.Security.Mode)
	assert.Equal(t, 10.0, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 20, cfg.RateLimit.Burst)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("LATTICE_HOST", "0.0.0.0")
	t.Setenv("LATTICE_PORT", "9090")
	t.Setenv("LATTICE_STORAGE_BACKEND", "postgres")
	t.Setenv("LATTICE_POSTGRES_DSN", "postgres://localhost/lattice?sslmode=disable")
	t.Setenv("LATTICE_RATE_LIMIT_RPS", "2.5")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr())
	assert.Equal(t, "postgres", cfg.Storage.Backend)
	assert.Equal(t, "postgres://localhost/lattice?sslmode=disable", cfg.Storage.PostgresDSN)
	assert.Equal(t, 2.5, cfg.RateLimit.RequestsPerSecond)
}

func TestLoadConfigBadEnvValuesFallBack(t *testing.T) {
	t.Setenv("LATTICE_PORT", "not-a-port")
	t.Setenv("LATTICE_RATE_LIMIT_RPS", "fast")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 10.0, cfg.RateLimit.RequestsPerSecond)
}

func TestLoadConfigFileOverridesEnv(t *testing.T) {
	t.Setenv("LATTICE_PORT", "9090")
	t.Setenv("LATTICE_SQLITE_PATH", "/tmp/env.db")

	path := filepath.Join(t.TempDir(), "lattice.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 8080
storage:
  backend: sqlite
`), 0o600))
	t.Setenv("LATTICE_CONFIG_FILE", path)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	// File values win; fields absent from the file keep env values.
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/tmp/env.db", cfg.Storage.SQLitePath)
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv("LATTICE_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Storage.Backend = "mongodb" },
			wantErr: "unknown storage backend",
		},
		{
			name: "postgres without dsn",
			mutate: func(c *Config) {
				c.Storage.Backend = "postgres"
				c.Storage.PostgresDSN = ""
			},
			wantErr: "postgres backend requires",
		},
		{
			name:    "unknown security mode",
			mutate:  func(c *Config) { c.Security.Mode = "paranoid" },
			wantErr: "unknown security mode",
		},
		{
			name:    "non-positive rate limit",
			mutate:  func(c *Config) { c.RateLimit.Burst = 0 },
			wantErr: "rate limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := buildBaseConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
