package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookflow/library"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"APP_ENV", "BOOKFLOW_BACKEND", "BOOKFLOW_OFFLINE", "DATABASE_URL",
		"SQLITE_PATH", "SNAPSHOT_PATH", "JWT_SECRET", "PORT", "LOG_LEVEL", "LOG_FORMAT"} {
		t.Setenv(k, "")
	}
}

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "test")
	t.Setenv("JWT_SECRET", "s3cret")

	path := writeYAML(t, `
server:
  port: "8088"
  read_timeout: 3s
storage:
  backend: snapshot
  offline: true
  snapshot_path: /tmp/library.json
auth:
  access_token_ttl: 15m
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, EnvTest, cfg.Env)
	assert.Equal(t, "8088", cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout, "unset keys keep defaults")
	assert.Equal(t, library.BackendSnapshot, cfg.Storage.Backend)
	assert.True(t, cfg.Storage.Offline)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTokenTTL)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":8088", cfg.Addr())
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9999")
	t.Setenv("BOOKFLOW_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://bookflow:pw@localhost:5432/bookflow")

	path := writeYAML(t, "server:\n  port: \"8088\"\nstorage:\n  backend: sqlite\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, library.BackendPostgres, cfg.Storage.Backend)
	opts := cfg.StoreOptions()
	assert.Equal(t, "postgres://bookflow:pw@localhost:5432/bookflow", opts.DatabaseURL)
	assert.NotContains(t, cfg.String(), ":pw@")
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		yaml    string
		wantErr string
	}{
		{
			name:    "snapshot without offline flag",
			yaml:    "storage:\n  backend: snapshot\n",
			wantErr: "storage.offline",
		},
		{
			name:    "postgres without url",
			yaml:    "storage:\n  backend: postgres\n",
			wantErr: "DATABASE_URL",
		},
		{
			name:    "unknown backend",
			yaml:    "storage:\n  backend: mongodb\n",
			wantErr: "not one of",
		},
		{
			name:    "prod requires jwt secret",
			env:     map[string]string{"APP_ENV": "prod"},
			yaml:    "storage:\n  backend: sqlite\n",
			wantErr: "JWT_SECRET",
		},
		{
			name:    "malformed yaml",
			yaml:    "server: [",
			wantErr: "parse config",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeYAML(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestDevSecretOnlyInDev(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeYAML(t, "log:\n  level: warn\n"))
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.NotEmpty(t, cfg.Auth.JWTSecret)
}

func TestMaskPassword(t *testing.T) {
	assert.Equal(t, "postgres://u:***@h:5432/db", maskPassword("postgres://u:pw@h:5432/db"))
	assert.Equal(t, "", maskPassword(""))
}
