package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("APP_CONFIG_FILE", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/pipeforge?sslmode=disable")
	t.Setenv("JWT_SECRET", "test-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 0, cfg.Server.WriteTimeoutSeconds)
	assert.Equal(t, 50, cfg.Sync.ForceSyncDelayMs)
	assert.Equal(t, "pipeforge:events", cfg.Redis.EventChannelPrefix)
	assert.Empty(t, cfg.Redis.URL)
}

func TestLoadEnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", " DEBUG ")
	t.Setenv("SYNC_FORCE_DELAY_MS", "-5")
	t.Setenv("CONFIG_CACHE_TTL", "not-a-number")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 0, cfg.Sync.ForceSyncDelayMs)
	assert.Equal(t, 300, cfg.Redis.ConfigCacheTTL)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
}

func TestLoadFileThenEnv(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "app.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"server": {"port": 7070},
		"sync": {"force_sync_delay_ms": 100},
		"auth": {"jwt_issuer": "editor"}
	}`), 0o600))
	t.Setenv("APP_CONFIG_FILE", path)
	t.Setenv("JWT_ISSUER", "from-env")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 100, cfg.Sync.ForceSyncDelayMs)
	assert.Equal(t, "from-env", cfg.Auth.JWTIssuer)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing database url", map[string]string{"DATABASE_URL": ""}},
		{"missing jwt secret", map[string]string{"JWT_SECRET": "  "}},
		{"port out of range", map[string]string{"PORT": "70000"}},
		{"missing config file", map[string]string{"APP_CONFIG_FILE": "/nonexistent/app.json"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
