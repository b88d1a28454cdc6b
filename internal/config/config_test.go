package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DVR_URL", "http://dvr:8089")
	t.Setenv("DATABASE_URL", "postgres://localhost/collectarr")
	t.Setenv("REDIS_URL", "")
	t.Setenv("SERVER_PORT", "")
	t.Setenv("HTTP_TIMEOUT", "")
	t.Setenv("SYNC_INTERVAL_MINUTES", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://dvr:8089", cfg.DVRURL)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 15*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 60*time.Minute, cfg.SyncInterval)
	assert.Empty(t, cfg.RedisURL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DVR_URL", "http://dvr:8089")
	t.Setenv("DATABASE_URL", "postgres://localhost/collectarr")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("HTTP_TIMEOUT", "5s")
	t.Setenv("SYNC_INTERVAL_MINUTES", "0")
	t.Setenv("DISPATCHARR_URL", "http://dispatcharr:9191")
	t.Setenv("DISPATCHARR_USERNAME", "admin")
	t.Setenv("DISPATCHARR_PASSWORD", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, time.Duration(0), cfg.SyncInterval, "zero disables the global pass")
	assert.Equal(t, "http://dispatcharr:9191", cfg.DispatcharrURL)
	assert.Equal(t, "admin", cfg.DispatcharrUsername)
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("DVR_URL", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/collectarr")
	_, err := Load()
	assert.ErrorIs(t, err, ErrMissingDVRURL)

	t.Setenv("DVR_URL", "http://dvr:8089")
	t.Setenv("DATABASE_URL", "")
	_, err = Load()
	assert.ErrorIs(t, err, ErrMissingDatabaseURL)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`dvr_url: http://dvr:8089
database_url: postgres://localhost/collectarr
server_port: "7070"
http_timeout: 20s
sync_interval_minutes: 30
dispatcharr_url: http://dispatcharr:9191
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.ServerPort)
	assert.Equal(t, 20*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 30*time.Minute, cfg.SyncInterval)
	assert.Equal(t, "http://dispatcharr:9191", cfg.DispatcharrURL)
}

func TestLoadFromFile_MissingDVRURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database_url: postgres://x\n"), 0o600))
	_, err := LoadFromFile(path)
	assert.ErrorIs(t, err, ErrMissingDVRURL)
}
