package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "http://127.0.0.1:8080", c.ServerEndpointAddr)
	assert.Equal(t, "fieldsync.db", c.DatabasePath)
	assert.Equal(t, 3*time.Second, c.OnlineCheckInterval)
	assert.Equal(t, 30*time.Second, c.SyncInterval)
	assert.Equal(t, 15*time.Minute, c.StaleTime)
	assert.Equal(t, 8, c.MaxSyncAttempts)
	assert.Equal(t, time.Second, c.SyncBackoffBase)
	assert.Equal(t, 5*time.Minute, c.SyncBackoffCap)
}

func writeTempJSON(t *testing.T, data map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.json")
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	t.Run("overlays named fields only", func(t *testing.T) {
		path := writeTempJSON(t, map[string]any{
			"server_endpoint_addr": "https://assess.example",
			"sync_interval":        "45s",
			"max_sync_attempts":    4,
		})
		os.Args = []string{"testbin", "-config", path}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseJson(cfg)

		assert.Equal(t, "https://assess.example", cfg.ServerEndpointAddr)
		assert.Equal(t, 45*time.Second, cfg.SyncInterval)
		assert.Equal(t, 4, cfg.MaxSyncAttempts)
		// untouched by the file
		assert.Equal(t, 15*time.Minute, cfg.StaleTime)
		assert.Equal(t, "fieldsync.db", cfg.DatabasePath)
	})

	t.Run("no config flag leaves values alone", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{ServerEndpointAddr: "kept"}
		parseJson(cfg)
		assert.Equal(t, "kept", cfg.ServerEndpointAddr)
	})

	t.Run("invalid JSON panics", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ nope`), 0o600))
		os.Args = []string{"testbin", "-config", bad}

		cfg := &Config{}
		require.Panics(t, func() { parseJson(cfg) })
	})
}

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	os.Args = []string{"cmd", "-a", "https://assess.example", "-d", "/tmp/cache.db", "-i", "10", "-s", "60"}

	cfg := &Config{}
	cfg.LoadDefaults()
	parseFlags(cfg)

	assert.Equal(t, "https://assess.example", cfg.ServerEndpointAddr)
	assert.Equal(t, "/tmp/cache.db", cfg.DatabasePath)
	assert.Equal(t, 10*time.Second, cfg.OnlineCheckInterval)
	assert.Equal(t, 60*time.Second, cfg.SyncInterval)
}

func TestParseFlagsBadValuePanics(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	os.Args = []string{"cmd", "-i", "abc"}
	cfg := &Config{}
	require.Panics(t, func() { parseFlags(cfg) })
}
