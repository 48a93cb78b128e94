package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.RegisterInterval)
	assert.Equal(t, 10*time.Second, cfg.Throttle)
	assert.Equal(t, 11, cfg.RuntimeVersion)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "launcher.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api_url: http://localhost:8080/api
runtime_version: 8
poll_interval: 2s
`), 0o644))

	t.Setenv("BOTLAUNCHER_POLL_INTERVAL", "7s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080/api/", cfg.APIURL)
	assert.Equal(t, 8, cfg.RuntimeVersion)
	assert.Equal(t, 7*time.Second, cfg.PollInterval)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Setenv("BOTLAUNCHER_RUNTIME_VERSION", "17")
	_, err := Load("")
	require.Error(t, err)

	t.Setenv("BOTLAUNCHER_RUNTIME_VERSION", "11")
	t.Setenv("BOTLAUNCHER_API_URL", "ftp://example.com")
	_, err = Load("")
	require.Error(t, err)
}

func TestNewLogger_WritesFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogDir = t.TempDir()

	logger, err := NewLogger(cfg, "launcher")
	require.NoError(t, err)
	logger.Info("hello", "k", "v")

	data, err := os.ReadFile(filepath.Join(cfg.LogDir, "launcher.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}
