package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("VOX_ACTIVATION_OTA_BASE_URL", "https://ota.example.com/")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Server.IsEnabled())
	assert.True(t, cfg.Server.RateLimit.IsEnabled())
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 60, cfg.Activation.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Activation.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.Activation.RequestTimeout)
	assert.Equal(t, "https://ota.example.com/", cfg.Activation.OTABaseURL)
	assert.True(t, filepath.IsAbs(cfg.Paths.IdentityFile))
	assert.True(t, filepath.IsAbs(cfg.Paths.DataDir))
}

func TestLoadEnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("VOX_SERVER_PORT", "9999")
	t.Setenv("VOX_ACTIVATION_MAX_ATTEMPTS", "3")
	t.Setenv("VOX_ACTIVATION_POLL_INTERVAL", "250ms")
	t.Setenv("VOX_LOGGING_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Activation.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Activation.PollInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRequiresOTABaseURL(t *testing.T) {
	t.Setenv("VOX_ACTIVATION_OTA_BASE_URL", "")
	t.Setenv("VOX_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsInvalidURL(t *testing.T) {
	t.Setenv("VOX_ACTIVATION_OTA_BASE_URL", "not a url")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 7070
  enabled: false
activation:
  ota_base_url: https://ota.example.com/
  device_id: aa:bb:cc:dd:ee:ff
  poll_interval: 2s
logging:
  level: warn
`
	require.NoError(t, os.WriteFile(configFile, []byte(yaml), 0o600))
	t.Setenv("VOX_CONFIG_FILE", configFile)
	// Environment wins over the file for any conflicting key.
	t.Setenv("VOX_LOGGING_LEVEL", "error")

	cfg, err := Load()
	require.NoError(t, err)

	// File values override defaults, including explicit false.
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.False(t, cfg.Server.IsEnabled())
	assert.Equal(t, 2*time.Second, cfg.Activation.PollInterval)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", cfg.Activation.DeviceID)
	assert.Equal(t, "error", cfg.Logging.Level)
	// Defaults still apply to fields neither source sets.
	assert.Equal(t, 60, cfg.Activation.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Activation.RequestTimeout)
}

func TestValidateRejectsBadOutput(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("VOX_LOGGING_OUTPUT", "syslog")

	_, err := Load()
	assert.Error(t, err)
}

func TestEnsureClientIDGeneratesAndPersists(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{}
	cfg.Paths.ClientIDFile = filepath.Join(dir, "client_id")

	first, err := cfg.EnsureClientID()
	require.NoError(t, err)
	require.NotEmpty(t, first)

	// A second config instance reads the same id back.
	other := &Config{}
	other.Paths.ClientIDFile = cfg.Paths.ClientIDFile
	second, err := other.EnsureClientID()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEnsureClientIDPrefersConfigured(t *testing.T) {
	cfg := &Config{}
	cfg.Activation.ClientID = "configured-id"

	id, err := cfg.EnsureClientID()
	require.NoError(t, err)
	assert.Equal(t, "configured-id", id)
}
