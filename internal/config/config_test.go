package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv resets every variable Load reads so ambient shell state
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"EMUSYNC_CLOUD_MODE", "EMUSYNC_BASE_URL", "EMUSYNC_AUTH_MODE",
		"EMUSYNC_API_KEY", "EMUSYNC_ACCESS_KEY", "EMUSYNC_DEVICE_ID",
		"EMUSYNC_DEVICE_NAME", "EMUSYNC_TIMEOUT_SECONDS", "EMUSYNC_DATA_DIR",
		"EMUSYNC_PROFILES", "EMUSYNC_HISTORY_DIR", "EMUSYNC_RETENTION_LIMIT",
		"EMUSYNC_AUTO_DELETE", "EMUSYNC_DEBOUNCE_MS", "EMUSYNC_RECONCILE_SECONDS",
		"EMUSYNC_RETRY_MAX_ATTEMPTS", "EMUSYNC_RETRY_BASE_MS",
		"EMUSYNC_RETRY_MAX_SECONDS", "EMUSYNC_RETRY_MULTIPLIER", "ENVIRONMENT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

// --- Load defaults ---

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("EMUSYNC_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ModeOff, cfg.Mode())
	assert.Equal(t, 20, cfg.RetentionLimit)
	assert.True(t, cfg.AutoDelete)
	assert.Equal(t, 750*time.Millisecond, cfg.Debounce())
	assert.Equal(t, 5*time.Minute, cfg.ReconcileInterval())
	assert.NotEmpty(t, cfg.DeviceName)
	assert.Equal(t, filepath.Join(cfg.DataDir, "history"), cfg.HistoryDir)
	assert.Equal(t, filepath.Join(cfg.DataDir, "profiles.json"), cfg.ProfilesPath)
	assert.Equal(t, filepath.Join(cfg.DataDir, "state.db"), cfg.StatePath())
	assert.False(t, cfg.IsProduction())
}

func TestLoad_OfficialModeGetsDefaultBaseURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("EMUSYNC_DATA_DIR", t.TempDir())
	t.Setenv("EMUSYNC_CLOUD_MODE", "official")
	t.Setenv("EMUSYNC_API_KEY", "k")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://api.emusync.app", cfg.BaseURL)
}

func TestLoad_RetentionClamped(t *testing.T) {
	clearEnv(t)
	t.Setenv("EMUSYNC_DATA_DIR", t.TempDir())

	t.Setenv("EMUSYNC_RETENTION_LIMIT", "0")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, RetentionMin, cfg.RetentionLimit)

	t.Setenv("EMUSYNC_RETENTION_LIMIT", "9999")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, RetentionMax, cfg.RetentionLimit)
}

// --- validation ---

func TestLoad_InvalidMode(t *testing.T) {
	clearEnv(t)
	t.Setenv("EMUSYNC_DATA_DIR", t.TempDir())
	t.Setenv("EMUSYNC_CLOUD_MODE", "sometimes")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EMUSYNC_CLOUD_MODE")
}

func TestLoad_OfficialRequiresAPIKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("EMUSYNC_DATA_DIR", t.TempDir())
	t.Setenv("EMUSYNC_CLOUD_MODE", "official")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EMUSYNC_API_KEY")
}

func TestLoad_SelfHostRequiresBaseURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("EMUSYNC_DATA_DIR", t.TempDir())
	t.Setenv("EMUSYNC_CLOUD_MODE", "selfhost")
	t.Setenv("EMUSYNC_AUTH_MODE", "access_key")
	t.Setenv("EMUSYNC_ACCESS_KEY", "ak")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EMUSYNC_BASE_URL")
}

func TestLoad_SelfHostRequiresAccessKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("EMUSYNC_DATA_DIR", t.TempDir())
	t.Setenv("EMUSYNC_CLOUD_MODE", "selfhost")
	t.Setenv("EMUSYNC_AUTH_MODE", "access_key")
	t.Setenv("EMUSYNC_BASE_URL", "https://example.com")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EMUSYNC_ACCESS_KEY")
}

func TestLoad_SelfHostValid(t *testing.T) {
	clearEnv(t)
	t.Setenv("EMUSYNC_DATA_DIR", t.TempDir())
	t.Setenv("EMUSYNC_CLOUD_MODE", "selfhost")
	t.Setenv("EMUSYNC_AUTH_MODE", "access_key")
	t.Setenv("EMUSYNC_BASE_URL", "https://example.com")
	t.Setenv("EMUSYNC_ACCESS_KEY", "ak")
	t.Setenv("EMUSYNC_DEVICE_NAME", "steamdeck")

	cfg, err := Load()
	require.NoError(t, err)

	cc := cfg.Cloud()
	assert.Equal(t, ModeSelfHost, cc.Mode)
	assert.Equal(t, "https://example.com", cc.BaseURL)
	assert.Equal(t, "ak", cc.AccessKey)
	assert.Equal(t, "steamdeck", cc.DeviceName)
	assert.Equal(t, 30*time.Second, cc.Timeout)
}

func TestLoad_InvalidAuthMode(t *testing.T) {
	clearEnv(t)
	t.Setenv("EMUSYNC_DATA_DIR", t.TempDir())
	t.Setenv("EMUSYNC_AUTH_MODE", "magic")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EMUSYNC_AUTH_MODE")
}

func TestLoad_RetryBounds(t *testing.T) {
	clearEnv(t)
	t.Setenv("EMUSYNC_DATA_DIR", t.TempDir())

	t.Setenv("EMUSYNC_RETRY_MAX_ATTEMPTS", "0")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("EMUSYNC_RETRY_MAX_ATTEMPTS", "3")
	t.Setenv("EMUSYNC_RETRY_MULTIPLIER", "0.5")
	_, err = Load()
	require.Error(t, err)
}

func TestLoad_TimeoutMustBePositive(t *testing.T) {
	clearEnv(t)
	t.Setenv("EMUSYNC_DATA_DIR", t.TempDir())
	t.Setenv("EMUSYNC_TIMEOUT_SECONDS", "-1")

	_, err := Load()
	require.Error(t, err)
}
