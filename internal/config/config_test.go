package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"SUPERFACE_PATH", "SUPERFACE_API_URL", "SUPERFACE_SDK_TOKEN",
		"SUPERFACE_DISABLE_METRIC_REPORTING", "SUPERFACE_SANDBOX_TIMEOUT",
		"SUPERFACE_CACHE_TIMEOUT", "SUPERFACE_METRIC_DEBOUNCE_TIME_MIN",
		"SUPERFACE_METRIC_DEBOUNCE_TIME_MAX",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, DefaultSandboxTimeout, c.SandboxTimeout)
	require.Equal(t, DefaultCacheTimeout, c.CacheTimeout)
	require.False(t, c.DisableMetricReporting)
	require.NotEmpty(t, c.SuperfacePath)
}

func TestLoadValidSDKToken(t *testing.T) {
	clearEnv(t)
	t.Setenv("SUPERFACE_SDK_TOKEN", "sfs_myapp_DEADBEEF")
	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "sfs_myapp_DEADBEEF", c.SDKToken)
}

func TestLoadInvalidSDKTokenFormat(t *testing.T) {
	clearEnv(t)
	t.Setenv("SUPERFACE_SDK_TOKEN", "not-a-valid-token")
	_, err := Load("")
	require.Error(t, err)
}

func TestLoadParsesTimeouts(t *testing.T) {
	clearEnv(t)
	t.Setenv("SUPERFACE_SANDBOX_TIMEOUT", "250")
	t.Setenv("SUPERFACE_CACHE_TIMEOUT", "5000")
	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, c.SandboxTimeout)
	require.Equal(t, 5000*time.Millisecond, c.CacheTimeout)
}

func TestLoadDisableMetricReporting(t *testing.T) {
	clearEnv(t)
	t.Setenv("SUPERFACE_DISABLE_METRIC_REPORTING", "true")
	c, err := Load("")
	require.NoError(t, err)
	require.True(t, c.DisableMetricReporting)
}

func TestLoadOverlayFillsUnsetFields(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	overlayPath := filepath.Join(dir, "onesdk.yaml")
	require.NoError(t, os.WriteFile(overlayPath, []byte(`
api_url: https://api.example.com
sandbox_timeout_ms: 500
`), 0o644))

	c, err := Load(overlayPath)
	require.NoError(t, err)
	require.Equal(t, "https://api.example.com", c.APIURL)
	require.Equal(t, 500*time.Millisecond, c.SandboxTimeout)
}

func TestLoadOverlayDoesNotOverrideEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("SUPERFACE_API_URL", "https://env.example.com")
	dir := t.TempDir()
	overlayPath := filepath.Join(dir, "onesdk.yaml")
	require.NoError(t, os.WriteFile(overlayPath, []byte(`api_url: https://overlay.example.com`), 0o644))

	c, err := Load(overlayPath)
	require.NoError(t, err)
	require.Equal(t, "https://env.example.com", c.APIURL)
}

func TestLoadMissingOverlayFileIsNotAnError(t *testing.T) {
	clearEnv(t)
	c, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.NotNil(t, c)
}

func TestCachePathAndSuperJSONPath(t *testing.T) {
	clearEnv(t)
	t.Setenv("SUPERFACE_PATH", "/tmp/sf")
	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "/tmp/sf/.cache", c.CachePath())
	require.Equal(t, "/tmp/sf/super.json", c.SuperJSONPath())
}
