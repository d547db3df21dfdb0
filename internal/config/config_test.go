package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultNeedsSecrets(t *testing.T) {
	err := Default().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET_KEY")
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestLoadFileThenEnvironment(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("SIGNING_SECRET", "from-env")
	t.Setenv("FLUX_API_URL", "http://flux.internal:9000")
	t.Setenv("CHATTERBOX_RATE_LIMIT", "3")
	t.Setenv("CACHE_ENABLED", "false")

	path := writeFile(t, `
server:
  addr: ":9090"
  request_timeout: 45s
auth:
  secret: ${SIGNING_SECRET}
cache:
  force_refresh_header: X-Bypass
plugins:
  flux:
    base_url: http://overridden-by-env
    timeout: 90s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 45*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "from-env", cfg.Auth.Secret)
	assert.Equal(t, "X-Bypass", cfg.Cache.ForceRefreshHeader)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, "sk-test", cfg.Plugins.ChatGPT.APIKey)
	assert.Equal(t, "http://flux.internal:9000", cfg.Plugins.Flux.BaseURL)
	assert.Equal(t, 90*time.Second, cfg.Plugins.Flux.Timeout)
	assert.Equal(t, 3, cfg.Plugins.Chatterbox.RateLimit)

	// untouched defaults survive
	assert.Equal(t, 20, cfg.Plugins.ChatGPT.RateLimit)
	assert.Equal(t, 60, cfg.Log.RotationDays)
}

func TestLoadRejectsUnknownBackends(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("JWT_SECRET_KEY", "s")
	t.Setenv("CACHE_BLOB_BACKEND", "s3")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown backend "s3"`)
}

func TestValidateBackendRequirements(t *testing.T) {
	cfg := Default()
	cfg.Auth.Secret = "s"
	cfg.Plugins.ChatGPT.APIKey = "k"
	require.NoError(t, cfg.Validate())

	cfg.Cache.StructuredBackend = "sql"
	cfg.Cache.BlobBackend = "minio"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.url")
	assert.Contains(t, err.Error(), "minio")

	cfg = Default()
	cfg.Auth = AuthConfig{Algorithm: "RS256"}
	cfg.Plugins.ChatGPT.Enabled = false
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "public_key_file")

	cfg = Default()
	cfg.Auth.Secret = "s"
	cfg.Plugins.ChatGPT.APIKey = "k"
	cfg.Plugins.ChatGPT.RateLimit = 0
	cfg.Plugins.Flux.RateLimit = -1
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plugins.chatgpt.rate_limit")
	assert.Contains(t, err.Error(), "plugins.flux.rate_limit")

	// disabled adapters are not checked
	cfg.Plugins.ChatGPT.Enabled = false
	cfg.Plugins.Flux.Enabled = false
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsZeroRateLimit(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "s")
	t.Setenv("OPENAI_API_KEY", "k")
	t.Setenv("CHATGPT_RATE_LIMIT", "0")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plugins.chatgpt.rate_limit must be positive")
}

func TestRateLimitsSkipsDisabledAdapters(t *testing.T) {
	cfg := Default()
	cfg.Plugins.Flux.Enabled = false
	assert.Equal(t, map[string]int{"chatgpt": 20, "chatterbox": 10}, cfg.RateLimits())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}
