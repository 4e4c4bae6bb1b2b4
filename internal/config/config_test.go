package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"gatekeeper/internal/models"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	configFile := writeFile(t, "test_config.yaml", `
server:
  port: 8081
  host: "localhost"
  read_timeout: 10s
  write_timeout: 20s
  idle_timeout: 90s

upstream:
  url: "http://storefront:3000"
  timeout: 5s

store:
  type: "redis"
  sweep_interval: 1m
  redis:
    addr: "localhost:6379"
    db: 2
    key_prefix: "gk:"

storage:
  type: "json"
  path: "./data/events.json"
  max_events: 500

security:
  block_bots: false
  rate_limit:
    enabled: true
    progressive: true
    profiles:
      auth:
        requests: 3
        window: 1m
  brute_force:
    enabled: true
    max_attempts: 4
    ip_block_attempts: 12
    time_window: 10m
    block_durations: [1m, 2m]
  admin:
    email: "ops@example.com"
    password_hash: "$2a$12$abcdefghijklmnopqrstuv"
    token_secret: "0123456789abcdef0123456789abcdef"
    token_ttl: 1h

logging:
  level: "debug"
  format: "text"
  output: "stderr"

metrics:
  enabled: true
  path: "/prom"
  port: 9100
`)

	config, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 8081, config.Server.Port)
	assert.Equal(t, "localhost", config.Server.Host)
	assert.Equal(t, 10*time.Second, config.Server.ReadTimeout)
	assert.Equal(t, 20*time.Second, config.Server.WriteTimeout)
	assert.Equal(t, 90*time.Second, config.Server.IdleTimeout)

	assert.Equal(t, "http://storefront:3000", config.Upstream.URL)
	assert.Equal(t, 5*time.Second, config.Upstream.Timeout)

	assert.Equal(t, models.StoreTypeRedis, config.Store.Type)
	assert.Equal(t, time.Minute, config.Store.SweepInterval)
	assert.Equal(t, "localhost:6379", config.Store.Redis.Addr)
	assert.Equal(t, 2, config.Store.Redis.DB)
	assert.Equal(t, "gk:", config.Store.Redis.KeyPrefix)
	assert.Equal(t, 10, config.Store.Redis.PoolSize) // default kept

	assert.Equal(t, models.StorageTypeJSON, config.Storage.Type)
	assert.Equal(t, "./data/events.json", config.Storage.Path)
	assert.Equal(t, 500, config.Storage.MaxEvents)

	sec := config.Security
	assert.False(t, sec.BlockBots)
	assert.True(t, sec.RateLimit.Progressive)
	assert.Equal(t, models.ProfileConfig{Requests: 3, Window: time.Minute}, sec.RateLimit.Profiles["auth"])
	assert.Equal(t, 4, sec.BruteForce.MaxAttempts)
	assert.Equal(t, 12, sec.BruteForce.IPBlockAttempts)
	assert.Equal(t, 10*time.Minute, sec.BruteForce.TimeWindow)
	assert.Equal(t, []time.Duration{time.Minute, 2 * time.Minute}, sec.BruteForce.BlockDurations)
	assert.Equal(t, 24*time.Hour, sec.BruteForce.Retention)
	assert.Equal(t, "ops@example.com", sec.Admin.Email)
	assert.Equal(t, time.Hour, sec.Admin.TokenTTL)
	assert.True(t, sec.AdminEnabled())

	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "text", config.Logging.Format)
	assert.Equal(t, "stderr", config.Logging.Output)

	assert.Equal(t, "/prom", config.Metrics.Path)
	assert.Equal(t, 9100, config.Metrics.Port)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	config, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, models.NewDefaultConfig(), config)
}

func TestLoad_EmptyConfigFile(t *testing.T) {
	configFile := writeFile(t, "empty.yaml", "")

	config, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
	assert.Equal(t, models.StoreTypeMemory, config.Store.Type)
	assert.Equal(t, models.StorageTypeMemory, config.Storage.Type)
	assert.True(t, config.Security.RateLimit.Enabled)
	assert.True(t, config.Security.BruteForce.Enabled)
	assert.False(t, config.Security.AdminEnabled())
}

func TestLoad_WithEnvironmentVariables(t *testing.T) {
	configFile := writeFile(t, "env_config.yaml", `
server:
  port: 8080
  host: "localhost"

storage:
  type: "json"
  path: "./data.json"

logging:
  level: "info"
`)

	t.Setenv("GATEKEEPER_PORT", "9999")
	t.Setenv("GATEKEEPER_HOST", "127.0.0.1")
	t.Setenv("GATEKEEPER_STORAGE_TYPE", "memory")
	t.Setenv("GATEKEEPER_LOG_LEVEL", "warn")
	t.Setenv("GATEKEEPER_UPSTREAM_URL", "https://shop.internal")
	t.Setenv("GATEKEEPER_UPSTREAM_TIMEOUT", "3s")
	t.Setenv("GATEKEEPER_RATE_LIMIT_PROGRESSIVE", "true")
	t.Setenv("GATEKEEPER_BRUTE_FORCE_MAX_ATTEMPTS", "7")
	t.Setenv("GATEKEEPER_BLOCK_BOTS", "FALSE")
	t.Setenv("GATEKEEPER_TRACING_SAMPLE_RATE", "0.25")

	config, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 9999, config.Server.Port)
	assert.Equal(t, "127.0.0.1", config.Server.Host)
	assert.Equal(t, models.StorageTypeMemory, config.Storage.Type)
	assert.Equal(t, "warn", config.Logging.Level)
	assert.Equal(t, "https://shop.internal", config.Upstream.URL)
	assert.Equal(t, 3*time.Second, config.Upstream.Timeout)
	assert.True(t, config.Security.RateLimit.Progressive)
	assert.Equal(t, 7, config.Security.BruteForce.MaxAttempts)
	assert.False(t, config.Security.BlockBots)
	assert.Equal(t, 0.25, config.Observability.Tracing.SampleRate)
}

func TestLoad_InvalidEnvironmentValues(t *testing.T) {
	t.Setenv("GATEKEEPER_PORT", "eighty")
	t.Setenv("GATEKEEPER_UPSTREAM_TIMEOUT", "soon")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GATEKEEPER_PORT")
	assert.Contains(t, err.Error(), "GATEKEEPER_UPSTREAM_TIMEOUT")
}

func TestLoad_EnvFile(t *testing.T) {
	envFile := writeFile(t, "test.env", "GATEKEEPER_PORT=7070\nGATEKEEPER_REDIS_KEY_PREFIX=fromfile:\n")

	// godotenv never overrides variables that are already set.
	t.Setenv("GATEKEEPER_PORT", "6060")
	// Register cleanup for the variable the file sets.
	t.Setenv("GATEKEEPER_REDIS_KEY_PREFIX", "")
	require.NoError(t, os.Unsetenv("GATEKEEPER_REDIS_KEY_PREFIX"))

	config, err := Load("", envFile)
	require.NoError(t, err)

	assert.Equal(t, 6060, config.Server.Port)
	assert.Equal(t, "fromfile:", config.Store.Redis.KeyPrefix)
}

func TestLoad_MissingEnvFile(t *testing.T) {
	_, err := Load("", filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load env file")
}

func TestLoad_NonExistentFile(t *testing.T) {
	_, err := Load("/non/existent/path.yaml")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoad_InvalidYAML(t *testing.T) {
	configFile := writeFile(t, "invalid.yaml", `
server:
  port: 8080
  invalid: [unclosed array
`)

	_, err := Load(configFile)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML config")
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "redis without address",
			content: "store:\n  type: redis\n",
			wantErr: "redis address is required",
		},
		{
			name:    "admin without token secret",
			content: "security:\n  admin:\n    email: a@b.c\n    password_hash: x\n",
			wantErr: "token secret",
		},
		{
			name:    "non-http upstream",
			content: "upstream:\n  url: ftp://files\n",
			wantErr: "upstream url must be http or https",
		},
		{
			name:    "database storage without dsn",
			content: "storage:\n  type: postgres\n",
			wantErr: "database DSN is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "config.yaml", tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid configuration")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_UnsupportedKeysAreIgnored(t *testing.T) {
	configFile := writeFile(t, "legacy.yaml", `
security:
  admin:
    password: "hunter2"
  rate_limit:
    requests_per_minute: 60
`)

	config, err := Load(configFile)
	require.NoError(t, err)
	assert.False(t, config.Security.AdminEnabled())
}

func TestSaveExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, SaveExample(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var cfg models.Config
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, "http://storefront:3000", cfg.Upstream.URL)
	assert.Equal(t, "ops@example.com", cfg.Security.Admin.Email)
	assert.Equal(t, 10, cfg.Security.RateLimit.Profiles["auth"].Requests)
	assert.NoError(t, cfg.Validate())
}
