// Package config loads the gateway configuration: built-in defaults, then
// an optional .env file, then a YAML file, then GATEKEEPER_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"gatekeeper/internal/models"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GATEKEEPER_"

// DefaultEnvFile is loaded when present and no other env file is named.
const DefaultEnvFile = ".env"

// Load loads configuration from file and environment variables. envFiles
// are loaded with godotenv before the environment is read; variables that
// are already set win. With no envFiles, DefaultEnvFile is loaded if it
// exists.
func Load(configPath string, envFiles ...string) (*models.Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	config := models.NewDefaultConfig()

	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := loadFromEnvironment(config); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		if _, err := os.Stat(DefaultEnvFile); err != nil {
			return nil
		}
		files = []string{DefaultEnvFile}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// unsupportedConfig mirrors keys operators commonly get wrong.
type unsupportedConfig struct {
	Security struct {
		Admin struct {
			Password string `yaml:"password"`
		} `yaml:"admin"`
		RateLimit struct {
			RequestsPerMinute any `yaml:"requests_per_minute"`
		} `yaml:"rate_limit"`
	} `yaml:"security"`
}

// warnUnsupportedKeys logs a warning for each ignored key found in the YAML
// data. Startup continues; the main decoder skips unknown keys.
func warnUnsupportedKeys(data []byte) {
	var cfg unsupportedConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return
	}
	if cfg.Security.Admin.Password != "" {
		slog.Warn("Plaintext admin passwords are ignored; set a bcrypt hash in password_hash.",
			"config_key", "security.admin.password")
	}
	if cfg.Security.RateLimit.RequestsPerMinute != nil {
		slog.Warn("Config key is not supported; configure per-profile requests and window instead.",
			"config_key", "security.rate_limit.requests_per_minute")
	}
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	data, err := os.ReadFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	warnUnsupportedKeys(data)
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// envOverrides collects parse failures so a typo in one variable reports
// every bad variable at once.
type envOverrides struct {
	errs []error
}

func (e *envOverrides) lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envOverrides) setString(name string, dst *string) {
	if v, ok := e.lookup(name); ok {
		*dst = v
	}
}

func (e *envOverrides) setInt(name string, dst *int) {
	if v, ok := e.lookup(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			return
		}
		*dst = n
	}
}

func (e *envOverrides) setFloat(name string, dst *float64) {
	if v, ok := e.lookup(name); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			return
		}
		*dst = f
	}
}

func (e *envOverrides) setBool(name string, dst *bool) {
	if v, ok := e.lookup(name); ok {
		b, err := strconv.ParseBool(strings.ToLower(v))
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			return
		}
		*dst = b
	}
}

func (e *envOverrides) setDuration(name string, dst *time.Duration) {
	if v, ok := e.lookup(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			return
		}
		*dst = d
	}
}

// loadFromEnvironment loads configuration from environment variables
func loadFromEnvironment(config *models.Config) error {
	env := &envOverrides{}

	// Server configuration
	env.setInt("PORT", &config.Server.Port)
	env.setString("HOST", &config.Server.Host)
	env.setDuration("READ_TIMEOUT", &config.Server.ReadTimeout)
	env.setDuration("WRITE_TIMEOUT", &config.Server.WriteTimeout)
	env.setDuration("IDLE_TIMEOUT", &config.Server.IdleTimeout)
	env.setBool("TLS_ENABLED", &config.Server.TLSEnabled)
	env.setString("TLS_CERT_FILE", &config.Server.TLSCertFile)
	env.setString("TLS_KEY_FILE", &config.Server.TLSKeyFile)

	// Upstream
	env.setString("UPSTREAM_URL", &config.Upstream.URL)
	env.setDuration("UPSTREAM_TIMEOUT", &config.Upstream.Timeout)

	// Record store
	env.setString("STORE_TYPE", &config.Store.Type)
	env.setDuration("STORE_SWEEP_INTERVAL", &config.Store.SweepInterval)
	env.setString("REDIS_ADDR", &config.Store.Redis.Addr)
	env.setString("REDIS_PASSWORD", &config.Store.Redis.Password)
	env.setInt("REDIS_DB", &config.Store.Redis.DB)
	env.setInt("REDIS_POOL_SIZE", &config.Store.Redis.PoolSize)
	env.setString("REDIS_KEY_PREFIX", &config.Store.Redis.KeyPrefix)

	// Event storage
	env.setString("STORAGE_TYPE", &config.Storage.Type)
	env.setString("STORAGE_PATH", &config.Storage.Path)
	env.setInt("STORAGE_MAX_EVENTS", &config.Storage.MaxEvents)
	env.setString("DATABASE_DSN", &config.Storage.Database.DSN)
	env.setInt("DATABASE_MAX_OPEN_CONNS", &config.Storage.Database.MaxOpenConns)
	env.setDuration("DATABASE_CONN_MAX_LIFETIME", &config.Storage.Database.ConnMaxLifetime)

	// Security
	sec := &config.Security
	env.setBool("RATE_LIMIT_ENABLED", &sec.RateLimit.Enabled)
	env.setBool("RATE_LIMIT_PROGRESSIVE", &sec.RateLimit.Progressive)
	env.setBool("BRUTE_FORCE_ENABLED", &sec.BruteForce.Enabled)
	env.setInt("BRUTE_FORCE_MAX_ATTEMPTS", &sec.BruteForce.MaxAttempts)
	env.setInt("BRUTE_FORCE_IP_BLOCK_ATTEMPTS", &sec.BruteForce.IPBlockAttempts)
	env.setDuration("BRUTE_FORCE_TIME_WINDOW", &sec.BruteForce.TimeWindow)
	env.setDuration("BRUTE_FORCE_RETENTION", &sec.BruteForce.Retention)
	env.setBool("BLOCK_BOTS", &sec.BlockBots)
	env.setString("ADMIN_EMAIL", &sec.Admin.Email)
	env.setString("ADMIN_PASSWORD_HASH", &sec.Admin.PasswordHash)
	env.setString("ADMIN_TOKEN_SECRET", &sec.Admin.TokenSecret)
	env.setDuration("ADMIN_TOKEN_TTL", &sec.Admin.TokenTTL)
	env.setFloat("EVENT_LOG_RATE", &sec.EventLog.RatePerSecond)
	env.setInt("EVENT_LOG_BURST", &sec.EventLog.Burst)
	env.setInt("EVENT_LOG_QUEUE_SIZE", &sec.EventLog.QueueSize)

	// Logging configuration
	env.setString("LOG_LEVEL", &config.Logging.Level)
	env.setString("LOG_FORMAT", &config.Logging.Format)
	env.setString("LOG_OUTPUT", &config.Logging.Output)
	env.setString("LOG_FILE_PATH", &config.Logging.FilePath)

	// Metrics and tracing
	env.setBool("METRICS_ENABLED", &config.Metrics.Enabled)
	env.setString("METRICS_PATH", &config.Metrics.Path)
	env.setInt("METRICS_PORT", &config.Metrics.Port)
	env.setString("SERVICE_NAME", &config.Observability.ServiceName)
	env.setBool("TRACING_ENABLED", &config.Observability.Tracing.Enabled)
	env.setString("TRACING_EXPORTER", &config.Observability.Tracing.Exporter)
	env.setString("OTLP_ENDPOINT", &config.Observability.Tracing.OTLPEndpoint)
	env.setFloat("TRACING_SAMPLE_RATE", &config.Observability.Tracing.SampleRate)

	return errors.Join(env.errs...)
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	config := models.NewDefaultConfig()

	config.Upstream.URL = "http://storefront:3000"
	config.Security.Admin.Email = "ops@example.com"
	config.Security.Admin.PasswordHash = "$2a$12$replace-with-output-of-gatekeeper-hash-password"
	config.Security.Admin.TokenSecret = "replace-with-at-least-32-random-characters"
	config.Security.RateLimit.Profiles = map[string]models.ProfileConfig{
		"auth": {Requests: 10, Window: 15 * time.Minute},
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
