// Package models - Service configuration and operational settings.
// This file defines the configuration structures for every gateway component.
//
// Configuration Philosophy:
// - Hierarchical configuration grouped by component (server, store, security, etc.)
// - Defaults that match the production admission policy out of the box
// - Validation up front so a bad limit never reaches the request path
package models

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Store type constants for the rate-limit / brute-force record stores.
const (
	StoreTypeMemory = "memory"
	StoreTypeRedis  = "redis"
)

// Storage type constants for the security event log.
const (
	StorageTypeJSON     = "json"
	StorageTypeMemory   = "memory"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
)

// Config is the root configuration structure containing all service settings.
//
// Configuration Structure:
// - Server: HTTP listener settings
// - Upstream: where admitted requests are forwarded
// - Store: backing store for limiter and guard records
// - Storage: persistence for security events
// - Security: rate limit profiles, brute-force guard, admin credentials
// - Logging, Metrics, Observability: ambient operations
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Upstream      UpstreamConfig      `yaml:"upstream" json:"upstream"`
	Store         StoreConfig         `yaml:"store" json:"store"`
	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	Security      SecurityConfig      `yaml:"security" json:"security"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
}

// UpstreamConfig points at the storefront application. An empty URL turns
// the gateway into a standalone admin service that answers 404 for
// everything it does not own.
type UpstreamConfig struct {
	URL     string        `yaml:"url" json:"url"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

type StoreConfig struct {
	Type          string        `yaml:"type" json:"type"`
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
	Redis         RedisConfig   `yaml:"redis" json:"redis"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"password"`
	DB        int    `yaml:"db" json:"db"`
	PoolSize  int    `yaml:"pool_size" json:"pool_size"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

type StorageConfig struct {
	Type      string         `yaml:"type" json:"type"`
	Path      string         `yaml:"path" json:"path"`
	MaxEvents int            `yaml:"max_events" json:"max_events"`
	Database  DatabaseConfig `yaml:"database" json:"database"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

type SecurityConfig struct {
	RateLimit  RateLimitConfig  `yaml:"rate_limit" json:"rate_limit"`
	BruteForce BruteForceConfig `yaml:"brute_force" json:"brute_force"`
	Admin      AdminConfig      `yaml:"admin" json:"admin"`
	EventLog   EventLogConfig   `yaml:"event_log" json:"event_log"`
	BlockBots  bool             `yaml:"block_bots" json:"block_bots"`
}

// RateLimitConfig enables the fixed-window limiter. Profiles overrides the
// built-in profile table by name (api, adminAuth, payment, orders, auth,
// search, webhook); a zero field keeps the built-in value.
type RateLimitConfig struct {
	Enabled     bool                     `yaml:"enabled" json:"enabled"`
	Progressive bool                     `yaml:"progressive" json:"progressive"`
	Profiles    map[string]ProfileConfig `yaml:"profiles" json:"profiles"`
}

type ProfileConfig struct {
	Requests int           `yaml:"requests" json:"requests"`
	Window   time.Duration `yaml:"window" json:"window"`
}

type BruteForceConfig struct {
	Enabled         bool            `yaml:"enabled" json:"enabled"`
	MaxAttempts     int             `yaml:"max_attempts" json:"max_attempts"`
	IPBlockAttempts int             `yaml:"ip_block_attempts" json:"ip_block_attempts"`
	TimeWindow      time.Duration   `yaml:"time_window" json:"time_window"`
	BlockDurations  []time.Duration `yaml:"block_durations" json:"block_durations"`
	Retention       time.Duration   `yaml:"retention" json:"retention"`
}

// AdminConfig holds the single operator account for the admin API.
// PasswordHash is a bcrypt hash; the plaintext never appears in config.
type AdminConfig struct {
	Email        string        `yaml:"email" json:"email"`
	PasswordHash string        `yaml:"password_hash" json:"-"`
	TokenSecret  string        `yaml:"token_secret" json:"-"`
	TokenTTL     time.Duration `yaml:"token_ttl" json:"token_ttl"`
}

// EventLogConfig throttles security event log lines per event name.
// Persistence to storage is never throttled; events wait in a queue of
// QueueSize for a background writer and are dropped when it is full.
type EventLogConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second" json:"rate_per_second"`
	Burst         int     `yaml:"burst" json:"burst"`
	QueueSize     int     `yaml:"queue_size" json:"queue_size"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// DefaultBlockDurations is the brute-force escalation ladder: 5 minutes up
// to 16 hours.
func DefaultBlockDurations() []time.Duration {
	return []time.Duration{
		5 * time.Minute,
		15 * time.Minute,
		30 * time.Minute,
		60 * time.Minute,
		120 * time.Minute,
		240 * time.Minute,
		480 * time.Minute,
		960 * time.Minute,
	}
}

// NewDefaultConfig creates a configuration with production defaults.
//
// Default Values Rationale:
// - In-memory store: single instance deployments need no extra services
// - Rate limiting and brute-force protection on from the start
// - Memory event storage bounded to 10k events
// - Metrics on a separate port so the admission path stays clean
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Upstream: UpstreamConfig{
			Timeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Type:          StoreTypeMemory,
			SweepInterval: 5 * time.Minute,
			Redis: RedisConfig{
				PoolSize:  10,
				KeyPrefix: "gatekeeper:",
			},
		},
		Storage: StorageConfig{
			Type:      StorageTypeMemory,
			MaxEvents: 10000,
			Database: DatabaseConfig{
				MaxOpenConns:    10,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled:  true,
				Profiles: map[string]ProfileConfig{},
			},
			BruteForce: BruteForceConfig{
				Enabled:         true,
				MaxAttempts:     5,
				IPBlockAttempts: 20,
				TimeWindow:      15 * time.Minute,
				BlockDurations:  DefaultBlockDurations(),
				Retention:       24 * time.Hour,
			},
			Admin: AdminConfig{
				TokenTTL: 8 * time.Hour,
			},
			EventLog: EventLogConfig{
				RatePerSecond: 10,
				Burst:         20,
				QueueSize:     1024,
			},
			BlockBots: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "gatekeeper",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Upstream.Validate(); err != nil {
		return fmt.Errorf("invalid upstream config: %w", err)
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("invalid store config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("invalid security config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (uc *UpstreamConfig) Validate() error {
	if uc.URL == "" {
		return nil
	}
	u, err := url.Parse(uc.URL)
	if err != nil {
		return fmt.Errorf("invalid upstream url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream url must be http or https: %s", uc.URL)
	}
	if u.Host == "" {
		return errors.New("upstream url must include a host")
	}
	if uc.Timeout < 0 {
		return errors.New("upstream timeout cannot be negative")
	}
	return nil
}

func (sc *StoreConfig) Validate() error {
	switch sc.Type {
	case StoreTypeMemory:
	case StoreTypeRedis:
		if sc.Redis.Addr == "" {
			return errors.New("redis address is required when store type is redis")
		}
	default:
		return fmt.Errorf("invalid store type: %s", sc.Type)
	}

	if sc.SweepInterval < 0 {
		return errors.New("sweep interval cannot be negative")
	}

	return nil
}

func (stc *StorageConfig) Validate() error {
	switch stc.Type {
	case StorageTypeMemory:
	case StorageTypeJSON:
		if stc.Path == "" {
			return errors.New("path is required for JSON storage")
		}
	case StorageTypePostgres, StorageTypeSQLite:
		if stc.Database.DSN == "" {
			return errors.New("database DSN is required for database storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}

	if stc.MaxEvents < 0 {
		return errors.New("max events cannot be negative")
	}

	return nil
}

func (sec *SecurityConfig) Validate() error {
	for name, p := range sec.RateLimit.Profiles {
		if p.Requests < 0 {
			return fmt.Errorf("profile %s: requests cannot be negative", name)
		}
		if p.Window < 0 {
			return fmt.Errorf("profile %s: window cannot be negative", name)
		}
	}

	if sec.BruteForce.Enabled {
		bf := sec.BruteForce
		if bf.MaxAttempts <= 0 {
			return errors.New("brute force max attempts must be positive")
		}
		if bf.IPBlockAttempts <= 0 {
			return errors.New("brute force ip block attempts must be positive")
		}
		if bf.TimeWindow <= 0 {
			return errors.New("brute force time window must be positive")
		}
		if len(bf.BlockDurations) == 0 {
			return errors.New("brute force block durations cannot be empty")
		}
		for _, d := range bf.BlockDurations {
			if d <= 0 {
				return errors.New("brute force block durations must be positive")
			}
		}
	}

	admin := sec.Admin
	if admin.Email != "" || admin.PasswordHash != "" {
		if admin.Email == "" || admin.PasswordHash == "" {
			return errors.New("admin email and password hash must be set together")
		}
		if len(admin.TokenSecret) < 32 {
			return errors.New("admin token secret must be at least 32 characters")
		}
		if admin.TokenTTL <= 0 {
			return errors.New("admin token ttl must be positive")
		}
	}

	if sec.EventLog.RatePerSecond < 0 || sec.EventLog.Burst < 0 {
		return errors.New("event log throttle cannot be negative")
	}
	if sec.EventLog.QueueSize < 0 {
		return errors.New("event log queue size cannot be negative")
	}

	return nil
}

// AdminEnabled reports whether an operator account is configured.
func (sec *SecurityConfig) AdminEnabled() bool {
	return sec.Admin.Email != "" && sec.Admin.PasswordHash != ""
}

func (lc *LoggingConfig) Validate() error {
	switch lc.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	switch lc.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	switch lc.Output {
	case "stdout", "stderr":
	case "file":
		if lc.FilePath == "" {
			return errors.New("file path is required when output is file")
		}
	default:
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if !oc.Tracing.Enabled {
		return nil
	}

	switch oc.Tracing.Exporter {
	case "stdout":
	case "otlp":
		if oc.Tracing.OTLPEndpoint == "" {
			return errors.New("OTLP endpoint is required when tracing exporter is otlp")
		}
	default:
		return fmt.Errorf("invalid tracing exporter: %s", oc.Tracing.Exporter)
	}

	if oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1 {
		return errors.New("tracing sample rate must be between 0 and 1")
	}

	return nil
}
