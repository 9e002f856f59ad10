package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"rewardskit/adapters/redis"
	"rewardskit/adapters/sqlx"
	"rewardskit/engine"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds the complete application configuration
type Config struct {
	Environment Environment `json:"environment" yaml:"environment" env:"REWARDSKIT_ENV"`
	Profile     string      `json:"profile" yaml:"profile" env:"REWARDSKIT_PROFILE"`

	Server    ServerConfig    `json:"server" yaml:"server"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Ledger    LedgerConfig    `json:"ledger" yaml:"ledger"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Webhook   WebhookConfig   `json:"webhook" yaml:"webhook"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
	Security  SecurityConfig  `json:"security" yaml:"security"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address           string        `json:"address" yaml:"address" env:"REWARDSKIT_SERVER_ADDR"`
	PathPrefix        string        `json:"path_prefix" yaml:"path_prefix" env:"REWARDSKIT_SERVER_PATH_PREFIX"`
	CORSOrigin        string        `json:"cors_origin" yaml:"cors_origin" env:"REWARDSKIT_SERVER_CORS_ORIGIN"`
	ReadTimeout       time.Duration `json:"read_timeout" yaml:"read_timeout" env:"REWARDSKIT_SERVER_READ_TIMEOUT"`
	WriteTimeout      time.Duration `json:"write_timeout" yaml:"write_timeout" env:"REWARDSKIT_SERVER_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `json:"idle_timeout" yaml:"idle_timeout" env:"REWARDSKIT_SERVER_IDLE_TIMEOUT"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" yaml:"read_header_timeout" env:"REWARDSKIT_SERVER_READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"REWARDSKIT_SERVER_SHUTDOWN_TIMEOUT"`
}

// StorageConfig holds storage adapter configuration
type StorageConfig struct {
	Adapter string       `json:"adapter" yaml:"adapter" env:"REWARDSKIT_STORAGE_ADAPTER"`
	Redis   redis.Config `json:"redis,omitempty" yaml:"redis,omitempty"`
	SQL     sqlx.Config  `json:"sql,omitempty" yaml:"sql,omitempty"`
	File    FileConfig   `json:"file,omitempty" yaml:"file,omitempty"`
}

// FileConfig holds JSON file storage configuration
type FileConfig struct {
	Path string `json:"path" yaml:"path" env:"REWARDSKIT_STORAGE_FILE_PATH"`
}

// LedgerConfig tunes every learner's recorder.
type LedgerConfig struct {
	// MaxHistory bounds in-ledger history; older entries fold into the archive. 0 disables.
	MaxHistory int `json:"max_history" yaml:"max_history" env:"REWARDSKIT_LEDGER_MAX_HISTORY"`
	// Timezone names the IANA zone whose calendar days drive streaks and daily caps.
	Timezone string `json:"timezone" yaml:"timezone" env:"REWARDSKIT_LEDGER_TIMEZONE"`
	// Dispatch is "sync" or "async" change notification.
	Dispatch string `json:"dispatch" yaml:"dispatch" env:"REWARDSKIT_LEDGER_DISPATCH"`
}

// Location resolves Timezone.
func (l LedgerConfig) Location() (*time.Location, error) {
	if l.Timezone == "" || l.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(l.Timezone)
}

// DispatchMode maps Dispatch onto the bus mode.
func (l LedgerConfig) DispatchMode() engine.DispatchMode {
	if l.Dispatch == "sync" {
		return engine.DispatchSync
	}
	return engine.DispatchAsync
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string            `json:"level" yaml:"level" env:"REWARDSKIT_LOG_LEVEL"`
	Format     string            `json:"format" yaml:"format" env:"REWARDSKIT_LOG_FORMAT"`
	Output     string            `json:"output" yaml:"output" env:"REWARDSKIT_LOG_OUTPUT"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// WebhookConfig configures change forwarding to remote backup endpoints.
type WebhookConfig struct {
	Endpoints  []string      `json:"endpoints,omitempty" yaml:"endpoints,omitempty" env:"REWARDSKIT_WEBHOOK_ENDPOINTS"`
	OnlyForced bool          `json:"only_forced" yaml:"only_forced" env:"REWARDSKIT_WEBHOOK_ONLY_FORCED"`
	Secret     string        `json:"secret,omitempty" yaml:"secret,omitempty" env:"REWARDSKIT_WEBHOOK_SECRET"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout" env:"REWARDSKIT_WEBHOOK_TIMEOUT"`
}

// TelemetryConfig configures OpenTelemetry trace export.
type TelemetryConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled" env:"REWARDSKIT_OTEL_ENABLED"`
	OTLPEndpoint string `json:"otlp_endpoint" yaml:"otlp_endpoint" env:"REWARDSKIT_OTEL_ENDPOINT"`
	ServiceName  string `json:"service_name" yaml:"service_name" env:"REWARDSKIT_OTEL_SERVICE_NAME"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	EnableRateLimit bool            `json:"enable_rate_limit" yaml:"enable_rate_limit" env:"REWARDSKIT_SECURITY_RATE_LIMIT_ENABLED"`
	RateLimit       RateLimitConfig `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	APIKeys         []string        `json:"api_keys,omitempty" yaml:"api_keys,omitempty" env:"REWARDSKIT_SECURITY_API_KEYS"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute" env:"REWARDSKIT_SECURITY_RATE_LIMIT_RPM"`
	BurstSize         int `json:"burst_size" yaml:"burst_size" env:"REWARDSKIT_SECURITY_RATE_LIMIT_BURST"`
}

// Load loads configuration from environment variables and validates it.
// REWARDSKIT_PROFILE, when set, selects the base profile before overrides.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	if name := os.Getenv("REWARDSKIT_PROFILE"); name != "" {
		p, err := Profile(name)
		if err != nil {
			return nil, err
		}
		cfg = p
	}
	return finish(cfg)
}

// LoadProfile returns the named profile with environment overrides applied.
func LoadProfile(name string) (*Config, error) {
	cfg, err := Profile(name)
	if err != nil {
		return nil, err
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// validateConfigPath validates that the config file path is safe
func validateConfigPath(path string) error {
	if path == "" {
		return errors.New("config file path cannot be empty")
	}

	cleanPath := filepath.Clean(path)

	switch strings.ToLower(filepath.Ext(cleanPath)) {
	case ".json", ".yaml", ".yml":
	default:
		return errors.New("config file must have .json, .yaml or .yml extension")
	}

	if _, err := os.Stat(cleanPath); err != nil {
		return fmt.Errorf("config file not accessible: %w", err)
	}

	return nil
}

// LoadFromFile loads configuration from a JSON or YAML file. Environment
// variables override file values.
func LoadFromFile(path string) (*Config, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config file path: %w", err)
	}

	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 - Path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return finish(cfg)
}

// DefaultConfig returns a configuration with sensible defaults for development
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Profile:     "default",
		Server: ServerConfig{
			Address:           ":8080",
			PathPrefix:        "/api",
			CORSOrigin:        "*",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Storage: StorageConfig{
			Adapter: "memory",
			Redis:   redis.DefaultConfig(),
			SQL:     sqlx.DefaultConfig(sqlx.DriverPostgres),
			File: FileConfig{
				Path: "./data/rewards.json",
			},
		},
		Ledger: LedgerConfig{
			MaxHistory: engine.DefaultMaxHistory,
			Timezone:   "Local",
			Dispatch:   "async",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Webhook: WebhookConfig{
			OnlyForced: true,
			Timeout:    2 * time.Second,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "http://localhost:4318",
			ServiceName:  "rewardskit",
		},
		Security: SecurityConfig{
			EnableRateLimit: false,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				BurstSize:         10,
			},
			APIKeys: []string{},
		},
	}
}

// Profile returns the preset for a deployment environment.
func Profile(name string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Profile = name
	switch Environment(name) {
	case EnvDevelopment:
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "text"
	case EnvTesting:
		cfg.Environment = EnvTesting
		cfg.Ledger.Dispatch = "sync"
		cfg.Ledger.Timezone = "UTC"
		cfg.Logging.Level = "error"
	case EnvStaging:
		cfg.Environment = EnvStaging
		cfg.Storage.Adapter = "file"
		cfg.Security.EnableRateLimit = true
	case EnvProduction:
		cfg.Environment = EnvProduction
		cfg.Storage.Adapter = "redis"
		cfg.Server.CORSOrigin = ""
		cfg.Security.EnableRateLimit = true
		cfg.Telemetry.Enabled = true
	default:
		return nil, fmt.Errorf("unknown profile %q", name)
	}
	return cfg, nil
}

// Validate validates the configuration and returns detailed error messages
func (c *Config) Validate() error {
	var errs []string

	if c.Environment == "" {
		errs = append(errs, "environment cannot be empty")
	}

	sections := []struct {
		name string
		err  error
	}{
		{"server", c.Server.Validate()},
		{"storage", c.Storage.Validate()},
		{"ledger", c.Ledger.Validate()},
		{"logging", c.Logging.Validate()},
		{"webhook", c.Webhook.Validate()},
		{"telemetry", c.Telemetry.Validate()},
		{"security", c.Security.Validate()},
	}
	for _, s := range sections {
		if s.err != nil {
			errs = append(errs, fmt.Sprintf("%s config: %v", s.name, s.err))
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// String returns a JSON representation of the config (with secrets redacted)
func (c *Config) String() string {
	cfg := *c

	if cfg.Storage.SQL.DSN != "" {
		cfg.Storage.SQL.DSN = "[REDACTED]"
	}
	if cfg.Storage.Redis.Password != "" {
		cfg.Storage.Redis.Password = "[REDACTED]"
	}
	if cfg.Webhook.Secret != "" {
		cfg.Webhook.Secret = "[REDACTED]"
	}
	if len(cfg.Security.APIKeys) > 0 {
		cfg.Security.APIKeys = []string{"[REDACTED]"}
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	return string(data)
}
