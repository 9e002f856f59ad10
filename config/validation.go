package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	var errs []string

	if s.Address == "" {
		errs = append(errs, "address cannot be empty")
	}
	if s.ReadTimeout <= 0 {
		errs = append(errs, "read_timeout must be positive")
	}
	if s.WriteTimeout <= 0 {
		errs = append(errs, "write_timeout must be positive")
	}
	if s.IdleTimeout <= 0 {
		errs = append(errs, "idle_timeout must be positive")
	}
	if s.ReadHeaderTimeout <= 0 {
		errs = append(errs, "read_header_timeout must be positive")
	}
	if s.ShutdownTimeout <= 0 {
		errs = append(errs, "shutdown_timeout must be positive")
	}

	return join(errs)
}

var validAdapters = []string{"memory", "redis", "sql", "file"}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	var errs []string

	if !slices.Contains(validAdapters, s.Adapter) {
		errs = append(errs, fmt.Sprintf("adapter must be one of: %s", strings.Join(validAdapters, ", ")))
	}

	switch s.Adapter {
	case "file":
		if err := s.File.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("file config: %v", err))
		}
	case "sql":
		if err := s.SQL.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("sql config: %v", err))
		}
	case "redis":
		if s.Redis.Addr == "" {
			errs = append(errs, "redis config: addr cannot be empty")
		}
	}

	return join(errs)
}

// Validate validates file storage configuration
func (f *FileConfig) Validate() error {
	if f.Path == "" {
		return errors.New("path cannot be empty")
	}
	return nil
}

// Validate checks history bounds, zone and dispatch mode.
func (l *LedgerConfig) Validate() error {
	var errs []string

	if l.MaxHistory < 0 {
		errs = append(errs, "max_history cannot be negative")
	}
	if _, err := l.Location(); err != nil {
		errs = append(errs, fmt.Sprintf("timezone: %v", err))
	}
	if l.Dispatch != "sync" && l.Dispatch != "async" {
		errs = append(errs, "dispatch must be one of: sync, async")
	}

	return join(errs)
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	var errs []string

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, l.Level) {
		errs = append(errs, "level must be one of: debug, info, warn, error")
	}
	if !slices.Contains([]string{"json", "text"}, l.Format) {
		errs = append(errs, "format must be one of: json, text")
	}
	if !slices.Contains([]string{"stdout", "stderr"}, l.Output) {
		errs = append(errs, "output must be one of: stdout, stderr")
	}

	return join(errs)
}

// Validate checks every endpoint is an absolute http(s) URL.
func (w *WebhookConfig) Validate() error {
	var errs []string

	for i, ep := range w.Endpoints {
		u, err := url.Parse(ep)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("endpoints[%d] must be an absolute http(s) URL", i))
		}
	}
	if len(w.Endpoints) > 0 && w.Timeout <= 0 {
		errs = append(errs, "timeout must be positive when endpoints are set")
	}

	return join(errs)
}

// Validate requires an endpoint when export is enabled.
func (t *TelemetryConfig) Validate() error {
	if !t.Enabled {
		return nil
	}
	var errs []string
	if t.OTLPEndpoint == "" {
		errs = append(errs, "otlp_endpoint cannot be empty when telemetry is enabled")
	}
	if t.ServiceName == "" {
		errs = append(errs, "service_name cannot be empty when telemetry is enabled")
	}
	return join(errs)
}

// Validate validates security settings.
func (s *SecurityConfig) Validate() error {
	var errs []string

	if s.EnableRateLimit {
		if s.RateLimit.RequestsPerMinute <= 0 {
			errs = append(errs, "rate_limit.requests_per_minute must be > 0 when rate limiting is enabled")
		}
		if s.RateLimit.BurstSize <= 0 {
			errs = append(errs, "rate_limit.burst_size must be > 0 when rate limiting is enabled")
		}
	}
	for i, key := range s.APIKeys {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, fmt.Sprintf("api_keys[%d] is empty", i))
		}
	}

	return join(errs)
}

func join(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.New(strings.Join(errs, "; "))
}

// webhookTimeout is used when the config leaves the timeout unset.
const webhookTimeout = 2 * time.Second

// EffectiveTimeout returns Timeout or the default.
func (w WebhookConfig) EffectiveTimeout() time.Duration {
	if w.Timeout > 0 {
		return w.Timeout
	}
	return webhookTimeout
}
