// Package config loads the rotor.yaml runtime configuration. Everything in
// it is optional; a missing file yields pure defaults so the CLI works out
// of the box.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	rerrors "github.com/systmms/rotor/internal/errors"
)

// DefaultPath is the configuration file the CLI looks for when --config is
// not given.
const DefaultPath = "rotor.yaml"

// Config is the parsed rotor.yaml structure.
type Config struct {
	// StateDir overrides where rotation state, status and history files
	// live. Empty means the platform default under XDG_DATA_HOME.
	StateDir string `yaml:"state_dir,omitempty"`

	// TimeoutSeconds bounds a single remote call (HTTP request or database
	// statement). Zero means the built-in default.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`

	Retry RetryConfig `yaml:"retry,omitempty"`
	Audit AuditConfig `yaml:"audit,omitempty"`
}

// RetryConfig bounds the retry loop around the execute stage.
type RetryConfig struct {
	// MaxAttempts caps total attempts, first try included.
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// InitialWaitMs is the wait before the second attempt; it doubles on
	// each subsequent retry.
	InitialWaitMs int `yaml:"initial_wait_ms,omitempty"`
}

// AuditConfig configures where audit events go beyond the CLI logger.
type AuditConfig struct {
	Webhook *AuditWebhookConfig `yaml:"webhook,omitempty"`
}

// AuditWebhookConfig holds the HTTP audit sink settings.
type AuditWebhookConfig struct {
	URL string `yaml:"url"`

	// Headers are sent with every delivery, typically an Authorization
	// token for the receiving endpoint.
	Headers map[string]string `yaml:"headers,omitempty"`

	// TimeoutSeconds bounds a single delivery attempt (default: 10).
	TimeoutSeconds int `yaml:"timeout,omitempty"`

	// MaxAttempts is the delivery attempt cap (default: 3).
	MaxAttempts int `yaml:"max_attempts,omitempty"`
}

// Load reads path and parses it. A missing file is not an error: defaults
// apply. A file that exists but does not parse or validate is.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, rerrors.ConfigError{
			Field:      "path",
			Value:      path,
			Message:    "cannot read configuration file",
			Suggestion: "Check file permissions and path",
		}
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, rerrors.ConfigError{
			Field:      "path",
			Value:      path,
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters",
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.TimeoutSeconds < 0 {
		return rerrors.ConfigError{
			Field:      "timeout_seconds",
			Value:      c.TimeoutSeconds,
			Message:    "must not be negative",
			Suggestion: "Remove the field to use the default of 30 seconds",
		}
	}
	if c.Retry.MaxAttempts < 0 {
		return rerrors.ConfigError{
			Field:      "retry.max_attempts",
			Value:      c.Retry.MaxAttempts,
			Message:    "must not be negative",
			Suggestion: "Set 1 to disable retries entirely",
		}
	}
	if c.Retry.InitialWaitMs < 0 {
		return rerrors.ConfigError{
			Field:      "retry.initial_wait_ms",
			Value:      c.Retry.InitialWaitMs,
			Message:    "must not be negative",
			Suggestion: "Remove the field to use the default of 500ms",
		}
	}
	if c.Audit.Webhook != nil && c.Audit.Webhook.URL == "" {
		return rerrors.ConfigError{
			Field:      "audit.webhook.url",
			Message:    "audit webhook configured without a URL",
			Suggestion: "Set 'audit.webhook.url' or remove the 'audit.webhook' section",
		}
	}
	return nil
}

// OperationTimeout returns the configured per-call timeout, or the given
// default when unset.
func (c *Config) OperationTimeout(def time.Duration) time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds) * time.Second
	}
	return def
}

// RetryWait returns the configured initial retry wait, or the given default
// when unset.
func (c *RetryConfig) RetryWait(def time.Duration) time.Duration {
	if c.InitialWaitMs > 0 {
		return time.Duration(c.InitialWaitMs) * time.Millisecond
	}
	return def
}
