// Package config provides configuration loading for opsgate.
//
// Configuration is loaded from an optional YAML file, then overridden
// by OPSGATE_* environment variables. Missing required settings are
// not silently defaulted; they are surfaced as gate issues via
// RequiredIssues so the release gate can fail deterministically.
package config

import (
	"fmt"
	"slices"
	"time"
)

// Environments lists the accepted OPSGATE_ENVIRONMENT values.
var Environments = []string{"development", "staging", "production", "test"}

// Config holds the complete opsgate configuration.
type Config struct {
	Environment string           `koanf:"environment"`
	Log         LogConfig        `koanf:"log"`
	Backend     BackendConfig    `koanf:"backend"`
	Rotation    RotationConfig   `koanf:"rotation"`
	Resilience  ResilienceConfig `koanf:"resilience"`
	Gate        GateConfig       `koanf:"gate"`
	Telemetry   TelemetryConfig  `koanf:"telemetry"`
}

// LogConfig configures the structured logging pipeline.
type LogConfig struct {
	MinLevel        string             `koanf:"min_level"`
	Service         string             `koanf:"service"`
	BufferCapacity  int                `koanf:"buffer_capacity"`
	FlushInterval   Duration           `koanf:"flush_interval"`
	ShutdownTimeout Duration           `koanf:"shutdown_timeout"`
	Sampling        map[string]float64 `koanf:"sampling"`
	Redaction       RedactionConfig    `koanf:"redaction"`
}

// RedactionConfig controls sensitive data redaction.
type RedactionConfig struct {
	Fields        []string `koanf:"fields"`
	Patterns      []string `koanf:"patterns"`
	MaskKeys      []string `koanf:"mask_keys"`
	MaxStackLines int      `koanf:"max_stack_lines"`
}

// BackendConfig configures the error-reporting backend collaborator.
type BackendConfig struct {
	Endpoint       string   `koanf:"endpoint"`
	Token          Secret   `koanf:"token"`
	Timeout        Duration `koanf:"timeout"`
	RateLimit      float64  `koanf:"rate_limit"`
	RateBurst      int      `koanf:"rate_burst"`
	MaxBreadcrumbs int      `koanf:"max_breadcrumbs"`
}

// RotationConfig configures on-disk segment rotation and retention.
type RotationConfig struct {
	Dir             string   `koanf:"dir"`
	FilePrefix      string   `koanf:"file_prefix"`
	MaxSegmentBytes int64    `koanf:"max_segment_bytes"`
	MaxSegmentAge   Duration `koanf:"max_segment_age"`
	MaxSegments     int      `koanf:"max_segments"`
	CheckInterval   Duration `koanf:"check_interval"`
}

// ResilienceConfig configures circuit breakers and retry policy.
type ResilienceConfig struct {
	FailureThreshold  int      `koanf:"failure_threshold"`
	InitialBackoff    Duration `koanf:"initial_backoff"`
	MaxBackoff        Duration `koanf:"max_backoff"`
	BackoffMultiplier float64  `koanf:"backoff_multiplier"`
	RetryMaxAttempts  int      `koanf:"retry_max_attempts"`
	RetentionWindow   Duration `koanf:"retention_window"`
}

// GateConfig configures the release gate runner.
type GateConfig struct {
	Strict       bool     `koanf:"strict"`
	SkipSlow     bool     `koanf:"skip_slow"`
	CheckTimeout Duration `koanf:"check_timeout"`
}

// TelemetryConfig configures the OTLP trace exporter for gate runs.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Endpoint    string `koanf:"endpoint"`
	Insecure    bool   `koanf:"insecure"`
	ServiceName string `koanf:"service_name"`
}

// Validate checks structural validity. Required-but-missing settings
// are deliberately not validation errors; see RequiredIssues.
func (c *Config) Validate() error {
	if c.Environment != "" && !slices.Contains(Environments, c.Environment) {
		return fmt.Errorf("environment must be one of %v, got %q", Environments, c.Environment)
	}
	if c.Log.BufferCapacity <= 0 {
		return fmt.Errorf("log.buffer_capacity must be positive, got %d", c.Log.BufferCapacity)
	}
	if c.Log.FlushInterval.Duration() <= 0 {
		return fmt.Errorf("log.flush_interval must be positive")
	}
	for name, rate := range c.Log.Sampling {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("log.sampling.%s must be in [0,1], got %v", name, rate)
		}
	}
	if c.Rotation.MaxSegmentBytes <= 0 {
		return fmt.Errorf("rotation.max_segment_bytes must be positive, got %d", c.Rotation.MaxSegmentBytes)
	}
	if c.Rotation.MaxSegments <= 0 {
		return fmt.Errorf("rotation.max_segments must be positive, got %d", c.Rotation.MaxSegments)
	}
	if c.Resilience.FailureThreshold <= 0 {
		return fmt.Errorf("resilience.failure_threshold must be positive, got %d", c.Resilience.FailureThreshold)
	}
	if c.Resilience.BackoffMultiplier < 1 {
		return fmt.Errorf("resilience.backoff_multiplier must be >= 1, got %v", c.Resilience.BackoffMultiplier)
	}
	if c.Resilience.MaxBackoff.Duration() < c.Resilience.InitialBackoff.Duration() {
		return fmt.Errorf("resilience.max_backoff must be >= resilience.initial_backoff")
	}
	return nil
}

// RequiredIssues reports missing or malformed required settings. A
// non-empty result is a P0 gate failure, not a load error, so the gate
// CLI can still run and report it.
func (c *Config) RequiredIssues() []string {
	var issues []string
	if c.Environment == "" {
		issues = append(issues, "OPSGATE_ENVIRONMENT is not set (expected one of development, staging, production, test)")
	}
	if c.Backend.Endpoint == "" {
		issues = append(issues, "OPSGATE_BACKEND_ENDPOINT is not set")
	}
	if c.Log.MinLevel == "" {
		issues = append(issues, "OPSGATE_LOG_MIN_LEVEL is not set (expected trace, debug, info, warn, error or fatal)")
	}
	return issues
}

// NewDefaultConfig returns the built-in defaults. Required settings
// (environment, backend endpoint, minimum log level) have no default.
func NewDefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Service:         "opsgate",
			BufferCapacity:  1000,
			FlushInterval:   Duration(5 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
			Sampling: map[string]float64{
				"trace": 0.01,
				"debug": 0.05,
				"info":  0.25,
				"warn":  1.0,
				"error": 1.0,
				"fatal": 1.0,
			},
			Redaction: RedactionConfig{
				MaxStackLines: 50,
			},
		},
		Backend: BackendConfig{
			Timeout:        Duration(3 * time.Second),
			RateLimit:      10,
			RateBurst:      20,
			MaxBreadcrumbs: 100,
		},
		Rotation: RotationConfig{
			Dir:             "logs",
			FilePrefix:      "opsgate",
			MaxSegmentBytes: 50 * 1024 * 1024,
			MaxSegmentAge:   Duration(24 * time.Hour),
			MaxSegments:     10,
			CheckInterval:   Duration(30 * time.Second),
		},
		Resilience: ResilienceConfig{
			FailureThreshold:  3,
			InitialBackoff:    Duration(time.Second),
			MaxBackoff:        Duration(time.Minute),
			BackoffMultiplier: 2.0,
			RetryMaxAttempts:  3,
			RetentionWindow:   Duration(time.Hour),
		},
		Gate: GateConfig{
			CheckTimeout: Duration(30 * time.Second),
		},
		Telemetry: TelemetryConfig{
			ServiceName: "opsgate",
		},
	}
}
