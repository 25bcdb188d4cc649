package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, 1000, cfg.Log.BufferCapacity)
	assert.Equal(t, 5*time.Second, cfg.Log.FlushInterval.Duration())
	assert.Equal(t, int64(50*1024*1024), cfg.Rotation.MaxSegmentBytes)
	assert.Equal(t, 10, cfg.Rotation.MaxSegments)
	assert.Equal(t, 3, cfg.Resilience.FailureThreshold)
	assert.Equal(t, 2.0, cfg.Resilience.BackoffMultiplier)

	// Error and fatal are always kept by default.
	assert.Equal(t, 1.0, cfg.Log.Sampling["error"])
	assert.Equal(t, 1.0, cfg.Log.Sampling["fatal"])

	// Required settings have no default.
	assert.Empty(t, cfg.Environment)
	assert.Empty(t, cfg.Backend.Endpoint)
	assert.Empty(t, cfg.Log.MinLevel)

	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad environment", func(c *Config) { c.Environment = "qa" }},
		{"zero buffer", func(c *Config) { c.Log.BufferCapacity = 0 }},
		{"sampling rate above one", func(c *Config) { c.Log.Sampling["info"] = 1.5 }},
		{"negative sampling rate", func(c *Config) { c.Log.Sampling["debug"] = -0.1 }},
		{"zero segment size", func(c *Config) { c.Rotation.MaxSegmentBytes = 0 }},
		{"zero retention count", func(c *Config) { c.Rotation.MaxSegments = 0 }},
		{"zero threshold", func(c *Config) { c.Resilience.FailureThreshold = 0 }},
		{"multiplier below one", func(c *Config) { c.Resilience.BackoffMultiplier = 0.5 }},
		{"max backoff below initial", func(c *Config) {
			c.Resilience.InitialBackoff = Duration(time.Minute)
			c.Resilience.MaxBackoff = Duration(time.Second)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_RequiredIssues(t *testing.T) {
	cfg := NewDefaultConfig()
	issues := cfg.RequiredIssues()
	require.Len(t, issues, 3)

	cfg.Environment = "staging"
	cfg.Backend.Endpoint = "https://errors.example.com"
	cfg.Log.MinLevel = "info"
	assert.Empty(t, cfg.RequiredIssues())
}

func TestTransformEnvKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"OPSGATE_ENVIRONMENT", "environment"},
		{"OPSGATE_BACKEND_ENDPOINT", "backend.endpoint"},
		{"OPSGATE_BACKEND_TOKEN", "backend.token"},
		{"OPSGATE_LOG_MIN_LEVEL", "log.min_level"},
		{"OPSGATE_ROTATION_MAX_SEGMENTS", "rotation.max_segments"},
		{"OPSGATE_GATE_STRICT", "gate.strict"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, transformEnvKey(tt.in), tt.in)
	}
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
environment: development
log:
  min_level: debug
  buffer_capacity: 250
backend:
  endpoint: https://file.example.com
rotation:
  max_segments: 4
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	// Environment overrides the file.
	t.Setenv("OPSGATE_ENVIRONMENT", "staging")
	t.Setenv("OPSGATE_BACKEND_TOKEN", "super-secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment, "env var wins over file")
	assert.Equal(t, "debug", cfg.Log.MinLevel, "file wins over default")
	assert.Equal(t, 250, cfg.Log.BufferCapacity)
	assert.Equal(t, "https://file.example.com", cfg.Backend.Endpoint)
	assert.Equal(t, 4, cfg.Rotation.MaxSegments)
	assert.Equal(t, "super-secret", cfg.Backend.Token.Value())
	assert.Equal(t, 10.0, cfg.Backend.RateLimit, "untouched defaults survive")
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Log.BufferCapacity)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log: [broken"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")), "negative durations rejected")
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestSecret_NeverLeaks(t *testing.T) {
	s := Secret("hunter2")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "Secret([REDACTED])", s.GoString())
	assert.Equal(t, "hunter2", s.Value())
	assert.True(t, s.IsSet())

	data, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")

	var empty Secret
	assert.Equal(t, "", empty.String())
	assert.False(t, empty.IsSet())
}
