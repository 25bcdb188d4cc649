package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// envPrefix is the prefix for all opsgate environment variables.
	envPrefix = "OPSGATE_"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// Load loads configuration with the standard precedence (highest
// wins):
//
//  1. Environment variables (OPSGATE_BACKEND_ENDPOINT, ...)
//  2. YAML config file (configPath, optional)
//  3. Hardcoded defaults (NewDefaultConfig)
//
// Environment variables map to config keys by stripping the OPSGATE_
// prefix, lowercasing, and treating the first underscore-delimited
// token as the section:
//
//	OPSGATE_ENVIRONMENT          -> environment
//	OPSGATE_BACKEND_ENDPOINT     -> backend.endpoint
//	OPSGATE_LOG_MIN_LEVEL        -> log.min_level
//	OPSGATE_ROTATION_MAX_SEGMENTS -> rotation.max_segments
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	// Load YAML file if one was given and exists.
	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if content != nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
			}
		}
	}

	// Override with environment variables.
	if err := k.Load(env.Provider(envPrefix, ".", transformEnvKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := NewDefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// transformEnvKey maps an OPSGATE_* variable name to a config key.
// All sections are single words, so everything after the first
// underscore belongs to the field name.
func transformEnvKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	section, rest, found := strings.Cut(s, "_")
	if !found {
		return section
	}
	return section + "." + rest
}

// readConfigFile reads the config file if it exists, enforcing the
// size limit. A missing file is not an error; env-only configuration
// is supported.
func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}
