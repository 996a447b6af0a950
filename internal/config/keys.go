// Package config provides registry API key management utilities.
package config

import (
	"errors"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when no registry API key is configured.
var ErrNoAPIKey = errors.New("no registry API key configured")

// GetAPIKey returns the registry API key from the configuration.
// It checks in order: environment variable, config file.
func GetAPIKey(cfg *Config) (string, error) {
	if key := os.Getenv("APOLLO_KEY"); key != "" {
		return key, nil
	}

	if cfg != nil && cfg.Registry.APIKey != "" {
		key := os.ExpandEnv(cfg.Registry.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return key, nil
		}
	}

	return "", ErrNoAPIKey
}

// ValidateAPIKey performs basic validation on an API key.
// It checks format but does not verify the key with the registry.
func ValidateAPIKey(key string) error {
	if key == "" {
		return ErrNoAPIKey
	}

	// Graph and user keys are "service:<graph>:<secret>" or "user:<id>:<secret>".
	if !strings.HasPrefix(key, "service:") && !strings.HasPrefix(key, "user:") {
		return errors.New("invalid API key format: expected 'service:' or 'user:' prefix")
	}

	if strings.Count(key, ":") < 2 {
		return errors.New("invalid API key format: expected <kind>:<id>:<secret>")
	}

	return nil
}

// MaskAPIKey returns a masked version of the API key for display.
// Shows the key kind prefix and the last 4 characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}

	if len(key) <= 15 {
		return "***"
	}

	prefix := key[:strings.Index(key, ":")+1]
	return prefix + "..." + key[len(key)-4:]
}

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "none"
)

// GetAPIKeySource returns where the API key was sourced from.
func GetAPIKeySource(cfg *Config) KeySource {
	if os.Getenv("APOLLO_KEY") != "" {
		return KeySourceEnv
	}

	if cfg != nil && cfg.Registry.APIKey != "" {
		key := os.ExpandEnv(cfg.Registry.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return KeySourceConfig
		}
	}

	return KeySourceNone
}
