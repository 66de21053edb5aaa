// Package config provides API key management utilities.
package config

import (
	"errors"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when no usable API key is configured.
var ErrNoAPIKey = errors.New("no Anthropic API key configured")

// placeholderMarkers identify example keys copied from sample env files.
var placeholderMarkers = []string{"your-api-key", "your_api_key", "changeme"}

// IsPlaceholderKey reports whether a key is empty, an unexpanded ${VAR}
// reference, or a sample value that cannot authenticate.
func IsPlaceholderKey(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" || strings.HasPrefix(key, "${") {
		return true
	}
	lower := strings.ToLower(key)
	for _, marker := range placeholderMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// GetAPIKey returns the Anthropic API key from the configuration.
// It checks in order: environment variable, config file.
func GetAPIKey(cfg *Config) (string, error) {
	if key := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); !IsPlaceholderKey(key) {
		return key, nil
	}

	if cfg != nil && cfg.Anthropic.APIKey != "" {
		key := strings.TrimSpace(os.ExpandEnv(cfg.Anthropic.APIKey))
		if !IsPlaceholderKey(key) {
			return key, nil
		}
	}

	return "", ErrNoAPIKey
}

// ValidateAPIKey performs basic validation on an API key.
// It checks format but does not verify the key with Anthropic's API.
func ValidateAPIKey(key string) error {
	if IsPlaceholderKey(key) {
		return ErrNoAPIKey
	}

	// Anthropic API keys start with "sk-ant-"
	if !strings.HasPrefix(key, "sk-ant-") {
		return errors.New("invalid API key format: expected 'sk-ant-' prefix")
	}

	if len(key) < 20 {
		return errors.New("invalid API key format: key too short")
	}

	return nil
}

// MaskAPIKey returns a masked version of the API key for display.
// Shows the first 7 characters (sk-ant-) and last 4 characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}

	if len(key) <= 15 {
		return "***"
	}

	return key[:7] + "..." + key[len(key)-4:]
}

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv     KeySource = "environment"
	KeySourceConfig  KeySource = "config_file"
	KeySourceBedrock KeySource = "aws_bedrock"
	KeySourceNone    KeySource = "none"
)

// GetAPIKeySource returns where the LLM credential comes from.
// KeySourceNone means the mock responder will be used.
func GetAPIKeySource(cfg *Config) KeySource {
	if cfg != nil && cfg.Anthropic.UseBedrock {
		return KeySourceBedrock
	}

	if !IsPlaceholderKey(os.Getenv("ANTHROPIC_API_KEY")) {
		return KeySourceEnv
	}

	if cfg != nil && !IsPlaceholderKey(os.ExpandEnv(cfg.Anthropic.APIKey)) {
		return KeySourceConfig
	}

	return KeySourceNone
}
