package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Keys returns every dot-notation configuration key in sorted order.
func Keys() []string {
	keys := make([]string, 0, 20)
	for k := range settings(Default()) {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the display value for a dot-notation key.
// The API key is always masked.
func (c *Config) Get(key string) (string, error) {
	key = strings.ToLower(key)
	if key == "anthropic.api_key" {
		return MaskAPIKey(c.Anthropic.APIKey), nil
	}

	value, ok := settings(c)[key]
	if !ok {
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
	return fmt.Sprint(value), nil
}

// Set parses value and assigns it to a dot-notation key.
func (c *Config) Set(key, value string) error {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		c.Anthropic.APIKey = value
	case "anthropic.model":
		c.Anthropic.Model = value
	case "anthropic.max_tokens":
		return setInt(&c.Anthropic.MaxTokens, key, value)
	case "anthropic.use_bedrock":
		return setBool(&c.Anthropic.UseBedrock, key, value)
	case "anthropic.aws_region":
		c.Anthropic.AWSRegion = value
	case "anthropic.aws_profile":
		c.Anthropic.AWSProfile = value
	case "anthropic.agent_models.queen":
		c.Anthropic.AgentModels.Queen = value
	case "anthropic.agent_models.research":
		c.Anthropic.AgentModels.Research = value
	case "anthropic.agent_models.implementation":
		c.Anthropic.AgentModels.Implementation = value
	case "llm.timeout":
		return setDuration(&c.LLM.Timeout, key, value)
	case "llm.requests_per_minute":
		return setInt(&c.LLM.RequestsPerMinute, key, value)
	case "llm.mock_delay_unit":
		return setDuration(&c.LLM.MockDelayUnit, key, value)
	case "server.addr":
		c.Server.Addr = value
	case "server.shutdown_timeout":
		return setDuration(&c.Server.ShutdownTimeout, key, value)
	case "storage.driver":
		driver := strings.ToLower(value)
		if driver != "sqlite" && driver != "sqlite3" {
			return fmt.Errorf("invalid value for storage.driver: %q (want sqlite or sqlite3)", value)
		}
		c.Storage.Driver = driver
	case "storage.path":
		c.Storage.Path = value
	case "storage.retention":
		return setDuration(&c.Storage.Retention, key, value)
	case "log.level":
		c.Log.Level = value
	case "log.format":
		c.Log.Format = value
	case "log.file":
		c.Log.File = value
	case "prompts.file":
		c.Prompts.File = value
	case "broadcast.buffer":
		return setInt(&c.Broadcast.Buffer, key, value)
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}

func setInt(dst *int, key, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key, value string) error {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid boolean for %s: %w", key, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	*dst = d
	return nil
}
