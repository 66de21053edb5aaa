// Package config handles configuration loading and management for queenflow.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for queenflow.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Log       LogConfig       `mapstructure:"log"`
	Prompts   PromptsConfig   `mapstructure:"prompts"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	MaxTokens  int    `mapstructure:"max_tokens"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`

	// AgentModels overrides Model for individual agents.
	AgentModels AgentModelsConfig `mapstructure:"agent_models"`
}

// AgentModelsConfig names a model per agent. Empty fields use anthropic.model.
// The single-agent path answers as the queen.
type AgentModelsConfig struct {
	Queen          string `mapstructure:"queen"`
	Research       string `mapstructure:"research"`
	Implementation string `mapstructure:"implementation"`
}

// LLMConfig holds settings for calls made through the LLM adapter.
type LLMConfig struct {
	// Timeout bounds a single completion call.
	Timeout time.Duration `mapstructure:"timeout"`
	// RequestsPerMinute caps upstream calls. Zero disables the limiter.
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	// MockDelayUnit is the simulated latency unit of the mock responder.
	MockDelayUnit time.Duration `mapstructure:"mock_delay_unit"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig holds SQLite settings.
type StorageConfig struct {
	// Driver is "sqlite" (modernc, pure Go) or "sqlite3" (mattn, cgo).
	Driver string `mapstructure:"driver"`
	// Path is the database file. Empty means the XDG data path.
	Path string `mapstructure:"path"`
	// Retention purges sessions older than this at server start. Zero keeps everything.
	Retention time.Duration `mapstructure:"retention"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// PromptsConfig points at an optional YAML file overriding stage prompts.
type PromptsConfig struct {
	File string `mapstructure:"file"`
}

// BroadcastConfig holds settings for the live-update hub.
type BroadcastConfig struct {
	// Buffer is the per-connection outbound queue length.
	Buffer int `mapstructure:"buffer"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, PORT, QUEENFLOW_*)
// 2. Project config (.queenflow.yaml in current directory or parent)
// 3. User config (~/.config/queenflow/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	bindEnv(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	finish(cfg)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	finish(cfg)

	return cfg, nil
}

// bindEnv maps environment variables onto config keys.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("QUEENFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" && os.Getenv("QUEENFLOW_SERVER_ADDR") == "" {
		v.Set("server.addr", ":"+port)
	}
}

// finish expands ${VAR} references and normalizes values after unmarshaling.
func finish(cfg *Config) {
	cfg.Anthropic.APIKey = strings.TrimSpace(expandEnv(cfg.Anthropic.APIKey))
	cfg.Storage.Path = expandEnv(cfg.Storage.Path)
	cfg.Prompts.File = expandEnv(cfg.Prompts.File)
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	for key, value := range settings(cfg) {
		v.Set(key, value)
	}

	return v.WriteConfig()
}

// settings flattens a Config into dot-notation keys.
func settings(cfg *Config) map[string]any {
	return map[string]any{
		"anthropic.api_key":                     cfg.Anthropic.APIKey,
		"anthropic.model":                       cfg.Anthropic.Model,
		"anthropic.max_tokens":                  cfg.Anthropic.MaxTokens,
		"anthropic.use_bedrock":                 cfg.Anthropic.UseBedrock,
		"anthropic.aws_region":                  cfg.Anthropic.AWSRegion,
		"anthropic.aws_profile":                 cfg.Anthropic.AWSProfile,
		"anthropic.agent_models.queen":          cfg.Anthropic.AgentModels.Queen,
		"anthropic.agent_models.research":       cfg.Anthropic.AgentModels.Research,
		"anthropic.agent_models.implementation": cfg.Anthropic.AgentModels.Implementation,
		"llm.timeout":                           cfg.LLM.Timeout.String(),
		"llm.requests_per_minute":               cfg.LLM.RequestsPerMinute,
		"llm.mock_delay_unit":                   cfg.LLM.MockDelayUnit.String(),
		"server.addr":                           cfg.Server.Addr,
		"server.shutdown_timeout":               cfg.Server.ShutdownTimeout.String(),
		"storage.driver":                        cfg.Storage.Driver,
		"storage.path":                          cfg.Storage.Path,
		"storage.retention":                     cfg.Storage.Retention.String(),
		"log.level":                             cfg.Log.Level,
		"log.format":                            cfg.Log.Format,
		"log.file":                              cfg.Log.File,
		"prompts.file":                          cfg.Prompts.File,
		"broadcast.buffer":                      cfg.Broadcast.Buffer,
	}
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", d.Anthropic.Model)
	v.SetDefault("anthropic.max_tokens", d.Anthropic.MaxTokens)
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")
	v.SetDefault("anthropic.agent_models.queen", "")
	v.SetDefault("anthropic.agent_models.research", "")
	v.SetDefault("anthropic.agent_models.implementation", "")

	v.SetDefault("llm.timeout", d.LLM.Timeout.String())
	v.SetDefault("llm.requests_per_minute", d.LLM.RequestsPerMinute)
	v.SetDefault("llm.mock_delay_unit", d.LLM.MockDelayUnit.String())

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout.String())

	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.path", "")
	v.SetDefault("storage.retention", "0s")

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", "")

	v.SetDefault("prompts.file", "")
	v.SetDefault("broadcast.buffer", d.Broadcast.Buffer)
}

// getUserConfigDir returns the XDG config directory for queenflow.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "queenflow")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "queenflow")
	}
	return filepath.Join(home, ".config", "queenflow")
}

// findProjectConfig searches for .queenflow.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".queenflow.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			Model:     "claude-3-5-sonnet-20241022",
			MaxTokens: 4000,
		},
		LLM: LLMConfig{
			Timeout:       2 * time.Minute,
			MockDelayUnit: time.Second,
		},
		Server: ServerConfig{
			Addr:            ":3001",
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Broadcast: BroadcastConfig{
			Buffer: 64,
		},
	}
}
