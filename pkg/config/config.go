package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	envConfigPath = "RELAYBOT_CONFIG"

	MemoryBackendFile   = "file"
	MemoryBackendSQLite = "sqlite"

	DefaultAlias = "/bot"
)

// Config is the root runtime configuration.
type Config struct {
	Bot         BotConfig         `json:"bot" yaml:"bot"`
	Correlation CorrelationConfig `json:"correlation" yaml:"correlation"`
	Memory      MemoryConfig      `json:"memory" yaml:"memory"`
	Channels    ChannelsConfig    `json:"channels" yaml:"channels"`
	Providers   ProvidersConfig   `json:"providers" yaml:"providers"`
	Gateway     GatewayConfig     `json:"gateway" yaml:"gateway"`
	Logging     LoggingConfig     `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty" yaml:"format,omitempty"`
	Level     string `json:"level,omitempty" yaml:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty" yaml:"add_source,omitempty"`
}

// BotConfig holds command gating and alias settings. Conversations may
// override the gating options per conversation id.
type BotConfig struct {
	Aliases           []string                      `json:"aliases" yaml:"aliases"`
	Admins            []string                      `json:"admins" yaml:"admins"`
	Ignore            []string                      `json:"ignore,omitempty" yaml:"ignore,omitempty"`
	CommandsEnabled   *bool                         `json:"commands_enabled,omitempty" yaml:"commands_enabled,omitempty"`
	AutoAliasOneToOne *bool                         `json:"auto_alias_one_to_one,omitempty" yaml:"auto_alias_one_to_one,omitempty"`
	CommandsAdmin     []string                      `json:"commands_admin,omitempty" yaml:"commands_admin,omitempty"`
	Conversations     map[string]ConversationConfig `json:"conversations,omitempty" yaml:"conversations,omitempty"`
}

// ConversationConfig overrides BotConfig options for one conversation.
type ConversationConfig struct {
	Admins          []string `json:"admins,omitempty" yaml:"admins,omitempty"`
	Ignore          []string `json:"ignore,omitempty" yaml:"ignore,omitempty"`
	CommandsEnabled *bool    `json:"commands_enabled,omitempty" yaml:"commands_enabled,omitempty"`
	CommandsAdmin   []string `json:"commands_admin,omitempty" yaml:"commands_admin,omitempty"`
}

// CorrelationConfig tunes upload resolution polling and optional eviction.
// A zero TTL keeps entries for the life of the process.
type CorrelationConfig struct {
	UploadPollIntervalMS int `json:"upload_poll_interval_ms" yaml:"upload_poll_interval_ms"`
	UploadPollAttempts   int `json:"upload_poll_attempts" yaml:"upload_poll_attempts"`
	UploadTTLSeconds     int `json:"upload_ttl_seconds,omitempty" yaml:"upload_ttl_seconds,omitempty"`
	ExecutableTTLSeconds int `json:"executable_ttl_seconds,omitempty" yaml:"executable_ttl_seconds,omitempty"`
}

// MemoryConfig selects the memory store backend.
type MemoryConfig struct {
	Backend string `json:"backend" yaml:"backend"`
	Path    string `json:"path" yaml:"path"`
}

// ProvidersConfig stores per-provider connection settings.
type ProvidersConfig struct {
	OpenAI OpenAIProviderConfig `json:"openai" yaml:"openai"`
}

// OpenAIProviderConfig configures the OpenAI client behind the ask command.
type OpenAIProviderConfig struct {
	Enabled               bool   `json:"enabled" yaml:"enabled"`
	APIKeyEnv             string `json:"api_key_env" yaml:"api_key_env"`
	BaseURL               string `json:"base_url" yaml:"base_url"`
	Organization          string `json:"organization" yaml:"organization"`
	Project               string `json:"project" yaml:"project"`
	Model                 string `json:"model" yaml:"model"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	Console  ConsoleConfig  `json:"console" yaml:"console"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	Token     string   `json:"token" yaml:"token"`
	AllowFrom []string `json:"allow_from" yaml:"allow_from"`
}

// ConsoleConfig configures the local terminal channel.
type ConsoleConfig struct {
	UserName string `json:"user_name" yaml:"user_name"`
}

// GatewayConfig configures HTTP gateway bind settings.
type GatewayConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// envOverrides lists settings that the environment may replace.
type envOverrides struct {
	TelegramToken     string   `env:"TELEGRAM_BOT_TOKEN"`
	TelegramAllowFrom []string `env:"TELEGRAM_ALLOW_FROM" envSeparator:","`
	MemoryPath        string   `env:"RELAYBOT_MEMORY_PATH"`
	Admins            []string `env:"RELAYBOT_ADMINS" envSeparator:","`
}

// Default returns a config usable without a file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig resolves the config file, parses it and applies environment
// overrides.
func LoadConfig() (*Config, error) {
	path, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	return Load(path)
}

// Load reads path as YAML or JSON by extension.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("parse json config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension: %s", ext)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	switch c.Memory.Backend {
	case MemoryBackendFile, MemoryBackendSQLite:
	default:
		return fmt.Errorf("unsupported memory backend %q", c.Memory.Backend)
	}
	if c.Channels.Telegram.Enabled && strings.TrimSpace(c.Channels.Telegram.Token) == "" {
		return errors.New("telegram channel enabled without token")
	}
	for _, alias := range c.Bot.Aliases {
		if strings.ContainsAny(alias, " \t\n") {
			return fmt.Errorf("bot alias %q contains whitespace", alias)
		}
	}

	return nil
}

func applyEnvOverrides(cfg *Config) error {
	var vars envOverrides
	if err := env.Parse(&vars); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if token := strings.TrimSpace(vars.TelegramToken); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if allow := compact(vars.TelegramAllowFrom); len(allow) > 0 {
		cfg.Channels.Telegram.AllowFrom = allow
	}
	if path := strings.TrimSpace(vars.MemoryPath); path != "" {
		cfg.Memory.Path = path
	}
	if admins := compact(vars.Admins); len(admins) > 0 {
		cfg.Bot.Admins = admins
	}

	return nil
}

func (c *Config) applyDefaults() {
	c.Bot.Aliases = compact(c.Bot.Aliases)
	if len(c.Bot.Aliases) == 0 {
		c.Bot.Aliases = []string{DefaultAlias}
	}
	for i, alias := range c.Bot.Aliases {
		c.Bot.Aliases[i] = strings.ToLower(alias)
	}
	if c.Bot.CommandsEnabled == nil {
		c.Bot.CommandsEnabled = boolPtr(true)
	}
	if c.Bot.AutoAliasOneToOne == nil {
		c.Bot.AutoAliasOneToOne = boolPtr(true)
	}

	if c.Correlation.UploadPollIntervalMS <= 0 {
		c.Correlation.UploadPollIntervalMS = 1000
	}
	if c.Correlation.UploadPollAttempts <= 0 {
		c.Correlation.UploadPollAttempts = 60
	}

	c.Memory.Backend = strings.ToLower(strings.TrimSpace(c.Memory.Backend))
	if c.Memory.Backend == "" {
		c.Memory.Backend = MemoryBackendFile
	}

	if c.Gateway.Host == "" {
		c.Gateway.Host = "127.0.0.1"
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = 18790
	}

	if c.Channels.Console.UserName == "" {
		c.Channels.Console.UserName = "you"
	}
}

// compact trims values and drops empty ones.
func compact(values []string) []string {
	clean := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

func boolPtr(v bool) *bool { return &v }

// findConfigPath resolves the active config file location.
//
// Precedence is RELAYBOT_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	var candidates []string
	for _, dir := range []string{cwd, filepath.Join(cwd, "config")} {
		for _, name := range []string{"config.yaml", "config.yml", "config.json"} {
			candidates = append(candidates, filepath.Join(dir, name))
		}
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config file not found (checked %s)", strings.Join(candidates, ", "))
}
