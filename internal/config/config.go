package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level GraphBot configuration document.
type Config struct {
	Version    int              `yaml:"version"`
	Assistant  AssistantConfig  `yaml:"assistant"`
	Background BackgroundConfig `yaml:"background"`
	Auth       AuthConfig       `yaml:"auth"`
	Channels   map[string]ChannelConfig `yaml:"channels"`
	Web        WebConfig        `yaml:"web"`
	Logging    LoggingConfig    `yaml:"logging"`

	// RAG is opaque passthrough: no component in this tree parses it, but
	// it rides through config loading unchanged for whatever retrieval
	// wiring a deployment layers in front of web_fetch/web_search.
	RAG map[string]any `yaml:"rag"`
}

// AssistantConfig names the deployment's single assistant and its turn
// budget. There is no stored Agent entity — one assistant per deployment.
type AssistantConfig struct {
	Model             string `yaml:"model"`
	OwnerUsername     string `yaml:"owner_username"`
	SessionTokenLimit int    `yaml:"session_token_limit"`
	IterationLimit    int    `yaml:"iteration_limit"`
}

// BackgroundConfig configures the Delegation Planner's own LLM call.
type BackgroundConfig struct {
	Delegation DelegationConfig `yaml:"delegation"`
}

type DelegationConfig struct {
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
}

// AuthConfig gates the inbound messaging surface. An empty JWTSecretKey
// disables auth entirely (pass-through).
type AuthConfig struct {
	JWTSecretKey string          `yaml:"jwt_secret_key"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// ChannelConfig activates and scopes one channel adapter.
type ChannelConfig struct {
	Enabled      bool     `yaml:"enabled"`
	BotToken     string   `yaml:"bot_token"`
	AllowedGroups []string `yaml:"allowed_groups"`
	AllowedDMs   []string `yaml:"allowed_dms"`
	RespondToDM  bool     `yaml:"respond_to_dm"`
	MonitorDM    bool     `yaml:"monitor_dm"`
}

// WebConfig configures the out-of-scope web_fetch/web_search tools'
// shared shortcut table; the tools themselves are external collaborators.
type WebConfig struct {
	FetchShortcuts map[string]string `yaml:"fetch_shortcuts"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads, env-expands, and parses the configuration file, applying
// defaults for every option spec §6 documents a default for.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Version != 0 {
		if err := ValidateVersion(cfg.Version); err != nil {
			return nil, err
		}
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Assistant.Model == "" {
		cfg.Assistant.Model = "claude-sonnet-4-5"
	}
	if cfg.Assistant.SessionTokenLimit == 0 {
		cfg.Assistant.SessionTokenLimit = 30000
	}
	if cfg.Assistant.IterationLimit == 0 {
		cfg.Assistant.IterationLimit = 8
	}
	if cfg.Background.Delegation.Model == "" {
		cfg.Background.Delegation.Model = cfg.Assistant.Model
	}
	if cfg.Auth.RateLimit.RequestsPerMinute == 0 {
		cfg.Auth.RateLimit.RequestsPerMinute = 60
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
