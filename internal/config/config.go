// Package config handles Tasklight configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./tasklight.yaml, ~/.config/tasklight/tasklight.yaml,
// /etc/tasklight/tasklight.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"tasklight.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "tasklight", "tasklight.yaml"))
	}

	paths = append(paths, "/etc/tasklight/tasklight.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Tasklight configuration.
type Config struct {
	Listen   ListenConfig  `yaml:"listen"`
	LLM      LLMConfig     `yaml:"llm"`
	Agent    AgentConfig   `yaml:"agent"`
	Context  ContextConfig `yaml:"context"`
	Users    []UserConfig  `yaml:"users"`
	DataDir  string        `yaml:"data_dir"`
	LogLevel string        `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// LLMConfig defines the language-model provider settings. The endpoint
// must speak the OpenAI-compatible chat-completions protocol with tool
// calling; any provider behind that shape is substitutable.
type LLMConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	// TimeoutSec bounds a single completion request (default 60).
	TimeoutSec int `yaml:"timeout_sec"`
}

// AgentConfig bounds the per-turn tool-invocation loop.
type AgentConfig struct {
	// MaxRounds is the maximum number of model round-trips per turn
	// (default 5). Reaching it terminates the turn with a best-effort
	// reply, not an error.
	MaxRounds int `yaml:"max_rounds"`
	// ToolTimeoutSec bounds a single tool execution (default 10).
	ToolTimeoutSec int `yaml:"tool_timeout_sec"`
	// RetryDelay is the backoff before the single provider retry
	// (default 2s).
	RetryDelaySec int `yaml:"retry_delay_sec"`
}

// ContextConfig bounds per-request context assembly.
type ContextConfig struct {
	// TokenBudget is the estimated token ceiling for a composed context
	// (default 8000).
	TokenBudget int `yaml:"token_budget"`
	// HistoryLimit is how many recent messages the loader fetches
	// (default 50).
	HistoryLimit int `yaml:"history_limit"`
	// KeepRecent is how many recent messages survive summarization
	// verbatim (default 10).
	KeepRecent int `yaml:"keep_recent"`
	// TaskLimit caps the ranked task list under budget pressure
	// (default 10).
	TaskLimit int `yaml:"task_limit"`
}

// UserConfig maps an API token to a user identity. This is the static
// user directory; a real deployment substitutes an identity provider
// behind the same lookup.
type UserConfig struct {
	ID    string `yaml:"id"`
	Token string `yaml:"token"`
	// Preferences are free-form display/locale flags surfaced to the
	// model (e.g. locale: en-US, date_format: iso).
	Preferences map[string]string `yaml:"preferences"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{
		Listen:  ListenConfig{Port: 8080},
		DataDir: "data",
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.LLM.TimeoutSec <= 0 {
		c.LLM.TimeoutSec = 60
	}
	if c.Agent.MaxRounds <= 0 {
		c.Agent.MaxRounds = 5
	}
	if c.Agent.ToolTimeoutSec <= 0 {
		c.Agent.ToolTimeoutSec = 10
	}
	if c.Agent.RetryDelaySec <= 0 {
		c.Agent.RetryDelaySec = 2
	}
	if c.Context.TokenBudget <= 0 {
		c.Context.TokenBudget = 8000
	}
	if c.Context.HistoryLimit <= 0 {
		c.Context.HistoryLimit = 50
	}
	if c.Context.KeepRecent <= 0 {
		c.Context.KeepRecent = 10
	}
	if c.Context.TaskLimit <= 0 {
		c.Context.TaskLimit = 10
	}
}

// LLMTimeout returns the provider request timeout as a duration.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSec) * time.Second
}

// ToolTimeout returns the per-tool execution timeout as a duration.
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.Agent.ToolTimeoutSec) * time.Second
}

// RetryDelay returns the provider retry backoff as a duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Agent.RetryDelaySec) * time.Second
}
