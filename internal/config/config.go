// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for gptsh.
//
// Configuration lives in TOML, with sensible defaults, environment
// variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - $GPTSH_CONFIG_PATH
//   - ~/.gptsh/config.toml
//   - Built-in defaults
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/morganforge/gptsh/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete gptsh configuration.
type Config struct {
	// API configuration
	API APIConfig `toml:"api"`

	// Chat (conversation store) configuration
	Chat ChatConfig `toml:"chat"`

	// Cache configuration
	Cache CacheConfig `toml:"cache"`

	// Safety configuration
	Safety SafetyConfig `toml:"safety"`

	// UI configuration
	UI UIConfig `toml:"ui"`
}

// APIConfig contains the completion endpoint configuration.
type APIConfig struct {
	// BaseURL is the OpenAI-compatible endpoint root
	BaseURL string `toml:"base_url"`
	// APIKey is sent as a bearer token when non-empty
	APIKey string `toml:"api_key"`
	// Model is the default completion model
	Model string `toml:"model"`
	// Temperature is the default sampling temperature
	Temperature float64 `toml:"temperature"`
	// TopP is the default nucleus sampling parameter
	TopP float64 `toml:"top_p"`
	// RequestTimeoutSecs bounds non-streaming requests
	RequestTimeoutSecs int `toml:"request_timeout_secs"`
	// RequestsPerSecond paces outgoing requests (0 = default)
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// ChatConfig contains conversation store configuration.
type ChatConfig struct {
	// MaxContextMessages bounds how many messages a conversation keeps.
	// The system message never counts toward eviction.
	MaxContextMessages int `toml:"max_context_messages"`
	// DefaultRole names the persona used when none is given
	DefaultRole string `toml:"default_role"`
}

// CacheConfig contains response cache configuration.
type CacheConfig struct {
	// Enabled toggles response caching entirely
	Enabled bool `toml:"enabled"`
	// MaxEntries bounds each cache scope's entry count
	MaxEntries int `toml:"max_entries"`
}

// SafetyConfig contains the command safety gate configuration.
type SafetyConfig struct {
	// RulesPath overrides the rule file location (empty = ~/.gptsh/safety.toml)
	RulesPath string `toml:"rules_path"`
	// DefaultAction applies when no rule matches: "allow", "warn", "block"
	DefaultAction string `toml:"default_action"`
}

// UIConfig contains terminal presentation configuration.
type UIConfig struct {
	// Markdown renders text responses through a terminal markdown renderer
	Markdown bool `toml:"markdown"`
	// Theme selects the markdown style: "auto", "dark", "light", "notty"
	Theme string `toml:"theme"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config populated with built-in defaults.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:            "http://127.0.0.1:11434",
			Model:              "gpt-4o",
			Temperature:        0.0,
			TopP:               1.0,
			RequestTimeoutSecs: 60,
			RequestsPerSecond:  2,
		},
		Chat: ChatConfig{
			MaxContextMessages: 40,
			DefaultRole:        "default",
		},
		Cache: CacheConfig{
			Enabled:    true,
			MaxEntries: 100,
		},
		Safety: SafetyConfig{
			DefaultAction: "warn",
		},
		UI: UIConfig{
			Markdown: true,
			Theme:    "auto",
		},
	}
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns the gptsh configuration directory (~/.gptsh).
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(home, ".gptsh"), nil
}

// ConfigPath returns the path of the TOML config file.
func ConfigPath() (string, error) {
	if p := os.Getenv("GPTSH_CONFIG_PATH"); p != "" {
		return p, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureConfigDir creates the configuration directory if missing.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ConversationsDir returns the conversation store directory.
func (c *Config) ConversationsDir() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "conversations"), nil
}

// CacheDir returns the on-disk mirror directory for a cache scope.
func (c *Config) CacheDir(scope string) (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "cache", scope), nil
}

// RolesDir returns the user role file directory.
func (c *Config) RolesDir() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "roles"), nil
}

// SafetyRulesPath resolves the active safety rule file.
func (c *Config) SafetyRulesPath() (string, error) {
	if c.Safety.RulesPath != "" {
		return c.Safety.RulesPath, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "safety.toml"), nil
}

// HistoryPath returns the sqlite history database path.
func (c *Config) HistoryPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

// RequestTimeout returns the request timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	if c.API.RequestTimeoutSecs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.API.RequestTimeoutSecs) * time.Second
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the configuration, merging defaults, the config file, and
// environment overrides. A missing config file is not an error.
func Load() (*Config, error) {
	cfg := Default()

	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration atomically as TOML.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	var buf strings.Builder
	buf.WriteString("# gptsh configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	// SECURITY: config may hold an API key; keep it owner-readable only.
	return util.AtomicWriteFile(path, []byte(buf.String()), 0600)
}

// ApplyEnvOverrides applies GPTSH_* environment variables on top of the
// loaded configuration.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("GPTSH_BASE_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("GPTSH_API_KEY"); v != "" {
		c.API.APIKey = v
	}
	if v := os.Getenv("GPTSH_MODEL"); v != "" {
		c.API.Model = v
	}
	if v := os.Getenv("GPTSH_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.API.Temperature = f
		}
	}
	if v := os.Getenv("GPTSH_CACHE"); v != "" {
		c.Cache.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("GPTSH_SAFETY_RULES"); v != "" {
		c.Safety.RulesPath = v
	}
	if v := os.Getenv("GPTSH_DEFAULT_ACTION"); v != "" {
		c.Safety.DefaultAction = v
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if _, err := url.Parse(c.API.BaseURL); err != nil {
		return fmt.Errorf("api.base_url is not a valid URL: %w", err)
	}
	if c.API.Temperature < 0 || c.API.Temperature > 2 {
		return fmt.Errorf("api.temperature must be in [0, 2], got %g", c.API.Temperature)
	}
	if c.API.TopP <= 0 || c.API.TopP > 1 {
		return fmt.Errorf("api.top_p must be in (0, 1], got %g", c.API.TopP)
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive, got %d", c.Cache.MaxEntries)
	}
	if c.Chat.MaxContextMessages < 2 {
		return fmt.Errorf("chat.max_context_messages must be at least 2, got %d", c.Chat.MaxContextMessages)
	}
	switch strings.ToLower(c.Safety.DefaultAction) {
	case "allow", "warn", "block":
	default:
		return fmt.Errorf("safety.default_action must be allow, warn, or block, got %q", c.Safety.DefaultAction)
	}
	switch c.UI.Theme {
	case "auto", "dark", "light", "notty":
	default:
		return fmt.Errorf("ui.theme must be auto, dark, light, or notty, got %q", c.UI.Theme)
	}
	return nil
}
