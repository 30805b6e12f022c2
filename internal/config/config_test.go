// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Setenv("GPTSH_CONFIG_PATH", filepath.Join(t.TempDir(), "config.toml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := Default()
	if cfg.API.BaseURL != want.API.BaseURL {
		t.Errorf("BaseURL = %q, want %q", cfg.API.BaseURL, want.API.BaseURL)
	}
	if cfg.Cache.MaxEntries != want.Cache.MaxEntries {
		t.Errorf("MaxEntries = %d, want %d", cfg.Cache.MaxEntries, want.Cache.MaxEntries)
	}
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[api]
model = "test-model"
temperature = 0.5

[cache]
enabled = false
max_entries = 7

[safety]
default_action = "block"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	t.Setenv("GPTSH_CONFIG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.API.Model != "test-model" {
		t.Errorf("Model = %q", cfg.API.Model)
	}
	if cfg.API.Temperature != 0.5 {
		t.Errorf("Temperature = %g", cfg.API.Temperature)
	}
	if cfg.Cache.Enabled {
		t.Error("cache should be disabled")
	}
	if cfg.Cache.MaxEntries != 7 {
		t.Errorf("MaxEntries = %d", cfg.Cache.MaxEntries)
	}
	if cfg.Safety.DefaultAction != "block" {
		t.Errorf("DefaultAction = %q", cfg.Safety.DefaultAction)
	}
	// Unset sections keep their defaults.
	if cfg.Chat.MaxContextMessages != Default().Chat.MaxContextMessages {
		t.Errorf("MaxContextMessages = %d", cfg.Chat.MaxContextMessages)
	}
}

func TestEnvOverridesBeatFile(t *testing.T) {
	t.Setenv("GPTSH_CONFIG_PATH", filepath.Join(t.TempDir(), "config.toml"))
	t.Setenv("GPTSH_MODEL", "env-model")
	t.Setenv("GPTSH_TEMPERATURE", "1.5")
	t.Setenv("GPTSH_DEFAULT_ACTION", "allow")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.API.Model != "env-model" {
		t.Errorf("Model = %q", cfg.API.Model)
	}
	if cfg.API.Temperature != 1.5 {
		t.Errorf("Temperature = %g", cfg.API.Temperature)
	}
	if cfg.Safety.DefaultAction != "allow" {
		t.Errorf("DefaultAction = %q", cfg.Safety.DefaultAction)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative temperature", func(c *Config) { c.API.Temperature = -1 }},
		{"zero top_p", func(c *Config) { c.API.TopP = 0 }},
		{"zero cache entries", func(c *Config) { c.Cache.MaxEntries = 0 }},
		{"tiny context", func(c *Config) { c.Chat.MaxContextMessages = 1 }},
		{"bad default action", func(c *Config) { c.Safety.DefaultAction = "maybe" }},
		{"bad theme", func(c *Config) { c.UI.Theme = "sepia" }},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	t.Setenv("GPTSH_CONFIG_PATH", path)

	cfg := Default()
	cfg.API.Model = "saved-model"
	if err := Save(cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.API.Model != "saved-model" {
		t.Errorf("Model = %q after round trip", loaded.API.Model)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config file mode = %o, want 0600", info.Mode().Perm())
	}
}
