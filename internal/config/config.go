// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads parley configuration.
//
// Configuration is resolved in three layers, later layers winning:
//
//  1. Built-in defaults
//  2. An optional TOML file (~/.parley/config.toml by default)
//  3. PARLEY_* environment variables
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jeranaias/parley/internal/provider"
)

// =============================================================================
// CONFIG TYPES
// =============================================================================

// Config is the full parley configuration.
type Config struct {
	// Provider selects the active backend: rule-based, remote-api, or
	// local-model.
	Provider string `toml:"provider"`

	History HistoryConfig `toml:"history"`
	Remote  RemoteConfig  `toml:"remote"`
	Local   LocalConfig   `toml:"local"`

	// ArchivePath is the SQLite conversation archive. Empty disables
	// archiving.
	ArchivePath string `toml:"archive_path"`
}

// HistoryConfig bounds the in-memory conversation history.
type HistoryConfig struct {
	MaxTurns int `toml:"max_turns"`
	MaxBytes int `toml:"max_bytes"`
}

// RemoteConfig configures the hosted API provider.
type RemoteConfig struct {
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	APIKey         string `toml:"api_key"`
	RateCapacity   int    `toml:"rate_capacity"`
	RateWindowSecs int    `toml:"rate_window_secs"`
	MaxRetries     int    `toml:"max_retries"`
	TimeoutSecs    int    `toml:"timeout_secs"`
}

// LocalConfig configures the local inference provider.
type LocalConfig struct {
	BaseURL string `toml:"base_url"`
	Model   string `toml:"model"`
}

// =============================================================================
// DEFAULTS AND LOADING
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Provider: "rule-based",
		History: HistoryConfig{
			MaxTurns: 50,
			MaxBytes: 256 * 1024,
		},
		Remote: RemoteConfig{
			BaseURL:        provider.DefaultRemoteURL,
			Model:          provider.DefaultRemoteModel,
			RateCapacity:   provider.DefaultRateCapacity,
			RateWindowSecs: 60,
			MaxRetries:     provider.DefaultMaxRetries,
			TimeoutSecs:    60,
		},
		Local: LocalConfig{
			BaseURL: provider.DefaultLocalURL,
			Model:   provider.DefaultLocalModel,
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate home directory: %w", err)
	}
	return filepath.Join(home, ".parley", "config.toml"), nil
}

// Load reads the configuration at path, layering it over the defaults
// and applying environment overrides. A missing file is not an error:
// defaults plus environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("failed to decode config file: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies PARLEY_* environment variables over the
// loaded values. The API key in particular is usually supplied this way
// rather than written to disk.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PARLEY_PROVIDER"); v != "" {
		c.Provider = v
	}
	if v := os.Getenv("PARLEY_API_KEY"); v != "" {
		c.Remote.APIKey = v
	}
	if v := os.Getenv("PARLEY_REMOTE_URL"); v != "" {
		c.Remote.BaseURL = v
	}
	if v := os.Getenv("PARLEY_REMOTE_MODEL"); v != "" {
		c.Remote.Model = v
	}
	if v := os.Getenv("PARLEY_LOCAL_URL"); v != "" {
		c.Local.BaseURL = v
	}
	if v := os.Getenv("PARLEY_LOCAL_MODEL"); v != "" {
		c.Local.Model = v
	}
	if v := os.Getenv("PARLEY_MAX_HISTORY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.History.MaxTurns = n
		}
	}
	if v := os.Getenv("PARLEY_ARCHIVE"); v != "" {
		c.ArchivePath = v
	}
}

// Validate rejects configurations that can never work.
func (c *Config) Validate() error {
	switch c.Provider {
	case "rule-based", "remote-api", "local-model":
	default:
		return &provider.ConfigurationError{
			Reason: fmt.Sprintf("unknown provider %q (want rule-based, remote-api, or local-model)", c.Provider),
		}
	}
	if c.History.MaxTurns < 0 || c.History.MaxBytes < 0 {
		return &provider.ConfigurationError{Reason: "history limits must not be negative"}
	}
	if c.Remote.RateCapacity < 0 || c.Remote.RateWindowSecs < 0 {
		return &provider.ConfigurationError{Reason: "rate limit settings must not be negative"}
	}
	if c.Remote.MaxRetries < 0 {
		return &provider.ConfigurationError{Reason: "max_retries must not be negative"}
	}
	return nil
}

// =============================================================================
// CONVERSIONS
// =============================================================================

// RegistryConfig converts the loaded configuration into provider
// registry settings.
func (c *Config) RegistryConfig() provider.RegistryConfig {
	remote := provider.DefaultRemoteConfig()
	remote.BaseURL = c.Remote.BaseURL
	remote.APIKey = c.Remote.APIKey
	remote.Model = c.Remote.Model
	remote.MaxRetries = c.Remote.MaxRetries
	remote.AttemptTimeout = time.Duration(c.Remote.TimeoutSecs) * time.Second

	local := provider.DefaultLocalConfig()
	local.BaseURL = c.Local.BaseURL
	local.Model = c.Local.Model

	return provider.RegistryConfig{
		Remote:       remote,
		Local:        local,
		RateCapacity: c.Remote.RateCapacity,
		RateWindow:   time.Duration(c.Remote.RateWindowSecs) * time.Second,
	}
}
