// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and persists application configuration.
//
// Configuration lives at ~/.knowflow/config.toml. Load applies defaults,
// reads the file if present, then applies environment overrides and
// validates the result. Save writes atomically.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/knowflow-tui/internal/util"
)

// Default values.
const (
	DefaultBackendURL  = "http://127.0.0.1:8000/api"
	DefaultTimeoutSecs = 30
	DefaultBatchSize   = 8
	DefaultMaxFPS      = 30

	configDirName  = ".knowflow"
	configFileName = "config.toml"
)

// =============================================================================
// CONFIG TYPES
// =============================================================================

// Config is the full application configuration.
type Config struct {
	Backend BackendConfig `toml:"backend"`
	Storage StorageConfig `toml:"storage"`
	UI      UIConfig      `toml:"ui"`
}

// BackendConfig addresses the knowflow backend.
type BackendConfig struct {
	// BaseURL is the backend API root, e.g. http://127.0.0.1:8000/api.
	BaseURL string `toml:"base_url"`

	// RequestTimeoutSecs bounds non-streaming requests. The chat stream
	// itself has no timeout.
	RequestTimeoutSecs int `toml:"request_timeout_secs"`
}

// StorageConfig locates local persistence.
type StorageConfig struct {
	// DatabasePath is the sqlite transcript database location.
	DatabasePath string `toml:"database_path"`
}

// UIConfig tunes the terminal interface.
type UIConfig struct {
	// BatchSize is how many stream deltas coalesce into one repaint.
	BatchSize int `toml:"batch_size"`

	// MaxFPS caps repaint frequency while streaming.
	MaxFPS int `toml:"max_fps"`
}

// RequestTimeout returns the backend timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Backend.RequestTimeoutSecs) * time.Second
}

// =============================================================================
// LOAD
// =============================================================================

// Dir returns the configuration directory, ~/.knowflow.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, configDirName), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	dbPath := "transcripts.db"
	if dir, err := Dir(); err == nil {
		dbPath = filepath.Join(dir, "transcripts.db")
	}
	return &Config{
		Backend: BackendConfig{
			BaseURL:            DefaultBackendURL,
			RequestTimeoutSecs: DefaultTimeoutSecs,
		},
		Storage: StorageConfig{
			DatabasePath: dbPath,
		},
		UI: UIConfig{
			BatchSize: DefaultBatchSize,
			MaxFPS:    DefaultMaxFPS,
		},
	}
}

// Load reads the config file, layering defaults, file values, and
// environment overrides. A missing file is not an error.
func Load() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return LoadFrom(filepath.Join(dir, configFileName))
}

// LoadFrom loads configuration from an explicit path.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults plus env only.
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides layers KNOWFLOW_* environment variables over cfg.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KNOWFLOW_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("KNOWFLOW_TIMEOUT_SECS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.Backend.RequestTimeoutSecs = secs
		}
	}
	if v := os.Getenv("KNOWFLOW_DB_PATH"); v != "" {
		cfg.Storage.DatabasePath = v
	}
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Backend.BaseURL, "http://") && !strings.HasPrefix(c.Backend.BaseURL, "https://") {
		return fmt.Errorf("backend base_url must be an http(s) URL, got %q", c.Backend.BaseURL)
	}
	if c.Backend.RequestTimeoutSecs <= 0 {
		return fmt.Errorf("backend request_timeout_secs must be positive, got %d", c.Backend.RequestTimeoutSecs)
	}
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage database_path must be set")
	}
	if c.UI.BatchSize <= 0 {
		return fmt.Errorf("ui batch_size must be positive, got %d", c.UI.BatchSize)
	}
	if c.UI.MaxFPS < 1 || c.UI.MaxFPS > 120 {
		return fmt.Errorf("ui max_fps must be between 1 and 120, got %d", c.UI.MaxFPS)
	}
	return nil
}

// =============================================================================
// SAVE
// =============================================================================

// Save writes the configuration to the default path atomically.
func (c *Config) Save() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	return c.SaveTo(filepath.Join(dir, configFileName))
}

// SaveTo writes the configuration to an explicit path atomically.
func (c *Config) SaveTo(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	var sb strings.Builder
	if err := toml.NewEncoder(&sb).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
