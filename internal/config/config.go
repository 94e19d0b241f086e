// Package config loads and validates the dripfeed TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Environment variables that override secrets in the config file, so
// credentials can stay out of the TOML on disk.
const (
	EnvXAccessToken    = "DRIPFEED_X_ACCESS_TOKEN"
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
)

// Config holds all application configuration
type Config struct {
	Version    int              `toml:"version"`
	Bot        BotConfig        `toml:"bot"`
	X          XConfig          `toml:"x"`
	Generation GenerationConfig `toml:"generation"`
	Server     ServerConfig     `toml:"server"`
	Storage    StorageConfig    `toml:"storage"`
}

// BotConfig drives the publish cycle.
type BotConfig struct {
	BotID                  string `toml:"bot_id"`
	PostIntervalMinutes    int    `toml:"post_interval_minutes"`
	MaxRetries             int    `toml:"max_retries"`
	RetryDelayMs           int    `toml:"retry_delay_ms"`
	ReplenishmentThreshold int    `toml:"replenishment_threshold"`
	PerTopicCount          int    `toml:"per_topic_count"`
	RetentionDays          int    `toml:"retention_days"`
}

// XConfig holds X API credentials.
type XConfig struct {
	AccessToken string `toml:"access_token"`
}

// GenerationConfig controls the optional LLM replenishment path.
type GenerationConfig struct {
	Enabled    bool   `toml:"enabled"`
	APIKey     string `toml:"api_key"`
	Model      string `toml:"model"`
	BatchCount int    `toml:"batch_count"`
}

// ServerConfig configures the admin HTTP surface.
type ServerConfig struct {
	Bind string `toml:"bind"`
	Port int    `toml:"port"`
}

// StorageConfig locates the SQLite database.
type StorageConfig struct {
	DBPath string `toml:"db_path"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Version: 1,
		Bot: BotConfig{
			BotID:                  "dripfeed",
			PostIntervalMinutes:    60,
			MaxRetries:             3,
			RetryDelayMs:           5000,
			ReplenishmentThreshold: 50,
			PerTopicCount:          20,
			RetentionDays:          90,
		},
		Generation: GenerationConfig{
			Enabled:    false,
			Model:      "claude-sonnet-4-20250514",
			BatchCount: 30,
		},
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 8321,
		},
	}
}

// ConfigDir returns the platform-appropriate config directory
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "dripfeed"), nil
}

// ConfigPath returns the full path to the config file
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DefaultDBPath returns the default SQLite database location.
func DefaultDBPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "dripfeed.db"), nil
}

// Load reads config from path, falling back to the default location when
// path is empty, then applies environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		path, err = ConfigPath()
		if err != nil {
			return nil, err
		}
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	return cfg, nil
}

// Save writes config to disk
func (c *Config) Save() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	path, err := ConfigPath()
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(c)
}

// applyEnv lets environment variables override file-based secrets.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvXAccessToken); v != "" {
		c.X.AccessToken = v
	}
	if v := os.Getenv(EnvAnthropicAPIKey); v != "" {
		c.Generation.APIKey = v
	}
}

// Validate checks for configuration the process cannot start without.
// Errors here are fatal: the daemon must not proceed to scheduling.
func (c *Config) Validate() error {
	if c.Bot.BotID == "" {
		return fmt.Errorf("bot.bot_id is required")
	}
	if c.Bot.PostIntervalMinutes <= 0 {
		return fmt.Errorf("bot.post_interval_minutes must be positive, got %d", c.Bot.PostIntervalMinutes)
	}
	if c.Bot.MaxRetries < 1 {
		return fmt.Errorf("bot.max_retries must be at least 1, got %d", c.Bot.MaxRetries)
	}
	if c.Bot.RetryDelayMs < 0 {
		return fmt.Errorf("bot.retry_delay_ms must not be negative, got %d", c.Bot.RetryDelayMs)
	}
	if c.Bot.ReplenishmentThreshold < 0 {
		return fmt.Errorf("bot.replenishment_threshold must not be negative, got %d", c.Bot.ReplenishmentThreshold)
	}
	if c.Bot.PerTopicCount <= 0 {
		return fmt.Errorf("bot.per_topic_count must be positive, got %d", c.Bot.PerTopicCount)
	}
	if c.X.AccessToken == "" {
		return fmt.Errorf("x.access_token is required (or set %s)", EnvXAccessToken)
	}
	if c.Generation.Enabled {
		if c.Generation.APIKey == "" {
			return fmt.Errorf("generation.api_key is required when generation is enabled (or set %s)", EnvAnthropicAPIKey)
		}
		if c.Generation.Model == "" {
			return fmt.Errorf("generation.model is required when generation is enabled")
		}
		if c.Generation.BatchCount <= 0 {
			return fmt.Errorf("generation.batch_count must be positive, got %d", c.Generation.BatchCount)
		}
	}
	return nil
}
