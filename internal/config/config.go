// Package config handles TOML-based configuration loading and validation.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all application configuration.
type Config struct {
	// Base is the forum the post belongs to; preview and topic endpoints
	// hang off it.
	Base    string `toml:"base"`
	PageURL string `toml:"page_url"`

	TopicPreviews           string `toml:"topic_previews"` // remote | local
	TopicRequiresStandalone bool   `toml:"topic_requires_standalone"`

	// OnlyStream registers the render hook for the topic stream only; by
	// default it applies to every rendered post. It is reported to the host
	// and not used by the rewriter itself.
	OnlyStream bool `toml:"only_stream"`

	ExpandDelay      time.Duration `toml:"expand_delay"`
	BlockConcurrency int           `toml:"block_concurrency"`
	FetchTimeout     time.Duration `toml:"fetch_timeout"`
	TopicRetries     int           `toml:"topic_retries"`

	APIKey      string `toml:"api_key"`
	APIUsername string `toml:"api_username"`

	Listen             string   `toml:"listen"`
	ExtraMediaPatterns []string `toml:"extra_media_patterns"`
	Debug              bool     `toml:"debug"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Base:                    "http://localhost:3000",
		TopicPreviews:           "remote",
		TopicRequiresStandalone: true,
		OnlyStream:              false,
		ExpandDelay:             300 * time.Millisecond,
		BlockConcurrency:        4,
		FetchTimeout:            15 * time.Second,
		TopicRetries:            2,
		Listen:                  "127.0.0.1:8089",
		Debug:                   false,
	}
}

// configDir returns the XDG-compliant config directory.
func configDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "embedwrap"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".config", "embedwrap"), nil
}

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the config file at the default path and merges it with
// defaults. If the file doesn't exist, defaults are returned.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile is Load for an explicit path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parsing config %s: unknown key %q", path, undecoded[0].String())
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks config values are within acceptable bounds.
func (c *Config) Validate() error {
	if c.Base == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	if err := absoluteURL(c.Base); err != nil {
		return fmt.Errorf("base: %w", err)
	}
	if c.PageURL != "" {
		if err := absoluteURL(c.PageURL); err != nil {
			return fmt.Errorf("page_url: %w", err)
		}
	}

	switch strings.ToLower(c.TopicPreviews) {
	case "remote", "local":
	default:
		return fmt.Errorf("unsupported topic_previews %q (valid: remote, local)", c.TopicPreviews)
	}

	if c.ExpandDelay < 0 {
		return fmt.Errorf("expand_delay cannot be negative")
	}
	if c.BlockConcurrency < 1 || c.BlockConcurrency > 64 {
		return fmt.Errorf("block_concurrency %d out of range (1-64)", c.BlockConcurrency)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch_timeout must be positive")
	}
	if c.TopicRetries < 0 || c.TopicRetries > 10 {
		return fmt.Errorf("topic_retries %d out of range (0-10)", c.TopicRetries)
	}
	if c.APIKey != "" && c.APIUsername == "" {
		return fmt.Errorf("api_username is required with api_key")
	}

	for _, p := range c.ExtraMediaPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("extra_media_patterns: %w", err)
		}
	}

	return nil
}

func absoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must be an http or https URL", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}

// BaseURL returns Base without a trailing slash.
func (c *Config) BaseURL() string {
	return strings.TrimRight(c.Base, "/")
}
