// Package config loads the xharvest YAML configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/xharvest/bookmarks/seed"
)

// Defaults.
const (
	DefaultEndpoint    = "http://localhost:9222"
	DefaultTabMatch    = `x\.com|twitter\.com`
	DefaultFeedURL     = "https://x.com/i/bookmarks"
	DefaultFeedMatch   = "/bookmarks"
	DefaultCallTimeout = 30 * time.Second
	DefaultStorePath   = "xharvest.db"
)

// Config is the top-level configuration.
type Config struct {
	Browser   BrowserConfig `yaml:"browser"`
	Feed      FeedConfig    `yaml:"feed"`
	RateLimit seed.Policy   `yaml:"rate_limit"`
	Store     StoreConfig   `yaml:"store"`
	Sinks     []SinkConfig  `yaml:"sinks"`
}

// BrowserConfig locates the already-running, logged-in browser.
type BrowserConfig struct {
	Endpoint    string        `yaml:"endpoint"`  // introspection base URL
	TabMatch    string        `yaml:"tab_match"` // regexp on tab URLs
	CallTimeout time.Duration `yaml:"call_timeout"`
	Stealth     *bool         `yaml:"stealth"` // default true
}

// FeedConfig is the feed to import.
type FeedConfig struct {
	URL   string `yaml:"url"`
	Match string `yaml:"match"` // substring the landing URL must contain
}

// StoreConfig is the reference dedup store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type       string        `yaml:"type"` // stdout | webhook
	URL        string        `yaml:"url"`  // for webhook
	MaxRetries int           `yaml:"max_retries"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// StealthEnabled reports whether stealth evasions are injected on attach.
func (c *Config) StealthEnabled() bool {
	return c.Browser.Stealth == nil || *c.Browser.Stealth
}

func (c *Config) applyDefaults() {
	if c.Browser.Endpoint == "" {
		c.Browser.Endpoint = DefaultEndpoint
	}
	if c.Browser.TabMatch == "" {
		c.Browser.TabMatch = DefaultTabMatch
	}
	if c.Browser.CallTimeout == 0 {
		c.Browser.CallTimeout = DefaultCallTimeout
	}
	if c.Feed.URL == "" {
		c.Feed.URL = DefaultFeedURL
	}
	if c.Feed.Match == "" {
		c.Feed.Match = DefaultFeedMatch
	}
	if c.Store.Path == "" {
		c.Store.Path = DefaultStorePath
	}

	def := seed.DefaultPolicy()
	rl := &c.RateLimit
	if rl.ScrollDelay == 0 {
		rl.ScrollDelay = def.ScrollDelay
	}
	if rl.ScrollJitter == 0 {
		rl.ScrollJitter = def.ScrollJitter
	}
	if rl.ScrollAmountPx == 0 {
		rl.ScrollAmountPx = def.ScrollAmountPx
	}
	if rl.MaxNoNewItems == 0 {
		rl.MaxNoNewItems = def.MaxNoNewItems
	}
	if rl.MaxTotalScrolls == 0 {
		rl.MaxTotalScrolls = def.MaxTotalScrolls
	}
	if rl.PageSettle == 0 {
		rl.PageSettle = def.PageSettle
	}
	if rl.BetweenItemsDelay == 0 {
		rl.BetweenItemsDelay = def.BetweenItemsDelay
	}
	if rl.BetweenItemsJitter == 0 {
		rl.BetweenItemsJitter = def.BetweenItemsJitter
	}

	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Type: "stdout"}}
	}
	for i := range c.Sinks {
		if c.Sinks[i].Type != "webhook" {
			continue
		}
		if c.Sinks[i].MaxRetries <= 0 {
			c.Sinks[i].MaxRetries = 3
		}
		if c.Sinks[i].Timeout <= 0 {
			c.Sinks[i].Timeout = 10 * time.Second
		}
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	var errs []error
	if err := c.RateLimit.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := regexp.Compile(c.Browser.TabMatch); err != nil {
		errs = append(errs, fmt.Errorf("browser.tab_match: %w", err))
	}
	if c.Browser.CallTimeout < 0 {
		errs = append(errs, errors.New("browser.call_timeout must not be negative"))
	}
	if err := checkURL(c.Browser.Endpoint); err != nil {
		errs = append(errs, fmt.Errorf("browser.endpoint: %w", err))
	}
	if err := checkURL(c.Feed.URL); err != nil {
		errs = append(errs, fmt.Errorf("feed.url: %w", err))
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if err := checkURL(s.URL); err != nil {
				errs = append(errs, fmt.Errorf("sinks[%d].url: %w", i, err))
			}
		default:
			errs = append(errs, fmt.Errorf("sinks[%d]: unknown type %q", i, s.Type))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q is not an absolute http(s) URL", raw)
	}
	if strings.ContainsAny(u.Host, " \t") {
		return fmt.Errorf("%q has an invalid host", raw)
	}
	return nil
}
