package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
)

// Defaults applied for fields the config file leaves at zero. Values mirror
// the operator guidance for auto.ria.com: 5-7 workers balance throughput
// against ban risk, and rendering stays cheaper than listing work.
func defaults(cfg *Config) {
	if cfg.Store.MaxConns == 0 {
		cfg.Store.MaxConns = 10
	}
	if len(cfg.Crawler.AllowedDomains) == 0 {
		cfg.Crawler.AllowedDomains = []string{"auto.ria.com"}
	}
	if cfg.Crawler.Concurrency == 0 {
		cfg.Crawler.Concurrency = 5
	}
	if cfg.Crawler.BufferSize == 0 {
		cfg.Crawler.BufferSize = 32
	}
	if cfg.Crawler.KnownRunThreshold == 0 {
		cfg.Crawler.KnownRunThreshold = 10
	}
	if cfg.Crawler.PageDelaySeconds == 0 {
		cfg.Crawler.PageDelaySeconds = 1
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseDelayMS == 0 {
		cfg.Retry.BaseDelayMS = 1000
	}
	if cfg.Retry.MaxDelayMS == 0 {
		cfg.Retry.MaxDelayMS = 30000
	}
	if cfg.Retry.ThrottleFloorMS == 0 {
		cfg.Retry.ThrottleFloorMS = 10000
	}
	if cfg.Retry.CooldownMS == 0 {
		cfg.Retry.CooldownMS = 60000
	}
	if cfg.Browser.Engine == "" {
		cfg.Browser.Engine = EngineRod
	}
	if cfg.Browser.PoolSize == 0 {
		cfg.Browser.PoolSize = 2
	}
	if cfg.Browser.RevealSelector == "" {
		cfg.Browser.RevealSelector = "a.phone_show_link"
	}
	if cfg.Browser.AttemptTimeoutSeconds == 0 {
		cfg.Browser.AttemptTimeoutSeconds = 30
	}
	if cfg.Browser.SessionWaitSeconds == 0 {
		cfg.Browser.SessionWaitSeconds = 20
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}

// ParseConfig builds a validated Config from raw JSON.
func ParseConfig(byteConfig []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(byteConfig, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	defaults(&cfg)
	if cfg.Browser.UserDataDir != "" {
		absPath, err := filepath.Abs(cfg.Browser.UserDataDir)
		if err != nil {
			return nil, fmt.Errorf("resolve user data dir: %w", err)
		}
		cfg.Browser.UserDataDir = absPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Store.DSN == "" {
		return &Error{Field: "store.dsn", Reason: "required"}
	}
	if c.Crawler.StartURL == "" {
		return &Error{Field: "crawler.start_url", Reason: "required"}
	}
	if u, err := url.Parse(c.Crawler.StartURL); err != nil || !u.IsAbs() {
		return &Error{Field: "crawler.start_url", Reason: "must be an absolute URL"}
	}
	if c.Crawler.Concurrency < 1 {
		return &Error{Field: "crawler.concurrency", Reason: "must be at least 1"}
	}
	if c.Crawler.MaxPages < 0 {
		return &Error{Field: "crawler.max_pages", Reason: "must not be negative"}
	}
	if c.Crawler.MaxCars < 0 {
		return &Error{Field: "crawler.max_cars", Reason: "must not be negative"}
	}
	if c.Crawler.KnownRunThreshold < 1 {
		return &Error{Field: "crawler.known_run_threshold", Reason: "must be at least 1"}
	}
	if c.Retry.MaxAttempts < 1 {
		return &Error{Field: "retry.max_attempts", Reason: "must be at least 1"}
	}
	if c.Browser.PoolSize < 1 {
		return &Error{Field: "browser.pool_size", Reason: "must be at least 1"}
	}
	switch c.Browser.Engine {
	case EngineRod, EngineChromedp:
	default:
		return &Error{Field: "browser.engine", Reason: `must be "rod" or "chromedp"`}
	}
	return nil
}
