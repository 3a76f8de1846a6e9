// Package config holds the immutable application configuration. It is
// parsed once at startup and passed into each component at creation; no
// package-level state.
package config

import (
	"fmt"
	"time"
)

type Config struct {
	Store struct {
		DSN      string `json:"dsn"`
		MaxConns int    `json:"max_conns"`
	} `json:"store"`

	Crawler struct {
		StartURL            string   `json:"start_url"`
		AllowedDomains      []string `json:"allowed_domains"`
		Concurrency         int      `json:"concurrency"`
		MaxPages            int      `json:"max_pages"` // 0 = unlimited
		MaxCars             int      `json:"max_cars"`  // 0 = unlimited
		BufferSize          int      `json:"buffer_size"`
		KnownRunThreshold   int      `json:"known_run_threshold"`
		PageDelaySeconds    int      `json:"page_delay_seconds"`
		RandomDelaySeconds  int      `json:"random_delay_seconds"`
		RefreshMissingPhone bool     `json:"refresh_missing_phone"`
	} `json:"crawler"`

	Retry struct {
		MaxAttempts     int `json:"max_attempts"`
		BaseDelayMS     int `json:"base_delay_ms"`
		MaxDelayMS      int `json:"max_delay_ms"`
		ThrottleFloorMS int `json:"throttle_floor_ms"`
		CooldownMS      int `json:"cooldown_ms"`
	} `json:"retry"`

	Browser struct {
		Engine                string `json:"engine"` // "rod" or "chromedp"
		PoolSize              int    `json:"pool_size"`
		Headless              bool   `json:"headless"`
		NoSandbox             bool   `json:"no_sandbox"`
		DisableDevShmUsage    bool   `json:"disable_dev_shm_usage"`
		UserDataDir           string `json:"user_data_dir"`
		Bin                   string `json:"bin"`
		RevealSelector        string `json:"reveal_selector"`
		AttemptTimeoutSeconds int    `json:"attempt_timeout_seconds"`
		SessionWaitSeconds    int    `json:"session_wait_seconds"`
	} `json:"browser"`

	Log struct {
		Level  string `json:"level"`
		Format string `json:"format"` // "console" or "json"
	} `json:"log"`
}

// Engines the browser section accepts.
const (
	EngineRod      = "rod"
	EngineChromedp = "chromedp"
)

func (c *Config) BaseDelay() time.Duration {
	return time.Duration(c.Retry.BaseDelayMS) * time.Millisecond
}

func (c *Config) MaxDelay() time.Duration {
	return time.Duration(c.Retry.MaxDelayMS) * time.Millisecond
}

func (c *Config) ThrottleFloor() time.Duration {
	return time.Duration(c.Retry.ThrottleFloorMS) * time.Millisecond
}

func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Retry.CooldownMS) * time.Millisecond
}

func (c *Config) AttemptTimeout() time.Duration {
	return time.Duration(c.Browser.AttemptTimeoutSeconds) * time.Second
}

func (c *Config) SessionWait() time.Duration {
	return time.Duration(c.Browser.SessionWaitSeconds) * time.Second
}

// Error is a fatal configuration problem; a run aborts before any work
// starts when Validate returns one.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string { return fmt.Sprintf("config %s: %s", e.Field, e.Reason) }
