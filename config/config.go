// Package config loads and validates the orchestrator's TOML
// configuration file. Grounded on spec.md §6 and the teacher's
// naoina/toml-based config loading convention.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/naoina/toml"
)

// PoolConfig describes one stratum endpoint.
type PoolConfig struct {
	Name     string `toml:"name"`
	URL      string `toml:"url"`
	Wallet   string `toml:"wallet"`
	Password string `toml:"password"`
	Priority int    `toml:"priority"`
	Weight   uint32 `toml:"weight"`
	Enabled  bool   `toml:"enabled"`
}

// Scheme returns the pool URL's scheme (before "://"), lowercased.
func (p PoolConfig) Scheme() string {
	idx := strings.Index(p.URL, "://")
	if idx < 0 {
		return ""
	}
	return strings.ToLower(p.URL[:idx])
}

// Host returns the pool URL's host:port, the part after "://".
func (p PoolConfig) Host() string {
	idx := strings.Index(p.URL, "://")
	if idx < 0 {
		return p.URL
	}
	return p.URL[idx+3:]
}

var validSchemes = map[string]bool{
	"stratum+tcp":  true,
	"stratum+ssl":  true,
	"stratum+ws":   true,
	"stratum+wss":  true,
}

// Overclock applies a clock/power profile to one GPU, if the backend
// supports it; unsupported fields are ignored with a warning.
type Overclock struct {
	Index       int `toml:"index"`
	CoreClock   int `toml:"core_clock"`
	MemoryClock int `toml:"memory_clock"`
	PowerLimit  int `toml:"power_limit"`
}

// GPUConfig selects active devices and optional overclock profiles.
type GPUConfig struct {
	Enabled    []int       `toml:"enabled"`
	Overclocks []Overclock `toml:"overclocks"`
}

// MonitoringConfig tunes telemetry polling, alert thresholds, and the
// optional read-only HTTP status surface.
type MonitoringConfig struct {
	UpdateIntervalMs  int64   `toml:"update_interval"`
	TemperatureLimitC float64 `toml:"temperature_limit"`
	HTTPAddr          string  `toml:"http_addr"`
}

// UpdateInterval converts UpdateIntervalMs to a time.Duration, defaulting
// to 5s when unset.
func (m MonitoringConfig) UpdateInterval() time.Duration {
	if m.UpdateIntervalMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(m.UpdateIntervalMs) * time.Millisecond
}

// Config is the top-level orchestrator configuration.
type Config struct {
	Algorithm       string            `toml:"algorithm"`
	WorkerName      string            `toml:"worker_name"`
	Pool            PoolConfig        `toml:"pool"`
	Pools           []PoolConfig      `toml:"pools"`
	GPUs            GPUConfig         `toml:"gpus"`
	Monitoring      MonitoringConfig  `toml:"monitoring"`
	ProfitSwitching map[string]string `toml:"profit_switching"`
}

// Load reads and parses a TOML config file from path, then validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields the orchestrator treats as fatal
// misconfiguration (InvalidConfiguration, per spec.md §7).
func (c *Config) Validate() error {
	if c.Algorithm == "" {
		return fmt.Errorf("config: InvalidConfiguration: algorithm is required")
	}
	if c.Algorithm != "kawpow" {
		return fmt.Errorf("config: InvalidConfiguration: unsupported algorithm %q", c.Algorithm)
	}

	pools := c.allPools()
	if len(pools) == 0 {
		return fmt.Errorf("config: InvalidConfiguration: at least one pool is required")
	}
	for _, p := range pools {
		if !validSchemes[p.Scheme()] {
			return fmt.Errorf("config: InvalidConfiguration: pool %q has unsupported url scheme %q", p.Name, p.URL)
		}
	}
	return nil
}

// allPools returns the `pools` list when it is non-empty, ignoring the
// single `pool` shorthand; otherwise it returns the shorthand alone (named
// "default" if unnamed, and enabled), or nil when neither is set.
func (c *Config) allPools() []PoolConfig {
	if len(c.Pools) > 0 {
		return c.Pools
	}
	if c.Pool.URL != "" {
		p := c.Pool
		if p.Name == "" {
			p.Name = "default"
		}
		p.Enabled = true
		return []PoolConfig{p}
	}
	return nil
}

// Endpoints returns the configured pools normalized for stratum.PoolManager.
func (c *Config) Endpoints() []PoolConfig {
	return c.allPools()
}
