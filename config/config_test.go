package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPoolConfigSchemeAndHost(t *testing.T) {
	p := PoolConfig{URL: "stratum+tcp://eu1.pool.example:4444"}
	if p.Scheme() != "stratum+tcp" {
		t.Fatalf("expected scheme stratum+tcp, got %s", p.Scheme())
	}
	if p.Host() != "eu1.pool.example:4444" {
		t.Fatalf("expected host eu1.pool.example:4444, got %s", p.Host())
	}
}

func TestValidateRejectsMissingAlgorithm(t *testing.T) {
	c := &Config{Pool: PoolConfig{URL: "stratum+tcp://x:1"}}
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error for a missing algorithm")
	}
}

func TestValidateRejectsUnsupportedAlgorithm(t *testing.T) {
	c := &Config{Algorithm: "ethash", Pool: PoolConfig{URL: "stratum+tcp://x:1"}}
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error for an unsupported algorithm")
	}
}

func TestValidateRejectsNoPools(t *testing.T) {
	c := &Config{Algorithm: "kawpow"}
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error when no pools are configured")
	}
}

func TestValidateRejectsUnsupportedURLScheme(t *testing.T) {
	c := &Config{Algorithm: "kawpow", Pool: PoolConfig{URL: "http://x:1"}}
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error for a non-stratum url scheme")
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	c := &Config{Algorithm: "kawpow", Pool: PoolConfig{URL: "stratum+tcp://x:1"}}
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAllPoolsPrefersPoolsListOverShorthand(t *testing.T) {
	c := &Config{
		Pool:  PoolConfig{Name: "shorthand", URL: "stratum+tcp://a:1"},
		Pools: []PoolConfig{{Name: "primary", URL: "stratum+tcp://b:1"}},
	}
	pools := c.allPools()
	if len(pools) != 1 || pools[0].Name != "primary" {
		t.Fatalf("expected the pools list to take priority, got %+v", pools)
	}
}

func TestAllPoolsFallsBackToShorthandWithDefaultName(t *testing.T) {
	c := &Config{Pool: PoolConfig{URL: "stratum+tcp://a:1"}}
	pools := c.allPools()
	if len(pools) != 1 {
		t.Fatalf("expected 1 pool from the shorthand, got %d", len(pools))
	}
	if pools[0].Name != "default" {
		t.Fatalf("expected default name, got %s", pools[0].Name)
	}
	if !pools[0].Enabled {
		t.Fatal("expected the shorthand pool to be enabled")
	}
}

func TestMonitoringUpdateIntervalDefaultsWhenUnset(t *testing.T) {
	var m MonitoringConfig
	if got := m.UpdateInterval(); got.Seconds() != 5 {
		t.Fatalf("expected default 5s update interval, got %v", got)
	}
}

func TestLoadParsesAndValidatesTOMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
algorithm = "kawpow"
worker_name = "rig1"

[pool]
name = "primary"
url = "stratum+tcp://eu1.pool.example:4444"
wallet = "0xabc"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error loading config: %v", err)
	}
	if cfg.Algorithm != "kawpow" {
		t.Fatalf("expected algorithm kawpow, got %s", cfg.Algorithm)
	}
	eps := cfg.Endpoints()
	if len(eps) != 1 || eps[0].URL != "stratum+tcp://eu1.pool.example:4444" {
		t.Fatalf("unexpected endpoints: %+v", eps)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.toml"); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
