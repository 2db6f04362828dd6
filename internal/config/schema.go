package config

import "time"

// ProxyConfig is the top-level YAML structure.
type ProxyConfig struct {
	Listen   string       `yaml:"listen"`
	LogLevel string       `yaml:"log_level"`
	Upstream UpstreamConf `yaml:"upstream"`
	State    StateConf    `yaml:"state"`
	Recent   RecentConf   `yaml:"recent"`
	Metrics  MetricsConf  `yaml:"metrics"`
}

// UpstreamConf describes the node directory the proxy fetches from.
// These settings are hot-reloaded.
type UpstreamConf struct {
	URL          string `yaml:"url"`
	TimeoutMs    int    `yaml:"timeout_ms"`
	UserAgent    string `yaml:"user_agent"`
	CAFile       string `yaml:"ca_file"` // empty = system trust store
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

// Timeout returns TimeoutMs as a duration.
func (u UpstreamConf) Timeout() time.Duration {
	return time.Duration(u.TimeoutMs) * time.Millisecond
}

// StateConf selects where first-seen timestamps are persisted.
type StateConf struct {
	Backend string `yaml:"backend"` // "json" or "sqlite"
	Path    string `yaml:"path"`
}

// RecentConf holds the /recent defaults.
type RecentConf struct {
	DefaultDays int `yaml:"default_days"`
}

// MetricsConf controls the Prometheus listener. An empty Listen disables it.
type MetricsConf struct {
	Listen string `yaml:"listen"`
}

const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Defaults matching the MeshCore map deployment.
const (
	DefaultListen       = "127.0.0.1:8787"
	DefaultUpstreamURL  = "https://map.meshcore.dev/api/v1/nodes"
	DefaultTimeoutMs    = 25000
	DefaultUserAgent    = "meshcore-local-proxy"
	DefaultMaxBodyBytes = 64 << 20
	DefaultStatePath    = "meshcore_seen_state.json"
	DefaultRecentDays   = 7
	DefaultLogLevel     = "info"
)

// ApplyDefaults fills every zero field with its default.
// recent.default_days is left alone when negative, which disables the filter.
func ApplyDefaults(cfg *ProxyConfig) {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.Upstream.URL == "" {
		cfg.Upstream.URL = DefaultUpstreamURL
	}
	if cfg.Upstream.TimeoutMs == 0 {
		cfg.Upstream.TimeoutMs = DefaultTimeoutMs
	}
	if cfg.Upstream.UserAgent == "" {
		cfg.Upstream.UserAgent = DefaultUserAgent
	}
	if cfg.Upstream.MaxBodyBytes == 0 {
		cfg.Upstream.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.State.Backend == "" {
		cfg.State.Backend = BackendJSON
	}
	if cfg.State.Path == "" {
		cfg.State.Path = DefaultStatePath
	}
	if cfg.Recent.DefaultDays == 0 {
		cfg.Recent.DefaultDays = DefaultRecentDays
	}
}

// Default returns a configuration with every default applied.
func Default() *ProxyConfig {
	cfg := &ProxyConfig{}
	ApplyDefaults(cfg)
	return cfg
}
