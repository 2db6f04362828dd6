package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
)

// Validate checks the config for:
//   - an absolute http(s) upstream URL
//   - positive timeouts and body limits
//   - a known state backend with a path
//   - parseable listen addresses and log level
func Validate(cfg *ProxyConfig) error {
	var errs []string

	if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
		errs = append(errs, fmt.Sprintf("listen %q: %v", cfg.Listen, err))
	}
	if cfg.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Listen); err != nil {
			errs = append(errs, fmt.Sprintf("metrics.listen %q: %v", cfg.Metrics.Listen, err))
		}
	}
	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		errs = append(errs, err.Error())
	}

	validateUpstream(cfg.Upstream, &errs)

	switch cfg.State.Backend {
	case BackendJSON, BackendSQLite:
	default:
		errs = append(errs, fmt.Sprintf("state.backend %q: must be %q or %q", cfg.State.Backend, BackendJSON, BackendSQLite))
	}
	if strings.TrimSpace(cfg.State.Path) == "" {
		errs = append(errs, "state.path is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateUpstream(u UpstreamConf, errs *[]string) {
	parsed, err := url.Parse(u.URL)
	switch {
	case err != nil:
		*errs = append(*errs, fmt.Sprintf("upstream.url %q: %v", u.URL, err))
	case parsed.Scheme != "http" && parsed.Scheme != "https":
		*errs = append(*errs, fmt.Sprintf("upstream.url %q: scheme must be http or https", u.URL))
	case parsed.Host == "":
		*errs = append(*errs, fmt.Sprintf("upstream.url %q: host is required", u.URL))
	}
	if u.TimeoutMs <= 0 {
		*errs = append(*errs, fmt.Sprintf("upstream.timeout_ms must be positive, got %d", u.TimeoutMs))
	}
	if u.MaxBodyBytes <= 0 {
		*errs = append(*errs, fmt.Sprintf("upstream.max_body_bytes must be positive, got %d", u.MaxBodyBytes))
	}
}

// ParseLevel maps a log_level string to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log_level %q: must be debug, info, warn or error", s)
	}
	return lvl, nil
}
