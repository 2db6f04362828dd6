package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/meshproxy/internal/api"
	"github.com/gyaneshwarpardhi/meshproxy/internal/config"
	"github.com/gyaneshwarpardhi/meshproxy/internal/enrich"
	"github.com/gyaneshwarpardhi/meshproxy/internal/seen"
	"github.com/gyaneshwarpardhi/meshproxy/internal/upstream"
)

// flags holds command-line values. Only flags the user set override the file.
type flags struct {
	configPath    string
	listen        string
	upstreamURL   string
	stateFile     string
	stateBackend  string
	metricsListen string
	logLevel      string
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:           "meshproxy",
		Short:         "Local proxy for the MeshCore node map",
		Long:          "meshproxy fetches the MeshCore node directory, normalizes its fields and records when each node was first seen.",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd, f, cmd.OutOrStdout())
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "path to a YAML config file (optional)")
	fl.StringVar(&f.listen, "listen", config.DefaultListen, "HTTP listen address")
	fl.StringVar(&f.upstreamURL, "upstream", config.DefaultUpstreamURL, "upstream node directory URL")
	fl.StringVar(&f.stateFile, "state-file", config.DefaultStatePath, "first-seen state location")
	fl.StringVar(&f.stateBackend, "state-backend", config.BackendJSON, "first-seen state backend (json or sqlite)")
	fl.StringVar(&f.metricsListen, "metrics-listen", "", "Prometheus metrics listen address (empty disables)")
	fl.StringVar(&f.logLevel, "log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	if err := cmd.MarkFlagFilename("config", "yaml", "yml"); err != nil {
		// This should never happen.
		panic(fmt.Sprintf("failed to mark config flag as filename: %v", err))
	}
	return cmd
}

// overrides turns explicitly set flags into config overrides.
func overrides(cmd *cobra.Command, f flags) []config.Override {
	var out []config.Override
	set := func(name string, o config.Override) {
		if cmd.Flags().Changed(name) {
			out = append(out, o)
		}
	}
	set("listen", func(c *config.ProxyConfig) { c.Listen = f.listen })
	set("upstream", func(c *config.ProxyConfig) { c.Upstream.URL = f.upstreamURL })
	set("state-file", func(c *config.ProxyConfig) { c.State.Path = f.stateFile })
	set("state-backend", func(c *config.ProxyConfig) { c.State.Backend = f.stateBackend })
	set("metrics-listen", func(c *config.ProxyConfig) { c.Metrics.Listen = f.metricsListen })
	set("log-level", func(c *config.ProxyConfig) { c.LogLevel = f.logLevel })
	return out
}

func run(ctx context.Context, cmd *cobra.Command, f flags, out io.Writer) error {
	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(f.configPath, overrides(cmd, f)...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := loader.Config()
	if err := config.Validate(cfg); err != nil {
		return err
	}

	var level slog.LevelVar
	lvl, _ := config.ParseLevel(cfg.LogLevel)
	level.Set(lvl)
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	// ── Seen-store ────────────────────────────────────────────────────────────
	backend, closeBackend, err := openBackend(cfg.State, logger)
	if err != nil {
		return err
	}
	defer closeBackend()
	store, err := seen.Open(backend, logger)
	if err != nil {
		return err
	}

	// ── Upstream + pipeline ───────────────────────────────────────────────────
	client, err := upstream.New(cfg.Upstream)
	if err != nil {
		return fmt.Errorf("upstream client: %w", err)
	}
	pipeline := enrich.New(store, enrich.WithLogger(logger))
	handler := api.New(client, pipeline, cfg.Recent.DefaultDays, logger)

	// ── Hot-reload watcher ────────────────────────────────────────────────────
	loader.OnChange(func(newCfg *config.ProxyConfig) {
		if err := config.Validate(newCfg); err != nil {
			logger.Warn("hot-reload skipped: config invalid", "err", err)
			return
		}
		if err := client.Reconfigure(newCfg.Upstream); err != nil {
			logger.Warn("hot-reload skipped: upstream client", "err", err)
			return
		}
		handler.SetDefaultRecentDays(newCfg.Recent.DefaultDays)
		if l, err := config.ParseLevel(newCfg.LogLevel); err == nil {
			level.Set(l)
		}
		if newCfg.Listen != cfg.Listen || newCfg.State != cfg.State || newCfg.Metrics != cfg.Metrics {
			logger.Warn("listen, state and metrics settings change only on restart")
		}
		logger.Info("config hot-reloaded", "upstream", newCfg.Upstream.URL, "recent_days", newCfg.Recent.DefaultDays)
	})
	if f.configPath != "" {
		stopWatch, err := loader.Watch()
		if err != nil {
			logger.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
		} else {
			defer stopWatch()
		}
	}

	// ── HTTP servers ──────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.Upstream.Timeout() + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	servers := []*http.Server{srv}
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		servers = append(servers, &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	banner(logger, cfg, backend, client, store)

	serverErr := make(chan error, len(servers))
	for _, s := range servers {
		go func() {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- fmt.Errorf("listen %s: %w", s.Addr, err)
			}
		}()
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
		logger.Info("shutting down…")
	case err = <-serverErr:
		logger.Error("server error", "err", err)
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	for _, s := range servers {
		_ = s.Shutdown(shutCtx)
	}
	if ferr := store.Flush(); ferr != nil {
		logger.Error("final flush failed", "err", ferr)
	}
	logger.Info("goodbye")
	return err
}

func openBackend(conf config.StateConf, logger *slog.Logger) (seen.Backend, func(), error) {
	switch conf.Backend {
	case config.BackendSQLite:
		db, err := seen.OpenSQLite(conf.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite state %s: %w", conf.Path, err)
		}
		return db, func() { _ = db.Close() }, nil
	default:
		return seen.NewJSONFile(conf.Path, logger), func() {}, nil
	}
}

func banner(logger *slog.Logger, cfg *config.ProxyConfig, backend seen.Backend, client *upstream.Client, store *seen.Store) {
	state := backend.Describe()
	if abs, err := filepath.Abs(cfg.State.Path); err == nil && cfg.State.Backend == config.BackendJSON {
		state = abs
	}
	logger.Info("MeshCore proxy running", "url", "http://"+cfg.Listen+"/nodes", "upstream", client.URL())
	logger.Info("first-seen state", "store", state, "known_nodes", store.Len())
	logger.Info("TLS roots", "using", client.TrustStore())
	if cfg.Metrics.Listen != "" {
		logger.Info("metrics enabled", "url", "http://"+cfg.Metrics.Listen+"/metrics")
	}
}
