package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/gyaneshwarpardhi/meshproxy/internal/enrich"
	"github.com/gyaneshwarpardhi/meshproxy/internal/node"
	"github.com/gyaneshwarpardhi/meshproxy/internal/upstream"
)

const notFoundMessage = "Not Found. Use /nodes or /recent?days=7"

// NodeFetcher returns the raw upstream node list.
type NodeFetcher interface {
	FetchNodes(ctx context.Context) ([]any, error)
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	fetcher    NodeFetcher
	pipeline   *enrich.Pipeline
	recentDays atomic.Int64
	log        *slog.Logger
	mux        *http.ServeMux
	root       http.Handler
}

// New creates an HTTP handler and registers all routes.
func New(f NodeFetcher, p *enrich.Pipeline, defaultRecentDays int, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{fetcher: f, pipeline: p, log: log, mux: http.NewServeMux()}
	h.recentDays.Store(int64(defaultRecentDays))

	h.mux.HandleFunc("GET /health", h.health)
	h.mux.HandleFunc("GET /nodes", h.nodes)
	h.mux.HandleFunc("GET /recent", h.recent)
	h.mux.HandleFunc("/", h.notFound)

	h.root = loggingMiddleware(log, corsMiddleware(h.mux))
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.root.ServeHTTP(w, r)
}

// SetDefaultRecentDays changes the window used when /recent has no usable
// days parameter (used on hot-reload).
func (h *Handler) SetDefaultRecentDays(days int) {
	h.recentDays.Store(int64(days))
}

// GET /health: liveness.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// GET /nodes: every upstream node, enriched.
func (h *Handler) nodes(w http.ResponseWriter, r *http.Request) {
	recs, ok := h.fetchEnriched(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// GET /recent?days=N: nodes first seen within the last N days.
func (h *Handler) recent(w http.ResponseWriter, r *http.Request) {
	recs, ok := h.fetchEnriched(w, r)
	if !ok {
		return
	}
	days := h.parseDays(r.URL.Query().Get("days"))
	writeJSON(w, http.StatusOK, node.FilterRecent(recs, days, h.pipeline.Now()))
}

func (h *Handler) notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, notFoundMessage)
}

// parseDays falls back to the default for a missing or unparsable value.
func (h *Handler) parseDays(raw string) int {
	if d, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
		return d
	}
	return int(h.recentDays.Load())
}

func (h *Handler) fetchEnriched(w http.ResponseWriter, r *http.Request) ([]node.Enriched, bool) {
	raw, err := h.fetcher.FetchNodes(r.Context())
	if err != nil {
		h.writeFetchError(w, r, err)
		return nil, false
	}
	recs, err := h.pipeline.Enrich(raw)
	if err != nil {
		h.log.Error("enrichment failed", "req_id", requestID(r), "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return recs, true
}

func (h *Handler) writeFetchError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		te *upstream.TransportError
		se *upstream.StatusError
		sc *upstream.SchemaError
	)
	status, msg := http.StatusInternalServerError, err.Error()
	switch {
	case errors.As(err, &se):
		status, msg = http.StatusBadGateway, fmt.Sprintf("Upstream HTTPError %d", se.StatusCode)
	case errors.As(err, &te):
		status, msg = http.StatusBadGateway, fmt.Sprintf("Upstream URLError: %v", te.Err)
	case errors.As(err, &sc):
		status = http.StatusBadGateway
	}
	h.log.Warn("upstream fetch failed", "req_id", requestID(r), "status", status, "err", err)
	writeError(w, status, msg)
}
