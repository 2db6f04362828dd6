// Package upstream fetches the node directory from the remote map API.
package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/gyaneshwarpardhi/meshproxy/internal/config"
	"github.com/gyaneshwarpardhi/meshproxy/internal/metrics"
)

// Client performs one GET per call against the configured URL. No retries.
type Client struct {
	target atomic.Pointer[target]
}

type target struct {
	conf config.UpstreamConf
	http *http.Client
}

// New builds a Client from conf.
func New(conf config.UpstreamConf) (*Client, error) {
	c := &Client{}
	if err := c.Reconfigure(conf); err != nil {
		return nil, err
	}
	return c, nil
}

// Reconfigure atomically swaps the upstream settings (used on hot-reload).
// In-flight fetches finish with the settings they started with.
func (c *Client) Reconfigure(conf config.UpstreamConf) error {
	hc, err := newHTTPClient(conf)
	if err != nil {
		return err
	}
	c.target.Store(&target{conf: conf, http: hc})
	return nil
}

// TrustStore describes the CA roots in use, for the startup banner.
func (c *Client) TrustStore() string {
	if f := c.target.Load().conf.CAFile; f != "" {
		return "CA bundle " + f
	}
	return "system trust store"
}

// URL returns the current upstream URL.
func (c *Client) URL() string {
	return c.target.Load().conf.URL
}

func newHTTPClient(conf config.UpstreamConf) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if conf.CAFile != "" {
		pem, err := os.ReadFile(conf.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA bundle %s: %w", conf.CAFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA bundle %s: no certificates found", conf.CAFile)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	return &http.Client{Transport: transport, Timeout: conf.Timeout()}, nil
}

// FetchNodes returns the upstream node list. The body may be a JSON array or
// an object with a "nodes" array. Numbers are kept as json.Number.
func (c *Client) FetchNodes(ctx context.Context) ([]any, error) {
	t := c.target.Load()
	start := time.Now()
	nodes, err := t.fetch(ctx)
	metrics.UpstreamFetchDuration.Observe(float64(time.Since(start).Milliseconds()))
	metrics.UpstreamFetches.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		return nil, err
	}
	slog.Debug("upstream fetched", "url", t.conf.URL, "nodes", len(nodes), "duration", time.Since(start))
	return nodes, nil
}

func (t *target) fetch(ctx context.Context) ([]any, error) {
	ctx, cancel := context.WithTimeout(ctx, t.conf.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.conf.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("User-Agent", t.conf.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, &TransportError{URL: t.conf.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{URL: t.conf.URL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.conf.MaxBodyBytes+1))
	if err != nil {
		return nil, &TransportError{URL: t.conf.URL, Err: err}
	}
	if int64(len(body)) > t.conf.MaxBodyBytes {
		return nil, &SchemaError{URL: t.conf.URL, Reason: fmt.Sprintf("body exceeds %d bytes", t.conf.MaxBodyBytes)}
	}
	return decodeNodes(t.conf.URL, body)
}

func decodeNodes(url string, body []byte) ([]any, error) {
	var data any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return nil, &SchemaError{URL: url, Reason: "invalid JSON", Err: err}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &SchemaError{URL: url, Reason: "trailing data after JSON value"}
	}
	if obj, ok := data.(map[string]any); ok {
		if nodes, ok := obj["nodes"].([]any); ok {
			data = nodes
		}
	}
	nodes, ok := data.([]any)
	if !ok {
		return nil, &SchemaError{URL: url, Reason: "expected a list of nodes"}
	}
	return nodes, nil
}

func outcome(err error) string {
	var (
		te *TransportError
		se *StatusError
		sc *SchemaError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &te):
		return "transport_error"
	case errors.As(err, &se):
		return "status_error"
	case errors.As(err, &sc):
		return "schema_error"
	default:
		return "error"
	}
}
