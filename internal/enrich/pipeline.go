// Package enrich turns a raw upstream node batch into enriched records.
package enrich

import (
	"log/slog"
	"time"

	"github.com/gyaneshwarpardhi/meshproxy/internal/metrics"
	"github.com/gyaneshwarpardhi/meshproxy/internal/node"
	"github.com/gyaneshwarpardhi/meshproxy/internal/seen"
)

// Pipeline resolves identities, records first sightings and normalizes
// records. It is safe for concurrent use; batches are serialized by the store.
type Pipeline struct {
	store *seen.Store
	now   func() time.Time
	log   *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithLogger sets the logger used for batch summaries.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// New creates a Pipeline backed by store.
func New(store *seen.Store, opts ...Option) *Pipeline {
	p := &Pipeline{store: store, now: time.Now, log: slog.Default()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Now returns the pipeline clock.
func (p *Pipeline) Now() time.Time { return p.now() }

type observed struct {
	rec       node.Record
	key       string
	firstSeen int64
}

// Enrich enriches nodes in order. Entries that are not JSON objects are
// skipped. Every record in the batch shares one observation time, and the
// store is flushed at most once, only when an identity was new.
//
// A flush error is returned together with the enriched records.
func (p *Pipeline) Enrich(nodes []any) ([]node.Enriched, error) {
	now := p.now().UnixMilli()
	batch := make([]observed, 0, len(nodes))

	added, err := p.store.Batch(func(b *seen.Batch) {
		for _, n := range nodes {
			rec, ok := asRecord(n)
			if !ok {
				metrics.RecordsSkipped.Inc()
				continue
			}
			key := node.Key(rec)
			if node.IsFallback(key) {
				metrics.FallbackIdentities.Inc()
			}
			fs, _ := b.Observe(key, now)
			batch = append(batch, observed{rec: rec, key: key, firstSeen: fs})
		}
	})

	out := make([]node.Enriched, 0, len(batch))
	for _, o := range batch {
		out = append(out, node.Enrich(o.rec, o.key, o.firstSeen))
	}
	metrics.NodesEnriched.Add(float64(len(out)))

	if added > 0 {
		p.log.Info("new nodes observed", "added", added, "batch", len(out))
	}
	return out, err
}

func asRecord(v any) (node.Record, bool) {
	switch m := v.(type) {
	case map[string]any:
		return node.Record(m), true
	case node.Record:
		return m, true
	default:
		return nil, false
	}
}
