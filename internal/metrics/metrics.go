package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UpstreamFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshproxy_upstream_fetches_total",
		Help: "Total number of upstream node directory fetches, labelled by outcome.",
	}, []string{"outcome"})

	UpstreamFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "meshproxy_upstream_fetch_duration_ms",
		Help:    "Upstream fetch latency in milliseconds, including body decoding.",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 25000},
	})

	NodesEnriched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshproxy_nodes_enriched_total",
		Help: "Total number of upstream records enriched.",
	})

	RecordsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshproxy_records_skipped_total",
		Help: "Total number of upstream entries skipped because they were not JSON objects.",
	})

	NewIdentities = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshproxy_new_identities_total",
		Help: "Total number of identities observed for the first time.",
	})

	FallbackIdentities = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshproxy_fallback_identities_total",
		Help: "Total number of records keyed by the body-derived fallback identity.",
	})

	StateFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshproxy_state_flushes_total",
		Help: "Total number of seen-store flushes, labelled by status.",
	}, []string{"status"})

	SeenIdentities = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meshproxy_seen_identities",
		Help: "Number of identities currently tracked by the seen-store.",
	})

	RequestsServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshproxy_http_requests_total",
		Help: "Total number of HTTP requests served, labelled by route and status code.",
	}, []string{"route", "code"})
)
