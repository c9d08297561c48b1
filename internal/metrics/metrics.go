// Package metrics exposes the Prometheus instrumentation for the sync
// engine. Collectors are package-level and registered on the default
// registry; the HTTP surface serves them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DeltasReceived counts individual delta triples routed, by operation.
	DeltasReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "searchsync",
		Name:      "deltas_received_total",
		Help:      "Delta triples received, by operation (insert/delete).",
	}, []string{"operation"})

	// ChangesEnqueued counts change-queue enqueues, split by whether they
	// coalesced into an existing entry.
	ChangesEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "searchsync",
		Name:      "changes_enqueued_total",
		Help:      "Change queue enqueues, by outcome (new/coalesced).",
	}, []string{"outcome"})

	// QueueDepth tracks the number of pending change entries.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "searchsync",
		Name:      "queue_depth",
		Help:      "Pending entries in the change queue.",
	})

	// DocumentsIndexed counts documents written to the search engine.
	DocumentsIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "searchsync",
		Name:      "documents_indexed_total",
		Help:      "Documents upserted into search indexes.",
	})

	// IndexBuilds counts full index builds by outcome.
	IndexBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "searchsync",
		Name:      "index_builds_total",
		Help:      "Full index builds, by outcome (success/failure).",
	}, []string{"outcome"})

	// SearchRequests counts search requests by type.
	SearchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "searchsync",
		Name:      "search_requests_total",
		Help:      "Search requests served, by search type.",
	}, []string{"type"})
)
