// Package search provides the physical search engine client used by the
// index registry, the builder and the change queue.
//
// Two implementations exist: Elastic talks to an external
// Elasticsearch-compatible engine over HTTP (production), Embedded keeps
// local Bleve indexes under the data dir (development and tests). Backend
// selection happens in config, the rest of the system only sees Client.
package search

import "context"

// Document is one indexable document as a field map.
type Document map[string]any

// Hit is one search match.
type Hit struct {
	ID     string
	Score  float64
	Source Document
}

// Result is a search response.
type Result struct {
	// Total is the number of matching documents.
	Total int64
	// Hits are the returned page of matches.
	Hits []Hit
	// DistinctCount is the value of the distinct-count aggregation when
	// the query requested one, -1 otherwise.
	DistinctCount int64
}

// Client is the contract the core requires of the search engine.
// Implementations retry transient errors themselves; a returned error is a
// persistent failure.
type Client interface {
	// EnsureIndex creates the physical index if it does not exist yet,
	// applying the type's mappings and settings. Idempotent.
	EnsureIndex(ctx context.Context, name string, mappings, settings map[string]any) error
	// IndexExists reports whether the physical index exists.
	IndexExists(ctx context.Context, name string) (bool, error)
	// DeleteIndex removes the physical index. Absence is not an error.
	DeleteIndex(ctx context.Context, name string) error
	// Refresh makes recent writes visible to search.
	Refresh(ctx context.Context, name string) error
	// PutDocument upserts one document.
	PutDocument(ctx context.Context, index, id string, doc Document) error
	// DeleteDocument removes one document. Absence is not an error.
	DeleteDocument(ctx context.Context, index, id string) error
	// BulkUpsert upserts a batch of documents keyed by id.
	BulkUpsert(ctx context.Context, index string, docs map[string]Document) error
	// Search executes a query-DSL document against the index.
	Search(ctx context.Context, index string, query map[string]any) (*Result, error)
	// Count returns the number of documents matching the query document's
	// "query" clause; a nil query counts everything.
	Count(ctx context.Context, index string, query map[string]any) (int64, error)
	// Close releases client resources.
	Close() error
}
