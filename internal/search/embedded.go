package search

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
)

// Embedded implements Client with local Bleve indexes, one directory per
// logical index under the data dir. It exists for development and tests;
// it supports the query-DSL subset the translator emits and treats the
// distinct-count aggregation as a no-op (DistinctCount stays -1).
type Embedded struct {
	dir string

	mu      sync.Mutex
	indexes map[string]bleve.Index
	closed  bool
}

var _ Client = (*Embedded)(nil)

// NewEmbedded creates an embedded backend rooted at dir. An empty dir keeps
// all indexes in memory.
func NewEmbedded(dir string) *Embedded {
	return &Embedded{
		dir:     dir,
		indexes: make(map[string]bleve.Index),
	}
}

// open returns the Bleve index for name, opening or creating it as needed.
func (b *Embedded) open(name string, create bool) (bleve.Index, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("embedded backend is closed")
	}
	if idx, ok := b.indexes[name]; ok {
		return idx, nil
	}

	if b.dir == "" {
		if !create {
			return nil, nil
		}
		idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("cannot create in-memory index: %w", err)
		}
		b.indexes[name] = idx
		return idx, nil
	}

	path := filepath.Join(b.dir, name)
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		if !create {
			return nil, nil
		}
		if mkErr := os.MkdirAll(b.dir, 0o755); mkErr != nil {
			return nil, fmt.Errorf("cannot create index dir: %w", mkErr)
		}
		idx, err = bleve.New(path, bleve.NewIndexMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("cannot open index %s: %w", name, err)
	}
	b.indexes[name] = idx
	return idx, nil
}

// EnsureIndex implements Client. Mappings and settings are accepted but
// ignored: Bleve's default mapping indexes every field.
func (b *Embedded) EnsureIndex(ctx context.Context, name string, mappings, settings map[string]any) error {
	_, err := b.open(name, true)
	return err
}

// IndexExists implements Client.
func (b *Embedded) IndexExists(ctx context.Context, name string) (bool, error) {
	idx, err := b.open(name, false)
	if err != nil {
		return false, err
	}
	return idx != nil, nil
}

// DeleteIndex implements Client.
func (b *Embedded) DeleteIndex(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if idx, ok := b.indexes[name]; ok {
		_ = idx.Close()
		delete(b.indexes, name)
	}
	if b.dir != "" {
		if err := os.RemoveAll(filepath.Join(b.dir, name)); err != nil {
			return fmt.Errorf("cannot remove index %s: %w", name, err)
		}
	}
	return nil
}

// Refresh implements Client. Bleve writes are immediately searchable.
func (b *Embedded) Refresh(ctx context.Context, name string) error {
	return nil
}

// PutDocument implements Client.
func (b *Embedded) PutDocument(ctx context.Context, index, id string, doc Document) error {
	idx, err := b.open(index, true)
	if err != nil {
		return err
	}
	return idx.Index(id, stripNulls(doc))
}

// DeleteDocument implements Client.
func (b *Embedded) DeleteDocument(ctx context.Context, index, id string) error {
	idx, err := b.open(index, false)
	if err != nil || idx == nil {
		return err
	}
	return idx.Delete(id)
}

// BulkUpsert implements Client.
func (b *Embedded) BulkUpsert(ctx context.Context, index string, docs map[string]Document) error {
	if len(docs) == 0 {
		return nil
	}
	idx, err := b.open(index, true)
	if err != nil {
		return err
	}

	batch := idx.NewBatch()
	for id, doc := range docs {
		if err := batch.Index(id, stripNulls(doc)); err != nil {
			return fmt.Errorf("cannot index document %s: %w", id, err)
		}
	}
	return idx.Batch(batch)
}

// splitIndexNames splits a comma-joined index expression into its parts,
// matching the multi-index addressing the HTTP backend accepts natively.
func splitIndexNames(index string) []string {
	parts := strings.Split(index, ",")
	names := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			names = append(names, p)
		}
	}
	return names
}

// Search implements Client. A comma-joined index expression searches every
// named index and merges the hits by score, paginating over the merged list.
func (b *Embedded) Search(ctx context.Context, index string, query map[string]any) (*Result, error) {
	names := splitIndexNames(index)

	req, excludes, err := buildBleveRequest(query)
	if err != nil {
		return nil, err
	}
	// Per-index pagination would drop hits from later indexes; collect a
	// full window from each index and slice after the merge.
	from, size := req.From, req.Size
	if len(names) > 1 {
		req.From = 0
		req.Size = from + size
	}

	result := &Result{DistinctCount: -1}
	for _, name := range names {
		idx, err := b.open(name, false)
		if err != nil {
			return nil, err
		}
		if idx == nil {
			continue
		}

		res, err := idx.SearchInContext(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("search failed: %w", err)
		}

		result.Total += int64(res.Total)
		for _, h := range res.Hits {
			source := unflatten(h.Fields)
			for _, field := range excludes {
				delete(source, field)
			}
			result.Hits = append(result.Hits, Hit{ID: h.ID, Score: h.Score, Source: source})
		}
	}

	if len(names) > 1 {
		sort.SliceStable(result.Hits, func(i, j int) bool {
			return result.Hits[i].Score > result.Hits[j].Score
		})
		if from >= len(result.Hits) {
			result.Hits = nil
		} else {
			end := from + size
			if end > len(result.Hits) {
				end = len(result.Hits)
			}
			result.Hits = result.Hits[from:end]
		}
	}

	if _, wanted := query["aggs"]; wanted {
		slog.Debug("distinct-count aggregation unsupported by embedded backend",
			slog.String("index", index))
	}
	return result, nil
}

// Count implements Client. Comma-joined index expressions sum the counts
// of every named index.
func (b *Embedded) Count(ctx context.Context, index string, query map[string]any) (int64, error) {
	var total int64
	for _, name := range splitIndexNames(index) {
		idx, err := b.open(name, false)
		if err != nil {
			return 0, err
		}
		if idx == nil {
			continue
		}

		if query == nil || query["query"] == nil {
			n, err := idx.DocCount()
			if err != nil {
				return 0, err
			}
			total += int64(n)
			continue
		}

		req, _, err := buildBleveRequest(map[string]any{"query": query["query"], "size": 0})
		if err != nil {
			return 0, err
		}
		res, err := idx.SearchInContext(ctx, req)
		if err != nil {
			return 0, err
		}
		total += int64(res.Total)
	}
	return total, nil
}

// Close implements Client.
func (b *Embedded) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for name, idx := range b.indexes {
		if err := idx.Close(); err != nil {
			slog.Warn("cannot close embedded index",
				slog.String("index", name),
				slog.String("error", err.Error()))
		}
	}
	b.indexes = nil
	return nil
}

// stripNulls removes nil-valued fields before indexing; Bleve has no null
// representation and the denumeration contract is reconstructed at fetch
// time, not from the index.
func stripNulls(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		if v == nil {
			continue
		}
		out[k] = v
	}
	return out
}

// unflatten rebuilds a nested document from Bleve's flattened field map
// ("author.name" -> nested "author" object).
func unflatten(fields map[string]any) Document {
	doc := make(Document, len(fields))
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		parts := strings.Split(key, ".")
		cur := doc
		for i, part := range parts {
			if i == len(parts)-1 {
				cur[part] = fields[key]
				break
			}
			next, ok := cur[part].(Document)
			if !ok {
				next = make(Document)
				cur[part] = next
			}
			cur = next
		}
	}
	return doc
}
