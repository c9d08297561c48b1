package index

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/semweb/searchsync/internal/auth"
	"github.com/semweb/searchsync/internal/config"
	"github.com/semweb/searchsync/internal/document"
	"github.com/semweb/searchsync/internal/metrics"
	"github.com/semweb/searchsync/internal/search"
	"github.com/semweb/searchsync/internal/sparql"
)

// Builder fills one physical index from triplestore content. The caller
// holds the index's lock; Build itself never touches registry structure.
type Builder struct {
	mu    sync.Mutex
	types *config.TypeConfig

	store      sparql.Executor
	engine     search.Client
	docs       *document.Materializer
	batchSize  int
	maxBatches int
	workers    int
}

// NewBuilder creates a builder. batchSize pages the subject listing,
// maxBatches caps the pages per constituent (0 = unbounded), workers
// bounds parallel document construction within one batch.
func NewBuilder(types *config.TypeConfig, store sparql.Executor, engine search.Client, docs *document.Materializer, batchSize, maxBatches, workers int) *Builder {
	return &Builder{
		types:      types,
		store:      store,
		engine:     engine,
		docs:       docs,
		batchSize:  batchSize,
		maxBatches: maxBatches,
		workers:    workers,
	}
}

// SetTypes swaps the type configuration after a reload.
func (b *Builder) SetTypes(types *config.TypeConfig) {
	b.mu.Lock()
	b.types = types
	b.mu.Unlock()
}

func (b *Builder) typeConfig() *config.TypeConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.types
}

// Build indexes every subject visible under the index's group scope. A
// composite type is expanded into its constituents first; each constituent
// is paged sequentially, with document construction fanned out across the
// worker pool inside a page. One document's failure is logged and skipped,
// never aborting the batch.
func (b *Builder) Build(ctx context.Context, si *SearchIndex, def *config.TypeDefinition) error {
	scope := si.Scope()

	constituents, err := b.typeConfig().Expand(def)
	if err != nil {
		return err
	}

	for _, c := range constituents {
		if err := b.buildConstituent(ctx, si, scope, c); err != nil {
			return err
		}
	}
	return b.engine.Refresh(ctx, si.Name)
}

func (b *Builder) buildConstituent(ctx context.Context, si *SearchIndex, scope auth.Context, c config.ConstituentSchema) error {
	count, err := b.countSubjects(ctx, scope, c.RDFType)
	if err != nil {
		return err
	}

	batches := int((count + int64(b.batchSize) - 1) / int64(b.batchSize))
	if b.maxBatches > 0 && batches > b.maxBatches {
		batches = b.maxBatches
	}
	slog.Info("building index",
		slog.String("index", si.Name),
		slog.String("type", si.TypeName),
		slog.String("constituent", c.TypeName),
		slog.Int64("subjects", count),
		slog.Int("batches", batches))

	for i := 0; i < batches; i++ {
		subjects, err := b.listSubjects(ctx, scope, c.RDFType, b.batchSize, i*b.batchSize)
		if err != nil {
			return err
		}
		if err := b.indexBatch(ctx, si, scope, c, subjects); err != nil {
			return err
		}
	}
	return nil
}

// indexBatch materializes and uploads one page of subjects. Workers run in
// parallel; only infrastructure failures (the bulk upload) propagate.
func (b *Builder) indexBatch(ctx context.Context, si *SearchIndex, scope auth.Context, c config.ConstituentSchema, subjects []string) error {
	var mu sync.Mutex
	docs := make(map[string]search.Document, len(subjects))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for _, subject := range subjects {
		g.Go(func() error {
			doc, err := b.docs.Fetch(gctx, scope, subject, c.Properties)
			if err != nil {
				slog.Warn("skipping document",
					slog.String("index", si.Name),
					slog.String("subject", subject),
					slog.String("error", err.Error()))
				return nil
			}
			mu.Lock()
			docs[document.ID(subject)] = doc
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	if err := b.engine.BulkUpsert(ctx, si.Name, docs); err != nil {
		return err
	}
	metrics.DocumentsIndexed.Add(float64(len(docs)))
	return nil
}

func (b *Builder) countSubjects(ctx context.Context, scope auth.Context, rdfType string) (int64, error) {
	query := fmt.Sprintf(
		"SELECT (COUNT(DISTINCT ?s) AS ?count) WHERE { ?s %s %s }",
		sparql.IRI(rdfTypeIRI), sparql.IRI(rdfType))
	res, err := b.store.Select(ctx, scope, query)
	if err != nil {
		return 0, err
	}
	col := res.Column("count")
	if len(col) == 0 {
		return 0, nil
	}
	n, err := strconv.ParseInt(col[0].Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable subject count %q: %w", col[0].Value, err)
	}
	return n, nil
}

// listSubjects pages the subject listing deterministically. Paging without
// an order would let subjects slip between pages.
func (b *Builder) listSubjects(ctx context.Context, scope auth.Context, rdfType string, limit, offset int) ([]string, error) {
	query := fmt.Sprintf(
		"SELECT DISTINCT ?s WHERE { ?s %s %s } ORDER BY ?s LIMIT %d OFFSET %d",
		sparql.IRI(rdfTypeIRI), sparql.IRI(rdfType), limit, offset)
	res, err := b.store.Select(ctx, scope, query)
	if err != nil {
		return nil, err
	}
	terms := res.Column("s")
	subjects := make([]string, 0, len(terms))
	for _, t := range terms {
		if t.IsURI() {
			subjects = append(subjects, t.Value)
		}
	}
	return subjects, nil
}
