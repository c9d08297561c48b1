package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/semweb/searchsync/internal/config"
	"github.com/semweb/searchsync/internal/delta"
	"github.com/semweb/searchsync/internal/document"
	"github.com/semweb/searchsync/internal/extract"
	"github.com/semweb/searchsync/internal/index"
	"github.com/semweb/searchsync/internal/search"
	"github.com/semweb/searchsync/internal/server"
	"github.com/semweb/searchsync/internal/sparql"
	"github.com/semweb/searchsync/internal/update"
)

// app holds the wired service components. Construction order follows the
// dependency graph: triplestore and engine clients first, then the
// materializer, registry, queue, and finally the HTTP surface.
type app struct {
	cfg        *config.Config
	types      *config.TypeConfig
	store      *sparql.Client
	engine     search.Client
	docs       *document.Materializer
	builder    *index.Builder
	registry   *index.Registry
	strategy   update.Strategy
	queueStore *update.Store
	queue      *update.Queue
	router     *delta.Router
	server     *server.Server

	lock *flock.Flock
}

// buildApp wires the service from a validated configuration. The data dir
// is guarded by a non-blocking file lock: the queue store and embedded
// indexes do not tolerate a second writer.
func buildApp(cfg *config.Config) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create data dir: %w", err)
	}

	lock := flock.New(filepath.Join(cfg.DataDir, "searchsync.lock"))
	acquired, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("cannot acquire instance lock: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("another searchsync instance is using %s", cfg.DataDir)
	}

	types, err := config.LoadTypes(cfg.TypesFile)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	acquireTimeout, err := cfg.AcquireTimeout()
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	store := sparql.NewClient(sparql.ClientConfig{
		Endpoint:       cfg.Triplestore.Endpoint,
		UpdateEndpoint: cfg.Triplestore.UpdateEndpoint,
		PoolSize:       cfg.Triplestore.PoolSize,
		AcquireTimeout: acquireTimeout,
	})

	var engine search.Client
	switch cfg.Search.Backend {
	case config.BackendEmbedded:
		engine = search.NewEmbedded(filepath.Join(cfg.DataDir, "indexes"))
	default:
		engine = search.NewElastic(search.ElasticConfig{Endpoint: cfg.Search.Endpoint})
	}

	extractor, err := extract.NewCachingExtractor(
		extract.NewHTTPClient(extract.HTTPConfig{Endpoint: cfg.Extraction.Endpoint}),
		filepath.Join(cfg.DataDir, "extract-cache"),
		cfg.Extraction.CacheEntries,
	)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	docs := document.New(store, extractor, cfg.Extraction.FileShareRoot, cfg.Extraction.MaxFileSize)
	builder := index.NewBuilder(types, store, engine, docs,
		cfg.Indexing.BatchSize, cfg.Indexing.MaxBatches, cfg.Indexing.Workers)
	registry := index.NewRegistry(types, store, engine, builder,
		cfg.Triplestore.AdminGraph, cfg.Indexing.AdditiveIndexes)

	var strategy update.Strategy
	switch cfg.Update.Strategy {
	case config.StrategyInvalidating:
		strategy = update.NewInvalidating(registry)
	default:
		strategy = update.NewAutomatic(registry, types, store, docs, engine)
	}

	queueStore, err := update.OpenStore(filepath.Join(cfg.DataDir, "queue.db"))
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	wait, err := cfg.WaitInterval()
	if err != nil {
		_ = queueStore.Close()
		_ = lock.Unlock()
		return nil, err
	}
	queue := update.NewQueue(strategy, wait, cfg.Update.Workers, cfg.Update.HighWaterMark, queueStore)

	router, err := delta.NewRouter(types, store, queue)
	if err != nil {
		_ = queueStore.Close()
		_ = lock.Unlock()
		return nil, err
	}

	srv := server.New(registry, engine, router, store, types)

	return &app{
		cfg:        cfg,
		types:      types,
		store:      store,
		engine:     engine,
		docs:       docs,
		builder:    builder,
		registry:   registry,
		strategy:   strategy,
		queueStore: queueStore,
		queue:      queue,
		router:     router,
		server:     srv,
		lock:       lock,
	}, nil
}

// reloadTypes re-reads the type definitions and pushes them to every
// component that keeps a reference. Existing index mappings and documents
// are not migrated, so all indexes are invalidated afterwards.
func (a *app) reloadTypes() error {
	types, err := config.LoadTypes(a.cfg.TypesFile)
	if err != nil {
		return err
	}
	a.registry.SetTypes(types)
	a.builder.SetTypes(types)
	if auto, ok := a.strategy.(*update.Automatic); ok {
		auto.SetTypes(types)
	}
	if err := a.router.SetTypes(types); err != nil {
		return err
	}
	a.server.SetTypes(types)
	a.registry.InvalidateAll()
	return nil
}

// close releases everything buildApp acquired, in reverse order.
func (a *app) close() {
	a.queue.Close()
	_ = a.queueStore.Close()
	if closer, ok := a.engine.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	_ = a.lock.Unlock()
}
