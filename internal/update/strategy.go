package update

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/semweb/searchsync/internal/config"
	"github.com/semweb/searchsync/internal/document"
	"github.com/semweb/searchsync/internal/index"
	"github.com/semweb/searchsync/internal/metrics"
	"github.com/semweb/searchsync/internal/search"
	"github.com/semweb/searchsync/internal/sparql"
)

const rdfTypeIRI = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"

// Invalidating marks every index of an affected type invalid: coarse and
// cheap per event, deferring the cost to the next read.
type Invalidating struct {
	registry *index.Registry
}

// NewInvalidating creates the invalidating strategy.
func NewInvalidating(registry *index.Registry) *Invalidating {
	return &Invalidating{registry: registry}
}

func (s *Invalidating) Handle(_ context.Context, subject string, indexTypes []string, _ ChangeKind) error {
	for _, t := range indexTypes {
		s.registry.InvalidateType(t)
	}
	slog.Debug("indexes invalidated",
		slog.String("subject", subject),
		slog.Any("types", indexTypes))
	return nil
}

// Automatic re-derives the truth per index from the triplestore: if the
// subject still exists with the expected RDF type under that index's group
// scope, its document is rebuilt and upserted; otherwise it is deleted.
// The declared change kind is ignored — by handling time the graph may
// have moved on, so current state decides, which also makes per-subject
// processing order-independent.
type Automatic struct {
	registry *index.Registry
	store    sparql.Executor
	docs     *document.Materializer
	engine   search.Client

	mu    sync.Mutex
	types *config.TypeConfig
}

// NewAutomatic creates the automatic strategy.
func NewAutomatic(registry *index.Registry, types *config.TypeConfig, store sparql.Executor, docs *document.Materializer, engine search.Client) *Automatic {
	return &Automatic{
		registry: registry,
		types:    types,
		store:    store,
		docs:     docs,
		engine:   engine,
	}
}

// SetTypes swaps the type configuration after a reload.
func (s *Automatic) SetTypes(types *config.TypeConfig) {
	s.mu.Lock()
	s.types = types
	s.mu.Unlock()
}

func (s *Automatic) typeConfig() *config.TypeConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.types
}

func (s *Automatic) Handle(ctx context.Context, subject string, indexTypes []string, _ ChangeKind) error {
	var firstErr error
	for _, typeName := range indexTypes {
		if err := s.handleType(ctx, subject, typeName); err != nil {
			slog.Error("automatic update failed",
				slog.String("subject", subject),
				slog.String("type", typeName),
				slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// handleType updates the subject's document in every existing index of one
// search type. Only tracked indexes are touched; indexes nobody has asked
// for yet will be built from current state on first resolve anyway.
func (s *Automatic) handleType(ctx context.Context, subject, typeName string) error {
	types := s.typeConfig()
	def, ok := types.Get(typeName)
	if !ok {
		return fmt.Errorf("unknown search type %q", typeName)
	}
	constituents, err := types.Expand(def)
	if err != nil {
		return err
	}

	var firstErr error
	for _, si := range s.registry.ForType(typeName) {
		if err := si.WaitReady(ctx); err != nil {
			return err
		}
		if err := s.handleIndex(ctx, si, subject, constituents); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Automatic) handleIndex(ctx context.Context, si *index.SearchIndex, subject string, constituents []config.ConstituentSchema) error {
	scope := si.Scope()
	id := document.ID(subject)

	// Find the constituent whose RDF type the subject still carries, as
	// visible under this index's groups.
	for _, c := range constituents {
		ask := fmt.Sprintf("ASK { %s %s %s }",
			sparql.IRI(subject), sparql.IRI(rdfTypeIRI), sparql.IRI(c.RDFType))
		exists, err := s.store.Ask(ctx, scope, ask)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}

		doc, err := s.docs.Fetch(ctx, scope, subject, c.Properties)
		if err != nil {
			return err
		}
		if err := s.engine.PutDocument(ctx, si.Name, id, doc); err != nil {
			return err
		}
		metrics.DocumentsIndexed.Inc()
		return s.engine.Refresh(ctx, si.Name)
	}

	// Gone, or no longer visible in this partition.
	if err := s.engine.DeleteDocument(ctx, si.Name, id); err != nil {
		return err
	}
	return s.engine.Refresh(ctx, si.Name)
}
