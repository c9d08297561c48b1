package update

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semweb/searchsync/internal/auth"
	"github.com/semweb/searchsync/internal/config"
	"github.com/semweb/searchsync/internal/document"
	"github.com/semweb/searchsync/internal/index"
	"github.com/semweb/searchsync/internal/search"
	"github.com/semweb/searchsync/internal/sparql"
)

const strategyTypes = `
types:
  - name: documents
    rdf_type: http://ex.org/Document
    properties:
      title: http://purl.org/dc/terms/title
`

// partitionedStore simulates authorization partitioning: the subject and
// its triples are visible only to callers whose allowed groups include
// one of the visibleTo groups. Sudo sees everything.
type partitionedStore struct {
	subject   string
	title     string
	visibleTo map[string]bool
}

func (p *partitionedStore) visible(ac auth.Context) bool {
	if ac.Sudo {
		return true
	}
	for _, g := range ac.AllowedGroups {
		if p.visibleTo[g.Name] {
			return true
		}
	}
	return false
}

func (p *partitionedStore) Select(_ context.Context, ac auth.Context, query string) (*sparql.Results, error) {
	if !p.visible(ac) || !strings.Contains(query, p.subject) {
		return &sparql.Results{}, nil
	}
	switch {
	case strings.Contains(query, "core/uuid"):
		return &sparql.Results{Bindings: []sparql.Binding{
			{"value": {Type: "literal", Value: "uuid-1"}},
		}}, nil
	case strings.Contains(query, "terms/title"):
		return &sparql.Results{Bindings: []sparql.Binding{
			{"value": {Type: "literal", Value: p.title}},
		}}, nil
	}
	return &sparql.Results{}, nil
}

func (p *partitionedStore) Ask(_ context.Context, ac auth.Context, query string) (bool, error) {
	return p.visible(ac) && strings.Contains(query, p.subject), nil
}

func (p *partitionedStore) Update(context.Context, auth.Context, string) error { return nil }

// recordingEngine captures per-index writes.
type recordingEngine struct {
	search.Client
	mu      sync.Mutex
	puts    map[string]search.Document // index -> last doc
	deletes []string                   // index names
}

func newRecordingEngine() *recordingEngine {
	return &recordingEngine{puts: make(map[string]search.Document)}
}

func (e *recordingEngine) EnsureIndex(context.Context, string, map[string]any, map[string]any) error {
	return nil
}
func (e *recordingEngine) Refresh(context.Context, string) error { return nil }
func (e *recordingEngine) BulkUpsert(context.Context, string, map[string]search.Document) error {
	return nil
}

func (e *recordingEngine) PutDocument(_ context.Context, index, _ string, doc search.Document) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.puts[index] = doc
	return nil
}

func (e *recordingEngine) DeleteDocument(_ context.Context, index, _ string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deletes = append(e.deletes, index)
	return nil
}

func TestAutomatic_AuthorizationCorrectUpdate(t *testing.T) {
	// Given a subject visible under group X but not group Y,
	// with one documents index per group
	types, err := config.ParseTypes([]byte(strategyTypes))
	require.NoError(t, err)

	store := &partitionedStore{
		subject:   "http://ex.org/doc/1",
		title:     "Giraffe habits",
		visibleTo: map[string]bool{"x": true},
	}
	engine := newRecordingEngine()
	docs := document.New(store, nil, "", 0)
	builder := index.NewBuilder(types, store, engine, docs, 10, 0, 1)
	registry := index.NewRegistry(types, store, engine, builder, "http://semweb.org/searchsync/indexes", false)
	ctx := context.Background()

	xIndexes, err := registry.ResolveOrBuild(ctx, auth.NewContext([]auth.Group{{Name: "x"}}, nil), "documents")
	require.NoError(t, err)
	yIndexes, err := registry.ResolveOrBuild(ctx, auth.NewContext([]auth.Group{{Name: "y"}}, nil), "documents")
	require.NoError(t, err)

	// When a change for the subject is handled automatically
	strategy := NewAutomatic(registry, types, store, docs, engine)
	require.NoError(t, strategy.Handle(ctx, "http://ex.org/doc/1", []string{"documents"}, KindUpdate))

	// Then the X-partition index got the document and the Y-partition
	// index got a delete
	doc := engine.puts[xIndexes[0].Name]
	require.NotNil(t, doc, "expected upsert into the X index")
	assert.Equal(t, "Giraffe habits", doc["title"])
	assert.Contains(t, engine.deletes, yIndexes[0].Name)
	assert.NotContains(t, engine.deletes, xIndexes[0].Name)
}

func TestAutomatic_DeletedSubjectRemovedEverywhere(t *testing.T) {
	types, err := config.ParseTypes([]byte(strategyTypes))
	require.NoError(t, err)

	// Nothing is visible to anyone: the subject is gone.
	store := &partitionedStore{subject: "http://ex.org/doc/1", visibleTo: map[string]bool{}}
	engine := newRecordingEngine()
	docs := document.New(store, nil, "", 0)
	builder := index.NewBuilder(types, store, engine, docs, 10, 0, 1)
	registry := index.NewRegistry(types, store, engine, builder, "http://semweb.org/searchsync/indexes", false)
	ctx := context.Background()

	indexes, err := registry.ResolveOrBuild(ctx, auth.NewContext([]auth.Group{{Name: "x"}}, nil), "documents")
	require.NoError(t, err)

	strategy := NewAutomatic(registry, types, store, docs, engine)
	// The declared kind says update; state says gone. State wins.
	require.NoError(t, strategy.Handle(ctx, "http://ex.org/doc/1", []string{"documents"}, KindUpdate))

	assert.Contains(t, engine.deletes, indexes[0].Name)
	assert.Empty(t, engine.puts)
}

func TestInvalidating_MarksTypeIndexes(t *testing.T) {
	types, err := config.ParseTypes([]byte(strategyTypes))
	require.NoError(t, err)

	store := &partitionedStore{subject: "http://ex.org/doc/1", visibleTo: map[string]bool{}}
	engine := newRecordingEngine()
	docs := document.New(store, nil, "", 0)
	builder := index.NewBuilder(types, store, engine, docs, 10, 0, 1)
	registry := index.NewRegistry(types, store, engine, builder, "http://semweb.org/searchsync/indexes", false)
	ctx := context.Background()

	indexes, err := registry.ResolveOrBuild(ctx, auth.NewContext([]auth.Group{{Name: "x"}}, nil), "documents")
	require.NoError(t, err)
	require.Equal(t, index.StatusValid, indexes[0].Status())

	strategy := NewInvalidating(registry)
	require.NoError(t, strategy.Handle(ctx, "http://ex.org/doc/1", []string{"documents"}, KindUpdate))

	assert.Equal(t, index.StatusInvalid, indexes[0].Status())
}
