package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semweb/searchsync/internal/auth"
	"github.com/semweb/searchsync/internal/config"
	"github.com/semweb/searchsync/internal/delta"
	"github.com/semweb/searchsync/internal/document"
	"github.com/semweb/searchsync/internal/index"
	"github.com/semweb/searchsync/internal/search"
	"github.com/semweb/searchsync/internal/sparql"
	"github.com/semweb/searchsync/internal/update"
)

const serverTypes = `
types:
  - name: documents
    rdf_type: http://ex.org/Document
    properties:
      title: http://purl.org/dc/terms/title
`

// subjectData is one indexed resource in the simulated triplestore.
type subjectData struct {
	uuid      string
	title     string
	visibleTo []string
}

// graphStore simulates an authorization-partitioned triplestore over a
// mutable subject set.
type graphStore struct {
	mu       sync.Mutex
	subjects map[string]subjectData
	pingErr  error
}

func newGraphStore() *graphStore {
	return &graphStore{subjects: make(map[string]subjectData)}
}

func (g *graphStore) put(subject string, data subjectData) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subjects[subject] = data
}

func (g *graphStore) remove(subject string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.subjects, subject)
}

func (g *graphStore) visible(ac auth.Context, data subjectData) bool {
	if ac.Sudo {
		return true
	}
	for _, group := range ac.AllowedGroups {
		for _, v := range data.visibleTo {
			if group.Name == v {
				return true
			}
		}
	}
	return false
}

func (g *graphStore) visibleSubjects(ac auth.Context) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for s, data := range g.subjects {
		if g.visible(ac, data) {
			out = append(out, s)
		}
	}
	return out
}

func (g *graphStore) Select(_ context.Context, ac auth.Context, query string) (*sparql.Results, error) {
	if strings.Contains(query, "COUNT(DISTINCT ?s)") {
		n := len(g.visibleSubjects(ac))
		return &sparql.Results{Bindings: []sparql.Binding{
			{"count": {Type: "typed-literal", Value: fmt.Sprintf("%d", n)}},
		}}, nil
	}
	if strings.Contains(query, "SELECT DISTINCT ?s ") {
		var bindings []sparql.Binding
		for _, s := range g.visibleSubjects(ac) {
			bindings = append(bindings, sparql.Binding{"s": {Type: "uri", Value: s}})
		}
		return &sparql.Results{Bindings: bindings}, nil
	}

	// Per-subject property queries.
	g.mu.Lock()
	defer g.mu.Unlock()
	for subject, data := range g.subjects {
		if !strings.Contains(query, "<"+subject+">") || !g.visible(ac, data) {
			continue
		}
		switch {
		case strings.Contains(query, "core/uuid"):
			return &sparql.Results{Bindings: []sparql.Binding{
				{"value": {Type: "literal", Value: data.uuid}},
			}}, nil
		case strings.Contains(query, "terms/title"):
			return &sparql.Results{Bindings: []sparql.Binding{
				{"value": {Type: "literal", Value: data.title}},
			}}, nil
		}
	}
	return &sparql.Results{}, nil
}

func (g *graphStore) Ask(_ context.Context, ac auth.Context, query string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for subject, data := range g.subjects {
		if strings.Contains(query, "<"+subject+">") && g.visible(ac, data) {
			return true, nil
		}
	}
	return false, nil
}

func (g *graphStore) Update(context.Context, auth.Context, string) error { return nil }

func (g *graphStore) Ping(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pingErr
}

type testHarness struct {
	store  *graphStore
	server *Server
	queue  *update.Queue
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	types, err := config.ParseTypes([]byte(serverTypes))
	require.NoError(t, err)

	store := newGraphStore()
	engine := search.NewEmbedded("") // in-memory
	t.Cleanup(func() { engine.Close() })

	docs := document.New(store, nil, "", 0)
	builder := index.NewBuilder(types, store, engine, docs, 100, 0, 2)
	registry := index.NewRegistry(types, store, engine, builder, "http://semweb.org/searchsync/indexes", false)

	strategy := update.NewAutomatic(registry, types, store, docs, engine)
	queue := update.NewQueue(strategy, 0, 2, 0, nil)
	queue.Start(context.Background())
	t.Cleanup(queue.Close)

	router, err := delta.NewRouter(types, store, queue)
	require.NoError(t, err)

	return &testHarness{
		store:  store,
		server: New(registry, engine, router, store, types),
		queue:  queue,
	}
}

func searchRequest(typeName, params, groups string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/"+typeName+"/search"+params, nil)
	if groups != "" {
		req.Header.Set(sparql.HeaderAllowedGroups, groups)
	}
	return req
}

func doJSON(t *testing.T, h *testHarness, req *http.Request) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)
	var body map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec.Code, body
}

func TestSearch_EndToEnd(t *testing.T) {
	// Given a giraffe document visible to the clean group
	h := newHarness(t)
	h.store.put("http://ex.org/doc/1", subjectData{
		uuid:      "uuid-1",
		title:     "All about northern giraffes",
		visibleTo: []string{"clean"},
	})

	// When the clean group searches for giraffes
	code, body := doJSON(t, h, searchRequest("documents",
		"?filter[title]=giraffes", `[{"name":"clean"}]`))

	// Then the index is created, built and queried in one request
	require.Equal(t, http.StatusOK, code)
	data := body["data"].([]any)
	require.Len(t, data, 1)
	entry := data[0].(map[string]any)
	assert.Equal(t, "uuid-1", entry["id"])
	attrs := entry["attributes"].(map[string]any)
	assert.Equal(t, "All about northern giraffes", attrs["title"])
}

func TestSearch_PartitionsAreIsolated(t *testing.T) {
	h := newHarness(t)
	h.store.put("http://ex.org/doc/1", subjectData{
		uuid:      "uuid-1",
		title:     "All about northern giraffes",
		visibleTo: []string{"clean"},
	})

	// Another group's partition must not see the document.
	code, body := doJSON(t, h, searchRequest("documents",
		"?filter[title]=giraffes", `[{"name":"other"}]`))

	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["data"])
}

func TestSearch_MissingGroupsHeader(t *testing.T) {
	h := newHarness(t)
	code, _ := doJSON(t, h, searchRequest("documents", "", ""))
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSearch_UnknownType(t *testing.T) {
	h := newHarness(t)
	code, _ := doJSON(t, h, searchRequest("nope", "", `[{"name":"clean"}]`))
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSearch_BadFilterModifier(t *testing.T) {
	h := newHarness(t)
	code, body := doJSON(t, h, searchRequest("documents",
		"?filter[:bogus:title]=x", `[{"name":"clean"}]`))
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotNil(t, body["errors"])
}

func TestUpdate_DeltaFlowsToIndex(t *testing.T) {
	// Given an already-resolved index for the clean group
	h := newHarness(t)
	code, body := doJSON(t, h, searchRequest("documents", "", `[{"name":"clean"}]`))
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, body["data"])

	// When a new document appears and its delta arrives
	h.store.put("http://ex.org/doc/2", subjectData{
		uuid:      "uuid-2",
		title:     "Reticulated giraffes",
		visibleTo: []string{"clean"},
	})
	payload := `[{"inserts":[{
		"subject":{"type":"uri","value":"http://ex.org/doc/2"},
		"predicate":{"type":"uri","value":"http://www.w3.org/1999/02/22-rdf-syntax-ns#type"},
		"object":{"type":"uri","value":"http://ex.org/Document"}
	}],"deletes":[]}]`
	req := httptest.NewRequest(http.MethodPost, "/update", strings.NewReader(payload))
	code, _ = doJSON(t, h, req)
	require.Equal(t, http.StatusNoContent, code)

	// Then once the queue drains the document is searchable
	require.Eventually(t, func() bool {
		code, body := doJSON(t, h, searchRequest("documents",
			"?filter[title]=giraffes", `[{"name":"clean"}]`))
		if code != http.StatusOK {
			return false
		}
		data, _ := body["data"].([]any)
		return len(data) == 1
	}, 5*time.Second, 50*time.Millisecond)
}

func TestUpdate_DeleteRemovesDocument(t *testing.T) {
	h := newHarness(t)
	h.store.put("http://ex.org/doc/1", subjectData{
		uuid:      "uuid-1",
		title:     "All about giraffes",
		visibleTo: []string{"clean"},
	})

	code, body := doJSON(t, h, searchRequest("documents",
		"?filter[title]=giraffes", `[{"name":"clean"}]`))
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["data"].([]any), 1)

	// The subject disappears from the graph and its rdf:type delta fires.
	h.store.remove("http://ex.org/doc/1")
	payload := `[{"inserts":[],"deletes":[{
		"subject":{"type":"uri","value":"http://ex.org/doc/1"},
		"predicate":{"type":"uri","value":"http://www.w3.org/1999/02/22-rdf-syntax-ns#type"},
		"object":{"type":"uri","value":"http://ex.org/Document"}
	}]}]`
	req := httptest.NewRequest(http.MethodPost, "/update", strings.NewReader(payload))
	code, _ = doJSON(t, h, req)
	require.Equal(t, http.StatusNoContent, code)

	require.Eventually(t, func() bool {
		_, body := doJSON(t, h, searchRequest("documents",
			"?filter[title]=giraffes", `[{"name":"clean"}]`))
		data, _ := body["data"].([]any)
		return len(data) == 0
	}, 5*time.Second, 50*time.Millisecond)
}

func TestInvalidate(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodPost, "/documents/invalidate", nil)
	code, _ := doJSON(t, h, req)
	assert.Equal(t, http.StatusOK, code)

	req = httptest.NewRequest(http.MethodPost, "/nope/invalidate", nil)
	code, _ = doJSON(t, h, req)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDeleteIndexes(t *testing.T) {
	h := newHarness(t)
	code, _ := doJSON(t, h, searchRequest("documents", "", `[{"name":"clean"}]`))
	require.Equal(t, http.StatusOK, code)

	req := httptest.NewRequest(http.MethodDelete, "/documents/indexes", nil)
	code, _ = doJSON(t, h, req)
	assert.Equal(t, http.StatusNoContent, code)
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	code, body := doJSON(t, h, req)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "up", body["status"])

	h.store.mu.Lock()
	h.store.pingErr = errors.New("connection refused")
	h.store.mu.Unlock()
	code, body = doJSON(t, h, req)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", body["status"])
}
