package document

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semweb/searchsync/internal/auth"
	"github.com/semweb/searchsync/internal/config"
	"github.com/semweb/searchsync/internal/search"
	"github.com/semweb/searchsync/internal/sparql"
)

// fakeStore answers SELECT queries from canned terms keyed by a substring
// of the query (typically the predicate IRI).
type fakeStore struct {
	answers map[string][]sparql.Term
	queries []string
}

func (f *fakeStore) Select(_ context.Context, _ auth.Context, query string) (*sparql.Results, error) {
	f.queries = append(f.queries, query)
	for key, terms := range f.answers {
		if strings.Contains(query, key) {
			bindings := make([]sparql.Binding, len(terms))
			for i, t := range terms {
				bindings[i] = sparql.Binding{"value": t}
			}
			return &sparql.Results{Vars: []string{"value"}, Bindings: bindings}, nil
		}
	}
	return &sparql.Results{Vars: []string{"value"}}, nil
}

func (f *fakeStore) Ask(context.Context, auth.Context, string) (bool, error) { return false, nil }
func (f *fakeStore) Update(context.Context, auth.Context, string) error      { return nil }

func literal(v string) sparql.Term { return sparql.Term{Type: "literal", Value: v} }
func typed(v, dt string) sparql.Term {
	return sparql.Term{Type: "typed-literal", Value: v, Datatype: dt}
}
func uri(v string) sparql.Term { return sparql.Term{Type: "uri", Value: v} }

func authCtx() auth.Context {
	return auth.NewContext([]auth.Group{{Name: "public"}}, nil)
}

func TestFetch_Denumeration(t *testing.T) {
	// Given a subject with zero, one and several values per property
	store := &fakeStore{answers: map[string][]sparql.Term{
		"core/uuid":  {literal("doc-1")},
		"dct#title":  {literal("Giraffe habits")},
		"dct#tag":    {literal("animals"), literal("necks")},
		"dct#absent": nil,
	}}
	m := New(store, nil, "", 0)

	props := map[string]config.PropertyDefinition{
		"title":  {Path: config.PropertyPath{{Predicate: "http://purl.org/dct#title"}}},
		"tags":   {Path: config.PropertyPath{{Predicate: "http://purl.org/dct#tag"}}},
		"absent": {Path: config.PropertyPath{{Predicate: "http://purl.org/dct#absent"}}},
	}

	// When the document is materialized
	doc, err := m.Fetch(context.Background(), authCtx(), "http://ex.org/doc/1", props)
	require.NoError(t, err)

	// Then multiplicity maps to null, scalar or array
	assert.Equal(t, "doc-1", doc["uuid"])
	assert.Equal(t, "Giraffe habits", doc["title"])
	assert.Equal(t, []any{"animals", "necks"}, doc["tags"])
	assert.Nil(t, doc["absent"])
}

func TestFetch_TypedLiterals(t *testing.T) {
	store := &fakeStore{answers: map[string][]sparql.Term{
		"core/uuid": {literal("doc-2")},
		"ex#count":  {typed("42", "http://www.w3.org/2001/XMLSchema#integer")},
		"ex#score":  {typed("3.14", "http://www.w3.org/2001/XMLSchema#double")},
		"ex#active": {typed("TRUE", "http://www.w3.org/2001/XMLSchema#boolean")},
		"ex#closed": {typed("false", "http://www.w3.org/2001/XMLSchema#boolean")},
		"ex#date":   {typed("2024-05-01", "http://www.w3.org/2001/XMLSchema#date")},
		"ex#link":   {uri("http://ex.org/other")},
	}}
	m := New(store, nil, "", 0)

	props := map[string]config.PropertyDefinition{
		"count":  {Path: config.PropertyPath{{Predicate: "http://ex.org/ex#count"}}},
		"score":  {Path: config.PropertyPath{{Predicate: "http://ex.org/ex#score"}}},
		"active": {Path: config.PropertyPath{{Predicate: "http://ex.org/ex#active"}}},
		"closed": {Path: config.PropertyPath{{Predicate: "http://ex.org/ex#closed"}}},
		"date":   {Path: config.PropertyPath{{Predicate: "http://ex.org/ex#date"}}},
		"link":   {Path: config.PropertyPath{{Predicate: "http://ex.org/ex#link"}}},
	}

	doc, err := m.Fetch(context.Background(), authCtx(), "http://ex.org/doc/2", props)
	require.NoError(t, err)

	assert.Equal(t, int64(42), doc["count"])
	assert.Equal(t, 3.14, doc["score"])
	assert.Equal(t, true, doc["active"])
	assert.Equal(t, false, doc["closed"])
	assert.Equal(t, "2024-05-01", doc["date"])
	assert.Equal(t, "http://ex.org/other", doc["link"])
}

func TestFetch_PathExpression(t *testing.T) {
	// Given a multi-hop path with an inverse segment
	store := &fakeStore{answers: map[string][]sparql.Term{
		"core/uuid": {literal("doc-3")},
	}}
	m := New(store, nil, "", 0)

	props := map[string]config.PropertyDefinition{
		"caseNumber": {Path: config.PropertyPath{
			{Predicate: "http://ex.org/attachedTo", Inverse: true},
			{Predicate: "http://ex.org/number"},
		}},
	}

	_, err := m.Fetch(context.Background(), authCtx(), "http://ex.org/doc/3", props)
	require.NoError(t, err)

	// Then the query uses SPARQL property-path syntax
	var found bool
	for _, q := range store.queries {
		if strings.Contains(q, "^<http://ex.org/attachedTo>/<http://ex.org/number>") {
			found = true
		}
	}
	assert.True(t, found, "expected inverse property path in queries: %v", store.queries)
}

func TestFetch_NestedObjects(t *testing.T) {
	store := &fakeStore{answers: map[string][]sparql.Term{
		"core/uuid":   {literal("id")},
		"ex#author":   {uri("http://ex.org/person/7")},
		"foaf#name":   {literal("Jane")},
		"ex#literals": {literal("not-a-uri")},
	}}
	m := New(store, nil, "", 0)

	props := map[string]config.PropertyDefinition{
		"author": {
			Path: config.PropertyPath{{Predicate: "http://ex.org/ex#author"}},
			Nested: &config.NestedDefinition{
				RDFType: "http://xmlns.com/foaf/0.1/Person",
				Properties: map[string]config.PropertyDefinition{
					"name": {Path: config.PropertyPath{{Predicate: "http://xmlns.com/foaf#name"}}},
				},
			},
		},
		"broken": {
			Path: config.PropertyPath{{Predicate: "http://ex.org/ex#literals"}},
			Nested: &config.NestedDefinition{
				Properties: map[string]config.PropertyDefinition{},
			},
		},
	}

	doc, err := m.Fetch(context.Background(), authCtx(), "http://ex.org/doc/4", props)
	require.NoError(t, err)

	author, ok := doc["author"].(search.Document)
	require.True(t, ok, "author should be a nested document, got %T", doc["author"])
	assert.Equal(t, "Jane", author["name"])
	// Literal values under a nested definition are dropped, not errors.
	assert.Nil(t, doc["broken"])
}

func TestFetch_Attachments(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "uploads"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "uploads", "a.txt"), []byte("hello giraffes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "uploads", "big.txt"), make([]byte, 64), 0o644))

	store := &fakeStore{answers: map[string][]sparql.Term{
		"core/uuid": {literal("file-1")},
		"ex#data": {
			literal("share://uploads/a.txt"),
			literal("share://uploads/big.txt"),
			literal("share://uploads/missing.txt"),
		},
	}}
	m := New(store, passthroughExtractor{}, dir, 32)

	props := map[string]config.PropertyDefinition{
		"content": {
			Path:       config.PropertyPath{{Predicate: "http://ex.org/ex#data"}},
			Attachment: true,
		},
	}

	doc, err := m.Fetch(context.Background(), authCtx(), "http://ex.org/file/1", props)
	require.NoError(t, err)

	// Oversized and missing files are skipped, the readable one survives.
	assert.Equal(t, "hello giraffes", doc["content"])
}

type passthroughExtractor struct{}

func (passthroughExtractor) ExtractText(_ context.Context, _ string, data []byte) (string, error) {
	return string(data), nil
}

func TestID_Deterministic(t *testing.T) {
	assert.Equal(t, ID("http://ex.org/a"), ID("http://ex.org/a"))
	assert.NotEqual(t, ID("http://ex.org/a"), ID("http://ex.org/b"))
	assert.Len(t, ID("http://ex.org/a"), 64)
}
