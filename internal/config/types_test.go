package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncerrors "github.com/semweb/searchsync/internal/errors"
)

const sampleTypes = `
types:
  - name: documents
    rdf_type: http://example.org/Document
    properties:
      title: http://purl.org/dc/terms/title
      description: http://purl.org/dc/terms/description
      data:
        path: http://example.org/fileDataObject
        attachment: true
      author:
        path: ^http://example.org/authored
        nested:
          rdf_type: http://xmlns.com/foaf/0.1/Person
          properties:
            name: http://xmlns.com/foaf/0.1/name
  - name: cases
    rdf_type: http://example.org/Case
    properties:
      title: http://purl.org/dc/terms/title
      document: http://example.org/hasDocument/http://purl.org/dc/terms/title
  - name: everything
    composed_of:
      - type: documents
        properties:
          name: title
      - type: cases
`

func TestParseTypes_Simple(t *testing.T) {
	tc, err := ParseTypes([]byte(sampleTypes))
	require.NoError(t, err)

	doc, ok := tc.Get("documents")
	require.True(t, ok)
	assert.Equal(t, "http://example.org/Document", doc.RDFType)
	assert.False(t, doc.IsComposite())

	title := doc.Properties["title"]
	require.Len(t, title.Path, 1)
	assert.Equal(t, "http://purl.org/dc/terms/title", title.Path[0].Predicate)
	assert.False(t, title.Path[0].Inverse)

	data := doc.Properties["data"]
	assert.True(t, data.Attachment)

	author := doc.Properties["author"]
	require.NotNil(t, author.Nested)
	assert.True(t, author.Path[0].Inverse)
	assert.Equal(t, "http://example.org/authored", author.Path[0].Predicate)
	assert.Equal(t, "http://xmlns.com/foaf/0.1/Person", author.Nested.RDFType)
}

func TestParseTypes_MultiHopPath(t *testing.T) {
	tc, err := ParseTypes([]byte(sampleTypes))
	require.NoError(t, err)

	cases, _ := tc.Get("cases")
	path := cases.Properties["document"].Path
	require.Len(t, path, 2)
	assert.Equal(t, "http://example.org/hasDocument", path[0].Predicate)
	assert.Equal(t, "http://purl.org/dc/terms/title", path[1].Predicate)
}

func TestParsePath_InverseHops(t *testing.T) {
	path, err := ParsePath("^http://a.org/p1/http://a.org/p2")
	require.NoError(t, err)

	require.Len(t, path, 2)
	assert.True(t, path[0].Inverse)
	assert.False(t, path[1].Inverse)
	assert.Equal(t, "^http://a.org/p1/http://a.org/p2", path.String())
}

func TestExpand_SimpleTypeIsItself(t *testing.T) {
	tc, err := ParseTypes([]byte(sampleTypes))
	require.NoError(t, err)

	doc, _ := tc.Get("documents")
	schemas, err := tc.Expand(doc)
	require.NoError(t, err)

	require.Len(t, schemas, 1)
	assert.Equal(t, "documents", schemas[0].TypeName)
	assert.Len(t, schemas[0].Properties, 4)
}

func TestExpand_CompositeRemapsFields(t *testing.T) {
	tc, err := ParseTypes([]byte(sampleTypes))
	require.NoError(t, err)

	comp, _ := tc.Get("everything")
	require.True(t, comp.IsComposite())

	schemas, err := tc.Expand(comp)
	require.NoError(t, err)
	require.Len(t, schemas, 2)

	// First constituent renames "title" to "name" and drops the rest.
	docs := schemas[0]
	assert.Equal(t, "documents", docs.TypeName)
	require.Len(t, docs.Properties, 1)
	assert.Equal(t, "http://purl.org/dc/terms/title", docs.Properties["name"].Path[0].Predicate)

	// Second constituent inherits all properties unchanged.
	cases := schemas[1]
	assert.Equal(t, "cases", cases.TypeName)
	assert.Len(t, cases.Properties, 2)
}

func TestParseTypes_UnknownConstituent(t *testing.T) {
	_, err := ParseTypes([]byte(`
types:
  - name: broken
    composed_of:
      - type: missing
`))
	require.Error(t, err)
	assert.Equal(t, syncerrors.ErrCodeUnknownType, syncerrors.GetCode(err))
}

func TestParseTypes_CompositePropertyMismatch(t *testing.T) {
	_, err := ParseTypes([]byte(`
types:
  - name: documents
    rdf_type: http://example.org/Document
    properties:
      title: http://purl.org/dc/terms/title
  - name: broken
    composed_of:
      - type: documents
        properties:
          name: no_such_property
`))
	require.Error(t, err)
	assert.Equal(t, syncerrors.ErrCodeCompositeMismatch, syncerrors.GetCode(err))
}

func TestParseTypes_DuplicateName(t *testing.T) {
	_, err := ParseTypes([]byte(`
types:
  - name: documents
    rdf_type: http://example.org/A
  - name: documents
    rdf_type: http://example.org/B
`))
	assert.Error(t, err)
}

func TestAttachmentFields(t *testing.T) {
	tc, err := ParseTypes([]byte(sampleTypes))
	require.NoError(t, err)

	doc, _ := tc.Get("documents")
	assert.Equal(t, []string{"data"}, tc.AttachmentFields(doc))

	cases, _ := tc.Get("cases")
	assert.Empty(t, tc.AttachmentFields(cases))
}
