package extract

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingExtractor counts calls to the wrapped service.
type countingExtractor struct {
	calls int
	text  string
	err   error
}

func (f *countingExtractor) ExtractText(ctx context.Context, filename string, data []byte) (string, error) {
	f.calls++
	return f.text, f.err
}

func TestCachingExtractor_RepeatContentIsFree(t *testing.T) {
	inner := &countingExtractor{text: "extracted text"}
	c, err := NewCachingExtractor(inner, t.TempDir(), 10)
	require.NoError(t, err)

	data := []byte("file bytes")
	for i := 0; i < 3; i++ {
		text, err := c.ExtractText(context.Background(), "report.pdf", data)
		require.NoError(t, err)
		assert.Equal(t, "extracted text", text)
	}

	assert.Equal(t, 1, inner.calls)
}

func TestCachingExtractor_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	data := []byte("file bytes")

	inner1 := &countingExtractor{text: "extracted text"}
	c1, err := NewCachingExtractor(inner1, dir, 10)
	require.NoError(t, err)
	_, err = c1.ExtractText(context.Background(), "report.pdf", data)
	require.NoError(t, err)

	// New process: fresh memory layer, same disk cache.
	inner2 := &countingExtractor{text: "should not be called"}
	c2, err := NewCachingExtractor(inner2, dir, 10)
	require.NoError(t, err)
	text, err := c2.ExtractText(context.Background(), "report.pdf", data)
	require.NoError(t, err)

	assert.Equal(t, "extracted text", text)
	assert.Equal(t, 0, inner2.calls)
}

func TestCachingExtractor_EmptyResultCachesPlaceholder(t *testing.T) {
	dir := t.TempDir()
	inner := &countingExtractor{text: ""}
	c, err := NewCachingExtractor(inner, dir, 10)
	require.NoError(t, err)

	data := []byte("unprocessable bytes")
	_, err = c.ExtractText(context.Background(), "image.png", data)
	require.NoError(t, err)
	_, err = c.ExtractText(context.Background(), "image.png", data)
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls, "empty results must not be retried")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	info, err := os.Stat(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestCachingExtractor_ErrorsAreNotCached(t *testing.T) {
	inner := &countingExtractor{err: stderrors.New("service down")}
	c, err := NewCachingExtractor(inner, t.TempDir(), 10)
	require.NoError(t, err)

	data := []byte("file bytes")
	_, err = c.ExtractText(context.Background(), "a.pdf", data)
	require.Error(t, err)

	inner.err = nil
	inner.text = "recovered"
	text, err := c.ExtractText(context.Background(), "a.pdf", data)
	require.NoError(t, err)
	assert.Equal(t, "recovered", text)
	assert.Equal(t, 2, inner.calls)
}

func TestCachingExtractor_DistinctContentDistinctEntries(t *testing.T) {
	inner := &countingExtractor{text: "text"}
	c, err := NewCachingExtractor(inner, t.TempDir(), 10)
	require.NoError(t, err)

	_, err = c.ExtractText(context.Background(), "a.pdf", []byte("content a"))
	require.NoError(t, err)
	_, err = c.ExtractText(context.Background(), "b.pdf", []byte("content b"))
	require.NoError(t, err)

	assert.Equal(t, 2, inner.calls)
}

func TestHTTPClient_ExtractText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/tika", r.URL.Path)
		_, _ = w.Write([]byte("plain text content"))
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{Endpoint: srv.URL})
	text, err := c.ExtractText(context.Background(), "doc.pdf", []byte("%PDF..."))
	require.NoError(t, err)
	assert.Equal(t, "plain text content", text)
}

func TestHTTPClient_UnprocessableIsEmptyNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{Endpoint: srv.URL})
	text, err := c.ExtractText(context.Background(), "weird.bin", []byte{0x00})
	require.NoError(t, err)
	assert.Empty(t, text)
}
