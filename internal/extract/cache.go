package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"

	syncerrors "github.com/semweb/searchsync/internal/errors"
)

// DefaultCacheEntries sizes the in-memory layer of the cache.
const DefaultCacheEntries = 1024

// CachingExtractor wraps an Extractor with a two-layer cache keyed by
// content SHA-256: an LRU in memory and one file per hash on disk. Repeat
// requests for byte-identical content are free, including across restarts.
// Empty extraction results are cached too, as an empty placeholder, so
// unprocessable files are not retried.
type CachingExtractor struct {
	inner Extractor
	dir   string
	mem   *lru.Cache[string, string]
}

var _ Extractor = (*CachingExtractor)(nil)

// NewCachingExtractor creates the caching wrapper. dir is the on-disk cache
// root; it is created if missing.
func NewCachingExtractor(inner Extractor, dir string, entries int) (*CachingExtractor, error) {
	if entries <= 0 {
		entries = DefaultCacheEntries
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, syncerrors.New(syncerrors.ErrCodeCacheStore, "cannot create extraction cache dir", err)
	}
	mem, _ := lru.New[string, string](entries)
	return &CachingExtractor{inner: inner, dir: dir, mem: mem}, nil
}

// ExtractText implements Extractor.
func (c *CachingExtractor) ExtractText(ctx context.Context, filename string, data []byte) (string, error) {
	hash := contentHash(data)

	if text, ok := c.mem.Get(hash); ok {
		return text, nil
	}

	path := filepath.Join(c.dir, hash+".txt")
	if cached, err := os.ReadFile(path); err == nil {
		text := string(cached)
		c.mem.Add(hash, text)
		return text, nil
	}

	text, err := c.inner.ExtractText(ctx, filename, data)
	if err != nil {
		return "", err
	}

	if writeErr := os.WriteFile(path, []byte(text), 0o644); writeErr != nil {
		// The cache is an optimization; extraction still succeeded.
		slog.Warn("cannot persist extraction cache entry",
			slog.String("hash", hash),
			slog.String("error", writeErr.Error()))
	}
	c.mem.Add(hash, text)
	return text, nil
}

// contentHash returns the hex SHA-256 of the file bytes.
func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
