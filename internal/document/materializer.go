// Package document materializes the JSON document to index for one subject:
// it walks the type's property schema, queries the triplestore per property
// path, applies the denumeration rule and literal typing, recurses into
// nested objects and feeds attachments through text extraction.
package document

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/semweb/searchsync/internal/auth"
	"github.com/semweb/searchsync/internal/config"
	"github.com/semweb/searchsync/internal/extract"
	"github.com/semweb/searchsync/internal/search"
	"github.com/semweb/searchsync/internal/sparql"
)

// UUIDPredicate is the predicate carrying a resource's stable identifier.
// The uuid field is always materialized, configured or not; result folding
// depends on it.
const UUIDPredicate = "http://mu.semte.ch/vocabularies/core/uuid"

// shareProtocol prefixes file references resolved against the share root.
const shareProtocol = "share://"

// Materializer builds index documents. It holds no mutable state of its
// own; the extraction cache lives behind the Extractor.
type Materializer struct {
	store       sparql.Executor
	extractor   extract.Extractor
	fileRoot    string
	maxFileSize int64
}

// New creates a materializer. fileRoot anchors share:// references;
// maxFileSize is the extraction ceiling in bytes (0 = no ceiling).
func New(store sparql.Executor, extractor extract.Extractor, fileRoot string, maxFileSize int64) *Materializer {
	return &Materializer{
		store:       store,
		extractor:   extractor,
		fileRoot:    fileRoot,
		maxFileSize: maxFileSize,
	}
}

// ID returns the deterministic document id for a subject URI. It does not
// depend on triplestore state, so a fully deleted subject can still be
// removed from its indexes.
func ID(subject string) string {
	sum := sha256.Sum256([]byte(subject))
	return hex.EncodeToString(sum[:])
}

// Fetch builds the document for subject under the given authorization
// scope. Re-fetching an unchanged subject reproduces the identical shape.
func (m *Materializer) Fetch(ctx context.Context, ac auth.Context, subject string, props map[string]config.PropertyDefinition) (search.Document, error) {
	doc := make(search.Document, len(props)+1)

	// uuid is always present, configured or not.
	uuidPath := config.PropertyPath{{Predicate: UUIDPredicate}}
	uuids, err := m.values(ctx, ac, subject, uuidPath)
	if err != nil {
		return nil, err
	}
	doc["uuid"] = denumerate(convertTerms(uuids))

	// Stable field order keeps log output and failures reproducible.
	fields := make([]string, 0, len(props))
	for field := range props {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		def := props[field]
		value, err := m.property(ctx, ac, subject, def)
		if err != nil {
			return nil, fmt.Errorf("property %q of %s: %w", field, subject, err)
		}
		doc[field] = value
	}
	return doc, nil
}

// property resolves one property to its denumerated value.
func (m *Materializer) property(ctx context.Context, ac auth.Context, subject string, def config.PropertyDefinition) (any, error) {
	terms, err := m.values(ctx, ac, subject, def.Path)
	if err != nil {
		return nil, err
	}

	switch {
	case def.Nested != nil:
		values := make([]any, 0, len(terms))
		for _, term := range terms {
			if !term.IsURI() {
				continue
			}
			sub, err := m.Fetch(ctx, ac, term.Value, def.Nested.Properties)
			if err != nil {
				return nil, err
			}
			values = append(values, sub)
		}
		return denumerate(values), nil

	case def.Attachment:
		values := make([]any, 0, len(terms))
		for _, term := range terms {
			text, ok, err := m.attachment(ctx, term.Value)
			if err != nil {
				return nil, err
			}
			if ok {
				values = append(values, text)
			}
		}
		return denumerate(values), nil

	default:
		return denumerate(convertTerms(terms)), nil
	}
}

// values fetches all bound values of a property path for the subject. The
// result order is made deterministic by sorting on the lexical form.
func (m *Materializer) values(ctx context.Context, ac auth.Context, subject string, path config.PropertyPath) ([]sparql.Term, error) {
	query := fmt.Sprintf("SELECT DISTINCT ?value WHERE { %s %s ?value }",
		sparql.IRI(subject), sparql.Path(path))

	res, err := m.store.Select(ctx, ac, query)
	if err != nil {
		return nil, err
	}
	terms := res.Column("value")
	sort.Slice(terms, func(i, j int) bool { return terms[i].Value < terms[j].Value })
	return terms, nil
}

// attachment reads one file reference, submits it for extraction and
// returns the text. ok is false when the file is skipped (oversized or
// unreadable); only extraction itself can fail the document.
func (m *Materializer) attachment(ctx context.Context, ref string) (string, bool, error) {
	rel := strings.TrimPrefix(ref, shareProtocol)
	path := filepath.Join(m.fileRoot, filepath.Clean("/"+rel))

	info, err := os.Stat(path)
	if err != nil {
		slog.Warn("attachment file unavailable",
			slog.String("file", ref),
			slog.String("error", err.Error()))
		return "", false, nil
	}
	if m.maxFileSize > 0 && info.Size() > m.maxFileSize {
		slog.Warn("attachment exceeds extraction ceiling, indexing without content",
			slog.String("file", ref),
			slog.Int64("size", info.Size()),
			slog.Int64("max", m.maxFileSize))
		return "", false, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("cannot read attachment",
			slog.String("file", ref),
			slog.String("error", err.Error()))
		return "", false, nil
	}

	text, err := m.extractor.ExtractText(ctx, filepath.Base(path), data)
	if err != nil {
		return "", false, err
	}
	return text, true, nil
}

// denumerate applies the multiplicity rule: zero values map to null, one
// to a scalar, several to an array. This is a round-trip contract with the
// search engine mapping, not a convenience.
func denumerate(values []any) any {
	switch len(values) {
	case 0:
		return nil
	case 1:
		return values[0]
	default:
		return values
	}
}

func convertTerms(terms []sparql.Term) []any {
	out := make([]any, len(terms))
	for i, t := range terms {
		out[i] = convertTerm(t)
	}
	return out
}

// convertTerm maps a typed literal to its Go value: integer literals to
// int64, decimal to float64, boolean by case-insensitive comparison to
// "true", date/time literals and everything else to their string form.
func convertTerm(t sparql.Term) any {
	if t.IsURI() {
		return t.Value
	}

	switch t.Datatype {
	case "http://www.w3.org/2001/XMLSchema#integer",
		"http://www.w3.org/2001/XMLSchema#int",
		"http://www.w3.org/2001/XMLSchema#long",
		"http://www.w3.org/2001/XMLSchema#short",
		"http://www.w3.org/2001/XMLSchema#byte",
		"http://www.w3.org/2001/XMLSchema#nonNegativeInteger",
		"http://www.w3.org/2001/XMLSchema#positiveInteger":
		if n, err := strconv.ParseInt(t.Value, 10, 64); err == nil {
			return n
		}
		return t.Value

	case "http://www.w3.org/2001/XMLSchema#decimal",
		"http://www.w3.org/2001/XMLSchema#double",
		"http://www.w3.org/2001/XMLSchema#float":
		if f, err := strconv.ParseFloat(t.Value, 64); err == nil {
			return f
		}
		return t.Value

	case "http://www.w3.org/2001/XMLSchema#boolean":
		return strings.EqualFold(t.Value, "true")

	default:
		// Dates, datetimes, times and plain literals keep their string form.
		return t.Value
	}
}
