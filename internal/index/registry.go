// Package index owns the authoritative set of SearchIndex records: one
// physical index per (type, canonical allowed-group set), resolved on
// demand, tracked in memory and persisted as metadata in an administrative
// graph of the triplestore.
//
// Locking is two-tier. The registry's master lock serializes structural
// mutations only (record lookup/creation, physical index creation) and is
// never held across a rebuild. Each index carries its own lock serializing
// content work, with a condition variable so readers can block until the
// index leaves the updating state.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/semweb/searchsync/internal/auth"
	"github.com/semweb/searchsync/internal/config"
	"github.com/semweb/searchsync/internal/metrics"
	"github.com/semweb/searchsync/internal/search"
	"github.com/semweb/searchsync/internal/sparql"
)

// Status is the lifecycle state of one index.
type Status string

const (
	// StatusValid means the index content matches the triplestore (as of
	// its last build or update).
	StatusValid Status = "valid"
	// StatusInvalid means the index exists but needs a rebuild before its
	// content can be trusted.
	StatusInvalid Status = "invalid"
	// StatusUpdating means a build or update is in flight.
	StatusUpdating Status = "updating"
)

// Vocabulary for persisted index metadata.
const (
	rdfTypeIRI      = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"
	indexClassIRI   = "http://semweb.org/searchsync/vocab#SearchIndex"
	typeNameIRI     = "http://semweb.org/searchsync/vocab#typeName"
	indexNameIRI    = "http://semweb.org/searchsync/vocab#indexName"
	allowedGroupIRI = "http://semweb.org/searchsync/vocab#allowedGroups"
	usedGroupIRI    = "http://semweb.org/searchsync/vocab#usedGroups"
	indexURIBase    = "http://semweb.org/searchsync/indexes/"
)

// SearchIndex is one partitioned index instance. Status transitions happen
// only under its own lock; waiters block on the condition variable until
// the status leaves updating.
type SearchIndex struct {
	URI           string
	Name          string
	TypeName      string
	AllowedGroups []auth.Group
	UsedGroups    []auth.Group

	mu     sync.Mutex
	cond   *sync.Cond
	status Status
	dirty  bool // invalidation arrived while a build was running
}

func newSearchIndex(uri, name, typeName string, allowed, used []auth.Group, status Status) *SearchIndex {
	si := &SearchIndex{
		URI:           uri,
		Name:          name,
		TypeName:      typeName,
		AllowedGroups: allowed,
		UsedGroups:    used,
		status:        status,
	}
	si.cond = sync.NewCond(&si.mu)
	return si
}

// Status returns the current lifecycle state.
func (si *SearchIndex) Status() Status {
	si.mu.Lock()
	defer si.mu.Unlock()
	return si.status
}

// SetStatus transitions the index and wakes any blocked readers.
func (si *SearchIndex) SetStatus(s Status) {
	si.mu.Lock()
	si.status = s
	si.mu.Unlock()
	si.cond.Broadcast()
}

// Invalidate marks the index for a future rebuild. During a running build
// the status is left alone and the index is flagged dirty instead; the
// build-completion path then lands on invalid, since the finished content
// may predate the change that triggered the invalidation.
func (si *SearchIndex) Invalidate() {
	si.mu.Lock()
	if si.status == StatusUpdating {
		si.dirty = true
	} else {
		si.status = StatusInvalid
	}
	si.mu.Unlock()
	si.cond.Broadcast()
}

// completeBuild leaves the updating state. A successful build only counts
// if no invalidation arrived while it ran.
func (si *SearchIndex) completeBuild(success bool) {
	si.mu.Lock()
	if success && !si.dirty {
		si.status = StatusValid
	} else {
		si.status = StatusInvalid
	}
	si.dirty = false
	si.mu.Unlock()
	si.cond.Broadcast()
}

// WaitReady blocks until the index is no longer updating. Stale content
// from before an invalidation is fine to read; content mid-write is not.
func (si *SearchIndex) WaitReady(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		si.mu.Lock()
		for si.status == StatusUpdating {
			si.cond.Wait()
		}
		si.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Scope returns the authorization context this index's content is built
// under.
func (si *SearchIndex) Scope() auth.Context {
	return auth.NewContext(si.AllowedGroups, si.UsedGroups)
}

// Registry resolves, tracks and persists SearchIndex records.
type Registry struct {
	types      *config.TypeConfig
	store      sparql.Executor
	engine     search.Client
	builder    *Builder
	adminGraph string
	additive   bool

	mu    sync.Mutex // master lock: registry structure only
	byKey map[string]*SearchIndex
}

// NewRegistry creates a registry. The builder runs under each index's own
// lock, never under the master lock.
func NewRegistry(types *config.TypeConfig, store sparql.Executor, engine search.Client, builder *Builder, adminGraph string, additive bool) *Registry {
	return &Registry{
		types:      types,
		store:      store,
		engine:     engine,
		builder:    builder,
		adminGraph: adminGraph,
		additive:   additive,
		byKey:      make(map[string]*SearchIndex),
	}
}

// SetTypes swaps the type configuration after a config reload. Existing
// records keep their old schema until invalidated and rebuilt.
func (r *Registry) SetTypes(types *config.TypeConfig) {
	r.mu.Lock()
	r.types = types
	r.mu.Unlock()
	r.builder.SetTypes(types)
}

func key(typeName string, groups []auth.Group) string {
	return typeName + "\x00" + auth.Serialize(groups)
}

// ResolveOrBuild returns the ready-to-query indexes for a request scope,
// creating and building them as needed. In additive mode one index per
// individual allowed group is returned; otherwise one index for the whole
// set. A failed build leaves the index invalid and is not propagated — the
// caller still gets the record, queued for another attempt.
func (r *Registry) ResolveOrBuild(ctx context.Context, ac auth.Context, typeName string) ([]*SearchIndex, error) {
	def, ok := r.types.Get(typeName)
	if !ok {
		return nil, fmt.Errorf("unknown search type %q", typeName)
	}

	groupSets := [][]auth.Group{auth.Canonicalize(ac.AllowedGroups)}
	if r.additive {
		groupSets = nil
		for _, g := range auth.Canonicalize(ac.AllowedGroups) {
			groupSets = append(groupSets, []auth.Group{g})
		}
	}

	out := make([]*SearchIndex, 0, len(groupSets))
	for _, groups := range groupSets {
		si, err := r.resolve(ctx, typeName, def, groups, auth.Canonicalize(ac.UsedGroups))
		if err != nil {
			return nil, err
		}
		r.buildIfInvalid(ctx, si, def)
		out = append(out, si)
	}
	return out, nil
}

// resolve finds or creates the record for one canonical group set. The
// master lock covers the lookup, the metadata insert and the physical
// index creation; it is released before any content work.
func (r *Registry) resolve(ctx context.Context, typeName string, def *config.TypeDefinition, allowed, used []auth.Group) (*SearchIndex, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(typeName, allowed)
	if si, ok := r.byKey[k]; ok {
		return si, nil
	}

	name := auth.IndexName(typeName, allowed)
	uri := indexURIBase + uuid.NewString()
	si := newSearchIndex(uri, name, typeName, allowed, used, StatusInvalid)

	if err := r.persist(ctx, si); err != nil {
		return nil, err
	}
	if err := r.engine.EnsureIndex(ctx, name, def.Mappings, def.Settings); err != nil {
		return nil, err
	}

	r.byKey[k] = si
	slog.Info("search index created",
		slog.String("type", typeName),
		slog.String("index", name),
		slog.String("groups", auth.Serialize(allowed)))
	return si, nil
}

// buildIfInvalid rebuilds an invalid index under its own lock. Build
// failures are logged; the record stays invalid and remains returnable.
func (r *Registry) buildIfInvalid(ctx context.Context, si *SearchIndex, def *config.TypeDefinition) {
	si.mu.Lock()
	if si.status != StatusInvalid {
		si.mu.Unlock()
		return
	}
	si.status = StatusUpdating
	si.mu.Unlock()

	if err := r.builder.Build(ctx, si, def); err != nil {
		slog.Error("index build failed",
			slog.String("index", si.Name),
			slog.String("type", si.TypeName),
			slog.String("error", err.Error()))
		metrics.IndexBuilds.WithLabelValues("failure").Inc()
		si.completeBuild(false)
		return
	}
	metrics.IndexBuilds.WithLabelValues("success").Inc()
	si.completeBuild(true)
}

// ForType returns the tracked indexes of one search type.
func (r *Registry) ForType(typeName string) []*SearchIndex {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*SearchIndex
	for _, si := range r.byKey {
		if si.TypeName == typeName {
			out = append(out, si)
		}
	}
	return out
}

// All returns every tracked index.
func (r *Registry) All() []*SearchIndex {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*SearchIndex, 0, len(r.byKey))
	for _, si := range r.byKey {
		out = append(out, si)
	}
	return out
}

// InvalidateType marks every index of a type for rebuild.
func (r *Registry) InvalidateType(typeName string) {
	for _, si := range r.ForType(typeName) {
		si.Invalidate()
	}
}

// InvalidateAll marks every tracked index for rebuild, e.g. after a type
// configuration change.
func (r *Registry) InvalidateAll() {
	for _, si := range r.All() {
		si.Invalidate()
	}
}

// Remove deletes one index: its metadata record, its in-memory record and
// the physical index. Absence is not an error.
func (r *Registry) Remove(ctx context.Context, typeName string, groups []auth.Group) error {
	groups = auth.Canonicalize(groups)

	r.mu.Lock()
	k := key(typeName, groups)
	si := r.byKey[k]
	delete(r.byKey, k)
	r.mu.Unlock()

	name := auth.IndexName(typeName, groups)
	if si != nil {
		name = si.Name
	}

	if err := r.unpersist(ctx, name); err != nil {
		return err
	}
	return r.engine.DeleteIndex(ctx, name)
}

// RemoveType deletes every tracked index of a type.
func (r *Registry) RemoveType(ctx context.Context, typeName string) error {
	for _, si := range r.ForType(typeName) {
		if err := r.Remove(ctx, typeName, si.AllowedGroups); err != nil {
			return err
		}
	}
	return nil
}

// LoadPersisted rehydrates in-memory records from the administrative graph
// at startup. Persisted indexes are trusted as valid; physical existence
// is not checked here.
func (r *Registry) LoadPersisted(ctx context.Context) error {
	records, err := r.persistedRecords(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		si := newSearchIndex(rec.uri, rec.name, rec.typeName, rec.allowed, rec.used, StatusValid)
		r.byKey[key(rec.typeName, rec.allowed)] = si
	}
	slog.Info("persisted indexes loaded", slog.Int("count", len(records)))
	return nil
}

// DestroyAllPersisted wipes every triplestore-tracked index and its
// physical counterpart. Used when index persistence is disabled.
func (r *Registry) DestroyAllPersisted(ctx context.Context) error {
	records, err := r.persistedRecords(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := r.unpersist(ctx, rec.name); err != nil {
			return err
		}
		if err := r.engine.DeleteIndex(ctx, rec.name); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.byKey = make(map[string]*SearchIndex)
	r.mu.Unlock()

	slog.Info("persisted indexes destroyed", slog.Int("count", len(records)))
	return nil
}

// persist writes the metadata record. Administrative bookkeeping runs
// sudo; it must not depend on any caller's partition.
func (r *Registry) persist(ctx context.Context, si *SearchIndex) error {
	update := fmt.Sprintf(`INSERT DATA { GRAPH %s {
  %s %s %s ;
    %s %s ;
    %s %s ;
    %s %s ;
    %s %s .
} }`,
		sparql.IRI(r.adminGraph),
		sparql.IRI(si.URI), sparql.IRI(rdfTypeIRI), sparql.IRI(indexClassIRI),
		sparql.IRI(typeNameIRI), sparql.Literal(si.TypeName),
		sparql.IRI(indexNameIRI), sparql.Literal(si.Name),
		sparql.IRI(allowedGroupIRI), sparql.Literal(auth.Serialize(si.AllowedGroups)),
		sparql.IRI(usedGroupIRI), sparql.Literal(auth.Serialize(si.UsedGroups)))
	return r.store.Update(ctx, auth.Sudo(), update)
}

// unpersist removes the metadata record(s) carrying the given physical
// index name.
func (r *Registry) unpersist(ctx context.Context, name string) error {
	update := fmt.Sprintf(`DELETE { GRAPH %s { ?uri ?p ?o } }
WHERE { GRAPH %s { ?uri %s %s ; ?p ?o } }`,
		sparql.IRI(r.adminGraph), sparql.IRI(r.adminGraph),
		sparql.IRI(indexNameIRI), sparql.Literal(name))
	return r.store.Update(ctx, auth.Sudo(), update)
}

type persistedRecord struct {
	uri      string
	name     string
	typeName string
	allowed  []auth.Group
	used     []auth.Group
}

func (r *Registry) persistedRecords(ctx context.Context) ([]persistedRecord, error) {
	query := fmt.Sprintf(`SELECT ?uri ?typeName ?name ?allowed ?used WHERE { GRAPH %s {
  ?uri %s %s ;
    %s ?typeName ;
    %s ?name ;
    %s ?allowed .
  OPTIONAL { ?uri %s ?used }
} }`,
		sparql.IRI(r.adminGraph),
		sparql.IRI(rdfTypeIRI), sparql.IRI(indexClassIRI),
		sparql.IRI(typeNameIRI),
		sparql.IRI(indexNameIRI),
		sparql.IRI(allowedGroupIRI),
		sparql.IRI(usedGroupIRI))

	res, err := r.store.Select(ctx, auth.Sudo(), query)
	if err != nil {
		return nil, err
	}

	records := make([]persistedRecord, 0, len(res.Bindings))
	for _, b := range res.Bindings {
		rec := persistedRecord{
			uri:      b["uri"].Value,
			typeName: b["typeName"].Value,
			name:     b["name"].Value,
		}
		allowed, err := auth.Parse(b["allowed"].Value)
		if err != nil {
			slog.Warn("skipping persisted index with unparseable groups",
				slog.String("uri", rec.uri),
				slog.String("error", err.Error()))
			continue
		}
		rec.allowed = auth.Canonicalize(allowed)
		if used, ok := b["used"]; ok && used.Value != "" {
			if parsed, err := auth.Parse(used.Value); err == nil {
				rec.used = auth.Canonicalize(parsed)
			}
		}
		records = append(records, rec)
	}
	return records, nil
}
