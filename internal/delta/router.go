// Package delta routes triplestore change notifications to the change
// queue. A delta only says which triple moved; the router's job is to find
// which indexed root subjects that triple affects, walking backwards along
// configured property paths where needed.
package delta

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/semweb/searchsync/internal/auth"
	"github.com/semweb/searchsync/internal/config"
	"github.com/semweb/searchsync/internal/metrics"
	"github.com/semweb/searchsync/internal/sparql"
	"github.com/semweb/searchsync/internal/update"
)

const rdfTypeIRI = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"

// Triple is one changed statement.
type Triple struct {
	Subject   sparql.Term `json:"subject"`
	Predicate sparql.Term `json:"predicate"`
	Object    sparql.Term `json:"object"`
}

// ChangeSet is one delta message: the triples inserted and deleted by a
// single transaction.
type ChangeSet struct {
	Inserts []Triple `json:"inserts"`
	Deletes []Triple `json:"deletes"`
}

// Enqueuer is the slice of the change queue the router needs.
type Enqueuer interface {
	Enqueue(subject, indexType string, kind update.ChangeKind)
}

// binding locates one predicate occurrence inside a type's property path.
type binding struct {
	typeName string
	rdfType  string // root constituent class
	path     config.PropertyPath
	hop      int
	inverse  bool
}

// Router resolves delta triples to affected (subject, type) pairs. Impact
// analysis queries run sudo: which partitions see the subject is decided
// later, per index, by the update strategy.
//
// Deltas touching only a composite constituent's own predicates resolve
// through that constituent's paths; a predicate not mentioned in any path
// is invisible here even when a rebuild would pick its effect up.
type Router struct {
	store sparql.Executor
	queue Enqueuer

	mu          sync.RWMutex
	byClass     map[string][]string
	byPredicate map[string][]binding
}

// NewRouter builds the routing tables from the type configuration.
func NewRouter(types *config.TypeConfig, store sparql.Executor, queue Enqueuer) (*Router, error) {
	r := &Router{store: store, queue: queue}
	if err := r.rebuild(types); err != nil {
		return nil, err
	}
	return r, nil
}

// SetTypes rebuilds the routing tables after a config reload.
func (r *Router) SetTypes(types *config.TypeConfig) error {
	return r.rebuild(types)
}

func (r *Router) rebuild(types *config.TypeConfig) error {
	byClass := make(map[string][]string)
	byPredicate := make(map[string][]binding)

	for i := range types.Types {
		def := &types.Types[i]
		constituents, err := types.Expand(def)
		if err != nil {
			return err
		}
		for _, c := range constituents {
			byClass[c.RDFType] = append(byClass[c.RDFType], def.Name)
			for _, prop := range c.Properties {
				for hop, step := range prop.Path {
					byPredicate[step.Predicate] = append(byPredicate[step.Predicate], binding{
						typeName: def.Name,
						rdfType:  c.RDFType,
						path:     prop.Path,
						hop:      hop,
						inverse:  step.Inverse,
					})
				}
			}
		}
	}

	r.mu.Lock()
	r.byClass = byClass
	r.byPredicate = byPredicate
	r.mu.Unlock()
	return nil
}

func (r *Router) classTypes(class string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byClass[class]
}

func (r *Router) predicateBindings(predicate string) []binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byPredicate[predicate]
}

// Route consumes a batch of change sets, enqueueing every affected root
// subject. Unroutable triples are skipped silently: most graph traffic
// does not concern any search type.
func (r *Router) Route(ctx context.Context, batch []ChangeSet) {
	for _, cs := range batch {
		for _, t := range cs.Deletes {
			metrics.DeltasReceived.WithLabelValues("delete").Inc()
			r.routeTriple(ctx, t, false)
		}
		for _, t := range cs.Inserts {
			metrics.DeltasReceived.WithLabelValues("insert").Inc()
			r.routeTriple(ctx, t, true)
		}
	}
}

func (r *Router) routeTriple(ctx context.Context, t Triple, inserted bool) {
	if !t.Subject.IsURI() || !t.Predicate.IsURI() {
		return
	}

	if t.Predicate.Value == rdfTypeIRI {
		r.routeTypeTriple(t, inserted)
		return
	}

	for _, b := range r.predicateBindings(t.Predicate.Value) {
		roots, err := r.resolveRoots(ctx, t, b, inserted)
		if err != nil {
			slog.Error("delta impact analysis failed",
				slog.String("subject", t.Subject.Value),
				slog.String("predicate", t.Predicate.Value),
				slog.String("type", b.typeName),
				slog.String("error", err.Error()))
			continue
		}
		for _, root := range roots {
			r.queue.Enqueue(root, b.typeName, update.KindUpdate)
		}
	}
}

// routeTypeTriple handles rdf:type changes: the subject is the affected
// root directly. Losing the class membership means the document must go,
// not merely change.
func (r *Router) routeTypeTriple(t Triple, inserted bool) {
	if !t.Object.IsURI() {
		return
	}
	kind := update.KindUpdate
	if !inserted {
		kind = update.KindDelete
	}
	for _, typeName := range r.classTypes(t.Object.Value) {
		r.queue.Enqueue(t.Subject.Value, typeName, kind)
	}
}

// resolveRoots finds the indexed root subjects a changed triple reaches
// through one path binding. The anchor is the path node the changed hop
// starts from; for an inverse hop that is the triple's object. From the
// anchor the path prefix is walked backwards to candidate roots, each
// confirmed to carry the root class. For insertions the rest of the path
// beyond the changed triple must also still resolve; a deletion's rest of
// path cannot be re-checked against the already-changed graph.
func (r *Router) resolveRoots(ctx context.Context, t Triple, b binding, inserted bool) ([]string, error) {
	anchor, other := t.Subject, t.Object
	if b.inverse {
		anchor, other = t.Object, t.Subject
	}
	if !anchor.IsURI() {
		return nil, nil
	}

	rest := b.path[b.hop+1:]
	if inserted && len(rest) > 0 {
		if !other.IsURI() {
			return nil, nil
		}
		resolves, err := r.store.Ask(ctx, auth.Sudo(), fmt.Sprintf(
			"ASK { %s %s ?tail }", sparql.IRI(other.Value), sparql.Path(rest)))
		if err != nil {
			return nil, err
		}
		if !resolves {
			return nil, nil
		}
	}

	if b.hop == 0 {
		isRoot, err := r.store.Ask(ctx, auth.Sudo(), fmt.Sprintf(
			"ASK { %s %s %s }",
			sparql.IRI(anchor.Value), sparql.IRI(rdfTypeIRI), sparql.IRI(b.rdfType)))
		if err != nil {
			return nil, err
		}
		if !isRoot {
			return nil, nil
		}
		return []string{anchor.Value}, nil
	}

	prefix := b.path[:b.hop]
	query := fmt.Sprintf(
		"SELECT DISTINCT ?root WHERE { ?root %s %s . ?root %s %s }",
		sparql.IRI(rdfTypeIRI), sparql.IRI(b.rdfType),
		sparql.Path(prefix), sparql.IRI(anchor.Value))
	res, err := r.store.Select(ctx, auth.Sudo(), query)
	if err != nil {
		return nil, err
	}

	var roots []string
	for _, term := range res.Column("root") {
		if term.IsURI() {
			roots = append(roots, term.Value)
		}
	}
	return roots, nil
}
