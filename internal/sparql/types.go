// Package sparql talks to the triplestore over the SPARQL 1.1 protocol.
//
// Every call carries an auth.Context; the allowed/used group sets travel as
// request headers so the endpoint restricts visible data to the caller's
// partition. Using the wrong context here is the critical correctness bug
// class for the whole system, so nothing in this package defaults to sudo.
package sparql

import (
	"context"

	"github.com/semweb/searchsync/internal/auth"
)

// Term is one RDF term bound in a query solution.
type Term struct {
	// Type is "uri", "literal", "typed-literal" or "bnode".
	Type string `json:"type"`
	// Value is the lexical form.
	Value string `json:"value"`
	// Datatype is the literal datatype IRI, when typed.
	Datatype string `json:"datatype,omitempty"`
	// Lang is the literal language tag, when present.
	Lang string `json:"xml:lang,omitempty"`
}

// IsURI reports whether the term is an IRI.
func (t Term) IsURI() bool {
	return t.Type == "uri"
}

// Binding maps variable names to bound terms for one solution.
type Binding map[string]Term

// Results is a parsed SPARQL SELECT result set.
type Results struct {
	Vars     []string
	Bindings []Binding
}

// Column returns all terms bound to the given variable, skipping solutions
// where it is unbound.
func (r *Results) Column(name string) []Term {
	out := make([]Term, 0, len(r.Bindings))
	for _, b := range r.Bindings {
		if t, ok := b[name]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Executor runs queries and updates against the triplestore. The HTTP
// client implements it; tests substitute fakes.
type Executor interface {
	// Select runs a SELECT query under the given authorization scope.
	Select(ctx context.Context, ac auth.Context, query string) (*Results, error)
	// Ask runs an ASK query under the given authorization scope.
	Ask(ctx context.Context, ac auth.Context, query string) (bool, error)
	// Update runs an INSERT/DELETE update under the given scope.
	Update(ctx context.Context, ac auth.Context, query string) error
}
