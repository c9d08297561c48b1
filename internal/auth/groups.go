// Package auth models the authorization dimension that partitions indexes:
// allowed groups, used groups, and the request context carrying them.
//
// Group sets have one canonical form (deduplicated, sorted on the serialized
// group). Everything that derives identity from a group set (index names,
// registry keys, persisted metadata) goes through this package, so two
// requests with the same groups in a different order always resolve to the
// same index.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Group is one authorization token. Name identifies the access rule;
// Variables scope it (e.g. an organization id).
type Group struct {
	Name      string   `json:"name"`
	Variables []string `json:"variables,omitempty"`
}

// serialize returns the canonical JSON form of a single group.
func (g Group) serialize() string {
	b, _ := json.Marshal(g)
	return string(b)
}

// Canonicalize returns a deduplicated copy of groups sorted on the
// serialized form. The input slice is not modified.
func Canonicalize(groups []Group) []Group {
	seen := make(map[string]struct{}, len(groups))
	out := make([]Group, 0, len(groups))
	for _, g := range groups {
		key := g.serialize()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].serialize() < out[j].serialize()
	})
	return out
}

// Serialize returns the canonical JSON serialization of a group set.
// Equal sets serialize identically regardless of input order.
func Serialize(groups []Group) string {
	b, _ := json.Marshal(Canonicalize(groups))
	return string(b)
}

// Parse decodes a group set from JSON. Both object form
// ([{"name":"g","variables":["v"]}]) and shorthand string form (["g"])
// are accepted; the result is canonical.
func Parse(raw string) ([]Group, error) {
	if raw == "" {
		return nil, nil
	}

	var groups []Group
	if err := json.Unmarshal([]byte(raw), &groups); err == nil {
		return Canonicalize(groups), nil
	}

	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil, fmt.Errorf("cannot parse group set %q: %w", raw, err)
	}
	groups = make([]Group, len(names))
	for i, n := range names {
		groups[i] = Group{Name: n}
	}
	return Canonicalize(groups), nil
}

// IndexName computes the deterministic physical index name for a
// (type, allowed-group-set) pair: hex SHA-256 over the type name and the
// canonical group serialization.
func IndexName(typeName string, allowedGroups []Group) string {
	h := sha256.New()
	h.Write([]byte(typeName))
	h.Write([]byte{0})
	h.Write([]byte(Serialize(allowedGroups)))
	return hex.EncodeToString(h.Sum(nil))
}

// Context is the authorization scope for one data-affecting operation.
// A zero Context sees nothing; use Sudo() for administrative bookkeeping
// that bypasses authorization.
type Context struct {
	AllowedGroups []Group
	UsedGroups    []Group
	Sudo          bool
}

// NewContext builds a request context with canonical group sets.
func NewContext(allowed, used []Group) Context {
	return Context{
		AllowedGroups: Canonicalize(allowed),
		UsedGroups:    Canonicalize(used),
	}
}

// Sudo returns the administrative context that bypasses authorization.
// Only index metadata bookkeeping and delta impact analysis may use it.
func Sudo() Context {
	return Context{Sudo: true}
}
