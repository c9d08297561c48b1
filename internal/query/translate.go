// Package query translates the public filter syntax into search engine
// query DSL. Translation is a pure function of its inputs; all I/O stays
// in the server and search packages.
//
// A filter key is either a plain field name or ":modifier:field[,field]".
// The value string is opaque to the modifier except where the modifier
// defines structured splitting (field lists, term lists, range bounds).
package query

import (
	"fmt"
	"strconv"
	"strings"

	syncerrors "github.com/semweb/searchsync/internal/errors"
)

// Filter is one raw filter parameter.
type Filter struct {
	Key   string
	Value string
}

// SortField orders results by one field.
type SortField struct {
	Field string
	Order string // "asc" or "desc"
}

// Page selects the result window. From is always Number*Size.
type Page struct {
	Number int
	Size   int
}

// DefaultPageSize applies when no size is given.
const DefaultPageSize = 10

// DefaultCommonCutoff is the cutoff frequency for the common-terms
// modifier when the filter does not carry one.
const DefaultCommonCutoff = 0.001

// UUIDField is the identifier field result folding collapses on.
const UUIDField = "uuid"

// Options tunes translation independent of the request.
type Options struct {
	// CollapseUUIDs folds hits sharing a uuid and attaches a
	// distinct-count aggregation.
	CollapseUUIDs bool
	// ExcludeFields are always dropped from returned sources, regardless
	// of the request. Extracted attachment text is indexed, never echoed.
	ExcludeFields []string
	// CommonCutoff overrides DefaultCommonCutoff when positive.
	CommonCutoff float64
}

// Translate builds the engine query document.
func Translate(filters []Filter, sorts []SortField, page Page, opts Options) (map[string]any, error) {
	clauses := make([]map[string]any, 0, len(filters))
	for _, f := range filters {
		clause, err := translateFilter(f, opts)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
	}

	body := map[string]any{}
	switch len(clauses) {
	case 0:
		body["query"] = map[string]any{"match_all": map[string]any{}}
	case 1:
		body["query"] = clauses[0]
	default:
		musts := make([]any, len(clauses))
		for i, c := range clauses {
			musts[i] = c
		}
		body["query"] = map[string]any{"bool": map[string]any{"must": musts}}
	}

	size := page.Size
	if size <= 0 {
		size = DefaultPageSize
	}
	number := page.Number
	if number < 0 {
		number = 0
	}
	body["from"] = number * size
	body["size"] = size

	if len(sorts) > 0 {
		sortDoc := make([]any, len(sorts))
		for i, s := range sorts {
			order := s.Order
			if order != "desc" {
				order = "asc"
			}
			sortDoc[i] = map[string]any{s.Field: map[string]any{"order": order}}
		}
		body["sort"] = sortDoc
	}

	if len(opts.ExcludeFields) > 0 {
		excludes := make([]any, len(opts.ExcludeFields))
		for i, f := range opts.ExcludeFields {
			excludes[i] = f
		}
		body["_source"] = map[string]any{"excludes": excludes}
	}

	if opts.CollapseUUIDs {
		body["collapse"] = map[string]any{"field": UUIDField}
		body["aggs"] = map[string]any{
			"distinct_count": map[string]any{
				"cardinality": map[string]any{"field": UUIDField},
			},
		}
	}

	return body, nil
}

// translateFilter maps one filter parameter to a query clause.
func translateFilter(f Filter, opts Options) (map[string]any, error) {
	modifier, fields, err := parseKey(f.Key)
	if err != nil {
		return nil, err
	}

	name, args := splitModifier(modifier)
	switch name {
	case "", "phrase", "phrase_prefix":
		return multiMatch(f.Value, fields, name), nil
	case "fuzzy":
		m := multiMatch(f.Value, fields, "")
		m["multi_match"].(map[string]any)["fuzziness"] = "AUTO"
		return m, nil
	case "term", "prefix", "wildcard", "regexp":
		field, err := singleField(name, fields)
		if err != nil {
			return nil, err
		}
		return map[string]any{name: map[string]any{field: f.Value}}, nil
	case "terms":
		field, err := singleField(name, fields)
		if err != nil {
			return nil, err
		}
		values := strings.Split(f.Value, ",")
		list := make([]any, len(values))
		for i, v := range values {
			list[i] = v
		}
		return map[string]any{"terms": map[string]any{field: list}}, nil
	case "fuzzy_phrase":
		field, err := singleField(name, fields)
		if err != nil {
			return nil, err
		}
		return fuzzyPhrase(field, f.Value), nil
	case "gt", "gte", "lt", "lte":
		field, err := singleField(name, fields)
		if err != nil {
			return nil, err
		}
		return rangeClause(field, []string{name}, []string{f.Value})
	case "has":
		field, err := singleField(name, fields)
		if err != nil {
			return nil, err
		}
		return map[string]any{"exists": map[string]any{"field": field}}, nil
	case "has-no":
		field, err := singleField(name, fields)
		if err != nil {
			return nil, err
		}
		return map[string]any{"bool": map[string]any{
			"must_not": map[string]any{"exists": map[string]any{"field": field}},
		}}, nil
	case "query":
		field, err := singleField(name, fields)
		if err != nil {
			return nil, err
		}
		return map[string]any{"query_string": map[string]any{
			"default_field": field,
			"query":         f.Value,
		}}, nil
	case "sqs":
		sqs := map[string]any{"query": f.Value}
		if len(fields) > 0 && !(len(fields) == 1 && fields[0] == "*") {
			fieldList := make([]any, len(fields))
			for i, fld := range fields {
				fieldList[i] = fld
			}
			sqs["fields"] = fieldList
		}
		return map[string]any{"simple_query_string": sqs}, nil
	case "common":
		field, err := singleField(name, fields)
		if err != nil {
			return nil, err
		}
		return commonClause(field, f.Value, args, opts)
	default:
		if isRangePair(name) {
			field, err := singleField(name, fields)
			if err != nil {
				return nil, err
			}
			bounds := strings.Split(name, ",")
			values := strings.SplitN(f.Value, ",", len(bounds))
			return rangeClause(field, bounds, values)
		}
		return nil, syncerrors.New(syncerrors.ErrCodeInvalidFilter,
			fmt.Sprintf("unknown filter modifier %q", name), nil)
	}
}

// parseKey splits a filter key into modifier and field list.
func parseKey(key string) (modifier string, fields []string, err error) {
	if key == "" {
		return "", nil, syncerrors.New(syncerrors.ErrCodeInvalidFilter, "empty filter key", nil)
	}
	raw := key
	if strings.HasPrefix(key, ":") {
		rest := key[1:]
		idx := strings.Index(rest, ":")
		if idx < 0 {
			return "", nil, syncerrors.New(syncerrors.ErrCodeInvalidFilter,
				fmt.Sprintf("malformed filter key %q", key), nil)
		}
		modifier = rest[:idx]
		raw = rest[idx+1:]
	}
	for _, f := range strings.Split(raw, ",") {
		if f != "" {
			fields = append(fields, f)
		}
	}
	if len(fields) == 0 {
		return "", nil, syncerrors.New(syncerrors.ErrCodeInvalidFilter,
			fmt.Sprintf("filter key %q names no fields", key), nil)
	}
	return modifier, fields, nil
}

// splitModifier separates a modifier's name from its comma-joined
// arguments (e.g. "common,0.002,2"). Range pairs like "gte,lte" are not
// arguments and are handled by the caller.
func splitModifier(modifier string) (string, []string) {
	parts := strings.Split(modifier, ",")
	if parts[0] == "common" && len(parts) > 1 {
		return "common", parts[1:]
	}
	return modifier, nil
}

// singleField enforces the one-field contract of exact-match modifiers.
// Silently picking the first field would hide a caller bug.
func singleField(modifier string, fields []string) (string, error) {
	if len(fields) != 1 {
		return "", syncerrors.New(syncerrors.ErrCodeFieldCardinality,
			fmt.Sprintf("modifier %q takes exactly one field, got %d", modifier, len(fields)), nil)
	}
	return fields[0], nil
}

func multiMatch(value string, fields []string, matchType string) map[string]any {
	fieldList := make([]any, len(fields))
	for i, f := range fields {
		fieldList[i] = f
	}
	m := map[string]any{
		"query":  value,
		"fields": fieldList,
	}
	if matchType != "" {
		m["type"] = matchType
	}
	return map[string]any{"multi_match": m}
}

// fuzzyPhrase builds an ordered zero-slop span query of fuzzy term
// clauses: the terms must appear in order, each matched fuzzily.
func fuzzyPhrase(field, value string) map[string]any {
	terms := strings.Fields(value)
	clauses := make([]any, len(terms))
	for i, term := range terms {
		clauses[i] = map[string]any{
			"span_multi": map[string]any{
				"match": map[string]any{
					"fuzzy": map[string]any{field: map[string]any{"value": term}},
				},
			},
		}
	}
	return map[string]any{"span_near": map[string]any{
		"clauses":  clauses,
		"slop":     0,
		"in_order": true,
	}}
}

var rangeBounds = map[string]bool{"gt": true, "gte": true, "lt": true, "lte": true}

// isRangePair reports whether the modifier is a validated combination of
// one lower and one upper bound.
func isRangePair(modifier string) bool {
	parts := strings.Split(modifier, ",")
	if len(parts) != 2 {
		return false
	}
	lower := parts[0] == "gt" || parts[0] == "gte"
	upper := parts[1] == "lt" || parts[1] == "lte"
	return lower && upper
}

func rangeClause(field string, bounds, values []string) (map[string]any, error) {
	if len(values) != len(bounds) {
		return nil, syncerrors.New(syncerrors.ErrCodeInvalidFilter,
			fmt.Sprintf("range filter on %q needs %d comma-separated values, got %d",
				field, len(bounds), len(values)), nil)
	}
	rng := make(map[string]any, len(bounds))
	for i, b := range bounds {
		if !rangeBounds[b] {
			return nil, syncerrors.New(syncerrors.ErrCodeInvalidFilter,
				fmt.Sprintf("unknown range bound %q", b), nil)
		}
		rng[b] = values[i]
	}
	return map[string]any{"range": map[string]any{field: rng}}, nil
}

func commonClause(field, value string, args []string, opts Options) (map[string]any, error) {
	cutoff := opts.CommonCutoff
	if cutoff <= 0 {
		cutoff = DefaultCommonCutoff
	}
	if len(args) > 0 && args[0] != "" {
		parsed, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return nil, syncerrors.New(syncerrors.ErrCodeInvalidFilter,
				fmt.Sprintf("common cutoff %q is not a number", args[0]), err)
		}
		cutoff = parsed
	}

	common := map[string]any{
		"query":            value,
		"cutoff_frequency": cutoff,
	}
	if len(args) > 1 && args[1] != "" {
		common["minimum_should_match"] = args[1]
	}
	return map[string]any{"common": map[string]any{field: common}}, nil
}
