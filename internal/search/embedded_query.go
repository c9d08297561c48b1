package search

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

// buildBleveRequest converts a query-DSL document into a Bleve search
// request plus the list of source fields to exclude from hits.
func buildBleveRequest(body map[string]any) (*bleve.SearchRequest, []string, error) {
	size := 10
	from := 0
	if v, ok := asInt(body["size"]); ok {
		size = v
	}
	if v, ok := asInt(body["from"]); ok {
		from = v
	}

	var q query.Query = bleve.NewMatchAllQuery()
	if raw, ok := body["query"].(map[string]any); ok {
		var err error
		q, err = translateClause(raw)
		if err != nil {
			return nil, nil, err
		}
	}

	req := bleve.NewSearchRequestOptions(q, size, from, false)
	req.Fields = []string{"*"}

	if sortSpec, ok := body["sort"]; ok {
		req.SortBy(translateSort(sortSpec))
	}

	var excludes []string
	if src, ok := body["_source"].(map[string]any); ok {
		if raw, ok := src["excludes"].([]any); ok {
			for _, f := range raw {
				if s, ok := f.(string); ok {
					excludes = append(excludes, s)
				}
			}
		} else if raw, ok := src["excludes"].([]string); ok {
			excludes = raw
		}
	}

	return req, excludes, nil
}

// translateClause maps one query-DSL clause onto a Bleve query.
func translateClause(clause map[string]any) (query.Query, error) {
	if len(clause) != 1 {
		return nil, fmt.Errorf("query clause must have exactly one key, got %d", len(clause))
	}

	for kind, raw := range clause {
		switch kind {
		case "match_all":
			return bleve.NewMatchAllQuery(), nil
		case "bool":
			return translateBool(raw)
		case "multi_match":
			return translateMultiMatch(raw)
		case "match", "match_phrase", "common":
			return translateMatch(kind, raw)
		case "term":
			return translateTerm(raw)
		case "terms":
			return translateTerms(raw)
		case "prefix":
			return translateSingleField(raw, func(field, val string) query.Query {
				q := bleve.NewPrefixQuery(val)
				q.SetField(field)
				return q
			})
		case "wildcard":
			return translateSingleField(raw, func(field, val string) query.Query {
				q := bleve.NewWildcardQuery(val)
				q.SetField(field)
				return q
			})
		case "regexp":
			return translateSingleField(raw, func(field, val string) query.Query {
				q := bleve.NewRegexpQuery(val)
				q.SetField(field)
				return q
			})
		case "range":
			return translateRange(raw)
		case "exists":
			return translateExists(raw)
		case "query_string", "simple_query_string":
			return translateQueryString(raw)
		default:
			return nil, fmt.Errorf("query clause %q is not supported by the embedded backend", kind)
		}
	}
	return nil, fmt.Errorf("empty query clause")
}

func translateBool(raw any) (query.Query, error) {
	spec, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("bool clause must be an object")
	}

	q := bleve.NewBooleanQuery()
	for section, add := range map[string]func(...query.Query){
		"must":     q.AddMust,
		"should":   q.AddShould,
		"must_not": q.AddMustNot,
		"filter":   q.AddMust,
	} {
		sub, ok := spec[section]
		if !ok {
			continue
		}
		clauses, err := translateClauseList(sub)
		if err != nil {
			return nil, err
		}
		add(clauses...)
	}
	// A must_not on its own needs a positive side to match against.
	if spec["must"] == nil && spec["should"] == nil && spec["filter"] == nil {
		q.AddMust(bleve.NewMatchAllQuery())
	}
	return q, nil
}

func translateClauseList(raw any) ([]query.Query, error) {
	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case []map[string]any:
		for _, m := range v {
			items = append(items, m)
		}
	case map[string]any:
		items = []any{v}
	default:
		return nil, fmt.Errorf("bool section must be a clause or list of clauses")
	}

	out := make([]query.Query, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("bool section item must be an object")
		}
		q, err := translateClause(m)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func translateMultiMatch(raw any) (query.Query, error) {
	spec, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("multi_match clause must be an object")
	}
	text, _ := spec["query"].(string)
	fields := asStringSlice(spec["fields"])
	matchType, _ := spec["type"].(string)
	_, fuzzy := spec["fuzziness"]

	if len(fields) == 0 {
		q := bleve.NewMatchQuery(text)
		return q, nil
	}

	per := make([]query.Query, 0, len(fields))
	for _, field := range fields {
		var q query.Query
		switch {
		case matchType == "phrase":
			mq := bleve.NewMatchPhraseQuery(text)
			mq.SetField(field)
			q = mq
		case matchType == "phrase_prefix":
			// Approximated as a phrase match; good enough for dev mode.
			mq := bleve.NewMatchPhraseQuery(text)
			mq.SetField(field)
			q = mq
		case fuzzy:
			mq := bleve.NewMatchQuery(text)
			mq.SetField(field)
			mq.SetFuzziness(1)
			q = mq
		default:
			mq := bleve.NewMatchQuery(text)
			mq.SetField(field)
			q = mq
		}
		per = append(per, q)
	}
	if len(per) == 1 {
		return per[0], nil
	}
	return bleve.NewDisjunctionQuery(per...), nil
}

func translateMatch(kind string, raw any) (query.Query, error) {
	spec, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s clause must be an object", kind)
	}
	for field, v := range spec {
		text := ""
		switch tv := v.(type) {
		case string:
			text = tv
		case map[string]any:
			text, _ = tv["query"].(string)
		}
		if kind == "match_phrase" {
			q := bleve.NewMatchPhraseQuery(text)
			q.SetField(field)
			return q, nil
		}
		q := bleve.NewMatchQuery(text)
		q.SetField(field)
		return q, nil
	}
	return nil, fmt.Errorf("%s clause without a field", kind)
}

func translateTerm(raw any) (query.Query, error) {
	spec, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("term clause must be an object")
	}
	for field, v := range spec {
		return termValueQuery(field, v), nil
	}
	return nil, fmt.Errorf("term clause without a field")
}

func termValueQuery(field string, v any) query.Query {
	switch tv := v.(type) {
	case bool:
		q := bleve.NewBoolFieldQuery(tv)
		q.SetField(field)
		return q
	case float64, int, int64:
		f, _ := asFloat(v)
		truthy := true
		q := bleve.NewNumericRangeInclusiveQuery(&f, &f, &truthy, &truthy)
		q.SetField(field)
		return q
	default:
		q := bleve.NewTermQuery(fmt.Sprint(v))
		q.SetField(field)
		return q
	}
}

func translateTerms(raw any) (query.Query, error) {
	spec, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("terms clause must be an object")
	}
	for field, v := range spec {
		values, ok := v.([]any)
		if !ok {
			if strs, ok := v.([]string); ok {
				for _, s := range strs {
					values = append(values, s)
				}
			} else {
				return nil, fmt.Errorf("terms clause for %q must carry a list", field)
			}
		}
		per := make([]query.Query, 0, len(values))
		for _, val := range values {
			per = append(per, termValueQuery(field, val))
		}
		return bleve.NewDisjunctionQuery(per...), nil
	}
	return nil, fmt.Errorf("terms clause without a field")
}

func translateSingleField(raw any, build func(field, val string) query.Query) (query.Query, error) {
	spec, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("clause must be an object")
	}
	for field, v := range spec {
		return build(field, fmt.Sprint(v)), nil
	}
	return nil, fmt.Errorf("clause without a field")
}

func translateRange(raw any) (query.Query, error) {
	spec, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("range clause must be an object")
	}
	for field, v := range spec {
		bounds, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("range bounds for %q must be an object", field)
		}

		numeric := true
		for _, bound := range bounds {
			if _, ok := asFloat(bound); !ok {
				numeric = false
				break
			}
		}

		if numeric {
			var min, max *float64
			var minInc, maxInc bool
			if v, ok := asFloat(bounds["gte"]); ok {
				min, minInc = &v, true
			}
			if v, ok := asFloat(bounds["gt"]); ok {
				min, minInc = &v, false
			}
			if v, ok := asFloat(bounds["lte"]); ok {
				max, maxInc = &v, true
			}
			if v, ok := asFloat(bounds["lt"]); ok {
				max, maxInc = &v, false
			}
			q := bleve.NewNumericRangeInclusiveQuery(min, max, &minInc, &maxInc)
			q.SetField(field)
			return q, nil
		}

		min, max := "", ""
		minInc, maxInc := true, true
		if v, ok := bounds["gte"]; ok {
			min = fmt.Sprint(v)
		}
		if v, ok := bounds["gt"]; ok {
			min, minInc = fmt.Sprint(v), false
		}
		if v, ok := bounds["lte"]; ok {
			max = fmt.Sprint(v)
		}
		if v, ok := bounds["lt"]; ok {
			max, maxInc = fmt.Sprint(v), false
		}
		q := bleve.NewTermRangeInclusiveQuery(min, max, &minInc, &maxInc)
		q.SetField(field)
		return q, nil
	}
	return nil, fmt.Errorf("range clause without a field")
}

func translateExists(raw any) (query.Query, error) {
	spec, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("exists clause must be an object")
	}
	field, _ := spec["field"].(string)
	if field == "" {
		return nil, fmt.Errorf("exists clause without a field")
	}
	// No native exists query; any-term wildcard is close enough for the
	// dev backend (numeric-only fields will not match).
	q := bleve.NewWildcardQuery("*")
	q.SetField(field)
	return q, nil
}

func translateQueryString(raw any) (query.Query, error) {
	spec, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("query_string clause must be an object")
	}
	text, _ := spec["query"].(string)
	q := bleve.NewQueryStringQuery(text)
	if field, ok := spec["default_field"].(string); ok && field != "" && field != "*" {
		mq := bleve.NewMatchQuery(text)
		mq.SetField(field)
		return mq, nil
	}
	return q, nil
}

// translateSort converts DSL sort specs ("field", {"field": {"order":
// "desc"}}, "_score") into Bleve sort-by strings.
func translateSort(spec any) []string {
	items, ok := spec.([]any)
	if !ok {
		if strs, ok := spec.([]string); ok {
			return strs
		}
		items = []any{spec}
	}

	var out []string
	for _, item := range items {
		switch v := item.(type) {
		case string:
			if v == "_score" {
				out = append(out, "-_score")
			} else {
				out = append(out, v)
			}
		case map[string]any:
			for field, ordSpec := range v {
				order := ""
				switch o := ordSpec.(type) {
				case string:
					order = o
				case map[string]any:
					order, _ = o["order"].(string)
				}
				if order == "desc" {
					out = append(out, "-"+field)
				} else {
					out = append(out, field)
				}
			}
		}
	}
	return out
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func asStringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
