package shard

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dreamware/shardsearch/internal/coordinator"
	"github.com/dreamware/shardsearch/internal/search"
)

// lookup resolves a dotted path inside a decoded JSON document.
func lookup(doc map[string]any, path string) (any, bool) {
	if v, ok := doc[path]; ok {
		return v, true
	}
	head, rest, found := strings.Cut(path, ".")
	if !found {
		return nil, false
	}
	child, ok := doc[head].(map[string]any)
	if !ok {
		return nil, false
	}
	return lookup(child, rest)
}

// values flattens a field to its scalar values. Arrays contribute every
// element; nested objects contribute nothing.
func values(doc map[string]any, field string) []any {
	v, ok := lookup(doc, field)
	if !ok || v == nil {
		return nil
	}
	if list, ok := v.([]any); ok {
		out := make([]any, 0, len(list))
		for _, e := range list {
			if e == nil {
				continue
			}
			if _, nested := e.(map[string]any); nested {
				continue
			}
			out = append(out, e)
		}
		return out
	}
	if _, nested := v.(map[string]any); nested {
		return nil
	}
	return []any{v}
}

// sortValue converts the first value of a field to the representation
// the comparator uses for its type.
func sortValue(doc map[string]any, field string, t coordinator.FieldType) search.SortValue {
	vs := values(doc, field)
	if len(vs) == 0 {
		return search.SortValue{}
	}
	v := vs[0]
	switch {
	case t.Integral():
		n, ok := asInt(v, t)
		return search.SortValue{Int: n, Exists: ok}
	case t == coordinator.FieldFloat || t == coordinator.FieldDouble:
		f, ok := asFloat(v)
		return search.SortValue{Float: f, Exists: ok}
	default:
		return search.SortValue{String: asString(v), Exists: true}
	}
}

func asInt(v any, t coordinator.FieldType) (int64, bool) {
	switch x := v.(type) {
	case float64:
		return int64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		if t == coordinator.FieldDate {
			ts, err := time.Parse(time.RFC3339, x)
			if err != nil {
				return 0, false
			}
			return ts.UnixMilli(), true
		}
		n, err := strconv.ParseInt(x, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// project applies a fetch type and field filters to a stored document.
// FetchMeta keeps only the requested fields; FetchFull keeps everything
// unless fields are requested. Masked fields are always removed.
func project(doc map[string]any, ft search.FetchType, fields, masked []string) map[string]any {
	switch ft {
	case search.FetchNone:
		return nil
	case search.FetchMeta:
		if len(fields) == 0 {
			return nil
		}
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if len(fields) > 0 && !slices.Contains(fields, k) {
			continue
		}
		if slices.Contains(masked, k) {
			continue
		}
		out[k] = v
	}
	return out
}
