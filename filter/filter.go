// Package filter implements the query-filter engine shared by the entry
// store contract, the scheduler's job listing, and the in-memory
// datastore.
//
// Filters are [field, op, value] triples. Supported operators:
// "=", "!=", ">", ">=", "<", "<=", "in", "nin", "~" (regex), "^" (prefix),
// "$" (suffix). Options control result shaping: single record ("get"),
// count, limit/offset, order_by (prefix a field with "-" for descending),
// and select (field projection).
package filter

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/arkstor/coreplane"
)

// Filter is a single [field, op, value] predicate.
type Filter struct {
	Field string
	Op    string
	Value any
}

// F is a convenience constructor for a Filter.
func F(field, op string, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// Options shape a query result.
type Options struct {
	// Get returns the first matching record instead of a list.
	Get bool
	// Count returns the number of matches instead of a list.
	Count bool
	// Limit caps the number of returned records. Zero means no limit.
	Limit int
	// Offset skips the first N matching records.
	Offset int
	// OrderBy sorts by the named fields; a "-" prefix sorts descending.
	OrderBy []string
	// Select projects each record down to the named fields.
	Select []string
	// ForceStorageFilters pushes filters down to the backing store even
	// when an extend transform is registered. Filters then cannot
	// reference extend-computed fields.
	ForceStorageFilters bool
}

// Match reports whether a record satisfies a single filter.
func Match(rec coreplane.Record, f Filter) (bool, error) {
	val, ok := rec[f.Field]

	switch f.Op {
	case "=":
		return ok && equal(val, f.Value), nil
	case "!=":
		return !ok || !equal(val, f.Value), nil
	case ">", ">=", "<", "<=":
		if !ok {
			return false, nil
		}
		c, err := compare(val, f.Value)
		if err != nil {
			return false, fmt.Errorf("filter: field %q: %w", f.Field, err)
		}
		switch f.Op {
		case ">":
			return c > 0, nil
		case ">=":
			return c >= 0, nil
		case "<":
			return c < 0, nil
		default:
			return c <= 0, nil
		}
	case "in":
		return ok && contains(f.Value, val), nil
	case "nin":
		return !ok || !contains(f.Value, val), nil
	case "~":
		s, sok := val.(string)
		if !ok || !sok {
			return false, nil
		}
		pattern, pok := f.Value.(string)
		if !pok {
			return false, fmt.Errorf("filter: field %q: %q operator needs a string pattern", f.Field, f.Op)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("filter: field %q: %w", f.Field, err)
		}
		return re.MatchString(s), nil
	case "^":
		s, sok := val.(string)
		prefix, pok := f.Value.(string)
		return ok && sok && pok && strings.HasPrefix(s, prefix), nil
	case "$":
		s, sok := val.(string)
		suffix, pok := f.Value.(string)
		return ok && sok && pok && strings.HasSuffix(s, suffix), nil
	default:
		return false, fmt.Errorf("filter: unknown operator %q", f.Op)
	}
}

// MatchAll reports whether a record satisfies every filter.
func MatchAll(rec coreplane.Record, filters []Filter) (bool, error) {
	for _, f := range filters {
		ok, err := Match(rec, f)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Apply filters and shapes a record list in process. The returned slice
// shares record maps with the input unless Select forces projection.
// Count short-circuits to a single {"count": n} record; Get truncates
// to the first match. Shape unwraps both into the value a query caller
// receives.
func Apply(recs []coreplane.Record, filters []Filter, opts Options) ([]coreplane.Record, error) {
	out := make([]coreplane.Record, 0, len(recs))
	for _, rec := range recs {
		ok, err := MatchAll(rec, filters)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}

	if opts.Count {
		return []coreplane.Record{{"count": len(out)}}, nil
	}

	if len(opts.OrderBy) > 0 {
		sortRecords(out, opts.OrderBy)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			out = nil
		} else {
			out = out[opts.Offset:]
		}
	}
	if opts.Get && len(out) > 1 {
		out = out[:1]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}

	if len(opts.Select) > 0 {
		projected := make([]coreplane.Record, len(out))
		for i, rec := range out {
			p := make(coreplane.Record, len(opts.Select))
			for _, field := range opts.Select {
				if v, ok := rec[field]; ok {
					p[field] = v
				}
			}
			projected[i] = p
		}
		out = projected
	}

	return out, nil
}

// Shape converts an applied record list into the value a query caller
// receives: the match count for Count, the single record for Get
// (NotFoundError when nothing matched), or the list unchanged.
func Shape(namespace string, recs []coreplane.Record, opts Options) (any, error) {
	switch {
	case opts.Count:
		if len(recs) == 1 {
			if n, ok := recs[0]["count"]; ok {
				return n, nil
			}
		}
		return len(recs), nil
	case opts.Get:
		if len(recs) == 0 {
			return nil, &coreplane.NotFoundError{Namespace: namespace}
		}
		return recs[0], nil
	default:
		return recs, nil
	}
}

// CountMatches returns the number of records satisfying the filters.
func CountMatches(recs []coreplane.Record, filters []Filter) (int64, error) {
	var n int64
	for _, rec := range recs {
		ok, err := MatchAll(rec, filters)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func sortRecords(recs []coreplane.Record, orderBy []string) {
	sort.SliceStable(recs, func(i, j int) bool {
		for _, field := range orderBy {
			desc := strings.HasPrefix(field, "-")
			name := strings.TrimPrefix(field, "-")
			c, err := compare(recs[i][name], recs[j][name])
			if err != nil || c == 0 {
				continue
			}
			if desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// Equal compares two field values the way the "=" operator does,
// treating numeric types as interchangeable.
func Equal(a, b any) bool {
	return equal(a, b)
}

func equal(a, b any) bool {
	if c, err := compare(a, b); err == nil {
		return c == 0
	}
	return a == b
}

func contains(set, val any) bool {
	switch s := set.(type) {
	case []any:
		for _, e := range s {
			if equal(e, val) {
				return true
			}
		}
	case []string:
		for _, e := range s {
			if equal(e, val) {
				return true
			}
		}
	case []int:
		for _, e := range s {
			if equal(e, val) {
				return true
			}
		}
	}
	return false
}

// compare orders two scalars. Numeric values compare across int/float
// types; strings and bools compare within their own type.
func compare(a, b any) (int, error) {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		if !bok {
			return 0, fmt.Errorf("cannot compare %T with %T", a, b)
		}
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		default:
			return 0, nil
		}
	}

	switch at := a.(type) {
	case string:
		bt, ok := b.(string)
		if !ok {
			return 0, fmt.Errorf("cannot compare %T with %T", a, b)
		}
		return strings.Compare(at, bt), nil
	case bool:
		bt, ok := b.(bool)
		if !ok {
			return 0, fmt.Errorf("cannot compare %T with %T", a, b)
		}
		switch {
		case at == bt:
			return 0, nil
		case bt:
			return -1, nil
		default:
			return 1, nil
		}
	case nil:
		if b == nil {
			return 0, nil
		}
		return -1, nil
	default:
		return 0, fmt.Errorf("unsupported comparison type %T", a)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
