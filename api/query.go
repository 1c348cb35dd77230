package api

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Op is a filter operator. Each operator keeps three behaviors mutually
// consistent: a backing store may translate it to a native query form
// (push-down), Test replays it in memory when push-down is unsupported, and
// URIKey encodes it canonically into a query string.
type Op int

const (
	// OpEq matches any type; it is the operator implied by a bare field key.
	OpEq Op = iota
	// OpContains matches string fields only.
	OpContains
	// OpStartsWith matches string fields only.
	OpStartsWith
	// OpGT matches numeric fields only.
	OpGT
	// OpLT matches numeric fields only.
	OpLT
)

func (o Op) String() string {
	switch o {
	case OpContains:
		return "contains"
	case OpStartsWith:
		return "startsWith"
	case OpGT:
		return "gt"
	case OpLT:
		return "lt"
	}
	return "eq"
}

// ParseOp maps a query-key operator suffix back to an Op.
func ParseOp(s string) (Op, error) {
	switch s {
	case "contains":
		return OpContains, nil
	case "startsWith":
		return OpStartsWith, nil
	case "gt":
		return OpGT, nil
	case "lt":
		return OpLT, nil
	}
	return OpEq, fmt.Errorf("unknown filter operator %q", s)
}

// URIKey returns the canonical query-string key for a field filtered by o.
func (o Op) URIKey(field string) string {
	if o == OpEq {
		return field
	}
	return field + "." + o.String()
}

// ValidFor reports whether the operator applies to a field of type t.
// String-only operators reject declared numeric fields and vice versa;
// TypeAny accepts every operator.
func (o Op) ValidFor(t ScalarType) bool {
	switch o {
	case OpContains, OpStartsWith:
		return t == TypeString || t == TypeAny
	case OpGT, OpLT:
		return t.Numeric() || t == TypeAny
	}
	return true
}

// Predicate is one filter condition on a field.
type Predicate struct {
	Op    Op
	Value any
}

// Eq, ContainsPred, StartsWithPred, GT and LT are predicate shorthands.
func Eq(v any) Predicate             { return Predicate{Op: OpEq, Value: v} }
func ContainsPred(s string) Predicate { return Predicate{Op: OpContains, Value: s} }
func StartsWithPred(s string) Predicate {
	return Predicate{Op: OpStartsWith, Value: s}
}
func GT(v any) Predicate { return Predicate{Op: OpGT, Value: v} }
func LT(v any) Predicate { return Predicate{Op: OpLT, Value: v} }

// Test is the pure in-memory fallback: it evaluates the predicate against an
// actual value already fetched from the backing store. A type mismatch is a
// non-match, never an error — validation happened at parse time.
func (p Predicate) Test(actual any) bool {
	switch p.Op {
	case OpEq:
		return LooseEqual(actual, p.Value)
	case OpContains:
		a, ok1 := actual.(string)
		e, ok2 := p.Value.(string)
		return ok1 && ok2 && strings.Contains(a, e)
	case OpStartsWith:
		a, ok1 := actual.(string)
		e, ok2 := p.Value.(string)
		return ok1 && ok2 && strings.HasPrefix(a, e)
	case OpGT:
		a, ok1 := AsFloat(actual)
		e, ok2 := AsFloat(p.Value)
		return ok1 && ok2 && a > e
	case OpLT:
		a, ok1 := AsFloat(actual)
		e, ok2 := AsFloat(p.Value)
		return ok1 && ok2 && a < e
	}
	return false
}

// AsFloat coerces the numeric types a JSON parser produces into a float64.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// LooseEqual compares two values with numeric coercion: int64(3) equals
// float64(3). Non-numeric values compare by interface equality, with a
// string-form fallback so ids survive a trip through a URI.
func LooseEqual(a, b any) bool {
	if af, ok := AsFloat(a); ok {
		if bf, ok := AsFloat(b); ok {
			return af == bf
		}
		if bs, ok := b.(string); ok {
			if bf, err := strconv.ParseFloat(bs, 64); err == nil {
				return af == bf
			}
		}
		return false
	}
	if as, ok := a.(string); ok {
		if bf, ok := AsFloat(b); ok {
			if af, err := strconv.ParseFloat(as, 64); err == nil {
				return af == bf
			}
			return false
		}
	}
	return a == b
}

// SortKey is a single-key sort. Ascending unless Desc.
type SortKey struct {
	Field string
	Desc  bool
}

// Page is an offset/limit window applied strictly after filter and sort.
type Page struct {
	Limit  int
	Offset int
}

// QueryState is the query accumulated on a delegate. The zero value means
// "no query". Values are treated as immutable: the With methods return a
// modified copy and never touch the receiver.
type QueryState struct {
	Filter map[string]Predicate
	Sort   *SortKey
	Page   *Page
	Expand []string
}

// IsZero reports whether no query has been accumulated.
func (q QueryState) IsZero() bool {
	return len(q.Filter) == 0 && q.Sort == nil && q.Page == nil && len(q.Expand) == 0
}

func (q QueryState) clone() QueryState {
	out := q
	if q.Filter != nil {
		out.Filter = make(map[string]Predicate, len(q.Filter))
		for k, v := range q.Filter {
			out.Filter[k] = v
		}
	}
	if q.Sort != nil {
		s := *q.Sort
		out.Sort = &s
	}
	if q.Page != nil {
		p := *q.Page
		out.Page = &p
	}
	out.Expand = append([]string(nil), q.Expand...)
	return out
}

// WithFilter merges: keys union, last write per key wins. Repeated calls
// accumulate — this is the one With method that does not replace its slot.
func (q QueryState) WithFilter(f map[string]Predicate) QueryState {
	out := q.clone()
	if out.Filter == nil {
		out.Filter = make(map[string]Predicate, len(f))
	}
	for k, v := range f {
		out.Filter[k] = v
	}
	return out
}

// WithSort replaces the sort slot.
func (q QueryState) WithSort(field string, desc bool) QueryState {
	out := q.clone()
	out.Sort = &SortKey{Field: field, Desc: desc}
	return out
}

// WithPage replaces the pagination slot.
func (q QueryState) WithPage(limit, offset int) QueryState {
	out := q.clone()
	out.Page = &Page{Limit: limit, Offset: offset}
	return out
}

// WithExpand replaces the expand slot.
func (q QueryState) WithExpand(fields ...string) QueryState {
	out := q.clone()
	out.Expand = append([]string(nil), fields...)
	return out
}

// Expanded reports whether a field is marked for inline resolution.
func (q QueryState) Expanded(field string) bool {
	for _, f := range q.Expand {
		if f == field {
			return true
		}
	}
	return false
}

// Encode renders the canonical query string: filters sorted by field, then
// sort, limit, offset, expand. The empty string means no query.
//
// Encoding canonicalizes pair order: a URI written with its filters in some
// other order rebuilds in this one. Round-tripping preserves meaning, not
// bytes, for the query part; path segments rebuild byte-exact.
func (q QueryState) Encode() string {
	if q.IsZero() {
		return ""
	}
	var parts []string

	fields := make([]string, 0, len(q.Filter))
	for f := range q.Filter {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		p := q.Filter[f]
		parts = append(parts, url.QueryEscape(p.Op.URIKey(f))+"="+url.QueryEscape(encodeValue(p.Value)))
	}

	if q.Sort != nil {
		v := q.Sort.Field
		if q.Sort.Desc {
			v += ".desc"
		}
		parts = append(parts, "sort="+url.QueryEscape(v))
	}
	if q.Page != nil {
		if q.Page.Limit > 0 {
			parts = append(parts, "limit="+strconv.Itoa(q.Page.Limit))
		}
		if q.Page.Offset > 0 {
			parts = append(parts, "offset="+strconv.Itoa(q.Page.Offset))
		}
	}
	for _, f := range q.Expand {
		parts = append(parts, "expand="+url.QueryEscape(f))
	}
	return strings.Join(parts, "&")
}

func encodeValue(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case float64:
		return strconv.FormatFloat(n, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(n)
	}
	return fmt.Sprint(v)
}
