// Package query replays an accumulated query in memory, in the fixed order
// filter → sort → pagination. It is the fallback path used by a delegate
// when a backing store cannot translate the query natively, and the
// reference semantics the push-down paths must agree with.
package query

import (
	"sort"
	"strings"

	"github.com/agentic-research/trellis/api"
)

// Field extracts a named field from a fetched element. Elements are the
// map-shaped values JSON-like backings produce; anything else has no fields.
func Field(elem any, name string) (any, bool) {
	m, ok := elem.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := m[name]
	return v, ok
}

// Apply replays the full query state over already-fetched elements.
// Expand is not handled here: it needs the schema and belongs to the
// specifier runtime.
func Apply(qs api.QueryState, elems []any) []any {
	out := Filter(elems, qs.Filter)
	if qs.Sort != nil {
		Sort(out, *qs.Sort)
	}
	return Paginate(out, qs.Page)
}

// Filter keeps the elements matching every predicate. A missing field is a
// non-match. The input slice is never mutated.
func Filter(elems []any, filter map[string]api.Predicate) []any {
	if len(filter) == 0 {
		return append([]any(nil), elems...)
	}
	out := make([]any, 0, len(elems))
	for _, e := range elems {
		if matches(e, filter) {
			out = append(out, e)
		}
	}
	return out
}

func matches(elem any, filter map[string]api.Predicate) bool {
	for field, pred := range filter {
		v, ok := Field(elem, field)
		if !ok || !pred.Test(v) {
			return false
		}
	}
	return true
}

// Sort orders elems in place by a single key. The sort is stable: equal-key
// elements keep their relative order; descending only inverts the comparator
// sign. Elements missing the key sort before everything else ascending.
func Sort(elems []any, key api.SortKey) {
	sort.SliceStable(elems, func(i, j int) bool {
		a, _ := Field(elems[i], key.Field)
		b, _ := Field(elems[j], key.Field)
		c := Compare(a, b)
		if key.Desc {
			return c > 0
		}
		return c < 0
	})
}

// Compare orders two field values: numbers numerically, strings lexically,
// bools false-first. Mismatched or unknown types order by type rank so the
// result is still deterministic.
func Compare(a, b any) int {
	af, aNum := api.AsFloat(a)
	bf, bNum := api.AsFloat(b)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		return strings.Compare(as, bs)
	}
	ab, aBool := a.(bool)
	bb, bBool := b.(bool)
	if aBool && bBool {
		switch {
		case !ab && bb:
			return -1
		case ab && !bb:
			return 1
		}
		return 0
	}
	return rank(a) - rank(b)
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case string:
		return 3
	}
	if _, ok := api.AsFloat(v); ok {
		return 2
	}
	return 4
}

// Paginate slices the window [offset, offset+limit). An offset beyond the
// result length yields an empty slice, not an error; limit 0 means no limit.
func Paginate(elems []any, page *api.Page) []any {
	if page == nil {
		return elems
	}
	off := page.Offset
	if off < 0 {
		off = 0
	}
	if off >= len(elems) {
		return []any{}
	}
	out := elems[off:]
	if page.Limit > 0 && page.Limit < len(out) {
		out = out[:page.Limit]
	}
	return out
}
