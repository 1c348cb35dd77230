package backing

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/ohler55/ojg/jp"

	"github.com/agentic-research/trellis/api"
	"github.com/agentic-research/trellis/internal/query"
)

// MemoryStore is the pure in-memory backing: a parsed JSON-shaped tree of
// maps and slices. It is the reference test double — it counts round trips
// so navigation purity is verifiable — and it mutates its own storage for
// create/delete/move.
//
// Filters on equals/gt/lt push down as JSONPath filter expressions; the
// string operators (contains/startsWith) decline push-down, exercising the
// delegate's in-memory replay. Not safe for concurrent use.
type MemoryStore struct {
	root any

	// NameField and IDField are the element fields ByName/ByID match on.
	NameField string
	IDField   string

	// RoundTrips counts store calls. Navigation must never bump it.
	RoundTrips int
}

// NewMemoryStore wraps an already-parsed data tree (maps and slices, as
// produced by oj.Parse).
func NewMemoryStore(root any) *MemoryStore {
	return &MemoryStore{root: root, NameField: "name", IDField: "id"}
}

// KeyFields implements Keyed.
func (s *MemoryStore) KeyFields() (string, string) { return s.IDField, s.NameField }

// slot is a position in the storage tree plus a writer for replacing the
// value held there. The writer is needed because slice append reallocates.
type slot struct {
	value any
	set   func(any)
}

func (s *MemoryStore) rootSlot() slot {
	return slot{value: s.root, set: func(v any) { s.root = v }}
}

// resolve walks a segment path down the storage tree. With createMissing a
// trailing absent property resolves to an empty collection slot so Insert
// can seed it.
func (s *MemoryStore) resolve(path []api.Segment, createMissing bool) (slot, error) {
	if len(path) == 0 || path[0].Kind != api.SegRoot {
		return slot{}, fmt.Errorf("path must start at a root segment")
	}
	cur := s.rootSlot()
	for i, seg := range path[1:] {
		last := i == len(path)-2
		next, err := s.step(cur, seg, last && createMissing)
		if err != nil {
			return slot{}, err
		}
		cur = next
	}
	return cur, nil
}

func (s *MemoryStore) step(cur slot, seg api.Segment, createMissing bool) (slot, error) {
	switch seg.Kind {
	case api.SegProp:
		m, ok := cur.value.(map[string]any)
		if !ok {
			return slot{}, fmt.Errorf("property %q: parent is not an object: %w", seg.Name, api.ErrNotFound)
		}
		v, present := m[seg.Name]
		if !present {
			if !createMissing {
				return slot{}, fmt.Errorf("property %q not present: %w", seg.Name, api.ErrNotFound)
			}
			v = []any{}
			m[seg.Name] = v
		}
		name := seg.Name
		return slot{value: v, set: func(nv any) { m[name] = nv }}, nil

	case api.SegIndex:
		l, ok := cur.value.([]any)
		if !ok {
			return slot{}, fmt.Errorf("index %d: %w", seg.Index, api.ErrNotCollection)
		}
		if seg.Index < 0 || seg.Index >= len(l) {
			return slot{}, fmt.Errorf("index %d out of range (len %d): %w", seg.Index, len(l), api.ErrNotFound)
		}
		n := seg.Index
		return slot{value: l[n], set: func(nv any) { l[n] = nv }}, nil

	case api.SegName:
		return s.findElem(cur, s.NameField, seg.Value, false)
	case api.SegID:
		return s.findElem(cur, s.IDField, seg.Value, true)
	}
	return slot{}, fmt.Errorf("unexpected segment kind %d", int(seg.Kind))
}

func (s *MemoryStore) findElem(cur slot, field, want string, loose bool) (slot, error) {
	l, ok := cur.value.([]any)
	if !ok {
		return slot{}, fmt.Errorf("address %q: %w", want, api.ErrNotCollection)
	}
	for i, e := range l {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		v, ok := m[field]
		if !ok {
			continue
		}
		if fieldMatches(v, want, loose) {
			n := i
			return slot{value: l[n], set: func(nv any) { l[n] = nv }}, nil
		}
	}
	return slot{}, fmt.Errorf("no element with %s %q: %w", field, want, api.ErrNotFound)
}

// fieldMatches compares a stored key field to an address token. Loose mode
// (ids) also matches numeric ids against their decimal string form.
func fieldMatches(v any, want string, loose bool) bool {
	if sv, ok := v.(string); ok {
		return sv == want
	}
	if !loose {
		return false
	}
	if f, ok := api.AsFloat(v); ok {
		if wf, err := strconv.ParseFloat(want, 64); err == nil {
			return f == wf
		}
	}
	return false
}

// Fetch implements Store. Each call is one counted round trip.
func (s *MemoryStore) Fetch(path []api.Segment, qs api.QueryState) (any, error) {
	s.RoundTrips++
	sl, err := s.resolve(path, false)
	if err != nil {
		return nil, err
	}
	if len(qs.Filter) == 0 && qs.Sort == nil && qs.Page == nil {
		return sl.value, nil
	}
	elems, ok := sl.value.([]any)
	if !ok {
		return nil, api.ErrNotCollection
	}
	out, err := s.pushDownFilter(elems, qs.Filter)
	if err != nil {
		return nil, err
	}
	if qs.Sort != nil {
		query.Sort(out, *qs.Sort)
	}
	return query.Paginate(out, qs.Page), nil
}

// pushDownFilter translates the filter into a JSONPath filter expression.
// String operators have no JSONPath form here, so they decline push-down.
func (s *MemoryStore) pushDownFilter(elems []any, filter map[string]api.Predicate) ([]any, error) {
	if len(filter) == 0 {
		return append([]any(nil), elems...), nil
	}
	conds := make([]string, 0, len(filter))
	for field, pred := range filter {
		if pred.Op == api.OpEq {
			c, ok := eqCond(field, pred.Value)
			if !ok {
				return nil, api.ErrPushDown
			}
			conds = append(conds, c)
			continue
		}
		lit, ok := jpLiteral(pred.Value)
		if !ok {
			return nil, api.ErrPushDown
		}
		var op string
		switch pred.Op {
		case api.OpGT:
			op = ">"
		case api.OpLT:
			op = "<"
		default:
			return nil, api.ErrPushDown
		}
		conds = append(conds, fmt.Sprintf("@.%s %s %s", field, op, lit))
	}
	expr := "$[?(" + strings.Join(conds, " && ") + ")]"
	x, err := jp.ParseString(expr)
	if err != nil {
		return nil, api.ErrPushDown
	}
	return x.Get(elems), nil
}

// eqCond renders an equality condition with the same string/number coercion
// as api.LooseEqual: a numeric value also matches its decimal string form,
// and a numeric string also matches the number it denotes. Without this the
// same predicate would change meaning between the push-down and replay paths.
func eqCond(field string, v any) (string, bool) {
	lit, ok := jpLiteral(v)
	if !ok {
		return "", false
	}
	if f, ok := api.AsFloat(v); ok {
		s := strconv.FormatFloat(f, 'g', -1, 64)
		return fmt.Sprintf("(@.%s == %s || @.%s == '%s')", field, lit, field, s), true
	}
	if s, ok := v.(string); ok {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			num := strconv.FormatFloat(f, 'g', -1, 64)
			return fmt.Sprintf("(@.%s == %s || @.%s == %s)", field, lit, field, num), true
		}
	}
	return fmt.Sprintf("@.%s == %s", field, lit), true
}

func jpLiteral(v any) (string, bool) {
	switch n := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(n, "'", "\\'") + "'", true
	case bool:
		return strconv.FormatBool(n), true
	}
	if f, ok := api.AsFloat(v); ok {
		return strconv.FormatFloat(f, 'g', -1, 64), true
	}
	return "", false
}

// SetValue implements Store. Only named properties are writable.
func (s *MemoryStore) SetValue(path []api.Segment, value any) error {
	s.RoundTrips++
	tail := path[len(path)-1]
	if tail.Kind != api.SegProp {
		return fmt.Errorf("can only set a named property, not a %v address", tail.Kind)
	}
	parent, err := s.resolve(path[:len(path)-1], false)
	if err != nil {
		return err
	}
	m, ok := parent.value.(map[string]any)
	if !ok {
		return fmt.Errorf("property %q: parent is not an object: %w", tail.Name, api.ErrNotFound)
	}
	m[tail.Name] = value
	return nil
}

// Insert implements Store. Elements get a generated id when the caller
// supplies none — the store is the id authority of last resort.
func (s *MemoryStore) Insert(path []api.Segment, props map[string]any) (api.Segment, error) {
	s.RoundTrips++
	sl, err := s.resolve(path, true)
	if err != nil {
		return api.Segment{}, err
	}
	l, ok := sl.value.([]any)
	if !ok {
		return api.Segment{}, api.ErrNotCollection
	}

	elem := make(map[string]any, len(props)+1)
	for k, v := range props {
		elem[k] = v
	}
	if _, ok := elem[s.IDField]; !ok {
		elem[s.IDField] = uuid.NewString()
	}
	l = append(l, elem)
	sl.set(l)

	return elemSegment(elem, s.IDField, s.NameField, len(l)-1), nil
}

// elemSegment picks the most stable address for an element: id, then name,
// then index.
func elemSegment(elem map[string]any, idField, nameField string, index int) api.Segment {
	if id, ok := elem[idField]; ok {
		return api.IDSeg(stringify(id))
	}
	if name, ok := elem[nameField].(string); ok {
		return api.NameSeg(name)
	}
	return api.IndexSeg(index)
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if f, ok := api.AsFloat(v); ok {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return fmt.Sprint(v)
}

// Remove implements Store. The element is spliced out of its parent
// collection; addressing anything else is an explicit failure.
func (s *MemoryStore) Remove(path []api.Segment) error {
	s.RoundTrips++
	tail := path[len(path)-1]
	if !tail.Element() {
		return api.ErrNoParentCollection
	}
	parent, err := s.resolve(path[:len(path)-1], false)
	if err != nil {
		return err
	}
	l, ok := parent.value.([]any)
	if !ok {
		return api.ErrNoParentCollection
	}
	idx := -1
	switch tail.Kind {
	case api.SegIndex:
		if tail.Index >= 0 && tail.Index < len(l) {
			idx = tail.Index
		}
	case api.SegName, api.SegID:
		field, loose := s.NameField, false
		if tail.Kind == api.SegID {
			field, loose = s.IDField, true
		}
		for i, e := range l {
			if m, ok := e.(map[string]any); ok {
				if v, ok := m[field]; ok && fieldMatches(v, tail.Value, loose) {
					idx = i
					break
				}
			}
		}
	}
	if idx < 0 {
		return fmt.Errorf("element to remove: %w", api.ErrNotFound)
	}
	parent.set(append(l[:idx], l[idx+1:]...))
	return nil
}
