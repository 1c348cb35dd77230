package resolve

import (
	"fmt"
	"strconv"

	"github.com/agentic-research/trellis/api"
)

// Element key conventions shared with the reference backings: when the
// runtime needs to re-address a fetched collection element, these are the
// fields it looks at.
const (
	idField   = "id"
	nameField = "name"
)

// Specifier binds a schema node to a live delegate: the navigable,
// resolvable handle callers work with. Navigation builds a child delegate
// and child specifier per access — cheap, pure, no round trip, and each
// access yields an independent value. Only Resolve, Exists and the
// mutations touch the backing store.
type Specifier struct {
	node *api.Node
	del  api.Delegate
	coll *api.Node // enclosing collection schema when addressing an element
}

// New binds a schema node to a delegate. Callers normally get specifiers
// from a Registry instead.
func New(node *api.Node, del api.Delegate) *Specifier {
	return &Specifier{node: node, del: del}
}

// URI returns the address this specifier was built from. Pure.
func (s *Specifier) URI() string { return s.del.URI() }

// Schema returns the bound schema node.
func (s *Specifier) Schema() *api.Node { return s.node }

// Delegate returns the bound delegate.
func (s *Specifier) Delegate() api.Delegate { return s.del }

// ---------------------------------------------------------------------------
// Navigation (pure, no round trips)
// ---------------------------------------------------------------------------

// Prop navigates to a named property of a compound node. Unknown names fail
// with a RouteError enumerating the properties the node does declare.
func (s *Specifier) Prop(name string) (*Specifier, error) {
	if s.node.Kind != api.KindCompound {
		return nil, &RouteError{
			Segment: name,
			Msg:     fmt.Sprintf("%s node has no properties", s.node.Kind),
		}
	}
	child, ok := s.node.PropNode(name)
	if !ok {
		return nil, unknownSegment(name, s.node.PropNames())
	}
	return &Specifier{node: child, del: s.del.Prop(name)}, nil
}

// ByIndex addresses a collection element by position. Only collections that
// declare index addressing expose it.
func (s *Specifier) ByIndex(n int) (*Specifier, error) {
	if err := s.addressable(api.ByIndex, "index"); err != nil {
		return nil, err
	}
	return &Specifier{node: s.node.Item, del: s.del.ByIndex(n), coll: s.node}, nil
}

// ByName addresses a collection element by its name field.
func (s *Specifier) ByName(name string) (*Specifier, error) {
	if err := s.addressable(api.ByName, "name"); err != nil {
		return nil, err
	}
	return &Specifier{node: s.node.Item, del: s.del.ByName(name), coll: s.node}, nil
}

// ByID addresses a collection element by its id field.
func (s *Specifier) ByID(id string) (*Specifier, error) {
	if err := s.addressable(api.ByID, "id"); err != nil {
		return nil, err
	}
	return &Specifier{node: s.node.Item, del: s.del.ByID(id), coll: s.node}, nil
}

func (s *Specifier) addressable(mode api.AddrModes, label string) error {
	if s.node.Kind != api.KindCollection {
		return &RouteError{Msg: fmt.Sprintf("cannot address a %s node by %s", s.node.Kind, label)}
	}
	if !s.node.Modes.Has(mode) {
		return &RouteError{
			Msg:     fmt.Sprintf("collection does not support addressing by %s", label),
			Options: s.node.Modes.Names(),
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Query accumulation (pure, no round trips)
// ---------------------------------------------------------------------------

// Whose filters the collection by a predicate on a declared item field.
// Operator/type mismatches fail here, not at resolution time.
func (s *Specifier) Whose(field string, pred api.Predicate) (*Specifier, error) {
	t, err := s.queryField(field)
	if err != nil {
		return nil, err
	}
	if !pred.Op.ValidFor(t) {
		return nil, &RouteError{
			Segment: field,
			Msg:     fmt.Sprintf("operator %s does not apply to %s field %q", pred.Op, t, field),
		}
	}
	out := *s
	out.del = s.del.WithFilter(map[string]api.Predicate{field: pred})
	return &out, nil
}

// SortBy orders the collection by a single declared item field. Stable;
// descending inverts the comparator only.
func (s *Specifier) SortBy(field string, desc bool) (*Specifier, error) {
	if _, err := s.queryField(field); err != nil {
		return nil, err
	}
	out := *s
	out.del = s.del.WithSort(field, desc)
	return &out, nil
}

// Paginate windows the collection after filter and sort.
func (s *Specifier) Paginate(limit, offset int) (*Specifier, error) {
	if s.node.Kind != api.KindCollection {
		return nil, &RouteError{Msg: fmt.Sprintf("cannot paginate a %s node", s.node.Kind)}
	}
	out := *s
	out.del = s.del.WithPagination(limit, offset)
	return &out, nil
}

// Expand marks declared-lazy fields for inline resolution. Unknown names
// are ignored, not errors.
func (s *Specifier) Expand(fields ...string) (*Specifier, error) {
	owner := s.node
	if s.node.Kind == api.KindCollection {
		owner = s.node.Item
	}
	if owner.Kind != api.KindCompound {
		return nil, &RouteError{Msg: fmt.Sprintf("cannot expand fields of a %s node", owner.Kind)}
	}
	keep := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := owner.PropNode(f); ok {
			keep = append(keep, f)
		}
	}
	out := *s
	out.del = s.del.WithExpand(keep...)
	return &out, nil
}

// queryField resolves a filter/sort field against the collection's item
// schema, enumerating the declared fields on failure.
func (s *Specifier) queryField(field string) (api.ScalarType, error) {
	if s.node.Kind != api.KindCollection {
		return 0, &RouteError{Msg: fmt.Sprintf("cannot query a %s node", s.node.Kind)}
	}
	item := s.node.Item
	if item.Kind != api.KindCompound {
		return api.TypeAny, nil
	}
	n, ok := item.PropNode(field)
	if !ok {
		return 0, unknownSegment(field, item.PropNames())
	}
	if n.Kind != api.KindScalar {
		return 0, &RouteError{
			Segment: field,
			Msg:     fmt.Sprintf("field %q is a %s, not a scalar", field, n.Kind),
		}
	}
	return n.Type, nil
}

// ---------------------------------------------------------------------------
// Resolution (round trips)
// ---------------------------------------------------------------------------

// Resolve performs the round trip(s) needed to materialize this address.
//
// Compound nodes resolve two-tier: eager children become values, lazy
// children remain specifiers unless expanded. Collections resolve to a
// slice of shaped elements with filter → sort → pagination → expand applied
// in that order.
func (s *Specifier) Resolve() (any, error) {
	switch s.node.Kind {
	case api.KindScalar:
		if s.node.Compute != nil {
			parent, ok := s.del.Parent()
			if !ok {
				return nil, fmt.Errorf("%s: computed property has no parent", s.URI())
			}
			raw, err := parent.Get()
			if err != nil {
				return nil, err
			}
			return s.node.Compute(raw)
		}
		return s.del.Get()

	case api.KindCompound:
		raw, err := s.del.Get()
		if err != nil {
			return nil, err
		}
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s: expected an object, got %T", s.URI(), raw)
		}
		return s.shapeElement(m, s.node, s.del, s.del.QueryState())

	case api.KindCollection:
		raw, err := s.del.Get()
		if err != nil {
			return nil, err
		}
		elems, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("%s: expected a collection, got %T", s.URI(), raw)
		}
		out := make([]any, 0, len(elems))
		qs := s.del.QueryState()
		for i, e := range elems {
			m, ok := e.(map[string]any)
			if !ok {
				out = append(out, e)
				continue
			}
			elemDel := s.elementDelegate(m, i)
			shaped, err := s.shapeElement(m, s.node.Item, elemDel, qs)
			if err != nil {
				return nil, err
			}
			out = append(out, shaped)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s: unresolvable schema kind", s.URI())
}

// elementDelegate re-addresses a fetched element, preferring the stable
// modes: id, then name, then position within the result.
func (s *Specifier) elementDelegate(elem map[string]any, i int) api.Delegate {
	if s.node.Modes.Has(api.ByID) {
		if id, ok := elem[idField]; ok {
			return s.del.ByID(stringifyKey(id))
		}
	}
	if s.node.Modes.Has(api.ByName) {
		if name, ok := elem[nameField].(string); ok {
			return s.del.ByName(name)
		}
	}
	return s.del.ByIndex(i)
}

// shapeElement applies the two-tier resolution contract to one raw element:
// eager scalars and nested compounds inline, computed scalars derived from
// the raw value, lazy scalars and collections left as specifiers unless the
// query expands them.
func (s *Specifier) shapeElement(raw map[string]any, node *api.Node, del api.Delegate, qs api.QueryState) (map[string]any, error) {
	if node.Kind != api.KindCompound {
		return raw, nil
	}
	out := make(map[string]any, len(node.Props))
	for _, p := range node.Props {
		child := p.Node
		switch child.Kind {
		case api.KindScalar:
			switch {
			case child.Compute != nil:
				v, err := child.Compute(raw)
				if err != nil {
					return nil, fmt.Errorf("%s: compute %q: %w", del.URI(), p.Name, err)
				}
				out[p.Name] = v
			case child.Lazy && !qs.Expanded(p.Name):
				out[p.Name] = &Specifier{node: child, del: del.Prop(p.Name)}
			default:
				if v, ok := raw[p.Name]; ok {
					out[p.Name] = v
				} else if child.Lazy {
					v, err := del.Prop(p.Name).Get()
					if err != nil {
						return nil, err
					}
					out[p.Name] = v
				}
			}
		case api.KindCompound:
			if m, ok := raw[p.Name].(map[string]any); ok {
				shaped, err := s.shapeElement(m, child, del.Prop(p.Name), api.QueryState{})
				if err != nil {
					return nil, err
				}
				out[p.Name] = shaped
			} else {
				out[p.Name] = &Specifier{node: child, del: del.Prop(p.Name)}
			}
		case api.KindCollection:
			childSpec := &Specifier{node: child, del: del.Prop(p.Name)}
			if qs.Expanded(p.Name) {
				v, err := childSpec.Resolve()
				if err != nil {
					return nil, err
				}
				out[p.Name] = v
			} else {
				out[p.Name] = childSpec
			}
		}
	}
	return out, nil
}

// Exists performs the minimal round trip to confirm reachability. It never
// returns an error: failures of any kind mean false.
func (s *Specifier) Exists() bool {
	node := s.node
	del := s.del
	// A computed property exists when its parent does.
	if node.Kind == api.KindScalar && node.Compute != nil {
		parent, ok := del.Parent()
		if !ok {
			return false
		}
		del = parent
	}
	_, err := del.Get()
	return err == nil
}

// ---------------------------------------------------------------------------
// Mutations (round trips)
// ---------------------------------------------------------------------------

// Set writes a scalar declared settable.
func (s *Specifier) Set(value any) error {
	if s.node.Kind != api.KindScalar {
		return fmt.Errorf("%s: cannot set a %s node", s.URI(), s.node.Kind)
	}
	if !s.node.Settable {
		return fmt.Errorf("%s: property is not settable", s.URI())
	}
	return s.del.Set(value)
}

// Create inserts a new element into this collection, honoring the schema's
// create behavior, and returns the new element's URI.
func (s *Specifier) Create(props map[string]any) (string, error) {
	if s.node.Kind != api.KindCollection {
		return "", fmt.Errorf("%s: %w", s.URI(), api.ErrNotCollection)
	}
	switch s.node.CreateMode {
	case api.BehaviorUnavailable:
		return "", fmt.Errorf("%s: collection does not support create", s.URI())
	case api.BehaviorCustom:
		return s.node.OnCreate(s.del, props)
	}
	return s.del.Create(props)
}

// Delete removes this element from its parent collection, honoring the
// collection's delete behavior, and returns the URI it was addressed by.
func (s *Specifier) Delete() (string, error) {
	if s.coll == nil {
		return "", fmt.Errorf("%s: %w", s.URI(), api.ErrNoParentCollection)
	}
	switch s.coll.DeleteMode {
	case api.BehaviorUnavailable:
		return "", fmt.Errorf("%s: collection does not support delete", s.URI())
	case api.BehaviorCustom:
		return s.coll.OnDelete(s.del)
	}
	return s.del.Delete()
}

// MoveTo relocates this element into the destination collection and returns
// its new URI. A move is a remove from the source plus an insert into the
// destination, so it requires the source collection to allow delete and the
// destination to allow create. Not transactional: the remove and insert are
// separate round trips.
func (s *Specifier) MoveTo(dst *Specifier) (string, error) {
	if dst.node.Kind != api.KindCollection {
		return "", fmt.Errorf("%s: move destination: %w", dst.URI(), api.ErrNotCollection)
	}
	if s.coll == nil {
		return "", fmt.Errorf("%s: %w", s.URI(), api.ErrNoParentCollection)
	}
	if s.coll.DeleteMode == api.BehaviorUnavailable {
		return "", fmt.Errorf("%s: source collection does not support delete", s.URI())
	}
	if dst.node.CreateMode == api.BehaviorUnavailable {
		return "", fmt.Errorf("%s: destination collection does not support create", dst.URI())
	}
	return s.del.MoveTo(dst.Delegate())
}

// Describe reports what this address offers: its kind, and either the
// declared properties (compound) or the addressing modes and item fields
// (collection). The CLI surfaces this for discoverability.
func (s *Specifier) Describe() map[string]any {
	out := map[string]any{"kind": s.node.Kind.String(), "uri": s.URI()}
	switch s.node.Kind {
	case api.KindCompound:
		out["properties"] = s.node.PropNames()
	case api.KindCollection:
		out["addressing"] = s.node.Modes.Names()
		out["enumerable"] = s.node.Enumerable
		if s.node.Item != nil && s.node.Item.Kind == api.KindCompound {
			out["itemProperties"] = s.node.Item.PropNames()
		}
	case api.KindScalar:
		out["type"] = s.node.Type.String()
		out["lazy"] = s.node.Lazy
		out["settable"] = s.node.Settable
	}
	return out
}

func stringifyKey(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case int64:
		return strconv.FormatInt(n, 10)
	case float64:
		return strconv.FormatFloat(n, 'g', -1, 64)
	}
	return fmt.Sprint(v)
}
