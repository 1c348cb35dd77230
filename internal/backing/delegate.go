package backing

import (
	"errors"
	"fmt"

	"github.com/agentic-research/trellis/api"
	"github.com/agentic-research/trellis/internal/query"
)

// Delegate binds a Store to an accumulated path and query state. Navigation
// and query accumulation are pure: they copy, never mutate, and never touch
// the store. A delegate exclusively owns its path and query state.
type Delegate struct {
	store  Store
	segs   []api.Segment
	qs     api.QueryState
	parent *Delegate
}

var _ api.Delegate = (*Delegate)(nil)

// NewRoot returns the root delegate for a scheme. This is the factory a
// scheme registers; every resolution starts from a fresh root.
func NewRoot(store Store, scheme string) *Delegate {
	return &Delegate{store: store, segs: []api.Segment{api.Root(scheme)}}
}

func (d *Delegate) child(seg api.Segment) *Delegate {
	segs := make([]api.Segment, len(d.segs), len(d.segs)+1)
	copy(segs, d.segs)
	return &Delegate{store: d.store, segs: append(segs, seg), parent: d}
}

// Prop navigates to a named child. No I/O, no validation: a bad name fails
// as part of whatever later call performs a round trip.
func (d *Delegate) Prop(name string) api.Delegate { return d.child(api.PropSeg(name)) }

// ByIndex addresses a collection element by position.
func (d *Delegate) ByIndex(n int) api.Delegate { return d.child(api.IndexSeg(n)) }

// ByName addresses a collection element by its name field.
func (d *Delegate) ByName(name string) api.Delegate { return d.child(api.NameSeg(name)) }

// ByID addresses a collection element by its id field.
func (d *Delegate) ByID(id string) api.Delegate { return d.child(api.IDSeg(id)) }

// Parent returns the delegate this one was navigated from.
func (d *Delegate) Parent() (api.Delegate, bool) {
	if d.parent == nil {
		return nil, false
	}
	return d.parent, true
}

func (d *Delegate) withQuery(qs api.QueryState) *Delegate {
	out := *d
	out.qs = qs
	return &out
}

// WithFilter merges into the accumulated filter; last write per key wins.
func (d *Delegate) WithFilter(filter map[string]api.Predicate) api.Delegate {
	return d.withQuery(d.qs.WithFilter(filter))
}

// WithSort replaces the sort slot.
func (d *Delegate) WithSort(field string, desc bool) api.Delegate {
	return d.withQuery(d.qs.WithSort(field, desc))
}

// WithPagination replaces the pagination slot.
func (d *Delegate) WithPagination(limit, offset int) api.Delegate {
	return d.withQuery(d.qs.WithPage(limit, offset))
}

// WithExpand replaces the expand slot.
func (d *Delegate) WithExpand(fields ...string) api.Delegate {
	return d.withQuery(d.qs.WithExpand(fields...))
}

// QueryState returns the accumulated query.
func (d *Delegate) QueryState() api.QueryState { return d.qs }

// ElementKeyFields reports the store's element key fields so the registry
// can verify them against the runtime's conventions.
func (d *Delegate) ElementKeyFields() (string, string) {
	if k, ok := d.store.(Keyed); ok {
		return k.KeyFields()
	}
	return "id", "name"
}

// Segments returns a copy of the accumulated path.
func (d *Delegate) Segments() []api.Segment {
	return append([]api.Segment(nil), d.segs...)
}

// URI is a pure function of the accumulated path and query state.
func (d *Delegate) URI() string { return api.BuildURI(d.segs, d.qs) }

// Get fetches the addressed value. Push-down is attempted first; when the
// store declines with api.ErrPushDown the unqueried value is fetched and
// the query replayed in memory. Failures carry the URI that triggered them.
func (d *Delegate) Get() (any, error) {
	v, err := d.store.Fetch(d.segs, d.qs)
	if errors.Is(err, api.ErrPushDown) {
		v, err = d.store.Fetch(d.segs, api.QueryState{})
		if err == nil {
			elems, ok := v.([]any)
			if !ok {
				// The query cannot be replayed over a non-collection;
				// dropping it silently would change the result's meaning.
				return nil, fmt.Errorf("%s: cannot replay query over %T: %w", d.URI(), v, api.ErrNotCollection)
			}
			return query.Apply(d.qs, elems), nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.URI(), err)
	}
	return v, nil
}

// Set writes a scalar value through the store.
func (d *Delegate) Set(value any) error {
	if len(d.segs) <= 1 {
		return fmt.Errorf("%s: %w", d.URI(), api.ErrCannotSetRoot)
	}
	if err := d.store.SetValue(d.segs, value); err != nil {
		return fmt.Errorf("%s: %w", d.URI(), err)
	}
	return nil
}

// Create inserts a new element into the addressed collection and returns
// its URI, preferring the most stable addressing the element supports.
func (d *Delegate) Create(props map[string]any) (string, error) {
	seg, err := d.store.Insert(d.segs, props)
	if err != nil {
		return "", fmt.Errorf("%s: %w", d.URI(), err)
	}
	return api.BuildURI(append(d.Segments(), seg), api.QueryState{}), nil
}

// Delete removes the addressed element from its parent collection and
// returns the URI it was addressed by.
func (d *Delegate) Delete() (string, error) {
	if !d.tail().Element() {
		return "", fmt.Errorf("%s: %w", d.URI(), api.ErrNoParentCollection)
	}
	if err := d.store.Remove(d.segs); err != nil {
		return "", fmt.Errorf("%s: %w", d.URI(), err)
	}
	return api.BuildURI(d.segs, api.QueryState{}), nil
}

// MoveTo relocates the addressed element into the destination collection.
// Insert precedes remove so a bad destination fails before anything is
// lost; the two round trips are not transactional.
func (d *Delegate) MoveTo(dst api.Delegate) (string, error) {
	if !d.tail().Element() {
		return "", fmt.Errorf("%s: %w", d.URI(), api.ErrNoParentCollection)
	}
	dd, ok := dst.(*Delegate)
	if !ok || dd.store != d.store {
		return "", fmt.Errorf("%s: move destination %s is in a different store", d.URI(), dst.URI())
	}

	if m, ok := d.store.(Mover); ok {
		seg, err := m.Move(d.segs, dd.segs)
		if err != nil {
			return "", fmt.Errorf("%s: %w", d.URI(), err)
		}
		return api.BuildURI(append(dd.Segments(), seg), api.QueryState{}), nil
	}

	raw, err := d.store.Fetch(d.segs, api.QueryState{})
	if err != nil {
		return "", fmt.Errorf("%s: %w", d.URI(), err)
	}
	props, ok := raw.(map[string]any)
	if !ok {
		return "", fmt.Errorf("%s: %w", d.URI(), api.ErrNoParentCollection)
	}
	seg, err := dd.store.Insert(dd.segs, props)
	if err != nil {
		return "", fmt.Errorf("%s: %w", dst.URI(), err)
	}
	if err := d.store.Remove(d.segs); err != nil {
		return "", fmt.Errorf("%s: %w", d.URI(), err)
	}
	return api.BuildURI(append(dd.Segments(), seg), api.QueryState{}), nil
}

func (d *Delegate) tail() api.Segment { return d.segs[len(d.segs)-1] }
