package api

import "errors"

// Shared failure conditions. Backing stores return these (wrapped with
// context) so the framework and its tests can match on them regardless of
// which store produced them.
var (
	// ErrNotFound is returned when an address does not reach a value.
	ErrNotFound = errors.New("not found")
	// ErrNotCollection is returned when a collection operation is applied
	// to a non-collection address.
	ErrNotCollection = errors.New("not a collection")
	// ErrNoParentCollection is returned by delete/move when the referent is
	// not an element of a collection.
	ErrNoParentCollection = errors.New("no parent collection")
	// ErrCannotSetRoot is returned by Set on a delegate with no addressable
	// parent binding.
	ErrCannotSetRoot = errors.New("cannot set root")
	// ErrPushDown signals that a store cannot translate the accumulated
	// query natively; the delegate replays it in memory instead.
	ErrPushDown = errors.New("query push-down unsupported")
)

// Delegate is the backing-store handle: an opaque position plus the
// accumulated path segments and query state. Navigation methods are pure —
// they build a new Delegate, never mutate the receiver, and never perform a
// round trip. Only Get, Set, Create, Delete and MoveTo touch the store, and
// each call is a fresh, independently failing round trip.
//
// Two reference implementations ship with Trellis (in-memory and SQLite);
// any store satisfying these contracts identically can back a scheme.
type Delegate interface {
	// Prop navigates to a named child. It never fails eagerly: an invalid
	// name surfaces from whatever later call performs a round trip.
	Prop(name string) Delegate
	// ByIndex, ByName and ByID navigate within a collection context.
	ByIndex(n int) Delegate
	ByName(name string) Delegate
	ByID(id string) Delegate
	// Parent returns the delegate this one was navigated from; ok is false
	// at the root.
	Parent() (parent Delegate, ok bool)

	// Get performs round trip(s) and returns the addressed value. For a
	// collection address the accumulated query is applied: pushed down to
	// the store when it can translate it, replayed in memory otherwise.
	Get() (any, error)
	// Set writes a scalar value. Fails with ErrCannotSetRoot on the root.
	Set(value any) error
	// Create inserts a new element; valid only on a collection address.
	// Returns the URI of the new element, preferring id- or name-based
	// addressing over index-based (index addresses are the least stable).
	Create(props map[string]any) (string, error)
	// Delete removes the referent from its parent collection and returns
	// the URI it was addressed by. Fails with ErrNoParentCollection when
	// there is no collection context — never a silent no-op.
	Delete() (string, error)
	// MoveTo removes the referent from its current collection and inserts
	// it into the destination collection, returning the new URI. The two
	// steps are not transactional.
	MoveTo(dst Delegate) (string, error)

	// WithFilter merges into the accumulated filter (last write per key
	// wins); the other With methods replace their slot. All are pure.
	WithFilter(filter map[string]Predicate) Delegate
	WithSort(field string, desc bool) Delegate
	WithPagination(limit, offset int) Delegate
	WithExpand(fields ...string) Delegate
	// QueryState returns the accumulated query.
	QueryState() QueryState

	// Segments returns a copy of the accumulated path.
	Segments() []Segment
	// URI is a pure function of the accumulated path and query state.
	URI() string
}
