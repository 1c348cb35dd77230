// Package backing provides the reference backing stores: a pure in-memory
// store (the test double) and a SQLite store where every operation is a
// round trip. Both are driven through one Delegate implementation; the
// framework never sees a store directly, only api.Delegate.
package backing

import "github.com/agentic-research/trellis/api"

// Store is the round-trip surface a concrete backing implements. Navigation
// state lives entirely in the delegate; a store only ever sees full paths.
// Every call is one (or more) round trips against the backing system.
type Store interface {
	// Fetch returns the value addressed by path. For a collection address
	// the store may apply qs natively (push-down); returning
	// api.ErrPushDown makes the delegate fetch unfiltered and replay the
	// query in memory.
	Fetch(path []api.Segment, qs api.QueryState) (any, error)

	// SetValue writes a scalar at path.
	SetValue(path []api.Segment, value any) error

	// Insert appends a new element to the collection addressed by path and
	// returns the segment that best re-addresses it: id over name over
	// index. Returns api.ErrNotCollection when path is not a collection.
	Insert(path []api.Segment, props map[string]any) (api.Segment, error)

	// Remove deletes the element addressed by path.
	// Returns api.ErrNoParentCollection when path is not an element.
	Remove(path []api.Segment) error
}

// Mover is an optional fast path for stores that can relocate an element
// natively (keeping sub-structure the generic fetch/insert/remove cycle
// would drop). dst must address a collection in the same store.
type Mover interface {
	Move(src, dst []api.Segment) (api.Segment, error)
}

// Keyed is implemented by stores whose element key fields are configurable.
// The registry checks them against the specifier runtime's conventions at
// registration time, so a mismatch fails loudly instead of mis-addressing
// shaped elements later.
type Keyed interface {
	KeyFields() (idField, nameField string)
}
