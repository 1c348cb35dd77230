// Package api holds the public contracts of Trellis: the schema descriptors
// that declare the shape of a remote object graph, the path segment and query
// types that make up an address, and the Delegate interface a backing store
// implements. Everything here is pure data plus small pure functions — no
// round trips happen in this package.
package api

import (
	"fmt"
	"sort"
)

// Kind discriminates the SchemaNode variants.
type Kind int

const (
	// KindScalar is a leaf value (string, int, float, bool or untyped).
	KindScalar Kind = iota
	// KindCollection is an ordered sequence of elements sharing one item schema.
	KindCollection
	// KindCompound is a record with a fixed, ordered set of named properties.
	KindCompound
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindCollection:
		return "collection"
	case KindCompound:
		return "compound"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ScalarType is the declared value type of a scalar property. It drives
// query-operator validation: contains/startsWith require TypeString,
// gt/lt require TypeInt or TypeFloat.
type ScalarType int

const (
	TypeAny ScalarType = iota
	TypeString
	TypeInt
	TypeFloat
	TypeBool
)

func (t ScalarType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	}
	return "any"
}

// Numeric reports whether the type is ordered by gt/lt.
func (t ScalarType) Numeric() bool { return t == TypeInt || t == TypeFloat }

// AddrModes is the set of addressing modes a collection declares. It is the
// single source of truth for which navigation methods the specifier runtime
// exposes on that collection.
type AddrModes int

const (
	ByIndex AddrModes = 1 << iota
	ByName
	ByID
)

// Has reports whether every mode in m is declared.
func (a AddrModes) Has(m AddrModes) bool { return a&m == m }

// Names returns the declared modes in a fixed order, for error messages.
func (a AddrModes) Names() []string {
	var out []string
	if a.Has(ByIndex) {
		out = append(out, "index")
	}
	if a.Has(ByName) {
		out = append(out, "name")
	}
	if a.Has(ByID) {
		out = append(out, "id")
	}
	return out
}

// Behavior selects how a collection handles create/delete.
type Behavior int

const (
	// BehaviorDefault delegates the mutation to the backing store.
	BehaviorDefault Behavior = iota
	// BehaviorUnavailable rejects the mutation at the specifier layer.
	BehaviorUnavailable
	// BehaviorCustom runs the schema-supplied function instead of the store.
	BehaviorCustom
)

// ComputeFunc derives a computed scalar from the raw backing value of its
// parent element. It must be pure; it never triggers a round trip.
type ComputeFunc func(raw any) (any, error)

// CreateFunc and DeleteFunc override the default mutation behavior of a
// collection. Both return the URI of the affected element.
type (
	CreateFunc func(d Delegate, props map[string]any) (string, error)
	DeleteFunc func(d Delegate) (string, error)
)

// Prop is one named property of a compound node. Order is significant: it is
// the order properties appear in resolved values and in error enumerations.
type Prop struct {
	Name string
	Node *Node
}

// Node is a schema descriptor. Exactly one variant's fields are meaningful,
// selected by Kind. Nodes are plain data; Validate compiles them once.
//
// Recursive schemas (a collection whose item is an ancestor compound) are
// built by patching Item after construction and before Validate — the
// pointer is the deferred binding.
type Node struct {
	Kind Kind

	// Scalar fields.
	Type     ScalarType
	Lazy     bool // stays a specifier when the parent resolves
	Settable bool
	Compute  ComputeFunc // non-nil for computed scalars

	// Collection fields.
	Item         *Node // item schema, possibly self-referential
	Modes        AddrModes
	Enumerable   bool // resolvable as a whole, without addressing an element
	NumericNames bool // names that look like integers are still names, never id qualifiers
	CreateMode   Behavior
	DeleteMode   Behavior
	OnCreate     CreateFunc
	OnDelete     DeleteFunc

	// Compound fields.
	Props []Prop

	propIndex map[string]int // built by Validate
}

// Scalar returns an eager scalar descriptor.
func Scalar(t ScalarType) *Node {
	return &Node{Kind: KindScalar, Type: t}
}

// LazyScalar returns a scalar that survives parent resolution as a specifier
// and only resolves when asked to (or when expanded).
func LazyScalar(t ScalarType) *Node {
	return &Node{Kind: KindScalar, Type: t, Lazy: true}
}

// SettableScalar returns an eager scalar that accepts Set.
func SettableScalar(t ScalarType) *Node {
	return &Node{Kind: KindScalar, Type: t, Settable: true}
}

// Computed returns a scalar derived from the parent's raw value by fn.
func Computed(t ScalarType, fn ComputeFunc) *Node {
	return &Node{Kind: KindScalar, Type: t, Compute: fn}
}

// Collection returns a collection descriptor. item may be nil at construction
// time and patched later for recursive schemas.
func Collection(item *Node, modes AddrModes) *Node {
	return &Node{Kind: KindCollection, Item: item, Modes: modes, Enumerable: true}
}

// Compound returns a record descriptor with the given ordered properties.
func Compound(props ...Prop) *Node {
	return &Node{Kind: KindCompound, Props: props}
}

// P is a property constructor for Compound literals.
func P(name string, n *Node) Prop { return Prop{Name: name, Node: n} }

// PropNode looks up a compound property by name. Valid after Validate; before
// that it falls back to a linear scan.
func (n *Node) PropNode(name string) (*Node, bool) {
	if n.Kind != KindCompound {
		return nil, false
	}
	if n.propIndex != nil {
		i, ok := n.propIndex[name]
		if !ok {
			return nil, false
		}
		return n.Props[i].Node, true
	}
	for _, p := range n.Props {
		if p.Name == name {
			return p.Node, true
		}
	}
	return nil, false
}

// PropNames returns the compound's property names in declaration order.
// This enumeration is first-class: routing errors embed it verbatim.
func (n *Node) PropNames() []string {
	out := make([]string, len(n.Props))
	for i, p := range n.Props {
		out[i] = p.Name
	}
	return out
}

// Validate compiles and checks a schema once, at construction time. It is
// cycle-safe: recursive item references are visited exactly once.
//
// Rejected shapes:
//   - a collection with no item schema
//   - a collection with no addressing modes that is also not enumerable
//   - a compound with duplicate property names
//   - custom create/delete behavior without the matching function
func Validate(root *Node) error {
	if root == nil {
		return fmt.Errorf("schema: nil root")
	}
	seen := map[*Node]bool{}
	return validate(root, "$", seen)
}

func validate(n *Node, path string, seen map[*Node]bool) error {
	if seen[n] {
		return nil
	}
	seen[n] = true

	switch n.Kind {
	case KindScalar:
		return nil
	case KindCollection:
		if n.Item == nil {
			return fmt.Errorf("schema: collection %s has no item schema", path)
		}
		if n.Modes == 0 && !n.Enumerable {
			return fmt.Errorf("schema: collection %s is unreachable: no addressing modes and not enumerable", path)
		}
		if n.CreateMode == BehaviorCustom && n.OnCreate == nil {
			return fmt.Errorf("schema: collection %s declares custom create without a function", path)
		}
		if n.DeleteMode == BehaviorCustom && n.OnDelete == nil {
			return fmt.Errorf("schema: collection %s declares custom delete without a function", path)
		}
		return validate(n.Item, path+"[]", seen)
	case KindCompound:
		idx := make(map[string]int, len(n.Props))
		for i, p := range n.Props {
			if p.Node == nil {
				return fmt.Errorf("schema: property %s.%s has no descriptor", path, p.Name)
			}
			if _, dup := idx[p.Name]; dup {
				return fmt.Errorf("schema: duplicate property %s.%s", path, p.Name)
			}
			idx[p.Name] = i
		}
		n.propIndex = idx
		for _, p := range n.Props {
			if err := validate(p.Node, path+"."+p.Name, seen); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("schema: %s has unknown kind %d", path, int(n.Kind))
}

// SortedPropNames is PropNames sorted lexically. Used where a deterministic
// order matters more than declaration order (e.g. scheme listings).
func (n *Node) SortedPropNames() []string {
	names := n.PropNames()
	sort.Strings(names)
	return names
}
