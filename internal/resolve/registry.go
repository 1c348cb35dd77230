package resolve

import (
	"fmt"
	"sort"

	"github.com/agentic-research/trellis/api"
)

// RootFactory produces a fresh root delegate for a scheme. Resolutions never
// share delegates: every walk starts from a new root.
type RootFactory func() (api.Delegate, error)

type scheme struct {
	name    string
	factory RootFactory
	root    *api.Node
}

// Registry maps scheme names to their root schema and delegate factory. It
// is an explicit object, not a package singleton: construct one at startup,
// register schemes once, then treat it as read-only. Concurrent reads are
// fine; registration is not safe against concurrent use.
type Registry struct {
	schemes map[string]*scheme
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemes: make(map[string]*scheme)}
}

// elementKeyed is an optional delegate interface: backings with configurable
// element key fields report them so registration can reject a configuration
// the specifier runtime would mis-address.
type elementKeyed interface {
	ElementKeyFields() (id, name string)
}

// Register binds a scheme name to a root schema and a root delegate factory.
// The schema is validated (and compiled) here, once.
func (r *Registry) Register(name string, factory RootFactory, root *api.Node) error {
	if name == "" {
		return fmt.Errorf("register scheme: empty name")
	}
	if factory == nil {
		return fmt.Errorf("register scheme %q: nil factory", name)
	}
	if _, dup := r.schemes[name]; dup {
		return fmt.Errorf("register scheme %q: already registered", name)
	}
	if err := api.Validate(root); err != nil {
		return fmt.Errorf("register scheme %q: %w", name, err)
	}
	// The runtime re-addresses shaped elements through the id/name fields;
	// a store keyed on anything else must fail here, not mis-address later.
	if del, err := factory(); err == nil {
		if ek, ok := del.(elementKeyed); ok {
			if id, nm := ek.ElementKeyFields(); id != idField || nm != nameField {
				return fmt.Errorf("register scheme %q: store element key fields %q/%q differ from the runtime's %q/%q",
					name, id, nm, idField, nameField)
			}
		}
	}
	r.schemes[name] = &scheme{name: name, factory: factory, root: root}
	return nil
}

// Schemes lists the registered scheme names, sorted.
func (r *Registry) Schemes() []string {
	out := make([]string, 0, len(r.schemes))
	for name := range r.schemes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Root returns a specifier for the root of a scheme without any URI parsing.
func (r *Registry) Root(name string) (*Specifier, error) {
	sc, ok := r.schemes[name]
	if !ok {
		return nil, &RouteError{
			Msg:     fmt.Sprintf("unknown scheme %q", name),
			Options: r.Schemes(),
		}
	}
	del, err := sc.factory()
	if err != nil {
		return nil, fmt.Errorf("scheme %q: root delegate: %w", name, err)
	}
	return &Specifier{node: sc.root, del: del}, nil
}
