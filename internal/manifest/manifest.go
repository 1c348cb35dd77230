// Package manifest loads scheme declarations from HCL: named compound types
// with scalar and collection properties, plus one scheme block per backing
// store. Named type references are the deferred binding that makes
// recursive schemas (folders of folders) declarable.
//
// File access goes through billy so tests can feed manifests and seeds from
// an in-memory filesystem.
package manifest

import (
	"fmt"
	"path"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/ohler55/ojg/oj"
	"github.com/zclconf/go-cty/cty"

	"github.com/agentic-research/trellis/api"
	"github.com/agentic-research/trellis/internal/backing"
	"github.com/agentic-research/trellis/internal/resolve"
)

type fileBody struct {
	Schemes []schemeBlock `hcl:"scheme,block"`
	Types   []typeBlock   `hcl:"type,block"`
}

type schemeBlock struct {
	Name  string         `hcl:"name,label"`
	Store string         `hcl:"store"`
	Root  string         `hcl:"root"`
	Seed  string         `hcl:"seed,optional"`
	DB    string         `hcl:"db,optional"`
	Data  hcl.Expression `hcl:"data,optional"`
}

type typeBlock struct {
	Name        string            `hcl:"name,label"`
	Scalars     []scalarBlock     `hcl:"scalar,block"`
	Computed    []computedBlock   `hcl:"computed,block"`
	Collections []collectionBlock `hcl:"collection,block"`
}

type scalarBlock struct {
	Name     string `hcl:"name,label"`
	Type     string `hcl:"type"`
	Lazy     bool   `hcl:"lazy,optional"`
	Settable bool   `hcl:"settable,optional"`
}

// computed declares a derived field. The only derivation expressible in a
// manifest is field concatenation; richer ComputeFuncs are registered in Go.
type computedBlock struct {
	Name   string   `hcl:"name,label"`
	Concat []string `hcl:"concat"`
	Sep    string   `hcl:"sep,optional"`
}

type collectionBlock struct {
	Name         string   `hcl:"name,label"`
	Of           string   `hcl:"of"`
	By           []string `hcl:"by,optional"`
	NumericNames bool     `hcl:"numeric_names,optional"`
	NoCreate     bool     `hcl:"no_create,optional"`
	NoDelete     bool     `hcl:"no_delete,optional"`
}

// Load parses the manifest at manifestPath and registers every scheme it
// declares into reg. Seed paths resolve relative to the manifest.
func Load(fsys billy.Filesystem, manifestPath string, reg *resolve.Registry) error {
	src, err := util.ReadFile(fsys, manifestPath)
	if err != nil {
		return fmt.Errorf("read manifest %s: %w", manifestPath, err)
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, manifestPath)
	if diags.HasErrors() {
		return fmt.Errorf("parse manifest %s: %w", manifestPath, diags)
	}
	var body fileBody
	if diags := gohcl.DecodeBody(file.Body, nil, &body); diags.HasErrors() {
		return fmt.Errorf("decode manifest %s: %w", manifestPath, diags)
	}

	types, err := buildTypes(body.Types)
	if err != nil {
		return err
	}

	dir := path.Dir(manifestPath)
	for _, sb := range body.Schemes {
		root, ok := types[sb.Root]
		if !ok {
			return fmt.Errorf("scheme %q: unknown root type %q", sb.Name, sb.Root)
		}
		store, err := buildStore(fsys, dir, sb)
		if err != nil {
			return fmt.Errorf("scheme %q: %w", sb.Name, err)
		}
		name := sb.Name
		factory := func() (api.Delegate, error) {
			return backing.NewRoot(store, name), nil
		}
		if err := reg.Register(sb.Name, factory, root); err != nil {
			return err
		}
	}
	return nil
}

// buildTypes runs the two-pass construction: compound shells first, then
// property wiring, so a collection's `of` may reference any declared type —
// including its own ancestors.
func buildTypes(blocks []typeBlock) (map[string]*api.Node, error) {
	types := make(map[string]*api.Node, len(blocks))
	for _, tb := range blocks {
		if _, dup := types[tb.Name]; dup {
			return nil, fmt.Errorf("type %q declared twice", tb.Name)
		}
		types[tb.Name] = api.Compound()
	}
	for _, tb := range blocks {
		node := types[tb.Name]
		for _, s := range tb.Scalars {
			t, err := scalarType(s.Type)
			if err != nil {
				return nil, fmt.Errorf("type %q, scalar %q: %w", tb.Name, s.Name, err)
			}
			sn := &api.Node{Kind: api.KindScalar, Type: t, Lazy: s.Lazy, Settable: s.Settable}
			node.Props = append(node.Props, api.P(s.Name, sn))
		}
		for _, c := range tb.Computed {
			node.Props = append(node.Props, api.P(c.Name, api.Computed(api.TypeString, concatFields(c.Concat, c.Sep))))
		}
		for _, c := range tb.Collections {
			item, ok := types[c.Of]
			if !ok {
				return nil, fmt.Errorf("type %q, collection %q: unknown item type %q", tb.Name, c.Name, c.Of)
			}
			modes, err := addrModes(c.By)
			if err != nil {
				return nil, fmt.Errorf("type %q, collection %q: %w", tb.Name, c.Name, err)
			}
			cn := api.Collection(item, modes)
			cn.NumericNames = c.NumericNames
			if c.NoCreate {
				cn.CreateMode = api.BehaviorUnavailable
			}
			if c.NoDelete {
				cn.DeleteMode = api.BehaviorUnavailable
			}
			node.Props = append(node.Props, api.P(c.Name, cn))
		}
	}
	return types, nil
}

func scalarType(s string) (api.ScalarType, error) {
	switch s {
	case "string":
		return api.TypeString, nil
	case "int":
		return api.TypeInt, nil
	case "float":
		return api.TypeFloat, nil
	case "bool":
		return api.TypeBool, nil
	case "any", "":
		return api.TypeAny, nil
	}
	return 0, fmt.Errorf("unknown scalar type %q", s)
}

func addrModes(by []string) (api.AddrModes, error) {
	var m api.AddrModes
	for _, b := range by {
		switch b {
		case "index":
			m |= api.ByIndex
		case "name":
			m |= api.ByName
		case "id":
			m |= api.ByID
		default:
			return 0, fmt.Errorf("unknown addressing mode %q", b)
		}
	}
	return m, nil
}

func concatFields(fields []string, sep string) api.ComputeFunc {
	return func(raw any) (any, error) {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("computed field needs an object, got %T", raw)
		}
		out := ""
		for i, f := range fields {
			if i > 0 {
				out += sep
			}
			out += fmt.Sprint(m[f])
		}
		return out, nil
	}
}

func buildStore(fsys billy.Filesystem, dir string, sb schemeBlock) (backing.Store, error) {
	seed, err := seedData(fsys, dir, sb)
	if err != nil {
		return nil, err
	}

	switch sb.Store {
	case "memory":
		if seed == nil {
			seed = map[string]any{}
		}
		return backing.NewMemoryStore(seed), nil
	case "sqlite":
		dbPath := sb.DB
		if dbPath == "" {
			dbPath = ":memory:"
		}
		store, err := backing.OpenSQLiteStore(dbPath)
		if err != nil {
			return nil, err
		}
		if seed != nil {
			if err := store.Load(seed); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("seed sqlite store: %w", err)
			}
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown store kind %q", sb.Store)
}

// seedData returns the scheme's initial data: a JSON seed file, or the
// inline data expression, or nil.
func seedData(fsys billy.Filesystem, dir string, sb schemeBlock) (any, error) {
	if sb.Seed != "" {
		p := sb.Seed
		if !path.IsAbs(p) {
			p = path.Join(dir, p)
		}
		raw, err := util.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read seed %s: %w", p, err)
		}
		data, err := oj.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse seed %s: %w", p, err)
		}
		return data, nil
	}
	if sb.Data == nil {
		return nil, nil
	}
	val, diags := sb.Data.Value(nil)
	if diags.HasErrors() {
		return nil, fmt.Errorf("evaluate inline data: %w", diags)
	}
	if val.IsNull() {
		return nil, nil
	}
	return ctyToGo(val)
}

// ctyToGo converts an evaluated HCL value into the map/slice shape the
// backing stores share with ojg-parsed JSON.
func ctyToGo(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	t := v.Type()
	switch {
	case t == cty.String:
		return v.AsString(), nil
	case t == cty.Bool:
		return v.True(), nil
	case t == cty.Number:
		bf := v.AsBigFloat()
		if n, acc := bf.Int64(); acc == 0 { // exact
			return n, nil
		}
		f, _ := bf.Float64()
		return f, nil
	case t.IsObjectType() || t.IsMapType():
		out := make(map[string]any, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			gv, err := ctyToGo(ev)
			if err != nil {
				return nil, err
			}
			out[k.AsString()] = gv
		}
		return out, nil
	case t.IsTupleType() || t.IsListType() || t.IsSetType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			gv, err := ctyToGo(ev)
			if err != nil {
				return nil, err
			}
			out = append(out, gv)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported inline data type %s", t.FriendlyName())
}
