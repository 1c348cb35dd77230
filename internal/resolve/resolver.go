package resolve

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/agentic-research/trellis/api"
	"github.com/agentic-research/trellis/internal/uri"
)

// SpecifierFromURI lexes a URI, walks its segments against the scheme's
// schema and returns the terminal specifier. Navigation is pure: no round
// trip happens until the caller resolves or mutates the result.
//
// Query pairs are validated here, against the terminal node's schema —
// applying a string operator to a declared numeric field fails at parse
// time, not at resolution time.
func (r *Registry) SpecifierFromURI(raw string) (*Specifier, error) {
	lx, err := uri.Lex(raw)
	if err != nil {
		return nil, err
	}
	cur, err := r.Root(lx.Scheme)
	if err != nil {
		return nil, err
	}
	for _, tok := range lx.Tokens {
		cur, err = step(cur, tok)
		if err != nil {
			return nil, err
		}
	}
	return applyQuery(cur, lx.Query)
}

// step routes one path token. Heads resolve as compound properties first;
// against a collection they resolve as element addresses driven by the
// declared addressing modes.
func step(cur *Specifier, tok uri.Token) (*Specifier, error) {
	var next *Specifier
	var err error

	switch cur.node.Kind {
	case api.KindCompound:
		next, err = cur.Prop(tok.Head)
	case api.KindCollection:
		next, err = addressCollection(cur, tok.Head)
	default:
		err = &RouteError{
			Segment: tok.Head,
			Msg:     fmt.Sprintf("unknown segment %q: scalar values have no children", tok.Head),
		}
	}
	if err != nil {
		return nil, err
	}

	if tok.HasIndex {
		next, err = next.ByIndex(tok.Index)
		if err != nil {
			return nil, err
		}
	}
	return next, nil
}

// addressCollection resolves a bare head as an element address. A numeric
// head addresses by id when the collection declares id addressing — the
// bare-integer heuristic from the URI grammar — unless the collection opted
// out with NumericNames (names that are themselves numeric strings).
func addressCollection(cur *Specifier, head string) (*Specifier, error) {
	n := cur.node
	if _, err := strconv.Atoi(head); err == nil && n.Modes.Has(api.ByID) && !n.NumericNames {
		return cur.ByID(head)
	}
	if n.Modes.Has(api.ByName) {
		return cur.ByName(head)
	}
	if n.Modes.Has(api.ByID) {
		return cur.ByID(head)
	}
	return nil, &RouteError{
		Segment: head,
		Msg:     fmt.Sprintf("collection cannot address %q by name or id", head),
		Options: n.Modes.Names(),
	}
}

// applyQuery validates and applies the lexed query pairs to the terminal
// specifier: filters merge, sort/pagination/expand each apply once.
func applyQuery(cur *Specifier, pairs []uri.Pair) (*Specifier, error) {
	if len(pairs) == 0 {
		return cur, nil
	}

	var (
		page    api.Page
		paged   bool
		expands []string
	)
	filtered := make(map[string]bool)

	for _, p := range pairs {
		switch p.Field {
		case "sort":
			field, desc := p.Value, false
			if cut := strings.LastIndexByte(field, '.'); cut >= 0 {
				switch field[cut+1:] {
				case "desc":
					field, desc = field[:cut], true
				case "asc":
					field = field[:cut]
				}
			}
			next, err := cur.SortBy(field, desc)
			if err != nil {
				return nil, err
			}
			cur = next

		case "limit":
			n, err := strconv.Atoi(p.Value)
			if err != nil || n < 0 {
				return nil, &uri.ParseError{Pos: p.Pos, Msg: fmt.Sprintf("invalid limit %q", p.Value)}
			}
			page.Limit = n
			paged = true

		case "offset":
			n, err := strconv.Atoi(p.Value)
			if err != nil || n < 0 {
				return nil, &uri.ParseError{Pos: p.Pos, Msg: fmt.Sprintf("invalid offset %q", p.Value)}
			}
			page.Offset = n
			paged = true

		case "expand":
			expands = append(expands, p.Value)

		default:
			// The filter holds one predicate per field; a second pair on the
			// same field would silently drop the first, so it is rejected
			// rather than guessed at.
			if filtered[p.Field] {
				return nil, &uri.ParseError{
					Pos: p.Pos,
					Msg: fmt.Sprintf("duplicate filter on field %q: one predicate per field", p.Field),
				}
			}
			filtered[p.Field] = true

			op := api.OpEq
			if p.OpSuffix != "" {
				var err error
				op, err = api.ParseOp(p.OpSuffix)
				if err != nil {
					return nil, &uri.ParseError{Pos: p.Pos, Msg: err.Error()}
				}
			}
			t, err := cur.queryField(p.Field)
			if err != nil {
				return nil, err
			}
			value, err := parseFilterValue(t, op, p.Value)
			if err != nil {
				return nil, &uri.ParseError{Pos: p.Pos, Msg: err.Error()}
			}
			next, err := cur.Whose(p.Field, api.Predicate{Op: op, Value: value})
			if err != nil {
				return nil, err
			}
			cur = next
		}
	}

	if paged {
		next, err := cur.Paginate(page.Limit, page.Offset)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	if len(expands) > 0 {
		next, err := cur.Expand(expands...)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// parseFilterValue types a raw query value against the declared field type.
// Ordering operators always take numbers; otherwise the declared type wins
// and TypeAny stays a string (predicate evaluation coerces loosely).
func parseFilterValue(t api.ScalarType, op api.Op, raw string) (any, error) {
	if op == api.OpGT || op == api.OpLT {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("operator %s needs a numeric value, got %q", op, raw)
		}
		return f, nil
	}
	switch t {
	case api.TypeInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("field expects an integer, got %q", raw)
		}
		return n, nil
	case api.TypeFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("field expects a number, got %q", raw)
		}
		return f, nil
	case api.TypeBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("field expects a bool, got %q", raw)
		}
		return b, nil
	}
	return raw, nil
}
