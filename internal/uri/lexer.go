// Package uri lexes Trellis URIs into scheme, path tokens and query pairs.
// The lexer is schema-independent: it cannot tell a property head from a
// name address, so it emits bare heads and leaves that distinction (and the
// bare-numeric-id heuristic) to the resolver, which has the schema.
package uri

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ParseError is a malformed-URI failure with a byte position.
type ParseError struct {
	Pos int
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("uri parse error at %d: %s", e.Pos, e.Msg)
}

func errAt(pos int, format string, args ...any) error {
	return &ParseError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// Token is one path component: a percent-decoded head plus an optional
// index qualifier ("head[3]").
type Token struct {
	Head     string
	Index    int
	HasIndex bool
	Pos      int // byte offset of the component in the input
}

// Pair is one raw query pair. Field carries the key with any operator
// suffix already split off; for the reserved keys (sort, limit, offset,
// expand) OpSuffix is empty and Field is the key itself.
type Pair struct {
	Field    string
	OpSuffix string // "", "contains", "startsWith", "gt", "lt"
	Value    string
	Pos      int
}

// Lexed is the result of lexing one URI.
type Lexed struct {
	Scheme string
	Tokens []Token
	Query  []Pair
}

// reserved query keys interpreted by the resolver rather than as filters.
func reservedKey(k string) bool {
	switch k {
	case "sort", "limit", "offset", "expand":
		return true
	}
	return false
}

// Lex splits a URI string into scheme, path tokens and query pairs.
// Grammar: scheme "://" component *( "/" component ) [ "?" query ] where a
// component is a percent-encoded head optionally followed by "[n]".
func Lex(raw string) (*Lexed, error) {
	sep := strings.Index(raw, "://")
	if sep < 0 {
		return nil, errAt(0, "missing scheme separator %q", "://")
	}
	scheme := raw[:sep]
	if scheme == "" {
		return nil, errAt(0, "empty scheme")
	}
	for i, r := range scheme {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' {
			continue
		}
		if i > 0 && (r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.') {
			continue
		}
		return nil, errAt(i, "invalid scheme character %q", r)
	}

	rest := raw[sep+3:]
	base := sep + 3
	path := rest
	var query string
	hasQuery := false
	if q := strings.IndexByte(rest, '?'); q >= 0 {
		path, query = rest[:q], rest[q+1:]
		hasQuery = true
	}

	lx := &Lexed{Scheme: scheme}

	if path != "" {
		off := base
		for _, comp := range strings.Split(path, "/") {
			if comp == "" {
				return nil, errAt(off, "empty path segment")
			}
			tok, err := lexComponent(comp, off)
			if err != nil {
				return nil, err
			}
			lx.Tokens = append(lx.Tokens, tok)
			off += len(comp) + 1
		}
	}

	if hasQuery {
		qoff := base + len(path) + 1
		pairs, err := lexQuery(query, qoff)
		if err != nil {
			return nil, err
		}
		lx.Query = pairs
	}
	return lx, nil
}

func lexComponent(comp string, pos int) (Token, error) {
	tok := Token{Pos: pos}
	head := comp
	if open := strings.IndexByte(comp, '['); open >= 0 {
		if !strings.HasSuffix(comp, "]") {
			return tok, errAt(pos+open, "unterminated index qualifier in %q", comp)
		}
		idxStr := comp[open+1 : len(comp)-1]
		n, err := strconv.Atoi(idxStr)
		if err != nil || n < 0 {
			return tok, errAt(pos+open+1, "invalid index %q", idxStr)
		}
		head = comp[:open]
		if head == "" {
			return tok, errAt(pos, "index qualifier without a segment head")
		}
		tok.Index = n
		tok.HasIndex = true
	}
	decoded, err := url.PathUnescape(head)
	if err != nil {
		return tok, errAt(pos, "bad percent-encoding in %q", head)
	}
	tok.Head = decoded
	return tok, nil
}

func lexQuery(query string, base int) ([]Pair, error) {
	var pairs []Pair
	off := base
	for _, part := range strings.Split(query, "&") {
		if part == "" {
			return nil, errAt(off, "empty query pair")
		}
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			return nil, errAt(off, "query pair %q has no value", part)
		}
		rawKey, rawVal := part[:eq], part[eq+1:]
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return nil, errAt(off, "bad percent-encoding in key %q", rawKey)
		}
		val, err := url.QueryUnescape(rawVal)
		if err != nil {
			return nil, errAt(off+eq+1, "bad percent-encoding in value %q", rawVal)
		}

		p := Pair{Field: key, Value: val, Pos: off}
		if !reservedKey(key) {
			if dot := strings.LastIndexByte(key, '.'); dot >= 0 {
				field, suffix := key[:dot], key[dot+1:]
				switch suffix {
				case "contains", "startsWith", "gt", "lt":
					p.Field, p.OpSuffix = field, suffix
				default:
					return nil, errAt(off, "unknown filter operator %q in key %q", suffix, key)
				}
			}
			if p.Field == "" {
				return nil, errAt(off, "empty field in query key %q", key)
			}
		}
		pairs = append(pairs, p)
		off += len(part) + 1
	}
	return pairs, nil
}

// String reconstructs the canonical text of the lexed path (scheme and
// tokens only, queries excluded): the lexer-level half of the round-trip
// guarantee. Query canonicalization lives in api.QueryState.Encode.
func (l *Lexed) String() string {
	var b strings.Builder
	b.WriteString(l.Scheme)
	b.WriteString("://")
	for i, t := range l.Tokens {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(url.PathEscape(t.Head))
		if t.HasIndex {
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(t.Index))
			b.WriteByte(']')
		}
	}
	return b.String()
}
