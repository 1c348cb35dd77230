package api

import (
	"net/url"
	"strconv"
	"strings"
)

// SegKind discriminates path segment variants.
type SegKind int

const (
	// SegRoot carries the scheme and anchors the address.
	SegRoot SegKind = iota
	// SegProp navigates to a named property of a compound.
	SegProp
	// SegIndex addresses a collection element by position.
	SegIndex
	// SegName addresses a collection element by its name field.
	SegName
	// SegID addresses a collection element by its id field.
	SegID
)

// Segment is one step of a canonical address. An ordered slice of segments,
// starting with a SegRoot, is the in-memory form of a URI.
type Segment struct {
	Kind   SegKind
	Scheme string // SegRoot only
	Name   string // SegProp only
	Index  int    // SegIndex only
	Value  string // SegName and SegID
}

// Root returns the anchoring segment for a scheme.
func Root(scheme string) Segment { return Segment{Kind: SegRoot, Scheme: scheme} }

// PropSeg returns a property navigation segment.
func PropSeg(name string) Segment { return Segment{Kind: SegProp, Name: name} }

// IndexSeg returns a positional addressing segment.
func IndexSeg(i int) Segment { return Segment{Kind: SegIndex, Index: i} }

// NameSeg returns a name addressing segment.
func NameSeg(v string) Segment { return Segment{Kind: SegName, Value: v} }

// IDSeg returns an id addressing segment.
func IDSeg(v string) Segment { return Segment{Kind: SegID, Value: v} }

// Element reports whether the segment addresses a single collection element.
func (s Segment) Element() bool {
	return s.Kind == SegIndex || s.Kind == SegName || s.Kind == SegID
}

// BuildURI is the pure builder: exactly one URI corresponds to a segment
// sequence plus query state. It performs no I/O and never fails; malformed
// sequences (no root segment) simply produce a schemeless path.
//
//	Root      → "scheme://"
//	Prop      → "/name"        (first path component omits the slash)
//	Index     → "[n]"          (attached to the previous component)
//	Name / ID → "/value"       (percent-encoded)
func BuildURI(segs []Segment, q QueryState) string {
	var b strings.Builder
	first := true
	for _, s := range segs {
		switch s.Kind {
		case SegRoot:
			b.WriteString(s.Scheme)
			b.WriteString("://")
			first = true
		case SegProp:
			if !first {
				b.WriteByte('/')
			}
			b.WriteString(url.PathEscape(s.Name))
			first = false
		case SegIndex:
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(s.Index))
			b.WriteByte(']')
			first = false
		case SegName, SegID:
			if !first {
				b.WriteByte('/')
			}
			b.WriteString(url.PathEscape(s.Value))
			first = false
		}
	}
	if enc := q.Encode(); enc != "" {
		b.WriteByte('?')
		b.WriteString(enc)
	}
	return b.String()
}
