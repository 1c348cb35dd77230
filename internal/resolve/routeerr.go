// Package resolve turns URIs into specifiers: it owns the scheme registry,
// the segment router that walks lexed tokens against a schema, and the
// specifier runtime that binds schema nodes to live delegates.
package resolve

import (
	"fmt"
	"strings"
)

// RouteError is a routing failure: an unknown segment, an unsupported
// addressing mode or an unknown scheme. Options enumerates the valid
// alternatives at the failure point — the enumeration is part of the
// contract, not decoration, and tests assert on it.
type RouteError struct {
	Segment string
	Msg     string
	Options []string
}

func (e *RouteError) Error() string {
	if len(e.Options) > 0 {
		return fmt.Sprintf("%s (available: %s)", e.Msg, strings.Join(e.Options, ", "))
	}
	return e.Msg
}

func unknownSegment(seg string, options []string) *RouteError {
	return &RouteError{
		Segment: seg,
		Msg:     fmt.Sprintf("unknown segment %q", seg),
		Options: options,
	}
}
