package address

import (
	"fmt"
	"strings"

	"github.com/veea/vbus/errors"
)

// Any matches exactly one segment in a Pattern.
const Any = "*"

// Pattern is a path whose segments may be Any. It matches paths of the same
// length, segment by segment.
type Pattern struct {
	segments []string
}

// ParsePattern parses the dotted form of a pattern. Every segment is either Any
// or a valid path segment; the empty string is rejected.
func ParsePattern(s string) (Pattern, error) {
	if s == "" {
		return Pattern{}, fmt.Errorf("%w: empty pattern", errors.ErrInvalidPath)
	}
	segments := strings.Split(s, Separator)
	for _, seg := range segments {
		if seg == Any {
			continue
		}
		if err := ValidateSegment(seg); err != nil {
			return Pattern{}, err
		}
	}
	return Pattern{segments: segments}, nil
}

// String returns the dotted form.
func (p Pattern) String() string {
	return strings.Join(p.segments, Separator)
}

// Len returns the number of segments.
func (p Pattern) Len() int {
	return len(p.segments)
}

// Parent returns the pattern without its last segment.
func (p Pattern) Parent() Pattern {
	if len(p.segments) == 0 {
		return p
	}
	return Pattern{segments: p.segments[:len(p.segments)-1]}
}

// Subject returns the NATS subject matching the pattern followed by verb.
func (p Pattern) Subject(verb string) string {
	if len(p.segments) == 0 {
		return verb
	}
	return p.String() + Separator + verb
}

// Match reports whether path matches p and returns the segments captured by
// each Any, in order.
func (p Pattern) Match(path Path) ([]string, bool) {
	if len(path.segments) != len(p.segments) {
		return nil, false
	}
	var captures []string
	for i, seg := range p.segments {
		switch {
		case seg == Any:
			captures = append(captures, path.segments[i])
		case seg != path.segments[i]:
			return nil, false
		}
	}
	return captures, true
}
