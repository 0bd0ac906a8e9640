// Package address implements hierarchical bus paths.
//
// A Path is an ordered list of segments joined with '.' in its string form, which is
// also the NATS subject of the element it names. Segments are non-empty and never
// contain the separator, NATS wildcards or whitespace.
package address

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/veea/vbus/errors"
)

// Separator joins segments in the string form of a path.
const Separator = "."

// Verb segments terminate request and notice subjects; elements may not use them as names.
var reserved = map[string]struct{}{
	"add":      {},
	"del":      {},
	"get":      {},
	"set":      {},
	"call":     {},
	"describe": {},
	"notify":   {},
}

// Path is an immutable hierarchical address. The zero value is the root path.
type Path struct {
	segments []string
}

// Root is the empty path.
var Root = Path{}

// ValidateSegment reports whether s can be used as a path segment.
func ValidateSegment(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty segment", errors.ErrInvalidPath)
	}
	for _, r := range s {
		if r == '.' || r == '*' || r == '>' || unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return fmt.Errorf("%w: segment %q contains %q", errors.ErrInvalidPath, s, r)
		}
	}
	return nil
}

// IsReserved reports whether s is one of the verb segments used in subjects.
func IsReserved(s string) bool {
	_, ok := reserved[s]
	return ok
}

// New builds a path from segments, validating each of them.
func New(segments ...string) (Path, error) {
	if len(segments) == 0 {
		return Root, nil
	}
	out := make([]string, len(segments))
	for i, s := range segments {
		if err := ValidateSegment(s); err != nil {
			return Root, err
		}
		out[i] = s
	}
	return Path{segments: out}, nil
}

// Parse parses the dotted string form. The empty string is the root path.
func Parse(s string) (Path, error) {
	if s == "" {
		return Root, nil
	}
	return New(strings.Split(s, Separator)...)
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the dotted form.
func (p Path) String() string {
	return strings.Join(p.segments, Separator)
}

// Key returns a value usable as a map key; equal paths have equal keys.
func (p Path) Key() string {
	return p.String()
}

// Segments returns a copy of the segments.
func (p Path) Segments() []string {
	out := make([]string, len(p.segments))
	copy(out, p.segments)
	return out
}

// Len returns the number of segments.
func (p Path) Len() int {
	return len(p.segments)
}

// IsRoot reports whether p has no segments.
func (p Path) IsRoot() bool {
	return len(p.segments) == 0
}

// Last returns the final segment, or "" for the root.
func (p Path) Last() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// Segment returns the i-th segment.
func (p Path) Segment(i int) string {
	return p.segments[i]
}

// Parent returns p without its last segment. The parent of the root is the root.
func (p Path) Parent() Path {
	if len(p.segments) <= 1 {
		return Root
	}
	return Path{segments: p.segments[:len(p.segments)-1]}
}

// Child returns p extended with segment.
func (p Path) Child(segment string) (Path, error) {
	if err := ValidateSegment(segment); err != nil {
		return Root, err
	}
	return p.append(segment), nil
}

// Join returns p followed by every segment of other.
func (p Path) Join(other Path) Path {
	return p.append(other.segments...)
}

func (p Path) append(segments ...string) Path {
	out := make([]string, 0, len(p.segments)+len(segments))
	out = append(out, p.segments...)
	out = append(out, segments...)
	return Path{segments: out}
}

// Equal reports whether both paths have the same segments.
func (p Path) Equal(other Path) bool {
	if len(p.segments) != len(other.segments) {
		return false
	}
	for i := range p.segments {
		if p.segments[i] != other.segments[i] {
			return false
		}
	}
	return true
}

// IsPrefixOf reports whether p's segments are an ordered prefix of other's.
// Every path is a prefix of itself and the root is a prefix of every path.
func (p Path) IsPrefixOf(other Path) bool {
	if len(p.segments) > len(other.segments) {
		return false
	}
	for i := range p.segments {
		if p.segments[i] != other.segments[i] {
			return false
		}
	}
	return true
}

// RelativeTo returns p with the ancestor's segments removed.
func (p Path) RelativeTo(ancestor Path) (Path, error) {
	if !ancestor.IsPrefixOf(p) {
		return Root, fmt.Errorf("%w: %q is not a prefix of %q", errors.ErrInvalidPath, ancestor, p)
	}
	rest := p.segments[len(ancestor.segments):]
	if len(rest) == 0 {
		return Root, nil
	}
	return Path{segments: rest}, nil
}

// Compare orders paths segment by segment; a prefix sorts before its extensions.
func (p Path) Compare(other Path) int {
	n := min(len(p.segments), len(other.segments))
	for i := 0; i < n; i++ {
		if c := strings.Compare(p.segments[i], other.segments[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(p.segments) < len(other.segments):
		return -1
	case len(p.segments) > len(other.segments):
		return 1
	default:
		return 0
	}
}

// Subject returns the NATS subject for p followed by a verb segment.
func (p Path) Subject(verb string) string {
	if len(p.segments) == 0 {
		return verb
	}
	if verb == "" {
		return p.String()
	}
	return p.String() + Separator + verb
}

// Wildcard returns the subject matching p and all its descendants.
func (p Path) Wildcard() string {
	return p.Subject(">")
}
