// Package gepname implements the hierarchical Name type used throughout the
// group encryption protocol, and the grammar constants and name templates
// from which every E-KEY, D-KEY, and content object name is built.
package gepname

import (
	"strings"
	"time"
)

// Component is a single opaque name segment.
type Component string

// Name is an ordered, immutable sequence of opaque components.
type Name struct {
	comps []Component
}

// New builds a Name from string segments, splitting any segment that
// contains "/" into further components.
func New(segments ...string) Name {
	n := Name{}
	for _, s := range segments {
		for _, part := range strings.Split(s, "/") {
			if part == "" {
				continue
			}
			n.comps = append(n.comps, Component(part))
		}
	}
	return n
}

// Append returns a new Name with additional components appended. The
// receiver is never mutated.
func (n Name) Append(segments ...string) Name {
	out := Name{comps: append([]Component{}, n.comps...)}
	for _, s := range segments {
		for _, part := range strings.Split(s, "/") {
			if part == "" {
				continue
			}
			out.comps = append(out.comps, Component(part))
		}
	}
	return out
}

// Len returns the number of components.
func (n Name) Len() int {
	return len(n.comps)
}

// At returns the component at index i.
func (n Name) At(i int) Component {
	if i < 0 {
		i = len(n.comps) + i
	}
	return n.comps[i]
}

// String renders the name in slash-separated form, e.g. "/a/b/c".
func (n Name) String() string {
	var b strings.Builder
	for _, c := range n.comps {
		b.WriteByte('/')
		b.WriteString(string(c))
	}
	return b.String()
}

// IsPrefixOf reports whether n is a hierarchical prefix of other.
func (n Name) IsPrefixOf(other Name) bool {
	if len(n.comps) > len(other.comps) {
		return false
	}
	for i, c := range n.comps {
		if other.comps[i] != c {
			return false
		}
	}
	return true
}

// Prefix returns the first k components of n.
func (n Name) Prefix(k int) Name {
	if k > len(n.comps) {
		k = len(n.comps)
	}
	return Name{comps: append([]Component{}, n.comps[:k]...)}
}

// DropLast returns n with the last k components removed.
func (n Name) DropLast(k int) Name {
	if k > len(n.comps) {
		k = len(n.comps)
	}
	return Name{comps: append([]Component{}, n.comps[:len(n.comps)-k]...)}
}

// Equal reports whether n and other have identical components.
func (n Name) Equal(other Name) bool {
	if len(n.comps) != len(other.comps) {
		return false
	}
	for i, c := range n.comps {
		if other.comps[i] != c {
			return false
		}
	}
	return true
}

// iso8601Basic is the millisecond-precision basic ISO-8601 layout used for
// every timestamp name component, e.g. "20150815T101700000".
const iso8601Basic = "20060102T150405.000"

// ISO renders t as a single name component in basic ISO-8601 form with
// millisecond precision and no punctuation, matching spec.md's
// "iso(ts)" name components.
func ISO(t time.Time) string {
	s := t.UTC().Format(iso8601Basic)
	return strings.Replace(s, ".", "", 1)
}

// ParseISO parses a name component produced by ISO back into a time.Time.
func ParseISO(s string) (time.Time, error) {
	if len(s) != len("20060102T150405000") {
		return time.Time{}, &parseError{s}
	}
	withDot := s[:len(s)-3] + "." + s[len(s)-3:]
	return time.Parse(iso8601Basic, withDot)
}

type parseError struct{ s string }

func (e *parseError) Error() string { return "gepname: invalid ISO-8601 component: " + e.s }

// FloorHour rounds t down to the start of its UTC hour — the canonical
// content-key timeslot operator from spec.md §3.
func FloorHour(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), 0, 0, 0, time.UTC)
}

// UnixMillis returns the unix-epoch millisecond count used to key
// in-flight KeyRequest records.
func UnixMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}
