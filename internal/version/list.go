package version

import (
	"fmt"
	"sort"
	"strings"
)

// Range is one alternative of a version constraint.
//
// Exact ranges ("=1.2", "git.main") contain a single version. Other ranges
// are inclusive on both ends, and the upper bound also admits every version it
// is a prefix of, so "1.2:1.4" contains "1.4.9". A nil bound is open.
type Range struct {
	Lo, Hi *Version
	Exact  bool
}

// Point returns the exact range containing only v.
func Point(v Version) Range { return Range{Lo: &v, Hi: &v, Exact: true} }

// Contains reports whether v lies in r.
func (r Range) Contains(v Version) bool {
	if r.Exact {
		return r.Lo != nil && r.Lo.IsGit() == v.IsGit() && r.Lo.Equal(v)
	}
	if v.IsGit() {
		return false
	}
	if r.Lo != nil && Compare(v, *r.Lo) < 0 {
		return false
	}
	if r.Hi != nil && Compare(v, *r.Hi) > 0 && !r.Hi.IsPrefixOf(v) {
		return false
	}
	return true
}

func (r Range) String() string {
	switch {
	case r.Exact && r.Lo.IsGit():
		return r.Lo.String()
	case r.Exact:
		return "=" + r.Lo.String()
	case r.Lo != nil && r.Hi != nil && r.Lo.Equal(*r.Hi):
		return r.Lo.String()
	}
	var b strings.Builder
	if r.Lo != nil {
		b.WriteString(r.Lo.String())
	}
	b.WriteByte(':')
	if r.Hi != nil {
		b.WriteString(r.Hi.String())
	}
	return b.String()
}

// intersect returns the overlap of a and b.
func intersect(a, b Range) (Range, bool) {
	switch {
	case a.Exact:
		return a, b.Contains(*a.Lo)
	case b.Exact:
		return b, a.Contains(*b.Lo)
	}
	out := Range{Lo: a.Lo, Hi: a.Hi}
	if b.Lo != nil && (out.Lo == nil || Compare(*b.Lo, *out.Lo) > 0) {
		out.Lo = b.Lo
	}
	if b.Hi != nil && (out.Hi == nil || upperLess(*b.Hi, *out.Hi)) {
		out.Hi = b.Hi
	}
	if out.Lo != nil && out.Hi != nil && Compare(*out.Lo, *out.Hi) > 0 && !out.Hi.IsPrefixOf(*out.Lo) {
		return Range{}, false
	}
	return out, true
}

// upperLess reports whether a is a tighter upper bound than b.
func upperLess(a, b Version) bool {
	if b.IsPrefixOf(a) {
		return !a.IsPrefixOf(b)
	}
	if a.IsPrefixOf(b) {
		return false
	}
	return Compare(a, b) < 0
}

// List is a version constraint: a set of alternative ranges. The zero List
// is unconstrained and contains every version.
type List struct {
	ranges []Range
}

// Any returns the unconstrained List.
func Any() List { return List{} }

// Exactly returns a List containing only v.
func Exactly(v Version) List { return List{ranges: []Range{Point(v)}} }

// ParseList parses a comma separated version constraint such as
// "1.2:1.4,2.0", "=1.3", ":2", "git.main".
func ParseList(raw string) (List, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == ":" {
		return List{}, nil
	}
	var l List
	for _, item := range strings.Split(raw, ",") {
		r, err := parseRange(strings.TrimSpace(item))
		if err != nil {
			return List{}, fmt.Errorf("version: parse constraint %q: %w", raw, err)
		}
		if r.Lo == nil && r.Hi == nil {
			return List{}, nil
		}
		l.ranges = append(l.ranges, r)
	}
	l.normalize()
	return l, nil
}

// MustParseList is like ParseList but panics on error.
func MustParseList(raw string) List {
	l, err := ParseList(raw)
	if err != nil {
		panic(err)
	}
	return l
}

func parseRange(item string) (Range, error) {
	if item == "" {
		return Range{}, fmt.Errorf("empty alternative")
	}
	if exact, ok := strings.CutPrefix(item, "="); ok {
		v, err := Parse(exact)
		if err != nil {
			return Range{}, err
		}
		return Point(v), nil
	}
	lo, hi, isRange := strings.Cut(item, ":")
	if !isRange {
		v, err := Parse(item)
		if err != nil {
			return Range{}, err
		}
		if v.IsGit() {
			return Point(v), nil
		}
		return Range{Lo: &v, Hi: &v}, nil
	}
	var r Range
	if lo != "" {
		v, err := Parse(lo)
		if err != nil {
			return Range{}, err
		}
		r.Lo = &v
	}
	if hi != "" {
		v, err := Parse(hi)
		if err != nil {
			return Range{}, err
		}
		r.Hi = &v
	}
	if (r.Lo != nil && r.Lo.IsGit()) || (r.Hi != nil && r.Hi.IsGit()) {
		return Range{}, fmt.Errorf("git version %q cannot bound a range", item)
	}
	if r.Lo != nil && r.Hi != nil {
		if _, ok := intersect(r, r); !ok {
			return Range{}, fmt.Errorf("empty range %q", item)
		}
	}
	return r, nil
}

func (l *List) normalize() {
	sort.SliceStable(l.ranges, func(i, j int) bool {
		return l.ranges[i].String() < l.ranges[j].String()
	})
	out := l.ranges[:0]
	for i, r := range l.ranges {
		if i > 0 && r.String() == out[len(out)-1].String() {
			continue
		}
		out = append(out, r)
	}
	l.ranges = out
}

// IsAny reports whether l is unconstrained.
func (l List) IsAny() bool { return len(l.ranges) == 0 }

// Ranges returns the alternatives of l.
func (l List) Ranges() []Range { return l.ranges }

// Concrete returns the single version l pins, if l is one exact range.
func (l List) Concrete() (Version, bool) {
	if len(l.ranges) == 1 && l.ranges[0].Exact {
		return *l.ranges[0].Lo, true
	}
	return Version{}, false
}

// Contains reports whether v satisfies l.
func (l List) Contains(v Version) bool {
	if l.IsAny() {
		return true
	}
	for _, r := range l.ranges {
		if r.Contains(v) {
			return true
		}
	}
	return false
}

// Intersect returns the versions contained in both l and other. ok is false
// when no version can satisfy both.
func (l List) Intersect(other List) (List, bool) {
	switch {
	case l.IsAny():
		return other, true
	case other.IsAny():
		return l, true
	}
	var out List
	for _, a := range l.ranges {
		for _, b := range other.ranges {
			if r, ok := intersect(a, b); ok {
				out.ranges = append(out.ranges, r)
			}
		}
	}
	if len(out.ranges) == 0 {
		return List{}, false
	}
	out.normalize()
	return out, true
}

// Intersects reports whether some version could satisfy both l and other.
func (l List) Intersects(other List) bool {
	_, ok := l.Intersect(other)
	return ok
}

// Filter returns the candidates contained in l, preserving order.
func (l List) Filter(candidates []Version) []Version {
	out := make([]Version, 0, len(candidates))
	for _, v := range candidates {
		if l.Contains(v) {
			out = append(out, v)
		}
	}
	return out
}

func (l List) String() string {
	if l.IsAny() {
		return ":"
	}
	parts := make([]string, len(l.ranges))
	for i, r := range l.ranges {
		parts[i] = r.String()
	}
	return strings.Join(parts, ",")
}
