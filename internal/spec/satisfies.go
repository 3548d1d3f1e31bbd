package spec

import (
	"fmt"

	"github.com/vjranagit/spack-sub003/internal/version"
)

// UnsatisfiableError reports that two constraints on the same node cannot
// both hold.
type UnsatisfiableError struct {
	Name        string
	Attribute   string
	Left, Right string
}

func (e *UnsatisfiableError) Error() string {
	name := e.Name
	if name == "" {
		name = "<anonymous>"
	}
	return fmt.Sprintf("spec: %s: %s %s conflicts with %s", name, e.Attribute, e.Left, e.Right)
}

// Merge intersects the constraints of a and b. a and b must name the same
// package, or at least one must be anonymous. Neither input is modified.
func Merge(a, b *Spec) (*Spec, error) {
	if a.Name != "" && b.Name != "" && a.Name != b.Name {
		return nil, &UnsatisfiableError{Name: a.Name, Attribute: "name", Left: a.Name, Right: b.Name}
	}
	out := a.Copy()
	if out.Name == "" {
		out.Name = b.Name
	}
	name := out.Name

	versions, ok := a.Versions.Intersect(b.Versions)
	if !ok {
		return nil, &UnsatisfiableError{Name: name, Attribute: "version", Left: "@" + a.Versions.String(), Right: "@" + b.Versions.String()}
	}
	out.Versions = versions

	for _, vn := range b.VariantNames() {
		bv := b.Variants[vn]
		av, exists := out.Variants[vn]
		if !exists {
			out.SetVariant(bv)
			continue
		}
		merged, ok := mergeVariant(av, bv)
		if !ok {
			return nil, &UnsatisfiableError{Name: name, Attribute: "variant", Left: av.String(), Right: bv.String()}
		}
		out.SetVariant(merged)
	}

	switch {
	case b.Compiler == nil:
	case out.Compiler == nil:
		c := *b.Compiler
		out.Compiler = &c
	case out.Compiler.Name != b.Compiler.Name:
		return nil, &UnsatisfiableError{Name: name, Attribute: "compiler", Left: out.Compiler.String(), Right: b.Compiler.String()}
	default:
		cv, ok := out.Compiler.Versions.Intersect(b.Compiler.Versions)
		if !ok {
			return nil, &UnsatisfiableError{Name: name, Attribute: "compiler", Left: out.Compiler.String(), Right: b.Compiler.String()}
		}
		out.Compiler.Versions = cv
	}

	arch, field, ok := mergeArch(out.Arch, b.Arch)
	if !ok {
		return nil, &UnsatisfiableError{Name: name, Attribute: field, Left: a.Arch.String(), Right: b.Arch.String()}
	}
	out.Arch = arch

	for _, bd := range b.Deps {
		prev := out.Dependency(bd.Spec.Name)
		if prev == nil {
			out.Deps = append(out.Deps, &Dependency{
				Spec:     bd.Spec.Copy(),
				Types:    bd.Types,
				Virtuals: append([]string(nil), bd.Virtuals...),
			})
			continue
		}
		merged, err := Merge(prev.Spec, bd.Spec)
		if err != nil {
			return nil, err
		}
		prev.Spec = merged
		prev.Types |= bd.Types
		prev.Virtuals = unionStrings(prev.Virtuals, bd.Virtuals)
	}
	return out, nil
}

func mergeVariant(a, b Variant) (Variant, bool) {
	if a.IsBool() || b.IsBool() || (!a.Multi && !b.Multi) {
		if a.String() != b.String() {
			return Variant{}, false
		}
		return a, true
	}
	merged := NewVariant(a.Name, append(append([]string(nil), a.Values...), b.Values...)...)
	merged.Multi = true
	return merged, true
}

// Intersects reports whether some concrete spec could satisfy both a and b.
func Intersects(a, b *Spec) bool {
	_, err := Merge(a, b)
	return err == nil
}

// MatchesNode reports whether the node's own attributes satisfy the node
// constraints of s. Dependencies of s are ignored; an anonymous s matches
// any name.
func (s *Spec) MatchesNode(n *Node) bool {
	if s.Name != "" && s.Name != n.Name {
		return false
	}
	if !s.Versions.Contains(n.Version) {
		return false
	}
	for name, want := range s.Variants {
		have, ok := n.Variants[name]
		if !ok || !have.Includes(want) {
			return false
		}
	}
	if s.Compiler != nil && !n.Compiler.Satisfies(*s.Compiler) {
		return false
	}
	return n.Arch.Matches(s.Arch)
}

// Satisfies reports whether the concrete DAG rooted at n meets every
// constraint of the abstract spec s.
//
// A dependency without edge qualifiers may be satisfied anywhere in the DAG,
// either by a node of that name or, for a virtual name, by a node reached
// through an edge providing it. A qualified dependency must be a direct edge
// of n carrying the requested types and virtuals.
func Satisfies(s *Spec, n *Node) bool {
	if !s.MatchesNode(n) {
		return false
	}
	for _, d := range s.Deps {
		if d.Direct() {
			if !satisfiesDirect(d, n) {
				return false
			}
			continue
		}
		if !satisfiesAnywhere(d.Spec, n) {
			return false
		}
	}
	return true
}

func satisfiesDirect(d *Dependency, n *Node) bool {
	for _, e := range n.Edges {
		if !e.Types.Has(d.Types) || !containsAll(e.Virtuals, d.Virtuals) {
			continue
		}
		if e.Child.Name == d.Spec.Name && d.Spec.MatchesNode(e.Child) {
			return true
		}
		if contains(e.Virtuals, d.Spec.Name) && virtualMatches(d.Spec, e.Child) {
			return true
		}
	}
	return false
}

func satisfiesAnywhere(want *Spec, root *Node) bool {
	found := false
	root.Traverse(func(cur *Node) bool {
		if cur != root && cur.Name == want.Name && want.MatchesNode(cur) {
			found = true
			return false
		}
		for _, e := range cur.Edges {
			if contains(e.Virtuals, want.Name) && virtualMatches(want, e.Child) {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

// virtualMatches checks a constraint written against a virtual name on the
// provider that satisfies it. Versions of a virtual are not carried by the
// provider node and are not checked here.
func virtualMatches(want *Spec, provider *Node) bool {
	anon := want.Copy()
	anon.Name = ""
	anon.Versions = version.Any()
	anon.Deps = nil
	return anon.MatchesNode(provider)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsAll(list, want []string) bool {
	for _, w := range want {
		if !contains(list, w) {
			return false
		}
	}
	return true
}
