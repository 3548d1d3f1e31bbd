// Package spec models abstract and concrete package specs.
//
// An abstract Spec is a partially constrained request ("hdf5@1.10: +mpi
// %gcc ^zlib@1.2"). A concrete Node has exactly one value for every
// attribute, its dependency edges resolved, and a content hash that is a pure
// function of its dependency subtree.
package spec

import (
	"sort"
	"strings"

	"github.com/vjranagit/spack-sub003/internal/version"
)

// Spec is an abstract spec. A Spec with an empty Name is anonymous and is used
// for conditions such as `when: "+mpi %gcc"`.
type Spec struct {
	Name     string
	Versions version.List
	Variants map[string]Variant
	Compiler *CompilerSpec
	Arch     Arch
	Deps     []*Dependency
}

// Dependency is a constraint on a node in the spec's DAG. When Types or
// Virtuals is set the dependency must be a direct edge of the root.
type Dependency struct {
	Spec     *Spec
	Types    DepTypes
	Virtuals []string
}

// Direct reports whether d carries edge qualifiers.
func (d *Dependency) Direct() bool { return d.Types != 0 || len(d.Virtuals) > 0 }

// New returns an unconstrained spec for name.
func New(name string) *Spec { return &Spec{Name: name} }

// IsAnonymous reports whether s has no package name.
func (s *Spec) IsAnonymous() bool { return s.Name == "" }

// Dependency returns the dependency constraint on name, or nil.
func (s *Spec) Dependency(name string) *Dependency {
	for _, d := range s.Deps {
		if d.Spec.Name == name {
			return d
		}
	}
	return nil
}

// HasNodeConstraints reports whether s constrains anything besides its name.
func (s *Spec) HasNodeConstraints() bool {
	return !s.Versions.IsAny() || len(s.Variants) > 0 || s.Compiler != nil || !s.Arch.IsZero()
}

// SetVariant records v on s, replacing any previous value.
func (s *Spec) SetVariant(v Variant) {
	if s.Variants == nil {
		s.Variants = make(map[string]Variant)
	}
	s.Variants[v.Name] = v
}

// Copy returns a deep copy of s.
func (s *Spec) Copy() *Spec {
	if s == nil {
		return nil
	}
	out := &Spec{Name: s.Name, Versions: s.Versions, Arch: s.Arch}
	if len(s.Variants) > 0 {
		out.Variants = make(map[string]Variant, len(s.Variants))
		for k, v := range s.Variants {
			v.Values = append([]string(nil), v.Values...)
			out.Variants[k] = v
		}
	}
	if s.Compiler != nil {
		c := *s.Compiler
		out.Compiler = &c
	}
	for _, d := range s.Deps {
		out.Deps = append(out.Deps, &Dependency{
			Spec:     d.Spec.Copy(),
			Types:    d.Types,
			Virtuals: append([]string(nil), d.Virtuals...),
		})
	}
	return out
}

// VariantNames returns the names of the constrained variants, sorted.
func (s *Spec) VariantNames() []string {
	names := make([]string, 0, len(s.Variants))
	for n := range s.Variants {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// String renders s canonically; the output parses back to an equal Spec.
func (s *Spec) String() string {
	var b strings.Builder
	s.writeNode(&b)
	deps := append([]*Dependency(nil), s.Deps...)
	sort.SliceStable(deps, func(i, j int) bool { return deps[i].Spec.Name < deps[j].Spec.Name })
	for _, d := range deps {
		b.WriteString(" ^")
		if d.Direct() {
			var q []string
			if len(d.Virtuals) > 0 {
				vs := append([]string(nil), d.Virtuals...)
				sort.Strings(vs)
				q = append(q, "virtuals="+strings.Join(vs, ","))
			}
			if d.Types != 0 {
				q = append(q, "deptypes="+d.Types.String())
			}
			b.WriteString("[" + strings.Join(q, " ") + "] ")
		}
		d.Spec.writeNode(&b)
	}
	return b.String()
}

func (s *Spec) writeNode(b *strings.Builder) {
	b.WriteString(s.Name)
	if !s.Versions.IsAny() {
		b.WriteString("@" + s.Versions.String())
	}
	var kv []string
	for _, name := range s.VariantNames() {
		v := s.Variants[name]
		if v.IsBool() {
			b.WriteString(v.String())
			continue
		}
		kv = append(kv, v.String())
	}
	for _, item := range kv {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(item)
	}
	if s.Compiler != nil {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s.Compiler.String())
	}
	if !s.Arch.IsZero() {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		if s.Arch.Complete() {
			b.WriteString("arch=")
		}
		b.WriteString(s.Arch.String())
	}
}
