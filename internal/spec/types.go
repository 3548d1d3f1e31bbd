package spec

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vjranagit/spack-sub003/internal/version"
)

// DepTypes is a set of dependency types.
type DepTypes uint8

const (
	Build DepTypes = 1 << iota
	Link
	Run
	Test
)

// DefaultDepTypes applies to dependency declarations that name no type.
const DefaultDepTypes = Build | Link

var depTypeNames = []struct {
	t    DepTypes
	name string
}{
	{Build, "build"},
	{Link, "link"},
	{Run, "run"},
	{Test, "test"},
}

// ParseDepTypes parses dependency type names such as "build" or "link".
func ParseDepTypes(names []string) (DepTypes, error) {
	var out DepTypes
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		found := false
		for _, dt := range depTypeNames {
			if dt.name == name {
				out |= dt.t
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("spec: unknown dependency type %q", raw)
		}
	}
	return out, nil
}

// Has reports whether every type in sub is in t.
func (t DepTypes) Has(sub DepTypes) bool { return t&sub == sub }

// Names returns the type names in canonical order.
func (t DepTypes) Names() []string {
	var out []string
	for _, dt := range depTypeNames {
		if t&dt.t != 0 {
			out = append(out, dt.name)
		}
	}
	return out
}

func (t DepTypes) String() string { return strings.Join(t.Names(), ",") }

// Variant holds the value(s) of one variant. Boolean variants use the values
// "true" and "false". Values are kept sorted.
type Variant struct {
	Name   string
	Values []string
	Multi  bool
}

// BoolVariant returns a boolean variant value.
func BoolVariant(name string, on bool) Variant {
	if on {
		return Variant{Name: name, Values: []string{"true"}}
	}
	return Variant{Name: name, Values: []string{"false"}}
}

// NewVariant returns a variant with the given values, sorted and deduplicated.
// It is multi-valued when more than one value is given.
func NewVariant(name string, values ...string) Variant {
	vs := append([]string(nil), values...)
	sort.Strings(vs)
	out := vs[:0]
	for i, v := range vs {
		if i > 0 && v == vs[i-1] {
			continue
		}
		out = append(out, v)
	}
	return Variant{Name: name, Values: out, Multi: len(out) > 1}
}

// IsBool reports whether the variant holds a single boolean value.
func (v Variant) IsBool() bool {
	return len(v.Values) == 1 && (v.Values[0] == "true" || v.Values[0] == "false")
}

// Includes reports whether every value of sub is among the values of v.
func (v Variant) Includes(sub Variant) bool {
	for _, want := range sub.Values {
		i := sort.SearchStrings(v.Values, want)
		if i == len(v.Values) || v.Values[i] != want {
			return false
		}
	}
	return true
}

func (v Variant) String() string {
	if v.IsBool() {
		if v.Values[0] == "true" {
			return "+" + v.Name
		}
		return "~" + v.Name
	}
	return v.Name + "=" + strings.Join(v.Values, ",")
}

// CompilerSpec is an abstract compiler constraint such as "%gcc@9:".
type CompilerSpec struct {
	Name     string
	Versions version.List
}

func (c CompilerSpec) String() string {
	if c.Versions.IsAny() {
		return "%" + c.Name
	}
	return "%" + c.Name + "@" + c.Versions.String()
}

// Compiler is a concrete compiler.
type Compiler struct {
	Name    string
	Version version.Version
}

func (c Compiler) String() string { return c.Name + "@" + c.Version.String() }

// ParseCompiler parses "name@version".
func ParseCompiler(raw string) (Compiler, error) {
	name, ver, ok := strings.Cut(strings.TrimSpace(raw), "@")
	if !ok || name == "" {
		return Compiler{}, fmt.Errorf("spec: compiler %q must be name@version", raw)
	}
	v, err := version.Parse(ver)
	if err != nil {
		return Compiler{}, fmt.Errorf("spec: compiler %q: %w", raw, err)
	}
	return Compiler{Name: name, Version: v}, nil
}

// Satisfies reports whether c meets the abstract constraint cs.
func (c Compiler) Satisfies(cs CompilerSpec) bool {
	return c.Name == cs.Name && cs.Versions.Contains(c.Version)
}

// Arch is a platform-os-target triple. In abstract specs an empty field is
// unconstrained; in concrete nodes every field is set.
type Arch struct {
	Platform string
	OS       string
	Target   string
}

// ParseArch parses "platform-os-target" or "os-target".
func ParseArch(raw string) (Arch, error) {
	parts := strings.Split(strings.TrimSpace(raw), "-")
	for _, p := range parts {
		if p == "" {
			return Arch{}, fmt.Errorf("spec: invalid arch %q", raw)
		}
	}
	switch len(parts) {
	case 3:
		return Arch{Platform: parts[0], OS: parts[1], Target: parts[2]}, nil
	case 2:
		return Arch{OS: parts[0], Target: parts[1]}, nil
	}
	return Arch{}, fmt.Errorf("spec: arch %q must be platform-os-target or os-target", raw)
}

// IsZero reports whether no field of a is constrained.
func (a Arch) IsZero() bool { return a == Arch{} }

// Complete reports whether every field of a is set.
func (a Arch) Complete() bool { return a.Platform != "" && a.OS != "" && a.Target != "" }

// Matches reports whether the concrete arch a meets the abstract arch want.
func (a Arch) Matches(want Arch) bool {
	return (want.Platform == "" || want.Platform == a.Platform) &&
		(want.OS == "" || want.OS == a.OS) &&
		(want.Target == "" || want.Target == a.Target)
}

func (a Arch) String() string {
	if a.Complete() {
		return a.Platform + "-" + a.OS + "-" + a.Target
	}
	var parts []string
	if a.Platform != "" {
		parts = append(parts, "platform="+a.Platform)
	}
	if a.OS != "" {
		parts = append(parts, "os="+a.OS)
	}
	if a.Target != "" {
		parts = append(parts, "target="+a.Target)
	}
	return strings.Join(parts, " ")
}

func mergeArch(a, b Arch) (Arch, string, bool) {
	out := a
	pick := func(dst *string, src, field string) (string, bool) {
		switch {
		case src == "":
		case *dst == "":
			*dst = src
		case *dst != src:
			return field, false
		}
		return "", true
	}
	if f, ok := pick(&out.Platform, b.Platform, "platform"); !ok {
		return Arch{}, f, false
	}
	if f, ok := pick(&out.OS, b.OS, "os"); !ok {
		return Arch{}, f, false
	}
	if f, ok := pick(&out.Target, b.Target, "target"); !ok {
		return Arch{}, f, false
	}
	return out, "", true
}
