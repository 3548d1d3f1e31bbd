// Package repo holds package recipes and answers metadata queries about them.
//
// Recipes are static data. Every condition is an abstract spec evaluated by
// the constraint compiler; nothing package-defined runs at solve time.
package repo

import (
	"errors"
	"fmt"

	"github.com/vjranagit/spack-sub003/internal/spec"
	"github.com/vjranagit/spack-sub003/internal/version"
)

// ErrUnknownPackage is matched by errors returned for names the repository
// does not know.
var ErrUnknownPackage = errors.New("unknown package")

// NotFoundError reports a query for an unknown package or virtual.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("repo: unknown package %q", e.Name) }

func (e *NotFoundError) Is(target error) bool { return target == ErrUnknownPackage }

// Oracle is the read-only query surface the constraint compiler needs.
// Implementations must be safe for concurrent reads.
type Oracle interface {
	// Exists reports whether name is a package or a virtual.
	Exists(name string) bool
	// IsVirtual reports whether name is provided by packages rather than
	// being a package itself.
	IsVirtual(name string) bool
	// KnownVersions returns the declared versions of name, newest first.
	KnownVersions(name string) ([]VersionInfo, error)
	// Variants returns the variants declared for name at v.
	Variants(name string, v version.Version) (map[string]VariantDef, error)
	// DependencyRules returns the dependency declarations of name that apply at v.
	DependencyRules(name string, v version.Version) ([]DependencyRule, error)
	ConflictRules(name string) ([]ConflictRule, error)
	RequirementRules(name string) ([]RequirementRule, error)
	// Providers returns every declaration providing virtual, ordered by
	// provider name.
	Providers(virtual string) ([]ProviderRule, error)
}

// VersionInfo is one declared version.
type VersionInfo struct {
	Version    version.Version
	Preferred  bool
	Deprecated bool
}

// VariantDef declares a variant. Boolean variants have the values "false"
// and "true".
type VariantDef struct {
	Name        string
	Default     []string
	Values      []string
	Multi       bool
	When        *spec.Spec
	Description string
}

// IsBool reports whether d is a boolean variant.
func (d VariantDef) IsBool() bool {
	return !d.Multi && len(d.Values) == 2 && d.Values[0] == "false" && d.Values[1] == "true"
}

// Allows reports whether value is legal for d.
func (d VariantDef) Allows(value string) bool {
	for _, v := range d.Values {
		if v == value {
			return true
		}
	}
	return false
}

// DependencyRule declares that a package depends on Spec (a package or a
// virtual) with the given types whenever When holds on the dependent.
type DependencyRule struct {
	ID    string
	Spec  *spec.Spec
	Types spec.DepTypes
	When  *spec.Spec
}

func (r DependencyRule) String() string {
	s := "depends_on(" + r.Spec.String()
	if r.When != nil {
		s += ", when=" + r.When.String()
	}
	return s + ")"
}

// ConflictRule forbids a node from matching both Spec and When.
type ConflictRule struct {
	ID   string
	Spec *spec.Spec
	When *spec.Spec
	Msg  string
}

func (r ConflictRule) String() string {
	s := "conflicts(" + r.Spec.String()
	if r.When != nil {
		s += ", when=" + r.When.String()
	}
	return s + ")"
}

// Policy selects how many candidates of a requirement must hold.
type Policy string

const (
	// AnyOf requires at least one candidate to hold.
	AnyOf Policy = "any_of"
	// OneOf requires at least one candidate to hold and prefers earlier
	// candidates over later ones.
	OneOf Policy = "one_of"
	// ExactlyOne requires exactly one candidate to hold.
	ExactlyOne Policy = "exactly_one"
)

// ParsePolicy validates raw.
func ParsePolicy(raw string) (Policy, error) {
	switch p := Policy(raw); p {
	case AnyOf, OneOf, ExactlyOne:
		return p, nil
	case "":
		return OneOf, nil
	}
	return "", fmt.Errorf("repo: unknown requirement policy %q", raw)
}

// RequirementRule constrains a node to match candidates under Policy
// whenever When holds.
type RequirementRule struct {
	ID     string
	Policy Policy
	Specs  []*spec.Spec
	When   *spec.Spec
	Msg    string
}

func (r RequirementRule) String() string {
	s := "requires(" + string(r.Policy) + ":"
	for i, c := range r.Specs {
		if i > 0 {
			s += ","
		}
		s += " " + c.String()
	}
	if r.When != nil {
		s += ", when=" + r.When.String()
	}
	return s + ")"
}

// ProviderRule declares that Provider supplies the virtual named by
// Virtual.Name, at the virtual versions in Virtual.Versions, whenever When
// holds on the provider.
type ProviderRule struct {
	ID       string
	Provider string
	Virtual  *spec.Spec
	When     *spec.Spec
}

func (r ProviderRule) String() string {
	s := r.Provider + " provides(" + r.Virtual.String()
	if r.When != nil {
		s += ", when=" + r.When.String()
	}
	return s + ")"
}
