package repo

import (
	"fmt"
	"sort"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/vjranagit/spack-sub003/internal/spec"
	"github.com/vjranagit/spack-sub003/internal/version"
)

// Package is one recipe.
type Package struct {
	Name         string
	BuildSystem  BuildSystem
	Versions     []VersionInfo
	Variants     []VariantDef
	Dependencies []DependencyRule
	Conflicts    []ConflictRule
	Requirements []RequirementRule
	Provides     []Provided
}

// Provided is a provides declaration inside a recipe.
type Provided struct {
	Virtual *spec.Spec
	When    *spec.Spec
}

// Repository is an immutable in-memory Oracle.
type Repository struct {
	packages  map[string]*Package
	providers map[string][]ProviderRule
	names     []string
}

var _ Oracle = (*Repository)(nil)

// New indexes pkgs. The packages are owned by the repository afterwards.
func New(pkgs ...*Package) (*Repository, error) {
	r := &Repository{
		packages:  make(map[string]*Package, len(pkgs)),
		providers: make(map[string][]ProviderRule),
	}
	var errs []error
	for _, p := range pkgs {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("repo: package without a name"))
			continue
		}
		if _, dup := r.packages[p.Name]; dup {
			errs = append(errs, fmt.Errorf("repo: package %q defined twice", p.Name))
			continue
		}
		r.packages[p.Name] = p
		r.names = append(r.names, p.Name)
	}
	sort.Strings(r.names)
	for _, name := range r.names {
		if err := r.prepare(r.packages[name]); err != nil {
			errs = append(errs, err)
		}
	}
	for virtual, rules := range r.providers {
		if _, clash := r.packages[virtual]; clash {
			errs = append(errs, fmt.Errorf("repo: %q is both a package and a virtual", virtual))
		}
		sort.SliceStable(rules, func(i, j int) bool { return rules[i].Provider < rules[j].Provider })
	}
	if len(errs) > 0 {
		return nil, utilerrors.NewAggregate(errs)
	}
	return r, nil
}

func (r *Repository) prepare(p *Package) error {
	var errs []error
	if p.BuildSystem == "" {
		p.BuildSystem = Generic
	}

	sort.SliceStable(p.Versions, func(i, j int) bool {
		return version.Compare(p.Versions[i].Version, p.Versions[j].Version) > 0
	})
	for i := 1; i < len(p.Versions); i++ {
		if p.Versions[i].Version.String() == p.Versions[i-1].Version.String() {
			errs = append(errs, fmt.Errorf("repo: %s: version %s declared twice", p.Name, p.Versions[i].Version))
		}
	}

	declared := sets.New[string]()
	for _, v := range p.Variants {
		declared.Insert(v.Name)
	}
	for _, v := range p.BuildSystem.variants() {
		if !declared.Has(v.Name) {
			p.Variants = append(p.Variants, v)
		}
	}
	for i := range p.Variants {
		if err := normalizeVariant(p.Name, &p.Variants[i]); err != nil {
			errs = append(errs, err)
		}
	}
	sort.SliceStable(p.Variants, func(i, j int) bool { return p.Variants[i].Name < p.Variants[j].Name })

	deps := sets.New[string]()
	for _, d := range p.Dependencies {
		deps.Insert(d.Spec.Name)
	}
	for _, tool := range p.BuildSystem.tools() {
		if tool.name == p.Name || deps.Has(tool.name) {
			continue
		}
		if _, ok := r.packages[tool.name]; !ok {
			continue
		}
		p.Dependencies = append(p.Dependencies, DependencyRule{Spec: spec.New(tool.name), Types: tool.types})
	}
	for i := range p.Dependencies {
		d := &p.Dependencies[i]
		if d.Spec == nil || d.Spec.Name == "" {
			errs = append(errs, fmt.Errorf("repo: %s: dependency without a package name", p.Name))
			continue
		}
		if d.Spec.Name == p.Name {
			errs = append(errs, fmt.Errorf("repo: %s: package depends on itself", p.Name))
		}
		if d.Types == 0 {
			d.Types = spec.DefaultDepTypes
		}
		d.ID = fmt.Sprintf("%s/depends_on/%d", p.Name, i)
	}
	for i := range p.Conflicts {
		p.Conflicts[i].ID = fmt.Sprintf("%s/conflicts/%d", p.Name, i)
		if p.Conflicts[i].Spec == nil {
			p.Conflicts[i].Spec = &spec.Spec{}
		}
	}
	for i := range p.Requirements {
		req := &p.Requirements[i]
		req.ID = fmt.Sprintf("%s/requires/%d", p.Name, i)
		if req.Policy == "" {
			req.Policy = OneOf
		}
		if len(req.Specs) == 0 {
			errs = append(errs, fmt.Errorf("repo: %s: requirement without candidates", p.Name))
		}
	}
	for i, pv := range p.Provides {
		if pv.Virtual == nil || pv.Virtual.Name == "" {
			errs = append(errs, fmt.Errorf("repo: %s: provides without a virtual name", p.Name))
			continue
		}
		r.providers[pv.Virtual.Name] = append(r.providers[pv.Virtual.Name], ProviderRule{
			ID:       fmt.Sprintf("%s/provides/%d", p.Name, i),
			Provider: p.Name,
			Virtual:  pv.Virtual,
			When:     pv.When,
		})
	}
	return utilerrors.NewAggregate(errs)
}

func normalizeVariant(pkg string, d *VariantDef) error {
	if len(d.Values) == 0 {
		if len(d.Default) != 1 || (d.Default[0] != "true" && d.Default[0] != "false") {
			return fmt.Errorf("repo: %s: variant %q needs values unless its default is true or false", pkg, d.Name)
		}
		d.Values = []string{"false", "true"}
	}
	d.Values = sets.List(sets.New(d.Values...))
	if len(d.Default) == 0 {
		d.Default = []string{d.Values[0]}
	}
	d.Default = sets.List(sets.New(d.Default...))
	if !d.Multi && len(d.Default) != 1 {
		return fmt.Errorf("repo: %s: single-valued variant %q has %d defaults", pkg, d.Name, len(d.Default))
	}
	for _, def := range d.Default {
		if !d.Allows(def) {
			return fmt.Errorf("repo: %s: variant %q default %q is not a legal value", pkg, d.Name, def)
		}
	}
	return nil
}

// Names returns every package name, sorted.
func (r *Repository) Names() []string { return append([]string(nil), r.names...) }

// Virtuals returns every virtual name, sorted.
func (r *Repository) Virtuals() []string {
	out := make([]string, 0, len(r.providers))
	for v := range r.providers {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Package returns the recipe for name.
func (r *Repository) Package(name string) (*Package, bool) {
	p, ok := r.packages[name]
	return p, ok
}

func (r *Repository) Exists(name string) bool {
	_, pkg := r.packages[name]
	return pkg || r.IsVirtual(name)
}

func (r *Repository) IsVirtual(name string) bool {
	_, ok := r.providers[name]
	return ok
}

func (r *Repository) lookup(name string) (*Package, error) {
	p, ok := r.packages[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return p, nil
}

func (r *Repository) KnownVersions(name string) ([]VersionInfo, error) {
	p, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	return append([]VersionInfo(nil), p.Versions...), nil
}

func (r *Repository) Variants(name string, v version.Version) (map[string]VariantDef, error) {
	p, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	out := make(map[string]VariantDef, len(p.Variants))
	for _, d := range p.Variants {
		if d.When != nil && !d.When.Versions.Contains(v) {
			continue
		}
		out[d.Name] = d
	}
	return out, nil
}

func (r *Repository) DependencyRules(name string, v version.Version) ([]DependencyRule, error) {
	p, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	var out []DependencyRule
	for _, d := range p.Dependencies {
		if d.When != nil && !d.When.Versions.Contains(v) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *Repository) ConflictRules(name string) ([]ConflictRule, error) {
	p, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	return append([]ConflictRule(nil), p.Conflicts...), nil
}

func (r *Repository) RequirementRules(name string) ([]RequirementRule, error) {
	p, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	return append([]RequirementRule(nil), p.Requirements...), nil
}

func (r *Repository) Providers(virtual string) ([]ProviderRule, error) {
	rules, ok := r.providers[virtual]
	if !ok {
		return nil, &NotFoundError{Name: virtual}
	}
	return append([]ProviderRule(nil), rules...), nil
}

// Validate reports references to names the repository cannot resolve.
func (r *Repository) Validate() error {
	var errs []error
	for _, name := range r.names {
		p := r.packages[name]
		for _, d := range p.Dependencies {
			if !r.Exists(d.Spec.Name) {
				errs = append(errs, fmt.Errorf("repo: %s: %s references unknown package %q", name, d, d.Spec.Name))
			}
			for _, sub := range d.Spec.Deps {
				if !r.Exists(sub.Spec.Name) {
					errs = append(errs, fmt.Errorf("repo: %s: %s references unknown package %q", name, d, sub.Spec.Name))
				}
			}
		}
		for _, c := range p.Conflicts {
			if c.Spec.Name != "" && c.Spec.Name != name {
				errs = append(errs, fmt.Errorf("repo: %s: %s must constrain the package itself", name, c))
			}
		}
		for _, req := range p.Requirements {
			for _, cand := range req.Specs {
				if cand.Name != "" && cand.Name != name {
					errs = append(errs, fmt.Errorf("repo: %s: %s must constrain the package itself", name, req))
				}
			}
		}
	}
	return utilerrors.NewAggregate(errs)
}
