// Package config loads the concretizer policy: unification mode, the order of
// soft criteria, search budget, available compilers and platforms, provider
// and per-package preferences.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/vjranagit/spack-sub003/internal/spec"
	"github.com/vjranagit/spack-sub003/internal/version"
)

// UnifyMode selects how the roots of one request share nodes.
type UnifyMode string

const (
	// UnifyFull solves all roots together with one node per package name.
	UnifyFull UnifyMode = "full"
	// UnifyNone solves every root on its own.
	UnifyNone UnifyMode = "none"
	// UnifyWhenPossible unifies roots greedily and solves the rest alone.
	UnifyWhenPossible UnifyMode = "when_possible"
)

// ParseUnifyMode validates raw. An empty value is UnifyFull.
func ParseUnifyMode(raw string) (UnifyMode, error) {
	switch m := UnifyMode(raw); m {
	case "":
		return UnifyFull, nil
	case UnifyFull, UnifyNone, UnifyWhenPossible:
		return m, nil
	}
	return "", fmt.Errorf("config: unknown unify mode %q", raw)
}

// Soft criteria names.
const (
	CriterionRequirementOrder   = "requirement_order"
	CriterionUserPreferences    = "user_preferences"
	CriterionReuse              = "reuse"
	CriterionDeprecated         = "deprecated"
	CriterionVersion            = "version"
	CriterionVariantDefaults    = "variant_defaults"
	CriterionProvider           = "provider"
	CriterionCompilers          = "compilers"
	CriterionCompilerPreference = "compiler_preference"
	CriterionTarget             = "target"
	CriterionNodes              = "nodes"
)

// DefaultCriteria is the default priority order, highest first.
var DefaultCriteria = []string{
	CriterionRequirementOrder,
	CriterionUserPreferences,
	CriterionReuse,
	CriterionDeprecated,
	CriterionVersion,
	CriterionVariantDefaults,
	CriterionProvider,
	CriterionCompilers,
	CriterionCompilerPreference,
	CriterionTarget,
	CriterionNodes,
}

const (
	DefaultMaxNodes   = 200000
	DefaultTimeout    = 30 * time.Second
	DefaultMaxChecks  = 64
	DefaultCompiler   = "gcc@12.1.0"
	DefaultPlatform   = "linux-ubuntu22.04-x86_64"
	defaultConfigName = "concretizer.yaml"
)

// File is the YAML document.
type File struct {
	Unify     string                 `yaml:"unify"`
	Criteria  []string               `yaml:"criteria"`
	Budget    Budget                 `yaml:"budget"`
	Compilers []CompilerEntry        `yaml:"compilers"`
	Platforms []string               `yaml:"platforms"`
	Providers map[string][]string    `yaml:"providers"`
	Packages  map[string]PackageFile `yaml:"packages"`
	Reuse     *bool                  `yaml:"reuse"`
	Explain   Explain                `yaml:"explain"`
}

type Budget struct {
	MaxNodes         int           `yaml:"max_nodes"`
	Timeout          time.Duration `yaml:"timeout"`
	AcceptSuboptimal bool          `yaml:"accept_suboptimal"`
}

// CompilerEntry declares an available compiler. OS and Targets restrict
// which platforms it can build for; empty means any.
type CompilerEntry struct {
	Spec    string   `yaml:"spec"`
	OS      string   `yaml:"os"`
	Targets []string `yaml:"targets"`
}

// PackageFile holds preferences for one package. Require is a hard
// constraint applied whenever the package is in the graph.
type PackageFile struct {
	Version  []string `yaml:"version"`
	Variants string   `yaml:"variants"`
	Compiler []string `yaml:"compiler"`
	Target   []string `yaml:"target"`
	Require  string   `yaml:"require"`
}

type Explain struct {
	MaxChecks int `yaml:"max_checks"`
}

// Policy is the validated, typed configuration.
type Policy struct {
	Unify            UnifyMode
	Criteria         []string
	MaxNodes         int
	Timeout          time.Duration
	AcceptSuboptimal bool
	Compilers        []Compiler
	Platforms        []spec.Arch
	Providers        map[string][]string
	Packages         map[string]PackagePolicy
	Reuse            bool
	ExplainMaxChecks int
}

// Compiler is an available compiler and the platforms it supports.
type Compiler struct {
	spec.Compiler
	OS      string
	Targets []string
}

// Supports reports whether c can build for a.
func (c Compiler) Supports(a spec.Arch) bool {
	if c.OS != "" && c.OS != a.OS {
		return false
	}
	if len(c.Targets) == 0 {
		return true
	}
	for _, t := range c.Targets {
		if t == a.Target {
			return true
		}
	}
	return false
}

type PackagePolicy struct {
	Versions  []version.Version
	Variants  *spec.Spec
	Compilers []string
	Targets   []string
	Require   *spec.Spec
}

// Default returns the policy used when no configuration file exists.
func Default() *Policy {
	p, err := (&File{}).Policy()
	if err != nil {
		panic(err)
	}
	return p
}

// Load reads path. A missing file yields the defaults.
func Load(path string) (*Policy, error) {
	if path == "" {
		path = defaultConfigName
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and validates a YAML document.
func Parse(data []byte) (*Policy, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return f.Policy()
}

// Policy validates f and fills in defaults.
func (f *File) Policy() (*Policy, error) {
	var errs []error
	p := &Policy{
		MaxNodes:         f.Budget.MaxNodes,
		Timeout:          f.Budget.Timeout,
		AcceptSuboptimal: f.Budget.AcceptSuboptimal,
		Providers:        map[string][]string{},
		Packages:         map[string]PackagePolicy{},
		Reuse:            f.Reuse == nil || *f.Reuse,
		ExplainMaxChecks: f.Explain.MaxChecks,
	}

	mode, err := ParseUnifyMode(f.Unify)
	if err != nil {
		errs = append(errs, err)
	}
	p.Unify = mode

	criteria, err := OrderCriteria(f.Criteria)
	if err != nil {
		errs = append(errs, err)
	}
	p.Criteria = criteria

	if p.MaxNodes <= 0 {
		p.MaxNodes = DefaultMaxNodes
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	if p.ExplainMaxChecks <= 0 {
		p.ExplainMaxChecks = DefaultMaxChecks
	}

	entries := f.Compilers
	if len(entries) == 0 {
		entries = []CompilerEntry{{Spec: DefaultCompiler}}
	}
	seen := sets.New[string]()
	for _, e := range entries {
		c, err := spec.ParseCompiler(e.Spec)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: compilers: %w", err))
			continue
		}
		if seen.Has(c.String()) {
			errs = append(errs, fmt.Errorf("config: compilers: %s listed twice", c))
			continue
		}
		seen.Insert(c.String())
		p.Compilers = append(p.Compilers, Compiler{Compiler: c, OS: e.OS, Targets: e.Targets})
	}

	platforms := f.Platforms
	if len(platforms) == 0 {
		platforms = []string{DefaultPlatform}
	}
	for _, raw := range platforms {
		a, err := spec.ParseArch(raw)
		if err == nil && !a.Complete() {
			err = fmt.Errorf("platform %q must be platform-os-target", raw)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("config: platforms: %w", err))
			continue
		}
		p.Platforms = append(p.Platforms, a)
	}

	for virtual, providers := range f.Providers {
		p.Providers[virtual] = append([]string(nil), providers...)
	}

	for name, pf := range f.Packages {
		pp, err := pf.policy(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		p.Packages[name] = pp
	}

	if len(errs) > 0 {
		return nil, utilerrors.NewAggregate(errs)
	}
	return p, nil
}

func (pf PackageFile) policy(name string) (PackagePolicy, error) {
	var pp PackagePolicy
	for _, raw := range pf.Version {
		v, err := version.Parse(raw)
		if err != nil {
			return pp, fmt.Errorf("config: packages.%s.version: %w", name, err)
		}
		pp.Versions = append(pp.Versions, v)
	}
	if pf.Variants != "" {
		s, err := spec.Parse(pf.Variants)
		if err != nil {
			return pp, fmt.Errorf("config: packages.%s.variants: %w", name, err)
		}
		if len(s.Deps) > 0 || s.Compiler != nil || !s.Versions.IsAny() {
			return pp, fmt.Errorf("config: packages.%s.variants: only variants may be given", name)
		}
		pp.Variants = s
	}
	if pf.Require != "" {
		s, err := spec.Parse(pf.Require)
		if err != nil {
			return pp, fmt.Errorf("config: packages.%s.require: %w", name, err)
		}
		if s.Name != "" && s.Name != name {
			return pp, fmt.Errorf("config: packages.%s.require: constrains %s", name, s.Name)
		}
		pp.Require = s
	}
	pp.Compilers = append(pp.Compilers, pf.Compiler...)
	pp.Targets = append(pp.Targets, pf.Target...)
	return pp, nil
}

// OrderCriteria validates names and appends every omitted criterion in
// default order.
func OrderCriteria(names []string) ([]string, error) {
	known := sets.New(DefaultCriteria...)
	used := sets.New[string]()
	out := make([]string, 0, len(DefaultCriteria))
	for _, n := range names {
		if !known.Has(n) {
			return nil, fmt.Errorf("config: unknown criterion %q", n)
		}
		if used.Has(n) {
			return nil, fmt.Errorf("config: criterion %q listed twice", n)
		}
		used.Insert(n)
		out = append(out, n)
	}
	for _, n := range DefaultCriteria {
		if !used.Has(n) {
			out = append(out, n)
		}
	}
	return out, nil
}

// Platform returns the default platform.
func (p *Policy) Platform() spec.Arch { return p.Platforms[0] }
