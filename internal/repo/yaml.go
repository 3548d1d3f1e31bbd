package repo

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// A YAML repository file:
//
//	repo_api: ">=1.0"
//	packages:
//	  hdf5:
//	    build_system: cmake
//	    versions:
//	      - 1.14.0
//	      - {version: 1.10.7, deprecated: true}
//	    variants:
//	      mpi: {default: true}
//	      api: {default: v18, values: [v16, v18]}
//	    depends_on:
//	      - {spec: "zlib@1.2:", type: [build, link]}
//	      - {spec: mpi, when: +mpi}
//	    conflicts:
//	      - {spec: "%clang", when: "@:1.8", msg: "needs gcc"}
//	    requires:
//	      - {policy: one_of, specs: ["%gcc", "%clang"]}
//	    provides:
//	      - {virtual: "hdf5-api@1.14", when: "@1.14:"}
type yamlFile struct {
	RepoAPI  string                 `yaml:"repo_api"`
	Packages map[string]yamlPackage `yaml:"packages"`
}

type yamlPackage struct {
	BuildSystem string                 `yaml:"build_system"`
	Versions    []yamlVersion          `yaml:"versions"`
	Variants    map[string]yamlVariant `yaml:"variants"`
	DependsOn   []yamlDepends          `yaml:"depends_on"`
	Conflicts   []yamlConflict         `yaml:"conflicts"`
	Requires    []yamlRequires         `yaml:"requires"`
	Provides    []yamlProvides         `yaml:"provides"`
}

type yamlVersion struct {
	Version    string `yaml:"version"`
	Preferred  bool   `yaml:"preferred"`
	Deprecated bool   `yaml:"deprecated"`
}

// UnmarshalYAML accepts a bare version string as well as the mapping form.
func (v *yamlVersion) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		v.Version = node.Value
		return nil
	}
	type plain yamlVersion
	return node.Decode((*plain)(v))
}

type yamlVariant struct {
	Default     stringList `yaml:"default"`
	Values      stringList `yaml:"values"`
	Multi       bool       `yaml:"multi"`
	When        string     `yaml:"when"`
	Description string     `yaml:"description"`
}

type yamlDepends struct {
	Spec string     `yaml:"spec"`
	Type stringList `yaml:"type"`
	When string     `yaml:"when"`
}

// UnmarshalYAML accepts a bare spec string as well as the mapping form.
func (d *yamlDepends) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		d.Spec = node.Value
		return nil
	}
	type plain yamlDepends
	return node.Decode((*plain)(d))
}

type yamlConflict struct {
	Spec string `yaml:"spec"`
	When string `yaml:"when"`
	Msg  string `yaml:"msg"`
}

type yamlRequires struct {
	Policy string     `yaml:"policy"`
	Specs  stringList `yaml:"specs"`
	When   string     `yaml:"when"`
	Msg    string     `yaml:"msg"`
}

type yamlProvides struct {
	Virtual string `yaml:"virtual"`
	When    string `yaml:"when"`
}

// stringList decodes either a scalar or a sequence of scalars. Scalars keep
// their source text, so `default: true` becomes "true".
type stringList []string

func (l *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*l = []string{node.Value}
		return nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: expected a scalar", item.Line)
			}
			out = append(out, item.Value)
		}
		*l = out
		return nil
	}
	return fmt.Errorf("line %d: expected a scalar or a list", node.Line)
}

func parseYAML(path string, data []byte) (*file, error) {
	var doc yamlFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("repo: unmarshal %s: %w", path, err)
	}
	names := make([]string, 0, len(doc.Packages))
	for name := range doc.Packages {
		names = append(names, name)
	}
	sort.Strings(names)

	f := &file{api: doc.RepoAPI}
	for _, name := range names {
		yp := doc.Packages[name]
		r := &recipe{Name: name, Source: path, BuildSystem: yp.BuildSystem}
		for _, v := range yp.Versions {
			r.Versions = append(r.Versions, versionDoc(v))
		}
		variantNames := make([]string, 0, len(yp.Variants))
		for vn := range yp.Variants {
			variantNames = append(variantNames, vn)
		}
		sort.Strings(variantNames)
		for _, vn := range variantNames {
			yv := yp.Variants[vn]
			r.Variants = append(r.Variants, variantDoc{
				Name:        vn,
				Default:     yv.Default,
				Values:      yv.Values,
				Multi:       yv.Multi,
				When:        yv.When,
				Description: yv.Description,
			})
		}
		for _, d := range yp.DependsOn {
			r.DependsOn = append(r.DependsOn, dependsDoc{Spec: d.Spec, Types: d.Type, When: d.When})
		}
		for _, c := range yp.Conflicts {
			r.Conflicts = append(r.Conflicts, conflictDoc(c))
		}
		for _, q := range yp.Requires {
			r.Requires = append(r.Requires, requiresDoc{Policy: q.Policy, Specs: q.Specs, When: q.When, Msg: q.Msg})
		}
		for _, pv := range yp.Provides {
			r.Provides = append(r.Provides, providesDoc(pv))
		}
		f.recipes = append(f.recipes, r)
	}
	return f, nil
}
