package repo

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// An HCL repository file:
//
//	repo_api = ">=1.0"
//
//	package "hdf5" {
//	  build_system = "cmake"
//	  version "1.14.0" { preferred = true }
//	  version "1.10.7" { deprecated = true }
//	  variant "mpi" { default = true }
//	  variant "languages" {
//	    default = ["c"]
//	    values  = ["c", "cxx", "fortran"]
//	    multi   = true
//	  }
//	  depends_on "zlib@1.2:" { type = ["build", "link"] }
//	  depends_on "mpi" { when = "+mpi" }
//	  conflicts "%clang" { when = "@:1.8" }
//	  requires { specs = ["%gcc", "%clang"] }
//	  provides "hdf5-api@1.14" {}
//	}
type hclFile struct {
	RepoAPI  string        `hcl:"repo_api,optional"`
	Packages []*hclPackage `hcl:"package,block"`
}

type hclPackage struct {
	Name        string         `hcl:"name,label"`
	BuildSystem string         `hcl:"build_system,optional"`
	Versions    []*hclVersion  `hcl:"version,block"`
	Variants    []*hclVariant  `hcl:"variant,block"`
	DependsOn   []*hclDepends  `hcl:"depends_on,block"`
	Conflicts   []*hclConflict `hcl:"conflicts,block"`
	Requires    []*hclRequires `hcl:"requires,block"`
	Provides    []*hclProvides `hcl:"provides,block"`
}

type hclVersion struct {
	Version    string `hcl:"version,label"`
	Preferred  bool   `hcl:"preferred,optional"`
	Deprecated bool   `hcl:"deprecated,optional"`
}

type hclVariant struct {
	Name        string    `hcl:"name,label"`
	Default     cty.Value `hcl:"default,optional"`
	Values      []string  `hcl:"values,optional"`
	Multi       bool      `hcl:"multi,optional"`
	When        string    `hcl:"when,optional"`
	Description string    `hcl:"description,optional"`
}

type hclDepends struct {
	Spec string   `hcl:"spec,label"`
	Type []string `hcl:"type,optional"`
	When string   `hcl:"when,optional"`
}

type hclConflict struct {
	Spec string `hcl:"spec,label"`
	When string `hcl:"when,optional"`
	Msg  string `hcl:"msg,optional"`
}

type hclRequires struct {
	Policy string   `hcl:"policy,optional"`
	Specs  []string `hcl:"specs"`
	When   string   `hcl:"when,optional"`
	Msg    string   `hcl:"msg,optional"`
}

type hclProvides struct {
	Virtual string `hcl:"virtual,label"`
	When    string `hcl:"when,optional"`
}

func parseHCL(path string, data []byte) (*file, error) {
	parser := hclparse.NewParser()
	hf, diags := parser.ParseHCL(data, path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("repo: parse %s: %w", path, diags)
	}
	var doc hclFile
	if diags := gohcl.DecodeBody(hf.Body, nil, &doc); diags.HasErrors() {
		return nil, fmt.Errorf("repo: decode %s: %w", path, diags)
	}

	f := &file{api: doc.RepoAPI}
	for _, hp := range doc.Packages {
		r := &recipe{Name: hp.Name, Source: path, BuildSystem: hp.BuildSystem}
		for _, v := range hp.Versions {
			r.Versions = append(r.Versions, versionDoc(*v))
		}
		for _, v := range hp.Variants {
			def, err := ctyStrings(v.Default)
			if err != nil {
				return nil, fmt.Errorf("repo: %s: package %s: variant %s: default: %w", path, hp.Name, v.Name, err)
			}
			r.Variants = append(r.Variants, variantDoc{
				Name:        v.Name,
				Default:     def,
				Values:      v.Values,
				Multi:       v.Multi,
				When:        v.When,
				Description: v.Description,
			})
		}
		for _, d := range hp.DependsOn {
			r.DependsOn = append(r.DependsOn, dependsDoc{Spec: d.Spec, Types: d.Type, When: d.When})
		}
		for _, c := range hp.Conflicts {
			r.Conflicts = append(r.Conflicts, conflictDoc(*c))
		}
		for _, q := range hp.Requires {
			r.Requires = append(r.Requires, requiresDoc(*q))
		}
		for _, pv := range hp.Provides {
			r.Provides = append(r.Provides, providesDoc(*pv))
		}
		f.recipes = append(f.recipes, r)
	}
	return f, nil
}

// ctyStrings flattens a variant default, which may be a bool, a string, a
// number or a list of those, into its string values.
func ctyStrings(v cty.Value) ([]string, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsWhollyKnown() {
		return nil, fmt.Errorf("value is not known")
	}
	ty := v.Type()
	if ty.IsListType() || ty.IsTupleType() || ty.IsSetType() {
		var out []string
		for it := v.ElementIterator(); it.Next(); {
			_, el := it.Element()
			s, err := ctyString(el)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	}
	s, err := ctyString(v)
	if err != nil {
		return nil, err
	}
	return []string{s}, nil
}

func ctyString(v cty.Value) (string, error) {
	s, err := convert.Convert(v, cty.String)
	if err != nil {
		return "", err
	}
	if s.IsNull() {
		return "", fmt.Errorf("null value")
	}
	return s.AsString(), nil
}
