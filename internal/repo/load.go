package repo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-logr/logr"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/vjranagit/spack-sub003/internal/semver"
	"github.com/vjranagit/spack-sub003/internal/spec"
	"github.com/vjranagit/spack-sub003/internal/version"
)

// recipe is the format-neutral form of one package definition, as written in
// a YAML or HCL file. Conditions and constraints are spec strings.
type recipe struct {
	Name        string
	Source      string
	BuildSystem string
	Versions    []versionDoc
	Variants    []variantDoc
	DependsOn   []dependsDoc
	Conflicts   []conflictDoc
	Requires    []requiresDoc
	Provides    []providesDoc
}

type versionDoc struct {
	Version    string
	Preferred  bool
	Deprecated bool
}

type variantDoc struct {
	Name        string
	Default     []string
	Values      []string
	Multi       bool
	When        string
	Description string
}

type dependsDoc struct {
	Spec  string
	Types []string
	When  string
}

type conflictDoc struct {
	Spec string
	When string
	Msg  string
}

type requiresDoc struct {
	Policy string
	Specs  []string
	When   string
	Msg    string
}

type providesDoc struct {
	Virtual string
	When    string
}

// build converts r to a Package, collecting every problem.
func (r *recipe) build() (*Package, error) {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%s: package %s: "+format, append([]any{r.Source, r.Name}, args...)...))
	}
	cond := func(raw string) *spec.Spec {
		if strings.TrimSpace(raw) == "" {
			return nil
		}
		s, err := spec.Parse(raw)
		if err != nil {
			fail("when: %v", err)
			return nil
		}
		return s
	}

	p := &Package{Name: r.Name}
	bs, err := ParseBuildSystem(r.BuildSystem)
	if err != nil {
		fail("%v", err)
	}
	p.BuildSystem = bs

	for _, vd := range r.Versions {
		v, err := version.Parse(vd.Version)
		if err != nil {
			fail("%v", err)
			continue
		}
		p.Versions = append(p.Versions, VersionInfo{Version: v, Preferred: vd.Preferred, Deprecated: vd.Deprecated})
	}
	for _, vd := range r.Variants {
		p.Variants = append(p.Variants, VariantDef{
			Name:        vd.Name,
			Default:     vd.Default,
			Values:      vd.Values,
			Multi:       vd.Multi,
			When:        cond(vd.When),
			Description: vd.Description,
		})
	}
	for _, dd := range r.DependsOn {
		s, err := spec.Parse(dd.Spec)
		if err != nil {
			fail("depends_on: %v", err)
			continue
		}
		types, err := spec.ParseDepTypes(dd.Types)
		if err != nil {
			fail("depends_on %s: %v", dd.Spec, err)
			continue
		}
		p.Dependencies = append(p.Dependencies, DependencyRule{Spec: s, Types: types, When: cond(dd.When)})
	}
	for _, cd := range r.Conflicts {
		s, err := spec.Parse(cd.Spec)
		if err != nil {
			fail("conflicts: %v", err)
			continue
		}
		p.Conflicts = append(p.Conflicts, ConflictRule{Spec: s, When: cond(cd.When), Msg: cd.Msg})
	}
	for _, rd := range r.Requires {
		policy, err := ParsePolicy(rd.Policy)
		if err != nil {
			fail("%v", err)
			continue
		}
		rule := RequirementRule{Policy: policy, When: cond(rd.When), Msg: rd.Msg}
		for _, raw := range rd.Specs {
			s, err := spec.Parse(raw)
			if err != nil {
				fail("requires: %v", err)
				continue
			}
			rule.Specs = append(rule.Specs, s)
		}
		p.Requirements = append(p.Requirements, rule)
	}
	for _, pd := range r.Provides {
		s, err := spec.Parse(pd.Virtual)
		if err != nil {
			fail("provides: %v", err)
			continue
		}
		p.Provides = append(p.Provides, Provided{Virtual: s, When: cond(pd.When)})
	}
	if len(errs) > 0 {
		return nil, utilerrors.NewAggregate(errs)
	}
	return p, nil
}

// file is one parsed repository file.
type file struct {
	api     string
	recipes []*recipe
}

// Load reads every repository file under paths and builds a Repository.
// A path may be a file or a directory, which is searched for *.yaml, *.yml
// and *.hcl files in lexical order. When two files define the same package,
// the one loaded first wins.
func Load(ctx context.Context, paths ...string) (*Repository, error) {
	log := logr.FromContextOrDiscard(ctx)

	files, err := findFiles(paths)
	if err != nil {
		return nil, err
	}
	var (
		errs []error
		pkgs []*Package
		seen = map[string]string{}
	)
	for _, path := range files {
		f, err := parseFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := semver.CheckEngine(f.api); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		for _, r := range f.recipes {
			if first, dup := seen[r.Name]; dup {
				log.V(1).Info("package shadowed", "package", r.Name, "kept", first, "ignored", path)
				continue
			}
			seen[r.Name] = path
			p, err := r.build()
			if err != nil {
				errs = append(errs, err)
				continue
			}
			pkgs = append(pkgs, p)
		}
		log.V(1).Info("loaded repository file", "path", path, "packages", len(f.recipes))
	}
	if len(errs) > 0 {
		return nil, utilerrors.NewAggregate(errs)
	}
	repo, err := New(pkgs...)
	if err != nil {
		return nil, err
	}
	log.Info("repository loaded", "files", len(files), "packages", len(repo.names), "virtuals", len(repo.providers))
	return repo, nil
}

func parseFile(path string) (*file, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("repo: read %s: %w", path, err)
	}
	switch filepath.Ext(path) {
	case ".hcl":
		return parseHCL(path, data)
	default:
		return parseYAML(path, data)
	}
}

func isRepoFile(path string) bool {
	switch filepath.Ext(path) {
	case ".yaml", ".yml", ".hcl":
		return true
	}
	return false
}

func findFiles(paths []string) ([]string, error) {
	var out []string
	seen := make(map[string]struct{})
	add := func(p string) {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("repo: %w", err)
		}
		if !info.IsDir() {
			add(path)
			continue
		}
		var found []string
		err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && isRepoFile(p) {
				found = append(found, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("repo: walk %s: %w", path, err)
		}
		sort.Strings(found)
		for _, p := range found {
			add(p)
		}
	}
	return out, nil
}
