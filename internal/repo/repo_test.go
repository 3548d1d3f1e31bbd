package repo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vjranagit/spack-sub003/internal/spec"
	"github.com/vjranagit/spack-sub003/internal/version"
)

func versions(raw ...string) []VersionInfo {
	out := make([]VersionInfo, len(raw))
	for i, r := range raw {
		out[i] = VersionInfo{Version: version.MustParse(r)}
	}
	return out
}

func TestNewSortsVersionsAndAssignsIDs(t *testing.T) {
	r, err := New(
		&Package{
			Name:         "libelf",
			Versions:     versions("0.8.10", "0.8.19", "0.8.13", "0.8.15"),
			Dependencies: []DependencyRule{{Spec: spec.MustParse("zlib")}},
		},
		&Package{Name: "zlib", Versions: versions("1.2.13")},
	)
	require.NoError(t, err)

	got, err := r.KnownVersions("libelf")
	require.NoError(t, err)
	var order []string
	for _, v := range got {
		order = append(order, v.Version.String())
	}
	assert.Equal(t, []string{"0.8.19", "0.8.15", "0.8.13", "0.8.10"}, order)

	deps, err := r.DependencyRules("libelf", version.MustParse("0.8.19"))
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "libelf/depends_on/0", deps[0].ID)
	assert.Equal(t, spec.DefaultDepTypes, deps[0].Types)

	_, err = r.KnownVersions("nope")
	assert.True(t, errors.Is(err, ErrUnknownPackage))
}

func TestBuildSystemImpliesVariantsAndTools(t *testing.T) {
	r, err := New(
		&Package{Name: "hdf5", BuildSystem: CMake, Versions: versions("1.14.0")},
		&Package{Name: "cmake", Versions: versions("3.27.0")},
	)
	require.NoError(t, err)

	v := version.MustParse("1.14.0")
	variants, err := r.Variants("hdf5", v)
	require.NoError(t, err)
	require.Contains(t, variants, "build_type")
	assert.Equal(t, []string{"Release"}, variants["build_type"].Default)

	deps, err := r.DependencyRules("hdf5", v)
	require.NoError(t, err)
	require.Len(t, deps, 1, "gmake is not in the repository and must not be implied")
	assert.Equal(t, "cmake", deps[0].Spec.Name)
	assert.Equal(t, spec.Build, deps[0].Types)
}

func TestConditionalDeclarationsFilterByVersion(t *testing.T) {
	r, err := New(
		&Package{
			Name:     "a",
			Versions: versions("1.0", "2.0"),
			Variants: []VariantDef{{Name: "new", Default: []string{"true"}, When: spec.MustParse("@2:")}},
			Dependencies: []DependencyRule{
				{Spec: spec.MustParse("b"), When: spec.MustParse("@:1")},
				{Spec: spec.MustParse("c"), When: spec.MustParse("+new")},
			},
		},
		&Package{Name: "b", Versions: versions("1")},
		&Package{Name: "c", Versions: versions("1")},
	)
	require.NoError(t, err)

	old, err := r.Variants("a", version.MustParse("1.0"))
	require.NoError(t, err)
	assert.NotContains(t, old, "new")

	deps, err := r.DependencyRules("a", version.MustParse("2.0"))
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "c", deps[0].Spec.Name, "the variant condition is left to the compiler")
}

func TestNewRejectsInvalidRecipes(t *testing.T) {
	cases := map[string]*Package{
		"bad default":        {Name: "a", Variants: []VariantDef{{Name: "x", Default: []string{"z"}, Values: []string{"y"}}}},
		"no values":          {Name: "a", Variants: []VariantDef{{Name: "x", Default: []string{"maybe"}}}},
		"two single default": {Name: "a", Variants: []VariantDef{{Name: "x", Default: []string{"p", "q"}, Values: []string{"p", "q"}}}},
		"self dependency":    {Name: "a", Dependencies: []DependencyRule{{Spec: spec.MustParse("a")}}},
		"empty requirement":  {Name: "a", Requirements: []RequirementRule{{}}},
		"duplicate version":  {Name: "a", Versions: versions("1.0", "1.0")},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(p)
			assert.Error(t, err)
		})
	}

	_, err := New(
		&Package{Name: "mpi"},
		&Package{Name: "mpich", Provides: []Provided{{Virtual: spec.MustParse("mpi")}}},
	)
	assert.Error(t, err, "a name cannot be both a package and a virtual")
}

func TestProvidersAndValidate(t *testing.T) {
	r, err := New(
		&Package{Name: "openmpi", Provides: []Provided{{Virtual: spec.MustParse("mpi@:3")}}},
		&Package{Name: "mpich", Provides: []Provided{{Virtual: spec.MustParse("mpi@:4")}}},
		&Package{Name: "app", Dependencies: []DependencyRule{{Spec: spec.MustParse("mpi")}, {Spec: spec.MustParse("missing")}}},
	)
	require.NoError(t, err)
	assert.True(t, r.IsVirtual("mpi"))
	assert.True(t, r.Exists("mpi"))
	assert.False(t, r.IsVirtual("mpich"))

	providers, err := r.Providers("mpi")
	require.NoError(t, err)
	require.Len(t, providers, 2)
	assert.Equal(t, "mpich", providers[0].Provider)
	assert.Equal(t, "openmpi", providers[1].Provider)

	err = r.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"missing"`)
}

type countingOracle struct {
	Oracle
	calls int
}

func (c *countingOracle) KnownVersions(name string) ([]VersionInfo, error) {
	c.calls++
	return c.Oracle.KnownVersions(name)
}

func TestCacheMemoizesAnswersAndErrors(t *testing.T) {
	r, err := New(&Package{Name: "zlib", Versions: versions("1.2.13")})
	require.NoError(t, err)
	inner := &countingOracle{Oracle: r}
	c := NewCache(inner)

	for i := 0; i < 3; i++ {
		got, err := c.KnownVersions("zlib")
		require.NoError(t, err)
		assert.Len(t, got, 1)
		_, err = c.KnownVersions("ghost")
		assert.ErrorIs(t, err, ErrUnknownPackage)
	}
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, 2, c.Misses())
}

const yamlRepo = `
repo_api: ">=1.0 <2.0"
packages:
  hdf5:
    build_system: cmake
    versions:
      - 1.14.0
      - {version: "1.10", deprecated: true}
    variants:
      mpi: {default: true}
      api: {default: v18, values: [v16, v18]}
    depends_on:
      - "zlib@1.2:"
      - {spec: mpi, when: +mpi, type: [build, link, run]}
    conflicts:
      - {spec: "%clang", when: "@:1.10", msg: old releases need gcc}
    requires:
      - {policy: one_of, specs: ["%gcc", "%clang"]}
  zlib:
    versions: [1.3, 1.2.13]
`

const hclRepo = `
repo_api = ">=1.0"

package "mpich" {
  version "4.1" { preferred = true }
  version "3.4" {}
  variant "device" {
    default = "ch4"
    values  = ["ch3", "ch4"]
  }
  variant "languages" {
    default = ["c", "fortran"]
    values  = ["c", "cxx", "fortran"]
    multi   = true
  }
  variant "fast" { default = false }
  provides "mpi@:4" {}
}

package "zlib" {
  version "9.9" {}
}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAMLAndHCL(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", yamlRepo)
	writeFile(t, dir, "b.hcl", hclRepo)
	writeFile(t, dir, "notes.txt", "ignored")

	r, err := Load(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"hdf5", "mpich", "zlib"}, r.Names())
	assert.Equal(t, []string{"mpi"}, r.Virtuals())
	require.NoError(t, r.Validate())

	zv, err := r.KnownVersions("zlib")
	require.NoError(t, err)
	assert.Equal(t, "1.3", zv[0].Version.String(), "the YAML definition is loaded first and wins")

	hv, err := r.KnownVersions("hdf5")
	require.NoError(t, err)
	require.Len(t, hv, 2)
	assert.True(t, hv[1].Deprecated)

	v := version.MustParse("1.14.0")
	vars, err := r.Variants("hdf5", v)
	require.NoError(t, err)
	assert.True(t, vars["mpi"].IsBool())
	assert.Equal(t, []string{"true"}, vars["mpi"].Default)
	assert.Contains(t, vars, "build_type")

	deps, err := r.DependencyRules("hdf5", v)
	require.NoError(t, err)
	require.Len(t, deps, 2)
	assert.Equal(t, spec.Build|spec.Link|spec.Run, deps[1].Types)
	assert.Equal(t, "+mpi", deps[1].When.String())

	conflicts, err := r.ConflictRules("hdf5")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "old releases need gcc", conflicts[0].Msg)

	reqs, err := r.RequirementRules("hdf5")
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, OneOf, reqs[0].Policy)
	assert.Len(t, reqs[0].Specs, 2)

	mv, err := r.Variants("mpich", version.MustParse("4.1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "fortran"}, mv["languages"].Default)
	assert.True(t, mv["languages"].Multi)
	assert.Equal(t, []string{"ch4"}, mv["device"].Default)
	assert.True(t, mv["fast"].IsBool())
	assert.Equal(t, []string{"false"}, mv["fast"].Default)

	mpichVersions, err := r.KnownVersions("mpich")
	require.NoError(t, err)
	assert.True(t, mpichVersions[0].Preferred)
}

func TestLoadRejectsIncompatibleRepoAPI(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "repo.yaml", "repo_api: \"^2.0\"\npackages: {}\n")
	_, err := Load(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repo.yaml")
}

func TestLoadAggregatesRecipeErrors(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "repo.yaml", `
packages:
  a:
    versions: ["1.0"]
    depends_on: ["b@@"]
    conflicts: [{spec: "a@2.0:1.0"}]
`)
	_, err := Load(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "depends_on")
	assert.Contains(t, err.Error(), "conflicts")
}

func TestLoadMissingPath(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}
