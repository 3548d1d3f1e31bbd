package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	p := Default()
	assert.Equal(t, UnifyFull, p.Unify)
	assert.Equal(t, DefaultCriteria, p.Criteria)
	assert.Equal(t, DefaultMaxNodes, p.MaxNodes)
	assert.Equal(t, DefaultTimeout, p.Timeout)
	assert.True(t, p.Reuse)
	require.Len(t, p.Compilers, 1)
	assert.Equal(t, DefaultCompiler, p.Compilers[0].String())
	assert.Equal(t, DefaultPlatform, p.Platform().String())
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	p, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), p)
}

func TestParse(t *testing.T) {
	p, err := Parse([]byte(`
unify: when_possible
criteria: [version, reuse]
budget:
  max_nodes: 500
  timeout: 2s
  accept_suboptimal: true
compilers:
  - spec: gcc@12.1.0
  - spec: clang@16.0.0
    os: ubuntu22.04
    targets: [x86_64]
platforms: [linux-ubuntu22.04-x86_64, linux-ubuntu22.04-zen2]
providers:
  mpi: [openmpi, mpich]
packages:
  hdf5:
    version: ["1.12", "1.10"]
    variants: "+mpi ~shared"
    compiler: [clang]
    require: "@1.10:"
reuse: false
explain:
  max_checks: 8
`))
	require.NoError(t, err)
	assert.Equal(t, UnifyWhenPossible, p.Unify)
	assert.Equal(t, []string{"version", "reuse"}, p.Criteria[:2])
	assert.Len(t, p.Criteria, len(DefaultCriteria))
	assert.Equal(t, 500, p.MaxNodes)
	assert.Equal(t, 2*time.Second, p.Timeout)
	assert.True(t, p.AcceptSuboptimal)
	assert.False(t, p.Reuse)
	assert.Equal(t, 8, p.ExplainMaxChecks)
	assert.Equal(t, []string{"openmpi", "mpich"}, p.Providers["mpi"])

	require.Len(t, p.Compilers, 2)
	clang := p.Compilers[1]
	assert.True(t, clang.Supports(p.Platforms[0]))
	assert.False(t, clang.Supports(p.Platforms[1]))

	hdf5 := p.Packages["hdf5"]
	var got []string
	for _, v := range hdf5.Versions {
		got = append(got, v.String())
	}
	if diff := cmp.Diff([]string{"1.12", "1.10"}, got); diff != "" {
		t.Fatalf("preferred versions mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "+mpi~shared", hdf5.Variants.String())
	assert.Equal(t, "@1.10:", hdf5.Require.String())
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"unify":            "unify: sometimes",
		"unknown criteria": "criteria: [fastest]",
		"repeated":         "criteria: [version, version]",
		"compiler":         "compilers: [{spec: gcc}]",
		"platform":         "platforms: [linux]",
		"variants":         "packages: {a: {variants: \"@1.0\"}}",
		"require":          "packages: {a: {require: \"b@1.0\"}}",
		"yaml":             "unify: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadReportsPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("unify: sideways\n"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.yaml")
}
