package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vjranagit/spack-sub003/internal/spec"
	"github.com/vjranagit/spack-sub003/internal/version"
)

func node(name, ver string, deps ...*spec.Node) *spec.Node {
	n := &spec.Node{
		Name:     name,
		Version:  version.MustParse(ver),
		Compiler: spec.Compiler{Name: "gcc", Version: version.MustParse("12.1.0")},
		Arch:     spec.Arch{Platform: "linux", OS: "ubuntu22.04", Target: "x86_64"},
		Variants: map[string]spec.Variant{"shared": spec.BoolVariant("shared", true)},
	}
	for _, d := range deps {
		n.Edges = append(n.Edges, spec.Edge{Child: d, Types: spec.DefaultDepTypes})
	}
	n.Seal()
	return n
}

func TestOpenMissingFileIsEmpty(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "installed.yaml"))
	require.NoError(t, err)
	assert.Zero(t, db.Len())
	assert.Empty(t, db.Nodes())
}

func TestAddSaveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "installed.yaml")
	db, err := Open(path)
	require.NoError(t, err)

	zlib := node("zlib", "1.2.13")
	app := node("app", "1.0", zlib)
	require.NoError(t, db.Add(app))
	require.NoError(t, db.Add(zlib))
	assert.Equal(t, 2, db.Len())
	require.NoError(t, db.Save())

	again, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, 2, again.Len())
	got, ok := again.Lookup(app.Hash())
	require.True(t, ok)
	assert.Equal(t, app.Hash(), got.Seal())
	assert.True(t, got.DependsOn("zlib"))

	nodes := again.Nodes()
	assert.Equal(t, "zlib", nodes[0].Name, "dependencies come first")
}

func TestQuery(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "installed.yaml"))
	require.NoError(t, err)
	require.NoError(t, db.Add(node("zlib", "1.2.13"), node("zlib", "1.3")))

	got := db.Query(spec.MustParse("zlib@1.3:"))
	require.Len(t, got, 1)
	assert.Equal(t, "1.3", got[0].Version.String())
	assert.Len(t, db.Query(spec.MustParse("zlib+shared")), 2)
	assert.Empty(t, db.Query(spec.MustParse("cmake")))
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "installed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("roots: [deadbeef]\nnodes: []\n"), 0o644))
	_, err := Open(path)
	assert.ErrorContains(t, err, "unknown node")
}
