package spec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vjranagit/spack-sub003/internal/version"
)

func TestParseRoundTrip(t *testing.T) {
	cases := []string{
		"libelf@0.8.13:0.8.19",
		"hdf5@1.10:+mpi~shared api=v18 %gcc@9: arch=linux-ubuntu22.04-x86_64 ^zlib@1.2",
		"pkg ^[virtuals=mpi] mpich",
		"pkg ^[virtuals=blas,lapack deptypes=build,link] openblas@0.3:",
		"foo languages=c,cxx,fortran",
		"bar@git.main",
		"baz os=ubuntu22.04 target=zen2",
	}
	for _, in := range cases {
		s, err := Parse(in)
		require.NoError(t, err, in)
		again, err := Parse(s.String())
		require.NoError(t, err, s.String())
		assert.Equal(t, s.String(), again.String(), "round trip of %q", in)
	}
}

func TestParseStructure(t *testing.T) {
	s := MustParse("hdf5@1.10: +mpi ~shared api=v18 %gcc@9: ^[deptypes=build] cmake@3.20: ^zlib")
	require.Equal(t, "hdf5", s.Name)
	assert.True(t, s.Versions.Contains(version.MustParse("1.12.1")))
	assert.Equal(t, BoolVariant("mpi", true), s.Variants["mpi"])
	assert.Equal(t, BoolVariant("shared", false), s.Variants["shared"])
	assert.Equal(t, []string{"v18"}, s.Variants["api"].Values)
	require.NotNil(t, s.Compiler)
	assert.Equal(t, "gcc", s.Compiler.Name)

	cmake := s.Dependency("cmake")
	require.NotNil(t, cmake)
	assert.True(t, cmake.Direct())
	assert.Equal(t, Build, cmake.Types)

	zlib := s.Dependency("zlib")
	require.NotNil(t, zlib)
	assert.False(t, zlib.Direct())
}

func TestParseMergesRepeatedDependencies(t *testing.T) {
	s := MustParse("a ^b@1: ^b+x")
	require.Len(t, s.Deps, 1)
	b := s.Deps[0].Spec
	assert.Equal(t, "1:", b.Versions.String())
	assert.Equal(t, "+x", b.Variants["x"].String())
}

func TestParseErrors(t *testing.T) {
	cases := []string{
		"",
		"foo bar",
		"foo@",
		"foo@2.0:1.0",
		"foo ^[virtuals=mpi mpich",
		"foo ^[bogus=x] bar",
		"foo ^+x",
		"foo +x ~x",
		"foo arch=linux",
		"foo ^b@1.0 ^b@2.0",
		"foo %gcc %clang",
		"foo ^[deptypes=compile] bar",
	}
	for _, in := range cases {
		_, err := Parse(in)
		require.Error(t, err, in)
		var pe *ParseError
		assert.True(t, errors.As(err, &pe), "expected *ParseError for %q, got %T", in, err)
	}
}

func TestMerge(t *testing.T) {
	merged, err := Merge(MustParse("a@1.0:2.0+x"), MustParse("a@1.5: %gcc"))
	require.NoError(t, err)
	assert.Equal(t, "a@1.5:2.0+x %gcc", merged.String())

	_, err = Merge(MustParse("a@1.0"), MustParse("a@2.0"))
	var ue *UnsatisfiableError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "version", ue.Attribute)

	_, err = Merge(MustParse("a+x"), MustParse("a~x"))
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "variant", ue.Attribute)

	_, err = Merge(MustParse("a %gcc"), MustParse("a %clang"))
	require.ErrorAs(t, err, &ue)

	_, err = Merge(MustParse("a arch=linux-rhel8-x86_64"), MustParse("a target=zen2"))
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "target", ue.Attribute)

	merged, err = Merge(MustParse("a foo=x,y"), MustParse("a foo=y,z"))
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "z"}, merged.Variants["foo"].Values)

	assert.False(t, Intersects(MustParse("a ^b@1"), MustParse("a ^b@2")))
	assert.True(t, Intersects(MustParse("+mpi"), MustParse("a@1")))
}

func node(name, ver string, variants ...Variant) *Node {
	n := &Node{
		Name:     name,
		Version:  version.MustParse(ver),
		Compiler: Compiler{Name: "gcc", Version: version.MustParse("12.1.0")},
		Arch:     Arch{Platform: "linux", OS: "ubuntu22.04", Target: "x86_64"},
		Variants: map[string]Variant{},
	}
	for _, v := range variants {
		n.Variants[v.Name] = v
	}
	return n
}

func link(parent, child *Node, types DepTypes, virtuals ...string) {
	parent.Edges = append(parent.Edges, Edge{Child: child, Types: types, Virtuals: virtuals})
}

func TestSatisfies(t *testing.T) {
	zlib := node("zlib", "1.2.13", BoolVariant("shared", true))
	mpich := node("mpich", "4.1", NewVariant("device", "ch4"))
	hdf5 := node("hdf5", "1.14.0", BoolVariant("mpi", true))
	link(hdf5, zlib, Build|Link)
	link(hdf5, mpich, Build|Link, "mpi")
	zlib.Seal()
	mpich.Seal()
	hdf5.Seal()

	yes := []string{
		"hdf5",
		"hdf5@1.14",
		"hdf5@1.10:+mpi %gcc@12",
		"hdf5 arch=linux-ubuntu22.04-x86_64",
		"hdf5 ^zlib+shared",
		"hdf5 ^mpi",
		"hdf5 ^mpich device=ch4",
		"hdf5 ^[virtuals=mpi] mpich",
		"hdf5 ^[deptypes=link] zlib@1.2",
		"+mpi",
	}
	for _, in := range yes {
		assert.True(t, Satisfies(MustParse(in), hdf5), "expected hdf5 to satisfy %q", in)
	}
	no := []string{
		"zlib",
		"hdf5@1.10",
		"hdf5~mpi",
		"hdf5 %clang",
		"hdf5 target=zen2",
		"hdf5 ^zlib~shared",
		"hdf5 ^openmpi",
		"hdf5 ^[deptypes=run] zlib",
		"hdf5 ^[virtuals=blas] mpich",
		"hdf5 +fortran",
	}
	for _, in := range no {
		assert.False(t, Satisfies(MustParse(in), hdf5), "expected hdf5 NOT to satisfy %q", in)
	}
}

func TestHashIsPureFunctionOfSubtree(t *testing.T) {
	build := func(zlibVersion string) *Node {
		zlib := node("zlib", zlibVersion)
		root := node("libpng", "1.6.39")
		link(root, zlib, Build|Link)
		zlib.Seal()
		root.Seal()
		return root
	}
	a, b := build("1.2.13"), build("1.2.13")
	assert.Equal(t, a.Hash(), b.Hash())
	assert.Len(t, a.Hash(), HashLength)

	c := build("1.3")
	assert.NotEqual(t, a.Hash(), c.Hash(), "changing a dependency must change the parent hash")

	d := node("libpng", "1.6.39")
	d.Seal()
	assert.NotEqual(t, a.Hash(), d.Hash(), "dropping an edge must change the hash")
}

func TestHashIgnoresEdgeOrder(t *testing.T) {
	mk := func(reverse bool) *Node {
		x, y := node("x", "1"), node("y", "1")
		x.Seal()
		y.Seal()
		root := node("root", "1")
		if reverse {
			link(root, y, Link)
			link(root, x, Build)
		} else {
			link(root, x, Build)
			link(root, y, Link)
		}
		return root
	}
	assert.Equal(t, mk(false).Seal(), mk(true).Seal())
}

func TestAsSpecRoundTripsThroughSatisfies(t *testing.T) {
	zlib := node("zlib", "1.2.13")
	root := node("libpng", "1.6.39", BoolVariant("shared", true))
	link(root, zlib, Build|Link)
	zlib.Seal()
	root.Seal()

	pinned := root.AsSpec(true)
	assert.True(t, Satisfies(pinned, root))
	reparsed := MustParse(pinned.String())
	assert.True(t, Satisfies(reparsed, root))
	assert.True(t, root.DependsOn("zlib"))
	assert.False(t, zlib.DependsOn("libpng"))
}
