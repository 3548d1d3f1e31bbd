package spec

import (
	"crypto/sha256"
	"encoding/base32"
	"encoding/json"
	"sort"
	"strings"

	"github.com/vjranagit/spack-sub003/internal/version"
)

// HashLength is the number of base32 characters kept from the digest.
const HashLength = 32

var hashEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// Node is a concrete spec. Build it, attach edges to already sealed
// children, then call Seal; a sealed node must not be modified.
type Node struct {
	Name     string
	Version  version.Version
	Variants map[string]Variant
	Compiler Compiler
	Arch     Arch
	Edges    []Edge

	hash string
}

// Edge connects a node to one dependency.
type Edge struct {
	Child    *Node
	Types    DepTypes
	Virtuals []string
}

type canonicalNode struct {
	Name     string          `json:"name"`
	Version  string          `json:"version"`
	Variants []canonicalVar  `json:"variants,omitempty"`
	Compiler string          `json:"compiler"`
	Arch     string          `json:"arch"`
	Deps     []canonicalEdge `json:"deps,omitempty"`
}

type canonicalVar struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

type canonicalEdge struct {
	Hash     string   `json:"hash"`
	Types    []string `json:"types"`
	Virtuals []string `json:"virtuals,omitempty"`
}

// Seal sorts the node's edges and computes its hash. Every child must be
// sealed first. Sealing twice is a no-op.
func (n *Node) Seal() string {
	if n.hash != "" {
		return n.hash
	}
	sort.SliceStable(n.Edges, func(i, j int) bool {
		a, b := n.Edges[i], n.Edges[j]
		if a.Child.Name != b.Child.Name {
			return a.Child.Name < b.Child.Name
		}
		return a.Child.Seal() < b.Child.Seal()
	})
	c := canonicalNode{
		Name:     n.Name,
		Version:  n.Version.String(),
		Compiler: n.Compiler.String(),
		Arch:     n.Arch.String(),
	}
	for _, name := range n.VariantNames() {
		v := n.Variants[name]
		c.Variants = append(c.Variants, canonicalVar{Name: v.Name, Values: v.Values})
	}
	for i := range n.Edges {
		e := &n.Edges[i]
		sort.Strings(e.Virtuals)
		c.Deps = append(c.Deps, canonicalEdge{Hash: e.Child.Seal(), Types: e.Types.Names(), Virtuals: e.Virtuals})
	}
	data, err := json.Marshal(c)
	if err != nil {
		// Only strings and slices of strings are marshalled.
		panic(err)
	}
	sum := sha256.Sum256(data)
	n.hash = hashEncoding.EncodeToString(sum[:])[:HashLength]
	return n.hash
}

// Hash returns the content hash of a sealed node, or "" if unsealed.
func (n *Node) Hash() string { return n.hash }

// Sealed reports whether Seal has been called.
func (n *Node) Sealed() bool { return n.hash != "" }

// ShortHash returns the first seven characters of the hash.
func (n *Node) ShortHash() string {
	if len(n.hash) < 7 {
		return n.hash
	}
	return n.hash[:7]
}

// VariantNames returns the node's variant names, sorted.
func (n *Node) VariantNames() []string {
	names := make([]string, 0, len(n.Variants))
	for k := range n.Variants {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Dependencies returns the direct children of n.
func (n *Node) Dependencies() []*Node {
	out := make([]*Node, len(n.Edges))
	for i, e := range n.Edges {
		out[i] = e.Child
	}
	return out
}

// Edge returns the edge from n to the child named name.
func (n *Node) Edge(name string) (Edge, bool) {
	for _, e := range n.Edges {
		if e.Child.Name == name {
			return e, true
		}
	}
	return Edge{}, false
}

// Traverse visits n and its transitive dependencies once each, parents
// before children, in edge order. It stops early when visit returns false.
func (n *Node) Traverse(visit func(*Node) bool) {
	seen := make(map[*Node]bool)
	var walk func(*Node) bool
	walk = func(cur *Node) bool {
		if seen[cur] {
			return true
		}
		seen[cur] = true
		if !visit(cur) {
			return false
		}
		for _, e := range cur.Edges {
			if !walk(e.Child) {
				return false
			}
		}
		return true
	}
	walk(n)
}

// DependsOn reports whether n transitively depends on a node named name.
func (n *Node) DependsOn(name string) bool {
	found := false
	n.Traverse(func(cur *Node) bool {
		if cur != n && cur.Name == name {
			found = true
			return false
		}
		return true
	})
	return found
}

// Format renders the node's own attributes as spec text.
func (n *Node) Format() string {
	return n.AsSpec(false).String()
}

// AsSpec returns an abstract spec pinning every attribute of n. With deep,
// every transitive dependency is pinned too, qualified by its edge from the
// root when it is direct. Re-resolving the result reproduces n.
func (n *Node) AsSpec(deep bool) *Spec {
	s := pinned(n)
	if !deep {
		return s
	}
	direct := make(map[string]Edge)
	for _, e := range n.Edges {
		direct[e.Child.Name] = e
	}
	n.Traverse(func(cur *Node) bool {
		if cur == n {
			return true
		}
		d := &Dependency{Spec: pinned(cur)}
		if e, ok := direct[cur.Name]; ok && e.Child == cur {
			d.Types = e.Types
			d.Virtuals = append([]string(nil), e.Virtuals...)
		}
		s.Deps = append(s.Deps, d)
		return true
	})
	return s
}

func pinned(n *Node) *Spec {
	s := &Spec{Name: n.Name, Versions: version.Exactly(n.Version), Arch: n.Arch}
	for _, name := range n.VariantNames() {
		v := n.Variants[name]
		v.Values = append([]string(nil), v.Values...)
		s.SetVariant(v)
	}
	if n.Compiler.Name != "" {
		s.Compiler = &CompilerSpec{Name: n.Compiler.Name, Versions: version.Exactly(n.Compiler.Version)}
	}
	return s
}

// Tree renders n and its dependencies as an indented tree.
func (n *Node) Tree() string {
	var b strings.Builder
	var walk func(cur *Node, depth int, seen map[*Node]bool)
	walk = func(cur *Node, depth int, seen map[*Node]bool) {
		b.WriteString(strings.Repeat("    ", depth))
		b.WriteString("[" + cur.ShortHash() + "] ")
		b.WriteString(cur.Format())
		b.WriteByte('\n')
		if seen[cur] {
			return
		}
		seen[cur] = true
		for _, e := range cur.Edges {
			walk(e.Child, depth+1, seen)
		}
	}
	walk(n, 0, make(map[*Node]bool))
	return b.String()
}
