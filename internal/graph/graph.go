// Package graph holds concretized DAGs: one or more root nodes and every node
// reachable from them, indexed by content hash.
package graph

import (
	"fmt"
	"sort"

	"github.com/vjranagit/spack-sub003/internal/spec"
)

// Graph is an immutable set of concrete DAGs. Nodes with equal hashes are
// stored once, so diamonds and roots shared between DAGs converge.
type Graph struct {
	roots  []*spec.Node
	byHash map[string]*spec.Node
	order  []*spec.Node
}

// New returns the graph spanned by roots. Every root must be sealed. A root
// whose hash was already added is kept once.
func New(roots ...*spec.Node) (*Graph, error) {
	g := &Graph{byHash: make(map[string]*spec.Node)}
	for _, r := range roots {
		if err := g.add(r); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (g *Graph) add(root *spec.Node) error {
	if !root.Sealed() {
		return fmt.Errorf("graph: root %s is not sealed", root.Name)
	}
	if _, ok := g.byHash[root.Hash()]; ok {
		for _, r := range g.roots {
			if r.Hash() == root.Hash() {
				return nil
			}
		}
		g.roots = append(g.roots, g.byHash[root.Hash()])
		return nil
	}
	var visit func(n *spec.Node) error
	visit = func(n *spec.Node) error {
		if _, ok := g.byHash[n.Hash()]; ok {
			return nil
		}
		for _, e := range n.Edges {
			if !e.Child.Sealed() {
				return fmt.Errorf("graph: %s depends on unsealed %s", n.Name, e.Child.Name)
			}
			if err := visit(e.Child); err != nil {
				return err
			}
		}
		g.byHash[n.Hash()] = n
		g.order = append(g.order, n)
		return nil
	}
	if err := visit(root); err != nil {
		return err
	}
	g.roots = append(g.roots, root)
	return nil
}

// Roots returns the root nodes in the order they were added.
func (g *Graph) Roots() []*spec.Node { return append([]*spec.Node(nil), g.roots...) }

// Nodes returns every node, dependencies before their dependents.
func (g *Graph) Nodes() []*spec.Node { return append([]*spec.Node(nil), g.order...) }

// Len returns the number of distinct nodes.
func (g *Graph) Len() int { return len(g.order) }

// Lookup returns the node with the given hash.
func (g *Graph) Lookup(hash string) (*spec.Node, bool) {
	n, ok := g.byHash[hash]
	return n, ok
}

// Find returns the nodes named name, sorted by hash.
func (g *Graph) Find(name string) []*spec.Node {
	var out []*spec.Node
	for _, n := range g.order {
		if n.Name == name {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hash() < out[j].Hash() })
	return out
}

// Names returns the distinct package names in the graph, sorted.
func (g *Graph) Names() []string {
	seen := make(map[string]bool)
	var out []string
	for _, n := range g.order {
		if !seen[n.Name] {
			seen[n.Name] = true
			out = append(out, n.Name)
		}
	}
	sort.Strings(out)
	return out
}

// Dependents returns the nodes with a direct edge to the node with hash.
func (g *Graph) Dependents(hash string) []*spec.Node {
	var out []*spec.Node
	for _, n := range g.order {
		for _, e := range n.Edges {
			if e.Child.Hash() == hash {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

// Reaches reports whether from transitively depends on to.
func (g *Graph) Reaches(from, to string) bool {
	n, ok := g.byHash[from]
	if !ok {
		return false
	}
	found := false
	n.Traverse(func(cur *spec.Node) bool {
		if cur != n && cur.Hash() == to {
			found = true
		}
		return !found
	})
	return found
}

// Unified reports the first package name that appears with more than one
// hash, if any.
func (g *Graph) Unified() (string, bool) {
	seen := make(map[string]string)
	for _, n := range g.order {
		if h, ok := seen[n.Name]; ok && h != n.Hash() {
			return n.Name, false
		}
		seen[n.Name] = n.Hash()
	}
	return "", true
}
