package graph

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/vjranagit/spack-sub003/internal/spec"
	"github.com/vjranagit/spack-sub003/internal/version"
)

// Document is the serialized form of a Graph.
type Document struct {
	Roots []string `yaml:"roots" json:"roots"`
	Nodes []Record `yaml:"nodes" json:"nodes"`
}

// Record is one serialized node.
type Record struct {
	Hash     string          `yaml:"hash" json:"hash"`
	Name     string          `yaml:"name" json:"name"`
	Version  string          `yaml:"version" json:"version"`
	Compiler string          `yaml:"compiler" json:"compiler"`
	Arch     string          `yaml:"arch" json:"arch"`
	Variants []VariantRecord `yaml:"variants,omitempty" json:"variants,omitempty"`
	Deps     []EdgeRecord    `yaml:"deps,omitempty" json:"deps,omitempty"`
}

type VariantRecord struct {
	Name   string   `yaml:"name" json:"name"`
	Values []string `yaml:"values,flow" json:"values"`
	Multi  bool     `yaml:"multi,omitempty" json:"multi,omitempty"`
}

type EdgeRecord struct {
	Hash     string   `yaml:"hash" json:"hash"`
	Name     string   `yaml:"name" json:"name"`
	Types    []string `yaml:"types,flow" json:"types"`
	Virtuals []string `yaml:"virtuals,flow,omitempty" json:"virtuals,omitempty"`
}

// Document returns g in serializable form. Nodes are listed dependencies
// first.
func (g *Graph) Document() Document {
	var doc Document
	for _, r := range g.roots {
		doc.Roots = append(doc.Roots, r.Hash())
	}
	for _, n := range g.order {
		rec := Record{
			Hash:     n.Hash(),
			Name:     n.Name,
			Version:  n.Version.String(),
			Compiler: n.Compiler.String(),
			Arch:     n.Arch.String(),
		}
		for _, name := range n.VariantNames() {
			v := n.Variants[name]
			rec.Variants = append(rec.Variants, VariantRecord{Name: name, Values: v.Values, Multi: v.Multi})
		}
		for _, e := range n.Edges {
			rec.Deps = append(rec.Deps, EdgeRecord{
				Hash:     e.Child.Hash(),
				Name:     e.Child.Name,
				Types:    e.Types.Names(),
				Virtuals: e.Virtuals,
			})
		}
		doc.Nodes = append(doc.Nodes, rec)
	}
	return doc
}

// Marshal encodes g as YAML.
func Marshal(g *Graph) ([]byte, error) {
	data, err := yaml.Marshal(g.Document())
	if err != nil {
		return nil, fmt.Errorf("graph: marshal: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a YAML document written by Marshal. Every node is
// rebuilt and resealed; a stored hash that does not match the node's content
// is an error.
func Unmarshal(data []byte) (*Graph, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("graph: unmarshal: %w", err)
	}
	return FromDocument(doc)
}

// FromDocument rebuilds the graph described by doc.
func FromDocument(doc Document) (*Graph, error) {
	records := make(map[string]*Record, len(doc.Nodes))
	for i := range doc.Nodes {
		rec := &doc.Nodes[i]
		if _, dup := records[rec.Hash]; dup {
			return nil, fmt.Errorf("graph: node %s listed twice", rec.Hash)
		}
		records[rec.Hash] = rec
	}

	built := make(map[string]*spec.Node, len(records))
	visiting := make(map[string]bool)
	var build func(hash string) (*spec.Node, error)
	build = func(hash string) (*spec.Node, error) {
		if n, ok := built[hash]; ok {
			return n, nil
		}
		rec, ok := records[hash]
		if !ok {
			return nil, fmt.Errorf("graph: unknown node %s", hash)
		}
		if visiting[hash] {
			return nil, fmt.Errorf("graph: cycle through %s/%s", rec.Name, hash)
		}
		visiting[hash] = true
		n, err := decodeNode(rec)
		if err != nil {
			return nil, err
		}
		for _, d := range rec.Deps {
			child, err := build(d.Hash)
			if err != nil {
				return nil, err
			}
			types, err := spec.ParseDepTypes(d.Types)
			if err != nil {
				return nil, fmt.Errorf("graph: node %s: %w", hash, err)
			}
			n.Edges = append(n.Edges, spec.Edge{Child: child, Types: types, Virtuals: append([]string(nil), d.Virtuals...)})
		}
		if got := n.Seal(); got != hash {
			return nil, fmt.Errorf("graph: node %s/%s: content hashes to %s", rec.Name, hash, got)
		}
		built[hash] = n
		return n, nil
	}

	var roots []*spec.Node
	for _, h := range doc.Roots {
		n, err := build(h)
		if err != nil {
			return nil, err
		}
		roots = append(roots, n)
	}
	return New(roots...)
}

func decodeNode(rec *Record) (*spec.Node, error) {
	v, err := version.Parse(rec.Version)
	if err != nil {
		return nil, fmt.Errorf("graph: node %s: %w", rec.Hash, err)
	}
	comp, err := spec.ParseCompiler(rec.Compiler)
	if err != nil {
		return nil, fmt.Errorf("graph: node %s: %w", rec.Hash, err)
	}
	arch, err := spec.ParseArch(rec.Arch)
	if err != nil {
		return nil, fmt.Errorf("graph: node %s: %w", rec.Hash, err)
	}
	n := &spec.Node{Name: rec.Name, Version: v, Compiler: comp, Arch: arch}
	if len(rec.Variants) > 0 {
		n.Variants = make(map[string]spec.Variant, len(rec.Variants))
		for _, vr := range rec.Variants {
			n.Variants[vr.Name] = spec.Variant{Name: vr.Name, Values: append([]string(nil), vr.Values...), Multi: vr.Multi}
		}
	}
	return n, nil
}
