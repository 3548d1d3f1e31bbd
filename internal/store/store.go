// Package store is the database of installed concrete specs. The resolver
// offers its nodes as reuse candidates.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/vjranagit/spack-sub003/internal/graph"
	"github.com/vjranagit/spack-sub003/internal/spec"
)

// DB holds installed nodes keyed by hash and persists them as a graph
// document. It is safe for concurrent use.
type DB struct {
	path string

	mu    sync.RWMutex
	graph *graph.Graph
}

// Open loads the database at path. A missing file is an empty database.
func Open(path string) (*DB, error) {
	db := &DB{path: path}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		db.graph, _ = graph.New()
		return db, nil
	case err != nil:
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	g, err := graph.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("store: load %s: %w", path, err)
	}
	db.graph = g
	return db, nil
}

// Path returns the file backing db.
func (db *DB) Path() string { return db.path }

// Add records nodes and everything they depend on. Nodes already present
// are ignored.
func (db *DB) Add(nodes ...*spec.Node) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	g, err := graph.New(append(db.graph.Roots(), nodes...)...)
	if err != nil {
		return fmt.Errorf("store: add: %w", err)
	}
	db.graph = g
	return nil
}

// Nodes returns every installed node, dependencies first.
func (db *DB) Nodes() []*spec.Node {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.graph.Nodes()
}

// Len returns the number of installed nodes.
func (db *DB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.graph.Len()
}

// Lookup returns the installed node with the given hash.
func (db *DB) Lookup(hash string) (*spec.Node, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.graph.Lookup(hash)
}

// Query returns the installed nodes that satisfy s.
func (db *DB) Query(s *spec.Spec) []*spec.Node {
	var out []*spec.Node
	for _, n := range db.Nodes() {
		if spec.Satisfies(s, n) {
			out = append(out, n)
		}
	}
	return out
}

// Save writes the database to its file. The previous file is replaced
// atomically.
func (db *DB) Save() error {
	db.mu.RLock()
	data, err := graph.Marshal(db.graph)
	db.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("store: save: %w", err)
	}
	dir := filepath.Dir(db.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: save: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".installed-*.yaml")
	if err != nil {
		return fmt.Errorf("store: save: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: save: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: save: %w", err)
	}
	if err := os.Rename(tmp.Name(), db.path); err != nil {
		return fmt.Errorf("store: save: %w", err)
	}
	return nil
}
