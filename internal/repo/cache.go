package repo

import (
	"github.com/vjranagit/spack-sub003/internal/version"
)

// Cache memoizes Oracle answers for the lifetime of one resolution. It is
// not safe for concurrent use; every request builds its own.
type Cache struct {
	inner Oracle

	versions     map[string]cached[[]VersionInfo]
	variants     map[versionKey]cached[map[string]VariantDef]
	dependencies map[versionKey]cached[[]DependencyRule]
	conflicts    map[string]cached[[]ConflictRule]
	requirements map[string]cached[[]RequirementRule]
	providers    map[string]cached[[]ProviderRule]

	misses int
}

type cached[T any] struct {
	value T
	err   error
}

type versionKey struct {
	name    string
	version string
}

var _ Oracle = (*Cache)(nil)

// NewCache wraps inner. A Cache wrapping a Cache shares nothing with it.
func NewCache(inner Oracle) *Cache {
	return &Cache{
		inner:        inner,
		versions:     make(map[string]cached[[]VersionInfo]),
		variants:     make(map[versionKey]cached[map[string]VariantDef]),
		dependencies: make(map[versionKey]cached[[]DependencyRule]),
		conflicts:    make(map[string]cached[[]ConflictRule]),
		requirements: make(map[string]cached[[]RequirementRule]),
		providers:    make(map[string]cached[[]ProviderRule]),
	}
}

// Misses returns how many queries reached the wrapped oracle.
func (c *Cache) Misses() int { return c.misses }

func memo[K comparable, T any](c *Cache, m map[K]cached[T], key K, load func() (T, error)) (T, error) {
	if hit, ok := m[key]; ok {
		return hit.value, hit.err
	}
	c.misses++
	v, err := load()
	m[key] = cached[T]{value: v, err: err}
	return v, err
}

func (c *Cache) Exists(name string) bool { return c.inner.Exists(name) }

func (c *Cache) IsVirtual(name string) bool { return c.inner.IsVirtual(name) }

func (c *Cache) KnownVersions(name string) ([]VersionInfo, error) {
	return memo(c, c.versions, name, func() ([]VersionInfo, error) { return c.inner.KnownVersions(name) })
}

func (c *Cache) Variants(name string, v version.Version) (map[string]VariantDef, error) {
	return memo(c, c.variants, versionKey{name, v.String()}, func() (map[string]VariantDef, error) {
		return c.inner.Variants(name, v)
	})
}

func (c *Cache) DependencyRules(name string, v version.Version) ([]DependencyRule, error) {
	return memo(c, c.dependencies, versionKey{name, v.String()}, func() ([]DependencyRule, error) {
		return c.inner.DependencyRules(name, v)
	})
}

func (c *Cache) ConflictRules(name string) ([]ConflictRule, error) {
	return memo(c, c.conflicts, name, func() ([]ConflictRule, error) { return c.inner.ConflictRules(name) })
}

func (c *Cache) RequirementRules(name string) ([]RequirementRule, error) {
	return memo(c, c.requirements, name, func() ([]RequirementRule, error) { return c.inner.RequirementRules(name) })
}

func (c *Cache) Providers(virtual string) ([]ProviderRule, error) {
	return memo(c, c.providers, virtual, func() ([]ProviderRule, error) { return c.inner.Providers(virtual) })
}
