// Package semver checks whether a package repository was written for a
// recipe format this engine understands.
//
// Repositories declare `repo_api: ">=1.0 <2"`; the engine advertises
// EngineAPI. This is a thin wrapper around github.com/Masterminds/semver/v3.
package semver

import (
	"fmt"
	"strings"

	mm "github.com/Masterminds/semver/v3"
)

// EngineAPI is the recipe format version implemented by this engine.
const EngineAPI = "1.3.0"

// Requirement is a repository's constraint on the recipe format version.
//
// Examples:
// - ">=1.0 <2.0"
// - "^1.2"
// - "~1.3"
type Requirement struct {
	raw string
	c   *mm.Constraints
}

// ParseRequirement parses raw. An empty requirement admits every version.
func ParseRequirement(raw string) (Requirement, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "*"
	}
	c, err := mm.NewConstraint(raw)
	if err != nil {
		return Requirement{}, fmt.Errorf("semver: parse requirement %q: %w", raw, err)
	}
	return Requirement{raw: raw, c: c}, nil
}

func (r Requirement) String() string { return r.raw }

// Admits reports whether api satisfies r.
func (r Requirement) Admits(api string) (bool, error) {
	v, err := mm.NewVersion(api)
	if err != nil {
		return false, fmt.Errorf("semver: parse version %q: %w", api, err)
	}
	if r.c == nil {
		return true, nil
	}
	return r.c.Check(v), nil
}

// CheckEngine returns an error unless the engine's API version satisfies raw.
func CheckEngine(raw string) error {
	r, err := ParseRequirement(raw)
	if err != nil {
		return err
	}
	ok, err := r.Admits(EngineAPI)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("semver: repository requires recipe api %s, engine provides %s", r, EngineAPI)
	}
	return nil
}
