package version

import (
	"fmt"
	"regexp"
	"strings"
)

// infinity names sort above every numeric version. Later entries are greater.
var infinity = []string{"stable", "nightly", "trunk", "head", "master", "main", "develop"}

var (
	reVersion = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)
	reCommit  = regexp.MustCompile(`^[0-9a-f]{40}$`)
	reGitRef  = regexp.MustCompile(`^[A-Za-z0-9_.\-/]+$`)
)

type component struct {
	num   string // digits with leading zeros stripped, set when numeric
	str   string
	isNum bool
}

// Version is a package version.
//
// Two kinds exist: ordered versions ("1.2.3", "2.0rc1", "develop") and git
// pseudo-versions ("git.v1.0-fix", or a bare 40 character commit). Git
// versions only ever compare equal to the same ref; they are never inside a
// range.
type Version struct {
	raw   string
	parts []component
	git   string
}

// Parse parses a single version string.
func Parse(raw string) (Version, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Version{}, fmt.Errorf("version: parse %q: empty version", raw)
	}
	if ref, ok := strings.CutPrefix(raw, "git."); ok {
		if ref == "" || !reGitRef.MatchString(ref) {
			return Version{}, fmt.Errorf("version: parse %q: invalid git ref", raw)
		}
		return Version{raw: raw, git: ref}, nil
	}
	if reCommit.MatchString(raw) {
		return Version{raw: "git." + raw, git: raw}, nil
	}
	if !reVersion.MatchString(raw) {
		return Version{}, fmt.Errorf("version: parse %q: invalid character", raw)
	}
	parts := split(raw)
	if len(parts) == 0 {
		return Version{}, fmt.Errorf("version: parse %q: no components", raw)
	}
	return Version{raw: raw, parts: parts}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(raw string) Version {
	v, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return v
}

func split(raw string) []component {
	var out []component
	i := 0
	for i < len(raw) {
		c := raw[i]
		switch {
		case c == '.' || c == '-' || c == '_':
			i++
		case c >= '0' && c <= '9':
			j := i
			for j < len(raw) && raw[j] >= '0' && raw[j] <= '9' {
				j++
			}
			n := strings.TrimLeft(raw[i:j], "0")
			if n == "" {
				n = "0"
			}
			out = append(out, component{num: n, isNum: true})
			i = j
		default:
			j := i
			for j < len(raw) && !isDigit(raw[j]) && raw[j] != '.' && raw[j] != '-' && raw[j] != '_' {
				j++
			}
			out = append(out, component{str: raw[i:j]})
			i = j
		}
	}
	return out
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func (v Version) String() string { return v.raw }

// IsZero reports whether v is the zero Version.
func (v Version) IsZero() bool { return v.raw == "" }

// IsGit reports whether v is a git pseudo-version.
func (v Version) IsGit() bool { return v.git != "" }

// GitRef returns the ref of a git pseudo-version.
func (v Version) GitRef() string { return v.git }

// IsInfinity reports whether v starts with one of the infinity names, such as
// "develop" or "main".
func (v Version) IsInfinity() bool {
	return len(v.parts) > 0 && !v.parts[0].isNum && infinityIndex(v.parts[0].str) >= 0
}

// Equal reports whether v and other denote the same version.
func (v Version) Equal(other Version) bool { return Compare(v, other) == 0 }

// IsPrefixOf reports whether every component of v starts other, so that
// "1.2" is a prefix of "1.2.7" but not of "1.20".
func (v Version) IsPrefixOf(other Version) bool {
	if v.IsGit() || other.IsGit() || len(v.parts) > len(other.parts) {
		return false
	}
	for i := range v.parts {
		if compareComponent(v.parts[i], other.parts[i]) != 0 {
			return false
		}
	}
	return true
}

// Compare compares a and b, returning:
// -1 if a < b
//
//	0 if a == b
//	1 if a > b
//
// Git versions sort below all ordered versions and among themselves by ref;
// that order exists only to make sorting deterministic.
func Compare(a, b Version) int {
	switch {
	case a.IsGit() && b.IsGit():
		return strings.Compare(a.git, b.git)
	case a.IsGit():
		return -1
	case b.IsGit():
		return 1
	}
	n := len(a.parts)
	if len(b.parts) < n {
		n = len(b.parts)
	}
	for i := 0; i < n; i++ {
		if c := compareComponent(a.parts[i], b.parts[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a.parts) < len(b.parts):
		return -1
	case len(a.parts) > len(b.parts):
		return 1
	}
	return 0
}

func compareComponent(a, b component) int {
	switch {
	case a.isNum && b.isNum:
		if len(a.num) != len(b.num) {
			if len(a.num) < len(b.num) {
				return -1
			}
			return 1
		}
		return strings.Compare(a.num, b.num)
	case a.isNum:
		if infinityIndex(b.str) >= 0 {
			return -1
		}
		return 1
	case b.isNum:
		if infinityIndex(a.str) >= 0 {
			return 1
		}
		return -1
	}
	ia, ib := infinityIndex(a.str), infinityIndex(b.str)
	switch {
	case ia >= 0 && ib >= 0:
		return cmpInt(ia, ib)
	case ia >= 0:
		return 1
	case ib >= 0:
		return -1
	}
	return strings.Compare(a.str, b.str)
}

func infinityIndex(s string) int {
	for i, name := range infinity {
		if s == name {
			return i
		}
	}
	return -1
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Newest returns the highest ordered version in candidates that l contains.
//
// If multiple versions are equal, the first encountered wins.
func Newest(l List, candidates []Version) (Version, bool) {
	var best Version
	found := false
	for _, candidate := range candidates {
		if candidate.IsGit() || !l.Contains(candidate) {
			continue
		}
		if !found || Compare(candidate, best) > 0 {
			best = candidate
			found = true
		}
	}
	return best, found
}
