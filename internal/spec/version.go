package spec

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// Version is a concrete dbt version. It keeps the PyPI spelling
// (e.g. "1.0.0rc1") alongside the parsed semantic version, because PyPI
// formats pre-releases without the dash separator semver expects.
type Version struct {
	raw    string
	semver *semver.Version
}

// pep440Pattern splits a PyPI-style version into its numeric part and an
// optional pre-release suffix ("1.0.0rc1" -> "1.0.0", "rc1").
var pep440Pattern = regexp.MustCompile(`^(\d+(?:\.\d+){0,2})[-.]?([a-zA-Z][a-zA-Z0-9.\-]*)?$`)

// ParseVersion parses a PyPI-style dbt version string.
func ParseVersion(s string) (*Version, error) {
	m := pep440Pattern.FindStringSubmatch(s)
	if m == nil {
		return nil, &MalformedSpecifierError{Input: s}
	}

	canonical := m[1]
	if m[2] != "" {
		canonical += "-" + m[2]
	}
	sv, err := semver.NewVersion(canonical)
	if err != nil {
		return nil, &MalformedSpecifierError{Input: s, Cause: err}
	}
	return &Version{raw: s, semver: sv}, nil
}

// MustParseVersion is ParseVersion that panics on error. For tests and
// constants known to be valid.
func MustParseVersion(s string) *Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the version as originally written.
func (v *Version) String() string { return v.raw }

// Canonical returns the semver spelling ("1.0.0rc1" -> "1.0.0-rc1").
func (v *Version) Canonical() string { return v.semver.String() }

// SemVer returns the parsed semantic version.
func (v *Version) SemVer() *semver.Version { return v.semver }

// IsStable reports whether the version has no pre-release tag.
func (v *Version) IsStable() bool { return v.semver.Prerelease() == "" }

// Compare returns -1, 0, or 1 ordering v against o.
func (v *Version) Compare(o *Version) int { return v.semver.Compare(o.semver) }

// Equal reports whether two versions compare equal.
func (v *Version) Equal(o *Version) bool { return o != nil && v.Compare(o) == 0 }

// PipSpecifier returns the pinned pip requirement for this version of the
// given adapter package, e.g. "dbt-snowflake==1.0.0".
func (v *Version) PipSpecifier(adapter string) string {
	return fmt.Sprintf("%s==%s", PackageName(adapter), v.raw)
}

// Sort orders versions ascending in place.
func Sort(versions []*Version) {
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Compare(versions[j]) < 0
	})
}

// Max returns the maximum of the given versions, preferring stable versions
// when preferStable is set: a pre-release can only win when the set contains
// no stable version at all. Returns nil for an empty set.
func Max(versions []*Version, preferStable bool) *Version {
	var maxAny, maxStable *Version
	for _, v := range versions {
		if maxAny == nil || v.Compare(maxAny) > 0 {
			maxAny = v
		}
		if v.IsStable() && (maxStable == nil || v.Compare(maxStable) > 0) {
			maxStable = v
		}
	}
	if preferStable && maxStable != nil {
		return maxStable
	}
	return maxAny
}
