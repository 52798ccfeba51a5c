// Package spec parses dbt version specifiers: bare versions ("1.0.0"),
// pip-style package pins ("dbt-snowflake==1.0.0"), and version range
// expressions (">=1.0,<2.0") as found in require-dbt-version.
package spec

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// packagePrefix is the naming convention for dbt adapter packages on PyPI.
const packagePrefix = "dbt-"

// Spec is a parsed version specifier: either an exact version or a range
// constraint, optionally qualified with an adapter name. Exactly one of
// Exact and Range is set.
type Spec struct {
	// Adapter is the normalized adapter name, or "" when the specifier
	// doesn't name one.
	Adapter string
	Exact   *Version
	Range   *Constraint
}

var (
	pipSpecPattern      = regexp.MustCompile(`^dbt-([A-Za-z0-9_-]+)==([^<>!~^,]+)$`)
	adapterRangePattern = regexp.MustCompile(`^dbt-([A-Za-z0-9_-]+?)\s*([<>!~^=].*)$`)
)

// rangeOperators are the comparison operators that mark a specifier as a
// range rather than an exact version.
var rangeOperators = []string{">=", "<=", ">", "<", "!=", "~=", "^"}

// Parse parses a free-form specifier string. Leading/trailing whitespace
// and trailing line comments are ignored so marker file content can be fed
// in directly.
func Parse(s string) (*Spec, error) {
	s = clean(s)
	if s == "" {
		return nil, &MalformedSpecifierError{Input: s}
	}

	if m := pipSpecPattern.FindStringSubmatch(s); m != nil {
		v, err := ParseVersion(m[2])
		if err != nil {
			return nil, &MalformedSpecifierError{Input: s, Cause: err}
		}
		return &Spec{Adapter: NormalizeAdapter(m[1]), Exact: v}, nil
	}

	if m := adapterRangePattern.FindStringSubmatch(s); m != nil {
		c, err := ParseConstraint(m[2])
		if err != nil {
			return nil, &MalformedSpecifierError{Input: s, Cause: err}
		}
		return &Spec{Adapter: NormalizeAdapter(m[1]), Range: c}, nil
	}

	if isRange(s) {
		c, err := ParseConstraint(s)
		if err != nil {
			return nil, err
		}
		return &Spec{Range: c}, nil
	}

	v, err := ParseVersion(strings.TrimPrefix(s, "=="))
	if err != nil {
		return nil, err
	}
	return &Spec{Exact: v}, nil
}

// String round-trips the specifier back to its written form.
func (s *Spec) String() string {
	switch {
	case s.Exact != nil && s.Adapter != "":
		return s.Exact.PipSpecifier(s.Adapter)
	case s.Exact != nil:
		return s.Exact.String()
	case s.Adapter != "":
		return PackageName(s.Adapter) + s.Range.String()
	default:
		return s.Range.String()
	}
}

// IsExact reports whether the specifier pins a single version.
func (s *Spec) IsExact() bool { return s.Exact != nil }

// NormalizeAdapter lowercases an adapter name and unifies separators so
// "dbt_Snowflake" and "snowflake" compare equal.
func NormalizeAdapter(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.TrimPrefix(name, packagePrefix)
	return strings.ReplaceAll(name, "_", "-")
}

// PackageName returns the PyPI package name for an adapter ("snowflake" ->
// "dbt-snowflake").
func PackageName(adapter string) string {
	return packagePrefix + NormalizeAdapter(adapter)
}

// Constraint is a version range, retaining the pip-style spelling it was
// written with.
type Constraint struct {
	raw         string
	constraints *semver.Constraints
}

// ParseConstraint parses a pip-style range expression. Comma-separated
// clauses are ANDed, and pre-release suffixes are normalized to the dashed
// semver form before matching.
func ParseConstraint(s string) (*Constraint, error) {
	s = clean(s)
	if s == "" {
		return nil, &MalformedSpecifierError{Input: s}
	}

	var clauses []string
	for _, clause := range strings.Split(s, ",") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		op, ver := splitOperator(clause)
		parsed, err := ParseVersion(ver)
		if err != nil {
			return nil, &MalformedSpecifierError{Input: s, Cause: err}
		}
		switch op {
		case "==", "":
			op = "="
		case "~=":
			// pip's compatible-release operator; semver's tilde range is
			// the closest equivalent.
			op = "~"
		}
		clauses = append(clauses, op+parsed.Canonical())
	}
	if len(clauses) == 0 {
		return nil, &MalformedSpecifierError{Input: s}
	}

	c, err := semver.NewConstraint(strings.Join(clauses, ", "))
	if err != nil {
		return nil, &MalformedSpecifierError{Input: s, Cause: err}
	}
	return &Constraint{raw: s, constraints: c}, nil
}

// Check reports whether the version satisfies the constraint. Pre-release
// versions are compared by their release counterpart so that e.g. 1.0.0rc1
// satisfies ">=0.19" the way pip treats it.
func (c *Constraint) Check(v *Version) bool {
	if c.constraints.Check(v.semver) {
		return true
	}
	if v.IsStable() {
		return false
	}
	release, err := v.semver.SetPrerelease("")
	if err != nil {
		return false
	}
	return c.constraints.Check(&release)
}

// String returns the constraint as originally written.
func (c *Constraint) String() string { return c.raw }

// splitOperator splits a clause like ">=1.0.0" into its operator and
// version parts.
func splitOperator(clause string) (op, version string) {
	for _, candidate := range []string{">=", "<=", "==", "!=", "~=", ">", "<", "=", "^", "~"} {
		if strings.HasPrefix(clause, candidate) {
			return candidate, strings.TrimSpace(strings.TrimPrefix(clause, candidate))
		}
	}
	return "", clause
}

func isRange(s string) bool {
	for _, op := range rangeOperators {
		if strings.Contains(s, op) {
			return true
		}
	}
	return strings.Contains(s, ",")
}

// clean trims whitespace and strips a trailing "#" comment.
func clean(s string) string {
	if i := strings.Index(s, "#"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// MalformedSpecifierError reports input that matches none of the supported
// specifier grammars.
type MalformedSpecifierError struct {
	Input string
	Cause error
}

func (e *MalformedSpecifierError) Error() string {
	return fmt.Sprintf("malformed version specifier %q", e.Input)
}

func (e *MalformedSpecifierError) Unwrap() error { return e.Cause }
