// Package project reads dbt project configuration: dbt_project.yml (the
// project's own dbt version requirement and those of its installed
// packages) and profiles.yml (which adapter the active target uses).
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/brooklyn-data/dbtenv/internal/spec"
)

// packageDirs are the directories dbt installs packages into, by dbt
// version: dbt_modules before 1.0, dbt_packages after.
var packageDirs = []string{"dbt_modules", "dbt_packages"}

// Project is the parsed subset of a dbt_project.yml.
type Project struct {
	File    string
	Dir     string
	Name    string `yaml:"name"`
	Profile string `yaml:"profile"`

	// RequireDbtVersion is the raw require-dbt-version clauses. dbt
	// accepts both a single comma-separated string and a YAML list.
	RequireDbtVersion requirementList `yaml:"require-dbt-version"`
}

// requirementList unmarshals require-dbt-version from either form.
type requirementList []string

func (r *requirementList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		for _, clause := range strings.Split(s, ",") {
			if clause = strings.TrimSpace(clause); clause != "" {
				*r = append(*r, clause)
			}
		}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*r = append(*r, list...)
		return nil
	default:
		return fmt.Errorf("require-dbt-version must be a string or list of strings")
	}
}

// Load parses the dbt_project.yml at the given path.
func Load(projectFile string) (*Project, error) {
	data, err := os.ReadFile(projectFile)
	if err != nil {
		return nil, err
	}
	project := &Project{File: projectFile, Dir: filepath.Dir(projectFile)}
	if err := yaml.Unmarshal(data, project); err != nil {
		return nil, &MalformedError{Path: projectFile, Cause: err}
	}
	return project, nil
}

// Requirement is one version range constraint together with the project
// file that declared it.
type Requirement struct {
	Constraint *spec.Constraint
	Source     string
}

func (r Requirement) String() string {
	return fmt.Sprintf("%s (from %s)", r.Constraint, r.Source)
}

// Requirements returns the project's own require-dbt-version constraints.
// Malformed clauses are reported as an error alongside any clauses that
// did parse.
func (p *Project) Requirements() ([]Requirement, error) {
	var requirements []Requirement
	var parseErr error
	for _, clause := range p.RequireDbtVersion {
		constraint, err := spec.ParseConstraint(clause)
		if err != nil {
			parseErr = &MalformedError{Path: p.File, Cause: err}
			continue
		}
		requirements = append(requirements, Requirement{Constraint: constraint, Source: filepath.Base(p.File)})
	}
	return requirements, parseErr
}

// PackageRequirements returns require-dbt-version constraints declared by
// packages installed under the project's package directories. Unreadable
// or malformed package manifests are skipped; the first such error is
// returned alongside the requirements that did parse.
func (p *Project) PackageRequirements() ([]Requirement, error) {
	var requirements []Requirement
	var firstErr error

	for _, dir := range packageDirs {
		matches, err := filepath.Glob(filepath.Join(p.Dir, dir, "*", "dbt_project.yml"))
		if err != nil {
			continue
		}
		sort.Strings(matches)
		for _, packageFile := range matches {
			pkg, err := Load(packageFile)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			rel, relErr := filepath.Rel(p.Dir, packageFile)
			if relErr != nil {
				rel = packageFile
			}
			for _, clause := range pkg.RequireDbtVersion {
				constraint, err := spec.ParseConstraint(clause)
				if err != nil {
					if firstErr == nil {
						firstErr = &MalformedError{Path: packageFile, Cause: err}
					}
					continue
				}
				requirements = append(requirements, Requirement{Constraint: constraint, Source: rel})
			}
		}
	}
	return requirements, firstErr
}

// MalformedError reports a project or profiles file that could not be
// parsed.
type MalformedError struct {
	Path  string
	Cause error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed %s: %v", e.Path, e.Cause)
}

func (e *MalformedError) Unwrap() error { return e.Cause }
