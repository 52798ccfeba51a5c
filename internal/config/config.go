// Package config holds the dbtenv environment snapshot: the working
// directory, environment variables, and derived paths that version
// resolution reads. The snapshot is built explicitly (no ambient process
// state) so resolution stays a pure function of its inputs.
package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// File and directory conventions.
const (
	LocalVersionFile = ".dbt_version"
	ProjectFile      = "dbt_project.yml"
	ProfilesFile     = "profiles.yml"
)

// Environment variables read by dbtenv.
const (
	VersionVar             = "DBT_VERSION"
	AutoInstallVar         = "DBTENV_AUTO_INSTALL"
	DebugVar               = "DBTENV_DEBUG"
	PythonVar              = "DBTENV_PYTHON"
	QuietVar               = "DBTENV_QUIET"
	SimulateReleaseDateVar = "DBTENV_SIMULATE_RELEASE_DATE"
	VenvsDirVar            = "DBTENV_VENVS_DIRECTORY"
	VenvsPrefixVar         = "DBTENV_VENVS_PREFIX"

	// VersionFilePriorityVar controls whether a .dbt_version file inside a
	// dbt project takes precedence over the project's require-dbt-version
	// range: "file" (the default) or "project".
	VersionFilePriorityVar = "DBTENV_VERSION_FILE_PRIORITY"
)

// Environment is a snapshot of everything dbtenv reads from the ambient
// process environment, captured once at startup.
type Environment struct {
	// WorkingDir is the directory resolution starts from.
	WorkingDir string
	// HomeDir is the user's home directory.
	HomeDir string
	// Vars is the environment variable snapshot.
	Vars map[string]string

	// VenvsDir is the root directory holding version-specific virtual
	// environments.
	VenvsDir string
	// VenvsPrefix is prepended to environment directory names, to allow
	// multiple dbtenv installations to share a venvs root.
	VenvsPrefix string
	// GlobalVersionFile is the path of the global version marker file.
	GlobalVersionFile string

	// ProjectFile is the dbt_project.yml found by walking up from
	// WorkingDir, or "" when not inside a dbt project.
	ProjectFile string
	// ProjectDir is the directory containing ProjectFile.
	ProjectDir string
}

// New builds an environment snapshot for the given working directory and
// environment variables.
func New(workingDir string, vars map[string]string, homeDir string) *Environment {
	env := &Environment{
		WorkingDir: workingDir,
		HomeDir:    homeDir,
		Vars:       vars,
	}

	dbtDir := filepath.Join(homeDir, ".dbt")
	env.VenvsDir = filepath.Join(dbtDir, "versions")
	if dir := vars[VenvsDirVar]; dir != "" {
		env.VenvsDir = expandHome(dir, homeDir)
	}
	env.VenvsPrefix = vars[VenvsPrefixVar]
	env.GlobalVersionFile = filepath.Join(dbtDir, "version")

	if projectFile, ok := FindFileUpward(workingDir, ProjectFile); ok {
		env.ProjectFile = projectFile
		env.ProjectDir = filepath.Dir(projectFile)
	}

	return env
}

// FromProcess builds an environment snapshot from the current process state.
func FromProcess() (*Environment, error) {
	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	vars := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}

	return New(workingDir, vars, homeDir), nil
}

// InProject reports whether the working directory is inside a dbt project.
func (e *Environment) InProject() bool { return e.ProjectFile != "" }

// Debug reports whether debug output was requested via DBTENV_DEBUG.
func (e *Environment) Debug() bool { return IsTrue(e.Vars[DebugVar]) }

// Quiet reports whether quiet output was requested via DBTENV_QUIET.
func (e *Environment) Quiet() bool { return IsTrue(e.Vars[QuietVar]) }

// AutoInstall reports whether missing versions should be installed
// automatically before execution.
func (e *Environment) AutoInstall() bool { return IsTrue(e.Vars[AutoInstallVar]) }

// SimulateReleaseDate reports whether installs should only consider
// packages released on or before the dbt version's own release date.
func (e *Environment) SimulateReleaseDate() bool {
	return IsTrue(e.Vars[SimulateReleaseDateVar])
}

// Python returns the Python interpreter to create virtual environments
// with: DBTENV_PYTHON if set, otherwise the first python3/python on PATH.
func (e *Environment) Python() (string, error) {
	if python := e.Vars[PythonVar]; python != "" {
		return python, nil
	}
	for _, name := range []string{"python3", "python"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no python executable found on PATH; set %s", PythonVar)
}

// IsTrue interprets common truthy spellings used in dbtenv environment
// variables.
func IsTrue(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "active", "enable", "enabled", "on", "t", "true", "y", "yes":
		return true
	}
	return false
}

// FindFileUpward walks from the start directory toward the filesystem root
// and returns the first path where the named file exists.
func FindFileUpward(start, name string) (string, bool) {
	return SearchUpward(start, name, func(path string) bool {
		info, err := os.Stat(path)
		return err == nil && !info.IsDir()
	})
}

// SearchUpward is FindFileUpward with an injectable existence probe, so the
// ancestor walk can be tested against synthetic directory trees.
func SearchUpward(start, name string, exists func(path string) bool) (string, bool) {
	dir := filepath.Clean(start)
	for {
		candidate := filepath.Join(dir, name)
		if exists(candidate) {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

func expandHome(path, homeDir string) string {
	if path == "~" {
		return homeDir
	}
	if strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
