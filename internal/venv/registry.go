// Package venv manages the isolated Python virtual environments dbt
// versions are installed into. Each environment lives under the venvs root
// in a directory named "<prefix>dbt-<adapter>==<version>"; that naming
// scheme doubles as the generation tag, so environments created by
// first-generation dbtenv (bare version-number directories, before
// adapters were versioned separately) are invisible here.
package venv

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"

	"github.com/brooklyn-data/dbtenv/internal/log"
	"github.com/brooklyn-data/dbtenv/internal/spec"
)

// entryPattern matches current-generation environment directory names
// (after the configured prefix is removed).
var entryPattern = regexp.MustCompile(`^dbt-([A-Za-z0-9_-]+)==(.+)$`)

// Environment is one installed (adapter, version) pair on disk.
type Environment struct {
	Adapter string
	Version *spec.Version
	Path    string
}

// PipSpecifier returns the environment's identity in pip specifier form.
func (e Environment) PipSpecifier() string {
	return e.Version.PipSpecifier(e.Adapter)
}

// Registry enumerates and locates installed environments under a venvs
// root directory.
type Registry struct {
	// Root is the venvs root directory.
	Root string
	// Prefix is prepended to environment directory names.
	Prefix string
}

// List returns installed environments, scoped to one adapter when adapter
// is non-empty, ordered by adapter then version ascending. Directories
// from other dbtenv generations or without a dbt executable are skipped.
func (r *Registry) List(adapter string) ([]Environment, error) {
	entries, err := os.ReadDir(r.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading venvs directory %s: %w", r.Root, err)
	}

	adapter = spec.NormalizeAdapter(adapter)
	var environments []Environment
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if r.Prefix != "" {
			if len(name) < len(r.Prefix) || name[:len(r.Prefix)] != r.Prefix {
				continue
			}
			name = name[len(r.Prefix):]
		}
		m := entryPattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		entryAdapter := spec.NormalizeAdapter(m[1])
		if adapter != "" && entryAdapter != adapter {
			continue
		}
		version, err := spec.ParseVersion(m[2])
		if err != nil {
			log.Debug("skipping venv with unparsable version", "name", entry.Name())
			continue
		}
		env := Environment{
			Adapter: entryAdapter,
			Version: version,
			Path:    filepath.Join(r.Root, entry.Name()),
		}
		if _, err := executableIn(env.Path); err != nil {
			log.Debug("skipping venv without dbt executable", "path", env.Path)
			continue
		}
		environments = append(environments, env)
	}

	sort.Slice(environments, func(i, j int) bool {
		if environments[i].Adapter != environments[j].Adapter {
			return environments[i].Adapter < environments[j].Adapter
		}
		return environments[i].Version.Compare(environments[j].Version) < 0
	})
	return environments, nil
}

// Versions returns the installed versions for an adapter, ascending.
func (r *Registry) Versions(adapter string) ([]*spec.Version, error) {
	environments, err := r.List(adapter)
	if err != nil {
		return nil, err
	}
	versions := make([]*spec.Version, 0, len(environments))
	for _, env := range environments {
		versions = append(versions, env.Version)
	}
	return versions, nil
}

// Latest returns the maximum installed version for an adapter, or nil when
// none is installed. With preferStable, a pre-release only wins when no
// stable version is installed.
func (r *Registry) Latest(adapter string, preferStable bool) (*spec.Version, error) {
	versions, err := r.Versions(adapter)
	if err != nil {
		return nil, err
	}
	return spec.Max(versions, preferStable), nil
}

// Exists reports whether the (adapter, version) environment is installed.
func (r *Registry) Exists(adapter string, version *spec.Version) bool {
	_, err := r.Executable(adapter, version)
	return err == nil
}

// PathFor returns the deterministic directory an (adapter, version)
// environment lives at, whether or not it is installed.
func (r *Registry) PathFor(adapter string, version *spec.Version) string {
	return filepath.Join(r.Root, r.Prefix+version.PipSpecifier(adapter))
}

// Executable returns the dbt executable path of an installed environment.
func (r *Registry) Executable(adapter string, version *spec.Version) (string, error) {
	path, err := executableIn(r.PathFor(adapter, version))
	if err != nil {
		return "", &NotInstalledError{Adapter: adapter, Version: version}
	}
	return path, nil
}

// executableIn returns the dbt executable inside a venv directory, or an
// error when it doesn't exist.
func executableIn(venvDir string) (string, error) {
	subpath := filepath.Join("bin", "dbt")
	if runtime.GOOS == "windows" {
		subpath = filepath.Join("Scripts", "dbt.exe")
	}
	path := filepath.Join(venvDir, subpath)
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", errors.New("dbt executable path is a directory")
	}
	return path, nil
}

// pipIn returns the pip executable inside a venv directory.
func pipIn(venvDir string) (string, error) {
	subpath := filepath.Join("bin", "pip")
	if runtime.GOOS == "windows" {
		subpath = filepath.Join("Scripts", "pip.exe")
	}
	path := filepath.Join(venvDir, subpath)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("no pip executable found in %s: %w", venvDir, err)
	}
	return path, nil
}
