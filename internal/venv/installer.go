package venv

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/brooklyn-data/dbtenv/internal/log"
	"github.com/brooklyn-data/dbtenv/internal/pypi"
	"github.com/brooklyn-data/dbtenv/internal/spec"
)

// Runner executes an external command, streaming its output. Injectable so
// installer behavior can be tested without a Python toolchain.
type Runner func(ctx context.Context, name string, args ...string) error

// OutputRunner executes an external command and returns its combined
// output.
type OutputRunner func(ctx context.Context, name string, args ...string) (string, error)

// Installer creates and removes dbt virtual environments.
type Installer struct {
	Registry *Registry
	Index    *pypi.Index

	// Python is the interpreter used to create virtual environments.
	Python string
	// SimulateReleaseDate restricts pip to packages released on or before
	// the dbt version's own release date.
	SimulateReleaseDate bool

	// Run and RunOutput default to os/exec-backed implementations.
	Run       Runner
	RunOutput OutputRunner
}

// InstallOptions adjust a single install.
type InstallOptions struct {
	// Force reinstalls over an existing environment.
	Force bool
	// PackageLocation installs from a pip-compatible local path or VCS URL
	// instead of PyPI.
	PackageLocation string
	// Editable performs an editable install of PackageLocation.
	Editable bool
}

// Install creates the virtual environment for (adapter, version) and
// installs the pinned adapter package into it. On any failure the partial
// environment is removed before the error is returned, so the registry
// never contains half-written installations.
func (i *Installer) Install(ctx context.Context, adapter string, version *spec.Version, opts InstallOptions) error {
	venvDir := i.Registry.PathFor(adapter, version)
	if i.Registry.Exists(adapter, version) {
		if !opts.Force {
			return fmt.Errorf("%s already exists (use --force to reinstall)", venvDir)
		}
		log.Info("existing installation will be overwritten", "path", venvDir)
	}

	if opts.PackageLocation == "" {
		available, err := i.Index.PackageVersions(ctx, adapter)
		if err != nil {
			return fmt.Errorf("listing available %s versions: %w", spec.PackageName(adapter), err)
		}
		if !containsVersion(available, version) {
			return &VersionNotFoundError{Adapter: adapter, Version: version, Available: available}
		}
	}

	if err := i.checkPythonCompatibility(ctx, version); err != nil {
		return err
	}

	log.Info("creating virtual environment", "path", venvDir, "python", i.Python)
	if err := i.run(ctx, i.Python, "-m", "venv", "--clear", venvDir); err != nil {
		i.cleanup(venvDir)
		return &InstallationFailedError{Adapter: adapter, Version: version, Cause: fmt.Errorf("creating virtual environment: %w", err)}
	}

	if err := i.pipInstall(ctx, adapter, version, venvDir, opts); err != nil {
		i.cleanup(venvDir)
		return &InstallationFailedError{Adapter: adapter, Version: version, Cause: err}
	}

	log.Info("successfully installed", "specifier", version.PipSpecifier(adapter), "path", venvDir)
	return nil
}

func (i *Installer) pipInstall(ctx context.Context, adapter string, version *spec.Version, venvDir string, opts InstallOptions) error {
	pip, err := pipIn(venvDir)
	if err != nil {
		return err
	}

	// Upgrade pip so packages requiring newer pip features install, and
	// add wheel so pip doesn't fall back to legacy setup.py installs.
	if err := i.run(ctx, pip, "install", "--upgrade", "pip"); err != nil {
		return fmt.Errorf("upgrading pip: %w", err)
	}
	if err := i.run(ctx, pip, "install", "--disable-pip-version-check", "wheel"); err != nil {
		return fmt.Errorf("installing wheel: %w", err)
	}

	args := []string{"install", "--disable-pip-version-check"}

	source := "the Python Package Index"
	if opts.PackageLocation != "" {
		source = opts.PackageLocation
		if opts.Editable {
			args = append(args, "--editable")
		}
		args = append(args, opts.PackageLocation)
	} else {
		if i.SimulateReleaseDate {
			releaseDate, err := i.Index.ReleaseDate(ctx, adapter, version)
			if err != nil {
				return fmt.Errorf("looking up release date: %w", err)
			}
			log.Info("simulating release date", "specifier", version.PipSpecifier(adapter), "date", releaseDate)
			proxy, err := pypi.StartReleaseDateProxy(i.Index, releaseDate)
			if err != nil {
				return err
			}
			defer proxy.Close()
			args = append(args, "--index-url", proxy.IndexURL())
		}
		args = append(args, historicalPins(version)...)
		args = append(args, version.PipSpecifier(adapter))
	}

	log.Info("installing dbt", "specifier", version.PipSpecifier(adapter), "source", source)
	if err := i.run(ctx, pip, args...); err != nil {
		return fmt.Errorf("pip install failed: %w", err)
	}
	return nil
}

// historicalPins returns extra requirements that keep old dbt versions
// installable despite incompatible releases of their dependencies.
func historicalPins(version *spec.Version) []string {
	var pins []string
	sv := version.SemVer()
	if sv.LessThan(spec.MustParseVersion("0.19.1").SemVer()) {
		// agate 1.6.2 introduced a PyICU dependency that breaks installs.
		pins = append(pins, "agate>=1.6,<1.6.2")
	}
	if !sv.LessThan(spec.MustParseVersion("0.15.0").SemVer()) && sv.LessThan(spec.MustParseVersion("0.16.0").SemVer()) {
		// dbt ~=0.15 declared Jinja2>=2.10 but breaks with Jinja2 3.x.
		pins = append(pins, "Jinja2<3")
	}
	if !sv.LessThan(spec.MustParseVersion("0.15.0").SemVer()) && sv.LessThan(spec.MustParseVersion("1.0.0").SemVer()) {
		// MarkupSafe 2.1 removed soft_unicode, which old Jinja2 needs.
		pins = append(pins, "MarkupSafe==2.0.1")
	}
	return pins
}

var pythonVersionPattern = regexp.MustCompile(`(\d+)\.(\d+)\.\d+`)

// checkPythonCompatibility refuses Python/dbt combinations that are known
// not to install before any environment is created.
func (i *Installer) checkPythonCompatibility(ctx context.Context, version *spec.Version) error {
	output, err := i.runOutput(ctx, i.Python, "--version")
	if err != nil {
		return fmt.Errorf("running %s: %w", i.Python, err)
	}
	m := pythonVersionPattern.FindStringSubmatch(output)
	if m == nil {
		return fmt.Errorf("no Python version number found in %q", strings.TrimSpace(output))
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])

	sv := version.SemVer()
	switch {
	case sv.LessThan(spec.MustParseVersion("0.20.0").SemVer()) && (major > 3 || (major == 3 && minor >= 9)):
		return fmt.Errorf("Python %s is being used, but dbt versions before 0.20 aren't compatible with Python 3.9 or above", m[0])
	case sv.LessThan(spec.MustParseVersion("0.15.0").SemVer()) && (major > 3 || (major == 3 && minor >= 8)):
		return fmt.Errorf("Python %s is being used, but dbt versions before 0.15 aren't compatible with Python 3.8 or above", m[0])
	}
	log.Debug("python version is compatible", "python", m[0], "dbt", version)
	return nil
}

// Uninstall removes the environment for (adapter, version). Removing an
// environment that doesn't exist is a success, so re-running uninstall
// never fails.
func (i *Installer) Uninstall(adapter string, version *spec.Version) error {
	venvDir := i.Registry.PathFor(adapter, version)
	if _, err := os.Stat(venvDir); os.IsNotExist(err) {
		log.Info("already uninstalled", "specifier", version.PipSpecifier(adapter))
		return nil
	}
	if err := os.RemoveAll(venvDir); err != nil {
		return fmt.Errorf("removing %s: %w", venvDir, err)
	}
	log.Info("successfully uninstalled", "specifier", version.PipSpecifier(adapter), "path", venvDir)
	return nil
}

func (i *Installer) cleanup(venvDir string) {
	if err := os.RemoveAll(venvDir); err != nil {
		log.Warn("failed to remove partial environment", "path", venvDir, "error", err)
	}
}

func (i *Installer) run(ctx context.Context, name string, args ...string) error {
	if i.Run != nil {
		return i.Run(ctx, name, args...)
	}
	log.Debug("running command", "name", name, "args", args)
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func (i *Installer) runOutput(ctx context.Context, name string, args ...string) (string, error) {
	if i.RunOutput != nil {
		return i.RunOutput(ctx, name, args...)
	}
	log.Debug("running command", "name", name, "args", args)
	output, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(output), err
}

func containsVersion(versions []*spec.Version, version *spec.Version) bool {
	for _, v := range versions {
		if v.Equal(version) {
			return true
		}
	}
	return false
}
