package venv

import (
	"fmt"
	"strings"

	"github.com/brooklyn-data/dbtenv/internal/spec"
)

// NotInstalledError reports that an (adapter, version) pair has no
// environment on disk.
type NotInstalledError struct {
	Adapter string
	Version *spec.Version
}

func (e *NotInstalledError) Error() string {
	return fmt.Sprintf("no %s installation found", e.Version.PipSpecifier(e.Adapter))
}

// VersionNotFoundError reports that a requested version doesn't exist on
// PyPI for the adapter.
type VersionNotFoundError struct {
	Adapter   string
	Version   *spec.Version
	Available []*spec.Version
}

func (e *VersionNotFoundError) Error() string {
	available := make([]string, 0, len(e.Available))
	for _, v := range e.Available {
		available = append(available, v.String())
	}
	return fmt.Sprintf(
		"version %s is not available for %s; available versions: %s",
		e.Version, spec.PackageName(e.Adapter), strings.Join(available, ", "),
	)
}

// InstallationFailedError reports an install attempt whose environment
// creation or pip invocation failed. The partial environment has already
// been removed by the time this error is returned.
type InstallationFailedError struct {
	Adapter string
	Version *spec.Version
	Cause   error
}

func (e *InstallationFailedError) Error() string {
	return fmt.Sprintf("failed to install %s: %v", e.Version.PipSpecifier(e.Adapter), e.Cause)
}

func (e *InstallationFailedError) Unwrap() error { return e.Cause }
