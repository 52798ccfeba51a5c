package cli

import (
	"github.com/brooklyn-data/dbtenv/internal/config"
	"github.com/brooklyn-data/dbtenv/internal/log"
	"github.com/brooklyn-data/dbtenv/internal/pypi"
	"github.com/brooklyn-data/dbtenv/internal/resolve"
	"github.com/brooklyn-data/dbtenv/internal/venv"
)

func newRegistry() *venv.Registry {
	return &venv.Registry{Root: env.VenvsDir, Prefix: env.VenvsPrefix}
}

// newIndex returns a PyPI index backed by the local metadata cache. The
// returned cleanup closes the cache; a cache that can't be opened just
// means uncached lookups.
func newIndex() (*pypi.Index, func()) {
	cache, err := pypi.OpenCache(pypi.DefaultCachePath(env.HomeDir), pypi.DefaultCacheTTL)
	if err != nil {
		log.Debug("package metadata cache unavailable", "error", err)
		return &pypi.Index{}, func() {}
	}
	return &pypi.Index{Cache: cache}, func() { _ = cache.Close() }
}

func newResolver(index *pypi.Index) *resolve.Resolver {
	priority := resolve.MarkerBeforeManifest
	if env.Vars[config.VersionFilePriorityVar] == "project" {
		priority = resolve.MarkerAfterManifest
	}
	return &resolve.Resolver{
		Env:            env,
		Registry:       newRegistry(),
		Index:          index,
		MarkerPriority: priority,
	}
}

// newInstaller builds an installer, honoring the --python and
// --simulate-release-date flags over their environment variables.
func newInstaller(index *pypi.Index, pythonFlag string, simulateFlag bool) (*venv.Installer, error) {
	python := pythonFlag
	if python == "" {
		var err error
		python, err = env.Python()
		if err != nil {
			return nil, err
		}
	}
	return &venv.Installer{
		Registry:            newRegistry(),
		Index:               index,
		Python:              python,
		SimulateReleaseDate: simulateFlag || env.SimulateReleaseDate(),
	}, nil
}
