// Package pypi lists dbt adapter package versions available on the Python
// Package Index and looks up release dates. Results are cached locally so
// repeated resolutions don't refetch package metadata.
package pypi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brooklyn-data/dbtenv/internal/log"
	"github.com/brooklyn-data/dbtenv/internal/spec"
)

const (
	defaultBaseURL = "https://pypi.org"
	httpTimeout    = 30 * time.Second

	// fetchConcurrency bounds the parallel metadata requests when listing
	// versions across all adapters.
	fetchConcurrency = 8
)

// KnownAdapters are the dbt adapter packages published on PyPI, used when a
// listing isn't scoped to a single adapter.
var KnownAdapters = []string{
	"bigquery",
	"clickhouse",
	"databricks",
	"dremio",
	"exasol",
	"firebolt",
	"materialize",
	"oracle",
	"postgres",
	"presto",
	"redshift",
	"rockset",
	"singlestore",
	"snowflake",
	"spark",
	"sqlserver",
	"synapse",
	"teradata",
	"trino",
	"vertica",
}

// Release is one published version of an adapter package.
type Release struct {
	Adapter    string
	Version    *spec.Version
	UploadDate string // YYYY-MM-DD of the earliest file upload
}

// Index lists installable adapter versions from PyPI.
type Index struct {
	// HTTPClient is the HTTP client to use. If nil, a default client with
	// a request timeout is used.
	HTTPClient *http.Client
	// BaseURL overrides the PyPI endpoint. Used for testing.
	BaseURL string
	// Cache, when set, stores fetched release metadata.
	Cache *Cache
}

// packageMetadata is the subset of PyPI's JSON API response dbtenv reads.
type packageMetadata struct {
	Releases map[string][]releaseFile `json:"releases"`
}

type releaseFile struct {
	Filename   string `json:"filename"`
	UploadTime string `json:"upload_time"`
	Yanked     bool   `json:"yanked"`
}

// PackageVersions returns the versions of the given adapter's package that
// are installable (at least one non-yanked file), sorted ascending.
func (x *Index) PackageVersions(ctx context.Context, adapter string) ([]*spec.Version, error) {
	releases, err := x.packageReleases(ctx, adapter)
	if err != nil {
		return nil, err
	}
	versions := make([]*spec.Version, 0, len(releases))
	for _, release := range releases {
		versions = append(versions, release.Version)
	}
	spec.Sort(versions)
	return versions, nil
}

// AllVersions returns the distinct versions published for any known
// adapter, sorted ascending. Adapters whose metadata can't be fetched are
// skipped; an error is returned only when every fetch fails.
func (x *Index) AllVersions(ctx context.Context) ([]*spec.Version, error) {
	var mu sync.Mutex
	seen := make(map[string]*spec.Version)
	var fetchErr error
	var fetched int

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for _, adapter := range KnownAdapters {
		adapter := adapter
		g.Go(func() error {
			versions, err := x.PackageVersions(ctx, adapter)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Debug("skipping adapter in version listing", "adapter", adapter, "error", err)
				if fetchErr == nil {
					fetchErr = err
				}
				return nil
			}
			fetched++
			for _, v := range versions {
				seen[v.Canonical()] = v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if fetched == 0 && fetchErr != nil {
		return nil, fetchErr
	}

	versions := make([]*spec.Version, 0, len(seen))
	for _, v := range seen {
		versions = append(versions, v)
	}
	spec.Sort(versions)
	return versions, nil
}

// ReleaseDate returns the date (YYYY-MM-DD) the given adapter version was
// first uploaded.
func (x *Index) ReleaseDate(ctx context.Context, adapter string, version *spec.Version) (string, error) {
	releases, err := x.packageReleases(ctx, adapter)
	if err != nil {
		return "", err
	}
	for _, release := range releases {
		if release.Version.Equal(version) {
			return release.UploadDate, nil
		}
	}
	return "", fmt.Errorf("no release of %s found for version %s", spec.PackageName(adapter), version)
}

func (x *Index) packageReleases(ctx context.Context, adapter string) ([]Release, error) {
	pkg := spec.PackageName(adapter)

	if x.Cache != nil {
		if releases, ok := x.Cache.Get(pkg); ok {
			return releases, nil
		}
	}

	meta, err := x.fetchMetadata(ctx, pkg)
	if err != nil {
		return nil, err
	}

	var releases []Release
	for raw, files := range meta.Releases {
		version, err := spec.ParseVersion(raw)
		if err != nil {
			// PyPI listings occasionally contain versions outside the
			// grammar dbtenv understands. Skip them.
			continue
		}
		uploadDate := ""
		installable := false
		for _, file := range files {
			if !file.Yanked {
				installable = true
			}
			if len(file.UploadTime) >= 10 {
				date := file.UploadTime[:10]
				if uploadDate == "" || date < uploadDate {
					uploadDate = date
				}
			}
		}
		if !installable {
			continue
		}
		releases = append(releases, Release{Adapter: adapter, Version: version, UploadDate: uploadDate})
	}
	sort.Slice(releases, func(i, j int) bool {
		return releases[i].Version.Compare(releases[j].Version) < 0
	})

	if x.Cache != nil {
		if err := x.Cache.Put(pkg, releases); err != nil {
			log.Warn("failed to cache package metadata", "package", pkg, "error", err)
		}
	}
	return releases, nil
}

func (x *Index) fetchMetadata(ctx context.Context, pkg string) (*packageMetadata, error) {
	base := x.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	url := fmt.Sprintf("%s/pypi/%s/json", base, pkg)
	log.Debug("fetching package metadata", "url", url)

	ctx, cancel := context.WithTimeout(ctx, httpTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	client := x.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: httpTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s metadata: %w", pkg, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s metadata: unexpected status %s", pkg, resp.Status)
	}

	var meta packageMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decoding %s metadata: %w", pkg, err)
	}
	return &meta, nil
}
