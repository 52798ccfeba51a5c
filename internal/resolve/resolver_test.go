package resolve

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/brooklyn-data/dbtenv/internal/config"
	"github.com/brooklyn-data/dbtenv/internal/spec"
)

// fakeRegistry and fakeIndex answer version queries from fixed maps of
// adapter -> versions.
type fakeRegistry struct {
	versions map[string][]string
	err      error
}

func (f *fakeRegistry) Versions(adapter string) ([]*spec.Version, error) {
	if f.err != nil {
		return nil, f.err
	}
	return parseAll(f.versions[adapter]), nil
}

type fakeIndex struct {
	versions map[string][]string
	err      error
}

func (f *fakeIndex) PackageVersions(ctx context.Context, adapter string) ([]*spec.Version, error) {
	if f.err != nil {
		return nil, f.err
	}
	return parseAll(f.versions[adapter]), nil
}

func parseAll(raw []string) []*spec.Version {
	versions := make([]*spec.Version, 0, len(raw))
	for _, r := range raw {
		versions = append(versions, spec.MustParseVersion(r))
	}
	return versions
}

// fixture assembles a working directory, home directory, and resolver
// around the fake registry and index.
type fixture struct {
	workDir   string
	home      string
	vars      map[string]string
	installed map[string][]string
	available map[string][]string
	priority  MarkerFilePriority
}

func (f *fixture) resolver(t *testing.T) *Resolver {
	t.Helper()
	if f.workDir == "" {
		f.workDir = t.TempDir()
	}
	if f.home == "" {
		f.home = t.TempDir()
	}
	if f.vars == nil {
		f.vars = map[string]string{}
	}
	return &Resolver{
		Env:            config.New(f.workDir, f.vars, f.home),
		Registry:       &fakeRegistry{versions: f.installed},
		Index:          &fakeIndex{versions: f.available},
		MarkerPriority: f.priority,
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// makeProject lays down a dbt project in its own directory along with a
// profiles.yml in the home directory mapping its profile to the postgres
// adapter. Returns the project directory.
func makeProject(t *testing.T, home, requireVersion string) string {
	t.Helper()
	dir := t.TempDir()
	content := "name: analytics\nprofile: warehouse\n"
	if requireVersion != "" {
		content += "require-dbt-version: \"" + requireVersion + "\"\n"
	}
	writeFile(t, filepath.Join(dir, "dbt_project.yml"), content)
	writeFile(t, filepath.Join(home, ".dbt", "profiles.yml"),
		"warehouse:\n  target: dev\n  outputs:\n    dev:\n      type: postgres\n")
	return dir
}

func TestResolveCLIFlag(t *testing.T) {
	f := &fixture{}
	res, err := f.resolver(t).Resolve(context.Background(), Request{CLISpec: "dbt-postgres==1.0.0"})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "postgres", res.Adapter)
	assert.Equal(t, "1.0.0", res.Version.String())
	assert.Equal(t, SourceCLIFlag, res.Source)
}

func TestResolveCLIFlagBeatsEnvVar(t *testing.T) {
	f := &fixture{vars: map[string]string{config.VersionVar: "dbt-postgres==0.21.0"}}
	res, err := f.resolver(t).Resolve(context.Background(), Request{CLISpec: "dbt-postgres==1.0.0"})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "1.0.0", res.Version.String())
	assert.Equal(t, SourceCLIFlag, res.Source)
}

func TestResolveEnvVar(t *testing.T) {
	f := &fixture{vars: map[string]string{config.VersionVar: "dbt-postgres==0.21.0"}}
	res, err := f.resolver(t).Resolve(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "0.21.0", res.Version.String())
	assert.Equal(t, SourceEnvVar, res.Source)
}

func TestResolveMarkerFileFromNestedDirectory(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, filepath.Join(repo, ".dbt_version"), "dbt-postgres==0.21.0\n")
	nested := filepath.Join(repo, "models", "staging")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	f := &fixture{workDir: nested}
	res, err := f.resolver(t).Resolve(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "0.21.0", res.Version.String())
	assert.Equal(t, SourceLocalFile, res.Source)
	assert.Contains(t, res.Detail, filepath.Join(repo, ".dbt_version"))
}

func TestResolveManifestRequirement(t *testing.T) {
	home := t.TempDir()
	dir := makeProject(t, home, ">=0.20.0,<1.0.0")

	f := &fixture{
		workDir:   dir,
		home:      home,
		installed: map[string][]string{"postgres": {"0.19.2", "0.21.1", "1.0.0"}},
	}
	res, err := f.resolver(t).Resolve(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "postgres", res.Adapter, "adapter should come from the profile's target type")
	assert.Equal(t, "0.21.1", res.Version.String())
	assert.Equal(t, SourceManifestRequirement, res.Source)
	assert.Contains(t, res.Detail, "dbt_project.yml")
}

func TestResolveManifestFallsBackToInstallable(t *testing.T) {
	home := t.TempDir()
	dir := makeProject(t, home, ">=1.1.0")

	f := &fixture{
		workDir:   dir,
		home:      home,
		installed: map[string][]string{"postgres": {"1.0.0"}},
		available: map[string][]string{"postgres": {"1.0.0", "1.1.0", "1.1.1"}},
	}
	res, err := f.resolver(t).Resolve(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "1.1.1", res.Version.String())
	assert.Equal(t, SourceManifestRequirement, res.Source)
}

func TestResolveIncompatibleExactFallsThrough(t *testing.T) {
	home := t.TempDir()
	dir := makeProject(t, home, "<1.0.0")

	f := &fixture{
		workDir:   dir,
		home:      home,
		installed: map[string][]string{"postgres": {"0.21.1", "1.0.0"}},
	}
	// The pinned 1.0.0 violates the project's <1.0.0 requirement, so
	// resolution proceeds as if the pin had never been given.
	res, err := f.resolver(t).Resolve(context.Background(), Request{CLISpec: "dbt-postgres==1.0.0"})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "0.21.1", res.Version.String())
	assert.Equal(t, SourceManifestRequirement, res.Source)
}

func TestResolveCompatibleExactIsKept(t *testing.T) {
	home := t.TempDir()
	dir := makeProject(t, home, ">=0.20.0")

	f := &fixture{
		workDir:   dir,
		home:      home,
		installed: map[string][]string{"postgres": {"0.21.1", "1.0.0"}},
	}
	res, err := f.resolver(t).Resolve(context.Background(), Request{CLISpec: "dbt-postgres==0.21.1"})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "0.21.1", res.Version.String())
	assert.Equal(t, SourceCLIFlag, res.Source)
}

func TestResolveMarkerFilePriority(t *testing.T) {
	newFixture := func(t *testing.T, priority MarkerFilePriority) *fixture {
		home := t.TempDir()
		dir := makeProject(t, home, ">=0.19.0")
		writeFile(t, filepath.Join(dir, ".dbt_version"), "dbt-postgres==0.21.0\n")
		return &fixture{
			workDir:   dir,
			home:      home,
			installed: map[string][]string{"postgres": {"0.21.0", "1.0.0"}},
			priority:  priority,
		}
	}

	t.Run("file first", func(t *testing.T) {
		res, err := newFixture(t, MarkerBeforeManifest).resolver(t).Resolve(context.Background(), Request{})
		if err != nil {
			t.Fatal(err)
		}
		assert.Equal(t, "0.21.0", res.Version.String())
		assert.Equal(t, SourceLocalFile, res.Source)
	})

	t.Run("project first", func(t *testing.T) {
		res, err := newFixture(t, MarkerAfterManifest).resolver(t).Resolve(context.Background(), Request{})
		if err != nil {
			t.Fatal(err)
		}
		assert.Equal(t, "1.0.0", res.Version.String())
		assert.Equal(t, SourceManifestRequirement, res.Source)
	})
}

func TestResolveParentFileAlwaysAfterManifest(t *testing.T) {
	home := t.TempDir()
	root := t.TempDir()
	// The version file sits above the project root.
	writeFile(t, filepath.Join(root, ".dbt_version"), "dbt-postgres==0.21.0\n")
	dir := filepath.Join(root, "analytics")
	writeFile(t, filepath.Join(dir, "dbt_project.yml"),
		"name: analytics\nprofile: warehouse\nrequire-dbt-version: \">=0.19.0\"\n")
	writeFile(t, filepath.Join(home, ".dbt", "profiles.yml"),
		"warehouse:\n  target: dev\n  outputs:\n    dev:\n      type: postgres\n")

	f := &fixture{
		workDir:   dir,
		home:      home,
		installed: map[string][]string{"postgres": {"0.21.0", "1.0.0"}},
		priority:  MarkerBeforeManifest,
	}
	res, err := f.resolver(t).Resolve(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	// Even with version files positioned first, a file outside the project
	// only applies when the project's own requirements yield nothing.
	assert.Equal(t, "1.0.0", res.Version.String())
	assert.Equal(t, SourceManifestRequirement, res.Source)
}

func TestResolveConflictingPackageRequirementsRetries(t *testing.T) {
	home := t.TempDir()
	dir := makeProject(t, home, ">=0.20.0,<2.0.0")
	writeFile(t, filepath.Join(dir, "dbt_packages", "stale_pkg", "dbt_project.yml"),
		"name: stale_pkg\nrequire-dbt-version: \"<0.20.0\"\n")

	f := &fixture{
		workDir:   dir,
		home:      home,
		installed: map[string][]string{"postgres": {"0.21.0"}},
	}
	// No version satisfies both the project's range and the stale package's
	// range; the package requirement is dropped on retry.
	res, err := f.resolver(t).Resolve(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "0.21.0", res.Version.String())
	assert.Equal(t, SourceManifestRequirement, res.Source)
}

func TestResolveConflictFlaggedWhenRetryFails(t *testing.T) {
	home := t.TempDir()
	dir := makeProject(t, home, ">=5.0.0")

	f := &fixture{
		workDir:   dir,
		home:      home,
		installed: map[string][]string{"postgres": {"1.0.0"}},
		available: map[string][]string{"postgres": {"1.0.0"}},
	}
	_, err := f.resolver(t).Resolve(context.Background(), Request{})
	var failed *ResolutionFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("error = %T (%v), want ResolutionFailedError", err, err)
	}
	assert.True(t, failed.ConflictingRequirements)
	assert.NotEmpty(t, failed.Outcomes)
}

func TestResolveGlobalFile(t *testing.T) {
	home := t.TempDir()
	dir := makeProject(t, home, "")
	writeFile(t, filepath.Join(home, ".dbt", "version"), "dbt-postgres==0.21.0\n")

	f := &fixture{
		workDir:   dir,
		home:      home,
		installed: map[string][]string{"postgres": {"0.21.0", "1.0.0"}},
	}
	res, err := f.resolver(t).Resolve(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "0.21.0", res.Version.String())
	assert.Equal(t, SourceGlobalFile, res.Source)
}

func TestResolveInstalledMax(t *testing.T) {
	home := t.TempDir()
	dir := makeProject(t, home, "")

	f := &fixture{
		workDir:   dir,
		home:      home,
		installed: map[string][]string{"postgres": {"0.21.0", "1.0.0", "1.1.0rc1"}},
	}
	res, err := f.resolver(t).Resolve(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	// Stable 1.0.0 beats the newer pre-release.
	assert.Equal(t, "1.0.0", res.Version.String())
	assert.Equal(t, SourceInstalledMax, res.Source)
}

func TestResolveInstallableMax(t *testing.T) {
	home := t.TempDir()
	dir := makeProject(t, home, "")

	f := &fixture{
		workDir:   dir,
		home:      home,
		available: map[string][]string{"postgres": {"0.21.0", "1.0.0"}},
	}
	res, err := f.resolver(t).Resolve(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "1.0.0", res.Version.String())
	assert.Equal(t, SourceInstallableMax, res.Source)
}

func TestResolveRangeSourceConstrains(t *testing.T) {
	// A range in DBT_VERSION doesn't pin a version itself but filters the
	// installed-max fallback.
	f := &fixture{
		vars:      map[string]string{config.VersionVar: "dbt-postgres>=0.20,<1.0"},
		installed: map[string][]string{"postgres": {"0.19.2", "0.21.1", "1.0.0"}},
	}
	res, err := f.resolver(t).Resolve(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "0.21.1", res.Version.String())
	assert.Equal(t, SourceInstalledMax, res.Source)
}

func TestResolveFailureEnumeratesSources(t *testing.T) {
	f := &fixture{
		vars:      map[string]string{config.VersionVar: "dbt-postgres>=9.0"},
		installed: map[string][]string{"postgres": {"1.0.0"}},
		available: map[string][]string{"postgres": {"1.0.0", "1.1.0"}},
	}
	_, err := f.resolver(t).Resolve(context.Background(), Request{})
	var failed *ResolutionFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("error = %T (%v), want ResolutionFailedError", err, err)
	}
	sources := map[Source]bool{}
	for _, outcome := range failed.Outcomes {
		sources[outcome.Source] = true
	}
	for _, want := range []Source{SourceCLIFlag, SourceLocalFile, SourceGlobalFile, SourceInstalledMax, SourceInstallableMax} {
		assert.True(t, sources[want], "no outcome recorded for source %s", want)
	}
}

func TestResolveAdapterUndetermined(t *testing.T) {
	f := &fixture{}
	_, err := f.resolver(t).Resolve(context.Background(), Request{CLISpec: "1.0.0"})
	var undetermined *AdapterUndeterminedError
	if !errors.As(err, &undetermined) {
		t.Fatalf("error = %T (%v), want AdapterUndeterminedError", err, err)
	}
}

func TestResolveAdapterFromTargetOverride(t *testing.T) {
	home := t.TempDir()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "dbt_project.yml"), "name: analytics\nprofile: warehouse\n")
	writeFile(t, filepath.Join(home, ".dbt", "profiles.yml"),
		"warehouse:\n  target: dev\n  outputs:\n    dev:\n      type: postgres\n    prod:\n      type: snowflake\n")

	f := &fixture{
		workDir:   dir,
		home:      home,
		installed: map[string][]string{"snowflake": {"1.0.0"}},
	}
	res, err := f.resolver(t).Resolve(context.Background(), Request{TargetName: "prod"})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "snowflake", res.Adapter)
	assert.Equal(t, "1.0.0", res.Version.String())
}

func TestResolveMalformedProjectIgnored(t *testing.T) {
	home := t.TempDir()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "dbt_project.yml"), "name: [oops\n")

	f := &fixture{
		workDir:   dir,
		home:      home,
		installed: map[string][]string{"postgres": {"1.0.0"}},
	}
	// The malformed manifest can't name an adapter, so the specifier has to.
	res, err := f.resolver(t).Resolve(context.Background(), Request{CLISpec: "dbt-postgres==1.0.0"})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "1.0.0", res.Version.String())
}

func TestResolutionDescription(t *testing.T) {
	res := &Resolution{
		Adapter: "postgres",
		Version: spec.MustParseVersion("1.0.0"),
		Source:  SourceLocalFile,
		Detail:  "version file /repo/.dbt_version",
	}
	assert.Equal(t, "1.0.0 (set by version file /repo/.dbt_version)", res.Description())
	assert.Equal(t, "dbt-postgres==1.0.0", res.PipSpecifier())
}
