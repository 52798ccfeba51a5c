// Package resolve decides which dbt version (and adapter) should run.
// Sources are consulted in a fixed priority order: the command line
// argument, the DBT_VERSION environment variable, version files found
// walking up from the working directory, the dbt project's version
// requirements, the global version file, and finally the maximum installed
// and installable versions. An exact version from a higher-priority source
// is kept only while it satisfies every discovered range requirement;
// otherwise resolution falls through as if it had never been found.
package resolve

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/brooklyn-data/dbtenv/internal/config"
	"github.com/brooklyn-data/dbtenv/internal/log"
	"github.com/brooklyn-data/dbtenv/internal/project"
	"github.com/brooklyn-data/dbtenv/internal/spec"
)

// Registry answers queries about installed versions.
type Registry interface {
	Versions(adapter string) ([]*spec.Version, error)
}

// Index answers queries about installable versions.
type Index interface {
	PackageVersions(ctx context.Context, adapter string) ([]*spec.Version, error)
}

// Resolver determines the dbt version to use for a working directory.
type Resolver struct {
	Env      *config.Environment
	Registry Registry
	Index    Index

	// MarkerPriority positions in-project .dbt_version files relative to
	// the project's require-dbt-version range.
	MarkerPriority MarkerFilePriority
}

// Request carries the per-invocation inputs to resolution.
type Request struct {
	// CLISpec is the raw version specifier given on the command line
	// ("1.0.0", "dbt-snowflake==1.0.0", ...), or "".
	CLISpec string
	// TargetName overrides the profile's default target when detecting
	// the adapter (from a --target passthrough argument).
	TargetName string
}

// Resolution is a successfully resolved (adapter, version) with its origin.
type Resolution struct {
	Adapter string
	Version *spec.Version
	Source  Source
	// Detail names the concrete origin, e.g. a version file path.
	Detail string
}

// PipSpecifier returns the resolution in pip specifier form.
func (r *Resolution) PipSpecifier() string {
	return r.Version.PipSpecifier(r.Adapter)
}

// Description renders the resolution for display, e.g.
// "1.0.0 (set by local version file /home/u/proj/.dbt_version)".
func (r *Resolution) Description() string {
	if r.Detail != "" {
		return fmt.Sprintf("%s (set by %s)", r.Version, r.Detail)
	}
	return fmt.Sprintf("%s (%s)", r.Version, r.Source)
}

// yield is what one source produced: an exact version, a range, or
// nothing.
type yield struct {
	spec   *spec.Spec
	detail string
}

// requirement is a range constraint with its origin, used for filtering.
type requirement struct {
	constraint *spec.Constraint
	detail     string
}

// Resolve runs the priority algorithm. It terminates after one pass over
// the source list (plus a single relaxed retry when version requirements
// conflict) and returns either a resolution or a ResolutionFailedError
// enumerating every consulted source.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Resolution, error) {
	var outcomes []Outcome
	note := func(source Source, format string, args ...any) {
		detail := fmt.Sprintf(format, args...)
		outcomes = append(outcomes, Outcome{Source: source, Detail: detail})
		log.Debug("consulted version source", "source", source.String(), "outcome", detail)
	}

	// Load the project manifest once; a malformed manifest is recorded and
	// treated as "yielded nothing".
	var proj *project.Project
	if r.Env.InProject() {
		loaded, err := project.Load(r.Env.ProjectFile)
		if err != nil {
			note(SourceManifestRequirement, "ignoring malformed project file: %v", err)
		} else {
			proj = loaded
		}
	}

	adapter, err := r.determineAdapter(req, proj)
	if err != nil {
		return nil, err
	}
	log.Debug("determined adapter", "adapter", adapter)

	// Read every specifier-bearing source up front.
	cli := r.readCLI(req, &outcomes)
	env := r.readEnvVar(&outcomes)
	marker, markerSource := r.readMarkerFile(&outcomes)
	global := r.readGlobalFile(&outcomes)

	// Collect range requirements: manifest ranges plus any range written
	// in a specifier-bearing source.
	var manifestReqs, packageReqs []requirement
	if proj != nil {
		manifestReqs, packageReqs = r.projectRequirements(proj, &note)
	}
	var sourceReqs []requirement
	for _, y := range []*yield{cli, env, marker, global} {
		if y != nil && y.spec.Range != nil {
			sourceReqs = append(sourceReqs, requirement{constraint: y.spec.Range, detail: y.detail})
		}
	}

	active := append(append(append([]requirement{}, sourceReqs...), manifestReqs...), packageReqs...)
	relaxed := append(append([]requirement{}, sourceReqs...), manifestReqs...)

	// tryExact accepts an exact candidate only while it satisfies every
	// discovered range requirement.
	tryExact := func(y *yield, source Source, reqs []requirement) *Resolution {
		if y == nil || y.spec.Exact == nil {
			return nil
		}
		if unmet := firstUnmet(y.spec.Exact, reqs); unmet != nil {
			note(source, "version %s (%s) is incompatible with the %s requirement from %s",
				y.spec.Exact, y.detail, unmet.constraint, unmet.detail)
			return nil
		}
		return &Resolution{Adapter: adapter, Version: y.spec.Exact, Source: source, Detail: y.detail}
	}

	markerBefore := markerSource == SourceLocalFile && r.MarkerPriority == MarkerBeforeManifest

	// 1. Command line argument.
	if res := tryExact(cli, SourceCLIFlag, active); res != nil {
		return res, nil
	}
	// 2. Environment variable.
	if res := tryExact(env, SourceEnvVar, active); res != nil {
		return res, nil
	}
	// 3. Local version file (when positioned before the manifest).
	if markerBefore {
		if res := tryExact(marker, markerSource, active); res != nil {
			return res, nil
		}
	}

	// 4. Project version requirements: resolve the combined range to the
	// maximum compatible installed version, falling back to the maximum
	// compatible installable version.
	conflicting := false
	if len(manifestReqs)+len(packageReqs) > 0 {
		if res, err := r.maxCompatible(ctx, adapter, active, manifestDetail(manifestReqs, packageReqs)); err != nil {
			note(SourceManifestRequirement, "error finding compatible version: %v", err)
		} else if res != nil {
			return res, nil
		} else {
			note(SourceManifestRequirement, "no version satisfies all requirements: %s", describeRequirements(active))
			conflicting = true
		}

		// Package-declared requirements may be stale; retry once without
		// them before giving up on the project's range.
		if conflicting && len(packageReqs) > 0 {
			log.Warn("conflicting version requirements; retrying while ignoring package requirements")
			active = relaxed
			for _, earlier := range []struct {
				y      *yield
				source Source
			}{{cli, SourceCLIFlag}, {env, SourceEnvVar}, {marker, markerSource}} {
				if earlier.source == markerSource && !markerBefore {
					continue
				}
				if res := tryExact(earlier.y, earlier.source, active); res != nil {
					return res, nil
				}
			}
			if res, err := r.maxCompatible(ctx, adapter, active, manifestDetail(manifestReqs, nil)); err != nil {
				note(SourceManifestRequirement, "error finding compatible version: %v", err)
			} else if res != nil {
				return res, nil
			} else {
				note(SourceManifestRequirement, "no version satisfies the project requirements even ignoring packages: %s", describeRequirements(relaxed))
			}
		}
	} else if proj != nil {
		note(SourceManifestRequirement, "project declares no version requirements")
	} else {
		note(SourceManifestRequirement, "not inside a dbt project")
	}

	// 5. Version files past the project root, then the global file.
	if !markerBefore {
		if res := tryExact(marker, markerSource, active); res != nil {
			return res, nil
		}
	}
	if res := tryExact(global, SourceGlobalFile, active); res != nil {
		return res, nil
	}

	// 6. Maximum installed version.
	installed, err := r.Registry.Versions(adapter)
	if err != nil {
		note(SourceInstalledMax, "error listing installed versions: %v", err)
	} else if v := spec.Max(filterCompatible(installed, active), true); v != nil {
		return &Resolution{
			Adapter: adapter,
			Version: v,
			Source:  SourceInstalledMax,
			Detail:  fmt.Sprintf("max installed version for adapter %s", adapter),
		}, nil
	} else {
		note(SourceInstalledMax, "no compatible installed versions for adapter %s", adapter)
	}

	// 7. Maximum installable version.
	installable, err := r.Index.PackageVersions(ctx, adapter)
	if err != nil {
		note(SourceInstallableMax, "error listing installable versions: %v", err)
	} else if v := spec.Max(filterCompatible(installable, active), true); v != nil {
		return &Resolution{
			Adapter: adapter,
			Version: v,
			Source:  SourceInstallableMax,
			Detail:  fmt.Sprintf("max installable version for adapter %s", adapter),
		}, nil
	} else {
		note(SourceInstallableMax, "no compatible installable versions for adapter %s", adapter)
	}

	return nil, &ResolutionFailedError{Outcomes: outcomes, ConflictingRequirements: conflicting}
}

// determineAdapter resolves the adapter name independently, over the
// subset of sources that can name one: adapter-qualified specifiers in
// priority order, then the project profile's target type.
func (r *Resolver) determineAdapter(req Request, proj *project.Project) (string, error) {
	for _, raw := range []string{req.CLISpec, r.Env.Vars[config.VersionVar]} {
		if raw == "" {
			continue
		}
		if parsed, err := spec.Parse(raw); err == nil && parsed.Adapter != "" {
			return parsed.Adapter, nil
		}
	}
	for _, path := range r.markerFilePaths() {
		if parsed, err := parseSpecFile(path); err == nil && parsed.Adapter != "" {
			return parsed.Adapter, nil
		}
	}

	if proj == nil {
		return "", &AdapterUndeterminedError{
			Reason: "not inside a dbt project and no adapter-qualified specifier (e.g. dbt-snowflake==1.0.0) was given",
		}
	}
	adapter, reason, err := proj.AdapterType(r.Env.HomeDir, req.TargetName)
	if err != nil {
		return "", err
	}
	if adapter == "" {
		return "", &AdapterUndeterminedError{Reason: reason}
	}
	return adapter, nil
}

// markerFilePaths returns the marker files that exist for this working
// directory, nearest first, ending with the global file.
func (r *Resolver) markerFilePaths() []string {
	var paths []string
	if path, ok := config.FindFileUpward(r.Env.WorkingDir, config.LocalVersionFile); ok {
		paths = append(paths, path)
	}
	if _, err := os.Stat(r.Env.GlobalVersionFile); err == nil {
		paths = append(paths, r.Env.GlobalVersionFile)
	}
	return paths
}

func (r *Resolver) readCLI(req Request, outcomes *[]Outcome) *yield {
	return r.readRaw(req.CLISpec, SourceCLIFlag, "command line argument", outcomes)
}

func (r *Resolver) readEnvVar(outcomes *[]Outcome) *yield {
	return r.readRaw(r.Env.Vars[config.VersionVar], SourceEnvVar, config.VersionVar+" environment variable", outcomes)
}

func (r *Resolver) readRaw(raw string, source Source, detail string, outcomes *[]Outcome) *yield {
	if strings.TrimSpace(raw) == "" {
		*outcomes = append(*outcomes, Outcome{Source: source, Detail: "not set"})
		return nil
	}
	parsed, err := spec.Parse(raw)
	if err != nil {
		*outcomes = append(*outcomes, Outcome{Source: source, Detail: err.Error()})
		return nil
	}
	return &yield{spec: parsed, detail: detail}
}

// readMarkerFile finds the nearest .dbt_version walking up from the
// working directory and classifies it as a local or parent file: a file
// past the project root is a parent file and is always consulted after the
// manifest.
func (r *Resolver) readMarkerFile(outcomes *[]Outcome) (*yield, Source) {
	path, ok := config.FindFileUpward(r.Env.WorkingDir, config.LocalVersionFile)
	if !ok {
		*outcomes = append(*outcomes, Outcome{Source: SourceLocalFile, Detail: "no " + config.LocalVersionFile + " file found"})
		return nil, SourceLocalFile
	}

	source := SourceLocalFile
	if r.Env.InProject() && !strings.HasPrefix(path, r.Env.ProjectDir+string(os.PathSeparator)) {
		source = SourceParentFile
	}

	parsed, err := parseSpecFile(path)
	if err != nil {
		*outcomes = append(*outcomes, Outcome{Source: source, Detail: fmt.Sprintf("%s: %v", path, err)})
		return nil, source
	}
	return &yield{spec: parsed, detail: "version file " + path}, source
}

func (r *Resolver) readGlobalFile(outcomes *[]Outcome) *yield {
	path := r.Env.GlobalVersionFile
	if _, err := os.Stat(path); err != nil {
		*outcomes = append(*outcomes, Outcome{Source: SourceGlobalFile, Detail: "no global version file at " + path})
		return nil
	}
	parsed, err := parseSpecFile(path)
	if err != nil {
		*outcomes = append(*outcomes, Outcome{Source: SourceGlobalFile, Detail: fmt.Sprintf("%s: %v", path, err)})
		return nil
	}
	return &yield{spec: parsed, detail: "global version file " + path}
}

// projectRequirements parses the project's own requirements and those of
// its installed packages, recording parse failures without aborting.
func (r *Resolver) projectRequirements(proj *project.Project, note *func(Source, string, ...any)) (manifest, packages []requirement) {
	own, err := proj.Requirements()
	if err != nil {
		(*note)(SourceManifestRequirement, "ignoring malformed requirement: %v", err)
	}
	for _, req := range own {
		manifest = append(manifest, requirement{constraint: req.Constraint, detail: req.Source})
	}
	pkg, err := proj.PackageRequirements()
	if err != nil {
		(*note)(SourceManifestRequirement, "ignoring malformed package requirement: %v", err)
	}
	for _, req := range pkg {
		packages = append(packages, requirement{constraint: req.Constraint, detail: req.Source})
	}
	return manifest, packages
}

// maxCompatible finds the maximum version satisfying all requirements,
// looking at installed versions first and installable versions second.
func (r *Resolver) maxCompatible(ctx context.Context, adapter string, reqs []requirement, detail string) (*Resolution, error) {
	installed, err := r.Registry.Versions(adapter)
	if err != nil {
		return nil, err
	}
	if v := spec.Max(filterCompatible(installed, reqs), true); v != nil {
		return &Resolution{Adapter: adapter, Version: v, Source: SourceManifestRequirement, Detail: detail}, nil
	}

	installable, err := r.Index.PackageVersions(ctx, adapter)
	if err != nil {
		return nil, err
	}
	if v := spec.Max(filterCompatible(installable, reqs), true); v != nil {
		log.Info("latest installable version compatible with all version requirements", "version", v.String())
		return &Resolution{Adapter: adapter, Version: v, Source: SourceManifestRequirement, Detail: detail}, nil
	}
	return nil, nil
}

func firstUnmet(v *spec.Version, reqs []requirement) *requirement {
	for i := range reqs {
		if !reqs[i].constraint.Check(v) {
			return &reqs[i]
		}
	}
	return nil
}

func filterCompatible(versions []*spec.Version, reqs []requirement) []*spec.Version {
	if len(reqs) == 0 {
		return versions
	}
	var compatible []*spec.Version
	for _, v := range versions {
		if firstUnmet(v, reqs) == nil {
			compatible = append(compatible, v)
		}
	}
	return compatible
}

func manifestDetail(manifest, packages []requirement) string {
	seen := map[string]bool{}
	var files []string
	for _, req := range append(append([]requirement{}, manifest...), packages...) {
		if !seen[req.detail] {
			seen[req.detail] = true
			files = append(files, req.detail)
		}
	}
	return strings.Join(files, ", ")
}

func describeRequirements(reqs []requirement) string {
	parts := make([]string, 0, len(reqs))
	for _, req := range reqs {
		parts = append(parts, fmt.Sprintf("%s (%s)", req.constraint, req.detail))
	}
	return strings.Join(parts, ", ")
}

// parseSpecFile reads a version file and parses its first line.
func parseSpecFile(path string) (*spec.Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	line, _, _ := strings.Cut(string(data), "\n")
	return spec.Parse(line)
}
