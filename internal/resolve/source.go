package resolve

// Source identifies where a resolved version came from. The declaration
// order is the resolution priority order.
type Source int

const (
	SourceCLIFlag Source = iota
	SourceEnvVar
	SourceLocalFile
	SourceManifestRequirement
	SourceParentFile
	SourceGlobalFile
	SourceInstalledMax
	SourceInstallableMax
)

func (s Source) String() string {
	switch s {
	case SourceCLIFlag:
		return "command line argument"
	case SourceEnvVar:
		return "DBT_VERSION environment variable"
	case SourceLocalFile:
		return "local version file"
	case SourceManifestRequirement:
		return "dbt project version requirements"
	case SourceParentFile:
		return "parent directory version file"
	case SourceGlobalFile:
		return "global version file"
	case SourceInstalledMax:
		return "max installed version"
	case SourceInstallableMax:
		return "max installable version"
	default:
		return "unknown source"
	}
}

// MarkerFilePriority controls whether a .dbt_version file found inside a
// dbt project wins over the project's require-dbt-version range. dbt's own
// documentation has described both behaviors, so it is an explicit choice
// rather than a guess.
type MarkerFilePriority int

const (
	// MarkerBeforeManifest gives version files inside the project
	// precedence over the manifest's version requirements. The default.
	MarkerBeforeManifest MarkerFilePriority = iota
	// MarkerAfterManifest consults the manifest's version requirements
	// first and version files only as a fallback.
	MarkerAfterManifest
)
