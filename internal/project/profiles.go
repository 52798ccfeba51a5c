package project

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/brooklyn-data/dbtenv/internal/spec"
)

// profilesFile is dbt's connection profiles file under ~/.dbt.
const profilesFile = "profiles.yml"

// profiles.yml maps profile name -> { target: <default>, outputs:
// { <target>: { type: <adapter> } } }. Only that subset is read here.
type profile struct {
	Target  string                   `yaml:"target"`
	Outputs map[string]profileOutput `yaml:"outputs"`
}

type profileOutput struct {
	Type string `yaml:"type"`
}

// AdapterType determines which adapter the project's profile targets. An
// explicit targetName (e.g. from a --target passthrough argument) overrides
// the profile's default target. Returns "" with a reason when the adapter
// cannot be determined; errors are reserved for unreadable profiles files.
func (p *Project) AdapterType(homeDir, targetName string) (adapter, reason string, err error) {
	if p.Profile == "" {
		return "", fmt.Sprintf("no profile is configured in %s", filepath.Base(p.File)), nil
	}

	path := filepath.Join(homeDir, ".dbt", profilesFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Sprintf("no %s found", path), nil
		}
		return "", "", err
	}

	profiles := map[string]profile{}
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return "", "", &MalformedError{Path: path, Cause: err}
	}

	prof, ok := profiles[p.Profile]
	if !ok {
		return "", fmt.Sprintf("profile %q not found in %s", p.Profile, path), nil
	}
	if targetName == "" {
		targetName = prof.Target
	}
	if targetName == "" {
		return "", fmt.Sprintf("profile %q has no default target", p.Profile), nil
	}
	output, ok := prof.Outputs[targetName]
	if !ok || output.Type == "" {
		return "", fmt.Sprintf("profile %q has no output type for target %q", p.Profile, targetName), nil
	}
	return spec.NormalizeAdapter(output.Type), "", nil
}
