package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/brooklyn-data/dbtenv/internal/log"
	"github.com/brooklyn-data/dbtenv/internal/resolve"
	"github.com/brooklyn-data/dbtenv/internal/spec"
)

var versionsInstalledOnly bool

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "Show the dbt versions that are installed or available to install",
	RunE:  runVersions,
}

func init() {
	rootCmd.AddCommand(versionsCmd)
	versionsCmd.Flags().BoolVarP(&versionsInstalledOnly, "installed", "i", false, "only show installed dbt versions")
}

// versionEntry is one row of the listing.
type versionEntry struct {
	Version   string `json:"version"`
	Installed bool   `json:"installed"`
	Active    bool   `json:"active"`
}

func runVersions(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	index, closeIndex := newIndex()
	defer closeIndex()

	registry := newRegistry()
	installed, err := registry.Versions("")
	if err != nil {
		return err
	}
	installedSet := make(map[string]bool, len(installed))
	for _, v := range installed {
		installedSet[v.Canonical()] = true
	}

	distinct := make(map[string]*spec.Version)
	for _, v := range installed {
		distinct[v.Canonical()] = v
	}
	if !versionsInstalledOnly {
		installable, err := index.AllVersions(ctx)
		if err != nil {
			return fmt.Errorf("listing installable versions: %w", err)
		}
		for _, v := range installable {
			if _, ok := distinct[v.Canonical()]; !ok {
				distinct[v.Canonical()] = v
			}
		}
	}

	versions := make([]*spec.Version, 0, len(distinct))
	for _, v := range distinct {
		versions = append(versions, v)
	}
	spec.Sort(versions)

	if len(versions) == 0 {
		log.Info("no dbt versions found")
		return nil
	}

	// Marking the active version needs a resolvable adapter; outside a
	// project that's often undeterminable, which is fine for a listing.
	var active *spec.Version
	if resolution, err := newResolver(index).Resolve(ctx, resolve.Request{}); err == nil {
		active = resolution.Version
	} else {
		log.Debug("no active version to mark", "error", err)
	}

	entries := make([]versionEntry, 0, len(versions))
	for _, v := range versions {
		entries = append(entries, versionEntry{
			Version:   v.String(),
			Installed: installedSet[v.Canonical()],
			Active:    active != nil && v.Equal(active),
		})
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(entries)
	}

	log.Info("+ = installed, * = active")
	for _, entry := range entries {
		line := "  "
		if entry.Installed {
			line = "+ "
		}
		if entry.Active {
			line += "* "
		} else {
			line += "  "
		}
		fmt.Println(line + entry.Version)
	}
	return nil
}
