package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brooklyn-data/dbtenv/internal/config"
	"github.com/brooklyn-data/dbtenv/internal/log"
	"github.com/brooklyn-data/dbtenv/internal/resolve"
	"github.com/brooklyn-data/dbtenv/internal/spec"
	"github.com/brooklyn-data/dbtenv/internal/venv"
)

// flagShow marks a scope flag passed without a value: show instead of set.
const flagShow = "\x00show"

var (
	versionGlobal       string
	versionLocal        string
	versionProject      bool
	versionShell        bool
	versionPython       string
	versionSimulateDate bool
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show or set the dbt version for a specific context",
	Long: `Show the dbt version automatically detected from the environment, or
show/set the dbt version globally (~/.dbt/version), for the local
directory (.dbt_version), for the current dbt project, or for the current
shell (DBT_VERSION).`,
	Args: cobra.NoArgs,
	RunE: runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().StringVar(&versionGlobal, "global", "", "show or set the global dbt version")
	versionCmd.Flags().Lookup("global").NoOptDefVal = flagShow
	versionCmd.Flags().StringVar(&versionLocal, "local", "", "show or set the dbt version for the local directory")
	versionCmd.Flags().Lookup("local").NoOptDefVal = flagShow
	versionCmd.Flags().BoolVar(&versionProject, "project", false, "show the dbt version determined for the current dbt project")
	versionCmd.Flags().BoolVar(&versionShell, "shell", false, "show the dbt version set for the current shell")
	versionCmd.MarkFlagsMutuallyExclusive("global", "local", "project", "shell")
	addInstallerFlags(versionCmd, &versionPython, &versionSimulateDate)
}

func runVersion(cmd *cobra.Command, args []string) error {
	switch {
	case cmd.Flags().Changed("global"):
		if versionGlobal == flagShow {
			return showVersionFile(env.GlobalVersionFile, "no global dbt version has been set")
		}
		return setVersionFile(env.GlobalVersionFile, versionGlobal, "global")

	case cmd.Flags().Changed("local"):
		if versionLocal == flagShow {
			path, ok := config.FindFileUpward(env.WorkingDir, config.LocalVersionFile)
			if !ok {
				log.Info("no local dbt version has been set", "directory", env.WorkingDir)
				return nil
			}
			return showVersionFile(path, "")
		}
		return setVersionFile(filepath.Join(env.WorkingDir, config.LocalVersionFile), versionLocal, "local")

	case versionShell:
		raw := env.Vars[config.VersionVar]
		if raw == "" {
			log.Info("no dbt version has been set for the current shell", "variable", config.VersionVar)
			return nil
		}
		fmt.Println(strings.TrimSpace(raw))
		return nil

	case versionProject:
		if !env.InProject() {
			return fmt.Errorf("no dbt project found above %s", env.WorkingDir)
		}
		fallthrough

	default:
		index, closeIndex := newIndex()
		defer closeIndex()
		resolution, err := newResolver(index).Resolve(context.Background(), resolve.Request{})
		if err != nil {
			return err
		}
		fmt.Println(resolution.Description())
		return nil
	}
}

func showVersionFile(path, emptyMessage string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && emptyMessage != "" {
			log.Info(emptyMessage, "file", path)
			return nil
		}
		return err
	}
	line, _, _ := strings.Cut(string(data), "\n")
	fmt.Printf("%s  (set by version file %s)\n", strings.TrimSpace(line), path)
	return nil
}

// setVersionFile pins a version in a marker file, installing it first if
// it isn't installed yet.
func setVersionFile(path, rawSpec, scope string) error {
	ctx := context.Background()
	index, closeIndex := newIndex()
	defer closeIndex()

	resolution, err := newResolver(index).Resolve(ctx, resolve.Request{CLISpec: rawSpec})
	if err != nil {
		return err
	}

	if !newRegistry().Exists(resolution.Adapter, resolution.Version) {
		installer, err := newInstaller(index, versionPython, versionSimulateDate)
		if err != nil {
			return err
		}
		if err := installer.Install(ctx, resolution.Adapter, resolution.Version, venv.InstallOptions{}); err != nil {
			return err
		}
	}

	parsed, err := spec.Parse(rawSpec)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(parsed.String()+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	log.Info("dbt version set", "scope", scope, "version", parsed.String(), "file", path)
	return nil
}
