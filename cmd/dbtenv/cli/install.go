package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/brooklyn-data/dbtenv/internal/log"
	"github.com/brooklyn-data/dbtenv/internal/resolve"
	"github.com/brooklyn-data/dbtenv/internal/venv"
)

var (
	installForce        bool
	installEditable     bool
	installPython       string
	installSimulateDate bool
)

var installCmd = &cobra.Command{
	Use:   "install [<specifier>] [<package_location>]",
	Short: "Install a dbt version into its own virtual environment",
	Long: `Install the specified dbt adapter version (e.g. dbt-snowflake==1.0.0 or
1.0.0) from the Python Package Index, or from an optional pip-compatible
package location (a local project path or VCS URL). If no specifier is
given, the version is detected from the environment.`,
	Args: cobra.MaximumNArgs(2),
	RunE: runInstall,
}

func init() {
	rootCmd.AddCommand(installCmd)
	installCmd.Flags().BoolVarP(&installForce, "force", "f", false, "install even if this version is already installed")
	installCmd.Flags().BoolVarP(&installEditable, "editable", "e", false, "install a package location in editable mode")
	addInstallerFlags(installCmd, &installPython, &installSimulateDate)
}

// addInstallerFlags adds the flags shared by every command that may
// install: install itself, version (when setting), and execute (when
// auto-installing).
func addInstallerFlags(cmd *cobra.Command, python *string, simulateDate *bool) {
	cmd.Flags().StringVar(python, "python", "", "path of the Python executable used to create virtual environments (env: DBTENV_PYTHON)")
	cmd.Flags().BoolVar(simulateDate, "simulate-release-date", false, "only install packages available on the dbt version's release date (env: DBTENV_SIMULATE_RELEASE_DATE)")
}

func runInstall(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	index, closeIndex := newIndex()
	defer closeIndex()

	cliSpec := ""
	packageLocation := ""
	if len(args) > 0 {
		cliSpec = args[0]
	}
	if len(args) > 1 {
		packageLocation = args[1]
	}

	resolution, err := newResolver(index).Resolve(ctx, resolve.Request{CLISpec: cliSpec})
	if err != nil {
		return err
	}
	log.Info("using dbt version", "version", resolution.Description())

	installer, err := newInstaller(index, installPython, installSimulateDate)
	if err != nil {
		return err
	}
	return installer.Install(ctx, resolution.Adapter, resolution.Version, venv.InstallOptions{
		Force:           installForce,
		PackageLocation: packageLocation,
		Editable:        installEditable,
	})
}
