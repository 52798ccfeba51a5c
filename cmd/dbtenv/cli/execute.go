package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brooklyn-data/dbtenv/internal/config"
	"github.com/brooklyn-data/dbtenv/internal/dispatch"
	"github.com/brooklyn-data/dbtenv/internal/log"
	"github.com/brooklyn-data/dbtenv/internal/resolve"
	"github.com/brooklyn-data/dbtenv/internal/venv"
)

var (
	executeSpec         string
	executePython       string
	executeSimulateDate bool
)

var executeCmd = &cobra.Command{
	Use:     "execute [--dbt <specifier>] -- <dbt args>...",
	Aliases: []string{"exec"},
	Short:   "Execute a dbt command using the detected dbt version",
	Long: `Execute a dbt command using the specified dbt version, or the dbt
version automatically detected from the environment. Arguments after --
are passed to dbt unchanged, and dbt's exit code becomes dbtenv's.`,
	Args: cobra.ArbitraryArgs,
	RunE: runExecute,
}

func init() {
	rootCmd.AddCommand(executeCmd)
	executeCmd.Flags().SetInterspersed(false)
	executeCmd.Flags().StringVar(&executeSpec, "dbt", "", "dbt version (e.g. 1.0.0) or full pip specifier (e.g. dbt-snowflake==1.0.0) to use")
	addInstallerFlags(executeCmd, &executePython, &executeSimulateDate)
}

func runExecute(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	index, closeIndex := newIndex()
	defer closeIndex()

	resolution, err := newResolver(index).Resolve(ctx, resolve.Request{
		CLISpec:    executeSpec,
		TargetName: passthroughTarget(args),
	})
	if err != nil {
		return err
	}
	log.Info("using dbt version", "version", resolution.Description())

	registry := newRegistry()
	executable, err := registry.Executable(resolution.Adapter, resolution.Version)
	if err != nil {
		var notInstalled *venv.NotInstalledError
		if !errors.As(err, &notInstalled) {
			return err
		}
		if !env.AutoInstall() {
			return fmt.Errorf("no %s installation found and auto-install is not enabled (set %s=1 to enable)",
				resolution.PipSpecifier(), config.AutoInstallVar)
		}
		installer, err := newInstaller(index, executePython, executeSimulateDate)
		if err != nil {
			return err
		}
		if err := installer.Install(ctx, resolution.Adapter, resolution.Version, venv.InstallOptions{}); err != nil {
			return err
		}
		executable, err = registry.Executable(resolution.Adapter, resolution.Version)
		if err != nil {
			return err
		}
	}

	return dispatch.Run(executable, args)
}

// passthroughTarget extracts the value of a --target argument destined for
// dbt, so adapter detection can honor the target the dbt command will
// actually run against.
func passthroughTarget(args []string) string {
	for i, arg := range args {
		if arg == "--target" || arg == "-t" {
			if i+1 < len(args) {
				return args[i+1]
			}
		}
	}
	return ""
}
