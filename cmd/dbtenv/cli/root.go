// Package cli implements the dbtenv command-line interface using Cobra.
// It provides commands for listing, installing, pinning, and executing dbt
// versions, each installed in its own Python virtual environment.
package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/brooklyn-data/dbtenv/internal/config"
	"github.com/brooklyn-data/dbtenv/internal/dispatch"
	"github.com/brooklyn-data/dbtenv/internal/log"
	"github.com/brooklyn-data/dbtenv/internal/resolve"
	"github.com/brooklyn-data/dbtenv/internal/venv"
)

// Build-time variable injected via ldflags.
var version = "dev"

var (
	debugOut bool
	quietOut bool
	jsonOut  bool
)

// env is the process environment snapshot, built once before any command
// runs.
var env *config.Environment

var rootCmd = &cobra.Command{
	Use:   "dbtenv",
	Short: "dbtenv - dbt version manager",
	Long: `dbtenv lets you install and run multiple versions of dbt, each in its
own Python virtual environment under ~/.dbt/versions.

The dbt version to use is determined from, in priority order: an explicit
argument, the DBT_VERSION environment variable, .dbt_version files found
walking up from the working directory, the dbt project's
require-dbt-version configuration, the global ~/.dbt/version file, and
finally the newest installed or installable version.`,
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		env, err = config.FromProcess()
		if err != nil {
			return err
		}
		log.Init(log.Options{
			Debug:      debugOut || env.Debug(),
			Quiet:      quietOut || env.Quiet(),
			JSONFormat: jsonOut,
		})
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// Exit codes. The execute command passes dbt's own exit code through.
const (
	ExitSuccess             = 0
	ExitFailure             = 1
	ExitResolutionFailed    = 3
	ExitVersionNotFound     = 4
	ExitInstallationFailed  = 5
	ExitAdapterUndetermined = 6
)

// ExitCode maps an error returned by Execute to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var dbtExit *dispatch.ExitError
	if errors.As(err, &dbtExit) {
		return dbtExit.Code
	}
	var resolutionFailed *resolve.ResolutionFailedError
	if errors.As(err, &resolutionFailed) {
		return ExitResolutionFailed
	}
	var versionNotFound *venv.VersionNotFoundError
	if errors.As(err, &versionNotFound) {
		return ExitVersionNotFound
	}
	var installFailed *venv.InstallationFailedError
	if errors.As(err, &installFailed) {
		return ExitInstallationFailed
	}
	var adapterUndetermined *resolve.AdapterUndeterminedError
	if errors.As(err, &adapterUndetermined) {
		return ExitAdapterUndetermined
	}
	return ExitFailure
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugOut, "debug", false, "output debug information (env: "+config.DebugVar+")")
	rootCmd.PersistentFlags().BoolVar(&quietOut, "quiet", false, "only output warnings and errors (env: "+config.QuietVar+")")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")
}
