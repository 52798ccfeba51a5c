package cli

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/brooklyn-data/dbtenv/internal/config"
	"github.com/brooklyn-data/dbtenv/internal/spec"
	"github.com/brooklyn-data/dbtenv/internal/venv"
)

var uninstallForce bool

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <specifier>",
	Short: "Uninstall a dbt version",
	Long: `Remove the virtual environment of the specified dbt adapter version,
given in pip specifier format (e.g. dbt-snowflake==1.0.0). Uninstalling a
version that isn't installed is not an error.`,
	Args: cobra.ExactArgs(1),
	RunE: runUninstall,
}

func init() {
	rootCmd.AddCommand(uninstallCmd)
	uninstallCmd.Flags().BoolVarP(&uninstallForce, "force", "f", false, "uninstall without prompting for confirmation")
}

func runUninstall(cmd *cobra.Command, args []string) error {
	parsed, err := spec.Parse(args[0])
	if err != nil {
		return err
	}
	if parsed.Exact == nil || parsed.Adapter == "" {
		return fmt.Errorf("uninstall needs a full pip specifier (e.g. dbt-snowflake==1.0.0), got %q", args[0])
	}

	registry := newRegistry()
	if registry.Exists(parsed.Adapter, parsed.Exact) && !uninstallForce && !confirmUninstall(parsed) {
		return nil
	}

	installer := &venv.Installer{Registry: registry}
	return installer.Uninstall(parsed.Adapter, parsed.Exact)
}

// confirmUninstall prompts on the terminal before removing an installed
// environment. Non-interactive invocations (no TTY) proceed without
// prompting, matching --force.
func confirmUninstall(parsed *spec.Spec) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return true
	}
	fmt.Fprintf(os.Stderr, "Uninstall %s? [y/N] ", parsed)
	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	return config.IsTrue(answer)
}
