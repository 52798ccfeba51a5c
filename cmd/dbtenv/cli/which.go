package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/brooklyn-data/dbtenv/internal/log"
	"github.com/brooklyn-data/dbtenv/internal/resolve"
)

var whichCmd = &cobra.Command{
	Use:   "which [<version>]",
	Short: "Show the full path of a dbt executable",
	Long: `Show the full path to the executable of the specified dbt version, or
of the dbt version automatically detected from the environment.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWhich,
}

func init() {
	rootCmd.AddCommand(whichCmd)
}

func runWhich(cmd *cobra.Command, args []string) error {
	index, closeIndex := newIndex()
	defer closeIndex()

	req := resolve.Request{}
	if len(args) > 0 {
		req.CLISpec = args[0]
	}
	resolution, err := newResolver(index).Resolve(context.Background(), req)
	if err != nil {
		return err
	}
	log.Info("using dbt version", "version", resolution.Description())

	executable, err := newRegistry().Executable(resolution.Adapter, resolution.Version)
	if err != nil {
		return err
	}
	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]string{
			"version":    resolution.Version.String(),
			"adapter":    resolution.Adapter,
			"executable": executable,
		})
	}
	fmt.Println(executable)
	return nil
}
