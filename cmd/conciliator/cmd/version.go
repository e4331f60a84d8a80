package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"conciliation-service/internal/store/sqlstore"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "conciliator %s\n", version)
		fmt.Fprintf(out, "commit:  %s\n", commit)
		fmt.Fprintf(out, "built:   %s\n", date)
		fmt.Fprintf(out, "schema:  %d\n", sqlstore.LatestSchemaVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
