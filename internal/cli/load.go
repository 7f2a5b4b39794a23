package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Scan the mods directory and register packages found there",
	Long: `Load offers every file in the mods directory that is not registered yet to
the package providers. Files that fail to parse are reported in the log and,
with delete_invalid_mods set, deleted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := openRegistry(cmd)
		ctx := cmd.Context()

		if err := reg.LoadNewMods(ctx); err != nil {
			return err
		}
		all, err := reg.GetAll(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d mods registered from %s\n", len(all), reg.ModsDir())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loadCmd)
}
