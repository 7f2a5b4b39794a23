package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <id>...",
	Short: "Uninstall mods",
	Long: `Uninstall removes a mod's files. Installed mods that depend on it are
uninstalled too, as are libraries nothing installed depends on any more. The
package stays registered and can be installed again.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := openRegistry(cmd)
		for _, id := range args {
			if err := reg.Uninstall(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Uninstalled %s\n", id)
		}
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <id>...",
	Short: "Uninstall mods and delete their packages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := openRegistry(cmd)
		for _, id := range args {
			if err := reg.Remove(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed %s\n", id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(removeCmd)
}
