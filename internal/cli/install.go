package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentx-labs/modkit/internal/logging"
)

var installCmd = &cobra.Command{
	Use:   "install <id>...",
	Short: "Install mods and their dependencies",
	Long: `Install copies a registered mod's files into the game directories after
installing every dependency it declares. Missing or outdated dependencies are
downloaded when the mod names a download link for them.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInstall,
}

func init() {
	rootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	reg := openRegistry(cmd)
	log := logging.GetLogger("cli")

	for _, id := range args {
		done := logging.LogOperationStart(log.With().Str("mod", id).Logger(), "install")
		err := reg.Install(cmd.Context(), id)
		done()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Installed %s\n", id)
	}
	return nil
}
