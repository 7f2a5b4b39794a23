package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/agentx-labs/modkit/internal/logging"
	"github.com/agentx-labs/modkit/internal/mods"
	"github.com/agentx-labs/modkit/internal/registry"
)

var importInstall bool

var importCmd = &cobra.Command{
	Use:   "import <file>...",
	Short: "Import mod packages or copy files into installed mods",
	Long: `Import copies each package into the mods directory and registers it. A file
that is not a package is copied into every destination installed mods advertise
for its extension instead. A failing file is reported and the rest are still
imported.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().BoolVarP(&importInstall, "install", "i", false, "Install each imported mod with its dependencies")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	reg := openRegistry(cmd)
	out := cmd.OutOrStdout()
	log := logging.GetLogger("cli")

	failed := 0
	for _, path := range args {
		done := logging.LogOperationStart(log.With().Str("file", path).Logger(), "import")
		if err := importOne(cmd, reg, path); err != nil {
			fmt.Fprintf(out, "  ✗ %s: %v\n", filepath.Base(path), err)
			failed++
		}
		done()
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed to import", failed, len(args))
	}
	return nil
}

func importOne(cmd *cobra.Command, reg *registry.Registry, path string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	res, err := reg.TryImport(ctx, f, path)
	if err != nil {
		return err
	}
	if res == nil {
		return copyIntoMods(cmd, reg, f, path)
	}

	fmt.Fprintf(out, "  ✓ Imported %s %s\n", res.Mod.ID(), res.Mod.Version())
	if !importInstall {
		return nil
	}
	if err := res.Mod.Install(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "  ✓ Installed %s\n", res.Mod.ID())
	return nil
}

func copyIntoMods(cmd *cobra.Command, reg *registry.Registry, f *os.File, path string) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	written, err := reg.CopyFile(cmd.Context(), f, path)
	if errors.Is(err, mods.ErrNoCopyDestination) {
		return fmt.Errorf("not a recognized package and no installed mod accepts %s files", filepath.Ext(path))
	}
	if err != nil {
		return err
	}
	for _, dest := range written {
		fmt.Fprintf(cmd.OutOrStdout(), "  ✓ Copied %s to %s\n", filepath.Base(path), dest)
	}
	return nil
}
