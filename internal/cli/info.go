package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentx-labs/modkit/internal/mods"
	"github.com/agentx-labs/modkit/internal/qmod"
	"github.com/agentx-labs/modkit/internal/registry"
)

var infoCmd = &cobra.Command{
	Use:   "info <id>",
	Short: "Show details of a registered mod",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	reg := openRegistry(cmd)
	ctx := cmd.Context()

	all, err := reg.GetAll(ctx)
	if err != nil {
		return err
	}
	e, ok := all[args[0]]
	if !ok {
		return mods.NewError(mods.ErrNotFound, args[0], "no such mod")
	}

	out := cmd.OutOrStdout()
	m := e.Mod
	fmt.Fprintf(out, "%s (%s) %s\n", m.Name(), m.ID(), m.Version())
	fmt.Fprintf(out, "  Package:   %s\n", e.Path)
	fmt.Fprintf(out, "  Provider:  %s\n", m.Provider().Name())
	fmt.Fprintf(out, "  Library:   %t\n", m.IsLibrary())
	fmt.Fprintf(out, "  Installed: %t\n", m.IsInstalled())

	if qm, ok := m.(*qmod.Mod); ok {
		printQmodDetails(cmd, qm)
	}

	deps := m.Dependencies()
	if len(deps) == 0 {
		return nil
	}
	fmt.Fprintln(out, "  Dependencies:")
	for _, d := range deps {
		fmt.Fprintf(out, "    %s %s  %s\n", d.ID, d.RangeText, dependencyStatus(all, d))
	}
	return nil
}

func printQmodDetails(cmd *cobra.Command, m *qmod.Mod) {
	out := cmd.OutOrStdout()
	man := m.Manifest()
	if man.Author != "" {
		fmt.Fprintf(out, "  Author:    %s\n", man.Author)
	}
	if man.Description != "" {
		fmt.Fprintf(out, "  About:     %s\n", man.Description)
	}
	if man.PackageID != "" {
		fmt.Fprintf(out, "  Target:    %s %s\n", man.PackageID, man.PackageVersion)
	}
	if len(man.ModFiles) > 0 {
		fmt.Fprintf(out, "  Mod files: %s\n", strings.Join(man.ModFiles, ", "))
	}
	if len(man.LibraryFiles) > 0 {
		fmt.Fprintf(out, "  Libraries: %s\n", strings.Join(man.LibraryFiles, ", "))
	}
	for _, fc := range man.FileCopies {
		fmt.Fprintf(out, "  Copies:    %s -> %s\n", fc.Name, fc.Destination)
	}
	for _, ce := range man.CopyExtensions {
		fmt.Fprintf(out, "  Accepts:   .%s -> %s\n", strings.TrimPrefix(ce.Extension, "."), ce.Destination)
	}
	if _, mime, err := m.Cover(); err == nil && mime != "" {
		fmt.Fprintf(out, "  Cover:     %s (%s)\n", man.CoverImage, mime)
	}
}

func dependencyStatus(all map[string]registry.Entry, d mods.Dependency) string {
	e, ok := all[d.ID]
	switch {
	case !ok && d.DownloadURI != "":
		return "missing, downloadable"
	case !ok:
		return "missing"
	case !d.Satisfied(e.Mod.Version()):
		return fmt.Sprintf("incompatible (%s registered)", e.Mod.Version())
	case e.Mod.IsInstalled():
		return "installed"
	default:
		return "registered"
	}
}
