package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agentx-labs/modkit/internal/registry"
)

var (
	listJSON      bool
	listLibraries bool
	listInstalled bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered mods",
	Long:  `List every registered mod with its version and install status. Libraries are hidden unless --libraries is set.`,
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
	listCmd.Flags().BoolVar(&listLibraries, "libraries", false, "Include library mods")
	listCmd.Flags().BoolVar(&listInstalled, "installed", false, "Only show installed mods")
	rootCmd.AddCommand(listCmd)
}

// listEntry represents a registered mod for display.
type listEntry struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Version   string `json:"version"`
	Library   bool   `json:"library"`
	Installed bool   `json:"installed"`
	Provider  string `json:"provider"`
	Path      string `json:"path"`
}

func runList(cmd *cobra.Command, args []string) error {
	reg := openRegistry(cmd)
	all, err := reg.GetAll(cmd.Context())
	if err != nil {
		return err
	}

	var entries []listEntry
	for _, e := range registry.Sorted(all) {
		m := e.Mod
		if m.IsLibrary() && !listLibraries {
			continue
		}
		if listInstalled && !m.IsInstalled() {
			continue
		}
		entries = append(entries, listEntry{
			ID:        m.ID(),
			Name:      m.Name(),
			Version:   m.Version().String(),
			Library:   m.IsLibrary(),
			Installed: m.IsInstalled(),
			Provider:  m.Provider().Name(),
			Path:      e.Path,
		})
	}

	if listJSON {
		return printListJSON(cmd, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No mods registered yet.")
		return nil
	}
	return printListTable(cmd, entries)
}

func printListTable(cmd *cobra.Command, entries []listEntry) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tVERSION\tTYPE\tSTATUS")
	for _, e := range entries {
		kind := "mod"
		if e.Library {
			kind = "library"
		}
		status := "-"
		if e.Installed {
			status = "installed"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.ID, e.Name, e.Version, kind, status)
	}
	return w.Flush()
}

func printListJSON(cmd *cobra.Command, entries []listEntry) error {
	if entries == nil {
		entries = []listEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
