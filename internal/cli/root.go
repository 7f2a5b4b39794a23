package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/agentx-labs/modkit/internal/branding"
	"github.com/agentx-labs/modkit/internal/config"
	"github.com/agentx-labs/modkit/internal/fetch"
	"github.com/agentx-labs/modkit/internal/logging"
	"github.com/agentx-labs/modkit/internal/mods"
	"github.com/agentx-labs/modkit/internal/qmod"
	"github.com/agentx-labs/modkit/internal/registry"
)

var (
	buildVersion string
	buildCommit  string
	buildDate    string

	verbose bool

	// cfg is loaded before every command runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   branding.CLIName(),
	Short: branding.Description(),
	Long: branding.DisplayName() + ` imports mod packages, installs them together with their dependencies,
and removes shared libraries once nothing installed needs them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded

		level := cfg.Log.Level
		if verbose {
			level = "debug"
		}
		logging.Setup(level, cfg.Log.Format, cmd.ErrOrStderr())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output and print lifecycle events")
}

// Execute runs the root command with build info injected via ldflags.
func Execute(version, commit, date string) error {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// openRegistry wires the registry, the qmod provider and the fetch client
// from the loaded configuration.
func openRegistry(cmd *cobra.Command) *registry.Registry {
	fs := afero.NewOsFs()
	modsDir, libsDir := cfg.ModsLibsDirs()

	reg := registry.New(fs, cfg.ModsDir, registry.WithDeleteInvalid(cfg.DeleteInvalidMods))
	fetcher := fetch.New(
		fetch.WithFS(fs),
		fetch.WithTimeout(cfg.Fetch.Timeout),
		fetch.WithRetries(cfg.Fetch.Retries),
		fetch.WithUserAgent(cfg.Fetch.UserAgent),
	)
	reg.Register(qmod.NewProvider(reg, fs,
		qmod.Layout{ModsDir: modsDir, LibsDir: libsDir},
		qmod.WithTarget(qmod.Target{PackageID: cfg.Target.PackageID, Version: cfg.Target.Version}),
		qmod.WithFetcher(fetcher),
	))

	if verbose {
		out := cmd.ErrOrStderr()
		reg.Subscribe(func(ev mods.Event) {
			fmt.Fprintf(out, "  · %s %s\n", ev.Kind, ev.ID)
		})
	}
	return reg
}
