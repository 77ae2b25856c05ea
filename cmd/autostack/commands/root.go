package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags. Every flag can also be set through
// an AUTOSTACK_* environment variable or an autostack.yaml file.
type globalOptions struct {
	configFile       string
	workDir          string
	engine           string
	stack            string
	skipVersionCheck bool
	journal          string
	guard            bool
	policies         []string
	logLevel         string
	traceExporter    string
	otlpEndpoint     string
	jsonOutput       bool
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "autostack",
		Short: "autostack - drive infrastructure stacks programmatically",
		Long: `autostack wraps the infrastructure engine CLI to manage stacks, their
configuration and their lifecycle from scripts and pipelines.

Features:
  - Stack create, select, remove, export and import
  - Config and tag management with secrets
  - up, preview, refresh and destroy with streamed engine events
  - Operation journal in SQLite
  - Policy guard evaluated before each lifecycle operation`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.resolve(cmd); err != nil {
				return err
			}
			if lvl, err := zerolog.ParseLevel(opts.logLevel); err == nil && opts.logLevel != "" {
				zerolog.SetGlobalLevel(lvl)
			}
			return nil
		},
	}

	opts.addFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(newStackCommand(opts))
	rootCmd.AddCommand(newConfigCommand(opts))
	rootCmd.AddCommand(newTagCommand(opts))
	rootCmd.AddCommand(newUpCommand(opts))
	rootCmd.AddCommand(newPreviewCommand(opts))
	rootCmd.AddCommand(newRefreshCommand(opts))
	rootCmd.AddCommand(newDestroyCommand(opts))
	rootCmd.AddCommand(newPluginCommand(opts))
	rootCmd.AddCommand(newWhoAmICommand(opts))
	rootCmd.AddCommand(newVersionCommand(opts, version, commit))

	return rootCmd
}
