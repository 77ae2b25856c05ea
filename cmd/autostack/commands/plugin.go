package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPluginCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "Manage engine plugins",
	}

	var installKind string
	install := &cobra.Command{
		Use:   "install <name> <version>",
		Short: "Install a plugin",
		Example: `  # Install a resource plugin
  autostack plugin install aws 6.0.0`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd.Context(), func(s *session) error {
				return s.ws.InstallPlugin(cmd.Context(), args[0], args[1], installKind)
			})
		},
	}
	install.Flags().StringVar(&installKind, "kind", "resource", "plugin kind (resource, language, analyzer)")

	var removeKind string
	remove := &cobra.Command{
		Use:   "rm <name> [version]",
		Short: "Remove a plugin",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			version := ""
			if len(args) == 2 {
				version = args[1]
			}
			return opts.withSession(cmd.Context(), func(s *session) error {
				return s.ws.RemovePlugin(cmd.Context(), args[0], version, removeKind)
			})
		},
	}
	remove.Flags().StringVar(&removeKind, "kind", "resource", "plugin kind (resource, language, analyzer)")

	list := &cobra.Command{
		Use:   "ls",
		Short: "List installed plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withSession(cmd.Context(), func(s *session) error {
				plugins, err := s.ws.ListPlugins(cmd.Context())
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), plugins)
				}

				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "NAME\tKIND\tVERSION")
				for _, p := range plugins {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Name, p.Kind, p.Version)
				}
				return tw.Flush()
			})
		},
	}

	cmd.AddCommand(install, remove, list)
	return cmd
}
