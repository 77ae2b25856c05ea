package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newWhoAmICommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the backend identity of the engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withSession(cmd.Context(), func(s *session) error {
				who, err := s.ws.WhoAmI(cmd.Context())
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), who)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "User: %s\nBackend: %s\n", who.User, who.URL)
				for _, org := range who.Organizations {
					fmt.Fprintf(cmd.OutOrStdout(), "Organization: %s\n", org)
				}
				return nil
			})
		},
	}
}

func newVersionCommand(opts *globalOptions, version, commit string) *cobra.Command {
	var clientOnly bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show the autostack and engine versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := map[string]string{
				"autostack": version,
				"commit":    commit,
				"go":        runtime.Version(),
			}
			if !clientOnly {
				err := opts.withSession(cmd.Context(), func(s *session) error {
					out["engine"] = s.ws.EngineVersion()
					return nil
				})
				if err != nil {
					return err
				}
			}

			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), out)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "autostack %s (commit %s, %s)\n", version, commit, out["go"])
			if engineVersion, ok := out["engine"]; ok {
				fmt.Fprintf(cmd.OutOrStdout(), "engine    %s\n", engineVersion)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&clientOnly, "client-only", false, "do not run the engine")

	return cmd
}
