package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/openfroyo/autostack/pkg/auto"
	"github.com/openfroyo/autostack/pkg/engine"
)

func newStackCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stack",
		Short: "Manage stacks",
		Long: `Create, select, list and remove stacks, move their state between
backends and inspect their history and outputs.`,
	}

	cmd.AddCommand(newStackInitCommand(opts))
	cmd.AddCommand(newStackSelectCommand(opts))
	cmd.AddCommand(newStackRemoveCommand(opts))
	cmd.AddCommand(newStackListCommand(opts))
	cmd.AddCommand(newStackExportCommand(opts))
	cmd.AddCommand(newStackImportCommand(opts))
	cmd.AddCommand(newStackHistoryCommand(opts))
	cmd.AddCommand(newStackOutputsCommand(opts))

	return cmd
}

func newStackInitCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init <name>",
		Short: "Create and select a new stack",
		Example: `  # Create a stack in the current project
  autostack stack init dev

  # Create a stack in an organization
  autostack stack init acme/dev`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd.Context(), func(s *session) error {
				if _, err := auto.NewStack(cmd.Context(), args[0], s.ws); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created stack %s\n", args[0])
				return nil
			})
		},
	}
}

func newStackSelectCommand(opts *globalOptions) *cobra.Command {
	var create bool

	cmd := &cobra.Command{
		Use:   "select <name>",
		Short: "Select an existing stack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd.Context(), func(s *session) error {
				var err error
				if create {
					_, err = auto.UpsertStack(cmd.Context(), args[0], s.ws)
				} else {
					_, err = auto.SelectStack(cmd.Context(), args[0], s.ws)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Selected stack %s\n", args[0])
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&create, "create", false, "create the stack when it does not exist")

	return cmd
}

func newStackRemoveCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <name>",
		Short: "Remove a stack and its configuration",
		Long: `Remove a stack and its configuration.

The stack's resources are not destroyed; run destroy first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd.Context(), func(s *session) error {
				if err := s.ws.RemoveStack(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed stack %s\n", args[0])
				return nil
			})
		},
	}
}

func newStackListCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List stacks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withSession(cmd.Context(), func(s *session) error {
				stacks, err := s.ws.ListStacks(cmd.Context())
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), stacks)
				}

				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "NAME\tCURRENT\tLAST UPDATE\tRESOURCES")
				for _, st := range stacks {
					current := ""
					if st.Current {
						current = "*"
					}
					resources := "-"
					if st.ResourceCount != nil {
						resources = fmt.Sprint(*st.ResourceCount)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", st.Name, current, st.LastUpdate, resources)
				}
				return tw.Flush()
			})
		},
	}
}

func newStackExportCommand(opts *globalOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the deployment state of a stack",
		Example: `  # Export to a file
  autostack stack export --stack dev --file dev.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withStack(cmd.Context(), func(stack auto.Stack) error {
				state, err := stack.Export(cmd.Context())
				if err != nil {
					return err
				}
				if file == "" {
					return printJSON(cmd.OutOrStdout(), state)
				}
				data, err := json.MarshalIndent(state, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to encode deployment: %w", err)
				}
				if err := os.WriteFile(file, data, 0o600); err != nil {
					return fmt.Errorf("failed to write deployment: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %s to %s\n", stack.Name(), file)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "write the deployment to a file instead of stdout")

	return cmd
}

func newStackImportCommand(opts *globalOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace the deployment state of a stack",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read deployment: %w", err)
			}
			var state engine.Deployment
			if err := json.Unmarshal(data, &state); err != nil {
				return fmt.Errorf("failed to decode deployment: %w", err)
			}

			return opts.withStack(cmd.Context(), func(stack auto.Stack) error {
				if err := stack.Import(cmd.Context(), state); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %s into %s\n", file, stack.Name())
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "deployment file to import")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func newStackHistoryCommand(opts *globalOptions) *cobra.Command {
	var pageSize, page int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the update history of a stack",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withStack(cmd.Context(), func(stack auto.Stack) error {
				history, err := stack.History(cmd.Context(), pageSize, page)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), history)
				}

				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "VERSION\tKIND\tRESULT\tSTARTED\tMESSAGE")
				for _, h := range history {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", h.Version, h.Kind, h.Result, h.StartTime, h.Message)
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().IntVar(&pageSize, "page-size", 0, "entries per page (0 shows everything)")
	cmd.Flags().IntVar(&page, "page", 1, "page to show")

	return cmd
}

func newStackOutputsCommand(opts *globalOptions) *cobra.Command {
	var showSecrets bool

	cmd := &cobra.Command{
		Use:   "outputs",
		Short: "Show the outputs of a stack",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withStack(cmd.Context(), func(stack auto.Stack) error {
				outputs, err := stack.Outputs(cmd.Context())
				if err != nil {
					return err
				}
				if !showSecrets {
					for name, v := range outputs {
						if v.Secret {
							outputs[name] = engine.OutputValue{Value: engine.SecretSentinel, Secret: true}
						}
					}
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), outputs)
				}

				names := make([]string, 0, len(outputs))
				for name := range outputs {
					names = append(names, name)
				}
				sort.Strings(names)
				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "NAME\tVALUE")
				for _, name := range names {
					fmt.Fprintf(tw, "%s\t%v\n", name, outputs[name].Value)
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "print secret outputs in plaintext")

	return cmd
}
