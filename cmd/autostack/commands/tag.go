package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/openfroyo/autostack/pkg/auto"
)

func newTagCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Manage stack tags",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Get a tag value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStack(cmd.Context(), func(stack auto.Stack) error {
				v, err := stack.GetTag(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a tag",
		Example: `  # Protect a stack from destroy when the guard is enabled
  autostack tag set protected true --stack prod-eu`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStack(cmd.Context(), func(stack auto.Stack) error {
				return stack.SetTag(cmd.Context(), args[0], args[1])
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <key>",
		Short: "Remove a tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStack(cmd.Context(), func(stack auto.Stack) error {
				return stack.RemoveTag(cmd.Context(), args[0])
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "List tags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withStack(cmd.Context(), func(stack auto.Stack) error {
				tags, err := stack.ListTags(cmd.Context())
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), tags)
				}

				keys := make([]string, 0, len(tags))
				for k := range tags {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "KEY\tVALUE")
				for _, k := range keys {
					fmt.Fprintf(tw, "%s\t%s\n", k, tags[k])
				}
				return tw.Flush()
			})
		},
	})

	return cmd
}
