package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/autostack/pkg/auto"
	"github.com/openfroyo/autostack/pkg/config"
)

func newConfigCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage stack configuration",
		Long: `Read and write the configuration of a stack.

Bare keys are qualified with the project name. Secret values are encrypted by
the engine and masked unless --show-secrets is given.`,
	}

	cmd.AddCommand(newConfigGetCommand(opts))
	cmd.AddCommand(newConfigSetCommand(opts))
	cmd.AddCommand(newConfigRemoveCommand(opts))
	cmd.AddCommand(newConfigListCommand(opts))

	return cmd
}

func pathOptions(path bool) []config.Option {
	if path {
		return []config.Option{config.WithPath()}
	}
	return nil
}

func newConfigGetCommand(opts *globalOptions) *cobra.Command {
	var path bool

	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Get a config value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStack(cmd.Context(), func(stack auto.Stack) error {
				v, err := stack.GetConfig(cmd.Context(), args[0], pathOptions(path)...)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), v)
				}
				fmt.Fprintln(cmd.OutOrStdout(), v.Value)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&path, "path", false, "treat the key as a path into an object value")

	return cmd
}

func newConfigSetCommand(opts *globalOptions) *cobra.Command {
	var (
		path   bool
		secret bool
	)

	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a config value",
		Example: `  # Set a plain value
  autostack config set aws:region us-west-2

  # Set a secret
  autostack config set dbPassword hunter2 --secret

  # Set a nested value
  autostack config set --path 'data.tags[0]' web`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := config.StringValue(args[1])
			if secret {
				value = config.SecretValue(args[1])
			}
			return opts.withStack(cmd.Context(), func(stack auto.Stack) error {
				return stack.SetConfig(cmd.Context(), args[0], value, pathOptions(path)...)
			})
		},
	}

	cmd.Flags().BoolVar(&path, "path", false, "treat the key as a path into an object value")
	cmd.Flags().BoolVar(&secret, "secret", false, "encrypt the value")

	return cmd
}

func newConfigRemoveCommand(opts *globalOptions) *cobra.Command {
	var path bool

	cmd := &cobra.Command{
		Use:   "rm <key>...",
		Short: "Remove config values",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStack(cmd.Context(), func(stack auto.Stack) error {
				if len(args) == 1 {
					return stack.RemoveConfig(cmd.Context(), args[0], pathOptions(path)...)
				}
				return stack.RemoveAllConfig(cmd.Context(), args, pathOptions(path)...)
			})
		},
	}

	cmd.Flags().BoolVar(&path, "path", false, "treat keys as paths into object values")

	return cmd
}

func newConfigListCommand(opts *globalOptions) *cobra.Command {
	var showSecrets bool

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List config values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withStack(cmd.Context(), func(stack auto.Stack) error {
				values, err := stack.GetAllConfig(cmd.Context())
				if err != nil {
					return err
				}
				if !showSecrets {
					for key, v := range values {
						if v.Secret {
							values[key] = config.Value{Value: "[secret]", Secret: true}
						}
					}
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), values)
				}

				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "KEY\tVALUE")
				for _, key := range values.Keys() {
					fmt.Fprintf(tw, "%s\t%s\n", key, values[key].Value)
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "print secret values in plaintext")

	return cmd
}
