package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/autostack/pkg/auto"
	"github.com/openfroyo/autostack/pkg/engine"
	"github.com/openfroyo/autostack/pkg/events"
)

// operationFlags are shared by up, preview, refresh and destroy. Flags a verb
// does not support are dropped when the engine command is built.
type operationFlags struct {
	message          string
	targets          []string
	replace          []string
	targetDependents bool
	parallel         int
	expectNoChanges  bool
	diff             bool
	refresh          bool
	policyPacks      []string
	color            string
	events           bool
}

func (f *operationFlags) register(cmd *cobra.Command, replace bool) {
	fs := cmd.Flags()
	fs.StringVarP(&f.message, "message", "m", "", "message recorded with the update")
	fs.StringSliceVarP(&f.targets, "target", "t", nil, "only operate on these resource URNs")
	fs.BoolVar(&f.targetDependents, "target-dependents", false, "also operate on dependents of targets")
	fs.IntVarP(&f.parallel, "parallel", "p", 0, "max parallel resource operations (0 is the engine default)")
	fs.BoolVar(&f.expectNoChanges, "expect-no-changes", false, "fail if any change is proposed")
	fs.BoolVar(&f.diff, "diff", false, "show detailed diffs")
	fs.BoolVar(&f.refresh, "refresh", false, "refresh state before the operation")
	fs.StringSliceVar(&f.policyPacks, "policy-pack", nil, "engine policy packs to run")
	fs.StringVar(&f.color, "color", "", "colorize output (always, never, raw, auto)")
	fs.BoolVar(&f.events, "events", false, "print engine events as JSON lines instead of progress")
	if replace {
		fs.StringSliceVar(&f.replace, "replace", nil, "resource URNs to replace")
	}
}

func (f *operationFlags) options(out, errOut io.Writer) []auto.Option {
	opts := []auto.Option{auto.UserAgent("autostack-cli")}
	if f.message != "" {
		opts = append(opts, auto.Message(f.message))
	}
	if len(f.targets) > 0 {
		opts = append(opts, auto.Targets(f.targets...))
	}
	if len(f.replace) > 0 {
		opts = append(opts, auto.Replace(f.replace...))
	}
	if f.targetDependents {
		opts = append(opts, auto.TargetDependents())
	}
	if f.parallel > 0 {
		opts = append(opts, auto.Parallel(f.parallel))
	}
	if f.expectNoChanges {
		opts = append(opts, auto.ExpectNoChanges())
	}
	if f.diff {
		opts = append(opts, auto.Diff())
	}
	if f.refresh {
		opts = append(opts, auto.Refresh())
	}
	if len(f.policyPacks) > 0 {
		opts = append(opts, auto.PolicyPacks(f.policyPacks...))
	}
	if f.color != "" {
		opts = append(opts, auto.Color(f.color))
	}

	if f.events {
		enc := json.NewEncoder(out)
		opts = append(opts, auto.OnEvent(func(ev events.EngineEvent) {
			if err := enc.Encode(ev); err != nil {
				log.Debug().Err(err).Msg("Failed to print engine event")
			}
		}))
	} else {
		opts = append(opts, auto.ProgressStreams(out))
	}
	return append(opts, auto.ErrorProgressStreams(errOut))
}

func newUpCommand(opts *globalOptions) *cobra.Command {
	flags := &operationFlags{}

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Create or update the stack's resources",
		Example: `  # Deploy the selected stack
  autostack up

  # Deploy with a message and stream events
  autostack up --stack dev -m "release 1.2" --events`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withStack(cmd.Context(), func(stack auto.Stack) error {
				res, err := stack.Up(cmd.Context(), flags.options(cmd.OutOrStdout(), cmd.ErrOrStderr())...)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), res)
				}
				printSummary(cmd.OutOrStdout(), res.OperationID, res.Summary)
				return nil
			})
		},
	}

	flags.register(cmd, true)
	return cmd
}

func newPreviewCommand(opts *globalOptions) *cobra.Command {
	flags := &operationFlags{}

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show the changes up would make",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withStack(cmd.Context(), func(stack auto.Stack) error {
				res, err := stack.Preview(cmd.Context(), flags.options(cmd.OutOrStdout(), cmd.ErrOrStderr())...)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), res)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "\nOperation %s\n", res.OperationID)
				printChanges(cmd.OutOrStdout(), res.ChangeSummary)
				return nil
			})
		},
	}

	flags.register(cmd, true)
	return cmd
}

func newRefreshCommand(opts *globalOptions) *cobra.Command {
	flags := &operationFlags{}

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Reconcile the recorded state with the real resources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withStack(cmd.Context(), func(stack auto.Stack) error {
				res, err := stack.Refresh(cmd.Context(), flags.options(cmd.OutOrStdout(), cmd.ErrOrStderr())...)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), res)
				}
				printSummary(cmd.OutOrStdout(), res.OperationID, res.Summary)
				return nil
			})
		},
	}

	flags.register(cmd, false)
	return cmd
}

func newDestroyCommand(opts *globalOptions) *cobra.Command {
	flags := &operationFlags{}

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Delete every resource of the stack",
		Long: `Delete every resource of the stack. The stack and its configuration
are kept; use "stack rm" to remove them.

With --guard, destroy is denied for stacks tagged protected=true and for
stacks named prod or production.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withStack(cmd.Context(), func(stack auto.Stack) error {
				res, err := stack.Destroy(cmd.Context(), flags.options(cmd.OutOrStdout(), cmd.ErrOrStderr())...)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), res)
				}
				printSummary(cmd.OutOrStdout(), res.OperationID, res.Summary)
				return nil
			})
		},
	}

	flags.register(cmd, false)
	return cmd
}

func printSummary(w io.Writer, operationID string, s engine.UpdateSummary) {
	fmt.Fprintf(w, "\nOperation %s: %s %s (version %d)\n", operationID, s.Kind, s.Result, s.Version)
	changes := make(map[engine.OpType]int, len(s.Changes()))
	for op, n := range s.Changes() {
		changes[engine.OpType(op)] = n
	}
	printChanges(w, changes)
}

func printChanges(w io.Writer, changes map[engine.OpType]int) {
	ops := make([]string, 0, len(changes))
	for op := range changes {
		ops = append(ops, string(op))
	}
	sort.Strings(ops)
	tw := newTable(w)
	for _, op := range ops {
		fmt.Fprintf(tw, "    %s\t%d\n", op, changes[engine.OpType(op)])
	}
	_ = tw.Flush()
}
