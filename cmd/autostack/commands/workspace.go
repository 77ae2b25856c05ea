package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/autostack/pkg/auto"
	"github.com/openfroyo/autostack/pkg/policy"
	"github.com/openfroyo/autostack/pkg/stores"
	"github.com/openfroyo/autostack/pkg/telemetry"
)

// session is an open workspace plus everything that must be released when the
// command ends.
type session struct {
	ws      *auto.LocalWorkspace
	closers []func(context.Context) error
}

func (s *session) close(ctx context.Context) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to release resource")
		}
	}
}

// openSession builds the workspace described by the global options. The
// caller must close the returned session.
func (o *globalOptions) openSession(ctx context.Context) (*session, error) {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = o.logLevel
	cfg.Tracing.Enabled = o.traceExporter != "" && o.traceExporter != "none"
	cfg.Tracing.Exporter = o.traceExporter
	cfg.Tracing.Endpoint = o.otlpEndpoint
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}

	s := &session{closers: []func(context.Context) error{tel.Shutdown}}
	wsOpts := []auto.LocalWorkspaceOption{auto.WithTelemetry(tel)}

	workDir := o.workDir
	if workDir == "" {
		if workDir, err = os.Getwd(); err != nil {
			s.close(ctx)
			return nil, fmt.Errorf("failed to determine work directory: %w", err)
		}
	}
	wsOpts = append(wsOpts, auto.WithWorkDir(workDir))

	if o.engine != "" {
		wsOpts = append(wsOpts, auto.WithEngineBinary(o.engine))
	}
	if o.skipVersionCheck {
		wsOpts = append(wsOpts, auto.WithSkipVersionCheck())
	}

	if o.journal != "" {
		journal, err := stores.Open(ctx, stores.Config{Path: o.journal})
		if err != nil {
			s.close(ctx)
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		s.closers = append(s.closers, func(context.Context) error { return journal.Close() })
		wsOpts = append(wsOpts, auto.WithJournal(journal))
	}

	if o.guard {
		guard, err := policy.NewGuard(tel.Logger.NewComponentLogger("policy").Zerolog())
		if err != nil {
			s.close(ctx)
			return nil, fmt.Errorf("failed to create policy guard: %w", err)
		}
		s.closers = append(s.closers, func(context.Context) error { return guard.Close() })
		if len(o.policies) > 0 {
			if err := guard.LoadPolicies(ctx, o.policies); err != nil {
				s.close(ctx)
				return nil, fmt.Errorf("failed to load policies: %w", err)
			}
		}
		wsOpts = append(wsOpts, auto.WithPolicyGuard(guard))
	}

	ws, err := auto.NewLocalWorkspace(ctx, wsOpts...)
	if err != nil {
		s.close(ctx)
		return nil, err
	}
	s.ws = ws
	return s, nil
}

// stackName returns --stack, falling back to the selected stack.
func (o *globalOptions) stackName(ctx context.Context, ws auto.Workspace) (string, error) {
	if o.stack != "" {
		return o.stack, nil
	}
	current, err := ws.Stack(ctx)
	if err != nil {
		return "", err
	}
	if current == nil {
		return "", fmt.Errorf("no stack selected: pass --stack or set %s_STACK", envPrefix)
	}
	return current.Name, nil
}

// selectStack resolves the stack to operate on and selects it.
func (o *globalOptions) selectStack(ctx context.Context, ws auto.Workspace) (auto.Stack, error) {
	name, err := o.stackName(ctx, ws)
	if err != nil {
		return auto.Stack{}, err
	}
	return auto.SelectStack(ctx, name, ws)
}

// withSession opens a session, runs fn and closes the session.
func (o *globalOptions) withSession(ctx context.Context, fn func(*session) error) error {
	s, err := o.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close(context.WithoutCancel(ctx))
	return fn(s)
}

// withStack opens a session, selects the stack and runs fn.
func (o *globalOptions) withStack(ctx context.Context, fn func(auto.Stack) error) error {
	return o.withSession(ctx, func(s *session) error {
		stack, err := o.selectStack(ctx, s.ws)
		if err != nil {
			return err
		}
		return fn(stack)
	})
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
