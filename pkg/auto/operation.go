package auto

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/autostack/pkg/engine"
	"github.com/openfroyo/autostack/pkg/events"
	"github.com/openfroyo/autostack/pkg/policy"
	"github.com/openfroyo/autostack/pkg/program"
	"github.com/openfroyo/autostack/pkg/runner"
	"github.com/openfroyo/autostack/pkg/stores"
	"github.com/openfroyo/autostack/pkg/telemetry"
)

// ExecKindLocal is reported to the engine for programs it launches from the
// work directory.
const ExecKindLocal = "auto.local"

// operationHost runs lifecycle operations. LocalWorkspace implements it;
// stacks on other workspaces support config, tags and state but not
// lifecycle operations.
type operationHost interface {
	runOperation(ctx context.Context, op *operation) (*operationRun, error)
	history(ctx context.Context, stack string, pageSize, page int) ([]engine.UpdateSummary, error)
	cancel(ctx context.Context, stack string) error
}

var _ operationHost = (*LocalWorkspace)(nil)

func (w *LocalWorkspace) history(ctx context.Context, stack string, pageSize, page int) ([]engine.UpdateSummary, error) {
	args := []string{"stack", "history", "--json", "--show-secrets", "--stack", stack}
	if pageSize > 0 {
		if page < 1 {
			page = 1
		}
		args = append(args, "--page-size", strconv.Itoa(pageSize), "--page", strconv.Itoa(page))
	}

	history := []engine.UpdateSummary{}
	if err := w.runJSON(ctx, stack, "stack history", &history, args...); err != nil {
		return nil, err
	}
	return history, nil
}

func (w *LocalWorkspace) cancel(ctx context.Context, stack string) error {
	_, err := w.runCommand(ctx, stack, "cancel", "cancel", "--yes", "--stack", stack)
	return err
}

// operation describes one lifecycle operation on a stack.
type operation struct {
	stack string
	kind  engine.OperationKind
	opts  *operationOptions

	// finalize runs after the engine exited successfully and returns the
	// summary recorded in the journal.
	finalize func(ctx context.Context, run *operationRun) (interface{}, error)
}

// operationRun is what the engine left behind.
type operationRun struct {
	ID        string
	Stdout    string
	Stderr    string
	Collector *events.Collector
}

func (w *LocalWorkspace) runOperation(ctx context.Context, op *operation) (*operationRun, error) {
	if err := w.checkPolicy(ctx, op); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	scope := w.tel.StartOperation(ctx, op.stack, string(op.kind), id)
	ctx = scope.Ctx

	w.journalStart(ctx, scope.Logger, id, op)

	run, summary, err := w.execute(ctx, scope, id, op)

	w.journalFinish(ctx, scope.Logger, id, summary, err)
	scope.End(err)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (w *LocalWorkspace) execute(ctx context.Context, scope *telemetry.OperationScope, id string, op *operation) (*operationRun, interface{}, error) {
	collector := &events.Collector{}
	handler := events.Fanout(
		op.opts.onEvent,
		channelHandler(op.opts.eventStreams),
		collector.Handle,
		w.journalEvents(ctx, scope.Logger, id),
		func(ev events.EngineEvent) {
			w.tel.Metrics.RecordEvent(ev.Type())
			telemetry.AddEngineEvent(scope.Span, ev.Type(), ev.Sequence)
		},
	)

	tailer := events.NewTailer(handler, scope.Logger.Zerolog())
	attachments := []runner.Attachment{tailer}

	verb := op.kind.Verb()
	args := []string{"--non-interactive", verb, "--stack", op.stack}
	if op.kind != engine.OperationPreview {
		args = append(args, "--yes", "--skip-preview")
	}
	args = append(args, op.opts.args(verb)...)

	if fn := w.Program(); fn != nil {
		attachments = append(attachments, program.NewServer(fn, w.registry, scope.Logger.Zerolog()))
	} else {
		args = append(args, "--exec-kind", ExecKindLocal)
	}

	res, err := w.runner.Run(ctx, &runner.Invocation{
		Command:     verb,
		Args:        args,
		Dir:         w.workDir,
		Env:         w.engineEnv(),
		InheritEnv:  true,
		Stdout:      op.opts.progressStreams,
		Stderr:      op.opts.errorProgressStreams,
		Attachments: attachments,
	})

	if skipped := tailer.Skipped(); skipped > 0 {
		w.tel.Metrics.RecordEventsSkipped(skipped)
		scope.Logger.WithField("skipped", skipped).Debug("Skipped malformed engine events")
	}
	if err != nil {
		return nil, nil, classify(err, op.stack)
	}

	run := &operationRun{
		ID:        id,
		Stdout:    res.Stdout,
		Stderr:    res.Stderr,
		Collector: collector,
	}
	scope.Logger.
		WithField("events", tailer.Delivered()).
		WithField("duration", res.Duration.String()).
		Debug("Engine finished")

	if op.finalize == nil {
		return run, nil, nil
	}
	summary, err := op.finalize(ctx, run)
	if err != nil {
		return nil, nil, err
	}
	return run, summary, nil
}

// channelHandler returns nil when there are no channels so Fanout skips it.
func channelHandler(chs []chan<- events.EngineEvent) events.Handler {
	if len(chs) == 0 {
		return nil
	}
	return events.ToChannels(chs...)
}

// checkPolicy evaluates the policy guard. A denied operation never reaches
// the engine.
func (w *LocalWorkspace) checkPolicy(ctx context.Context, op *operation) error {
	if w.guard == nil {
		return nil
	}

	decision, err := w.guard.Evaluate(ctx, w.policyInput(ctx, op))
	if err != nil {
		return fmt.Errorf("failed to evaluate policies: %w", err)
	}
	w.tel.Metrics.RecordPolicyDecision(decision.Allowed)

	logger := w.logger.WithStack(op.stack).WithField("operation", string(op.kind))
	for _, warning := range decision.Warnings {
		logger.WithField("policy", warning.Policy).Warn(warning.Message)
	}
	if decision.Allowed {
		return nil
	}

	for _, v := range decision.Violations {
		if nerr := w.tel.Events.PolicyViolation(op.stack, string(op.kind), v.Policy, v.Message); nerr != nil {
			logger.WithError(nerr).Debug("Dropped policy notification")
		}
	}
	w.audit(ctx, "policy.denied", op.stack, map[string]interface{}{
		"operation":  string(op.kind),
		"violations": decision.Violations,
	})
	return decision.Err(op.stack, string(op.kind))
}

// policyInput gathers what policies see. Tags and config the engine cannot
// report are left out rather than failing the operation.
func (w *LocalWorkspace) policyInput(ctx context.Context, op *operation) policy.OperationInput {
	in := policy.OperationInput{
		Stack:     op.stack,
		Operation: string(op.kind),
		DryRun:    op.kind == engine.OperationPreview,
		User:      actor(),
		Timestamp: time.Now(),
	}
	logger := w.logger.WithStack(op.stack)

	if p, err := w.ProjectSettings(ctx); err == nil {
		in.Project = p.Name
	}

	tags, err := w.ListTags(ctx, op.stack)
	if err != nil {
		logger.WithError(err).Debug("Stack tags unavailable for policy evaluation")
	} else {
		in.Tags = tags
	}

	values, err := w.GetAllConfig(ctx, op.stack)
	if err != nil {
		logger.WithError(err).Debug("Stack config unavailable for policy evaluation")
		return in
	}
	in.Config = make(map[string]policy.ConfigInput, len(values))
	for key, v := range values {
		if v.Secret {
			in.Config[key] = policy.ConfigInput{Secret: true}
			continue
		}
		in.Config[key] = policy.ConfigInput{Value: v.Value}
	}
	return in
}

// The journal never fails an operation; write errors are logged.

func (w *LocalWorkspace) journalStart(ctx context.Context, logger *telemetry.Logger, id string, op *operation) {
	if w.journal == nil {
		return
	}
	meta, _ := json.Marshal(map[string]interface{}{
		"work_dir": w.workDir,
		"message":  op.opts.message,
		"targets":  op.opts.targets,
	})
	err := w.journal.CreateOperation(context.WithoutCancel(ctx), &stores.Operation{
		ID:        id,
		Stack:     op.stack,
		Kind:      string(op.kind),
		Status:    stores.OperationStatusRunning,
		StartedAt: time.Now(),
		Metadata:  string(meta),
	})
	if err != nil {
		logger.WithError(err).Warn("Failed to journal operation start")
	}
}

func (w *LocalWorkspace) journalFinish(ctx context.Context, logger *telemetry.Logger, id string, summary interface{}, opErr error) {
	if w.journal == nil {
		return
	}

	var summaryJSON, errMsg *string
	if summary != nil {
		if data, err := json.Marshal(summary); err == nil {
			s := string(data)
			summaryJSON = &s
		}
	}
	if opErr != nil {
		msg := opErr.Error()
		errMsg = &msg
	}

	status := stores.OperationStatus(telemetry.OperationStatus(opErr))
	if err := w.journal.CompleteOperation(context.WithoutCancel(ctx), id, status, summaryJSON, errMsg); err != nil {
		logger.WithError(err).Warn("Failed to journal operation result")
	}
}

func (w *LocalWorkspace) journalEvents(ctx context.Context, logger *telemetry.Logger, id string) events.Handler {
	if w.journal == nil {
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	return func(ev events.EngineEvent) {
		level, message := eventLevel(ev)
		var payload *string
		if data, err := json.Marshal(ev); err == nil {
			s := string(data)
			payload = &s
		}
		err := w.journal.AppendEvent(ctx, &stores.Event{
			OperationID: id,
			Sequence:    ev.Sequence,
			Type:        ev.Type(),
			Level:       level,
			Message:     message,
			Payload:     payload,
			Timestamp:   time.Unix(ev.Timestamp, 0).UTC(),
		})
		if err != nil {
			logger.WithError(err).WithField("sequence", ev.Sequence).Debug("Failed to journal engine event")
		}
	}
}

func eventLevel(ev events.EngineEvent) (stores.EventLevel, string) {
	switch {
	case ev.DiagnosticEvent != nil:
		switch ev.DiagnosticEvent.Severity {
		case events.SeverityDebug:
			return stores.EventLevelDebug, ev.DiagnosticEvent.Message
		case events.SeverityWarning:
			return stores.EventLevelWarning, ev.DiagnosticEvent.Message
		case events.SeverityError:
			return stores.EventLevelError, ev.DiagnosticEvent.Message
		default:
			return stores.EventLevelInfo, ev.DiagnosticEvent.Message
		}
	case ev.ResOpFailedEvent != nil:
		return stores.EventLevelError, "resource operation failed: " + ev.ResOpFailedEvent.Metadata.URN
	case ev.PolicyEvent != nil:
		return stores.EventLevelWarning, ev.PolicyEvent.Message
	case ev.StdoutEvent != nil:
		return stores.EventLevelInfo, ev.StdoutEvent.Message
	case ev.ResourcePreEvent != nil:
		return stores.EventLevelDebug, string(ev.ResourcePreEvent.Metadata.Op) + " " + ev.ResourcePreEvent.Metadata.URN
	case ev.ResOutputsEvent != nil:
		return stores.EventLevelDebug, string(ev.ResOutputsEvent.Metadata.Op) + " " + ev.ResOutputsEvent.Metadata.URN
	default:
		return stores.EventLevelDebug, ev.Type()
	}
}
