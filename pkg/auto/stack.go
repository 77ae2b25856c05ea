package auto

import (
	"context"
	"errors"

	"github.com/openfroyo/autostack/pkg/config"
	"github.com/openfroyo/autostack/pkg/engine"
)

// Stack is an isolated, independently configurable instance of a program.
// Its name and workspace never change, whatever an operation returns.
type Stack struct {
	name      string
	workspace Workspace
}

// NewStack creates a new stack in ws. It fails with KindAlreadyExists when
// the stack exists.
func NewStack(ctx context.Context, name string, ws Workspace) (Stack, error) {
	if err := ws.CreateStack(ctx, name); err != nil {
		return Stack{}, err
	}
	return Stack{name: name, workspace: ws}, nil
}

// SelectStack selects an existing stack in ws. It fails with KindNotFound
// when the stack does not exist.
func SelectStack(ctx context.Context, name string, ws Workspace) (Stack, error) {
	if err := ws.SelectStack(ctx, name); err != nil {
		return Stack{}, err
	}
	return Stack{name: name, workspace: ws}, nil
}

// UpsertStack selects the stack, creating it when it does not exist.
func UpsertStack(ctx context.Context, name string, ws Workspace) (Stack, error) {
	s, err := SelectStack(ctx, name, ws)
	if err == nil {
		return s, nil
	}
	if !engine.IsNotFound(err) && !IsSelectStack404Error(err) {
		return Stack{}, err
	}
	return NewStack(ctx, name, ws)
}

// Name returns the stack name.
func (s Stack) Name() string {
	return s.name
}

// Workspace returns the workspace the stack runs in.
func (s Stack) Workspace() Workspace {
	return s.workspace
}

// UpResult is the outcome of Up.
type UpResult struct {
	OperationID string
	StdOut      string
	StdErr      string
	Outputs     engine.OutputMap
	Summary     engine.UpdateSummary
}

// PreviewResult is the outcome of Preview.
type PreviewResult struct {
	OperationID   string
	StdOut        string
	StdErr        string
	ChangeSummary map[engine.OpType]int
}

// RefreshResult is the outcome of Refresh.
type RefreshResult struct {
	OperationID string
	StdOut      string
	StdErr      string
	Summary     engine.UpdateSummary
}

// DestroyResult is the outcome of Destroy. The stack itself is kept.
type DestroyResult struct {
	OperationID string
	StdOut      string
	StdErr      string
	Summary     engine.UpdateSummary
}

var errNoLifecycle = errors.New("workspace does not support lifecycle operations")

func (s Stack) host() (operationHost, error) {
	h, ok := s.workspace.(operationHost)
	if !ok {
		return nil, errNoLifecycle
	}
	return h, nil
}

// Up creates or updates the stack's resources to match the program.
func (s Stack) Up(ctx context.Context, opts ...Option) (UpResult, error) {
	h, err := s.host()
	if err != nil {
		return UpResult{}, err
	}

	var result UpResult
	run, err := h.runOperation(ctx, &operation{
		stack: s.name,
		kind:  engine.OperationUpdate,
		opts:  applyOperationOptions(opts),
		finalize: func(ctx context.Context, run *operationRun) (interface{}, error) {
			outputs, err := s.Outputs(ctx)
			if err != nil {
				return nil, err
			}
			summary, err := s.lastSummary(ctx, engine.OperationUpdate)
			if err != nil {
				return nil, err
			}
			result.Outputs = outputs
			result.Summary = summary
			return summary, nil
		},
	})
	if err != nil {
		return UpResult{}, err
	}

	result.OperationID = run.ID
	result.StdOut = run.Stdout
	result.StdErr = run.Stderr
	return result, nil
}

// Preview computes the changes Up would make without applying them. The
// change summary comes from the engine's summary event; a preview that ends
// without one fails.
func (s Stack) Preview(ctx context.Context, opts ...Option) (PreviewResult, error) {
	h, err := s.host()
	if err != nil {
		return PreviewResult{}, err
	}

	var changes map[engine.OpType]int
	run, err := h.runOperation(ctx, &operation{
		stack: s.name,
		kind:  engine.OperationPreview,
		opts:  applyOperationOptions(opts),
		finalize: func(_ context.Context, run *operationRun) (interface{}, error) {
			summary := run.Collector.Summary()
			if summary == nil {
				return nil, engine.NewExecutionError("preview finished without a summary event", nil).
					WithCode(engine.CodeMissingSummary).
					WithStack(s.name).
					WithOperation(engine.OperationPreview.Verb())
			}
			changes = summary.ResourceChanges
			if changes == nil {
				changes = map[engine.OpType]int{}
			}
			return summary, nil
		},
	})
	if err != nil {
		return PreviewResult{}, err
	}

	return PreviewResult{
		OperationID:   run.ID,
		StdOut:        run.Stdout,
		StdErr:        run.Stderr,
		ChangeSummary: changes,
	}, nil
}

// Refresh reconciles the recorded state with the real resources.
func (s Stack) Refresh(ctx context.Context, opts ...Option) (RefreshResult, error) {
	run, summary, err := s.runWithSummary(ctx, engine.OperationRefresh, opts)
	if err != nil {
		return RefreshResult{}, err
	}
	return RefreshResult{OperationID: run.ID, StdOut: run.Stdout, StdErr: run.Stderr, Summary: summary}, nil
}

// Destroy deletes every resource of the stack.
func (s Stack) Destroy(ctx context.Context, opts ...Option) (DestroyResult, error) {
	run, summary, err := s.runWithSummary(ctx, engine.OperationDestroy, opts)
	if err != nil {
		return DestroyResult{}, err
	}
	return DestroyResult{OperationID: run.ID, StdOut: run.Stdout, StdErr: run.Stderr, Summary: summary}, nil
}

func (s Stack) runWithSummary(ctx context.Context, kind engine.OperationKind, opts []Option) (*operationRun, engine.UpdateSummary, error) {
	h, err := s.host()
	if err != nil {
		return nil, engine.UpdateSummary{}, err
	}

	var summary engine.UpdateSummary
	run, err := h.runOperation(ctx, &operation{
		stack: s.name,
		kind:  kind,
		opts:  applyOperationOptions(opts),
		finalize: func(ctx context.Context, _ *operationRun) (interface{}, error) {
			sum, err := s.lastSummary(ctx, kind)
			if err != nil {
				return nil, err
			}
			summary = sum
			return sum, nil
		},
	})
	if err != nil {
		return nil, engine.UpdateSummary{}, err
	}
	return run, summary, nil
}

// lastSummary returns the newest history entry, which the operation that
// just finished wrote. ResourceChanges is set even when the engine omitted it.
func (s Stack) lastSummary(ctx context.Context, kind engine.OperationKind) (engine.UpdateSummary, error) {
	history, err := s.History(ctx, 1, 1)
	if err != nil {
		return engine.UpdateSummary{}, err
	}
	if len(history) == 0 {
		return engine.UpdateSummary{}, engine.NewExecutionError(
			"engine recorded no history for "+string(kind), nil).
			WithCode(engine.CodeMissingSummary).
			WithStack(s.name).
			WithOperation(kind.Verb())
	}
	summary := history[0]
	if summary.ResourceChanges == nil {
		summary.ResourceChanges = &map[string]int{}
	}
	return summary, nil
}

// Outputs returns the stack outputs. It is empty before the first update and
// after destroy.
func (s Stack) Outputs(ctx context.Context) (engine.OutputMap, error) {
	return s.workspace.StackOutputs(ctx, s.name)
}

// History returns update summaries, most recent first. A pageSize of zero
// returns every entry. A stack that was never updated has an empty history.
func (s Stack) History(ctx context.Context, pageSize, page int) ([]engine.UpdateSummary, error) {
	h, err := s.host()
	if err != nil {
		return nil, err
	}
	return h.history(ctx, s.name, pageSize, page)
}

// Info returns the latest history entry, or nil when the stack was never
// updated.
func (s Stack) Info(ctx context.Context) (*engine.UpdateSummary, error) {
	history, err := s.History(ctx, 1, 1)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, nil
	}
	return &history[0], nil
}

// Cancel stops the operation currently running on the stack. The stack may
// be left in an inconsistent state.
func (s Stack) Cancel(ctx context.Context) error {
	h, err := s.host()
	if err != nil {
		return err
	}
	return h.cancel(ctx, s.name)
}

// Export returns the deployment state of the stack.
func (s Stack) Export(ctx context.Context) (engine.Deployment, error) {
	return s.workspace.ExportStack(ctx, s.name)
}

// Import replaces the deployment state of the stack.
func (s Stack) Import(ctx context.Context, state engine.Deployment) error {
	return s.workspace.ImportStack(ctx, s.name, state)
}

// GetConfig returns the value of key.
func (s Stack) GetConfig(ctx context.Context, key string, opts ...config.Option) (config.Value, error) {
	return s.workspace.GetConfig(ctx, s.name, key, opts...)
}

// GetAllConfig returns every config value of the stack.
func (s Stack) GetAllConfig(ctx context.Context) (config.Map, error) {
	return s.workspace.GetAllConfig(ctx, s.name)
}

// SetConfig sets key.
func (s Stack) SetConfig(ctx context.Context, key string, value config.Value, opts ...config.Option) error {
	return s.workspace.SetConfig(ctx, s.name, key, value, opts...)
}

// SetAllConfig sets every value in one engine call.
func (s Stack) SetAllConfig(ctx context.Context, values config.Map, opts ...config.Option) error {
	return s.workspace.SetAllConfig(ctx, s.name, values, opts...)
}

// RemoveConfig removes key.
func (s Stack) RemoveConfig(ctx context.Context, key string, opts ...config.Option) error {
	return s.workspace.RemoveConfig(ctx, s.name, key, opts...)
}

// RemoveAllConfig removes the given keys.
func (s Stack) RemoveAllConfig(ctx context.Context, keys []string, opts ...config.Option) error {
	return s.workspace.RemoveAllConfig(ctx, s.name, keys, opts...)
}

// RefreshConfig replaces local config with the config of the last update.
func (s Stack) RefreshConfig(ctx context.Context) (config.Map, error) {
	return s.workspace.RefreshConfig(ctx, s.name)
}

// ApplyConfig makes the stack config equal to desired, writing only what
// changed.
func (s Stack) ApplyConfig(ctx context.Context, desired config.Map) (config.ChangeSet, error) {
	store, err := s.workspace.ConfigStore(ctx, s.name)
	if err != nil {
		return config.ChangeSet{}, err
	}
	return store.Apply(ctx, desired)
}

// GetTag returns the value of a tag.
func (s Stack) GetTag(ctx context.Context, key string) (string, error) {
	return s.workspace.GetTag(ctx, s.name, key)
}

// SetTag sets a tag.
func (s Stack) SetTag(ctx context.Context, key, value string) error {
	return s.workspace.SetTag(ctx, s.name, key, value)
}

// RemoveTag removes a tag.
func (s Stack) RemoveTag(ctx context.Context, key string) error {
	return s.workspace.RemoveTag(ctx, s.name, key)
}

// ListTags returns every tag of the stack.
func (s Stack) ListTags(ctx context.Context) (map[string]string, error) {
	return s.workspace.ListTags(ctx, s.name)
}
