// Package runner spawns the engine binary, captures its output, and scopes the
// helper resources an invocation needs (event logs, program servers) to the
// lifetime of the process.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/autostack/pkg/engine"
)

// DefaultWaitDelay is how long a cancelled engine gets to exit after the
// interrupt before it is killed.
const DefaultWaitDelay = 10 * time.Second

// Binding is what an attachment contributes to the engine command line.
type Binding struct {
	// Args are appended to the invocation arguments.
	Args []string

	// Env is overlaid on the invocation environment.
	Env map[string]string
}

// Attachment is a resource that lives exactly as long as one engine process.
// Start runs before the process is spawned and Stop runs after it exits, on
// every path. A Stop error marks the invocation as failed.
type Attachment interface {
	Start(ctx context.Context) (Binding, error)
	Stop(ctx context.Context) error
}

// Invocation describes one engine process.
type Invocation struct {
	// Command is a short label for logs and metrics, e.g. "config set".
	// It defaults to the first argument. Arguments themselves are never logged
	// because they may carry secret values.
	Command string

	// Args are the engine arguments.
	Args []string

	// Dir is the working directory of the process.
	Dir string

	// Env is overlaid on the base environment.
	Env map[string]string

	// InheritEnv starts from the current process environment.
	InheritEnv bool

	// Stdin is fed to the process when non-nil.
	Stdin []byte

	// Stdout and Stderr receive a copy of the process output as it is written.
	Stdout []io.Writer
	Stderr []io.Writer

	// Attachments are started in order and stopped in reverse order.
	Attachments []Attachment
}

func (inv *Invocation) label() string {
	if inv.Command != "" {
		return inv.Command
	}
	if len(inv.Args) > 0 {
		return inv.Args[0]
	}
	return "engine"
}

// Result is the captured outcome of an engine process.
type Result struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Recorder observes finished invocations.
type Recorder interface {
	RecordInvocation(command string, exitCode int, duration time.Duration)
}

// Config configures a Runner.
type Config struct {
	// Binary is the engine executable name or path.
	Binary string

	// WaitDelay bounds the grace period after cancellation.
	WaitDelay time.Duration

	// Logger receives debug logs for every invocation.
	Logger zerolog.Logger

	// Recorder, if set, is told about every finished invocation.
	Recorder Recorder
}

// Runner runs engine commands. It is safe for concurrent use; every Run spawns
// an independent process.
type Runner struct {
	binary    string
	waitDelay time.Duration
	logger    zerolog.Logger
	recorder  Recorder
}

// New creates a runner.
func New(cfg Config) *Runner {
	if cfg.Binary == "" {
		cfg.Binary = "pulumi"
	}
	if cfg.WaitDelay == 0 {
		cfg.WaitDelay = DefaultWaitDelay
	}
	return &Runner{
		binary:    cfg.Binary,
		waitDelay: cfg.WaitDelay,
		logger:    cfg.Logger.With().Str("component", "runner").Logger(),
		recorder:  cfg.Recorder,
	}
}

// Binary returns the engine executable the runner spawns.
func (r *Runner) Binary() string {
	return r.binary
}

// Run spawns the engine and blocks until it exits. On a non-zero exit the
// returned error is an *ExecutionError and the Result is still returned, so
// partial output survives cancellation.
func (r *Runner) Run(ctx context.Context, inv *Invocation) (*Result, error) {
	label := inv.label()
	args := append([]string{}, inv.Args...)
	env := make(map[string]string, len(inv.Env))
	for k, v := range inv.Env {
		env[k] = v
	}

	started := make([]Attachment, 0, len(inv.Attachments))
	for _, a := range inv.Attachments {
		binding, err := a.Start(ctx)
		if err != nil {
			stopErr := stopAll(context.WithoutCancel(ctx), started)
			return nil, errors.Join(fmt.Errorf("failed to start %s attachment: %w", label, err), stopErr)
		}
		started = append(started, a)
		args = append(args, binding.Args...)
		for k, v := range binding.Env {
			env[k] = v
		}
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Dir = inv.Dir
	cmd.Env = buildEnv(inv.InheritEnv, env)
	cmd.Stdout = io.MultiWriter(append([]io.Writer{&stdout}, inv.Stdout...)...)
	cmd.Stderr = io.MultiWriter(append([]io.Writer{&stderr}, inv.Stderr...)...)
	if inv.Stdin != nil {
		cmd.Stdin = bytes.NewReader(inv.Stdin)
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = r.waitDelay

	r.logger.Debug().
		Str("command", label).
		Str("dir", inv.Dir).
		Int("attachments", len(started)).
		Msg("Running engine command")

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	stopErr := stopAll(context.WithoutCancel(ctx), started)

	if runErr != nil && cmd.ProcessState == nil && ctx.Err() == nil {
		return nil, spawnError(r.binary, label, runErr)
	}

	result := &Result{
		Command:  label,
		ExitCode: exitCode(cmd, runErr),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}
	if r.recorder != nil {
		r.recorder.RecordInvocation(label, result.ExitCode, duration)
	}

	r.logger.Debug().
		Str("command", label).
		Int("exit_code", result.ExitCode).
		Dur("duration", duration).
		Msg("Engine command finished")

	switch {
	case ctx.Err() != nil:
		return result, newExecutionError(result, engine.CodeCancelled,
			"engine command cancelled", errors.Join(ctx.Err(), stopErr))
	case stopErr != nil:
		return result, newExecutionError(result, engine.CodeProgramFailed,
			"program failed", stopErr)
	case runErr != nil || result.ExitCode != 0:
		return result, newExecutionError(result, engine.CodeNonZeroExit,
			fmt.Sprintf("engine command failed with exit code %d", result.ExitCode), nil)
	}
	return result, nil
}

func exitCode(cmd *exec.Cmd, runErr error) int {
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return exitErr.ExitCode()
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if runErr != nil {
		return -1
	}
	return 0
}

func spawnError(binary, label string, err error) error {
	code := engine.CodeBinaryNotFound
	if errors.Is(err, fs.ErrPermission) {
		code = engine.CodePermissionDenied
	}
	return engine.NewSpawnError(fmt.Sprintf("failed to start engine binary %q", binary), err).
		WithCode(code).
		WithOperation(label)
}

// stopAll stops attachments in reverse start order and joins their errors.
func stopAll(ctx context.Context, started []Attachment) error {
	var errs []error
	for i := len(started) - 1; i >= 0; i-- {
		if err := started[i].Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildEnv(inherit bool, overlay map[string]string) []string {
	var env []string
	if inherit {
		env = os.Environ()
	}
	keys := make([]string, 0, len(overlay))
	for k := range overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+overlay[k])
	}
	return env
}

// ExecutionError reports an engine process that did not succeed.
type ExecutionError struct {
	// Err is the classified error; its Kind is always KindEngineExecution.
	Err *engine.Error

	// ExitCode is the process exit code, -1 when killed by a signal.
	ExitCode int

	// Stdout and Stderr are the captured process output.
	Stdout string
	Stderr string
}

func newExecutionError(result *Result, code, message string, cause error) *ExecutionError {
	return &ExecutionError{
		Err: engine.NewExecutionError(message, cause).
			WithCode(code).
			WithOperation(result.Command).
			WithStderr(strings.TrimSpace(result.Stderr)),
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
	}
}

func (e *ExecutionError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the classified error.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// AsExecutionError returns the execution error in err's chain, if any.
func AsExecutionError(err error) (*ExecutionError, bool) {
	var e *ExecutionError
	ok := errors.As(err, &e)
	return e, ok
}
