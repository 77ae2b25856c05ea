package auto

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/autostack/pkg/engine"
	"github.com/openfroyo/autostack/pkg/policy"
	"github.com/openfroyo/autostack/pkg/program"
	"github.com/openfroyo/autostack/pkg/runner"
	"github.com/openfroyo/autostack/pkg/settings"
	"github.com/openfroyo/autostack/pkg/stores"
	"github.com/openfroyo/autostack/pkg/telemetry"
	"github.com/openfroyo/autostack/pkg/versionguard"
)

// Environment variables the workspace sets for every engine command.
const (
	EnvEngineHome      = "PULUMI_HOME"
	EnvSkipUpdateCheck = "PULUMI_SKIP_UPDATE_CHECK"
	EnvAutomationAPI   = "PULUMI_AUTOMATION_API"
)

// LocalWorkspace is a Workspace backed by a directory on the local file
// system and the engine binary. It is safe for concurrent use: operations on
// different stacks run in parallel, each in its own engine process.
type LocalWorkspace struct {
	workDir         string
	ownsWorkDir     bool
	engineHome      string
	secretsProvider string
	version         *semver.Version
	versionOutput   string

	runner   *runner.Runner
	settings *settings.Loader
	registry *program.Registry
	tel      *telemetry.Telemetry
	logger   *telemetry.Logger
	journal  stores.Store
	guard    *policy.Guard

	programMu sync.RWMutex
	program   program.RunFunc

	envMu   sync.RWMutex
	envVars map[string]string
}

var _ Workspace = (*LocalWorkspace)(nil)

// NewLocalWorkspace creates a workspace. It checks the engine version and
// writes any project and stack settings given as options. A temporary work
// directory created here is removed by Close, or at once if setup fails.
func NewLocalWorkspace(ctx context.Context, opts ...LocalWorkspaceOption) (_ *LocalWorkspace, err error) {
	o := &localWorkspaceOptions{}
	for _, opt := range opts {
		opt(o)
	}

	workDir := o.workDir
	ownsWorkDir := workDir == ""
	if ownsWorkDir {
		dir, err := os.MkdirTemp("", "autostack-workspace-")
		if err != nil {
			return nil, fmt.Errorf("failed to create work directory: %w", err)
		}
		workDir = dir
		defer func() {
			if err != nil {
				_ = os.RemoveAll(dir)
			}
		}()
	}

	tel := o.telemetry
	if tel == nil {
		tel = telemetry.NewNop()
	}
	logger := tel.Logger.NewComponentLogger("workspace").WithField("work_dir", workDir)

	envVars := make(map[string]string, len(o.envVars))
	for k, v := range o.envVars {
		envVars[k] = v
	}

	w := &LocalWorkspace{
		workDir:         workDir,
		ownsWorkDir:     ownsWorkDir,
		engineHome:      o.engineHome,
		secretsProvider: o.secretsProvider,
		runner: runner.New(runner.Config{
			Binary:   o.engineBinary,
			Logger:   logger.Zerolog(),
			Recorder: tel.Metrics,
		}),
		settings: settings.NewLoader(o.schemas),
		registry: program.NewRegistry(),
		tel:      tel,
		logger:   logger,
		journal:  o.journal,
		guard:    o.guard,
		program:  o.program,
		envVars:  envVars,
	}

	if err := w.checkVersion(ctx, o.skipVersionCheck || versionguard.SkipFromEnv()); err != nil {
		return nil, err
	}

	if o.project != nil {
		if err := w.SaveProjectSettings(ctx, o.project); err != nil {
			return nil, err
		}
	} else if o.defaultProject != "" {
		_, exists, err := settings.ProjectPath(workDir)
		if err != nil {
			return nil, err
		}
		if !exists {
			p := &settings.Project{Name: o.defaultProject, Runtime: settings.NewRuntime("go")}
			if err := w.SaveProjectSettings(ctx, p); err != nil {
				return nil, err
			}
		}
	}

	names := make([]string, 0, len(o.stacks))
	for name := range o.stacks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := o.stacks[name]
		if err := w.SaveStackSettings(ctx, name, &s); err != nil {
			return nil, err
		}
	}

	logger.WithField("engine_version", w.EngineVersion()).Debug("Workspace ready")
	return w, nil
}

func (w *LocalWorkspace) checkVersion(ctx context.Context, optOut bool) error {
	res, err := w.runCommand(ctx, "", "version", "version")
	if err != nil {
		return fmt.Errorf("failed to read engine version: %w", err)
	}
	w.versionOutput = strings.TrimSpace(res.Stdout)

	v, err := versionguard.Check(versionguard.MinimumEngineVersion, res.Stdout, optOut)
	if err != nil {
		return err
	}
	w.version = v
	return nil
}

// runCommand runs a short engine command that is not a lifecycle operation.
func (w *LocalWorkspace) runCommand(ctx context.Context, stack, label string, args ...string) (*runner.Result, error) {
	ctx, span := w.tel.Tracer.StartCommandSpan(ctx, stack, label)
	defer span.End()

	res, err := w.runner.Run(ctx, &runner.Invocation{
		Command:    label,
		Args:       append([]string{"--non-interactive"}, args...),
		Dir:        w.workDir,
		Env:        w.engineEnv(),
		InheritEnv: true,
	})
	if err != nil {
		err = classify(err, stack)
		telemetry.RecordError(span, err)
		w.tel.Metrics.RecordError(err)
		return res, err
	}
	telemetry.RecordSuccess(span)
	return res, nil
}

// runJSON runs an engine command and decodes its standard output into target.
// Empty output leaves target untouched.
func (w *LocalWorkspace) runJSON(ctx context.Context, stack, label string, target interface{}, args ...string) error {
	res, err := w.runCommand(ctx, stack, label, args...)
	if err != nil {
		return err
	}
	out := strings.TrimSpace(res.Stdout)
	if out == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(out), target); err != nil {
		return engine.NewParseError(fmt.Sprintf("failed to decode output of %s", label), err).
			WithCode(engine.CodeInvalidOutput).
			WithStack(stack).
			WithOperation(label)
	}
	return nil
}

// engineEnv returns the environment for an engine process.
func (w *LocalWorkspace) engineEnv() map[string]string {
	w.envMu.RLock()
	env := make(map[string]string, len(w.envVars)+3)
	for k, v := range w.envVars {
		env[k] = v
	}
	w.envMu.RUnlock()

	if w.engineHome != "" {
		env[EnvEngineHome] = w.engineHome
	}
	env[EnvSkipUpdateCheck] = "true"
	env[EnvAutomationAPI] = "true"
	return env
}

// WorkDir returns the directory the engine runs in.
func (w *LocalWorkspace) WorkDir() string {
	return w.workDir
}

// Close removes the work directory if the workspace created it. A directory
// passed with WithWorkDir belongs to the caller and is left alone.
func (w *LocalWorkspace) Close() error {
	if !w.ownsWorkDir {
		return nil
	}
	if err := os.RemoveAll(w.workDir); err != nil {
		return fmt.Errorf("failed to remove work directory %s: %w", w.workDir, err)
	}
	w.logger.Debug("Work directory removed")
	return nil
}

// EngineHome returns the engine home directory, if one was set.
func (w *LocalWorkspace) EngineHome() string {
	return w.engineHome
}

// EngineVersion returns the engine version. When the version check was
// skipped and the output did not parse, the raw output is returned.
func (w *LocalWorkspace) EngineVersion() string {
	if w.version != nil {
		return w.version.String()
	}
	return w.versionOutput
}

// Program returns the inline program, if any.
func (w *LocalWorkspace) Program() program.RunFunc {
	w.programMu.RLock()
	defer w.programMu.RUnlock()
	return w.program
}

// SetProgram replaces the inline program.
func (w *LocalWorkspace) SetProgram(fn program.RunFunc) {
	w.programMu.Lock()
	defer w.programMu.Unlock()
	w.program = fn
}

// Registry returns the session registry shared by the workspace's inline
// program servers.
func (w *LocalWorkspace) Registry() *program.Registry {
	return w.registry
}

// Telemetry returns the telemetry the workspace reports to.
func (w *LocalWorkspace) Telemetry() *telemetry.Telemetry {
	return w.tel
}

// Journal returns the operation journal, or nil.
func (w *LocalWorkspace) Journal() stores.Store {
	return w.journal
}

// GetEnvVars returns a copy of the environment variables passed to the engine.
func (w *LocalWorkspace) GetEnvVars() map[string]string {
	w.envMu.RLock()
	defer w.envMu.RUnlock()
	env := make(map[string]string, len(w.envVars))
	for k, v := range w.envVars {
		env[k] = v
	}
	return env
}

// SetEnvVars merges env into the engine environment.
func (w *LocalWorkspace) SetEnvVars(env map[string]string) error {
	if env == nil {
		return errors.New("env vars must not be nil")
	}
	w.envMu.Lock()
	defer w.envMu.Unlock()
	for k, v := range env {
		w.envVars[k] = v
	}
	return nil
}

// SetEnvVar sets one engine environment variable.
func (w *LocalWorkspace) SetEnvVar(key, value string) {
	w.envMu.Lock()
	defer w.envMu.Unlock()
	w.envVars[key] = value
}

// UnsetEnvVar removes one engine environment variable.
func (w *LocalWorkspace) UnsetEnvVar(key string) {
	w.envMu.Lock()
	defer w.envMu.Unlock()
	delete(w.envVars, key)
}

// ProjectSettings reads the project settings file in the work directory.
func (w *LocalWorkspace) ProjectSettings(_ context.Context) (*settings.Project, error) {
	return w.settings.LoadProject(w.workDir)
}

// SaveProjectSettings writes the project settings file, keeping the format of
// an existing file.
func (w *LocalWorkspace) SaveProjectSettings(_ context.Context, p *settings.Project) error {
	return w.settings.SaveProject(w.workDir, p)
}

// StackSettings reads the settings file of stack.
func (w *LocalWorkspace) StackSettings(_ context.Context, stack string) (*settings.Stack, error) {
	return w.settings.LoadStack(w.workDir, stack)
}

// SaveStackSettings writes the settings file of stack.
func (w *LocalWorkspace) SaveStackSettings(_ context.Context, stack string, s *settings.Stack) error {
	return w.settings.SaveStack(w.workDir, stack, s)
}

// WhoAmI returns the backend identity of the engine.
func (w *LocalWorkspace) WhoAmI(ctx context.Context) (engine.WhoAmIResult, error) {
	var result engine.WhoAmIResult
	if err := w.runJSON(ctx, "", "whoami", &result, "whoami", "--json"); err != nil {
		return engine.WhoAmIResult{}, err
	}
	return result, nil
}

// Stack returns the selected stack, or nil when none is selected.
func (w *LocalWorkspace) Stack(ctx context.Context) (*engine.StackSummary, error) {
	stacks, err := w.ListStacks(ctx)
	if err != nil {
		return nil, err
	}
	for i := range stacks {
		if stacks[i].Current {
			return &stacks[i], nil
		}
	}
	return nil, nil
}

// CreateStack creates and selects a new stack. Creating an existing stack
// fails with KindAlreadyExists.
func (w *LocalWorkspace) CreateStack(ctx context.Context, stack string) error {
	if err := ValidateStackName(stack); err != nil {
		return err
	}
	args := []string{"stack", "init", stack}
	if w.secretsProvider != "" {
		args = append(args, "--secrets-provider", w.secretsProvider)
	}
	if _, err := w.runCommand(ctx, stack, "stack init", args...); err != nil {
		return err
	}

	w.audit(ctx, "stack.created", stack, nil)
	w.notifyStackChanged(stack, false)
	return nil
}

// SelectStack selects an existing stack. A missing stack fails with
// KindNotFound.
func (w *LocalWorkspace) SelectStack(ctx context.Context, stack string) error {
	if err := ValidateStackName(stack); err != nil {
		return err
	}
	_, err := w.runCommand(ctx, stack, "stack select", "stack", "select", "--stack", stack)
	return err
}

// RemoveStack deletes a stack and its configuration.
func (w *LocalWorkspace) RemoveStack(ctx context.Context, stack string) error {
	if err := ValidateStackName(stack); err != nil {
		return err
	}
	if _, err := w.runCommand(ctx, stack, "stack rm", "stack", "rm", "--yes", stack); err != nil {
		return err
	}

	w.audit(ctx, "stack.removed", stack, nil)
	w.notifyStackChanged(stack, true)
	return nil
}

// ListStacks returns every stack the backend knows for the project, in
// backend order.
func (w *LocalWorkspace) ListStacks(ctx context.Context) ([]engine.StackSummary, error) {
	stacks := []engine.StackSummary{}
	if err := w.runJSON(ctx, "", "stack ls", &stacks, "stack", "ls", "--json"); err != nil {
		return nil, err
	}
	return stacks, nil
}

// InstallPlugin installs a plugin of kind (resource, language, ...).
func (w *LocalWorkspace) InstallPlugin(ctx context.Context, name, version, kind string) error {
	if kind == "" {
		kind = "resource"
	}
	_, err := w.runCommand(ctx, "", "plugin install", "plugin", "install", kind, name, version)
	return err
}

// RemovePlugin removes an installed plugin. An empty version matches every
// installed version. Removing a plugin that is not installed fails with
// KindNotFound.
func (w *LocalWorkspace) RemovePlugin(ctx context.Context, name, version, kind string) error {
	if kind == "" {
		kind = "resource"
	}
	plugins, err := w.ListPlugins(ctx)
	if err != nil {
		return err
	}

	found := false
	for _, p := range plugins {
		if p.Name == name && p.Kind == kind && (version == "" || p.Version == version) {
			found = true
			break
		}
	}
	if !found {
		return engine.NewNotFoundError(fmt.Sprintf("plugin %s %s %s is not installed", kind, name, version), nil).
			WithCode(engine.CodePluginNotFound)
	}

	args := []string{"plugin", "rm", kind, name}
	if version != "" {
		args = append(args, version)
	}
	_, err = w.runCommand(ctx, "", "plugin rm", append(args, "--yes")...)
	return err
}

// ListPlugins returns the installed plugins.
func (w *LocalWorkspace) ListPlugins(ctx context.Context) ([]engine.PluginInfo, error) {
	plugins := []engine.PluginInfo{}
	if err := w.runJSON(ctx, "", "plugin ls", &plugins, "plugin", "ls", "--json"); err != nil {
		return nil, err
	}
	return plugins, nil
}

// ExportStack returns the deployment state of stack, secrets included.
func (w *LocalWorkspace) ExportStack(ctx context.Context, stack string) (engine.Deployment, error) {
	var state engine.Deployment
	if err := w.runJSON(ctx, stack, "stack export", &state,
		"stack", "export", "--show-secrets", "--stack", stack); err != nil {
		return engine.Deployment{}, err
	}
	return state, nil
}

// ImportStack replaces the deployment state of stack. The state is written
// to a temporary file that is removed afterwards.
func (w *LocalWorkspace) ImportStack(ctx context.Context, stack string, state engine.Deployment) error {
	f, err := os.CreateTemp("", "autostack-import-*.json")
	if err != nil {
		return fmt.Errorf("failed to create import file: %w", err)
	}
	defer os.Remove(f.Name())

	if err := json.NewEncoder(f).Encode(state); err != nil {
		f.Close()
		return fmt.Errorf("failed to write import file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write import file: %w", err)
	}

	if _, err := w.runCommand(ctx, stack, "stack import",
		"stack", "import", "--file", f.Name(), "--stack", stack); err != nil {
		return err
	}

	w.audit(ctx, "stack.imported", stack, map[string]interface{}{"version": state.Version})
	return nil
}

// StackOutputs returns the outputs of stack. The masked and unmasked listings
// are fetched in parallel; an output is secret when its masked value is the
// secret sentinel.
func (w *LocalWorkspace) StackOutputs(ctx context.Context, stack string) (engine.OutputMap, error) {
	var masked, plain map[string]interface{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.runJSON(gctx, stack, "stack output", &masked,
			"stack", "output", "--json", "--stack", stack)
	})
	g.Go(func() error {
		return w.runJSON(gctx, stack, "stack output", &plain,
			"stack", "output", "--json", "--show-secrets", "--stack", stack)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	outputs := make(engine.OutputMap, len(plain))
	for name, value := range plain {
		outputs[name] = engine.OutputValue{
			Value:  value,
			Secret: masked[name] == engine.SecretSentinel,
		}
	}
	return outputs, nil
}

// audit records a journal audit entry when a journal is configured. Journal
// failures are logged and never fail the caller.
func (w *LocalWorkspace) audit(ctx context.Context, action, stack string, details map[string]interface{}) {
	if w.journal == nil {
		return
	}

	entry := &stores.AuditEntry{
		Action: action,
		Actor:  actor(),
	}
	if stack != "" {
		entry.Stack = &stack
	}
	if len(details) > 0 {
		data, err := json.Marshal(details)
		if err == nil {
			s := string(data)
			entry.Details = &s
		}
	}

	if err := w.journal.CreateAuditEntry(context.WithoutCancel(ctx), entry); err != nil {
		w.logger.WithError(err).WithField("action", action).Warn("Failed to record audit entry")
	}
}

func (w *LocalWorkspace) notifyStackChanged(stack string, removed bool) {
	if err := w.tel.Events.StackChanged(stack, removed); err != nil {
		w.logger.WithError(err).Debug("Dropped stack notification")
	}
}

// actor names the local user for audit entries.
func actor() string {
	for _, key := range []string{"USER", "USERNAME"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return "autostack"
}
