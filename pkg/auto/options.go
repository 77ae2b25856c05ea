package auto

import (
	"io"
	"strconv"

	"github.com/openfroyo/autostack/pkg/events"
	"github.com/openfroyo/autostack/pkg/policy"
	"github.com/openfroyo/autostack/pkg/program"
	"github.com/openfroyo/autostack/pkg/settings"
	"github.com/openfroyo/autostack/pkg/stores"
	"github.com/openfroyo/autostack/pkg/telemetry"
)

// LocalWorkspaceOption configures a LocalWorkspace.
type LocalWorkspaceOption func(*localWorkspaceOptions)

type localWorkspaceOptions struct {
	workDir          string
	engineHome       string
	engineBinary     string
	program          program.RunFunc
	envVars          map[string]string
	secretsProvider  string
	project          *settings.Project
	defaultProject   string
	stacks           map[string]settings.Stack
	skipVersionCheck bool
	schemas          *settings.SchemaRegistry
	telemetry        *telemetry.Telemetry
	journal          stores.Store
	guard            *policy.Guard
}

// WithWorkDir sets the directory the engine runs in. It holds the project and
// stack settings files. Without it a temporary directory is created, which
// the workspace owns and Close removes.
func WithWorkDir(dir string) LocalWorkspaceOption {
	return func(o *localWorkspaceOptions) {
		o.workDir = dir
	}
}

// WithEngineHome sets the engine's home directory (PULUMI_HOME), where
// plugins and local credentials live.
func WithEngineHome(dir string) LocalWorkspaceOption {
	return func(o *localWorkspaceOptions) {
		o.engineHome = dir
	}
}

// WithEngineBinary sets the engine executable. The default is "pulumi" on
// PATH.
func WithEngineBinary(path string) LocalWorkspaceOption {
	return func(o *localWorkspaceOptions) {
		o.engineBinary = path
	}
}

// WithProgram sets the inline program operations run. Inline programs need
// an engine binary that calls back into the program.ServiceName gRPC service;
// an unmodified engine does not.
func WithProgram(fn program.RunFunc) LocalWorkspaceOption {
	return func(o *localWorkspaceOptions) {
		o.program = fn
	}
}

// WithEnvVars sets environment variables for every engine command.
func WithEnvVars(env map[string]string) LocalWorkspaceOption {
	return func(o *localWorkspaceOptions) {
		if o.envVars == nil {
			o.envVars = make(map[string]string, len(env))
		}
		for k, v := range env {
			o.envVars[k] = v
		}
	}
}

// WithSecretsProvider sets the secrets provider used when stacks are created.
func WithSecretsProvider(provider string) LocalWorkspaceOption {
	return func(o *localWorkspaceOptions) {
		o.secretsProvider = provider
	}
}

// WithProject writes the given project settings to the work directory,
// replacing any existing file.
func WithProject(p settings.Project) LocalWorkspaceOption {
	return func(o *localWorkspaceOptions) {
		o.project = &p
	}
}

// withDefaultProject synthesizes go-runtime project settings named name when
// the work directory has none.
func withDefaultProject(name string) LocalWorkspaceOption {
	return func(o *localWorkspaceOptions) {
		o.defaultProject = name
	}
}

// WithStackSettings writes settings files for the given stacks.
func WithStackSettings(stacks map[string]settings.Stack) LocalWorkspaceOption {
	return func(o *localWorkspaceOptions) {
		if o.stacks == nil {
			o.stacks = make(map[string]settings.Stack, len(stacks))
		}
		for k, v := range stacks {
			o.stacks[k] = v
		}
	}
}

// WithSkipVersionCheck disables the engine version check.
func WithSkipVersionCheck() LocalWorkspaceOption {
	return func(o *localWorkspaceOptions) {
		o.skipVersionCheck = true
	}
}

// WithSchemas validates settings files against a custom schema registry.
func WithSchemas(schemas *settings.SchemaRegistry) LocalWorkspaceOption {
	return func(o *localWorkspaceOptions) {
		o.schemas = schemas
	}
}

// WithTelemetry instruments the workspace. Without it nothing is logged or
// recorded.
func WithTelemetry(tel *telemetry.Telemetry) LocalWorkspaceOption {
	return func(o *localWorkspaceOptions) {
		o.telemetry = tel
	}
}

// WithJournal records every lifecycle operation, its engine events, and
// stack and config changes in store.
func WithJournal(store stores.Store) LocalWorkspaceOption {
	return func(o *localWorkspaceOptions) {
		o.journal = store
	}
}

// WithPolicyGuard evaluates guard before every lifecycle operation. A denied
// operation fails with a KindPolicyDenied error and the engine never runs.
func WithPolicyGuard(guard *policy.Guard) LocalWorkspaceOption {
	return func(o *localWorkspaceOptions) {
		o.guard = guard
	}
}

// Option configures a single lifecycle operation. Options that do not apply
// to an operation are ignored by it.
type Option func(*operationOptions)

type operationOptions struct {
	message              string
	targets              []string
	targetDependents     bool
	replace              []string
	parallel             int
	expectNoChanges      bool
	diff                 bool
	userAgent            string
	color                string
	refresh              bool
	debugLogging         bool
	policyPacks          []string
	onEvent              events.Handler
	eventStreams         []chan<- events.EngineEvent
	progressStreams      []io.Writer
	errorProgressStreams []io.Writer
}

func applyOperationOptions(opts []Option) *operationOptions {
	o := &operationOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Message sets the update message recorded in history.
func Message(msg string) Option {
	return func(o *operationOptions) {
		o.message = msg
	}
}

// Targets restricts the operation to the given resource URNs.
func Targets(urns ...string) Option {
	return func(o *operationOptions) {
		o.targets = append(o.targets, urns...)
	}
}

// TargetDependents includes dependents of targeted resources.
func TargetDependents() Option {
	return func(o *operationOptions) {
		o.targetDependents = true
	}
}

// Replace forces replacement of the given resource URNs (up and preview).
func Replace(urns ...string) Option {
	return func(o *operationOptions) {
		o.replace = append(o.replace, urns...)
	}
}

// Parallel limits how many resource operations run at once.
func Parallel(n int) Option {
	return func(o *operationOptions) {
		o.parallel = n
	}
}

// ExpectNoChanges fails the operation if any resource would change.
func ExpectNoChanges() Option {
	return func(o *operationOptions) {
		o.expectNoChanges = true
	}
}

// Diff prints a detailed diff to the progress streams.
func Diff() Option {
	return func(o *operationOptions) {
		o.diff = true
	}
}

// UserAgent identifies the caller to the engine.
func UserAgent(agent string) Option {
	return func(o *operationOptions) {
		o.userAgent = agent
	}
}

// Color sets the engine's color mode (always, never, raw, auto).
func Color(mode string) Option {
	return func(o *operationOptions) {
		o.color = mode
	}
}

// Refresh refreshes state before up, preview or destroy.
func Refresh() Option {
	return func(o *operationOptions) {
		o.refresh = true
	}
}

// DebugLogging turns on the engine's debug output.
func DebugLogging() Option {
	return func(o *operationOptions) {
		o.debugLogging = true
	}
}

// PolicyPacks runs the given policy packs with the operation (up and
// preview).
func PolicyPacks(packs ...string) Option {
	return func(o *operationOptions) {
		o.policyPacks = append(o.policyPacks, packs...)
	}
}

// OnEvent calls handler for every engine event, synchronously and in order.
func OnEvent(handler events.Handler) Option {
	return func(o *operationOptions) {
		o.onEvent = handler
	}
}

// EventStreams sends every engine event to each channel. Sends block; the
// caller closes the channels after the operation returns.
func EventStreams(chs ...chan<- events.EngineEvent) Option {
	return func(o *operationOptions) {
		o.eventStreams = append(o.eventStreams, chs...)
	}
}

// ProgressStreams receives the engine's standard output as it is written.
func ProgressStreams(writers ...io.Writer) Option {
	return func(o *operationOptions) {
		o.progressStreams = append(o.progressStreams, writers...)
	}
}

// ErrorProgressStreams receives the engine's standard error as it is written.
func ErrorProgressStreams(writers ...io.Writer) Option {
	return func(o *operationOptions) {
		o.errorProgressStreams = append(o.errorProgressStreams, writers...)
	}
}

// args renders the options that apply to kind as engine flags.
func (o *operationOptions) args(kind string) []string {
	var args []string
	if o.message != "" && kind != "refresh" {
		args = append(args, "--message", o.message)
	}
	for _, t := range o.targets {
		args = append(args, "--target", t)
	}
	if o.targetDependents {
		args = append(args, "--target-dependents")
	}
	if kind == "up" || kind == "preview" {
		for _, r := range o.replace {
			args = append(args, "--replace", r)
		}
		for _, p := range o.policyPacks {
			args = append(args, "--policy-pack", p)
		}
	}
	if o.parallel > 0 {
		args = append(args, "--parallel", strconv.Itoa(o.parallel))
	}
	if o.expectNoChanges {
		args = append(args, "--expect-no-changes")
	}
	if o.diff {
		args = append(args, "--diff")
	}
	if o.userAgent != "" {
		args = append(args, "--exec-agent", o.userAgent)
	}
	if o.color != "" {
		args = append(args, "--color", o.color)
	}
	if o.refresh && kind != "refresh" {
		args = append(args, "--refresh")
	}
	if o.debugLogging {
		args = append(args, "--logflow", "--verbose=11", "--logtostderr")
	}
	return args
}
