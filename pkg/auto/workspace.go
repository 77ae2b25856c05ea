package auto

import (
	"context"

	"github.com/openfroyo/autostack/pkg/config"
	"github.com/openfroyo/autostack/pkg/engine"
	"github.com/openfroyo/autostack/pkg/program"
	"github.com/openfroyo/autostack/pkg/settings"
)

// Workspace is the execution context for stack operations: a program, its
// project and stack settings, and the engine that runs them. Stacks hold a
// Workspace and call back into it for every engine command.
type Workspace interface {
	// ProjectSettings returns the project settings of the workspace.
	ProjectSettings(ctx context.Context) (*settings.Project, error)
	// SaveProjectSettings overwrites the project settings of the workspace.
	SaveProjectSettings(ctx context.Context, p *settings.Project) error
	// StackSettings returns the settings file contents of stack.
	StackSettings(ctx context.Context, stack string) (*settings.Stack, error)
	// SaveStackSettings overwrites the settings file of stack.
	SaveStackSettings(ctx context.Context, stack string, s *settings.Stack) error

	// GetConfig returns the value of key on stack.
	GetConfig(ctx context.Context, stack, key string, opts ...config.Option) (config.Value, error)
	// GetAllConfig returns every config value of stack.
	GetAllConfig(ctx context.Context, stack string) (config.Map, error)
	// SetConfig sets key on stack.
	SetConfig(ctx context.Context, stack, key string, value config.Value, opts ...config.Option) error
	// SetAllConfig sets every value on stack in one engine call.
	SetAllConfig(ctx context.Context, stack string, values config.Map, opts ...config.Option) error
	// RemoveConfig removes key from stack.
	RemoveConfig(ctx context.Context, stack, key string, opts ...config.Option) error
	// RemoveAllConfig removes the given keys from stack in one engine call.
	RemoveAllConfig(ctx context.Context, stack string, keys []string, opts ...config.Option) error
	// RefreshConfig replaces local config with the config of the last update.
	RefreshConfig(ctx context.Context, stack string) (config.Map, error)
	// ConfigStore returns a config store bound to stack.
	ConfigStore(ctx context.Context, stack string) (*config.Store, error)

	// GetTag returns the value of a stack tag.
	GetTag(ctx context.Context, stack, key string) (string, error)
	// SetTag sets a stack tag.
	SetTag(ctx context.Context, stack, key, value string) error
	// RemoveTag removes a stack tag.
	RemoveTag(ctx context.Context, stack, key string) error
	// ListTags returns every tag of stack.
	ListTags(ctx context.Context, stack string) (map[string]string, error)

	// GetEnvVars returns a copy of the environment variables passed to the
	// engine.
	GetEnvVars() map[string]string
	// SetEnvVars merges env into the engine environment.
	SetEnvVars(env map[string]string) error
	// SetEnvVar sets one engine environment variable.
	SetEnvVar(key, value string)
	// UnsetEnvVar removes one engine environment variable.
	UnsetEnvVar(key string)

	// WorkDir returns the directory the engine runs in.
	WorkDir() string
	// Close removes the work directory when the workspace created it.
	Close() error
	// EngineHome returns the engine home directory, if one was set.
	EngineHome() string
	// EngineVersion returns the version of the engine binary.
	EngineVersion() string
	// WhoAmI returns the backend identity of the engine.
	WhoAmI(ctx context.Context) (engine.WhoAmIResult, error)
	// Program returns the inline program, if any.
	Program() program.RunFunc
	// SetProgram replaces the inline program.
	SetProgram(fn program.RunFunc)

	// Stack returns the selected stack, or nil when none is selected.
	Stack(ctx context.Context) (*engine.StackSummary, error)
	// CreateStack creates and selects a new stack.
	CreateStack(ctx context.Context, stack string) error
	// SelectStack selects an existing stack.
	SelectStack(ctx context.Context, stack string) error
	// RemoveStack deletes a stack and its configuration.
	RemoveStack(ctx context.Context, stack string) error
	// ListStacks returns every stack the backend knows for the project.
	ListStacks(ctx context.Context) ([]engine.StackSummary, error)

	// InstallPlugin installs a resource or language plugin.
	InstallPlugin(ctx context.Context, name, version, kind string) error
	// RemovePlugin removes an installed plugin.
	RemovePlugin(ctx context.Context, name, version, kind string) error
	// ListPlugins returns the installed plugins.
	ListPlugins(ctx context.Context) ([]engine.PluginInfo, error)

	// ExportStack returns the deployment state of stack.
	ExportStack(ctx context.Context, stack string) (engine.Deployment, error)
	// ImportStack replaces the deployment state of stack.
	ImportStack(ctx context.Context, stack string, state engine.Deployment) error
	// StackOutputs returns the outputs of stack, with secrets unmasked and
	// marked.
	StackOutputs(ctx context.Context, stack string) (engine.OutputMap, error)
}
