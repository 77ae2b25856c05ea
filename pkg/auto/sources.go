package auto

import (
	"context"

	"github.com/openfroyo/autostack/pkg/program"
)

// NewStackLocalSource creates a stack for the program in workDir, which must
// hold project settings.
func NewStackLocalSource(ctx context.Context, stack, workDir string, opts ...LocalWorkspaceOption) (Stack, error) {
	ws, err := NewLocalWorkspace(ctx, append(opts, WithWorkDir(workDir))...)
	if err != nil {
		return Stack{}, err
	}
	return NewStack(ctx, stack, ws)
}

// UpsertStackLocalSource selects or creates a stack for the program in
// workDir.
func UpsertStackLocalSource(ctx context.Context, stack, workDir string, opts ...LocalWorkspaceOption) (Stack, error) {
	ws, err := NewLocalWorkspace(ctx, append(opts, WithWorkDir(workDir))...)
	if err != nil {
		return Stack{}, err
	}
	return UpsertStack(ctx, stack, ws)
}

// SelectStackLocalSource selects an existing stack for the program in
// workDir.
func SelectStackLocalSource(ctx context.Context, stack, workDir string, opts ...LocalWorkspaceOption) (Stack, error) {
	ws, err := NewLocalWorkspace(ctx, append(opts, WithWorkDir(workDir))...)
	if err != nil {
		return Stack{}, err
	}
	return SelectStack(ctx, stack, ws)
}

// NewStackInlineSource creates a stack that runs fn in-process. Project
// settings named project are written when the work directory has none.
// Without WithWorkDir the work directory is temporary; release it with
// Workspace().Close() once the stack is no longer needed.
func NewStackInlineSource(ctx context.Context, stack, project string, fn program.RunFunc, opts ...LocalWorkspaceOption) (Stack, error) {
	ws, err := inlineWorkspace(ctx, project, fn, opts)
	if err != nil {
		return Stack{}, err
	}
	return closeOnError(ws)(NewStack(ctx, stack, ws))
}

// UpsertStackInlineSource selects or creates a stack that runs fn in-process.
func UpsertStackInlineSource(ctx context.Context, stack, project string, fn program.RunFunc, opts ...LocalWorkspaceOption) (Stack, error) {
	ws, err := inlineWorkspace(ctx, project, fn, opts)
	if err != nil {
		return Stack{}, err
	}
	return closeOnError(ws)(UpsertStack(ctx, stack, ws))
}

// SelectStackInlineSource selects an existing stack that runs fn in-process.
func SelectStackInlineSource(ctx context.Context, stack, project string, fn program.RunFunc, opts ...LocalWorkspaceOption) (Stack, error) {
	ws, err := inlineWorkspace(ctx, project, fn, opts)
	if err != nil {
		return Stack{}, err
	}
	return closeOnError(ws)(SelectStack(ctx, stack, ws))
}

// closeOnError releases ws when the stack could not be set up, since the
// caller never sees it.
func closeOnError(ws *LocalWorkspace) func(Stack, error) (Stack, error) {
	return func(s Stack, err error) (Stack, error) {
		if err != nil {
			_ = ws.Close()
		}
		return s, err
	}
}

func inlineWorkspace(ctx context.Context, project string, fn program.RunFunc, opts []LocalWorkspaceOption) (*LocalWorkspace, error) {
	// Caller options come last so an explicit WithProgram or WithProject wins.
	all := append([]LocalWorkspaceOption{WithProgram(fn), withDefaultProject(project)}, opts...)
	return NewLocalWorkspace(ctx, all...)
}
