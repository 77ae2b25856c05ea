package auto

import (
	"errors"
	"regexp"
	"strings"

	"github.com/openfroyo/autostack/pkg/engine"
	"github.com/openfroyo/autostack/pkg/runner"
)

var (
	concurrentUpdateRe = regexp.MustCompile(`\[409\] Conflict: Another update is currently in progress`)
	selectStack404Re   = regexp.MustCompile(`no stack named.*found`)
	createStack409Re   = regexp.MustCompile(`stack.*already exists`)
	notLoggedInRe      = regexp.MustCompile(`(?i)not logged in|PULUMI_ACCESS_TOKEN must be set`)
	pluginMissingRe    = regexp.MustCompile(`(?i)no plugin.*found|plugin.*not found`)
	configMissingRe    = regexp.MustCompile(`(?i)configuration key .* not found`)
)

// IsConcurrentUpdateError reports whether the engine refused to run because
// another operation holds the stack lock.
func IsConcurrentUpdateError(err error) bool {
	return stderrMatches(err, concurrentUpdateRe)
}

// IsSelectStack404Error reports whether a stack selection failed because the
// stack does not exist.
func IsSelectStack404Error(err error) bool {
	return stderrMatches(err, selectStack404Re)
}

// IsCreateStack409Error reports whether a stack creation failed because the
// stack already exists.
func IsCreateStack409Error(err error) bool {
	return stderrMatches(err, createStack409Re)
}

// IsCompilationError reports whether the program failed to build.
func IsCompilationError(err error) bool {
	e, ok := runner.AsExecutionError(err)
	if !ok {
		return false
	}
	// dotnet
	if strings.Contains(e.Stdout, "Build FAILED.") {
		return true
	}
	// go
	if strings.Contains(e.Stderr, ": syntax error:") ||
		strings.Contains(e.Stderr, ": undefined:") ||
		strings.Contains(e.Stderr, "Unable to prepare the program") {
		return true
	}
	// typescript
	return strings.Contains(e.Stdout, "Unable to compile TypeScript")
}

// IsRuntimeError reports whether the program built but failed while running.
func IsRuntimeError(err error) bool {
	e, ok := runner.AsExecutionError(err)
	if !ok || IsCompilationError(err) {
		return false
	}
	if e.Err.Code == engine.CodeProgramFailed {
		return true
	}
	return strings.Contains(e.Stderr, "panic: runtime error:") ||
		strings.Contains(e.Stderr, "an unhandled error occurred:") ||
		strings.Contains(e.Stdout, "failed with an unhandled exception") ||
		strings.Contains(e.Stdout, "Traceback (most recent call last):")
}

// IsUnexpectedEngineError reports whether the engine itself crashed.
func IsUnexpectedEngineError(err error) bool {
	e, ok := runner.AsExecutionError(err)
	if !ok {
		return false
	}
	return strings.Contains(e.Stdout, "The Pulumi CLI encountered a fatal error. This is a bug!")
}

func stderrMatches(err error, re *regexp.Regexp) bool {
	e, ok := runner.AsExecutionError(err)
	return ok && re.MatchString(e.Stderr)
}

// classify turns a failed engine command into the error callers branch on.
// Execution errors whose stderr names a well-known condition are reclassified;
// everything else is returned with the stack attached.
func classify(err error, stack string) error {
	if err == nil {
		return nil
	}

	e, ok := runner.AsExecutionError(err)
	if !ok {
		var classified *engine.Error
		if errors.As(err, &classified) && classified.Stack == "" && stack != "" {
			classified.WithStack(stack)
		}
		return err
	}

	if stack != "" {
		e.Err.WithStack(stack)
	}
	stderr := strings.TrimSpace(e.Stderr)

	wrap := func(kind func(string, error) *engine.Error, msg, code string) error {
		out := kind(msg, e).WithCode(code).WithStderr(stderr).WithOperation(e.Err.Operation)
		if stack != "" {
			out.WithStack(stack)
		}
		return out
	}

	switch {
	case e.Err.Code == engine.CodeCancelled, e.Err.Code == engine.CodeProgramFailed:
		return e
	case concurrentUpdateRe.MatchString(stderr):
		e.Err.WithCode(engine.CodeConcurrentUpdate)
		return e
	case notLoggedInRe.MatchString(stderr):
		return wrap(engine.NewAuthenticationError, "engine is not logged in to a backend", engine.CodeNotLoggedIn)
	case selectStack404Re.MatchString(stderr):
		return wrap(engine.NewNotFoundError, "stack not found", engine.CodeStackNotFound)
	case createStack409Re.MatchString(stderr):
		return wrap(engine.NewAlreadyExistsError, "stack already exists", engine.CodeStackExists)
	case configMissingRe.MatchString(stderr):
		return wrap(engine.NewNotFoundError, "config key not found", engine.CodeConfigNotFound)
	case pluginMissingRe.MatchString(stderr):
		return wrap(engine.NewNotFoundError, "plugin not found", engine.CodePluginNotFound)
	}
	return e
}
