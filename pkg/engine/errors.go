package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure so callers can branch without parsing messages.
type ErrorKind string

const (
	// KindParse indicates malformed input: a settings file, a version string,
	// or engine JSON output that could not be decoded.
	KindParse ErrorKind = "parse"

	// KindNotFound indicates a missing stack, plugin, settings file or config key.
	KindNotFound ErrorKind = "not_found"

	// KindAlreadyExists indicates a stack that was created twice.
	KindAlreadyExists ErrorKind = "already_exists"

	// KindVersionMismatch indicates the engine binary is incompatible.
	// The Code distinguishes a major mismatch from a minimum version failure.
	KindVersionMismatch ErrorKind = "version_mismatch"

	// KindAuthentication indicates the engine is not logged in to a backend.
	KindAuthentication ErrorKind = "authentication"

	// KindSpawn indicates the engine binary could not be started.
	KindSpawn ErrorKind = "spawn"

	// KindEngineExecution indicates the engine exited non-zero, was cancelled,
	// or an inline program failed while the engine was running it.
	KindEngineExecution ErrorKind = "engine_execution"

	// KindPolicyDenied indicates an operation guard rejected the operation
	// before the engine was started.
	KindPolicyDenied ErrorKind = "policy_denied"
)

// Error represents a classified error with context.
type Error struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Stack is the fully qualified stack name involved, if applicable.
	Stack string `json:"stack,omitempty"`

	// Operation is the engine verb being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Stderr carries the engine's standard error output, verbatim.
	Stderr string `json:"stderr,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	switch {
	case e.Stack != "" && e.Operation != "":
		msg = fmt.Sprintf("%s (stack=%s, operation=%s)", msg, e.Stack, e.Operation)
	case e.Stack != "":
		msg = fmt.Sprintf("%s (stack=%s)", msg, e.Stack)
	case e.Operation != "":
		msg = fmt.Sprintf("%s (operation=%s)", msg, e.Operation)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg = msg + "\nstderr: " + e.Stderr
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
// A target without a Code matches every error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	return t.Code == "" || e.Code == t.Code
}

// Sentinels for errors.Is checks by kind.
var (
	ErrParse           = &Error{Kind: KindParse}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrAlreadyExists   = &Error{Kind: KindAlreadyExists}
	ErrVersionMismatch = &Error{Kind: KindVersionMismatch}
	ErrAuthentication  = &Error{Kind: KindAuthentication}
	ErrSpawn           = &Error{Kind: KindSpawn}
	ErrEngineExecution = &Error{Kind: KindEngineExecution}
	ErrPolicyDenied    = &Error{Kind: KindPolicyDenied}
)

func newError(kind ErrorKind, message string, err error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// NewParseError creates a new parse error.
func NewParseError(message string, err error) *Error {
	return newError(KindParse, message, err)
}

// NewNotFoundError creates a new not found error.
func NewNotFoundError(message string, err error) *Error {
	return newError(KindNotFound, message, err)
}

// NewAlreadyExistsError creates a new already exists error.
func NewAlreadyExistsError(message string, err error) *Error {
	return newError(KindAlreadyExists, message, err)
}

// NewVersionMismatchError creates a new version mismatch error.
func NewVersionMismatchError(message string, err error) *Error {
	return newError(KindVersionMismatch, message, err)
}

// NewAuthenticationError creates a new authentication error.
func NewAuthenticationError(message string, err error) *Error {
	return newError(KindAuthentication, message, err)
}

// NewSpawnError creates a new spawn error.
func NewSpawnError(message string, err error) *Error {
	return newError(KindSpawn, message, err)
}

// NewExecutionError creates a new engine execution error.
func NewExecutionError(message string, err error) *Error {
	return newError(KindEngineExecution, message, err)
}

// NewPolicyDeniedError creates a new policy denied error.
func NewPolicyDeniedError(message string, err error) *Error {
	return newError(KindPolicyDenied, message, err)
}

// WithStack adds stack context to an error.
func (e *Error) WithStack(stack string) *Error {
	e.Stack = stack
	return e
}

// WithOperation adds operation context to an error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithStderr attaches engine stderr to an error.
func (e *Error) WithStderr(stderr string) *Error {
	e.Stderr = stderr
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// KindOf returns the kind of the first classified error in the chain,
// or the empty kind when err carries no classification.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the code of the first classified error in the chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsParse returns true if the error is classified as a parse error.
func IsParse(err error) bool {
	return errors.Is(err, ErrParse)
}

// IsNotFound returns true if the error is classified as not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists returns true if the error is classified as already exists.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsVersionMismatch returns true if the error is a version mismatch of either code.
func IsVersionMismatch(err error) bool {
	return errors.Is(err, ErrVersionMismatch)
}

// IsAuthentication returns true if the error is an authentication failure.
func IsAuthentication(err error) bool {
	return errors.Is(err, ErrAuthentication)
}

// IsSpawn returns true if the engine binary could not be started.
func IsSpawn(err error) bool {
	return errors.Is(err, ErrSpawn)
}

// IsEngineExecution returns true if the engine or an inline program failed.
func IsEngineExecution(err error) bool {
	return errors.Is(err, ErrEngineExecution)
}

// IsPolicyDenied returns true if an operation guard rejected the operation.
func IsPolicyDenied(err error) bool {
	return errors.Is(err, ErrPolicyDenied)
}

// Common error codes.
const (
	CodeInvalidVersion   = "INVALID_VERSION"
	CodeMajorMismatch    = "MAJOR_MISMATCH"
	CodeMinimumVersion   = "MINIMUM_VERSION"
	CodeStackExists      = "STACK_EXISTS"
	CodeStackNotFound    = "STACK_NOT_FOUND"
	CodePluginNotFound   = "PLUGIN_NOT_FOUND"
	CodeConfigNotFound   = "CONFIG_NOT_FOUND"
	CodeInvalidConfigKey = "INVALID_CONFIG_KEY"
	CodeSettingsNotFound = "SETTINGS_NOT_FOUND"
	CodeInvalidSettings  = "INVALID_SETTINGS"
	CodeInvalidOutput    = "INVALID_OUTPUT"
	CodeBinaryNotFound   = "BINARY_NOT_FOUND"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeNotLoggedIn      = "NOT_LOGGED_IN"
	CodeNonZeroExit      = "NON_ZERO_EXIT"
	CodeCancelled        = "CANCELLED"
	CodeProgramFailed    = "PROGRAM_FAILED"
	CodeConcurrentUpdate = "CONCURRENT_UPDATE"
	CodeMissingSummary   = "MISSING_SUMMARY"
)
