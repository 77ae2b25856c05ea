package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/autostack/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that are reported but never block.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the operation.
	SeverityError Severity = "error"

	// SeverityCritical blocks the operation.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity denies the operation.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a named Rego module. Its package must define a `deny` set; each
// member is either a message string or an object with message, severity and
// optional extra fields.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations that do not carry one.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is evaluated.
	Enabled bool `json:"enabled"`

	// Builtin marks policies compiled into the guard.
	Builtin bool `json:"builtin,omitempty"`

	// Source is the file the policy was loaded from, if any.
	Source string `json:"source,omitempty"`
}

// ConfigInput is one stack config entry as seen by policies. Secret values are
// never passed to policies.
type ConfigInput struct {
	Value  string `json:"value,omitempty"`
	Secret bool   `json:"secret"`
}

// OperationInput is the document policies evaluate before a stack operation
// runs. It is available to Rego as `input`.
type OperationInput struct {
	// Stack is the fully qualified stack name.
	Stack string `json:"stack"`

	// Project is the project name from the workspace settings.
	Project string `json:"project,omitempty"`

	// Operation is the operation kind (update, preview, refresh, destroy, import).
	Operation string `json:"operation"`

	// Tags are the stack tags, when the engine could report them.
	Tags map[string]string `json:"tags,omitempty"`

	// Config is the stack config keyed by namespaced key.
	Config map[string]ConfigInput `json:"config,omitempty"`

	// DryRun is set for operations that change nothing (preview).
	DryRun bool `json:"dry_run"`

	// User is the identity reported by whoami, if known.
	User string `json:"user,omitempty"`

	// Timestamp is when the evaluation was requested.
	Timestamp time.Time `json:"timestamp"`
}

// Violation is a single policy finding.
type Violation struct {
	// Policy is the name of the policy that produced the finding.
	Policy string `json:"policy"`

	// Message is a human-readable message.
	Message string `json:"message"`

	// Severity decides whether the finding blocks the operation.
	Severity Severity `json:"severity"`

	// Details holds any extra fields the policy attached.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Decision is the outcome of evaluating every enabled policy against one
// operation.
type Decision struct {
	// Allowed is false when any blocking violation was found.
	Allowed bool `json:"allowed"`

	// Violations lists blocking findings.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists non-blocking findings, including policies that failed
	// to evaluate.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the evaluation finished.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Err converts a denying decision into a KindPolicyDenied error. It returns
// nil for allowed decisions.
func (d *Decision) Err(stack, operation string) error {
	if d == nil || d.Allowed {
		return nil
	}

	msgs := make([]string, 0, len(d.Violations))
	names := make([]string, 0, len(d.Violations))
	for _, v := range d.Violations {
		msgs = append(msgs, v.Message)
		names = append(names, v.Policy)
	}

	return engine.NewPolicyDeniedError(
		fmt.Sprintf("%s denied by policy: %s", operation, strings.Join(msgs, "; ")), nil).
		WithStack(stack).
		WithOperation(operation).
		WithDetail("policies", names)
}
