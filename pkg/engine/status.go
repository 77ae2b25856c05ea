package engine

import (
	"encoding/json"
	"fmt"
)

// OperationKind is the kind of stack operation, as recorded in update history.
type OperationKind string

const (
	// OperationUpdate creates or updates resources to match the program.
	OperationUpdate OperationKind = "update"

	// OperationPreview computes changes without applying them.
	OperationPreview OperationKind = "preview"

	// OperationRefresh reconciles recorded state with the real resources.
	OperationRefresh OperationKind = "refresh"

	// OperationDestroy deletes every resource in the stack.
	OperationDestroy OperationKind = "destroy"

	// OperationImport replaces stack state with an imported deployment.
	OperationImport OperationKind = "import"
)

// IsMutating returns true if the operation changes resource state.
func (o OperationKind) IsMutating() bool {
	return o == OperationUpdate || o == OperationRefresh ||
		o == OperationDestroy || o == OperationImport
}

// Verb returns the engine command that performs the operation.
func (o OperationKind) Verb() string {
	if o == OperationUpdate {
		return "up"
	}
	return string(o)
}

// Validate checks if the operation kind is valid.
func (o OperationKind) Validate() error {
	switch o {
	case OperationUpdate, OperationPreview, OperationRefresh,
		OperationDestroy, OperationImport:
		return nil
	default:
		return fmt.Errorf("invalid operation kind: %s", o)
	}
}

// UpdateStatus is the outcome recorded for an update in stack history.
type UpdateStatus string

const (
	// UpdateStatusNotStarted indicates the update was queued but never ran.
	UpdateStatusNotStarted UpdateStatus = "not-started"

	// UpdateStatusInProgress indicates the update is still running.
	UpdateStatusInProgress UpdateStatus = "in-progress"

	// UpdateStatusSucceeded indicates the update completed successfully.
	UpdateStatusSucceeded UpdateStatus = "succeeded"

	// UpdateStatusFailed indicates the update failed.
	UpdateStatusFailed UpdateStatus = "failed"
)

// IsTerminal returns true if the update status represents a final state.
func (s UpdateStatus) IsTerminal() bool {
	return s == UpdateStatusSucceeded || s == UpdateStatusFailed
}

// Validate checks if the update status is valid.
func (s UpdateStatus) Validate() error {
	switch s {
	case UpdateStatusNotStarted, UpdateStatusInProgress,
		UpdateStatusSucceeded, UpdateStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid update status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s UpdateStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *UpdateStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = UpdateStatus(str)
	return s.Validate()
}

// OpType is the per-resource step the engine reports in change summaries.
type OpType string

const (
	// OpSame indicates the resource is unchanged.
	OpSame OpType = "same"

	// OpCreate indicates a new resource is created.
	OpCreate OpType = "create"

	// OpUpdate indicates an existing resource is updated in place.
	OpUpdate OpType = "update"

	// OpDelete indicates an existing resource is deleted.
	OpDelete OpType = "delete"

	// OpReplace indicates a resource is replaced.
	OpReplace OpType = "replace"

	// OpCreateReplacement indicates the new half of a replacement.
	OpCreateReplacement OpType = "create-replacement"

	// OpDeleteReplaced indicates the old half of a replacement.
	OpDeleteReplaced OpType = "delete-replaced"

	// OpRead indicates an external resource is read.
	OpRead OpType = "read"

	// OpRefresh indicates a resource is refreshed.
	OpRefresh OpType = "refresh"

	// OpImport indicates an existing resource is imported.
	OpImport OpType = "import"
)

// IsDestructive returns true if the step removes a resource.
func (o OpType) IsDestructive() bool {
	return o == OpDelete || o == OpReplace || o == OpDeleteReplaced
}
