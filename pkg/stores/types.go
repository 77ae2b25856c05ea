package stores

import (
	"context"
	"time"
)

// OperationStatus represents the status of a journaled stack operation
type OperationStatus string

const (
	OperationStatusRunning   OperationStatus = "running"
	OperationStatusSucceeded OperationStatus = "succeeded"
	OperationStatusFailed    OperationStatus = "failed"
	OperationStatusCancelled OperationStatus = "cancelled"
)

// IsTerminal reports whether the status ends an operation.
func (s OperationStatus) IsTerminal() bool {
	return s == OperationStatusSucceeded || s == OperationStatusFailed || s == OperationStatusCancelled
}

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Operation is one lifecycle operation (up, preview, refresh, destroy) run
// against a stack
type Operation struct {
	ID          string          `json:"id"`
	Stack       string          `json:"stack"`
	Kind        string          `json:"kind"`
	Status      OperationStatus `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       *string         `json:"error,omitempty"`
	Summary     *string         `json:"summary,omitempty"` // JSON blob
	Metadata    string          `json:"metadata"`          // JSON blob
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Event is one engine event recorded while an operation ran
type Event struct {
	ID          int64      `json:"id"`
	OperationID string     `json:"operation_id"`
	Sequence    int        `json:"sequence"`
	Type        string     `json:"type"`
	Level       EventLevel `json:"level"`
	Message     string     `json:"message"`
	Payload     *string    `json:"payload,omitempty"` // JSON blob
	Timestamp   time.Time  `json:"timestamp"`
}

// AuditEntry represents an audit trail entry
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"` // e.g., "stack.created", "config.set"
	Actor     string    `json:"actor"`
	Stack     *string   `json:"stack,omitempty"`
	Details   *string   `json:"details,omitempty"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// Store defines the interface for the operation journal
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Operation records
	CreateOperation(ctx context.Context, op *Operation) error
	GetOperation(ctx context.Context, id string) (*Operation, error)
	CompleteOperation(ctx context.Context, id string, status OperationStatus, summary *string, errMsg *string) error
	ListOperations(ctx context.Context, stack *string, limit, offset int) ([]*Operation, error)

	// Event log
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, operationID string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Audit trail
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action *string, stack *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
