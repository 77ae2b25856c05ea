package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/openfroyo/autostack/pkg/engine"
)

const (
	operationColumns = `id, stack, kind, status, started_at, completed_at, error, summary, metadata, created_at, updated_at`
	eventColumns     = `id, operation_id, sequence, type, level, message, payload, timestamp`
	auditColumns     = `id, action, actor, stack, details, timestamp`
)

type rowScanner interface {
	Scan(dest ...any) error
}

// queryAll runs query and scans every row with scan.
func queryAll[T any](ctx context.Context, db *sql.DB, scan func(rowScanner) (*T, error), query string, args ...any) ([]*T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanOperation(row rowScanner) (*Operation, error) {
	op := &Operation{}
	err := row.Scan(&op.ID, &op.Stack, &op.Kind, &op.Status, &op.StartedAt, &op.CompletedAt,
		&op.Error, &op.Summary, &op.Metadata, &op.CreatedAt, &op.UpdatedAt)
	return op, err
}

func scanEvent(row rowScanner) (*Event, error) {
	ev := &Event{}
	err := row.Scan(&ev.ID, &ev.OperationID, &ev.Sequence, &ev.Type, &ev.Level, &ev.Message, &ev.Payload, &ev.Timestamp)
	return ev, err
}

func scanAuditEntry(row rowScanner) (*AuditEntry, error) {
	e := &AuditEntry{}
	err := row.Scan(&e.ID, &e.Action, &e.Actor, &e.Stack, &e.Details, &e.Timestamp)
	return e, err
}

func operationNotFound(id string) error {
	return engine.NewNotFoundError(fmt.Sprintf("operation not found: %s", id), nil).WithDetail("operation_id", id)
}

// CreateOperation records a started operation. StartedAt, the bookkeeping
// timestamps, Metadata and Status are filled in when empty.
func (s *SQLiteStore) CreateOperation(ctx context.Context, op *Operation) error {
	now := time.Now().UTC()
	for _, ts := range []*time.Time{&op.StartedAt, &op.CreatedAt, &op.UpdatedAt} {
		if ts.IsZero() {
			*ts = now
		}
	}
	if op.Metadata == "" {
		op.Metadata = "{}"
	}
	if op.Status == "" {
		op.Status = OperationStatusRunning
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO operations (`+operationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.Stack, op.Kind, op.Status, op.StartedAt, op.CompletedAt,
		op.Error, op.Summary, op.Metadata, op.CreatedAt, op.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to record operation %s: %w", op.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetOperation(ctx context.Context, id string) (*Operation, error) {
	op, err := scanOperation(s.db.QueryRowContext(ctx,
		`SELECT `+operationColumns+` FROM operations WHERE id = ?`, id))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, operationNotFound(id)
	case err != nil:
		return nil, fmt.Errorf("failed to read operation %s: %w", id, err)
	}
	return op, nil
}

// CompleteOperation stores the final status, summary and error of an
// operation. Only terminal statuses are accepted.
func (s *SQLiteStore) CompleteOperation(ctx context.Context, id string, status OperationStatus, summary *string, errMsg *string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %q does not complete an operation", status)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE operations SET status = ?, summary = ?, error = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		status, summary, errMsg, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to complete operation %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to complete operation %s: %w", id, err)
	} else if n == 0 {
		return operationNotFound(id)
	}
	return nil
}

// ListOperations returns operations newest first. A nil stack lists every
// stack.
func (s *SQLiteStore) ListOperations(ctx context.Context, stack *string, limit, offset int) ([]*Operation, error) {
	ops, err := queryAll(ctx, s.db, scanOperation,
		`SELECT `+operationColumns+` FROM operations
		WHERE (? IS NULL OR stack = ?)
		ORDER BY started_at DESC, created_at DESC
		LIMIT ? OFFSET ?`,
		stack, stack, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	return ops, nil
}

// AppendEvent stores one engine event and sets event.ID.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (operation_id, sequence, type, level, message, payload, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.OperationID, event.Sequence, event.Type, event.Level, event.Message, event.Payload, event.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append event %d of operation %s: %w", event.Sequence, event.OperationID, err)
	}
	if event.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read event id: %w", err)
	}
	return nil
}

// GetEvents returns the events of an operation in sequence order, optionally
// only those at level.
func (s *SQLiteStore) GetEvents(ctx context.Context, operationID string, level *EventLevel, limit, offset int) ([]*Event, error) {
	events, err := queryAll(ctx, s.db, scanEvent,
		`SELECT `+eventColumns+` FROM events
		WHERE operation_id = ? AND (? IS NULL OR level = ?)
		ORDER BY sequence ASC, id ASC
		LIMIT ? OFFSET ?`,
		operationID, level, level, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to read events of operation %s: %w", operationID, err)
	}
	return events, nil
}

// CreateAuditEntry stores entry and sets entry.ID.
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO audit (action, actor, stack, details, timestamp) VALUES (?, ?, ?, ?, ?)`,
		entry.Action, entry.Actor, entry.Stack, entry.Details, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to record %s audit entry: %w", entry.Action, err)
	}
	if entry.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read audit entry id: %w", err)
	}
	return nil
}

// ListAuditEntries returns audit entries newest first, filtered by action
// and stack when those are non-nil.
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, action *string, stack *string, limit, offset int) ([]*AuditEntry, error) {
	entries, err := queryAll(ctx, s.db, scanAuditEntry,
		`SELECT `+auditColumns+` FROM audit
		WHERE (? IS NULL OR action = ?) AND (? IS NULL OR stack = ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?`,
		action, action, stack, stack, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, nil
}
