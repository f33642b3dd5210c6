package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Audit operations.
const (
	AuditCreate  = "CREATE"
	AuditDrop    = "DROP"
	AuditRefresh = "REFRESH"
)

// AuditEntry is one row of the audit log.
type AuditEntry struct {
	ID        string          `json:"id"`
	Seq       int64           `json:"seq"`
	At        time.Time       `json:"at"`
	Operation string          `json:"operation"`
	Entity    string          `json:"entity"`
	Details   json.RawMessage `json:"details"`
}

// AppendAudit records an operation. Seq is assigned by the store.
func (s *Store) AppendAudit(ctx context.Context, q DBTX, e AuditEntry) error {
	details := string(e.Details)
	if details == "" {
		details = "{}"
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO tview_audit_log (id, seq, at, operation, entity, details)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM tview_audit_log), ?, ?, ?, ?)
	`, e.ID, e.At.UnixMilli(), e.Operation, e.Entity, details)
	if err != nil {
		return fmt.Errorf("append audit %s %s: %w", e.Operation, e.Entity, err)
	}
	return nil
}

// ListAudit returns audit entries in sequence order, optionally filtered
// by entity, at most limit rows (0 for all).
func (s *Store) ListAudit(ctx context.Context, q DBTX, entity string, limit int) ([]AuditEntry, error) {
	query := `SELECT id, seq, at, operation, entity, details FROM tview_audit_log`
	var args []any
	if entity != "" {
		query += ` WHERE entity = ?`
		args = append(args, entity)
	}
	query += ` ORDER BY seq ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var at int64
		var details string
		if err := rows.Scan(&e.ID, &e.Seq, &at, &e.Operation, &e.Entity, &details); err != nil {
			return nil, fmt.Errorf("list audit: scan: %w", err)
		}
		e.At = time.UnixMilli(at).UTC()
		e.Details = json.RawMessage(details)
		out = append(out, e)
	}
	return out, rows.Err()
}
