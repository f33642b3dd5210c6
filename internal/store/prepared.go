package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PendingRefresh is a stored queue snapshot of a prepared transaction.
type PendingRefresh struct {
	GID       string
	Snapshot  []byte
	QueueSize int
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SavePending stores the snapshot for p.GID. A second save for the same
// gid fails: a global transaction is prepared once.
func (s *Store) SavePending(ctx context.Context, q DBTX, p PendingRefresh) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO tview_pending_refreshes (gid, snapshot, queue_size, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.GID, p.Snapshot, p.QueueSize, p.CreatedAt.UnixMilli(), p.ExpiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save pending refresh %s: %w", p.GID, err)
	}
	return nil
}

// LoadPending reads the snapshot for gid. ok is false when none exists.
func (s *Store) LoadPending(ctx context.Context, q DBTX, gid string) (p PendingRefresh, ok bool, err error) {
	var created, expires int64
	err = q.QueryRowContext(ctx, `
		SELECT gid, snapshot, queue_size, created_at, expires_at
		FROM tview_pending_refreshes WHERE gid = ?
	`, gid).Scan(&p.GID, &p.Snapshot, &p.QueueSize, &created, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return PendingRefresh{}, false, nil
	}
	if err != nil {
		return PendingRefresh{}, false, fmt.Errorf("load pending refresh %s: %w", gid, err)
	}
	p.CreatedAt = time.UnixMilli(created).UTC()
	p.ExpiresAt = time.UnixMilli(expires).UTC()
	return p, true, nil
}

// DeletePending removes the snapshot for gid and reports whether it existed.
func (s *Store) DeletePending(ctx context.Context, q DBTX, gid string) (bool, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM tview_pending_refreshes WHERE gid = ?`, gid)
	if err != nil {
		return false, fmt.Errorf("delete pending refresh %s: %w", gid, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListPending returns every stored snapshot, oldest first.
func (s *Store) ListPending(ctx context.Context, q DBTX) ([]PendingRefresh, error) {
	return s.queryPending(ctx, q, `
		SELECT gid, snapshot, queue_size, created_at, expires_at
		FROM tview_pending_refreshes ORDER BY created_at ASC, gid ASC
	`)
}

// ExpiredPending returns snapshots whose expires_at is at or before now.
func (s *Store) ExpiredPending(ctx context.Context, q DBTX, now time.Time) ([]PendingRefresh, error) {
	return s.queryPending(ctx, q, `
		SELECT gid, snapshot, queue_size, created_at, expires_at
		FROM tview_pending_refreshes WHERE expires_at <= ?
		ORDER BY created_at ASC, gid ASC
	`, now.UnixMilli())
}

func (s *Store) queryPending(ctx context.Context, q DBTX, query string, args ...any) ([]PendingRefresh, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending refreshes: %w", err)
	}
	defer rows.Close()

	var out []PendingRefresh
	for rows.Next() {
		var p PendingRefresh
		var created, expires int64
		if err := rows.Scan(&p.GID, &p.Snapshot, &p.QueueSize, &created, &expires); err != nil {
			return nil, fmt.Errorf("list pending refreshes: scan: %w", err)
		}
		p.CreatedAt = time.UnixMilli(created).UTC()
		p.ExpiresAt = time.UnixMilli(expires).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkPrepared adds gid to the host's in-doubt list.
func (s *Store) MarkPrepared(ctx context.Context, q DBTX, gid string, at time.Time) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO prepared_xacts (gid, prepared_at) VALUES (?, ?)`, gid, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("mark prepared %s: %w", gid, err)
	}
	return nil
}

// ResolvePrepared removes gid from the in-doubt list and reports whether
// it was there.
func (s *Store) ResolvePrepared(ctx context.Context, q DBTX, gid string) (bool, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM prepared_xacts WHERE gid = ?`, gid)
	if err != nil {
		return false, fmt.Errorf("resolve prepared %s: %w", gid, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// InDoubt lists the gids of prepared, unresolved transactions.
func (s *Store) InDoubt(ctx context.Context, q DBTX) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT gid FROM prepared_xacts ORDER BY gid ASC`)
	if err != nil {
		return nil, fmt.Errorf("list in-doubt transactions: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var gid string
		if err := rows.Scan(&gid); err != nil {
			return nil, fmt.Errorf("list in-doubt transactions: scan: %w", err)
		}
		out = append(out, gid)
	}
	return out, rows.Err()
}
