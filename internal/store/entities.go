package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/tview/internal/catalog"
)

// ErrEntityExists is returned when saving an entity whose name is taken.
var ErrEntityExists = errors.New("entity metadata already exists")

// ErrEntityNotFound is returned when no metadata row matches.
var ErrEntityNotFound = errors.New("entity metadata not found")

// SaveEntity inserts the metadata row for e.
func (s *Store) SaveEntity(ctx context.Context, q DBTX, e *catalog.Entity) error {
	def, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("save entity %s: %w", e.Name, err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO tview_entities (name, source, definition, created_at)
		VALUES (?, ?, ?, ?)
	`, e.Name, e.Source, string(def), e.CreatedAt.UnixMilli())
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return fmt.Errorf("save entity %s: %w", e.Name, ErrEntityExists)
		}
		return fmt.Errorf("save entity %s: %w", e.Name, err)
	}
	return nil
}

// DeleteEntity removes the metadata row of name; its documents follow via
// ON DELETE CASCADE.
func (s *Store) DeleteEntity(ctx context.Context, q DBTX, name string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM tview_entities WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete entity %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete entity %s: %w", name, ErrEntityNotFound)
	}
	return nil
}

// LoadEntity reads one entity definition.
func (s *Store) LoadEntity(ctx context.Context, q DBTX, name string) (*catalog.Entity, error) {
	var def string
	err := q.QueryRowContext(ctx,
		`SELECT definition FROM tview_entities WHERE name = ?`, name).Scan(&def)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load entity %s: %w", name, ErrEntityNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load entity %s: %w", name, err)
	}
	return decodeEntity(name, def)
}

// LoadEntities reads every entity definition ordered by name.
func (s *Store) LoadEntities(ctx context.Context, q DBTX) ([]*catalog.Entity, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT name, definition FROM tview_entities ORDER BY name COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("load entities: %w", err)
	}
	defer rows.Close()

	var out []*catalog.Entity
	for rows.Next() {
		var name, def string
		if err := rows.Scan(&name, &def); err != nil {
			return nil, fmt.Errorf("load entities: scan: %w", err)
		}
		e, err := decodeEntity(name, def)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load entities: %w", err)
	}
	return out, nil
}

// TableUsers counts the entities other than except whose source is table.
func (s *Store) TableUsers(ctx context.Context, q DBTX, table, except string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tview_entities WHERE source = ? AND name <> ?`,
		table, except).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count users of %s: %w", table, err)
	}
	return n, nil
}

func decodeEntity(name, def string) (*catalog.Entity, error) {
	var e catalog.Entity
	if err := json.Unmarshal([]byte(def), &e); err != nil {
		return nil, fmt.Errorf("decode entity %s: %w", name, err)
	}
	return &e, nil
}
