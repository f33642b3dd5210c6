package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrVersionConflict is returned when a guarded write finds the document at
// a different version than the one it read.
var ErrVersionConflict = errors.New("document version conflict")

// maxParams keeps statements well under SQLite's bound-parameter limit.
const maxParams = 900

// Document is one materialized derived row.
type Document struct {
	Entity    string
	PK        int64
	Data      json.RawMessage
	Hash      string
	Version   int64
	UpdatedAt time.Time
}

// GetDocument reads one document. ok is false when it does not exist.
func (s *Store) GetDocument(ctx context.Context, q DBTX, entity string, pk int64) (doc Document, ok bool, err error) {
	var data string
	var updated int64
	err = q.QueryRowContext(ctx, `
		SELECT data, hash, version, updated_at
		FROM tview_documents WHERE entity = ? AND pk = ?
	`, entity, pk).Scan(&data, &doc.Hash, &doc.Version, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("get document %s:%d: %w", entity, pk, err)
	}
	doc.Entity, doc.PK = entity, pk
	doc.Data = json.RawMessage(data)
	doc.UpdatedAt = time.UnixMilli(updated).UTC()
	return doc, true, nil
}

// GetDocuments reads the documents of entity for pks with one query per
// chunk of keys. Missing documents are absent from the result.
func (s *Store) GetDocuments(ctx context.Context, q DBTX, entity string, pks []int64) (map[int64]Document, error) {
	out := make(map[int64]Document, len(pks))
	for _, part := range chunk(pks, maxParams-1) {
		args := make([]any, 0, len(part)+1)
		args = append(args, entity)
		for _, pk := range part {
			args = append(args, pk)
		}
		rows, err := q.QueryContext(ctx, `
			SELECT pk, data, hash, version, updated_at
			FROM tview_documents
			WHERE entity = ? AND pk IN (`+placeholders(len(part))+`)
		`, args...)
		if err != nil {
			return nil, fmt.Errorf("get documents %s: %w", entity, err)
		}
		for rows.Next() {
			var d Document
			var data string
			var updated int64
			if err := rows.Scan(&d.PK, &data, &d.Hash, &d.Version, &updated); err != nil {
				rows.Close()
				return nil, fmt.Errorf("get documents %s: scan: %w", entity, err)
			}
			d.Entity = entity
			d.Data = json.RawMessage(data)
			d.UpdatedAt = time.UnixMilli(updated).UTC()
			out[d.PK] = d
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("get documents %s: %w", entity, err)
		}
	}
	return out, nil
}

// InsertDocument writes a new document at version 1.
func (s *Store) InsertDocument(ctx context.Context, q DBTX, d Document) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO tview_documents (entity, pk, data, hash, version, updated_at)
		VALUES (?, ?, ?, ?, 1, ?)
	`, d.Entity, d.PK, string(d.Data), d.Hash, d.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert document %s:%d: %w", d.Entity, d.PK, err)
	}
	return nil
}

// ReplaceDocument overwrites a document whose stored version is
// expectVersion and bumps the version.
func (s *Store) ReplaceDocument(ctx context.Context, q DBTX, d Document, expectVersion int64) error {
	res, err := q.ExecContext(ctx, `
		UPDATE tview_documents
		SET data = ?, hash = ?, version = version + 1, updated_at = ?
		WHERE entity = ? AND pk = ? AND version = ?
	`, string(d.Data), d.Hash, d.UpdatedAt.UnixMilli(), d.Entity, d.PK, expectVersion)
	if err != nil {
		return fmt.Errorf("replace document %s:%d: %w", d.Entity, d.PK, err)
	}
	return checkOne(res, d.Entity, d.PK)
}

// PatchDocument applies a SQL JSON expression (built over the data column)
// to a document whose stored version is expectVersion.
func (s *Store) PatchDocument(ctx context.Context, q DBTX, d Document, expr string, exprArgs []any, expectVersion int64) error {
	args := make([]any, 0, len(exprArgs)+5)
	args = append(args, exprArgs...)
	args = append(args, d.Hash, d.UpdatedAt.UnixMilli(), d.Entity, d.PK, expectVersion)
	res, err := q.ExecContext(ctx, `
		UPDATE tview_documents
		SET data = `+expr+`, hash = ?, version = version + 1, updated_at = ?
		WHERE entity = ? AND pk = ? AND version = ?
	`, args...)
	if err != nil {
		return fmt.Errorf("patch document %s:%d: %w", d.Entity, d.PK, err)
	}
	return checkOne(res, d.Entity, d.PK)
}

func checkOne(res sql.Result, entity string, pk int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("document %s:%d: %w", entity, pk, err)
	}
	if n != 1 {
		return fmt.Errorf("document %s:%d: %w", entity, pk, ErrVersionConflict)
	}
	return nil
}

// UpsertDocuments writes docs (all of one entity) with one multi-row
// statement per chunk: new rows start at version 1, existing rows are
// overwritten and their version bumped.
func (s *Store) UpsertDocuments(ctx context.Context, q DBTX, docs []Document) error {
	const cols = 5
	for _, part := range chunk(docs, maxParams/cols) {
		args := make([]any, 0, len(part)*cols)
		values := make([]byte, 0, len(part)*20)
		for i, d := range part {
			if i > 0 {
				values = append(values, ", "...)
			}
			values = append(values, "(?, ?, ?, ?, 1, ?)"...)
			args = append(args, d.Entity, d.PK, string(d.Data), d.Hash, d.UpdatedAt.UnixMilli())
		}
		_, err := q.ExecContext(ctx, `
			INSERT INTO tview_documents (entity, pk, data, hash, version, updated_at)
			VALUES `+string(values)+`
			ON CONFLICT (entity, pk) DO UPDATE SET
				data = excluded.data,
				hash = excluded.hash,
				version = tview_documents.version + 1,
				updated_at = excluded.updated_at
		`, args...)
		if err != nil {
			return fmt.Errorf("upsert documents: %w", err)
		}
	}
	return nil
}

// DeleteDocuments removes the documents of entity for pks and returns how
// many existed.
func (s *Store) DeleteDocuments(ctx context.Context, q DBTX, entity string, pks []int64) (int64, error) {
	var total int64
	for _, part := range chunk(pks, maxParams-1) {
		args := make([]any, 0, len(part)+1)
		args = append(args, entity)
		for _, pk := range part {
			args = append(args, pk)
		}
		res, err := q.ExecContext(ctx, `
			DELETE FROM tview_documents
			WHERE entity = ? AND pk IN (`+placeholders(len(part))+`)
		`, args...)
		if err != nil {
			return total, fmt.Errorf("delete documents %s: %w", entity, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// FindByField returns the pks of entity documents whose top-level field
// equals value. Used to locate parent rows that reference a child row.
func (s *Store) FindByField(ctx context.Context, q DBTX, entity, field string, value int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT pk FROM tview_documents
		WHERE entity = ? AND json_extract(data, ?) = ?
		ORDER BY pk ASC
	`, entity, "$."+field, value)
	if err != nil {
		return nil, fmt.Errorf("find %s by %s: %w", entity, field, err)
	}
	defer rows.Close()
	return scanPKs(rows)
}

// DocumentPKs returns every pk materialized for entity.
func (s *Store) DocumentPKs(ctx context.Context, q DBTX, entity string) ([]int64, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT pk FROM tview_documents WHERE entity = ? ORDER BY pk ASC`, entity)
	if err != nil {
		return nil, fmt.Errorf("list %s documents: %w", entity, err)
	}
	defer rows.Close()
	return scanPKs(rows)
}

// CountDocuments returns document counts per entity.
func (s *Store) CountDocuments(ctx context.Context, q DBTX) (map[string]int64, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT entity, COUNT(*) FROM tview_documents GROUP BY entity`)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var e string
		var n int64
		if err := rows.Scan(&e, &n); err != nil {
			return nil, fmt.Errorf("count documents: scan: %w", err)
		}
		out[e] = n
	}
	return out, rows.Err()
}

func scanPKs(rows *sql.Rows) ([]int64, error) {
	var out []int64
	for rows.Next() {
		var pk int64
		if err := rows.Scan(&pk); err != nil {
			return nil, fmt.Errorf("scan pk: %w", err)
		}
		out = append(out, pk)
	}
	return out, rows.Err()
}
