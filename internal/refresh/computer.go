package refresh

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/roach88/tview/internal/catalog"
	"github.com/roach88/tview/internal/store"
)

// Computer returns the current document of each requested key of e. A key
// missing from the result no longer belongs to the entity.
type Computer interface {
	Compute(ctx context.Context, q store.DBTX, e *catalog.Entity, pks []int64) (map[int64]json.RawMessage, error)
}

// ComputerFunc adapts a function to Computer.
type ComputerFunc func(ctx context.Context, q store.DBTX, e *catalog.Entity, pks []int64) (map[int64]json.RawMessage, error)

// Compute calls f.
func (f ComputerFunc) Compute(ctx context.Context, q store.DBTX, e *catalog.Entity, pks []int64) (map[int64]json.RawMessage, error) {
	return f(ctx, q, e, pks)
}

// maxKeys bounds the IN list of one query.
const maxKeys = 900

// SQLComputer evaluates the entity query, which must project a pk column
// and a JSON data column, restricted to the requested keys.
type SQLComputer struct{}

// Compute implements Computer.
func (SQLComputer) Compute(ctx context.Context, q store.DBTX, e *catalog.Entity, pks []int64) (map[int64]json.RawMessage, error) {
	out := make(map[int64]json.RawMessage, len(pks))
	for start := 0; start < len(pks); start += maxKeys {
		end := min(start+maxKeys, len(pks))
		part := pks[start:end]

		args := make([]any, len(part))
		for i, pk := range part {
			args[i] = pk
		}
		marks := strings.Repeat("?, ", len(part)-1) + "?"
		rows, err := q.QueryContext(ctx,
			`SELECT pk, data FROM (`+e.Query+`) WHERE pk IN (`+marks+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("compute %s: %w", e.Name, err)
		}
		for rows.Next() {
			var pk int64
			var data sql.NullString
			if err := rows.Scan(&pk, &data); err != nil {
				rows.Close()
				return nil, fmt.Errorf("compute %s: scan: %w", e.Name, err)
			}
			if data.Valid {
				out[pk] = json.RawMessage(data.String)
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("compute %s: %w", e.Name, err)
		}
	}
	return out, nil
}

// Enumerator is implemented by computers that can list every key their
// entity currently contains.
type Enumerator interface {
	Keys(ctx context.Context, q store.DBTX, e *catalog.Entity) ([]int64, error)
}

// Keys implements Enumerator.
func (SQLComputer) Keys(ctx context.Context, q store.DBTX, e *catalog.Entity) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT pk FROM (`+e.Query+`) ORDER BY pk`)
	if err != nil {
		return nil, fmt.Errorf("enumerate %s: %w", e.Name, err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var pk int64
		if err := rows.Scan(&pk); err != nil {
			return nil, fmt.Errorf("enumerate %s: scan: %w", e.Name, err)
		}
		out = append(out, pk)
	}
	return out, rows.Err()
}

// Registry resolves the Computer of each entity. Entities without an
// explicit entry use the fallback.
type Registry struct {
	computers *xsync.MapOf[string, Computer]
	fallback  Computer
}

// NewRegistry returns a registry. A nil fallback means SQLComputer.
func NewRegistry(fallback Computer) *Registry {
	if fallback == nil {
		fallback = SQLComputer{}
	}
	return &Registry{
		computers: xsync.NewMapOf[string, Computer](),
		fallback:  fallback,
	}
}

// Set assigns c to entity.
func (r *Registry) Set(entity string, c Computer) {
	r.computers.Store(entity, c)
}

// Remove drops the entry of entity.
func (r *Registry) Remove(entity string) {
	r.computers.Delete(entity)
}

// Get returns the Computer of entity.
func (r *Registry) Get(entity string) Computer {
	if c, ok := r.computers.Load(entity); ok {
		return c
	}
	return r.fallback
}
