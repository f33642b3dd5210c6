package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/viccon/sturdyc"

	"github.com/roach88/tview/internal/metrics"
	"github.com/roach88/tview/internal/store"
)

var (
	// ErrNoSuchTable is returned when a source table does not exist.
	ErrNoSuchTable = errors.New("source table does not exist")

	// ErrCompositeKey is returned for tables whose primary key spans
	// several columns.
	ErrCompositeKey = errors.New("source table has a composite primary key")
)

// RowID is the key column used for tables without a declared primary key.
const RowID = "rowid"

// KeyResolver finds the key column of source tables. Key columns are user
// data and vary per table, so they are read from the schema and cached.
type KeyResolver struct {
	cache    *sturdyc.Client[string]
	recorder metrics.Recorder
}

// NewKeyResolver returns a resolver. With caching disabled every lookup
// reads the schema.
func NewKeyResolver(cacheEnabled bool, recorder metrics.Recorder) *KeyResolver {
	r := &KeyResolver{recorder: recorder}
	if cacheEnabled {
		r.cache = sturdyc.New[string](1024, 4, time.Hour, 10)
	}
	return r
}

// KeyColumn returns the key column of table.
func (r *KeyResolver) KeyColumn(ctx context.Context, q store.DBTX, table string) (string, error) {
	if r.cache == nil {
		return lookupKeyColumn(ctx, q, table)
	}
	if col, ok := r.cache.Get(table); ok {
		r.recorder.Cache(metrics.CacheColumn, true)
		return col, nil
	}
	r.recorder.Cache(metrics.CacheColumn, false)
	return r.cache.GetOrFetch(ctx, table, func(ctx context.Context) (string, error) {
		return lookupKeyColumn(ctx, q, table)
	})
}

// Forget drops the cached key column of table.
func (r *KeyResolver) Forget(table string) {
	if r.cache != nil {
		r.cache.Delete(table)
	}
}

// Cached returns the number of cached key columns.
func (r *KeyResolver) Cached() int {
	if r.cache == nil {
		return 0
	}
	return r.cache.Size()
}

func lookupKeyColumn(ctx context.Context, q store.DBTX, table string) (string, error) {
	rows, err := q.QueryContext(ctx, `SELECT name, pk FROM pragma_table_info(?)`, table)
	if err != nil {
		return "", fmt.Errorf("resolve key column of %s: %w", table, err)
	}
	defer rows.Close()

	var columns int
	var keys []string
	for rows.Next() {
		var name string
		var pk int
		if err := rows.Scan(&name, &pk); err != nil {
			return "", fmt.Errorf("resolve key column of %s: %w", table, err)
		}
		columns++
		if pk > 0 {
			keys = append(keys, name)
		}
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("resolve key column of %s: %w", table, err)
	}

	switch {
	case columns == 0:
		return "", fmt.Errorf("%w: %s", ErrNoSuchTable, table)
	case len(keys) > 1:
		return "", fmt.Errorf("%w: %s", ErrCompositeKey, table)
	case len(keys) == 1:
		return keys[0], nil
	}
	return RowID, nil
}
