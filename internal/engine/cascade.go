package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/roach88/tview/internal/catalog"
	"github.com/roach88/tview/internal/metrics"
	"github.com/roach88/tview/internal/queue"
	"github.com/roach88/tview/internal/refresh"
	"github.com/roach88/tview/internal/store"
)

// Run cascades from an explicit set of keys in a transaction of its own,
// as if a source write had enqueued them. Unknown entities fail with
// MetadataNotFound before anything is refreshed.
func (e *Engine) Run(ctx context.Context, keys []queue.RefreshKey) (metrics.TxStats, error) {
	tx, err := e.Begin(ctx)
	if err != nil {
		return metrics.TxStats{}, err
	}
	defer tx.Rollback()

	for _, key := range keys {
		if err := tx.Enqueue(key); err != nil {
			return metrics.TxStats{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return metrics.TxStats{}, err
	}
	return tx.Stats(), nil
}

// run drives the cascade to a fixed point.
//
// Each iteration merges the queue into the pending pool and refreshes the
// keys of the lowest dependency level present. A parent's level is above
// all of its children's, so every child a parent reads is refreshed before
// the parent is. Parents of refreshed keys are enqueued for the following
// iterations. The loop ends when nothing is pending, or fails when the
// depth guard trips.
//
// Running over an empty queue is a no-op.
func (e *Engine) run(ctx context.Context, q store.DBTX, qu *queue.Queue, stats *metrics.TxStats) error {
	start := time.Now()
	order, hit := e.graph.Order()
	if hit {
		stats.GraphCacheHits++
	} else {
		stats.GraphCacheMisses++
	}

	guard := NewDepthGuard(e.maxPropagationDepth)
	processed := newProcessedSet()
	pending := make(map[queue.RefreshKey]struct{})

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cascade cancelled: %w", err)
		}
		for _, k := range qu.Flush() {
			if !processed.Has(k) {
				pending[k] = struct{}{}
			}
		}
		if len(pending) == 0 {
			break
		}
		if err := guard.Check(processed.Len()); err != nil {
			e.logger.Warn("cascade depth exceeded",
				"iterations", guard.Current(),
				"max_depth", guard.MaxDepth(),
				"processed", processed.Len(),
				"pending", len(pending))
			return err
		}

		level := math.MaxInt
		for k := range pending {
			l := order.Level(k.Entity)
			if l == 0 {
				return &RuntimeError{
					Code:    ErrCodeMetadataNotFound,
					Message: "refresh key for unregistered entity",
					Entity:  k.Entity,
					PK:      k.PK,
				}
			}
			level = min(level, l)
		}
		var batch []queue.RefreshKey
		for k := range pending {
			if order.Level(k.Entity) == level {
				batch = append(batch, k)
				delete(pending, k)
				processed.Add(k)
			}
		}
		slices.SortFunc(batch, func(a, b queue.RefreshKey) int {
			if ra, rb := order.Rank(a.Entity), order.Rank(b.Entity); ra != rb {
				return ra - rb
			}
			return queue.Compare(a, b)
		})
		stats.Iteration(len(batch))
		e.logger.Debug("cascade iteration",
			"iteration", guard.Current(),
			"level", level,
			"keys", len(batch))

		results, err := e.refreshGroups(ctx, q, batch, stats)
		if err != nil {
			return err
		}
		for _, res := range results {
			if e.observer != nil {
				e.observer(res)
			}
			parents, err := e.parentsOf(ctx, q, res)
			if err != nil {
				return err
			}
			stats.ParentsDiscovered += len(parents)
			qu.EnqueueAll(parents)
		}
	}

	elapsed := time.Since(start)
	stats.Duration += elapsed
	if stats.Iterations > 0 {
		e.recorder.Cascade(guard.Current(), elapsed)
	}
	return nil
}

// refreshGroups refreshes a sorted batch one entity at a time, choosing
// batch refresh for groups of at least bulkThreshold keys.
func (e *Engine) refreshGroups(ctx context.Context, q store.DBTX, batch []queue.RefreshKey, stats *metrics.TxStats) ([]refresh.Result, error) {
	var out []refresh.Result
	for start := 0; start < len(batch); {
		end := start
		for end < len(batch) && batch[end].Entity == batch[start].Entity {
			end++
		}
		group := batch[start:end]
		start = end

		if len(group) < e.bulkThreshold {
			for _, k := range group {
				res, err := e.executor.RefreshOne(ctx, q, k)
				if err != nil {
					return nil, err
				}
				stats.IndividualRefreshes++
				count(stats, res)
				out = append(out, res)
			}
			continue
		}

		pks := make([]int64, len(group))
		for i, k := range group {
			pks[i] = k.PK
		}
		for _, part := range chunks(pks, e.maxBatchSize) {
			results, err := e.executor.RefreshBatch(ctx, q, group[0].Entity, part)
			if err != nil {
				return nil, err
			}
			stats.BulkRefreshes += len(results)
			for _, res := range results {
				count(stats, res)
			}
			out = append(out, results...)
		}
	}
	return out, nil
}

func count(stats *metrics.TxStats, res refresh.Result) {
	stats.Refreshes++
	switch res.Action {
	case refresh.ActionPatched:
		stats.Patched++
	case refresh.ActionReplaced, refresh.ActionInserted:
		stats.Replaced++
	case refresh.ActionDeleted:
		stats.Deleted++
	case refresh.ActionUnchanged:
		stats.Unchanged++
	}
}

// parentsOf locates the parent rows of a refreshed key along every
// lineage path whose child is the key's entity.
func (e *Engine) parentsOf(ctx context.Context, q store.DBTX, res refresh.Result) ([]queue.RefreshKey, error) {
	var out []queue.RefreshKey
	for _, lp := range e.graph.ParentsOf(res.Key.Entity) {
		switch lp.EffectiveHolder() {
		case catalog.HolderChild:
			// The child names its parent; the old value covers moves and
			// deletes.
			seen := make(map[int64]bool, 2)
			for _, doc := range []any{res.Old, res.New} {
				if pk, ok := fieldInt(doc, lp.FKColumn); ok && !seen[pk] {
					seen[pk] = true
					out = append(out, queue.RefreshKey{Entity: lp.Parent, PK: pk})
				}
			}
		default:
			pks, err := e.store.FindByField(ctx, q, lp.Parent, lp.FKColumn, res.Key.PK)
			if err != nil {
				return nil, &RuntimeError{
					Code:    ErrCodeRefreshFailed,
					Message: "parent lookup failed via " + lp.String(),
					Entity:  res.Key.Entity,
					PK:      res.Key.PK,
					Err:     err,
				}
			}
			for _, pk := range pks {
				out = append(out, queue.RefreshKey{Entity: lp.Parent, PK: pk})
			}
		}
	}
	return out, nil
}

// fieldInt reads an integral top-level field of a decoded document.
func fieldInt(doc any, field string) (int64, bool) {
	m, ok := doc.(map[string]any)
	if !ok {
		return 0, false
	}
	switch v := m[field].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		if f, err := v.Float64(); err == nil && f == math.Trunc(f) {
			return int64(f), true
		}
	case float64:
		if v == math.Trunc(v) {
			return int64(v), true
		}
	case int64:
		return v, true
	}
	return 0, false
}

func chunks(pks []int64, size int) [][]int64 {
	if size <= 0 {
		size = len(pks)
	}
	var out [][]int64
	for size < len(pks) {
		pks, out = pks[size:], append(out, pks[:size])
	}
	if len(pks) > 0 {
		out = append(out, pks)
	}
	return out
}
