package engine

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/tview/internal/metrics"
	"github.com/roach88/tview/internal/queue"
	"github.com/roach88/tview/internal/store"
)

// Prepare is the first phase of two-phase commit.
//
// Prepare callbacks run first, then a non-empty queue is snapshotted under
// gid, gid is recorded as in doubt, and the SQL transaction commits so
// both survive a restart. Pre-commit callbacks are not run: the cascade
// is deferred to CommitPrepared. The source writes of the transaction are
// durable from here on: SQLite cannot keep a transaction open across
// processes, so undoing them after RollbackPrepared is up to the caller.
func (tx *Tx) Prepare(ctx context.Context, gid string) error {
	if tx.done {
		return ErrTxDone
	}
	if gid == "" {
		return &RuntimeError{Code: ErrCodeInvalidName, Message: "empty global transaction id"}
	}
	e := tx.engine
	for i := 0; i < len(tx.prepare); i++ {
		if err := tx.prepare[i](ctx); err != nil {
			tx.rollback()
			return classify(err)
		}
	}
	if err := tx.resolveRows(ctx); err != nil {
		tx.rollback()
		return err
	}
	now := e.clock.Now()

	if n := tx.queue.Len(); n > 0 {
		data, err := tx.queue.Snapshot(now, tx.session).MarshalBinary()
		if err != nil {
			tx.rollback()
			return &RuntimeError{Code: ErrCodeSerialization, Message: "encode queue snapshot", Err: err,
				Details: map[string]string{"gid": gid}}
		}
		err = e.store.SavePending(ctx, tx.sqlTx, store.PendingRefresh{
			GID:       gid,
			Snapshot:  data,
			QueueSize: n,
			CreatedAt: now,
			ExpiresAt: now.Add(e.preparedTTL),
		})
		if err != nil {
			tx.rollback()
			return classify(err)
		}
		e.recorder.Prepared("save")
	}
	if err := e.store.MarkPrepared(ctx, tx.sqlTx, gid, now); err != nil {
		tx.rollback()
		return classify(err)
	}

	size := tx.queue.Len()
	tx.queue.Clear()
	if err := tx.sqlTx.Commit(); err != nil {
		tx.rollback()
		return classify(fmt.Errorf("prepare %s: %w", gid, err))
	}
	tx.finish()
	e.logger.Info("transaction prepared", "gid", gid, "session", tx.session, "queue_size", size)
	return nil
}

// CommitPrepared resolves a prepared transaction: its snapshot seeds a
// cascade, and the snapshot and in-doubt entry are removed in the same
// transaction as the refreshed documents.
func (e *Engine) CommitPrepared(ctx context.Context, gid string) (metrics.TxStats, error) {
	tx, err := e.Begin(ctx)
	if err != nil {
		return metrics.TxStats{}, err
	}
	defer tx.Rollback()

	found, err := e.resolve(ctx, tx, gid)
	if err != nil {
		return metrics.TxStats{}, err
	}
	snap, ok, err := e.loadSnapshot(ctx, tx, gid)
	if err != nil {
		return metrics.TxStats{}, err
	}
	if !ok && !found {
		return metrics.TxStats{}, newPreparedNotFound(gid)
	}
	if ok {
		tx.queue.EnqueueAll(snap.Keys)
		e.recorder.Prepared("load")
	}
	if err := tx.Commit(ctx); err != nil {
		return metrics.TxStats{}, err
	}
	e.logger.Info("prepared transaction committed", "gid", gid, "keys", snap.Len())
	return tx.Stats(), nil
}

// RollbackPrepared resolves a prepared transaction without refreshing:
// the snapshot and in-doubt entry are deleted.
func (e *Engine) RollbackPrepared(ctx context.Context, gid string) error {
	tx, err := e.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	found, err := e.resolve(ctx, tx, gid)
	if err != nil {
		return err
	}
	deleted, err := e.store.DeletePending(ctx, tx.sqlTx, gid)
	if err != nil {
		return classify(err)
	}
	if !deleted && !found {
		return newPreparedNotFound(gid)
	}
	if deleted {
		e.recorder.Prepared("delete")
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	e.logger.Info("prepared transaction rolled back", "gid", gid)
	return nil
}

func (e *Engine) resolve(ctx context.Context, tx *Tx, gid string) (bool, error) {
	found, err := e.store.ResolvePrepared(ctx, tx.sqlTx, gid)
	return found, classify(err)
}

// loadSnapshot reads and deletes the snapshot of gid.
func (e *Engine) loadSnapshot(ctx context.Context, tx *Tx, gid string) (queue.SerializedQueue, bool, error) {
	var snap queue.SerializedQueue
	p, ok, err := e.store.LoadPending(ctx, tx.sqlTx, gid)
	if err != nil || !ok {
		return snap, false, classify(err)
	}
	if err := snap.UnmarshalBinary(p.Snapshot); err != nil {
		return snap, false, &RuntimeError{Code: ErrCodeSerialization, Message: "decode queue snapshot", Err: err,
			Details: map[string]string{"gid": gid}}
	}
	if _, err := e.store.DeletePending(ctx, tx.sqlTx, gid); err != nil {
		return snap, false, classify(err)
	}
	return snap, true, nil
}

// Orphan is a stored snapshot whose global transaction is no longer in
// doubt: the host resolved it without the engine seeing the resolution.
type Orphan struct {
	GID       string    `json:"gid"`
	QueueSize int       `json:"queue_size"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Expired   bool      `json:"expired"`
	Keys      []string  `json:"keys,omitempty"`
}

// RecoverPrepared lists orphaned snapshots. Orphans are reported, never
// resolved automatically: use ReplayOrphan or DiscardOrphan.
func (e *Engine) RecoverPrepared(ctx context.Context) ([]Orphan, error) {
	db := e.store.DB()
	pending, err := e.store.ListPending(ctx, db)
	if err != nil {
		return nil, classify(err)
	}
	inDoubt, err := e.store.InDoubt(ctx, db)
	if err != nil {
		return nil, classify(err)
	}

	now := e.clock.Now()
	var out []Orphan
	for _, p := range pending {
		if slices.Contains(inDoubt, p.GID) {
			continue
		}
		o := Orphan{
			GID:       p.GID,
			QueueSize: p.QueueSize,
			CreatedAt: p.CreatedAt,
			ExpiresAt: p.ExpiresAt,
			Expired:   !now.Before(p.ExpiresAt),
		}
		var snap queue.SerializedQueue
		if err := snap.UnmarshalBinary(p.Snapshot); err == nil {
			for _, k := range snap.Keys {
				o.Keys = append(o.Keys, k.String())
			}
		} else {
			e.logger.Warn("unreadable prepared snapshot", "gid", p.GID, "error", err)
		}
		out = append(out, o)
	}
	if len(out) > 0 {
		e.logger.Warn("orphaned prepared snapshots found", "count", len(out))
	}
	return out, nil
}

// ReplayOrphan runs the cascade of an orphaned snapshot and deletes it.
func (e *Engine) ReplayOrphan(ctx context.Context, gid string) (metrics.TxStats, error) {
	if err := e.checkOrphan(ctx, gid); err != nil {
		return metrics.TxStats{}, err
	}
	tx, err := e.Begin(ctx)
	if err != nil {
		return metrics.TxStats{}, err
	}
	defer tx.Rollback()

	snap, ok, err := e.loadSnapshot(ctx, tx, gid)
	if err != nil {
		return metrics.TxStats{}, err
	}
	if !ok {
		return metrics.TxStats{}, newPreparedNotFound(gid)
	}
	tx.queue.EnqueueAll(snap.Keys)
	if err := tx.Commit(ctx); err != nil {
		return metrics.TxStats{}, err
	}
	e.recorder.Prepared("replay")
	e.logger.Info("orphaned snapshot replayed", "gid", gid, "keys", snap.Len())
	return tx.Stats(), nil
}

// DiscardOrphan deletes an orphaned snapshot without refreshing.
func (e *Engine) DiscardOrphan(ctx context.Context, gid string) error {
	if err := e.checkOrphan(ctx, gid); err != nil {
		return err
	}
	deleted, err := e.store.DeletePending(ctx, e.store.DB(), gid)
	if err != nil {
		return classify(err)
	}
	if !deleted {
		return newPreparedNotFound(gid)
	}
	e.recorder.Prepared("discard")
	e.logger.Info("orphaned snapshot discarded", "gid", gid)
	return nil
}

// checkOrphan refuses snapshots whose transaction is still in doubt; those
// are resolved with CommitPrepared or RollbackPrepared.
func (e *Engine) checkOrphan(ctx context.Context, gid string) error {
	inDoubt, err := e.store.InDoubt(ctx, e.store.DB())
	if err != nil {
		return classify(err)
	}
	if slices.Contains(inDoubt, gid) {
		return &RuntimeError{
			Code:    ErrCodeInternal,
			Message: "prepared transaction is still in doubt; resolve it with commit or rollback",
			Details: map[string]string{"gid": gid},
		}
	}
	return nil
}

// PurgeExpired deletes snapshots past their expiry and returns their gids.
func (e *Engine) PurgeExpired(ctx context.Context) ([]string, error) {
	db := e.store.DB()
	expired, err := e.store.ExpiredPending(ctx, db, e.clock.Now())
	if err != nil {
		return nil, classify(err)
	}
	var gids []string
	for _, p := range expired {
		if _, err := e.store.DeletePending(ctx, db, p.GID); err != nil {
			return gids, classify(err)
		}
		e.recorder.Prepared("expire")
		e.logger.Warn("expired prepared snapshot purged",
			"gid", p.GID,
			"queue_size", p.QueueSize,
			"expired_at", p.ExpiresAt)
		gids = append(gids, p.GID)
	}
	return gids, nil
}
