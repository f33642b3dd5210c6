package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/tview/internal/catalog"
	"github.com/roach88/tview/internal/metrics"
	"github.com/roach88/tview/internal/queue"
)

// Tx is a write transaction with change capture.
//
// The Tx pins one database connection and binds itself to it, so triggers
// fired by its statements enqueue into its queue. The first enqueue
// registers the cascade as a pre-commit callback and queue disposal as an
// abort callback.
//
// Rows of tables reached only through lineage cannot be mapped to keys
// while a trigger runs, since that needs a query on the busy connection.
// They are held in rows and resolved when the cascade starts.
type Tx struct {
	engine  *Engine
	conn    *sql.Conn
	sqlTx   *sql.Tx
	release func()
	queue   *queue.Queue
	rows    *queue.Queue
	session string

	preCommit []func(ctx context.Context) error
	prepare   []func(ctx context.Context) error
	abort     []func()
	stats     metrics.TxStats
	done      bool
}

// Begin starts a write transaction. It blocks while another write
// transaction holds the database.
func (e *Engine) Begin(ctx context.Context) (*Tx, error) {
	conn, err := e.store.DB().Conn(ctx)
	if err != nil {
		return nil, classify(fmt.Errorf("acquire connection: %w", err))
	}
	tx := &Tx{engine: e, conn: conn, session: e.ids.Generate()}

	release, err := e.conns.Bind(ctx, conn, tx)
	if err != nil {
		conn.Close()
		return nil, classify(err)
	}
	tx.release = release

	sqlTx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		release()
		conn.Close()
		return nil, classify(fmt.Errorf("begin: %w", err))
	}
	tx.sqlTx = sqlTx
	tx.queue = queue.New(tx, tx.cascade, tx.discard)
	tx.rows = queue.New(tx, tx.cascade, tx.discard)

	e.logger.Debug("transaction started", "session", tx.session)
	return tx, nil
}

// Session returns the transaction's session id.
func (tx *Tx) Session() string { return tx.session }

// OnPreCommit registers fn to run inside the transaction immediately
// before COMMIT. Callbacks run in registration order; an error aborts the
// commit.
func (tx *Tx) OnPreCommit(fn func(ctx context.Context) error) {
	tx.preCommit = append(tx.preCommit, fn)
}

// OnPrepare registers fn to run inside the transaction when it is
// prepared, before the queue is snapshotted. Keys it enqueues are part of
// the snapshot; an error aborts the prepare.
func (tx *Tx) OnPrepare(fn func(ctx context.Context) error) {
	tx.prepare = append(tx.prepare, fn)
}

// OnAbort registers fn to run when the transaction rolls back.
func (tx *Tx) OnAbort(fn func()) {
	tx.abort = append(tx.abort, fn)
}

// Capture implements capture.Sink: one key per entity sourced from table,
// and a pending row when entities reach table through lineage.
func (tx *Tx) Capture(table string, pk int64) error {
	if tx.done {
		return ErrTxDone
	}
	names, hit := tx.engine.graph.LookupTable(table)
	if hit {
		tx.stats.TableCacheHits++
	} else {
		tx.stats.TableCacheMisses++
	}
	for _, name := range names {
		tx.queue.Enqueue(queue.RefreshKey{Entity: name, PK: pk})
	}
	if len(tx.engine.graph.TableParents(table)) > 0 {
		tx.rows.Enqueue(queue.RefreshKey{Entity: table, PK: pk})
	}
	return nil
}

// Enqueue schedules a refresh of key at commit.
func (tx *Tx) Enqueue(key queue.RefreshKey) error {
	if tx.done {
		return ErrTxDone
	}
	if _, ok := tx.engine.graph.Entity(key.Entity); !ok {
		return &RuntimeError{Code: ErrCodeMetadataNotFound, Message: "entity not registered", Entity: key.Entity}
	}
	tx.queue.Enqueue(key)
	return nil
}

// Exec executes a statement inside the transaction.
func (tx *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	return tx.sqlTx.ExecContext(ctx, query, args...)
}

// Query runs a query inside the transaction.
func (tx *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	return tx.sqlTx.QueryContext(ctx, query, args...)
}

// QueryRow runs a single-row query inside the transaction.
func (tx *Tx) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return tx.sqlTx.QueryRowContext(ctx, query, args...)
}

// Savepoint opens a named savepoint and remembers the queue at this point.
func (tx *Tx) Savepoint(ctx context.Context, name string) error {
	if err := tx.savepointSQL(ctx, "SAVEPOINT", name); err != nil {
		return err
	}
	tx.queue.PushSavepoint(name)
	tx.rows.PushSavepoint(name)
	return nil
}

// RollbackTo undoes the writes and enqueues made after savepoint name. The
// savepoint stays open.
func (tx *Tx) RollbackTo(ctx context.Context, name string) error {
	if err := tx.savepointSQL(ctx, "ROLLBACK TO", name); err != nil {
		return err
	}
	if err := tx.rows.RollbackTo(name); err != nil {
		return classify(err)
	}
	return classify(tx.queue.RollbackTo(name))
}

// Release closes savepoint name and every later one, keeping their work.
func (tx *Tx) Release(ctx context.Context, name string) error {
	if err := tx.savepointSQL(ctx, "RELEASE", name); err != nil {
		return err
	}
	if err := tx.rows.Release(name); err != nil {
		return classify(err)
	}
	return classify(tx.queue.Release(name))
}

func (tx *Tx) savepointSQL(ctx context.Context, verb, name string) error {
	if tx.done {
		return ErrTxDone
	}
	if err := catalog.ValidateIdentifier(name); err != nil {
		return &RuntimeError{Code: ErrCodeInvalidName, Message: "invalid savepoint name", Err: err}
	}
	if _, err := tx.sqlTx.ExecContext(ctx, verb+" "+name); err != nil {
		return classify(fmt.Errorf("%s %s: %w", verb, name, err))
	}
	return nil
}

// Queue exposes the pending set for introspection.
func (tx *Tx) Queue() *queue.Queue { return tx.queue }

// Stats returns the cascade statistics gathered so far.
func (tx *Tx) Stats() metrics.TxStats { return tx.stats }

// Commit runs the pre-commit callbacks, including the cascade, and
// commits. Any callback error rolls the whole transaction back.
func (tx *Tx) Commit(ctx context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	if err := tx.runPreCommit(ctx); err != nil {
		tx.rollback()
		return classify(err)
	}
	if err := tx.sqlTx.Commit(); err != nil {
		tx.rollback()
		return classify(fmt.Errorf("commit: %w", err))
	}
	tx.finish()
	tx.engine.logger.Debug("transaction committed",
		"session", tx.session,
		"refreshes", tx.stats.Refreshes,
		"iterations", tx.stats.Iterations)
	return nil
}

// runPreCommit runs callbacks by index: a callback may register more.
func (tx *Tx) runPreCommit(ctx context.Context) error {
	for i := 0; i < len(tx.preCommit); i++ {
		if err := tx.preCommit[i](ctx); err != nil {
			return err
		}
	}
	return nil
}

// Rollback abandons the transaction and discards its queue. Rolling back
// a finished transaction is a no-op.
func (tx *Tx) Rollback() error {
	if tx.done {
		return nil
	}
	return classify(tx.rollback())
}

func (tx *Tx) rollback() error {
	err := tx.sqlTx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		err = nil
	}
	for _, fn := range tx.abort {
		fn()
	}
	tx.finish()
	tx.engine.logger.Debug("transaction rolled back", "session", tx.session)
	return err
}

func (tx *Tx) finish() {
	tx.done = true
	tx.release()
	tx.conn.Close()
}

// cascade is the pre-commit callback registered by both queues. Whichever
// runs second finds nothing left to do.
func (tx *Tx) cascade(ctx context.Context) error {
	if err := tx.resolveRows(ctx); err != nil {
		return err
	}
	if tx.queue.Len() == 0 {
		return nil
	}
	return tx.engine.run(ctx, tx.sqlTx, tx.queue, &tx.stats)
}

// resolveRows enqueues the parents of the captured lineage-table rows.
// The parent document holds the row key, so rows that were deleted are
// still found.
func (tx *Tx) resolveRows(ctx context.Context) error {
	for _, row := range tx.rows.Flush() {
		for _, lp := range tx.engine.graph.TableParents(row.Entity) {
			pks, err := tx.engine.store.FindByField(ctx, tx.sqlTx, lp.Parent, lp.FKColumn, row.PK)
			if err != nil {
				return &RuntimeError{
					Code:    ErrCodeRefreshFailed,
					Message: "parent lookup failed via " + lp.String(),
					Entity:  lp.Parent,
					Err:     err,
					Details: map[string]string{"table": row.Entity, "row": fmt.Sprint(row.PK)},
				}
			}
			for _, pk := range pks {
				tx.queue.Enqueue(queue.RefreshKey{Entity: lp.Parent, PK: pk})
			}
		}
	}
	return nil
}

// discard is the abort callback registered by the queues.
func (tx *Tx) discard() {
	tx.queue.Clear()
	tx.rows.Clear()
}
