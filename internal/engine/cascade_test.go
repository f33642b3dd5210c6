package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tview/internal/catalog"
	"github.com/roach88/tview/internal/queue"
	"github.com/roach88/tview/internal/refresh"
	"github.com/roach88/tview/internal/store"
	"github.com/roach88/tview/internal/testutil"
)

// TestCascade_OrderSummary tests that two line inserts of one order refresh
// both lines and the order summary exactly once.
func TestCascade_OrderSummary(t *testing.T) {
	h := newHarness(t, testutil.OrderSchema, orderEntities())

	tx, err := h.engine.Begin(h.ctx)
	require.NoError(t, err)
	_, err = tx.Exec(h.ctx, `INSERT INTO order_lines (line_id, order_id, qty, price) VALUES (42, 7, 2, 500)`)
	require.NoError(t, err)
	_, err = tx.Exec(h.ctx, `INSERT INTO order_lines (line_id, order_id, qty, price) VALUES (43, 7, 1, 250)`)
	require.NoError(t, err)

	assert.Equal(t, []string{"order_line:42", "order_line:43"}, h.engine.DebugQueue(tx))
	require.NoError(t, tx.Commit(h.ctx))

	stats := tx.Stats()
	assert.Equal(t, 3, stats.Refreshes)
	assert.Equal(t, 2, stats.Iterations)
	assert.Equal(t, 3, stats.Replaced)

	assert.Equal(t, map[string]any{"id": 42.0, "order_id": 7.0, "qty": 2.0, "price": 500.0}, h.doc("order_line", 42))
	assert.Equal(t, map[string]any{"id": 7.0, "total": 1250.0, "lines": 2.0}, h.doc("order_summary", 7))
}

// TestCascade_UpdatePatchesParent tests that an update to one line patches
// the summary in place.
func TestCascade_UpdatePatchesParent(t *testing.T) {
	h := newHarness(t, testutil.OrderSchema, orderEntities())
	require.NoError(t, h.write(
		`INSERT INTO order_lines VALUES (42, 7, 2, 500)`,
		`INSERT INTO order_lines VALUES (43, 7, 1, 250)`,
	))
	before := h.version("order_summary", 7)

	require.NoError(t, h.write(`UPDATE order_lines SET qty = 3 WHERE line_id = 43`))

	assert.Equal(t, 1750.0, h.doc("order_summary", 7)["total"])
	assert.Equal(t, before+1, h.version("order_summary", 7))
}

// TestCascade_RepeatedWritesCoalesce tests that several writes to the
// same rows in one transaction refresh each derived key once.
func TestCascade_RepeatedWritesCoalesce(t *testing.T) {
	h := newHarness(t, testutil.OrderSchema, orderEntities())
	require.NoError(t, h.write(
		`INSERT INTO order_lines VALUES (42, 7, 2, 500)`,
		`INSERT INTO order_lines VALUES (43, 7, 1, 250)`,
	))

	tx, err := h.engine.Begin(h.ctx)
	require.NoError(t, err)
	for _, stmt := range []string{
		`UPDATE order_lines SET qty = 3 WHERE line_id = 42`,
		`UPDATE order_lines SET qty = 4 WHERE line_id = 42`,
		`UPDATE order_lines SET qty = 2 WHERE line_id = 43`,
		`UPDATE order_lines SET qty = 3 WHERE line_id = 43`,
	} {
		_, err = tx.Exec(h.ctx, stmt)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"order_line:42", "order_line:43"}, h.engine.DebugQueue(tx))
	require.NoError(t, tx.Commit(h.ctx))

	assert.Equal(t, 3, tx.Stats().Refreshes, "two lines and one order")
	assert.Equal(t, 2750.0, h.doc("order_summary", 7)["total"])
	assert.Equal(t, 4.0, h.doc("order_line", 42)["qty"])
}

// TestCascade_MoveLineRefreshesBothOrders tests that changing a line's
// order refreshes the old and the new parent.
func TestCascade_MoveLineRefreshesBothOrders(t *testing.T) {
	h := newHarness(t, testutil.OrderSchema, orderEntities())
	require.NoError(t, h.write(
		`INSERT INTO order_lines VALUES (42, 7, 2, 500)`,
		`INSERT INTO order_lines VALUES (43, 7, 1, 250)`,
	))

	require.NoError(t, h.write(`UPDATE order_lines SET order_id = 8 WHERE line_id = 43`))

	assert.Equal(t, 1000.0, h.doc("order_summary", 7)["total"])
	assert.Equal(t, 250.0, h.doc("order_summary", 8)["total"])
}

// TestCascade_DeleteRemovesDocuments tests that deleting the last line of
// an order deletes the line and the summary documents.
func TestCascade_DeleteRemovesDocuments(t *testing.T) {
	h := newHarness(t, testutil.OrderSchema, orderEntities())
	require.NoError(t, h.write(`INSERT INTO order_lines VALUES (42, 7, 2, 500)`))
	require.NotNil(t, h.doc("order_summary", 7))

	tx, err := h.engine.Begin(h.ctx)
	require.NoError(t, err)
	_, err = tx.Exec(h.ctx, `DELETE FROM order_lines WHERE line_id = 42`)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(h.ctx))

	assert.Equal(t, 2, tx.Stats().Deleted)
	assert.Nil(t, h.doc("order_line", 42))
	assert.Nil(t, h.doc("order_summary", 7))
}

// TestCascade_ThreeLevels tests that a change two levels below an entity
// reaches it, and that each level is refreshed after the one below.
func TestCascade_ThreeLevels(t *testing.T) {
	h := newHarness(t, testutil.BlogSchema+";\n"+blogSeed, blogEntities())
	require.Equal(t, "ada", h.doc("author_digest", 1)["author"])
	require.Equal(t, 2.0, h.doc("author_digest", 1)["posts"])

	tx, err := h.engine.Begin(h.ctx)
	require.NoError(t, err)
	_, err = tx.Exec(h.ctx, `UPDATE users SET name = 'lovelace' WHERE id = 1`)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(h.ctx))

	stats := tx.Stats()
	assert.Equal(t, 3, stats.Iterations)
	assert.Equal(t, 4, stats.Refreshes, "user, two posts, digest")

	assert.Equal(t, "lovelace", h.doc("blog_user", 1)["name"])
	assert.Equal(t, "lovelace", h.doc("blog_post", 10)["author"])
	assert.Equal(t, "lovelace", h.doc("blog_post", 11)["author"])
	assert.Equal(t, "lovelace", h.doc("author_digest", 1)["author"])

	assert.Equal(t, "grace", h.doc("blog_post", 20)["author"])
	assert.Equal(t, int64(1), h.version("author_digest", 2))
}

// TestCascade_DepthExceededRollsBack tests that a cascade needing more
// iterations than allowed fails and leaves no trace of the transaction.
func TestCascade_DepthExceededRollsBack(t *testing.T) {
	h := newHarness(t, testutil.BlogSchema+";\n"+blogSeed, blogEntities(), WithMaxPropagationDepth(2))

	err := h.write(`UPDATE users SET name = 'lovelace' WHERE id = 1`)
	require.Error(t, err)
	assert.True(t, IsCascadeDepthExceeded(err))
	assert.Equal(t, ErrCodeCascadeDepthExceeded, CodeOf(err))

	var name string
	require.NoError(t, h.engine.Store().DB().QueryRow(`SELECT name FROM users WHERE id = 1`).Scan(&name))
	assert.Equal(t, "ada", name)
	assert.Equal(t, "ada", h.doc("blog_user", 1)["name"])
}

// TestCascade_EmptyQueueIsNoop tests that committing without writes runs
// no refreshes.
func TestCascade_EmptyQueueIsNoop(t *testing.T) {
	h := newHarness(t, testutil.OrderSchema, orderEntities())

	tx, err := h.engine.Begin(h.ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(h.ctx))

	assert.Equal(t, 0, tx.Stats().Refreshes)
	assert.Equal(t, 0, tx.Stats().Iterations)
}

// TestRun_ExplicitKeys tests a cascade seeded without a source write.
func TestRun_ExplicitKeys(t *testing.T) {
	h := newHarness(t, testutil.OrderSchema, orderEntities())
	require.NoError(t, h.write(`INSERT INTO order_lines VALUES (42, 7, 2, 500)`))

	_, err := h.engine.Store().DB().Exec(`DELETE FROM tview_documents WHERE entity = 'order_summary'`)
	require.NoError(t, err)

	stats, err := h.engine.Run(h.ctx, []queue.RefreshKey{{Entity: "order_line", PK: 42}})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Refreshes)
	assert.Equal(t, 1, stats.Unchanged)
	assert.Equal(t, 1000.0, h.doc("order_summary", 7)["total"])

	_, err = h.engine.Run(h.ctx, []queue.RefreshKey{{Entity: "ghost", PK: 1}})
	assert.True(t, IsMetadataNotFound(err))
}

// TestCascade_WritesToUntrackedTable tests that writes to tables no entity
// reads enqueue nothing.
func TestCascade_WritesToUntrackedTable(t *testing.T) {
	h := newHarness(t, testutil.OrderSchema+`; CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT)`, orderEntities())

	tx, err := h.engine.Begin(h.ctx)
	require.NoError(t, err)
	_, err = tx.Exec(h.ctx, `INSERT INTO notes (id, body) VALUES (1, 'x')`)
	require.NoError(t, err)
	assert.Equal(t, 0, tx.Queue().Len())
	require.NoError(t, tx.Commit(h.ctx))
}

// TestCascade_BulkAndIndividualAgree tests that batch refresh produces the
// same documents as individual refresh.
func TestCascade_BulkAndIndividualAgree(t *testing.T) {
	insert := func(h *harness) {
		stmts := make([]string, 0, 30)
		for i := 1; i <= 30; i++ {
			stmts = append(stmts, fmt.Sprintf(
				`INSERT INTO order_lines VALUES (%d, %d, %d, %d)`, i, i%4, i, 100+i))
		}
		require.NoError(t, h.write(stmts...))
	}

	bulk := newHarness(t, testutil.OrderSchema, orderEntities(), WithBulkThreshold(5), WithMaxBatchSize(8))
	single := newHarness(t, testutil.OrderSchema, orderEntities(), WithBulkThreshold(1000))

	tx, err := bulk.engine.Begin(bulk.ctx)
	require.NoError(t, err)
	for i := 1; i <= 30; i++ {
		_, err := tx.Exec(bulk.ctx, fmt.Sprintf(`INSERT INTO order_lines VALUES (%d, %d, %d, %d)`, i, i%4, i, 100+i))
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit(bulk.ctx))
	assert.Equal(t, 30, tx.Stats().BulkRefreshes)
	assert.Equal(t, 4, tx.Stats().IndividualRefreshes)

	insert(single)

	for _, entity := range []string{"order_line", "order_summary"} {
		a, err := bulk.engine.Store().DocumentPKs(bulk.ctx, bulk.engine.Store().DB(), entity)
		require.NoError(t, err)
		b, err := single.engine.Store().DocumentPKs(single.ctx, single.engine.Store().DB(), entity)
		require.NoError(t, err)
		require.Equal(t, a, b)
		for _, pk := range a {
			assert.Equal(t, single.doc(entity, pk), bulk.doc(entity, pk), "%s:%d", entity, pk)
		}
	}
}

// TestCascade_ComputerErrorRollsBack tests that a failing refresh aborts
// the commit.
func TestCascade_ComputerErrorRollsBack(t *testing.T) {
	failing := refresh.ComputerFunc(func(ctx context.Context, q store.DBTX, e *catalog.Entity, pks []int64) (map[int64]json.RawMessage, error) {
		return nil, fmt.Errorf("boom")
	})
	h := newHarness(t, testutil.OrderSchema, orderEntities())
	h.engine.SetComputer("order_summary", failing)

	err := h.write(`INSERT INTO order_lines VALUES (42, 7, 2, 500)`)
	require.Error(t, err)
	assert.True(t, IsRefreshFailed(err))
	assert.Equal(t, "order_summary", err.(*RuntimeError).Entity)

	assert.Nil(t, h.doc("order_line", 42))
}

// TestCascade_UnchangedStopsNothing tests that parents are still visited
// when a child refresh leaves its document unchanged.
func TestCascade_UnchangedStopsNothing(t *testing.T) {
	h := newHarness(t, testutil.OrderSchema, orderEntities())
	require.NoError(t, h.write(`INSERT INTO order_lines VALUES (42, 7, 2, 500)`))

	tx, err := h.engine.Begin(h.ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Enqueue(queue.RefreshKey{Entity: "order_line", PK: 42}))
	require.NoError(t, tx.Commit(h.ctx))

	assert.Equal(t, 2, tx.Stats().Unchanged)
	assert.Equal(t, 1, tx.Stats().ParentsDiscovered)
}

func TestFieldInt(t *testing.T) {
	doc := map[string]any{
		"n":   json.Number("7"),
		"f":   7.0,
		"i":   int64(7),
		"x":   7.5,
		"s":   "7",
		"big": json.Number("7.0"),
	}
	for _, field := range []string{"n", "f", "i", "big"} {
		v, ok := fieldInt(doc, field)
		assert.True(t, ok, field)
		assert.Equal(t, int64(7), v, field)
	}
	for _, field := range []string{"x", "s", "missing"} {
		_, ok := fieldInt(doc, field)
		assert.False(t, ok, field)
	}
	_, ok := fieldInt(nil, "n")
	assert.False(t, ok)
}

func TestChunks(t *testing.T) {
	assert.Equal(t, [][]int64{{1, 2}, {3, 4}, {5}}, chunks([]int64{1, 2, 3, 4, 5}, 2))
	assert.Equal(t, [][]int64{{1, 2}}, chunks([]int64{1, 2}, 0))
	assert.Nil(t, chunks(nil, 3))
}
