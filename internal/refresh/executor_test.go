package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tview/internal/catalog"
	"github.com/roach88/tview/internal/patch"
	"github.com/roach88/tview/internal/queue"
	"github.com/roach88/tview/internal/store"
)

type entityMap map[string]*catalog.Entity

func (m entityMap) Entity(name string) (*catalog.Entity, bool) {
	e, ok := m[name]
	return e, ok
}

const itemQuery = `SELECT id AS pk, json_object('id', id, 'name', name, 'price', price) AS data
	FROM items WHERE price IS NOT NULL`

type fixture struct {
	store    *store.Store
	entities entityMap
	ctx      context.Context
}

func newFixture(t *testing.T, names ...string) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	f := &fixture{store: s, entities: entityMap{}, ctx: context.Background()}
	_, err = s.DB().Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT, price REAL)`)
	require.NoError(t, err)
	for _, name := range names {
		e := &catalog.Entity{Name: name, Source: "items", KeyColumn: "id", Query: itemQuery}
		require.NoError(t, s.SaveEntity(f.ctx, s.DB(), e))
		f.entities[name] = e
	}
	return f
}

func (f *fixture) exec(t *testing.T, query string, args ...any) {
	t.Helper()
	_, err := f.store.DB().Exec(query, args...)
	require.NoError(t, err)
}

func (f *fixture) executor(opts ...Option) *Executor {
	fixed := func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	opts = append([]Option{WithClock(fixed)}, opts...)
	return NewExecutor(f.store, f.entities, NewRegistry(nil), opts...)
}

func (f *fixture) doc(t *testing.T, entity string, pk int64) (store.Document, bool) {
	t.Helper()
	d, ok, err := f.store.GetDocument(f.ctx, f.store.DB(), entity, pk)
	require.NoError(t, err)
	return d, ok
}

// TestRefreshOne_Lifecycle tests each action of an individual refresh as a
// source row is created, edited and removed from the entity.
func TestRefreshOne_Lifecycle(t *testing.T) {
	f := newFixture(t, "item")
	x := f.executor()
	key := queue.RefreshKey{Entity: "item", PK: 1}

	res, err := x.RefreshOne(f.ctx, f.store.DB(), key)
	require.NoError(t, err)
	assert.Equal(t, ActionAbsent, res.Action)

	f.exec(t, `INSERT INTO items VALUES (1, 'pen', 2)`)
	res, err = x.RefreshOne(f.ctx, f.store.DB(), key)
	require.NoError(t, err)
	assert.Equal(t, ActionInserted, res.Action)
	assert.Nil(t, res.Old)

	res, err = x.RefreshOne(f.ctx, f.store.DB(), key)
	require.NoError(t, err)
	assert.Equal(t, ActionUnchanged, res.Action)

	f.exec(t, `UPDATE items SET name = 'ink pen' WHERE id = 1`)
	res, err = x.RefreshOne(f.ctx, f.store.DB(), key)
	require.NoError(t, err)
	assert.Equal(t, ActionPatched, res.Action)
	assert.Equal(t, "set name", res.Paths)

	d, ok := f.doc(t, "item", 1)
	require.True(t, ok)
	assert.JSONEq(t, `{"id":1,"name":"ink pen","price":2}`, string(d.Data))
	assert.Equal(t, int64(2), d.Version)

	f.exec(t, `UPDATE items SET price = NULL WHERE id = 1`)
	res, err = x.RefreshOne(f.ctx, f.store.DB(), key)
	require.NoError(t, err)
	assert.Equal(t, ActionDeleted, res.Action)
	assert.NotNil(t, res.Old)
	_, ok = f.doc(t, "item", 1)
	assert.False(t, ok)
}

// TestRefreshOne_ReplacesLargeChanges tests that a change touching more
// paths than the patch limit replaces the document.
func TestRefreshOne_ReplacesLargeChanges(t *testing.T) {
	f := newFixture(t, "item")
	x := f.executor(WithMaxPatchOps(1))
	key := queue.RefreshKey{Entity: "item", PK: 1}

	f.exec(t, `INSERT INTO items VALUES (1, 'pen', 2)`)
	_, err := x.RefreshOne(f.ctx, f.store.DB(), key)
	require.NoError(t, err)

	f.exec(t, `UPDATE items SET name = 'brush', price = 5 WHERE id = 1`)
	res, err := x.RefreshOne(f.ctx, f.store.DB(), key)
	require.NoError(t, err)
	assert.Equal(t, ActionReplaced, res.Action)

	d, _ := f.doc(t, "item", 1)
	assert.JSONEq(t, `{"id":1,"name":"brush","price":5}`, string(d.Data))
}

// TestRefreshOne_StoredHashMatchesCanonicalForm tests that the stored hash
// is the hash of the canonical document.
func TestRefreshOne_StoredHashMatchesCanonicalForm(t *testing.T) {
	f := newFixture(t, "item")
	x := f.executor()
	f.exec(t, `INSERT INTO items VALUES (1, 'é', 2)`)

	_, err := x.RefreshOne(f.ctx, f.store.DB(), queue.RefreshKey{Entity: "item", PK: 1})
	require.NoError(t, err)

	d, _ := f.doc(t, "item", 1)
	v, err := patch.Decode(d.Data)
	require.NoError(t, err)
	want, err := patch.Hash(v)
	require.NoError(t, err)
	assert.Equal(t, want, d.Hash)
}

// TestRefreshOne_Errors tests failure reporting for unknown entities and
// failing computers.
func TestRefreshOne_Errors(t *testing.T) {
	f := newFixture(t, "item")

	x := f.executor()
	_, err := x.RefreshOne(f.ctx, f.store.DB(), queue.RefreshKey{Entity: "ghost", PK: 1})
	require.Error(t, err)
	assert.True(t, IsFailed(err))
	assert.ErrorIs(t, err, ErrUnknownEntity)

	boom := errors.New("boom")
	reg := NewRegistry(nil)
	reg.Set("item", ComputerFunc(func(context.Context, store.DBTX, *catalog.Entity, []int64) (map[int64]json.RawMessage, error) {
		return nil, boom
	}))
	x = NewExecutor(f.store, f.entities, reg)
	_, err = x.RefreshOne(f.ctx, f.store.DB(), queue.RefreshKey{Entity: "item", PK: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var rerr *Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "item", rerr.Entity)
}

// TestRefreshOne_InvalidDocument tests that a computer returning malformed
// JSON fails the refresh.
func TestRefreshOne_InvalidDocument(t *testing.T) {
	f := newFixture(t, "item")
	reg := NewRegistry(ComputerFunc(func(_ context.Context, _ store.DBTX, _ *catalog.Entity, pks []int64) (map[int64]json.RawMessage, error) {
		return map[int64]json.RawMessage{pks[0]: json.RawMessage(`{"a":`)}, nil
	}))
	x := NewExecutor(f.store, f.entities, reg)

	_, err := x.RefreshOne(f.ctx, f.store.DB(), queue.RefreshKey{Entity: "item", PK: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid document")
}

// TestRefreshBatch_EquivalentToIndividual tests that a batch refresh stores
// the same documents as one refresh per key, across inserts, updates and
// removals.
func TestRefreshBatch_EquivalentToIndividual(t *testing.T) {
	f := newFixture(t, "item_a", "item_b")
	x := f.executor()

	var pks []int64
	for i := int64(1); i <= 12; i++ {
		f.exec(t, `INSERT INTO items VALUES (?, ?, ?)`, i, fmt.Sprintf("item %d", i), float64(i)*1.5)
		pks = append(pks, i)
	}
	pks = append(pks, 99)

	refreshBoth := func() {
		for _, pk := range pks {
			_, err := x.RefreshOne(f.ctx, f.store.DB(), queue.RefreshKey{Entity: "item_a", PK: pk})
			require.NoError(t, err)
		}
		_, err := x.RefreshBatch(f.ctx, f.store.DB(), "item_b", pks)
		require.NoError(t, err)
	}
	compare := func() {
		a, err := f.store.GetDocuments(f.ctx, f.store.DB(), "item_a", pks)
		require.NoError(t, err)
		b, err := f.store.GetDocuments(f.ctx, f.store.DB(), "item_b", pks)
		require.NoError(t, err)
		require.Equal(t, len(a), len(b))
		for pk, da := range a {
			db, ok := b[pk]
			require.True(t, ok, "pk %d missing from batch side", pk)
			ca, err := patch.CanonicalRaw(da.Data)
			require.NoError(t, err)
			cb, err := patch.CanonicalRaw(db.Data)
			require.NoError(t, err)
			assert.Equal(t, string(ca), string(cb), "pk %d", pk)
			assert.Equal(t, da.Hash, db.Hash, "pk %d", pk)
			assert.Equal(t, da.Version, db.Version, "pk %d", pk)
		}
	}

	refreshBoth()
	compare()

	f.exec(t, `UPDATE items SET name = 'renamed' WHERE id IN (2, 4, 6)`)
	f.exec(t, `UPDATE items SET price = NULL WHERE id = 5`)
	f.exec(t, `DELETE FROM items WHERE id = 7`)
	refreshBoth()
	compare()

	counts, err := f.store.CountDocuments(f.ctx, f.store.DB())
	require.NoError(t, err)
	assert.Equal(t, int64(10), counts["item_a"])
	assert.Equal(t, int64(10), counts["item_b"])
}

// TestRefreshBatch_Actions tests the per-key actions reported by a batch.
func TestRefreshBatch_Actions(t *testing.T) {
	f := newFixture(t, "item")
	x := f.executor()
	f.exec(t, `INSERT INTO items VALUES (1, 'a', 1), (2, 'b', 2), (3, 'c', 3)`)

	_, err := x.RefreshBatch(f.ctx, f.store.DB(), "item", []int64{1, 2, 3})
	require.NoError(t, err)

	f.exec(t, `UPDATE items SET name = 'bb' WHERE id = 2`)
	f.exec(t, `DELETE FROM items WHERE id = 3`)
	f.exec(t, `INSERT INTO items VALUES (4, 'd', 4)`)

	results, err := x.RefreshBatch(f.ctx, f.store.DB(), "item", []int64{5, 4, 3, 2, 1, 2})
	require.NoError(t, err)

	got := map[int64]Action{}
	for _, r := range results {
		assert.Equal(t, ModeBatch, r.Mode)
		got[r.Key.PK] = r.Action
	}
	assert.Equal(t, map[int64]Action{
		1: ActionUnchanged,
		2: ActionReplaced,
		3: ActionDeleted,
		4: ActionInserted,
		5: ActionAbsent,
	}, got)
	assert.Equal(t, int64(1), results[0].Key.PK)
}

// TestRefreshBatch_TooLarge tests the batch size limit.
func TestRefreshBatch_TooLarge(t *testing.T) {
	f := newFixture(t, "item")
	x := f.executor(WithMaxBatchSize(2))

	_, err := x.RefreshBatch(f.ctx, f.store.DB(), "item", []int64{1, 2, 3})
	require.Error(t, err)
	assert.True(t, IsBatchTooLarge(err))
	assert.Equal(t, 2, x.MaxBatchSize())
}

func TestRegistry_Fallback(t *testing.T) {
	reg := NewRegistry(nil)
	assert.IsType(t, SQLComputer{}, reg.Get("any"))

	custom := ComputerFunc(func(context.Context, store.DBTX, *catalog.Entity, []int64) (map[int64]json.RawMessage, error) {
		return nil, nil
	})
	reg.Set("any", custom)
	assert.NotNil(t, reg.Get("any"))
	_, isSQL := reg.Get("any").(SQLComputer)
	assert.False(t, isSQL)

	reg.Remove("any")
	assert.IsType(t, SQLComputer{}, reg.Get("any"))
}

func TestAction_Wrote(t *testing.T) {
	assert.False(t, ActionUnchanged.Wrote())
	assert.False(t, ActionAbsent.Wrote())
	assert.True(t, ActionPatched.Wrote())
	assert.True(t, ActionDeleted.Wrote())
}
