package engine

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/tview/internal/catalog"
	"github.com/roach88/tview/internal/testutil"
)

type harness struct {
	t      *testing.T
	ctx    context.Context
	path   string
	clock  *testutil.Clock
	engine *Engine
}

// newHarness opens an engine over a fresh database, runs schema on it
// before any triggers exist, and registers entities in order.
func newHarness(t *testing.T, schema string, entities []*catalog.Entity, opts ...EngineOption) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		path:  filepath.Join(t.TempDir(), "tview.db"),
		clock: testutil.NewClock(testutil.Epoch),
	}
	h.open(opts...)
	if schema != "" {
		_, err := h.engine.Store().DB().Exec(schema)
		require.NoError(t, err)
	}
	for _, ent := range entities {
		_, err := h.engine.RegisterEntity(h.ctx, ent)
		require.NoError(t, err, "register %s", ent.Name)
	}
	return h
}

func (h *harness) open(opts ...EngineOption) {
	h.t.Helper()
	base := []EngineOption{
		WithClock(h.clock),
		WithIDGenerator(NewFixedGenerator("id")),
	}
	e, err := Open(h.ctx, h.path, append(base, opts...)...)
	require.NoError(h.t, err)
	h.engine = e
	h.t.Cleanup(func() { e.Close() })
}

// reopen closes the engine and opens the same database again, as after a
// process restart.
func (h *harness) reopen(opts ...EngineOption) {
	h.t.Helper()
	require.NoError(h.t, h.engine.Close())
	h.open(opts...)
}

// write runs statements in one transaction and commits.
func (h *harness) write(stmts ...string) error {
	h.t.Helper()
	tx, err := h.engine.Begin(h.ctx)
	require.NoError(h.t, err)
	for _, stmt := range stmts {
		if _, err := tx.Exec(h.ctx, stmt); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit(h.ctx)
}

// doc returns the decoded document of entity/pk, or nil.
func (h *harness) doc(entity string, pk int64) map[string]any {
	h.t.Helper()
	d, ok, err := h.engine.Store().GetDocument(h.ctx, h.engine.Store().DB(), entity, pk)
	require.NoError(h.t, err)
	if !ok {
		return nil
	}
	var out map[string]any
	require.NoError(h.t, json.Unmarshal(d.Data, &out))
	return out
}

func (h *harness) version(entity string, pk int64) int64 {
	h.t.Helper()
	d, ok, err := h.engine.Store().GetDocument(h.ctx, h.engine.Store().DB(), entity, pk)
	require.NoError(h.t, err)
	require.True(h.t, ok, "%s:%d missing", entity, pk)
	return d.Version
}

func orderEntities() []*catalog.Entity {
	return []*catalog.Entity{testutil.OrderLine(), testutil.OrderSummary()}
}

func blogEntities() []*catalog.Entity {
	return []*catalog.Entity{testutil.User(), testutil.Post(), testutil.AuthorDigest()}
}

const blogSeed = `INSERT INTO users (id, name) VALUES (1, 'ada'), (2, 'grace');
INSERT INTO posts (id, author_id, title) VALUES (10, 1, 'engines'), (11, 1, 'notes'), (20, 2, 'compilers')`
