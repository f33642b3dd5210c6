package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPending_Lifecycle(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	p := PendingRefresh{
		GID:       "gid-1",
		Snapshot:  []byte{0x81, 0xa1},
		QueueSize: 2,
		CreatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
	require.NoError(t, s.SavePending(ctx, s.DB(), p))
	assert.Error(t, s.SavePending(ctx, s.DB(), p), "gid is prepared once")

	got, ok, err := s.LoadPending(ctx, s.DB(), "gid-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, p.Snapshot, got.Snapshot)
	assert.Equal(t, 2, got.QueueSize)
	assert.True(t, p.ExpiresAt.Equal(got.ExpiresAt))

	expired, err := s.ExpiredPending(ctx, s.DB(), now.Add(25*time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 1)

	expired, err = s.ExpiredPending(ctx, s.DB(), now)
	require.NoError(t, err)
	assert.Empty(t, expired)

	existed, err := s.DeletePending(ctx, s.DB(), "gid-1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.DeletePending(ctx, s.DB(), "gid-1")
	require.NoError(t, err)
	assert.False(t, existed)

	_, ok, err = s.LoadPending(ctx, s.DB(), "gid-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPrepared_InDoubtList(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.MarkPrepared(ctx, s.DB(), "b", now))
	require.NoError(t, s.MarkPrepared(ctx, s.DB(), "a", now))

	gids, err := s.InDoubt(ctx, s.DB())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, gids)

	ok, err := s.ResolvePrepared(ctx, s.DB(), "a")
	require.NoError(t, err)
	assert.True(t, ok)

	gids, err = s.InDoubt(ctx, s.DB())
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, gids)
}

func TestAudit_AppendList(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.AppendAudit(ctx, s.DB(), AuditEntry{ID: "1", At: now, Operation: AuditCreate, Entity: "order"}))
	require.NoError(t, s.AppendAudit(ctx, s.DB(), AuditEntry{ID: "2", At: now, Operation: AuditCreate, Entity: "line", Details: []byte(`{"source":"lines"}`)}))
	require.NoError(t, s.AppendAudit(ctx, s.DB(), AuditEntry{ID: "3", At: now, Operation: AuditDrop, Entity: "order"}))

	all, err := s.ListAudit(ctx, s.DB(), "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(3), all[2].Seq)
	assert.JSONEq(t, `{"source":"lines"}`, string(all[1].Details))

	orders, err := s.ListAudit(ctx, s.DB(), "order", 0)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, AuditDrop, orders[1].Operation)

	limited, err := s.ListAudit(ctx, s.DB(), "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	err = s.AppendAudit(ctx, s.DB(), AuditEntry{ID: "4", At: now, Operation: "UPSERT", Entity: "x"})
	assert.Error(t, err)
}
