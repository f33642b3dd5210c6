package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBoundary struct {
	commits int
	aborts  int
}

func (b *fakeBoundary) OnPreCommit(func(ctx context.Context) error) { b.commits++ }
func (b *fakeBoundary) OnAbort(func())                               { b.aborts++ }

func newTestQueue(b Boundary) *Queue {
	return New(b, func(context.Context) error { return nil }, func() {})
}

func TestQueue_EnqueueIsIdempotent(t *testing.T) {
	q := newTestQueue(nil)

	assert.True(t, q.Enqueue(RefreshKey{Entity: "order_summary", PK: 7}))
	assert.False(t, q.Enqueue(RefreshKey{Entity: "order_summary", PK: 7}))
	assert.True(t, q.Enqueue(RefreshKey{Entity: "order_summary", PK: 8}))
	assert.True(t, q.Enqueue(RefreshKey{Entity: "order_line", PK: 7}))

	assert.Equal(t, 3, q.Len())
}

// TestQueue_HooksRegisteredOnce tests that the boundary callbacks are
// installed on the first insertion only, even across flushes.
func TestQueue_HooksRegisteredOnce(t *testing.T) {
	b := &fakeBoundary{}
	q := newTestQueue(b)

	assert.False(t, q.HooksRegistered())
	q.Enqueue(RefreshKey{Entity: "a", PK: 1})
	q.Enqueue(RefreshKey{Entity: "a", PK: 2})
	q.Flush()
	q.Enqueue(RefreshKey{Entity: "a", PK: 3})

	assert.True(t, q.HooksRegistered())
	assert.Equal(t, 1, b.commits)
	assert.Equal(t, 1, b.aborts)
}

func TestQueue_FlushSwapsSet(t *testing.T) {
	q := newTestQueue(nil)
	q.Enqueue(RefreshKey{Entity: "b", PK: 2})
	q.Enqueue(RefreshKey{Entity: "a", PK: 9})
	q.Enqueue(RefreshKey{Entity: "a", PK: 1})

	got := q.Flush()
	assert.Equal(t, []RefreshKey{{"a", 1}, {"a", 9}, {"b", 2}}, got)
	assert.Equal(t, 0, q.Len())

	// Keys enqueued after the flush land in the fresh set.
	q.Enqueue(RefreshKey{Entity: "a", PK: 1})
	assert.Equal(t, []RefreshKey{{"a", 1}}, q.Flush())
	assert.Empty(t, q.Flush())
}

func TestQueue_Savepoints(t *testing.T) {
	q := newTestQueue(nil)
	q.Enqueue(RefreshKey{Entity: "a", PK: 1})

	q.PushSavepoint("sp1")
	q.Enqueue(RefreshKey{Entity: "a", PK: 2})
	q.PushSavepoint("sp2")
	q.Enqueue(RefreshKey{Entity: "a", PK: 3})
	assert.Equal(t, 2, q.SavepointDepth())

	require.NoError(t, q.RollbackTo("sp1"))
	assert.Equal(t, []RefreshKey{{"a", 1}}, q.Keys())
	assert.Equal(t, 1, q.SavepointDepth(), "sp1 survives rollback, sp2 is gone")

	q.Enqueue(RefreshKey{Entity: "a", PK: 4})
	require.NoError(t, q.Release("sp1"))
	assert.Equal(t, 0, q.SavepointDepth())
	assert.Equal(t, []RefreshKey{{"a", 1}, {"a", 4}}, q.Keys())

	assert.Error(t, q.RollbackTo("missing"))
	assert.Error(t, q.Release("missing"))
}

func TestQueue_ClearKeepsRegistration(t *testing.T) {
	b := &fakeBoundary{}
	q := newTestQueue(b)
	q.Enqueue(RefreshKey{Entity: "a", PK: 1})
	q.PushSavepoint("sp")

	q.Clear()

	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 0, q.SavepointDepth())
	q.Enqueue(RefreshKey{Entity: "a", PK: 1})
	assert.Equal(t, 1, b.commits)
}

func TestSerializedQueue_BinaryRoundTrip(t *testing.T) {
	q := newTestQueue(nil)
	q.Enqueue(RefreshKey{Entity: "order_summary", PK: 7})
	q.Enqueue(RefreshKey{Entity: "order_line", PK: 42})
	q.PushSavepoint("sp")

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	snap := q.Snapshot(now, "session-1")

	data, err := snap.MarshalBinary()
	require.NoError(t, err)

	var got SerializedQueue
	require.NoError(t, got.UnmarshalBinary(data))
	assert.Equal(t, SnapshotVersion, got.Version)
	assert.Equal(t, []RefreshKey{{"order_line", 42}, {"order_summary", 7}}, got.Keys)
	assert.Equal(t, "session-1", got.Metadata.SourceSession)
	assert.Equal(t, 1, got.Metadata.SavepointDepth)
	assert.True(t, now.Equal(got.Metadata.EnqueuedAt))
}

func TestSerializedQueue_RejectsUnknownVersion(t *testing.T) {
	data, err := SerializedQueue{Version: 99}.MarshalBinary()
	require.NoError(t, err)

	var got SerializedQueue
	err = got.UnmarshalBinary(data)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestParseKey(t *testing.T) {
	k, err := ParseKey("order_summary:7")
	require.NoError(t, err)
	assert.Equal(t, RefreshKey{Entity: "order_summary", PK: 7}, k)
	assert.Equal(t, "order_summary:7", k.String())

	for _, bad := range []string{"", "x", ":1", "x:", "x:y"} {
		_, err := ParseKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestQueue_Stats(t *testing.T) {
	q := newTestQueue(nil)
	q.Enqueue(RefreshKey{Entity: "a", PK: 1})
	q.Enqueue(RefreshKey{Entity: "a", PK: 2})
	q.Enqueue(RefreshKey{Entity: "b", PK: 1})

	st := q.Stats()
	assert.Equal(t, 3, st.Size)
	assert.Equal(t, map[string]int{"a": 2, "b": 1}, st.Entities)
	assert.True(t, st.HooksRegistered)
	assert.Equal(t, []string{"a:1", "a:2", "b:1"}, q.Debug())
}
