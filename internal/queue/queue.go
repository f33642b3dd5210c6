package queue

import (
	"context"
	"sync"
)

// Boundary is the transaction-boundary primitive the queue hooks into on
// its first insertion. OnPreCommit callbacks run exactly once immediately
// before commit; OnAbort callbacks run when the transaction is abandoned.
type Boundary interface {
	OnPreCommit(fn func(ctx context.Context) error)
	OnAbort(fn func())
}

// Queue is the deduplicating set of pending refresh keys owned by one
// transaction.
//
// The first Enqueue of the transaction registers the commit and abort
// callbacks with the Boundary; later inserts never register again, even
// after Flush empties the set. A Queue must not be shared between
// transactions.
type Queue struct {
	mu         sync.Mutex
	keys       map[RefreshKey]struct{}
	savepoints []savepoint
	registered bool

	boundary Boundary
	onCommit func(ctx context.Context) error
	onAbort  func()
}

// New creates an empty queue. onCommit is registered with b as the
// pre-commit callback and onAbort as the abort callback when the first key
// is enqueued. Any of b, onCommit, onAbort may be nil.
func New(b Boundary, onCommit func(ctx context.Context) error, onAbort func()) *Queue {
	return &Queue{
		keys:     make(map[RefreshKey]struct{}),
		boundary: b,
		onCommit: onCommit,
		onAbort:  onAbort,
	}
}

// Enqueue inserts key. Returns false when the key was already pending.
func (q *Queue) Enqueue(key RefreshKey) bool {
	q.mu.Lock()
	if _, ok := q.keys[key]; ok {
		q.mu.Unlock()
		return false
	}
	q.keys[key] = struct{}{}
	first := !q.registered
	q.registered = true
	q.mu.Unlock()

	// Registered outside the lock: a Boundary may inspect the queue.
	if first && q.boundary != nil {
		if q.onCommit != nil {
			q.boundary.OnPreCommit(q.onCommit)
		}
		if q.onAbort != nil {
			q.boundary.OnAbort(q.onAbort)
		}
	}
	return true
}

// EnqueueAll inserts every key and returns how many were new.
func (q *Queue) EnqueueAll(keys []RefreshKey) int {
	n := 0
	for _, k := range keys {
		if q.Enqueue(k) {
			n++
		}
	}
	return n
}

// Flush atomically swaps out the pending set and returns its keys in
// (entity, pk) order, leaving the queue empty. Keys enqueued after Flush
// returns land in the fresh set.
func (q *Queue) Flush() []RefreshKey {
	q.mu.Lock()
	taken := q.keys
	q.keys = make(map[RefreshKey]struct{})
	q.mu.Unlock()

	out := make([]RefreshKey, 0, len(taken))
	for k := range taken {
		out = append(out, k)
	}
	SortKeys(out)
	return out
}

// Len returns the number of pending keys.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.keys)
}

// Contains reports whether key is pending.
func (q *Queue) Contains(key RefreshKey) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.keys[key]
	return ok
}

// Keys returns a sorted copy of the pending keys without draining them.
func (q *Queue) Keys() []RefreshKey {
	q.mu.Lock()
	out := make([]RefreshKey, 0, len(q.keys))
	for k := range q.keys {
		out = append(out, k)
	}
	q.mu.Unlock()
	SortKeys(out)
	return out
}

// HooksRegistered reports whether the boundary callbacks were installed.
func (q *Queue) HooksRegistered() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.registered
}

// Clear drops all pending keys and savepoint snapshots. The hook
// registration flag is kept: callbacks already handed to the Boundary
// remain installed for this transaction.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.keys = make(map[RefreshKey]struct{})
	q.savepoints = nil
}
