// Package engine implements incremental refresh of derived documents.
//
// The engine sits between application writes and the derived collections
// (entities) computed from them. Every write runs in a Tx; capture
// triggers turn each modified source row into refresh keys in the
// transaction's queue, and Commit runs the cascade before the SQL COMMIT.
//
// ARCHITECTURE:
//
// Cascade (fixed-point iteration):
// 1. Flush the queue into the pending pool
// 2. Take the keys of the lowest dependency level present
// 3. Refresh them, in batches of one entity where there are enough keys
// 4. Locate parent rows along lineage paths and enqueue them
// 5. Repeat until nothing is pending or the depth guard trips
//
// A key is refreshed at most once per cascade. Processing by level means a
// parent is never refreshed from a stale child.
//
// Two-phase commit:
// Tx.Prepare snapshots the queue under a global id and commits;
// CommitPrepared replays the snapshot through the cascade;
// RollbackPrepared discards it. Snapshots whose id the host no longer
// lists as in doubt are orphans, reported by RecoverPrepared and resolved
// by an operator with ReplayOrphan or DiscardOrphan.
//
// CRITICAL PATTERNS:
//
// All-or-nothing: any cascade or refresh error rolls back the whole
// transaction, source writes included.
//
// Deterministic order: keys of one level are processed by topological
// rank, then primary key.
package engine
