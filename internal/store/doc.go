// Package store provides SQLite-backed durable storage for the refresh
// engine.
//
// The store holds:
//   - Entities: registered derived collections (definition as JSON)
//   - Documents: the materialized read-model rows, versioned and hashed
//   - Pending refreshes: msgpack queue snapshots of prepared transactions
//   - Prepared xacts: the host's in-doubt transaction list
//   - Audit log: CREATE / DROP / REFRESH operations
//
// Every operation takes a DBTX so it can run inside the caller's
// transaction and observe that transaction's own uncommitted writes.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Documents are removed with their entity
//   - _txlock=immediate: Write transactions serialize
package store
