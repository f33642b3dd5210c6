// Package queue implements the transaction-scoped refresh queue.
//
// A Queue is a set of RefreshKey values owned by exactly one transaction.
// Inserting a key twice is a no-op, so a derived row is recomputed once per
// transaction no matter how many source writes touched it. The first
// insertion installs commit and abort callbacks with the transaction
// boundary; Flush hands the set to the cascade while leaving an empty set
// behind for propagation to refill.
//
// Savepoints snapshot the set so ROLLBACK TO SAVEPOINT can restore it, and
// SerializedQueue is the msgpack form persisted when a transaction is
// prepared for two-phase commit.
package queue
