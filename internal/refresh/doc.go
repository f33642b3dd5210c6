// Package refresh recomputes derived documents and writes them back.
//
// A Computer evaluates an entity's query for a set of keys. The Executor
// compares each computed document with the stored one and picks the
// cheapest write that reproduces it: nothing when the hashes match, a
// version-guarded json_set/json_remove UPDATE for small changes, and a full
// replacement otherwise. Keys the query no longer returns are deleted.
//
// RefreshBatch does the same for many keys of one entity with one compute,
// one read and at most one upsert and one delete. It stores exactly the
// documents N calls to RefreshOne would.
package refresh
