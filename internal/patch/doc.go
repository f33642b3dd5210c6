// Package patch computes field-level changes between two JSON documents
// and decides whether a stored derived document should be patched in place
// or replaced whole.
//
// Documents are compared through their canonical form (sorted keys, NFC
// strings, normalized numbers), which is also what Hash digests. A Plan is
// only partial when replaying its ops on the stored document reproduces the
// recomputed one exactly, so patching and replacement always converge on
// the same document.
package patch
