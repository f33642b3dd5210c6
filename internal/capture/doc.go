// Package capture turns row writes on source tables into refresh keys.
//
// A dedicated SQLite driver installs the scalar function tview_capture on
// every connection it opens. Triggers on each registered source table call
// the function with the affected row's key, and the function forwards the
// call to the Sink bound to that connection. An engine transaction binds
// itself for its lifetime, so captures always land in the queue of the
// transaction that performed the write.
//
// A capture on a connection with no bound transaction fails the statement
// with ErrNoTransaction: writes to registered tables must go through a
// transaction handle.
package capture
