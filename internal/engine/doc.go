// Package engine implements databases, object stores, indexes, cursors and
// the transactions that execute them against SQLite.
//
// ARCHITECTURE:
//
// Transactions are ordered request queues:
// Every operation on a store, index or cursor validates its arguments
// synchronously and appends a step to its transaction's FIFO queue. Nothing
// touches SQL until the caller ends its burst of enqueues with
// Transaction.Run, which drains the queue on the calling goroutine against
// a single SQL transaction, opened lazily on the first step.
//
// Request lifecycle:
//  1. enqueue: the transaction must be active (TransactionInactiveError)
//  2. execute: the step runs its SQL and produces a result or an error
//  3. success: result recorded, OnSuccess runs with the transaction re-armed
//  4. error: OnError runs, then Transaction.OnError, then abort unless
//     ErrorEvent.PreventDefault was called
//
// Abort rolls back, resolves every request still queued to AbortError in
// FIFO order and fires OnAbort. A queue that empties without abort commits
// and fires OnComplete.
//
// Cursors:
// A cursor is a request that is re-queued on every continue. Rows are read
// a page at a time (Config.PrefetchSize) and buffered; any write through
// the owning store handle drops the buffer. Multi-entry index cursors
// expand every candidate row into one entry per matching array element and
// sort the entries in memory.
//
// Key generator:
// Auto-increment stores keep their counter in __sys__.currNum. Generated
// keys take the counter; explicit numeric keys at or above it move it to
// floor(key)+1. The counter never moves backwards.
//
// CRITICAL PATTERNS:
//
// Physical names follow the queue:
// Schema renames change a store's or index's name immediately but its SQL
// table or column only when the queued rename runs, so every queued
// statement addresses names that exist when it executes.
//
// Deterministic ordering:
// Keys are stored in an order-preserving text encoding. Every ordered
// query sorts by the key column COLLATE BINARY with the primary key as
// tiebreaker.
package engine
