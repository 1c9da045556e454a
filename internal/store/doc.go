// Package store provides the SQLite backing store for sqlidb databases.
//
// A data directory holds one versions database (__sysdb__.sqlite) plus one
// file per database. Each database file has:
//   - __sys__: one row per object store with its keyPath, autoIncrement
//     flag, JSON index list and auto-increment counter
//   - "s_<store>": one table per object store with key, value and one
//     "_<index>" column per index
//
// Keys are stored as their order-preserving text encoding, so range
// predicates and ORDER BY work directly on the columns. Values are opaque
// serializer bytes.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - One connection: transactions queue behind each other
package store
