// Package kvstore provides durable string-keyed storage for JSON documents.
//
// The pending mutation queue keeps its whole state as one JSON array under
// a well-known key, so the store only needs get/set/remove on complete
// documents. No partial or field-level writes exist.
//
// Backends:
//   - SQLiteStore: single-file database, the default for local use
//   - RedisStore: shared Redis instance, keys namespaced by a prefix
//   - MemoryStore: process-local map for tests and dry runs
//
// # SQLite Configuration
//
//   - WAL mode: readers never block the writer
//   - synchronous=NORMAL: durable across application crashes
//   - busy_timeout=5000: wait for locks up to 5 seconds
//
// Values are validated as JSON before they are written.
package kvstore
