// Package queue implements the pending recipe mutation queue.
//
// The queue is the durable list of create/update requests the server has
// not confirmed yet. It is stored as one JSON array under StorageKey and
// every operation is a whole-list read-modify-write.
//
// CONCURRENCY:
//
// All read-modify-write operations hold a single mutex, including the
// reconciler's Commit. A UI edit racing with the end of a sync cycle is
// therefore applied either before or after the commit, never lost.
// Commit re-reads the list and applies delivery outcomes by LocalID and
// Revision, so entries enqueued or edited mid-cycle survive it.
//
// IDENTITY:
//
// Entries are keyed by a generated LocalID. Name is kept as the lookup key
// for Remove and Update and for duplicate detection; two entries may share
// a name, which is logged and counted.
//
// FAILURE POLICY:
//
//   - List degrades to an empty queue when the store cannot be read.
//   - Mutating operations return the read error instead of overwriting
//     the stored list with an empty one.
//   - Entries that fail MaxAttempts deliveries in a row move to the
//     dead-letter list under DeadLetterKey.
package queue
