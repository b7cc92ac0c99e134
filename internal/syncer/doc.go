// Package syncer implements the reconciliation loop that delivers
// pending recipe mutations to the remote recipe service.
//
// ARCHITECTURE:
//
// A Reconciler runs one cycle per tick (and on Trigger). A cycle:
//  1. claims the in-flight guard, or skips when another cycle holds it
//  2. checks eligibility: queue non-empty, signed in, user id known,
//     network reachable
//  3. delivers each queued mutation sequentially, in queue order
//  4. commits all outcomes to the queue in one write
//  5. calls the committed hook when the queue shrank
//  6. releases the guard
//
// Successes are announced through the Notifier as they happen. Failures
// are logged at debug level and retried on a later cycle; they are never
// announced.
//
// The queue, not the reconciler, owns the list. Outcomes are applied by
// LocalID and Revision, so entries enqueued or edited while a cycle is
// delivering are preserved.
package syncer
