// Package store provides SQLite-backed durable storage for the local
// calendar: event records, outbox jobs, and the settings singleton.
//
// The outbox table is the durable wire format of the sync subsystem. Jobs
// round-trip exactly across process restarts (operation-specific payloads are
// stored as JSON), so a worker can be killed at any point and resume from the
// persisted state alone. All cross-job coordination goes through this store,
// never through in-memory structures.
//
// # Invariants
//
//   - An event is PENDING iff at least one non-terminal job references it;
//     CountNonTerminalJobsForEvent is the authority for recomputing this.
//   - Events are never hard-deleted while jobs may reference them; deletion
//     is the is_deleted tombstone, propagated like any other mutation.
//   - Due-job selection orders by (next_retry_at, created_at) so draining is
//     deterministic; a job with a depends_on edge is invisible to selection
//     until the referenced job is DONE.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Multi-row atomic updates (series splits, cancellation cascades) run through
// Store.WithTx, which rebinds the same Queries to a transaction.
package store
