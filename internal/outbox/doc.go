// Package outbox implements the durable mutation queue and the worker that
// drains it against the remote calendar service.
//
// ARCHITECTURE:
//
// Enqueue/Drain Split:
// User-facing mutations only ever touch the store: Enqueue records a job,
// flips the referenced event PENDING, and requests a flush. The Worker is
// the sole executor; it selects due jobs one at a time and runs them to a
// terminal or retryable state.
//
// Pass Coalescing:
// One pass at a time. A flush requested while a pass runs is recorded, not
// queued: the worker performs exactly one follow-up pass after the current
// one, so enqueue bursts cannot pile up concurrent runs.
//
// Failure Policy:
// Remote failures classify three ways. TRANSIENT failures reschedule the job
// on a fixed backoff ladder with additive jitter. RATE_LIMITED does the same
// but stops the whole pass, to avoid compounding the limit. PERMANENT
// failures (and exhausted retry budgets, and orphaned jobs) cancel the job
// and cascade the cancellation through every job depending on it.
//
// Conflict Policy:
// Before pushing over an existing remote event the worker fetches the remote
// snapshot; if the remote is at least as recent as the local edit, the
// remote wins: the snapshot is absorbed locally and the push is cancelled.
//
// Crash Recovery:
// Every pass begins by sweeping jobs stuck RUNNING past a staleness window
// back to FAILED. All state lives in SQLite; a worker restarted at any point
// resumes deterministically.
package outbox
