package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"calsyncd/internal/model"
	"calsyncd/internal/recur"
	"calsyncd/internal/remote"
	"calsyncd/internal/store"
)

const (
	// MaxAttempts is the retry budget per job. A job failing this often is
	// cancelled via the cascade rather than retried forever.
	MaxAttempts = 8

	// staleRunningAfter is the liveness backstop: a job RUNNING without an
	// update for this long was abandoned by a crashed or killed process.
	staleRunningAfter = 5 * time.Minute
)

// Worker drains the outbox against the remote calendar service.
//
// A pass is never run concurrently with itself: the isProcessing flag guards
// overlap, and a flush requested mid-pass sets pendingFlush so exactly one
// follow-up pass runs after the current one finishes. Both flags are fields
// of the worker, constructed once per store, so independent stores (e.g.
// under test) never share guard state. All cross-job coordination goes
// through the store, so a restarted worker resumes from persisted state
// alone.
type Worker struct {
	store  *store.Store
	remote remote.Service
	clock  Clock
	logger *slog.Logger

	// jitter returns a value in [0, 1) for backoff randomization.
	jitter func() float64

	mu           sync.Mutex
	isProcessing bool
	pendingFlush bool
}

// NewWorker creates a worker over the store and remote service.
func NewWorker(st *store.Store, svc remote.Service, clock Clock, logger *slog.Logger) *Worker {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:  st,
		remote: svc,
		clock:  clock,
		logger: logger,
		jitter: rand.Float64,
	}
}

// TriggerFlush requests a drain without waiting for it. Used as the queue's
// flush callback; bursts of requests coalesce into at most one extra pass.
func (w *Worker) TriggerFlush() {
	go func() {
		if _, err := w.ProcessOutboxNow(context.Background()); err != nil {
			w.logger.Error("outbox flush failed", "error", err)
		}
	}()
}

// ProcessOutboxNow runs drain passes until the queue has no due job left.
// If a pass is already running, the call records a flush request and returns
// immediately; the running invocation performs one additional pass.
//
// Per-job failures are recorded on the job and never returned: one bad job
// must not abort the pass. The returned error covers store-level failures
// only. A RATE_LIMITED failure stops the current pass early.
func (w *Worker) ProcessOutboxNow(ctx context.Context) (int, error) {
	w.mu.Lock()
	if w.isProcessing {
		w.pendingFlush = true
		w.mu.Unlock()
		return 0, nil
	}
	w.isProcessing = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.isProcessing = false
		w.mu.Unlock()
	}()

	total := 0
	for {
		n, err := w.runPass(ctx)
		total += n
		if err != nil {
			return total, err
		}

		w.mu.Lock()
		again := w.pendingFlush
		w.pendingFlush = false
		w.mu.Unlock()
		if !again {
			return total, nil
		}
	}
}

// CancelJob cancels a job and its entire dependent subtree.
func (w *Worker) CancelJob(ctx context.Context, jobID, reason string) error {
	return w.cancelCascade(ctx, jobID, reason)
}

// runPass recovers stuck jobs, then executes due jobs until none remain or a
// rate limit stops the pass. Returns the number of jobs completed.
func (w *Worker) runPass(ctx context.Context) (int, error) {
	// Without a remote client nothing can be pushed; jobs stay queued until
	// the account is configured.
	if w.remote == nil {
		return 0, nil
	}

	now := w.clock.Now()
	if swept, err := w.store.SweepStaleRunning(ctx, now.Add(-staleRunningAfter), now); err != nil {
		return 0, err
	} else if swept > 0 {
		w.logger.Warn("recovered stale running jobs", "count", swept)
	}

	settings, err := w.store.GetSettings(ctx)
	if err != nil {
		return 0, err
	}

	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		job, err := w.store.NextDueJob(ctx, w.clock.Now())
		if err != nil {
			return processed, err
		}
		if job == nil {
			return processed, nil
		}

		outcome, err := w.processJob(ctx, job, settings)
		if err != nil {
			return processed, err
		}
		if outcome == outcomeDone {
			processed++
		}
		if outcome == outcomeRateLimited {
			w.logger.Warn("rate limited, stopping pass", "job", job.ID)
			return processed, nil
		}
	}
}

type jobOutcome int

const (
	outcomeDone jobOutcome = iota + 1
	outcomeCancelled
	outcomeRetry
	outcomeRateLimited
)

// processJob executes one job end to end. The returned error is a
// store-level failure; remote failures are absorbed into the job's retry
// state.
func (w *Worker) processJob(ctx context.Context, job *model.OutboxJob, settings model.Settings) (jobOutcome, error) {
	now := w.clock.Now()
	job.Status = model.JobRunning
	job.UpdatedAt = now
	if err := w.store.UpdateJob(ctx, job); err != nil {
		return 0, err
	}

	// Load the referenced event. A missing record is permanent: the job is
	// orphaned and its dependents can never run against it. DELETE is exempt;
	// it carries the remote id in its payload.
	var ev *model.CalendarEvent
	if job.EventLocalID != "" {
		var err error
		ev, err = w.store.GetEventByLocalID(ctx, job.EventLocalID)
		if errors.Is(err, sql.ErrNoRows) {
			ev = nil
			err = nil
		}
		if err != nil {
			return 0, err
		}
	}
	if ev == nil && job.Operation != model.OpDelete {
		w.logger.Warn("cancelling orphaned job", "job", job.ID, "event", job.EventLocalID)
		if err := w.cancelCascade(ctx, job.ID, "local record not found"); err != nil {
			return 0, err
		}
		return outcomeCancelled, nil
	}

	calendarID := settings.CalendarID
	if ev != nil && ev.CalendarID != "" {
		calendarID = ev.CalendarID
	}

	// Conflict check: before pushing over an existing remote event, compare
	// recency. Remote wins on tie - a local copy no newer than the remote is
	// provably stale or identical, and re-pushing it would only churn.
	if job.Operation != model.OpCreate && ev != nil && ev.RemoteID != "" {
		snap, err := w.remote.FetchSnapshot(ctx, calendarID, ev.RemoteID)
		if err != nil {
			return w.handleFailure(ctx, job, ev, err)
		}
		if snap != nil && !snap.UpdatedAt.Before(ev.LocalEditedAt) {
			if err := w.absorbSnapshot(ctx, ev, snap); err != nil {
				return 0, err
			}
			if err := w.cancelCascade(ctx, job.ID, "remote version is newer or equal"); err != nil {
				return 0, err
			}
			return outcomeCancelled, nil
		}
	}

	payload, err := w.preparePayload(job)
	if err != nil {
		w.logger.Warn("cancelling job with unusable payload", "job", job.ID, "error", err)
		if err := w.cancelCascade(ctx, job.ID, err.Error()); err != nil {
			return 0, err
		}
		return outcomeCancelled, nil
	}

	res, err := w.remote.PushChange(ctx, calendarID, job.Operation, ev, payload)
	if err != nil {
		return w.handleFailure(ctx, job, ev, err)
	}

	return w.finishJob(ctx, job, ev, res)
}

// preparePayload derives execution-time payload data. For RECUR_FUTURE the
// truncated rule is computed here, when the job runs, from the rule captured
// at enqueue time.
func (w *Worker) preparePayload(job *model.OutboxJob) (model.Payload, error) {
	payload := job.Payload
	if job.Operation != model.OpRecurFuture {
		return payload, nil
	}

	truncated, err := recur.SplitForFuture(payload.SourceRule, *payload.SplitBoundary)
	if err != nil {
		return payload, fmt.Errorf("split recurrence rule: %v", err)
	}

	fields := make(map[string]string, len(payload.Fields)+1)
	for k, v := range payload.Fields {
		fields[k] = v
	}
	fields["recurrenceRule"] = truncated
	payload.Fields = fields
	return payload, nil
}

// finishJob records a successful push: the job is DONE, the event adopts the
// remote id and modification time, and its sync state returns to CLEAN once
// no other non-terminal job references it.
func (w *Worker) finishJob(ctx context.Context, job *model.OutboxJob, ev *model.CalendarEvent, res remote.PushResult) (jobOutcome, error) {
	err := w.store.WithTx(ctx, func(tx *store.Queries) error {
		job.Status = model.JobDone
		job.LastError = ""
		job.UpdatedAt = w.clock.Now()
		if err := tx.UpdateJob(ctx, job); err != nil {
			return err
		}

		if ev == nil {
			return nil
		}

		remaining, err := tx.CountNonTerminalJobsForEvent(ctx, ev.LocalID)
		if err != nil {
			return err
		}
		state := model.SyncClean
		if remaining > 0 {
			state = model.SyncPending
		}
		return tx.UpdateSyncState(ctx, ev.LocalID, store.SyncStateUpdate{
			State:           state,
			RemoteID:        res.RemoteID,
			RemoteUpdatedAt: res.RemoteUpdatedAt,
		})
	})
	if err != nil {
		return 0, err
	}

	w.logger.Debug("job done", "job", job.ID, "op", string(job.Operation))
	return outcomeDone, nil
}

// absorbSnapshot overwrites the local record with the authoritative remote
// state and marks it CLEAN.
func (w *Worker) absorbSnapshot(ctx context.Context, ev *model.CalendarEvent, snap *remote.Snapshot) error {
	ev.Summary = snap.Summary
	ev.Description = snap.Description
	ev.Location = snap.Location
	ev.StartUTC = snap.StartUTC
	ev.EndUTC = snap.EndUTC
	ev.AllDay = snap.AllDay
	ev.RecurrenceRule = snap.RecurrenceRule
	ev.RecurringEventID = snap.RecurringEventID
	ev.OriginalStartUTC = snap.OriginalStartUTC
	ev.IsDeleted = snap.Deleted
	ev.RemoteUpdatedAt = snap.UpdatedAt
	ev.SyncState = model.SyncClean
	return w.store.UpsertEvent(ctx, ev)
}

// handleFailure applies the three-way failure policy to a remote error.
func (w *Worker) handleFailure(ctx context.Context, job *model.OutboxJob, ev *model.CalendarEvent, cause error) (jobOutcome, error) {
	kind := remote.Classify(cause)

	if kind == remote.KindPermanent {
		w.logger.Warn("permanent failure, cancelling job", "job", job.ID, "error", cause)
		reason := fmt.Sprintf("permanent failure: %v", cause)
		if err := w.cancelCascade(ctx, job.ID, reason); err != nil {
			return 0, err
		}
		return outcomeCancelled, nil
	}

	job.Attempts++
	if job.Attempts >= MaxAttempts {
		w.logger.Warn("retry budget exhausted, cancelling job", "job", job.ID, "attempts", job.Attempts)
		reason := fmt.Sprintf("gave up after %d attempts: %v", job.Attempts, cause)
		if err := w.cancelCascade(ctx, job.ID, reason); err != nil {
			return 0, err
		}
		return outcomeCancelled, nil
	}

	now := w.clock.Now()
	job.Status = model.JobFailed
	job.LastError = cause.Error()
	job.NextRetryAt = now.Add(backoffDelay(job.Attempts, w.jitter()))
	job.UpdatedAt = now

	err := w.store.WithTx(ctx, func(tx *store.Queries) error {
		if err := tx.UpdateJob(ctx, job); err != nil {
			return err
		}
		if ev == nil {
			return nil
		}
		return tx.UpdateSyncState(ctx, ev.LocalID, store.SyncStateUpdate{State: model.SyncError})
	})
	if err != nil {
		return 0, err
	}

	w.logger.Debug("job failed, will retry",
		"job", job.ID, "attempts", job.Attempts, "next_retry", job.NextRetryAt, "error", cause)

	if kind == remote.KindRateLimited {
		return outcomeRateLimited, nil
	}
	return outcomeRetry, nil
}
