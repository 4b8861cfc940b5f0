package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"calsyncd/internal/model"
	"calsyncd/internal/store"
)

// Clock supplies the current instant. The worker and queue never call
// time.Now directly so tests can drive retry schedules and staleness sweeps
// deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Queue durably records outbound mutations. Enqueue touches only the store;
// it never blocks on network I/O. Draining is the Worker's job.
type Queue struct {
	store *store.Store
	clock Clock
	newID func() string

	// flush, when set, requests a worker pass after a successful enqueue.
	// Requests made while a pass runs coalesce into one follow-up pass.
	flush func()
}

// NewQueue creates a queue over the store.
func NewQueue(st *store.Store, clock Clock) *Queue {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Queue{
		store: st,
		clock: clock,
		newID: uuid.NewString,
	}
}

// SetFlushFunc wires the worker's flush trigger. Called once at composition.
func (q *Queue) SetFlushFunc(fn func()) {
	q.flush = fn
}

// Enqueue records one pending mutation and flips the referenced event to
// PENDING, then requests a worker flush. dependsOn, when non-empty, orders
// this job after another: it will not execute until that job is DONE.
//
// PATCH jobs coalesce: if a non-terminal PATCH for the same event exists, the
// new field set merges into it (later values win), the job is re-queued for
// immediate retry, and its previous error is cleared. This guarantees at most
// one pending PATCH per event and makes rapid repeated edits cheap.
func (q *Queue) Enqueue(ctx context.Context, eventLocalID string, op model.Operation, payload model.Payload, dependsOn string) (string, error) {
	if !model.ValidOperations[op] {
		return "", fmt.Errorf("enqueue: unknown operation %q", op)
	}
	if err := payload.Validate(op); err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}

	now := q.clock.Now()
	var jobID string

	err := q.store.WithTx(ctx, func(tx *store.Queries) error {
		if op == model.OpPatch && eventLocalID != "" {
			existing, err := tx.FindCoalescablePatch(ctx, eventLocalID)
			if err != nil {
				return err
			}
			if existing != nil {
				mergePatch(existing, payload, now)
				if err := tx.UpdateJob(ctx, existing); err != nil {
					return err
				}
				jobID = existing.ID
				return q.markPending(ctx, tx, eventLocalID)
			}
		}

		job := &model.OutboxJob{
			ID:           q.newID(),
			Operation:    op,
			Status:       model.JobQueued,
			NextRetryAt:  now,
			EventLocalID: eventLocalID,
			Payload:      payload,
			DependsOn:    dependsOn,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.InsertJob(ctx, job); err != nil {
			return err
		}
		jobID = job.ID
		return q.markPending(ctx, tx, eventLocalID)
	})
	if err != nil {
		return "", err
	}

	q.requestFlush()
	return jobID, nil
}

func (q *Queue) markPending(ctx context.Context, tx *store.Queries, eventLocalID string) error {
	if eventLocalID == "" {
		return nil
	}
	return tx.UpdateSyncState(ctx, eventLocalID, store.SyncStateUpdate{State: model.SyncPending})
}

func (q *Queue) requestFlush() {
	if q.flush != nil {
		q.flush()
	}
}

// mergePatch folds a new PATCH payload into an existing non-terminal job:
// field-wise union with the new values winning, immediate retry, error
// cleared.
func mergePatch(job *model.OutboxJob, payload model.Payload, now time.Time) {
	if job.Payload.Fields == nil {
		job.Payload.Fields = make(map[string]string, len(payload.Fields))
	}
	for k, v := range payload.Fields {
		job.Payload.Fields[k] = v
	}
	job.Status = model.JobQueued
	job.NextRetryAt = now
	job.LastError = ""
	job.UpdatedAt = now
}
