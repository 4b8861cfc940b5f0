package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"calsyncd/internal/model"
	"calsyncd/internal/recur"
	"calsyncd/internal/store"
)

// SplitSeries splits a recurring series "this and all future" at boundary.
//
// In one transaction the existing master keeps the past portion (its rule is
// truncated to end just before the boundary) and a new master carries the
// edited continuation from the boundary on; both flip PENDING. Two jobs are
// enqueued: a RECUR_FUTURE that truncates the remote master, and a CREATE for
// the new master that depends on it - the create must not run until the
// truncation is DONE, so the remote series is never double-covered, even
// transiently.
//
// edited mutates the continuation record before it is stored (summary, rule,
// times); it receives a copy of the master already rebased to the boundary.
// Returns the new master's local id.
func (q *Queue) SplitSeries(ctx context.Context, masterLocalID string, boundary time.Time, edited func(*model.CalendarEvent)) (string, error) {
	master, err := q.store.GetEventByLocalID(ctx, masterLocalID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("split series: event %s not found", masterLocalID)
	}
	if err != nil {
		return "", err
	}
	if !master.IsSeriesMaster() {
		return "", fmt.Errorf("split series: event %s has no recurrence rule", masterLocalID)
	}
	if master.RemoteID == "" {
		// The RECUR_FUTURE push patches the remote master; until the series
		// has been pushed once there is nothing to truncate remotely.
		return "", fmt.Errorf("split series: event %s has not been pushed yet", masterLocalID)
	}

	sourceRule := master.RecurrenceRule
	truncated, err := recur.SplitForFuture(sourceRule, boundary)
	if err != nil {
		return "", fmt.Errorf("split series: %w", err)
	}

	now := q.clock.Now()
	splitBoundary := boundary.UTC()

	continuation := *master
	continuation.LocalID = q.newID()
	continuation.RemoteID = ""
	continuation.RecurringEventID = ""
	continuation.OriginalStartUTC = time.Time{}
	continuation.RemoteUpdatedAt = time.Time{}
	if !master.StartUTC.IsZero() {
		duration := master.EndUTC.Sub(master.StartUTC)
		continuation.StartUTC = splitBoundary
		continuation.EndUTC = splitBoundary.Add(duration)
	}
	continuation.LocalEditedAt = now
	continuation.CreatedAt = now
	continuation.SyncState = model.SyncPending
	if edited != nil {
		edited(&continuation)
	}

	truncJobID := q.newID()
	createJobID := q.newID()

	err = q.store.WithTx(ctx, func(tx *store.Queries) error {
		master.RecurrenceRule = truncated
		master.LocalEditedAt = now
		master.SyncState = model.SyncPending
		if err := tx.UpsertEvent(ctx, master); err != nil {
			return err
		}
		if err := tx.UpsertEvent(ctx, &continuation); err != nil {
			return err
		}

		truncJob := &model.OutboxJob{
			ID:           truncJobID,
			Operation:    model.OpRecurFuture,
			Status:       model.JobQueued,
			NextRetryAt:  now,
			EventLocalID: master.LocalID,
			Payload: model.Payload{
				SplitBoundary: &splitBoundary,
				SourceRule:    sourceRule,
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertJob(ctx, truncJob); err != nil {
			return err
		}

		createJob := &model.OutboxJob{
			ID:           createJobID,
			Operation:    model.OpCreate,
			Status:       model.JobQueued,
			NextRetryAt:  now,
			EventLocalID: continuation.LocalID,
			DependsOn:    truncJobID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return tx.InsertJob(ctx, createJob)
	})
	if err != nil {
		return "", err
	}

	q.requestFlush()
	return continuation.LocalID, nil
}
