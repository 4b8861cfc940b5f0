// Package syncer orchestrates bidirectional synchronization: it drains the
// outbox (push) and pages remote changes into the local store (pull), owning
// the sync-token lifecycle and the full-vs-delta decision.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"calsyncd/internal/model"
	"calsyncd/internal/outbox"
	"calsyncd/internal/remote"
	"calsyncd/internal/store"
)

// Mode reports how a sync run pulled remote changes.
type Mode string

const (
	// ModeSkipped means no sync ran: not authenticated or no calendar
	// selected.
	ModeSkipped Mode = "SKIPPED"
	// ModeFull means the run paged through the whole (possibly windowed)
	// remote calendar.
	ModeFull Mode = "FULL"
	// ModeDelta means the run pulled only changes since the stored sync
	// token.
	ModeDelta Mode = "DELTA"
)

// Result summarizes one RunSyncNow invocation.
type Result struct {
	Mode            Mode
	PulledEvents    int
	PushedJobs      int
	OutboxRemaining int
}

// ForcePushResult summarizes one ForcePushAll invocation.
type ForcePushResult struct {
	Enqueued  int
	Processed int
	Skipped   int
}

// Engine ties the store, the remote service, and the outbox together.
type Engine struct {
	store  *store.Store
	remote remote.Service
	queue  *outbox.Queue
	worker *outbox.Worker
	clock  outbox.Clock
	logger *slog.Logger
	newID  func() string
}

// New creates a sync engine. remote may be nil when the account is not
// authenticated; sync runs are then skipped.
func New(st *store.Store, svc remote.Service, queue *outbox.Queue, worker *outbox.Worker, clock outbox.Clock, logger *slog.Logger) *Engine {
	if clock == nil {
		clock = outbox.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  st,
		remote: svc,
		queue:  queue,
		worker: worker,
		clock:  clock,
		logger: logger,
		newID:  uuid.NewString,
	}
}

// RunSyncNow pushes pending local state, then pulls remote changes.
//
// The outbox drains first: pushing in-flight local work before pulling
// minimizes spurious conflicts against changes we are about to make
// ourselves. With no stored sync token the pull is FULL (paged over the
// configured window, or unbounded after a full-backfill request); otherwise
// DELTA. A delta pull whose token the remote has expired falls back to a
// full pull transparently - the caller sees Mode FULL, not an error.
func (e *Engine) RunSyncNow(ctx context.Context) (Result, error) {
	settings, err := e.store.GetSettings(ctx)
	if err != nil {
		return Result{}, err
	}
	if e.remote == nil || settings.CalendarID == "" {
		return Result{Mode: ModeSkipped}, nil
	}

	pushed, err := e.worker.ProcessOutboxNow(ctx)
	if err != nil {
		return Result{}, err
	}

	res := Result{PushedJobs: pushed}

	if settings.SyncToken == "" {
		res.Mode = ModeFull
		res.PulledEvents, err = e.pullFull(ctx, settings)
	} else {
		res.Mode = ModeDelta
		res.PulledEvents, err = e.pullDelta(ctx, settings)
		if errors.Is(err, remote.ErrSyncTokenExpired) {
			e.logger.Info("sync token expired, falling back to full pull")
			if err = e.store.SetSyncToken(ctx, ""); err != nil {
				return res, err
			}
			settings.SyncToken = ""
			res.Mode = ModeFull
			res.PulledEvents, err = e.pullFull(ctx, settings)
		}
	}
	if err != nil {
		return res, err
	}

	res.OutboxRemaining, err = e.store.CountNonTerminalJobs(ctx)
	if err != nil {
		return res, err
	}

	e.logger.Info("sync complete",
		"mode", string(res.Mode),
		"pulled", res.PulledEvents,
		"pushed", res.PushedJobs,
		"outbox_remaining", res.OutboxRemaining)
	return res, nil
}

func (e *Engine) pullFull(ctx context.Context, settings model.Settings) (int, error) {
	req := remote.PullRequest{CalendarID: settings.CalendarID}
	if settings.Windowed() {
		req.WindowStart = settings.WindowStart
		req.WindowEnd = settings.WindowEnd
	}
	return e.pullPages(ctx, req)
}

func (e *Engine) pullDelta(ctx context.Context, settings model.Settings) (int, error) {
	return e.pullPages(ctx, remote.PullRequest{
		CalendarID: settings.CalendarID,
		SyncToken:  settings.SyncToken,
	})
}

// pullPages pages through the remote listing until no next-page token is
// returned, ingesting every snapshot and storing the sync token the final
// page yields.
func (e *Engine) pullPages(ctx context.Context, req remote.PullRequest) (int, error) {
	pulled := 0
	for {
		page, err := e.remote.PullChanges(ctx, req)
		if err != nil {
			return pulled, err
		}

		for i := range page.Events {
			if err := e.ingestSnapshot(ctx, &page.Events[i]); err != nil {
				return pulled, err
			}
			pulled++
		}

		if page.NextPageToken == "" {
			if page.NextSyncToken != "" {
				if err := e.store.SetSyncToken(ctx, page.NextSyncToken); err != nil {
					return pulled, err
				}
			}
			return pulled, nil
		}
		req.PageToken = page.NextPageToken
	}
}

// ingestSnapshot folds one remote snapshot into the local store.
//
// Records with outbound work in flight (PENDING) are left alone; the
// worker's conflict check resolves those at push time. Remote deletions
// tombstone the matching local records by remote id rather than
// hard-deleting them.
func (e *Engine) ingestSnapshot(ctx context.Context, snap *remote.Snapshot) error {
	locals, err := e.store.GetEventsByRemoteID(ctx, snap.RemoteID)
	if err != nil {
		return err
	}

	if len(locals) == 0 {
		if snap.Deleted {
			// Tombstone for an event we never stored.
			return nil
		}
		now := e.clock.Now()
		ev := model.CalendarEvent{
			LocalID:   e.newID(),
			RemoteID:  snap.RemoteID,
			SyncState: model.SyncClean,
			CreatedAt: now,
		}
		applySnapshot(&ev, snap)
		return e.store.UpsertEvent(ctx, &ev)
	}

	for i := range locals {
		ev := &locals[i]
		if ev.SyncState == model.SyncPending {
			continue
		}
		applySnapshot(ev, snap)
		ev.SyncState = model.SyncClean
		if err := e.store.UpsertEvent(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// applySnapshot overwrites a local record's content fields from the remote.
// LocalEditedAt takes the remote's modification time so the record never
// looks locally newer than the state it mirrors.
func applySnapshot(ev *model.CalendarEvent, snap *remote.Snapshot) {
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
	ev.LocalEditedAt = snap.UpdatedAt
}

// ForcePushAll treats the local store as authoritative: every non-holiday
// record is stamped with a fresh local edit time (so the worker's conflict
// check always favors local) and enqueued with the operation matching its
// shape, then the outbox drains once.
//
// Unsynced override instances have no remote identity to address and are
// skipped and counted.
func (e *Engine) ForcePushAll(ctx context.Context) (ForcePushResult, error) {
	if e.remote == nil {
		return ForcePushResult{}, errors.New("force push: no remote calendar configured")
	}

	events, err := e.store.ListEvents(ctx)
	if err != nil {
		return ForcePushResult{}, err
	}

	now := e.clock.Now()
	var res ForcePushResult

	for i := range events {
		ev := &events[i]
		if ev.IsHoliday {
			continue
		}

		op, payload, ok := forcePushOperation(ev)
		if !ok {
			res.Skipped++
			continue
		}

		ev.LocalEditedAt = now
		if err := e.store.UpsertEvent(ctx, ev); err != nil {
			return res, err
		}
		if _, err := e.queue.Enqueue(ctx, ev.LocalID, op, payload, ""); err != nil {
			return res, err
		}
		res.Enqueued++
	}

	res.Processed, err = e.worker.ProcessOutboxNow(ctx)
	if err != nil {
		return res, err
	}

	e.logger.Info("force push complete",
		"enqueued", res.Enqueued, "processed", res.Processed, "skipped", res.Skipped)
	return res, nil
}

// forcePushOperation picks the outbound operation matching a record's shape.
// Returns ok=false for records with nothing addressable to push.
func forcePushOperation(ev *model.CalendarEvent) (model.Operation, model.Payload, bool) {
	switch {
	case ev.IsDeleted:
		if ev.RemoteID == "" {
			// Tombstone that never reached the remote; nothing to delete.
			return "", model.Payload{}, false
		}
		return model.OpDelete, model.Payload{RemoteID: ev.RemoteID}, true

	case ev.IsSeriesMaster():
		return model.OpRecurAll, model.Payload{}, true

	case ev.IsOverrideInstance():
		if ev.RemoteID == "" {
			// Virtual override never synced; no remote instance to address.
			return "", model.Payload{}, false
		}
		return model.OpRecurThis, model.Payload{SeriesRemoteID: ev.RecurringEventID}, true

	case ev.RemoteID == "":
		return model.OpCreate, model.Payload{}, true

	default:
		return model.OpPatch, model.Payload{Fields: wholeRecordFields(ev)}, true
	}
}

// wholeRecordFields renders a record as a PATCH field set so a force-push
// PATCH rewrites every content field remotely.
func wholeRecordFields(ev *model.CalendarEvent) map[string]string {
	fields := map[string]string{
		"summary":     ev.Summary,
		"description": ev.Description,
		"location":    ev.Location,
	}
	if !ev.StartUTC.IsZero() {
		fields["start"] = ev.StartUTC.UTC().Format(time.RFC3339)
	}
	if !ev.EndUTC.IsZero() {
		fields["end"] = ev.EndUTC.UTC().Format(time.RFC3339)
	}
	return fields
}
