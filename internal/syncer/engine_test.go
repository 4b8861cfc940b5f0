package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calsyncd/internal/model"
	"calsyncd/internal/remote"
)

func TestRunSyncNow_SkippedWithoutCalendar(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	require.NoError(t, h.store.SetSelectedCalendar(ctx, ""))

	res, err := h.engine.RunSyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeSkipped, res.Mode)
	assert.Empty(t, h.remote.pullRequests())
}

func TestRunSyncNow_SkippedWithoutRemote(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	e := New(h.store, nil, h.queue, h.worker, h.clock, nil)
	res, err := e.RunSyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeSkipped, res.Mode)
}

func TestRunSyncNow_FullPullPagesAndStoresToken(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	h.remote.setPages(
		remote.PullPage{
			Events: []remote.Snapshot{
				{RemoteID: "remote-a", Summary: "a", UpdatedAt: testBase},
				{RemoteID: "remote-b", Summary: "b", UpdatedAt: testBase},
			},
			NextPageToken: "page-2",
		},
		remote.PullPage{
			Events:        []remote.Snapshot{{RemoteID: "remote-c", Summary: "c", UpdatedAt: testBase}},
			NextSyncToken: "tok-1",
		},
	)

	res, err := h.engine.RunSyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeFull, res.Mode)
	assert.Equal(t, 3, res.PulledEvents)
	assert.Zero(t, res.OutboxRemaining)

	reqs := h.remote.pullRequests()
	require.Len(t, reqs, 2)
	assert.Empty(t, reqs[0].SyncToken)
	assert.Empty(t, reqs[0].PageToken)
	assert.Equal(t, "page-2", reqs[1].PageToken)

	// Token from the final page persisted.
	assert.Equal(t, "tok-1", h.settings(t).SyncToken)

	// Pulled events were materialized locally as CLEAN records.
	events, err := h.store.ListEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for _, ev := range events {
		assert.Equal(t, model.SyncClean, ev.SyncState)
		assert.NotEmpty(t, ev.RemoteID)
	}
}

func TestRunSyncNow_WindowedFullPull(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	start := testBase.AddDate(0, -1, 0)
	end := testBase.AddDate(0, 2, 0)
	require.NoError(t, h.store.SetSyncWindow(ctx, model.Settings{WindowStart: start, WindowEnd: end}))

	_, err := h.engine.RunSyncNow(ctx)
	require.NoError(t, err)

	reqs := h.remote.pullRequests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].WindowStart.Equal(start))
	assert.True(t, reqs[0].WindowEnd.Equal(end))
}

func TestRunSyncNow_DeltaUsesStoredToken(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	require.NoError(t, h.store.SetSyncToken(ctx, "tok-1"))
	h.remote.setPages(remote.PullPage{
		Events:        []remote.Snapshot{{RemoteID: "remote-a", Summary: "changed", UpdatedAt: testBase}},
		NextSyncToken: "tok-2",
	})

	res, err := h.engine.RunSyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeDelta, res.Mode)
	assert.Equal(t, 1, res.PulledEvents)

	reqs := h.remote.pullRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "tok-1", reqs[0].SyncToken)
	assert.Equal(t, "tok-2", h.settings(t).SyncToken)
}

func TestRunSyncNow_ExpiredTokenFallsBackToFull(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	require.NoError(t, h.store.SetSyncToken(ctx, "stale"))
	h.remote.expireDeltas = true
	h.remote.setPages(remote.PullPage{
		Events:        []remote.Snapshot{{RemoteID: "remote-a", Summary: "a", UpdatedAt: testBase}},
		NextSyncToken: "tok-fresh",
	})

	// The expired token is not an error for the caller; the run degrades to a
	// full pull.
	res, err := h.engine.RunSyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeFull, res.Mode)
	assert.Equal(t, 1, res.PulledEvents)
	assert.Equal(t, "tok-fresh", h.settings(t).SyncToken)

	reqs := h.remote.pullRequests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "stale", reqs[0].SyncToken)
	assert.Empty(t, reqs[1].SyncToken)
}

func TestRunSyncNow_RemoteDeletionTombstones(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	ev := testEvent("ev-1")
	ev.RemoteID = "remote-1"
	h.insertEvent(t, ev)

	h.remote.setPages(remote.PullPage{
		Events:        []remote.Snapshot{{RemoteID: "remote-1", Deleted: true, UpdatedAt: testBase.Add(time.Hour)}},
		NextSyncToken: "tok-1",
	})

	_, err := h.engine.RunSyncNow(ctx)
	require.NoError(t, err)

	got := h.getEvent(t, "ev-1")
	assert.True(t, got.IsDeleted, "remote deletion soft-deletes the local record")
	assert.Equal(t, model.SyncClean, got.SyncState)
}

func TestRunSyncNow_DeletionForUnknownRemoteIgnored(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	h.remote.setPages(remote.PullPage{
		Events: []remote.Snapshot{{RemoteID: "remote-unknown", Deleted: true, UpdatedAt: testBase}},
	})

	res, err := h.engine.RunSyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.PulledEvents)

	events, err := h.store.ListEvents(ctx)
	require.NoError(t, err)
	assert.Empty(t, events, "no local record is created for a foreign tombstone")
}

func TestRunSyncNow_PendingLocalRecordLeftAlone(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	ev := testEvent("ev-1")
	ev.RemoteID = "remote-1"
	ev.Summary = "local edit in flight"
	ev.SyncState = model.SyncPending
	h.insertEvent(t, ev)

	h.remote.setPages(remote.PullPage{
		Events: []remote.Snapshot{{RemoteID: "remote-1", Summary: "remote edit", UpdatedAt: testBase.Add(time.Hour)}},
	})

	_, err := h.engine.RunSyncNow(ctx)
	require.NoError(t, err)

	got := h.getEvent(t, "ev-1")
	assert.Equal(t, "local edit in flight", got.Summary)
	assert.Equal(t, model.SyncPending, got.SyncState)
}

func TestRunSyncNow_DrainsOutboxBeforePulling(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	h.insertEvent(t, testEvent("ev-1"))
	_, err := h.queue.Enqueue(ctx, "ev-1", model.OpCreate, model.Payload{}, "")
	require.NoError(t, err)

	res, err := h.engine.RunSyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.PushedJobs)
	assert.Zero(t, res.OutboxRemaining)
	require.Len(t, h.remote.pushed(), 1)
	assert.NotEmpty(t, h.getEvent(t, "ev-1").RemoteID)
}

func TestForcePushAll_PicksOperationPerRecordShape(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	deleted := testEvent("ev-deleted")
	deleted.RemoteID = "remote-del"
	deleted.IsDeleted = true
	h.insertEvent(t, deleted)

	ghost := testEvent("ev-ghost")
	ghost.IsDeleted = true
	h.insertEvent(t, ghost)

	master := testEvent("ev-master")
	master.RemoteID = "remote-master"
	master.RecurrenceRule = "FREQ=DAILY"
	h.insertEvent(t, master)

	override := testEvent("ev-override")
	override.RemoteID = "remote-override"
	override.RecurringEventID = "remote-master"
	override.OriginalStartUTC = testBase
	h.insertEvent(t, override)

	virtualOverride := testEvent("ev-virtual")
	virtualOverride.RecurringEventID = "remote-master"
	h.insertEvent(t, virtualOverride)

	fresh := testEvent("ev-fresh")
	h.insertEvent(t, fresh)

	plain := testEvent("ev-plain")
	plain.RemoteID = "remote-plain"
	plain.Location = "room 4"
	h.insertEvent(t, plain)

	holiday := testEvent("ev-holiday")
	holiday.IsHoliday = true
	h.insertEvent(t, holiday)

	res, err := h.engine.ForcePushAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Enqueued)
	assert.Equal(t, 5, res.Processed)
	assert.Equal(t, 2, res.Skipped, "unpushed tombstone and virtual override")

	ops := map[string]model.Operation{}
	for _, p := range h.remote.pushed() {
		ops[p.EventLocalID] = p.Op
	}
	assert.Equal(t, model.Operation(""), ops["ev-holiday"], "holidays are never pushed")
	assert.Equal(t, model.OpDelete, ops["ev-deleted"])
	assert.Equal(t, model.OpRecurAll, ops["ev-master"])
	assert.Equal(t, model.OpRecurThis, ops["ev-override"])
	assert.Equal(t, model.OpCreate, ops["ev-fresh"])
	assert.Equal(t, model.OpPatch, ops["ev-plain"])

	// The DELETE addresses the remote id carried in its payload.
	for _, p := range h.remote.pushed() {
		if p.Op == model.OpDelete {
			assert.Equal(t, "remote-del", p.Payload.RemoteID)
		}
	}
}

func TestForcePushAll_PatchCarriesWholeRecord(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	ev := testEvent("ev-1")
	ev.RemoteID = "remote-1"
	ev.Description = "notes"
	ev.Location = "room 2"
	h.insertEvent(t, ev)

	_, err := h.engine.ForcePushAll(ctx)
	require.NoError(t, err)

	pushes := h.remote.pushed()
	require.Len(t, pushes, 1)
	fields := pushes[0].Payload.Fields
	assert.Equal(t, "standup", fields["summary"])
	assert.Equal(t, "notes", fields["description"])
	assert.Equal(t, "room 2", fields["location"])
	assert.Equal(t, testBase.Format(time.RFC3339), fields["start"])

	// The edit stamp moved forward so the push wins any conflict check.
	got := h.getEvent(t, "ev-1")
	assert.True(t, got.LocalEditedAt.Equal(h.clock.Now()))
}
