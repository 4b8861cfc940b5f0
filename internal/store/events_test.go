package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calsyncd/internal/model"
)

func TestUpsertEvent_RoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	ev := testEvent("ev-1")
	ev.RemoteID = "remote-1"
	ev.RecurrenceRule = "FREQ=WEEKLY;BYDAY=MO"
	ev.RemoteUpdatedAt = testBase.Add(-time.Hour)
	require.NoError(t, st.UpsertEvent(ctx, ev))

	got, err := st.GetEventByLocalID(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, ev.Summary, got.Summary)
	assert.Equal(t, "remote-1", got.RemoteID)
	assert.Equal(t, "FREQ=WEEKLY;BYDAY=MO", got.RecurrenceRule)
	assert.True(t, got.StartUTC.Equal(ev.StartUTC))
	assert.True(t, got.RemoteUpdatedAt.Equal(ev.RemoteUpdatedAt))
	assert.True(t, got.OriginalStartUTC.IsZero(), "unset times stay zero")
}

func TestUpsertEvent_ReplacesExisting(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	ev := testEvent("ev-1")
	require.NoError(t, st.UpsertEvent(ctx, ev))

	ev.Summary = "renamed"
	ev.SyncState = model.SyncPending
	require.NoError(t, st.UpsertEvent(ctx, ev))

	got, err := st.GetEventByLocalID(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Summary)
	assert.Equal(t, model.SyncPending, got.SyncState)
}

func TestGetEventByLocalID_NotFound(t *testing.T) {
	st := newTestStore(t)

	_, err := st.GetEventByLocalID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestGetEventsByRemoteID(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	ev1 := testEvent("ev-1")
	ev1.RemoteID = "remote-1"
	ev2 := testEvent("ev-2")
	ev2.RemoteID = "remote-1"
	ev3 := testEvent("ev-3")
	require.NoError(t, st.UpsertEvent(ctx, ev1))
	require.NoError(t, st.UpsertEvent(ctx, ev2))
	require.NoError(t, st.UpsertEvent(ctx, ev3))

	got, err := st.GetEventsByRemoteID(ctx, "remote-1")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// Events without a remote id are never matched by the empty string.
	got, err = st.GetEventsByRemoteID(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUpdateSyncState_AdoptsRemoteIdentity(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertEvent(ctx, testEvent("ev-1")))

	remoteTime := testBase.Add(time.Minute)
	err := st.UpdateSyncState(ctx, "ev-1", SyncStateUpdate{
		State:           model.SyncClean,
		RemoteID:        "remote-9",
		RemoteUpdatedAt: remoteTime,
	})
	require.NoError(t, err)

	got, err := st.GetEventByLocalID(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, "remote-9", got.RemoteID)
	assert.True(t, got.RemoteUpdatedAt.Equal(remoteTime))
}

func TestUpdateSyncState_KeepsRemoteFieldsWhenUnset(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	ev := testEvent("ev-1")
	ev.RemoteID = "remote-1"
	ev.RemoteUpdatedAt = testBase
	require.NoError(t, st.UpsertEvent(ctx, ev))

	err := st.UpdateSyncState(ctx, "ev-1", SyncStateUpdate{State: model.SyncError})
	require.NoError(t, err)

	got, err := st.GetEventByLocalID(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, model.SyncError, got.SyncState)
	assert.Equal(t, "remote-1", got.RemoteID)
	assert.True(t, got.RemoteUpdatedAt.Equal(testBase))
}

func TestUpdateSyncState_MissingEvent(t *testing.T) {
	st := newTestStore(t)

	err := st.UpdateSyncState(context.Background(), "missing", SyncStateUpdate{State: model.SyncClean})
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestMarkEventDeleted(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertEvent(ctx, testEvent("ev-1")))

	editedAt := testBase.Add(time.Hour)
	require.NoError(t, st.MarkEventDeleted(ctx, "ev-1", editedAt))

	got, err := st.GetEventByLocalID(ctx, "ev-1")
	require.NoError(t, err)
	assert.True(t, got.IsDeleted)
	assert.True(t, got.LocalEditedAt.Equal(editedAt))
}
