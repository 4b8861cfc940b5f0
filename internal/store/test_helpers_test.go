package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"calsyncd/internal/model"
)

// newTestStore opens a store on a fresh database file in a temp directory.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

var testBase = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// testEvent builds a minimal valid event record.
func testEvent(localID string) *model.CalendarEvent {
	return &model.CalendarEvent{
		LocalID:       localID,
		Summary:       "standup",
		StartUTC:      testBase,
		EndUTC:        testBase.Add(30 * time.Minute),
		LocalEditedAt: testBase,
		SyncState:     model.SyncClean,
		CreatedAt:     testBase,
	}
}

// testJob builds a minimal queued job.
func testJob(id string, op model.Operation) *model.OutboxJob {
	return &model.OutboxJob{
		ID:          id,
		Operation:   op,
		Status:      model.JobQueued,
		NextRetryAt: testBase,
		CreatedAt:   testBase,
		UpdatedAt:   testBase,
	}
}
