package outbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"calsyncd/internal/model"
	"calsyncd/internal/remote"
	"calsyncd/internal/store"
	"calsyncd/internal/testutil"
)

var testBase = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// harness wires a store, a fake remote, a queue, and a worker over a
// settable clock with jitter pinned to zero.
type harness struct {
	store  *store.Store
	clock  *testutil.Clock
	remote *fakeRemote
	queue  *Queue
	worker *Worker
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.SetSelectedCalendar(context.Background(), "cal-1"))

	clock := testutil.NewClock(testBase)
	rem := newFakeRemote()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	w := NewWorker(st, rem, clock, logger)
	w.jitter = func() float64 { return 0 }

	q := NewQueue(st, clock)
	return &harness{store: st, clock: clock, remote: rem, queue: q, worker: w}
}

func (h *harness) insertEvent(t *testing.T, ev *model.CalendarEvent) {
	t.Helper()
	require.NoError(t, h.store.UpsertEvent(context.Background(), ev))
}

func (h *harness) getEvent(t *testing.T, localID string) *model.CalendarEvent {
	t.Helper()
	ev, err := h.store.GetEventByLocalID(context.Background(), localID)
	require.NoError(t, err)
	return ev
}

func (h *harness) getJob(t *testing.T, jobID string) *model.OutboxJob {
	t.Helper()
	job, err := h.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	return job
}

func testEvent(localID string) *model.CalendarEvent {
	return &model.CalendarEvent{
		LocalID:       localID,
		CalendarID:    "cal-1",
		Summary:       "standup",
		StartUTC:      testBase,
		EndUTC:        testBase.Add(30 * time.Minute),
		LocalEditedAt: testBase,
		SyncState:     model.SyncClean,
		CreatedAt:     testBase,
	}
}

type pushRecord struct {
	Op           model.Operation
	EventLocalID string
	Payload      model.Payload
}

// fakeRemote is an in-memory remote.Service. Snapshots are keyed by remote
// id; pushes succeed unless pushErr is set and record what was sent.
type fakeRemote struct {
	mu        sync.Mutex
	snapshots map[string]*remote.Snapshot
	fetchErr  error
	pushErr   error
	pushes    []pushRecord
	nextID    int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{snapshots: make(map[string]*remote.Snapshot)}
}

func (f *fakeRemote) setSnapshot(snap *remote.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[snap.RemoteID] = snap
}

func (f *fakeRemote) setPushErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushErr = err
}

func (f *fakeRemote) pushed() []pushRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pushRecord(nil), f.pushes...)
}

func (f *fakeRemote) FetchSnapshot(ctx context.Context, calendarID, remoteID string) (*remote.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.snapshots[remoteID], nil
}

func (f *fakeRemote) PushChange(ctx context.Context, calendarID string, op model.Operation, ev *model.CalendarEvent, payload model.Payload) (remote.PushResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return remote.PushResult{}, f.pushErr
	}

	var localID, remoteID string
	if ev != nil {
		localID = ev.LocalID
		remoteID = ev.RemoteID
	}
	if remoteID == "" {
		f.nextID++
		remoteID = fmt.Sprintf("remote-%d", f.nextID)
	}
	f.pushes = append(f.pushes, pushRecord{Op: op, EventLocalID: localID, Payload: payload})
	return remote.PushResult{RemoteID: remoteID, RemoteUpdatedAt: testBase}, nil
}

func (f *fakeRemote) PullChanges(ctx context.Context, req remote.PullRequest) (remote.PullPage, error) {
	return remote.PullPage{}, nil
}

func (f *fakeRemote) ListCalendars(ctx context.Context) ([]remote.CalendarInfo, error) {
	return nil, nil
}
