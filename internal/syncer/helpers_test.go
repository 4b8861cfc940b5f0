package syncer

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
	"calsyncd/internal/outbox"
	"calsyncd/internal/remote"
	"calsyncd/internal/store"
	"calsyncd/internal/testutil"
)

var testBase = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type engineHarness struct {
	store  *store.Store
	clock  *testutil.Clock
	remote *fakeRemote
	queue  *outbox.Queue
	worker *outbox.Worker
	engine *Engine
}

func newEngineHarness(t *testing.T) *engineHarness {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.SetSelectedCalendar(context.Background(), "cal-1"))

	clock := testutil.NewClock(testBase)
	rem := newFakeRemote()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	q := outbox.NewQueue(st, clock)
	w := outbox.NewWorker(st, rem, clock, logger)
	e := New(st, rem, q, w, clock, logger)

	localSeq := 0
	e.newID = func() string {
		localSeq++
		return fmt.Sprintf("local-%d", localSeq)
	}

	return &engineHarness{store: st, clock: clock, remote: rem, queue: q, worker: w, engine: e}
}

func (h *engineHarness) insertEvent(t *testing.T, ev *model.CalendarEvent) {
	t.Helper()
	require.NoError(t, h.store.UpsertEvent(context.Background(), ev))
}

func (h *engineHarness) getEvent(t *testing.T, localID string) *model.CalendarEvent {
	t.Helper()
	ev, err := h.store.GetEventByLocalID(context.Background(), localID)
	require.NoError(t, err)
	return ev
}

func (h *engineHarness) settings(t *testing.T) model.Settings {
	t.Helper()
	s, err := h.store.GetSettings(context.Background())
	require.NoError(t, err)
	return s
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

// fakeRemote scripts pull pages and accepts every push. A delta pull fails
// with ErrSyncTokenExpired while expireDeltas is set.
type fakeRemote struct {
	mu           sync.Mutex
	pages        []remote.PullPage
	pageIdx      int
	pullReqs     []remote.PullRequest
	expireDeltas bool
	pushes       []pushRecord
	nextID       int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{}
}

func (f *fakeRemote) setPages(pages ...remote.PullPage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages = pages
	f.pageIdx = 0
}

func (f *fakeRemote) pullRequests() []remote.PullRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]remote.PullRequest(nil), f.pullReqs...)
}

func (f *fakeRemote) pushed() []pushRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pushRecord(nil), f.pushes...)
}

func (f *fakeRemote) FetchSnapshot(ctx context.Context, calendarID, remoteID string) (*remote.Snapshot, error) {
	return nil, nil
}

func (f *fakeRemote) PushChange(ctx context.Context, calendarID string, op model.Operation, ev *model.CalendarEvent, payload model.Payload) (remote.PushResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

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
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pullReqs = append(f.pullReqs, req)
	if req.SyncToken != "" && f.expireDeltas {
		return remote.PullPage{}, remote.ErrSyncTokenExpired
	}
	if f.pageIdx >= len(f.pages) {
		return remote.PullPage{}, nil
	}
	page := f.pages[f.pageIdx]
	f.pageIdx++
	return page, nil
}

func (f *fakeRemote) ListCalendars(ctx context.Context) ([]remote.CalendarInfo, error) {
	return nil, nil
}
