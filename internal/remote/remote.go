// Package remote defines the consumed contract of the remote calendar
// service: snapshot fetches, outbound pushes, paged change pulls, and the
// error taxonomy that drives outbox retry decisions.
package remote

import (
	"context"
	"time"

	"calsyncd/internal/model"
)

// Snapshot is the remote service's current view of one event. Pulled
// deletions arrive as snapshots with Deleted set; they tombstone local
// records rather than hard-deleting them.
type Snapshot struct {
	RemoteID         string
	Summary          string
	Description      string
	Location         string
	StartUTC         time.Time
	EndUTC           time.Time
	AllDay           bool
	RecurrenceRule   string
	RecurringEventID string
	OriginalStartUTC time.Time
	Deleted          bool
	UpdatedAt        time.Time
}

// PushResult reports what the remote service assigned to a pushed change.
type PushResult struct {
	RemoteID        string
	RemoteUpdatedAt time.Time
}

// PullRequest addresses one page of remote changes. Exactly one of SyncToken
// or the time window is used; PageToken continues a paged listing.
type PullRequest struct {
	CalendarID string
	SyncToken  string
	// WindowStart/WindowEnd bound a full listing; both zero lists everything.
	WindowStart time.Time
	WindowEnd   time.Time
	PageToken   string
}

// PullPage is one page of remote changes. NextSyncToken is only present on
// the final page of a listing.
type PullPage struct {
	Events        []Snapshot
	NextPageToken string
	NextSyncToken string
}

// CalendarInfo describes one calendar available to the authenticated account.
type CalendarInfo struct {
	ID      string
	Summary string
	Primary bool
}

// Service is the typed client for the remote calendar service. Errors
// returned by FetchSnapshot and PushChange are classifiable via Classify;
// PullChanges additionally reports sync-token expiry as ErrSyncTokenExpired.
type Service interface {
	// FetchSnapshot returns the remote's current view of an event, or
	// (nil, nil) if the remote no longer has it.
	FetchSnapshot(ctx context.Context, calendarID, remoteID string) (*Snapshot, error)

	// PushChange applies one outbound mutation and returns the remote id and
	// modification time the service recorded for it.
	PushChange(ctx context.Context, calendarID string, op model.Operation, ev *model.CalendarEvent, payload model.Payload) (PushResult, error)

	// PullChanges lists one page of remote changes.
	PullChanges(ctx context.Context, req PullRequest) (PullPage, error)

	// ListCalendars enumerates the calendars the account can sync against.
	ListCalendars(ctx context.Context) ([]CalendarInfo, error)
}
