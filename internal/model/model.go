// Package model defines the persistent records shared by the store, the
// outbox, and the sync engine: calendar events, outbox jobs, and the
// settings singleton.
package model

import (
	"fmt"
	"time"
)

// SyncState tracks how a local event relates to its remote counterpart.
type SyncState string

const (
	// SyncClean means the record matches the last known remote state and no
	// outbound work references it.
	SyncClean SyncState = "CLEAN"
	// SyncPending means at least one non-terminal outbox job references the
	// record.
	SyncPending SyncState = "PENDING"
	// SyncError means a mutation for the record is stuck and surfaced to the
	// user.
	SyncError SyncState = "ERROR"
)

// Operation identifies the kind of outbound mutation an outbox job carries.
type Operation string

const (
	OpCreate      Operation = "CREATE"
	OpPatch       Operation = "PATCH"
	OpDelete      Operation = "DELETE"
	OpRecurThis   Operation = "RECUR_THIS"
	OpRecurAll    Operation = "RECUR_ALL"
	OpRecurFuture Operation = "RECUR_FUTURE"
)

// ValidOperations defines the allowed operation values.
var ValidOperations = map[Operation]bool{
	OpCreate:      true,
	OpPatch:       true,
	OpDelete:      true,
	OpRecurThis:   true,
	OpRecurAll:    true,
	OpRecurFuture: true,
}

// JobStatus is the lifecycle state of an outbox job.
//
// Allowed transitions: QUEUED → RUNNING → {DONE | FAILED} and FAILED → QUEUED
// via retry. Any non-terminal state may move to CANCELLED. RUNNING is never
// terminal: a job observed RUNNING past the staleness window is presumed
// crashed and swept back to FAILED.
type JobStatus string

const (
	JobQueued    JobStatus = "QUEUED"
	JobRunning   JobStatus = "RUNNING"
	JobDone      JobStatus = "DONE"
	JobFailed    JobStatus = "FAILED"
	JobCancelled JobStatus = "CANCELLED"
)

// Terminal reports whether s is a final status.
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobCancelled
}

// CalendarEvent is a locally stored calendar record. LocalID is stable across
// edits; RemoteID is empty until the first successful push.
type CalendarEvent struct {
	LocalID     string
	RemoteID    string
	CalendarID  string
	Summary     string
	Description string
	Location    string
	StartUTC    time.Time
	EndUTC      time.Time
	AllDay      bool

	// RecurrenceRule is an RRULE expression; empty means non-recurring.
	RecurrenceRule string
	// RecurringEventID is set on override instances and points at the remote
	// id of the series master.
	RecurringEventID string
	// OriginalStartUTC is the occurrence start an override instance detached
	// from.
	OriginalStartUTC time.Time

	// IsDeleted is a soft-delete tombstone. Records are never hard-deleted
	// while outbox jobs may still reference them.
	IsDeleted bool
	// IsHoliday marks read-only holiday records that force-push skips.
	IsHoliday bool

	// LocalEditedAt is the last local mutation time; the local side of
	// conflict resolution.
	LocalEditedAt time.Time
	// RemoteUpdatedAt is the last known remote modification time.
	RemoteUpdatedAt time.Time

	SyncState SyncState
	CreatedAt time.Time
}

// IsSeriesMaster reports whether the event carries its own recurrence rule.
func (e *CalendarEvent) IsSeriesMaster() bool {
	return e.RecurrenceRule != ""
}

// IsOverrideInstance reports whether the event is a detached occurrence of a
// remote series.
func (e *CalendarEvent) IsOverrideInstance() bool {
	return e.RecurringEventID != ""
}

// Payload carries the operation-specific data of an outbox job. Exactly the
// fields meaningful for the job's operation are set; Validate enforces that.
// The payload is serialized to JSON in the outbox table and must round-trip
// exactly across process restarts.
type Payload struct {
	// Fields holds field-level changes for PATCH (and the initial field set
	// recorded for RECUR_* edits). Coalescing merges maps, later keys win.
	Fields map[string]string `json:"fields,omitempty"`

	// RemoteID is the remote id a DELETE must target; needed because the
	// local record may be tombstoned or gone by execution time.
	RemoteID string `json:"remote_id,omitempty"`

	// SeriesRemoteID is the remote id of the series master a RECUR_THIS
	// override belongs to.
	SeriesRemoteID string `json:"series_remote_id,omitempty"`

	// SplitBoundary is the instant a RECUR_FUTURE job splits the series at.
	SplitBoundary *time.Time `json:"split_boundary,omitempty"`

	// SourceRule is the master's recurrence rule at enqueue time; the worker
	// derives the truncated rule from it when the RECUR_FUTURE job runs.
	SourceRule string `json:"source_rule,omitempty"`
}

// Validate checks that the payload carries only fields its operation uses and
// everything the operation requires.
func (p Payload) Validate(op Operation) error {
	switch op {
	case OpCreate:
		if p.SplitBoundary != nil || p.RemoteID != "" {
			return fmt.Errorf("payload: CREATE carries no remote id or split boundary")
		}
	case OpPatch:
		if len(p.Fields) == 0 {
			return fmt.Errorf("payload: PATCH requires at least one field change")
		}
		if p.SplitBoundary != nil {
			return fmt.Errorf("payload: PATCH carries no split boundary")
		}
	case OpDelete:
		if p.RemoteID == "" {
			return fmt.Errorf("payload: DELETE requires the remote id")
		}
	case OpRecurThis:
		if p.SeriesRemoteID == "" {
			return fmt.Errorf("payload: RECUR_THIS requires the series remote id")
		}
	case OpRecurAll:
		if p.SplitBoundary != nil {
			return fmt.Errorf("payload: RECUR_ALL carries no split boundary")
		}
	case OpRecurFuture:
		if p.SplitBoundary == nil {
			return fmt.Errorf("payload: RECUR_FUTURE requires a split boundary")
		}
		if p.SourceRule == "" {
			return fmt.Errorf("payload: RECUR_FUTURE requires the source rule")
		}
	default:
		return fmt.Errorf("payload: unknown operation %q", op)
	}
	return nil
}

// OutboxJob is one durable pending mutation to propagate to the remote
// service.
type OutboxJob struct {
	ID           string
	Operation    Operation
	Status       JobStatus
	Attempts     int
	NextRetryAt  time.Time
	LastError    string
	EventLocalID string
	Payload      Payload
	// DependsOn is an ordering edge: the job is eligible for execution only
	// once the referenced job is DONE.
	DependsOn string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Settings is the store's singleton sync configuration row.
type Settings struct {
	// SyncToken is the opaque delta-pull cursor; empty forces a full pull.
	SyncToken  string
	CalendarID string
	// WindowStart/WindowEnd bound full pulls; both zero means unbounded.
	WindowStart time.Time
	WindowEnd   time.Time
	// FullBackfill requests the next full pull to ignore the window.
	FullBackfill bool
}

// Windowed reports whether full pulls should be bounded in time.
func (s Settings) Windowed() bool {
	return !s.FullBackfill && !s.WindowStart.IsZero() && !s.WindowEnd.IsZero()
}
