package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"calsyncd/internal/model"
)

const eventColumns = `
	local_id, remote_id, calendar_id, summary, description, location,
	start_utc, end_utc, all_day, recurrence_rule, recurring_event_id,
	original_start_utc, is_deleted, is_holiday, local_edited_at,
	remote_updated_at, sync_state, created_at`

// UpsertEvent inserts or fully replaces an event record keyed by local id.
func (q *Queries) UpsertEvent(ctx context.Context, ev *model.CalendarEvent) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_id) DO UPDATE SET
			remote_id = excluded.remote_id,
			calendar_id = excluded.calendar_id,
			summary = excluded.summary,
			description = excluded.description,
			location = excluded.location,
			start_utc = excluded.start_utc,
			end_utc = excluded.end_utc,
			all_day = excluded.all_day,
			recurrence_rule = excluded.recurrence_rule,
			recurring_event_id = excluded.recurring_event_id,
			original_start_utc = excluded.original_start_utc,
			is_deleted = excluded.is_deleted,
			is_holiday = excluded.is_holiday,
			local_edited_at = excluded.local_edited_at,
			remote_updated_at = excluded.remote_updated_at,
			sync_state = excluded.sync_state
	`,
		ev.LocalID,
		ev.RemoteID,
		ev.CalendarID,
		ev.Summary,
		ev.Description,
		ev.Location,
		timeToDB(ev.StartUTC),
		timeToDB(ev.EndUTC),
		ev.AllDay,
		ev.RecurrenceRule,
		ev.RecurringEventID,
		timeToDB(ev.OriginalStartUTC),
		ev.IsDeleted,
		ev.IsHoliday,
		reqTimeToDB(ev.LocalEditedAt),
		timeToDB(ev.RemoteUpdatedAt),
		string(ev.SyncState),
		reqTimeToDB(ev.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert event: %w", err)
	}
	return nil
}

// GetEventByLocalID retrieves an event by its stable local id.
// Returns sql.ErrNoRows if not found.
func (q *Queries) GetEventByLocalID(ctx context.Context, localID string) (*model.CalendarEvent, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM events WHERE local_id = ?
	`, localID)
	return scanEventRow(row)
}

// GetEventsByRemoteID returns all local records pointing at the given remote
// id. Remote-pulled tombstones apply to every matching record.
func (q *Queries) GetEventsByRemoteID(ctx context.Context, remoteID string) ([]model.CalendarEvent, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE remote_id = ? AND remote_id != ''
		ORDER BY created_at ASC, local_id ASC
	`, remoteID)
	if err != nil {
		return nil, fmt.Errorf("query events by remote id: %w", err)
	}
	return collectEvents(rows)
}

// ListEvents returns every stored event ordered by creation time. Used by
// force-push and the ICS exporter.
func (q *Queries) ListEvents(ctx context.Context) ([]model.CalendarEvent, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM events
		ORDER BY created_at ASC, local_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return collectEvents(rows)
}

// SyncStateUpdate carries the optional remote fields recorded alongside a
// sync-state change.
type SyncStateUpdate struct {
	State           model.SyncState
	RemoteID        string    // adopted when non-empty
	RemoteUpdatedAt time.Time // recorded when non-zero
}

// UpdateSyncState sets an event's sync state and optionally records the
// remote id and remote modification time learned from a push.
func (q *Queries) UpdateSyncState(ctx context.Context, localID string, upd SyncStateUpdate) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE events SET
			sync_state = ?,
			remote_id = CASE WHEN ? != '' THEN ? ELSE remote_id END,
			remote_updated_at = COALESCE(?, remote_updated_at)
		WHERE local_id = ?
	`,
		string(upd.State),
		upd.RemoteID, upd.RemoteID,
		timeToDB(upd.RemoteUpdatedAt),
		localID,
	)
	if err != nil {
		return fmt.Errorf("update sync state: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update sync state: event %s: %w", localID, sql.ErrNoRows)
	}
	return nil
}

// MarkEventDeleted tombstones an event. The record stays in the store while
// outbox jobs may still reference it.
func (q *Queries) MarkEventDeleted(ctx context.Context, localID string, editedAt time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE events SET is_deleted = 1, local_edited_at = ? WHERE local_id = ?
	`, reqTimeToDB(editedAt), localID)
	if err != nil {
		return fmt.Errorf("mark event deleted: %w", err)
	}
	return nil
}

func collectEvents(rows *sql.Rows) ([]model.CalendarEvent, error) {
	defer rows.Close()

	var events []model.CalendarEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	// Return empty slice instead of nil
	if events == nil {
		events = []model.CalendarEvent{}
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEventRow(row *sql.Row) (*model.CalendarEvent, error) {
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, err
	}
	return ev, err
}

func scanEvent(row rowScanner) (*model.CalendarEvent, error) {
	var (
		ev                             model.CalendarEvent
		startUTC, endUTC               sql.NullString
		originalStart, remoteUpdatedAt sql.NullString
		localEditedAt, createdAt       string
		syncState                      string
	)

	err := row.Scan(
		&ev.LocalID,
		&ev.RemoteID,
		&ev.CalendarID,
		&ev.Summary,
		&ev.Description,
		&ev.Location,
		&startUTC,
		&endUTC,
		&ev.AllDay,
		&ev.RecurrenceRule,
		&ev.RecurringEventID,
		&originalStart,
		&ev.IsDeleted,
		&ev.IsHoliday,
		&localEditedAt,
		&remoteUpdatedAt,
		&syncState,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}

	ev.SyncState = model.SyncState(syncState)
	if ev.StartUTC, err = timeFromDB(startUTC); err != nil {
		return nil, err
	}
	if ev.EndUTC, err = timeFromDB(endUTC); err != nil {
		return nil, err
	}
	if ev.OriginalStartUTC, err = timeFromDB(originalStart); err != nil {
		return nil, err
	}
	if ev.RemoteUpdatedAt, err = timeFromDB(remoteUpdatedAt); err != nil {
		return nil, err
	}
	if ev.LocalEditedAt, err = timeFromDB(sql.NullString{String: localEditedAt, Valid: true}); err != nil {
		return nil, err
	}
	if ev.CreatedAt, err = timeFromDB(sql.NullString{String: createdAt, Valid: true}); err != nil {
		return nil, err
	}

	return &ev, nil
}
