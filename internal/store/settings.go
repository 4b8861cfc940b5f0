package store

import (
	"context"
	"database/sql"
	"fmt"

	"calsyncd/internal/model"
)

// GetSettings reads the singleton settings row.
func (q *Queries) GetSettings(ctx context.Context) (model.Settings, error) {
	var (
		s                      model.Settings
		windowStart, windowEnd sql.NullString
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT sync_token, calendar_id, window_start, window_end, full_backfill
		FROM settings WHERE id = 1
	`).Scan(&s.SyncToken, &s.CalendarID, &windowStart, &windowEnd, &s.FullBackfill)
	if err != nil {
		return s, fmt.Errorf("get settings: %w", err)
	}
	if s.WindowStart, err = timeFromDB(windowStart); err != nil {
		return s, err
	}
	if s.WindowEnd, err = timeFromDB(windowEnd); err != nil {
		return s, err
	}
	return s, nil
}

// SetSyncToken stores the delta-pull cursor. An empty token forces the next
// pull to be a full resynchronization.
func (q *Queries) SetSyncToken(ctx context.Context, token string) error {
	_, err := q.db.ExecContext(ctx, `UPDATE settings SET sync_token = ? WHERE id = 1`, token)
	if err != nil {
		return fmt.Errorf("set sync token: %w", err)
	}
	return nil
}

// SetSelectedCalendar records the remote calendar to sync against. Changing
// the calendar invalidates the sync token: the token is a cursor into the old
// calendar's change stream.
func (q *Queries) SetSelectedCalendar(ctx context.Context, calendarID string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE settings SET calendar_id = ?,
			sync_token = CASE WHEN calendar_id != ? THEN '' ELSE sync_token END
		WHERE id = 1
	`, calendarID, calendarID)
	if err != nil {
		return fmt.Errorf("set selected calendar: %w", err)
	}
	return nil
}

// SetSyncWindow bounds full pulls in time and clears any full-backfill
// request.
func (q *Queries) SetSyncWindow(ctx context.Context, s model.Settings) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE settings SET window_start = ?, window_end = ?, full_backfill = ?
		WHERE id = 1
	`, timeToDB(s.WindowStart), timeToDB(s.WindowEnd), s.FullBackfill)
	if err != nil {
		return fmt.Errorf("set sync window: %w", err)
	}
	return nil
}

// RequestFullBackfill makes the next full pull ignore the configured window
// and clears the stored token so that pull happens.
func (q *Queries) RequestFullBackfill(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE settings SET full_backfill = 1, sync_token = '' WHERE id = 1
	`)
	if err != nil {
		return fmt.Errorf("request full backfill: %w", err)
	}
	return nil
}
