package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"calsyncd/internal/model"
)

const jobColumns = `
	id, operation, status, attempts, next_retry_at, last_error,
	event_local_id, payload, depends_on, created_at, updated_at`

// InsertJob writes a new outbox job record.
func (q *Queries) InsertJob(ctx context.Context, job *model.OutboxJob) error {
	payloadJSON, err := marshalPayload(job.Payload)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO outbox_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID,
		string(job.Operation),
		string(job.Status),
		job.Attempts,
		reqTimeToDB(job.NextRetryAt),
		job.LastError,
		job.EventLocalID,
		payloadJSON,
		job.DependsOn,
		reqTimeToDB(job.CreatedAt),
		reqTimeToDB(job.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJob rewrites a job's mutable fields (status, attempts, retry
// schedule, error, payload) and stamps updated_at.
func (q *Queries) UpdateJob(ctx context.Context, job *model.OutboxJob) error {
	payloadJSON, err := marshalPayload(job.Payload)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}

	res, err := q.db.ExecContext(ctx, `
		UPDATE outbox_jobs SET
			status = ?,
			attempts = ?,
			next_retry_at = ?,
			last_error = ?,
			payload = ?,
			updated_at = ?
		WHERE id = ?
	`,
		string(job.Status),
		job.Attempts,
		reqTimeToDB(job.NextRetryAt),
		job.LastError,
		payloadJSON,
		reqTimeToDB(job.UpdatedAt),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update job %s: %w", job.ID, sql.ErrNoRows)
	}
	return nil
}

// GetJob retrieves a job by id. Returns sql.ErrNoRows if not found.
func (q *Queries) GetJob(ctx context.Context, id string) (*model.OutboxJob, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM outbox_jobs WHERE id = ?
	`, id)
	return scanJob(row)
}

// FindCoalescablePatch returns the non-terminal PATCH job for an event, if
// one exists. At most one such job can exist at a time (enqueue coalesces
// into it).
func (q *Queries) FindCoalescablePatch(ctx context.Context, eventLocalID string) (*model.OutboxJob, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM outbox_jobs
		WHERE event_local_id = ?
		  AND operation = 'PATCH'
		  AND status IN ('QUEUED', 'RUNNING', 'FAILED')
		ORDER BY created_at ASC
		LIMIT 1
	`, eventLocalID)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

// NextDueJob selects the next executable job: QUEUED or FAILED, retry time
// reached, and dependency (if any) DONE. Ordered by retry time then creation
// time so the queue drains deterministically.
func (q *Queries) NextDueJob(ctx context.Context, now time.Time) (*model.OutboxJob, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM outbox_jobs j
		WHERE j.status IN ('QUEUED', 'FAILED')
		  AND j.next_retry_at <= ?
		  AND (j.depends_on = '' OR (
		      SELECT d.status FROM outbox_jobs d WHERE d.id = j.depends_on
		  ) = 'DONE')
		ORDER BY j.next_retry_at ASC, j.created_at ASC
		LIMIT 1
	`, reqTimeToDB(now))

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

// SweepStaleRunning moves RUNNING jobs not updated since before the cutoff to
// FAILED with an incremented attempt count. A job left RUNNING past the
// staleness window was abandoned by a crashed or killed process.
func (q *Queries) SweepStaleRunning(ctx context.Context, cutoff, now time.Time) (int, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE outbox_jobs SET
			status = 'FAILED',
			attempts = attempts + 1,
			last_error = 'recovered from stale RUNNING state (worker crash presumed)',
			next_retry_at = ?,
			updated_at = ?
		WHERE status = 'RUNNING' AND updated_at < ?
	`, reqTimeToDB(now), reqTimeToDB(now), reqTimeToDB(cutoff))
	if err != nil {
		return 0, fmt.Errorf("sweep stale running: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep stale running: rows affected: %w", err)
	}
	return int(n), nil
}

// NonTerminalJobs returns every job that may still execute or retry. The
// cancellation cascade loads this set once and traverses it in memory.
func (q *Queries) NonTerminalJobs(ctx context.Context) ([]model.OutboxJob, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM outbox_jobs
		WHERE status IN ('QUEUED', 'RUNNING', 'FAILED')
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query non-terminal jobs: %w", err)
	}
	return collectJobs(rows)
}

// ListJobs returns all jobs, newest first. Used by the outbox status command.
func (q *Queries) ListJobs(ctx context.Context) ([]model.OutboxJob, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM outbox_jobs
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	return collectJobs(rows)
}

// CountNonTerminalJobs returns the number of jobs still pending execution.
func (q *Queries) CountNonTerminalJobs(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM outbox_jobs
		WHERE status IN ('QUEUED', 'RUNNING', 'FAILED')
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count non-terminal jobs: %w", err)
	}
	return n, nil
}

// CountNonTerminalJobsForEvent returns how many pending jobs reference an
// event. Zero means the event's sync state may return to CLEAN.
func (q *Queries) CountNonTerminalJobsForEvent(ctx context.Context, eventLocalID string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM outbox_jobs
		WHERE event_local_id = ? AND status IN ('QUEUED', 'RUNNING', 'FAILED')
	`, eventLocalID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count jobs for event: %w", err)
	}
	return n, nil
}

func collectJobs(rows *sql.Rows) ([]model.OutboxJob, error) {
	defer rows.Close()

	var jobs []model.OutboxJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}

	// Return empty slice instead of nil
	if jobs == nil {
		jobs = []model.OutboxJob{}
	}
	return jobs, nil
}

func scanJob(row rowScanner) (*model.OutboxJob, error) {
	var (
		job                  model.OutboxJob
		operation, status    string
		nextRetryAt          string
		payloadJSON          string
		createdAt, updatedAt string
	)

	err := row.Scan(
		&job.ID,
		&operation,
		&status,
		&job.Attempts,
		&nextRetryAt,
		&job.LastError,
		&job.EventLocalID,
		&payloadJSON,
		&job.DependsOn,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	job.Operation = model.Operation(operation)
	job.Status = model.JobStatus(status)
	if job.Payload, err = unmarshalPayload(payloadJSON); err != nil {
		return nil, err
	}
	if job.NextRetryAt, err = timeFromDB(sql.NullString{String: nextRetryAt, Valid: true}); err != nil {
		return nil, err
	}
	if job.CreatedAt, err = timeFromDB(sql.NullString{String: createdAt, Valid: true}); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = timeFromDB(sql.NullString{String: updatedAt, Valid: true}); err != nil {
		return nil, err
	}

	return &job, nil
}
