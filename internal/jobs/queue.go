package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/selfscope/selfscope/internal/metrics"
	"github.com/selfscope/selfscope/internal/store"
)

// ErrNotFound is returned when a queue operation targets a missing or
// already-transitioned job.
var ErrNotFound = errors.New("job not found")

// Queue is the SQLite-backed job outbox.
type Queue struct {
	db *sql.DB
}

// NewQueue initializes the jobs table on the given database.
func NewQueue(db *sql.DB) (*Queue, error) {
	q := &Queue{db: db}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id               TEXT PRIMARY KEY,
		kind             TEXT NOT NULL,
		group_label      TEXT NOT NULL DEFAULT '',
		payload          TEXT NOT NULL DEFAULT '{}',
		status           TEXT NOT NULL DEFAULT 'pending',
		attempt_count    INTEGER NOT NULL DEFAULT 0,
		next_attempt_at  INTEGER NOT NULL,
		lease_owner      TEXT NOT NULL DEFAULT '',
		lease_expires_at INTEGER,
		last_error       TEXT NOT NULL DEFAULT '',
		processed_at     INTEGER,
		created_at       INTEGER NOT NULL,
		updated_at       INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status_next_attempt ON jobs(status, next_attempt_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_kind ON jobs(kind);
	`
	if _, err := q.db.Exec(schema); err != nil {
		return fmt.Errorf("init jobs schema: %w", err)
	}
	return nil
}

const jobColumns = `id, kind, group_label, payload, status, attempt_count, next_attempt_at,
	lease_owner, lease_expires_at, last_error, processed_at, created_at, updated_at`

// Enqueue inserts a job as pending, due immediately.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if job.Kind == "" {
		return fmt.Errorf("job kind is required")
	}
	now := time.Now().UTC()
	payload := string(job.Payload)
	if payload == "" {
		payload = "{}"
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO jobs (id, kind, group_label, payload, status, attempt_count, next_attempt_at,
			lease_owner, lease_expires_at, last_error, processed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'pending', 0, ?, '', NULL, '', NULL, ?, ?)`,
		job.ID, string(job.Kind), job.Group, payload, now.Unix(), now.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	metrics.JobsEnqueuedTotal.WithLabelValues(string(job.Kind)).Inc()
	return nil
}

// Get returns one job by ID.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// Lease atomically claims up to limit due jobs for the given consumer. A job
// is due when it is pending and its next attempt time has passed, or when a
// previous lease expired without resolution.
func (q *Queue) Lease(ctx context.Context, consumer string, limit int, now time.Time, leaseTTL time.Duration) ([]*Job, error) {
	if consumer == "" {
		return nil, fmt.Errorf("consumer is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	now = now.UTC()
	leaseExpires := now.Add(leaseTTL)

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin lease tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM jobs
		WHERE (status = 'pending' AND next_attempt_at <= ?)
		   OR (status = 'leased' AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?)
		ORDER BY next_attempt_at ASC, created_at ASC, id ASC
		LIMIT ?`, now.Unix(), now.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("select lease candidates: %w", err)
	}
	var candidates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan lease candidate: %w", err)
		}
		candidates = append(candidates, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate lease candidates: %w", err)
	}
	_ = rows.Close()

	var leased []*Job
	for _, id := range candidates {
		res, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = 'leased', lease_owner = ?, lease_expires_at = ?, updated_at = ?
			WHERE id = ?
			  AND ((status = 'pending' AND next_attempt_at <= ?)
			    OR (status = 'leased' AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?))`,
			consumer, leaseExpires.Unix(), now.Unix(), id, now.Unix(), now.Unix())
		if err != nil {
			return nil, fmt.Errorf("lease job %s: %w", id, err)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			continue
		}
		row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
		job, err := scanJob(row)
		if err != nil {
			return nil, fmt.Errorf("scan leased job %s: %w", id, err)
		}
		leased = append(leased, job)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit lease tx: %w", err)
	}
	return leased, nil
}

// MarkSucceeded marks a leased job as done.
func (q *Queue) MarkSucceeded(ctx context.Context, id, consumer string, processedAt time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'succeeded', lease_owner = '', lease_expires_at = NULL,
			last_error = '', processed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'leased' AND lease_owner = ?`,
		processedAt.UTC().Unix(), processedAt.UTC().Unix(), id, consumer)
	if err != nil {
		return fmt.Errorf("mark job succeeded: %w", err)
	}
	return requireAffected(res)
}

// MarkRetry returns a leased job to pending with a future attempt time.
func (q *Queue) MarkRetry(ctx context.Context, id, consumer string, nextAttemptAt time.Time, lastError string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'pending', attempt_count = attempt_count + 1,
			next_attempt_at = ?, lease_owner = '', lease_expires_at = NULL,
			last_error = ?, processed_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'leased' AND lease_owner = ?`,
		nextAttemptAt.UTC().Unix(), lastError, time.Now().UTC().Unix(), id, consumer)
	if err != nil {
		return fmt.Errorf("mark job retry: %w", err)
	}
	return requireAffected(res)
}

// MarkDead dead-letters a leased job after its final failed attempt.
func (q *Queue) MarkDead(ctx context.Context, id, consumer, lastError string, processedAt time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'dead', attempt_count = attempt_count + 1,
			lease_owner = '', lease_expires_at = NULL,
			last_error = ?, processed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'leased' AND lease_owner = ?`,
		lastError, processedAt.UTC().Unix(), processedAt.UTC().Unix(), id, consumer)
	if err != nil {
		return fmt.Errorf("mark job dead: %w", err)
	}
	return requireAffected(res)
}

// Requeue resets a dead job to pending, due immediately.
func (q *Queue) Requeue(ctx context.Context, id string) error {
	now := time.Now().UTC()
	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'pending', attempt_count = 0, next_attempt_at = ?,
			lease_owner = '', lease_expires_at = NULL, last_error = '', processed_at = NULL,
			updated_at = ?
		WHERE id = ? AND status = 'dead'`, now.Unix(), now.Unix(), id)
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	return requireAffected(res)
}

// ListDead returns dead-lettered jobs, most recent first.
func (q *Queue) ListDead(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs
		WHERE status = 'dead' ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CountByStatus returns a map of status -> count.
func (q *Queue) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[Status(status)] = count
	}
	return counts, rows.Err()
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanJob(s store.Scanner) (*Job, error) {
	var j Job
	var kind, status, payload string
	var nextAttemptAt, createdAt, updatedAt int64
	var leaseExpiresAt, processedAt sql.NullInt64

	err := s.Scan(&j.ID, &kind, &j.Group, &payload, &status, &j.AttemptCount, &nextAttemptAt,
		&j.LeaseOwner, &leaseExpiresAt, &j.LastError, &processedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	j.Kind = Kind(kind)
	j.Status = Status(status)
	j.Payload = []byte(payload)
	j.NextAttemptAt = time.Unix(nextAttemptAt, 0).UTC()
	j.CreatedAt = time.Unix(createdAt, 0).UTC()
	j.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if leaseExpiresAt.Valid {
		ts := time.Unix(leaseExpiresAt.Int64, 0).UTC()
		j.LeaseExpiresAt = &ts
	}
	if processedAt.Valid {
		ts := time.Unix(processedAt.Int64, 0).UTC()
		j.ProcessedAt = &ts
	}
	return &j, nil
}
