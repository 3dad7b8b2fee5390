package scheduler

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mitigateops/platform/internal/shared/errors"
	"github.com/mitigateops/platform/internal/shared/types"
)

// PostgresQueue implements Queue on the escalation_jobs table. Several
// workers can lease concurrently; SKIP LOCKED keeps them off each other's
// rows.
type PostgresQueue struct {
	pool        *pgxpool.Pool
	maxAttempts int
	now         func() time.Time
}

func NewPostgresQueue(pool *pgxpool.Pool, maxAttempts int) *PostgresQueue {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &PostgresQueue{pool: pool, maxAttempts: maxAttempts, now: time.Now}
}

func (q *PostgresQueue) EnqueueAfter(ctx context.Context, delay time.Duration, incidentID types.ID, stepIndex int) error {
	now := q.now().UTC()
	return insertJob(ctx, q.pool, incidentID, stepIndex, now.Add(delay), q.maxAttempts, now)
}

// EnqueueTx queues a job as part of the caller's transaction, so the job
// commits or rolls back together with the caller's own writes.
func EnqueueTx(ctx context.Context, tx pgx.Tx, incidentID types.ID, stepIndex int, runAt time.Time, maxAttempts int) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return insertJob(ctx, tx, incidentID, stepIndex, runAt.UTC(), maxAttempts, time.Now().UTC())
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func insertJob(ctx context.Context, db execer, incidentID types.ID, stepIndex int, runAt time.Time, maxAttempts int, now time.Time) error {
	_, err := db.Exec(ctx, `
		INSERT INTO escalation_jobs (id, incident_id, step_index, run_at, status, attempts, max_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'queued', 0, $5, $6, $6)`,
		types.NewID(), incidentID, stepIndex, runAt, maxAttempts, now,
	)
	if err != nil {
		return errors.Wrap(err, "failed to enqueue escalation job")
	}
	return nil
}

// Lease first dead-letters expired leases that used their last attempt, so
// a job whose worker died mid-run is never run more than max_attempts times.
func (q *PostgresQueue) Lease(ctx context.Context, now time.Time, limit int, leaseFor time.Duration) ([]Job, error) {
	now = now.UTC()
	_, err := q.pool.Exec(ctx, `
		UPDATE escalation_jobs
		SET status = 'dead_lettered', leased_until = NULL, last_error = $2, updated_at = $1
		WHERE status = 'leased' AND leased_until < $1 AND attempts >= max_attempts`,
		now, ReasonLeaseExhausted,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to dead-letter expired escalation jobs")
	}

	rows, err := q.pool.Query(ctx, `
		UPDATE escalation_jobs
		SET status = 'leased', leased_until = $2, attempts = attempts + 1, updated_at = $1
		WHERE id IN (
			SELECT id FROM escalation_jobs
			WHERE (status = 'queued' AND run_at <= $1)
			   OR (status = 'leased' AND leased_until < $1 AND attempts < max_attempts)
			ORDER BY run_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, incident_id, step_index, run_at, status, attempts, max_attempts,
			leased_until, last_error, created_at, updated_at`,
		now, now.Add(leaseFor), limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to lease escalation jobs")
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(
			&j.ID, &j.IncidentID, &j.StepIndex, &j.RunAt, &j.Status, &j.Attempts, &j.MaxAttempts,
			&j.LeasedUntil, &j.LastError, &j.CreatedAt, &j.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan escalation job")
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to lease escalation jobs")
	}
	return jobs, nil
}

func (q *PostgresQueue) Complete(ctx context.Context, id types.ID) error {
	return q.settle(ctx, id, `
		UPDATE escalation_jobs
		SET status = 'succeeded', leased_until = NULL, updated_at = $2
		WHERE id = $1 AND status = 'leased'`,
		q.now().UTC())
}

func (q *PostgresQueue) Retry(ctx context.Context, id types.ID, runAt time.Time, reason string) error {
	return q.settle(ctx, id, `
		UPDATE escalation_jobs
		SET status = 'queued', run_at = $3, leased_until = NULL, last_error = $4, updated_at = $2
		WHERE id = $1 AND status = 'leased'`,
		q.now().UTC(), runAt.UTC(), reason)
}

func (q *PostgresQueue) DeadLetter(ctx context.Context, id types.ID, reason string) error {
	return q.settle(ctx, id, `
		UPDATE escalation_jobs
		SET status = 'dead_lettered', leased_until = NULL, last_error = $3, updated_at = $2
		WHERE id = $1 AND status = 'leased'`,
		q.now().UTC(), reason)
}

// settle runs a lease-releasing update. Zero rows means another worker
// re-leased the job after our lease expired, which is reported as not found.
func (q *PostgresQueue) settle(ctx context.Context, id types.ID, query string, args ...any) error {
	result, err := q.pool.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return errors.Wrap(err, "failed to update escalation job")
	}
	if result.RowsAffected() == 0 {
		return errors.NotFound("leased escalation job", id.String())
	}
	return nil
}

var _ Queue = (*PostgresQueue)(nil)
