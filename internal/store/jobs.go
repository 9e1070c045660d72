package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arka-squad/arka-labs-sub000/internal/runner"
	"github.com/arka-squad/arka-labs-sub000/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// --- Gate jobs (runner.JobStore) ---

const jobColumns = `id, owner_id, type, target_id, status, started_at, finished_at,
	progress_total, progress_done, trace_id, idempotency_key, error_message`

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		j              models.Job
		jobType, state string
	)
	err := row.Scan(&j.ID, &j.OwnerID, &jobType, &j.TargetID, &state, &j.StartedAt, &j.FinishedAt,
		&j.Progress.Total, &j.Progress.Done, &j.TraceID, &j.IdempotencyKey, &j.Error)
	if err != nil {
		return nil, err
	}
	j.Type = models.JobType(jobType)
	j.Status = models.JobStatus(state)
	return &j, nil
}

// Create inserts job unless the owner already runs the same target or has
// reached ceiling running jobs. A transaction-scoped advisory lock on the
// owner serialises concurrent submissions of one owner.
func (s *PostgresStore) Create(ctx context.Context, job *models.Job, ceiling int) (*models.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin job create: %w", err)
	}
	defer rollback(ctx, tx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, job.OwnerID); err != nil {
		return nil, fmt.Errorf("lock owner jobs: %w", err)
	}

	existing, err := scanJob(tx.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM gate_jobs
		 WHERE owner_id = $1 AND target_id = $2 AND status = 'running'
		 ORDER BY started_at LIMIT 1`, job.OwnerID, job.TargetID))
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("find running job: %w", err)
	}

	var running int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM gate_jobs WHERE owner_id = $1 AND status = 'running'`, job.OwnerID,
	).Scan(&running); err != nil {
		return nil, fmt.Errorf("count running jobs: %w", err)
	}
	if ceiling > 0 && running >= ceiling {
		return nil, runner.ErrConcurrencyLimit
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO gate_jobs (id, owner_id, type, target_id, status, started_at,
		   progress_total, progress_done, trace_id, idempotency_key, error_message, heartbeat_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $6)`,
		job.ID, job.OwnerID, string(job.Type), job.TargetID, string(job.Status), job.StartedAt,
		job.Progress.Total, job.Progress.Done, job.TraceID, job.IdempotencyKey, job.Error); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit job create: %w", err)
	}
	return nil, nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM gate_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, runner.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) UpdateProgress(ctx context.Context, id uuid.UUID, done int) error {
	tag, err := s.pool.Exec(ctx, `UPDATE gate_jobs SET progress_done = $2 WHERE id = $1`, id, done)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return runner.ErrJobNotFound
	}
	return nil
}

// Finish sets the terminal status of a running job. finished_at is written once.
func (s *PostgresStore) Finish(ctx context.Context, id uuid.UUID, status models.JobStatus, errMsg string, finishedAt time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: running -> %s", runner.ErrInvalidTransition, status)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE gate_jobs SET status = $2, error_message = $3, finished_at = $4
		 WHERE id = $1 AND status = 'running'`, id, string(status), errMsg, finishedAt)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM gate_jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return runner.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}
	return fmt.Errorf("%w: %s -> %s", runner.ErrInvalidTransition, current, status)
}

// Heartbeat stamps the running jobs of ids. Finished jobs are left alone.
func (s *PostgresStore) Heartbeat(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx,
		`UPDATE gate_jobs SET heartbeat_at = $2 WHERE id = ANY($1) AND status = 'running'`,
		ids, at); err != nil {
		return fmt.Errorf("job heartbeat: %w", err)
	}
	return nil
}

// FailStale fails running jobs nobody has heartbeated since staleBefore,
// such as jobs of a process that crashed or never recorded their end.
func (s *PostgresStore) FailStale(ctx context.Context, staleBefore time.Time, errMsg string, finishedAt time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE gate_jobs SET status = 'error', error_message = $2, finished_at = $3
		 WHERE status = 'running' AND COALESCE(heartbeat_at, started_at) < $1`,
		staleBefore, errMsg, finishedAt)
	if err != nil {
		return 0, fmt.Errorf("fail stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM gate_jobs WHERE owner_id = $1 ORDER BY started_at DESC LIMIT $2`,
		ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}
