// Package queue implements the durable job queue over the Postgres
// jobs table. Claiming uses FOR UPDATE SKIP LOCKED so concurrent
// workers partition pending work without blocking or double-claiming;
// abandoned claims come back via the lease-expiry sweep, which makes
// execution at-least-once and pushes idempotency onto handlers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"habitloop/internal/models"
)

// ErrJobNotFound indicates the referenced job row does not exist.
var ErrJobNotFound = errors.New("job not found")

// Queue coordinates the job table.
type Queue struct {
	pool *pgxpool.Pool
}

// New builds a queue over an existing pool.
func New(pool *pgxpool.Pool) *Queue {
	return &Queue{pool: pool}
}

const jobColumns = `id, job_type, payload, status, attempts, max_attempts, run_after, claimed_by, claimed_at, last_error, created_at, updated_at`

// EnqueueParams collects inputs required to insert a job.
type EnqueueParams struct {
	Type           string
	Payload        map[string]any
	RunAfter       time.Time
	MaxAttempts    int
	IdempotencyKey string
	IdempotencyTTL time.Duration
}

// Enqueue inserts a pending job, honoring idempotency if a key is
// provided. It returns the job and a boolean indicating whether an
// existing job was reused via idempotency.
func (q *Queue) Enqueue(ctx context.Context, p EnqueueParams) (models.Job, bool, error) {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 5
	}
	if p.RunAfter.IsZero() {
		p.RunAfter = time.Now().UTC()
	}
	if p.Payload == nil {
		p.Payload = map[string]any{}
	}

	payloadJSON, err := json.Marshal(p.Payload)
	if err != nil {
		return models.Job{}, false, fmt.Errorf("marshal payload: %w", err)
	}

	// If an idempotency key already exists, short-circuit before
	// creating anything.
	if p.IdempotencyKey != "" {
		if existing, found, err := q.FindByIdempotencyKey(ctx, p.IdempotencyKey); err != nil {
			return models.Job{}, false, err
		} else if found {
			return existing, true, nil
		}
	}

	tx, err := q.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Job{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	id := uuid.New().String()
	now := time.Now().UTC()

	_, err = tx.Exec(ctx, `
		INSERT INTO jobs (id, job_type, payload, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6, $7, $7)
	`, id, p.Type, payloadJSON, models.StatusPending, p.MaxAttempts, p.RunAfter, now)
	if err != nil {
		return models.Job{}, false, fmt.Errorf("insert job: %w", err)
	}

	if p.IdempotencyKey != "" {
		expires := now.Add(p.IdempotencyTTL)
		// An expired row keeps its key slot, so the conflict arm takes
		// it over; a live row conflicts without update (zero rows) and
		// the existing job wins.
		tag, err := tx.Exec(ctx, `
			INSERT INTO idempotency_keys (key, job_id, expires_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (key) DO UPDATE SET job_id = EXCLUDED.job_id, expires_at = EXCLUDED.expires_at
			WHERE idempotency_keys.expires_at IS NOT NULL AND idempotency_keys.expires_at <= NOW()
		`, p.IdempotencyKey, id, expires)
		if err != nil {
			return models.Job{}, false, fmt.Errorf("insert idempotency key: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// Someone else claimed the key after our initial check;
			// drop our insert and return the existing job.
			if err := tx.Rollback(ctx); err != nil {
				return models.Job{}, false, fmt.Errorf("rollback after idempotency conflict: %w", err)
			}
			existing, found, err := q.FindByIdempotencyKey(ctx, p.IdempotencyKey)
			if err != nil {
				return models.Job{}, false, err
			}
			if !found {
				return models.Job{}, false, errors.New("idempotency conflict but no existing job found")
			}
			return existing, true, nil
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Job{}, false, fmt.Errorf("commit: %w", err)
	}

	return models.Job{
		ID:          id,
		Type:        p.Type,
		Payload:     p.Payload,
		Status:      models.StatusPending,
		MaxAttempts: p.MaxAttempts,
		RunAfter:    p.RunAfter,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, false, nil
}

// FindByIdempotencyKey returns the job mapped to the key if present and
// unexpired.
func (q *Queue) FindByIdempotencyKey(ctx context.Context, key string) (models.Job, bool, error) {
	var id string
	err := q.pool.QueryRow(ctx, `
		SELECT job_id FROM idempotency_keys WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())
	`, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, fmt.Errorf("query idempotency key: %w", err)
	}
	job, err := q.GetJob(ctx, id)
	if err != nil {
		return models.Job{}, false, err
	}
	return job, true, nil
}

// GetJob fetches a job by id.
func (q *Queue) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := q.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE id = $1
	`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	return job, err
}

// ClaimBatch atomically reserves up to limit eligible jobs for
// workerID. Selection and the claimed transition happen in one
// statement; SKIP LOCKED lets concurrent claimers pass over rows
// another claimer is taking instead of waiting on them, so a poller may
// see fewer rows than available under contention but never a row
// someone else got.
func (q *Queue) ClaimBatch(ctx context.Context, workerID string, jobTypes []string, limit int) ([]models.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	if len(jobTypes) == 0 {
		jobTypes = models.AllJobTypes
	}

	rows, err := q.pool.Query(ctx, `
		UPDATE jobs SET status = $1, claimed_by = $2, claimed_at = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = $3 AND run_after <= NOW() AND job_type = ANY($4)
			ORDER BY run_after ASC
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		models.StatusClaimed, workerID, models.StatusPending, jobTypes, limit)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	return scanJobs(rows)
}

// MarkDone transitions a job to its successful terminal state.
func (q *Queue) MarkDone(ctx context.Context, id string) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, last_error = NULL, updated_at = NOW()
		WHERE id = $1
	`, id, models.StatusDone)
	return err
}

// Reschedule returns a job to the pending pool after a retryable
// failure, recording the attempt and pushing run_after out.
func (q *Queue) Reschedule(ctx context.Context, id string, attempts int, runAfter time.Time, lastErr string) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, attempts = $3, run_after = $4, last_error = $5,
		    claimed_by = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE id = $1
	`, id, models.StatusPending, attempts, runAfter, lastErr)
	return err
}

// MarkDead moves a job to the dead set for operator inspection. Dead
// jobs are never claimed again and never silently disappear.
func (q *Queue) MarkDead(ctx context.Context, id string, attempts int, lastErr string) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, attempts = $3, last_error = $4, updated_at = NOW()
		WHERE id = $1
	`, id, models.StatusDead, attempts, lastErr)
	return err
}

// MarkPanicked records an abnormal handler termination. The row stays
// claimed-shaped (failed, claimed_at intact) so the lease sweep returns
// it to pending after the lease window.
func (q *Queue) MarkPanicked(ctx context.Context, id string, attempts int, lastErr string) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, attempts = $3, last_error = $4, updated_at = NOW()
		WHERE id = $1
	`, id, models.StatusFailed, attempts, lastErr)
	return err
}

// ReleaseExpired returns claims older than the lease window to pending.
// This is the only cancellation mechanism: a worker that died mid-job
// loses its claim here and some other worker retries the job.
func (q *Queue) ReleaseExpired(ctx context.Context, lease time.Duration, limit int) ([]string, error) {
	cutoff := time.Now().UTC().Add(-lease)
	rows, err := q.pool.Query(ctx, `
		UPDATE jobs SET status = $1, claimed_by = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status IN ($2, $3) AND claimed_at < $4
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id
	`, models.StatusPending, models.StatusClaimed, models.StatusFailed, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("release expired claims: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan released id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeadJobs lists the most recently dead jobs for operator inspection.
func (q *Queue) DeadJobs(ctx context.Context, limit int) ([]models.Job, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`, models.StatusDead, limit)
	if err != nil {
		return nil, fmt.Errorf("query dead jobs: %w", err)
	}
	return scanJobs(rows)
}

// PendingDepth counts jobs ready to claim right now.
func (q *Queue) PendingDepth(ctx context.Context) (int64, error) {
	var n int64
	if err := q.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM jobs WHERE status = $1 AND run_after <= NOW()
	`, models.StatusPending).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending jobs: %w", err)
	}
	return n, nil
}

func scanJob(row pgx.Row) (models.Job, error) {
	var job models.Job
	var payloadJSON []byte
	var claimedBy, lastErr pgtype.Text
	var claimedAt pgtype.Timestamptz

	if err := row.Scan(&job.ID, &job.Type, &payloadJSON, &job.Status, &job.Attempts, &job.MaxAttempts,
		&job.RunAfter, &claimedBy, &claimedAt, &lastErr, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return models.Job{}, err
	}
	if err := json.Unmarshal(payloadJSON, &job.Payload); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	if claimedBy.Valid {
		job.ClaimedBy = &claimedBy.String
	}
	if claimedAt.Valid {
		t := claimedAt.Time
		job.ClaimedAt = &t
	}
	if lastErr.Valid {
		job.LastError = &lastErr.String
	}
	return job, nil
}

func scanJobs(rows pgx.Rows) ([]models.Job, error) {
	defer rows.Close()
	var out []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}
