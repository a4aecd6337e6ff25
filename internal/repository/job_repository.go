package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/postwing/engine/internal/models"
)

// JobRepository is the durable ledger behind the queue transport. The unique
// idempotency_key index gives the "exactly one row per logical unit of work"
// guarantee; asynq only handles delivery.
type JobRepository interface {
	Enqueue(ctx context.Context, job *models.Job) (inserted bool, err error)
	GetByKey(ctx context.Context, idempotencyKey string) (*models.Job, error)
	MarkInFlight(ctx context.Context, idempotencyKey string) error
	MarkDone(ctx context.Context, idempotencyKey string) error
	MarkRetrying(ctx context.Context, idempotencyKey string, visibleAt time.Time, lastError string) error
	MarkDead(ctx context.Context, idempotencyKey string, lastError string) error
	ListStranded(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error)
	CountByKindAndState(ctx context.Context) (map[string]map[string]int, error)
}

type jobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) JobRepository {
	return &jobRepository{db: db}
}

// Enqueue inserts the job unless a row with the same idempotency key already
// exists. A terminal (done/dead) row is recycled in place so a later window
// with the same key can run again; a live row rejects the enqueue.
func (r *jobRepository) Enqueue(ctx context.Context, job *models.Job) (bool, error) {
	insert := `
		INSERT INTO jobs (id, kind, payload, idempotency_key, state, attempts, visible_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id
	`

	var id string
	err := r.db.QueryRowContext(ctx, insert, job.ID, job.Kind, job.Payload,
		job.IdempotencyKey, models.JobStateQueued, job.VisibleAt).Scan(&id)
	if err == nil {
		return true, nil
	}
	if err != sql.ErrNoRows {
		slog.Info(err.Error())
		return false, err
	}

	recycle := `
		UPDATE jobs
		SET id = $1,
			kind = $2,
			payload = $3,
			state = $4,
			attempts = 0,
			visible_at = $5,
			last_error = '',
			updated_at = CURRENT_TIMESTAMP
		WHERE idempotency_key = $6
		  AND state IN ($7, $8)
	`
	result, err := r.db.ExecContext(ctx, recycle, job.ID, job.Kind, job.Payload,
		models.JobStateQueued, job.VisibleAt, job.IdempotencyKey,
		models.JobStateDone, models.JobStateDead)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return affected == 1, nil
}

func (r *jobRepository) GetByKey(ctx context.Context, idempotencyKey string) (*models.Job, error) {
	query := `SELECT id, kind, payload, idempotency_key, state, attempts, visible_at, last_error, created_at, updated_at
		FROM jobs WHERE idempotency_key = $1`
	row := r.db.QueryRowContext(ctx, query, idempotencyKey)

	var job models.Job
	err := row.Scan(&job.ID, &job.Kind, &job.Payload, &job.IdempotencyKey, &job.State,
		&job.Attempts, &job.VisibleAt, &job.LastError, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return &job, nil
}

func (r *jobRepository) MarkInFlight(ctx context.Context, idempotencyKey string) error {
	query := `
		UPDATE jobs
		SET state = $1,
			attempts = attempts + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE idempotency_key = $2
	`
	_, err := r.db.ExecContext(ctx, query, models.JobStateInFlight, idempotencyKey)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *jobRepository) MarkDone(ctx context.Context, idempotencyKey string) error {
	query := `UPDATE jobs SET state = $1, updated_at = CURRENT_TIMESTAMP WHERE idempotency_key = $2`
	_, err := r.db.ExecContext(ctx, query, models.JobStateDone, idempotencyKey)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *jobRepository) MarkRetrying(ctx context.Context, idempotencyKey string, visibleAt time.Time, lastError string) error {
	query := `
		UPDATE jobs
		SET state = $1,
			visible_at = $2,
			last_error = $3,
			updated_at = CURRENT_TIMESTAMP
		WHERE idempotency_key = $4
	`
	_, err := r.db.ExecContext(ctx, query, models.JobStateRetrying, visibleAt, lastError, idempotencyKey)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *jobRepository) MarkDead(ctx context.Context, idempotencyKey string, lastError string) error {
	query := `
		UPDATE jobs
		SET state = $1,
			last_error = $2,
			updated_at = CURRENT_TIMESTAMP
		WHERE idempotency_key = $3
	`
	_, err := r.db.ExecContext(ctx, query, models.JobStateDead, lastError, idempotencyKey)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// ListStranded selects queued rows that have not been touched since cutoff.
// A row stays queued past the grace window only when the asynq enqueue that
// should have followed the insert never landed (crash or redis failure), so
// these rows need redelivery.
func (r *jobRepository) ListStranded(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error) {
	query := `SELECT id, kind, payload, idempotency_key, state, attempts, visible_at, last_error, created_at, updated_at
		FROM jobs
		WHERE state = $1 AND updated_at <= $2
		ORDER BY updated_at
		LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, models.JobStateQueued, cutoff, limit)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		var job models.Job
		err := rows.Scan(&job.ID, &job.Kind, &job.Payload, &job.IdempotencyKey, &job.State,
			&job.Attempts, &job.VisibleAt, &job.LastError, &job.CreatedAt, &job.UpdatedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		jobs = append(jobs, &job)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return jobs, nil
}

func (r *jobRepository) CountByKindAndState(ctx context.Context) (map[string]map[string]int, error) {
	query := `SELECT kind, state, COUNT(*) FROM jobs GROUP BY kind, state`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]map[string]int)
	for rows.Next() {
		var kind, state string
		var n int
		if err := rows.Scan(&kind, &state, &n); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		if counts[kind] == nil {
			counts[kind] = make(map[string]int)
		}
		counts[kind][state] = n
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return counts, nil
}
