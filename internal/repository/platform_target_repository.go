package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/postwing/engine/internal/models"
)

type PlatformTargetRepository interface {
	GetByID(ctx context.Context, id int64) (*models.PlatformTarget, error)
	ListByPostID(ctx context.Context, postID int64) ([]*models.PlatformTarget, error)
	Ensure(ctx context.Context, postID, accountID int64, platform, dedupeToken string) (int64, error)
	SetPublishing(ctx context.Context, id int64) error
	MarkPublished(ctx context.Context, id int64, platformPostID string, publishedAt time.Time) error
	MarkFailed(ctx context.Context, id int64, lastError string) error
	RecordAttempt(ctx context.Context, id int64, lastError string, nextAttemptAt time.Time) error
	MarkUnreachable(ctx context.Context, id int64) error
	ListStaleMetrics(ctx context.Context, now time.Time, fresh, freshOld, decayAge time.Duration, limit int) ([]*models.PlatformTarget, error)
}

type platformTargetRepository struct {
	db *sql.DB
}

func NewPlatformTargetRepository(db *sql.DB) PlatformTargetRepository {
	return &platformTargetRepository{db: db}
}

const targetColumns = `id, post_id, account_id, platform, status, platform_post_id, dedupe_token,
	last_error, attempts, next_attempt_at, published_at, unreachable, created_at, updated_at`

func scanTarget(row interface{ Scan(...any) error }) (*models.PlatformTarget, error) {
	var t models.PlatformTarget
	err := row.Scan(&t.ID, &t.PostID, &t.AccountID, &t.Platform, &t.Status, &t.PlatformPostID,
		&t.DedupeToken, &t.LastError, &t.Attempts, &t.NextAttemptAt, &t.PublishedAt,
		&t.Unreachable, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *platformTargetRepository) GetByID(ctx context.Context, id int64) (*models.PlatformTarget, error) {
	query := `SELECT ` + targetColumns + ` FROM platform_targets WHERE id = $1`
	t, err := scanTarget(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return t, nil
}

func (r *platformTargetRepository) ListByPostID(ctx context.Context, postID int64) ([]*models.PlatformTarget, error) {
	query := `SELECT ` + targetColumns + ` FROM platform_targets WHERE post_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, postID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var targets []*models.PlatformTarget
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return targets, nil
}

// Ensure inserts the target if absent and returns its id either way. The
// unique (post_id, account_id) index makes concurrent reconciler ticks safe.
func (r *platformTargetRepository) Ensure(ctx context.Context, postID, accountID int64, platform, dedupeToken string) (int64, error) {
	insert := `
		INSERT INTO platform_targets (post_id, account_id, platform, status, dedupe_token)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (post_id, account_id) DO NOTHING
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, insert, postID, accountID, platform, models.TargetStatusPending, dedupeToken).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		slog.Info(err.Error())
		return 0, err
	}

	query := `SELECT id FROM platform_targets WHERE post_id = $1 AND account_id = $2`
	if err := r.db.QueryRowContext(ctx, query, postID, accountID).Scan(&id); err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return id, nil
}

func (r *platformTargetRepository) SetPublishing(ctx context.Context, id int64) error {
	query := `UPDATE platform_targets SET status = $1, updated_at = $2 WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, models.TargetStatusPublishing, time.Now(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *platformTargetRepository) MarkPublished(ctx context.Context, id int64, platformPostID string, publishedAt time.Time) error {
	query := `
		UPDATE platform_targets
		SET status = $1,
			platform_post_id = $2,
			published_at = $3,
			last_error = '',
			updated_at = $4
		WHERE id = $5
	`
	_, err := r.db.ExecContext(ctx, query, models.TargetStatusPublished, platformPostID, publishedAt, time.Now(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *platformTargetRepository) MarkFailed(ctx context.Context, id int64, lastError string) error {
	query := `
		UPDATE platform_targets
		SET status = $1,
			last_error = $2,
			updated_at = $3
		WHERE id = $4
	`
	_, err := r.db.ExecContext(ctx, query, models.TargetStatusFailed, lastError, time.Now(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *platformTargetRepository) RecordAttempt(ctx context.Context, id int64, lastError string, nextAttemptAt time.Time) error {
	query := `
		UPDATE platform_targets
		SET attempts = attempts + 1,
			last_error = $1,
			next_attempt_at = $2,
			updated_at = $3
		WHERE id = $4
	`
	_, err := r.db.ExecContext(ctx, query, lastError, nextAttemptAt, time.Now(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *platformTargetRepository) MarkUnreachable(ctx context.Context, id int64) error {
	query := `UPDATE platform_targets SET unreachable = true, updated_at = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// ListStaleMetrics selects published, reachable targets whose newest snapshot
// is older than the refresh interval: hourly while the post is younger than
// decayAge, daily after that.
func (r *platformTargetRepository) ListStaleMetrics(ctx context.Context, now time.Time, fresh, freshOld, decayAge time.Duration, limit int) ([]*models.PlatformTarget, error) {
	query := `
		SELECT ` + targetColumns + `
		FROM platform_targets t
		WHERE t.status = $1
		  AND t.unreachable = false
		  AND NOT EXISTS (
			SELECT 1 FROM analytics_snapshots s
			WHERE s.target_id = t.id
			  AND s.fetched_at > $2::timestamptz - (CASE
				WHEN t.published_at > $2::timestamptz - make_interval(secs => $3)
				THEN make_interval(secs => $4)
				ELSE make_interval(secs => $5)
			  END)
		  )
		ORDER BY t.published_at
		LIMIT $6
	`

	rows, err := r.db.QueryContext(ctx, query, models.TargetStatusPublished, now,
		decayAge.Seconds(), fresh.Seconds(), freshOld.Seconds(), limit)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var targets []*models.PlatformTarget
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return targets, nil
}
