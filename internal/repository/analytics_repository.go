package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/postwing/engine/internal/models"
)

type AnalyticsRepository interface {
	Create(ctx context.Context, snapshot *models.AnalyticsSnapshot) (int64, error)
}

type analyticsRepository struct {
	db *sql.DB
}

func NewAnalyticsRepository(db *sql.DB) AnalyticsRepository {
	return &analyticsRepository{db: db}
}

// Create appends a snapshot. Snapshots are immutable; there is deliberately
// no update method on this repository.
func (r *analyticsRepository) Create(ctx context.Context, snapshot *models.AnalyticsSnapshot) (int64, error) {
	query := `
		INSERT INTO analytics_snapshots (target_id, platform_post_id, likes, shares, comments, impressions, reach, unreachable, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		snapshot.TargetID,
		snapshot.PlatformPostID,
		snapshot.Likes,
		snapshot.Shares,
		snapshot.Comments,
		snapshot.Impressions,
		snapshot.Reach,
		snapshot.Unreachable,
		snapshot.FetchedAt,
	).Scan(&id)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}
