package repository

import (
	"context"
	"database/sql"
	"log/slog"
)

// PostAccountRepository reads the accounts the user picked for a post. The
// rows are written by the API layer before the post enters scheduled status
// and are immutable afterwards.
type PostAccountRepository interface {
	ListAccountIDs(ctx context.Context, postID int64) ([]int64, error)
}

type postAccountRepository struct {
	db *sql.DB
}

func NewPostAccountRepository(db *sql.DB) PostAccountRepository {
	return &postAccountRepository{db: db}
}

func (r *postAccountRepository) ListAccountIDs(ctx context.Context, postID int64) ([]int64, error) {
	query := `SELECT account_id FROM post_accounts WHERE post_id = $1 ORDER BY account_id`

	rows, err := r.db.QueryContext(ctx, query, postID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return ids, nil
}
