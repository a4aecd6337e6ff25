package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/postwing/engine/internal/models"
)

type ConnectedAccountRepository interface {
	GetByID(ctx context.Context, id int64) (*models.ConnectedAccount, error)
	ListExpiring(ctx context.Context, until time.Time) ([]*models.ConnectedAccount, error)
	SetToken(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt time.Time) error
	SetStatus(ctx context.Context, id int64, status string) error
	IncrementReauth(ctx context.Context, id int64) (int, error)
}

type connectedAccountRepository struct {
	db *sql.DB
}

func NewConnectedAccountRepository(db *sql.DB) ConnectedAccountRepository {
	return &connectedAccountRepository{db: db}
}

const accountColumns = `id, organization_id, platform, account_id, account_name, account_username,
	profile_picture_url, access_token, refresh_token, token_expires_at, status, reauth_count,
	created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*models.ConnectedAccount, error) {
	var a models.ConnectedAccount
	err := row.Scan(&a.ID, &a.OrganizationID, &a.Platform, &a.AccountID, &a.AccountName,
		&a.AccountUsername, &a.ProfilePicture, &a.AccessToken, &a.RefreshToken,
		&a.TokenExpiresAt, &a.Status, &a.ReauthCount, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *connectedAccountRepository) GetByID(ctx context.Context, id int64) (*models.ConnectedAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM connected_accounts WHERE id = $1`
	a, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return a, nil
}

// ListExpiring returns active accounts whose token expires by the given
// instant. Already-expired tokens are included; a refresh may still succeed.
func (r *connectedAccountRepository) ListExpiring(ctx context.Context, until time.Time) ([]*models.ConnectedAccount, error) {
	query := `SELECT ` + accountColumns + `
		FROM connected_accounts
		WHERE status = $1
		  AND token_expires_at <= $2
		ORDER BY token_expires_at`

	rows, err := r.db.QueryContext(ctx, query, models.AccountStatusActive, until)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.ConnectedAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return accounts, nil
}

// SetToken atomically swaps credentials and re-arms the account: status back
// to active, reauth counter cleared.
func (r *connectedAccountRepository) SetToken(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	defer tx.Rollback()

	query := `
		UPDATE connected_accounts
		SET access_token = $1,
			refresh_token = COALESCE(NULLIF($2, ''), refresh_token),
			token_expires_at = $3,
			status = $4,
			reauth_count = 0,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $5
	`
	result, err := tx.ExecContext(ctx, query, accessToken, refreshToken, expiresAt, models.AccountStatusActive, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	if affected != 1 {
		slog.Info("no rows affected; account may not exist")
		return errors.New("no rows affected; account may not exist")
	}

	if err = tx.Commit(); err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *connectedAccountRepository) SetStatus(ctx context.Context, id int64, status string) error {
	query := `UPDATE connected_accounts SET status = $1, updated_at = $2 WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, status, time.Now(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *connectedAccountRepository) IncrementReauth(ctx context.Context, id int64) (int, error) {
	query := `
		UPDATE connected_accounts
		SET reauth_count = reauth_count + 1,
			updated_at = $1
		WHERE id = $2
		RETURNING reauth_count
	`
	var count int
	if err := r.db.QueryRowContext(ctx, query, time.Now(), id).Scan(&count); err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return count, nil
}
