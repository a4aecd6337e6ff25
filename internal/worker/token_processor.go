package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/postwing/engine/internal/models"
	"github.com/postwing/engine/internal/platform"
	"github.com/postwing/engine/internal/queue"
	"github.com/postwing/engine/internal/repository"
	"github.com/postwing/engine/pkg/utils"
)

type TokenProcessor struct {
	accounts    repository.ConnectedAccountRepository
	adapters    *platform.Registry
	secretKey   string
	callTimeout time.Duration
}

func NewTokenProcessor(
	accounts repository.ConnectedAccountRepository,
	adapters *platform.Registry,
	secretKey string,
	callTimeout time.Duration) *TokenProcessor {
	return &TokenProcessor{
		accounts:    accounts,
		adapters:    adapters,
		secretKey:   secretKey,
		callTimeout: callTimeout,
	}
}

func (p *TokenProcessor) Process(ctx context.Context, payload queue.RefreshTokenPayload) Result {
	account, err := p.accounts.GetByID(ctx, payload.AccountID)
	if err != nil {
		return Retry(err)
	}
	if account == nil {
		return Dead(fmt.Errorf("connected account %d referenced by refresh job does not exist", payload.AccountID))
	}
	if account.Status == models.AccountStatusDisabled {
		return Ack()
	}

	adapter, ok := p.adapters.Get(account.Platform)
	if !ok {
		return Dead(fmt.Errorf("no adapter registered for platform %q", account.Platform))
	}

	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	creds, err := adapter.RefreshToken(callCtx, account)
	if err != nil {
		pe := platform.Classify(err)
		slog.Info("token refresh failed", "account_id", account.ID, "platform", account.Platform, "kind", string(pe.Kind), "error", pe.Error())

		if pe.Kind == platform.KindAuthRequired {
			return p.quarantine(ctx, account)
		}
		if pe.Retryable() {
			return Retry(pe)
		}
		return Dead(pe)
	}

	encryptedAccess, err := utils.Encrypt([]byte(creds.AccessToken), []byte(p.secretKey))
	if err != nil {
		return Retry(err)
	}
	encryptedRefresh := ""
	if creds.RefreshToken != "" {
		encryptedRefresh, err = utils.Encrypt([]byte(creds.RefreshToken), []byte(p.secretKey))
		if err != nil {
			return Retry(err)
		}
	}

	if err := p.accounts.SetToken(ctx, account.ID, encryptedAccess, encryptedRefresh, creds.ExpiresAt); err != nil {
		return Retry(err)
	}

	slog.Info("token refreshed", "account_id", account.ID, "platform", account.Platform, "expires_at", creds.ExpiresAt)
	return Ack()
}

// quarantine moves the account to needs_reauth so the reconciler stops
// scheduling work against dead credentials; repeated cycles disable it.
func (p *TokenProcessor) quarantine(ctx context.Context, account *models.ConnectedAccount) Result {
	count, err := p.accounts.IncrementReauth(ctx, account.ID)
	if err != nil {
		return Retry(err)
	}

	status := models.AccountStatusNeedsReauth
	if count >= models.MaxReauthCycles {
		status = models.AccountStatusDisabled
	}
	if err := p.accounts.SetStatus(ctx, account.ID, status); err != nil {
		return Retry(err)
	}

	slog.Info("account quarantined", "account_id", account.ID, "status", status, "reauth_count", count)
	return Ack()
}
