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
)

type AnalyticsProcessor struct {
	targets     repository.PlatformTargetRepository
	accounts    repository.ConnectedAccountRepository
	analytics   repository.AnalyticsRepository
	adapters    *platform.Registry
	callTimeout time.Duration
	now         func() time.Time
}

func NewAnalyticsProcessor(
	targets repository.PlatformTargetRepository,
	accounts repository.ConnectedAccountRepository,
	analytics repository.AnalyticsRepository,
	adapters *platform.Registry,
	callTimeout time.Duration) *AnalyticsProcessor {
	return &AnalyticsProcessor{
		targets:     targets,
		accounts:    accounts,
		analytics:   analytics,
		adapters:    adapters,
		callTimeout: callTimeout,
		now:         time.Now,
	}
}

func (p *AnalyticsProcessor) Process(ctx context.Context, payload queue.FetchMetricsPayload) Result {
	target, err := p.targets.GetByID(ctx, payload.TargetID)
	if err != nil {
		return Retry(err)
	}
	if target == nil {
		return Dead(fmt.Errorf("platform target %d referenced by metrics job does not exist", payload.TargetID))
	}
	if target.PlatformPostID == "" {
		return Dead(fmt.Errorf("target %d has no platform_post_id; metrics job should not exist", target.ID))
	}
	if target.Unreachable {
		return Ack()
	}

	account, err := p.accounts.GetByID(ctx, target.AccountID)
	if err != nil {
		return Retry(err)
	}
	if account == nil || account.Status != models.AccountStatusActive {
		// Fail fast rather than retry; the account needs user action first.
		slog.Info("skipping metrics fetch, account not active", "target_id", target.ID, "account_id", target.AccountID)
		return Ack()
	}

	adapter, ok := p.adapters.Get(target.Platform)
	if !ok {
		return Dead(fmt.Errorf("no adapter registered for platform %q", target.Platform))
	}

	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	metrics, err := adapter.FetchMetrics(callCtx, account, target.PlatformPostID)
	if err != nil {
		pe := platform.Classify(err)
		slog.Info("metrics fetch failed", "target_id", target.ID, "platform", target.Platform, "kind", string(pe.Kind), "error", pe.Error())

		switch pe.Kind {
		case platform.KindNotFound:
			// Deleted on platform: one terminal snapshot, no further fetches.
			return p.markUnreachable(ctx, target)
		case platform.KindAuthRequired:
			return Ack()
		default:
			if pe.Retryable() {
				return Retry(pe)
			}
			return Dead(pe)
		}
	}

	_, err = p.analytics.Create(ctx, &models.AnalyticsSnapshot{
		TargetID:       target.ID,
		PlatformPostID: target.PlatformPostID,
		Likes:          metrics.Likes,
		Shares:         metrics.Shares,
		Comments:       metrics.Comments,
		Impressions:    metrics.Impressions,
		Reach:          metrics.Reach,
		FetchedAt:      p.now(),
	})
	if err != nil {
		return Retry(err)
	}

	return Ack()
}

func (p *AnalyticsProcessor) markUnreachable(ctx context.Context, target *models.PlatformTarget) Result {
	_, err := p.analytics.Create(ctx, &models.AnalyticsSnapshot{
		TargetID:       target.ID,
		PlatformPostID: target.PlatformPostID,
		Unreachable:    true,
		FetchedAt:      p.now(),
	})
	if err != nil {
		return Retry(err)
	}
	if err := p.targets.MarkUnreachable(ctx, target.ID); err != nil {
		return Retry(err)
	}
	return Ack()
}
