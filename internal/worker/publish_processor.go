package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/postwing/engine/internal/models"
	"github.com/postwing/engine/internal/platform"
	"github.com/postwing/engine/internal/queue"
	"github.com/postwing/engine/internal/repository"
	"github.com/postwing/engine/internal/service"
	"github.com/postwing/engine/pkg/backoff"
	"github.com/postwing/engine/pkg/ratelimit"
)

type PublishProcessor struct {
	posts       repository.PostRepository
	targets     repository.PlatformTargetRepository
	accounts    repository.ConnectedAccountRepository
	media       service.MediaService
	adapters    *platform.Registry
	limiter     ratelimit.Limiter
	backoff     backoff.Policy
	callTimeout time.Duration
	now         func() time.Time
}

func NewPublishProcessor(
	posts repository.PostRepository,
	targets repository.PlatformTargetRepository,
	accounts repository.ConnectedAccountRepository,
	media service.MediaService,
	adapters *platform.Registry,
	limiter ratelimit.Limiter,
	policy backoff.Policy,
	callTimeout time.Duration) *PublishProcessor {
	return &PublishProcessor{
		posts:       posts,
		targets:     targets,
		accounts:    accounts,
		media:       media,
		adapters:    adapters,
		limiter:     limiter,
		backoff:     policy,
		callTimeout: callTimeout,
		now:         time.Now,
	}
}

func (p *PublishProcessor) Process(ctx context.Context, payload queue.PublishPayload) Result {
	target, err := p.targets.GetByID(ctx, payload.TargetID)
	if err != nil {
		return Retry(err)
	}
	if target == nil {
		return Dead(fmt.Errorf("platform target %d referenced by publish job does not exist", payload.TargetID))
	}

	post, err := p.posts.GetByID(ctx, target.PostID)
	if err != nil {
		return Retry(err)
	}
	if post == nil {
		return Dead(fmt.Errorf("scheduled post %d referenced by target %d does not exist", target.PostID, target.ID))
	}

	// A cancel that raced the reconciler turns this delivery into a no-op.
	if post.Status == models.PostStatusCanceled {
		slog.Info("skipping publish for canceled post", "post_id", post.ID, "target_id", target.ID)
		return Ack()
	}

	// Redelivery guard: a recorded platform_post_id means a prior delivery
	// already succeeded, whether or not its ack landed.
	if target.PlatformPostID != "" {
		if err := p.refoldPostStatus(ctx, target.PostID); err != nil {
			return Retry(err)
		}
		return Ack()
	}

	if target.Status == models.TargetStatusFailed {
		return Ack()
	}

	account, err := p.accounts.GetByID(ctx, target.AccountID)
	if err != nil {
		return Retry(err)
	}
	if account == nil || account.Status != models.AccountStatusActive {
		// Not transient: nothing retries its way out of missing or revoked
		// credentials without user action.
		return p.failTarget(ctx, target, "auth_required: connected account is not active")
	}

	adapter, ok := p.adapters.Get(target.Platform)
	if !ok {
		return Dead(fmt.Errorf("no adapter registered for platform %q", target.Platform))
	}

	allowed, err := p.limiter.Allow(ctx, fmt.Sprintf("%d:%s", post.OrganizationID, target.Platform))
	if err != nil {
		return Retry(err)
	}
	if !allowed {
		err := fmt.Errorf("rate limit exhausted for org %d on %s", post.OrganizationID, target.Platform)
		if recErr := p.recordAttempt(ctx, target, err); recErr != nil {
			return Retry(recErr)
		}
		return Retry(err)
	}

	assets, err := p.media.ResolveForPost(ctx, target.PostID)
	if err != nil {
		return Retry(err)
	}
	for _, asset := range assets {
		if err := p.media.Validate(ctx, asset); err != nil {
			if errors.Is(err, service.ErrUnsupportedMedia) {
				return p.failTarget(ctx, target, err.Error())
			}
			return Retry(err)
		}
	}

	if err := p.targets.SetPublishing(ctx, target.ID); err != nil {
		return Retry(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	platformPostID, err := adapter.Publish(callCtx, account, &platform.PublishRequest{
		Post:        post,
		Media:       assets,
		DedupeToken: target.DedupeToken,
	})
	if err != nil {
		pe := platform.Classify(err)
		slog.Info("publish failed", "target_id", target.ID, "platform", target.Platform, "kind", string(pe.Kind), "error", pe.Error())

		if pe.Retryable() {
			if recErr := p.recordAttempt(ctx, target, pe); recErr != nil {
				return Retry(recErr)
			}
			return Retry(pe)
		}
		return p.failTarget(ctx, target, pe.Error())
	}

	if err := p.targets.MarkPublished(ctx, target.ID, platformPostID, p.now()); err != nil {
		return Retry(err)
	}
	if err := p.refoldPostStatus(ctx, target.PostID); err != nil {
		return Retry(err)
	}

	slog.Info("target published", "target_id", target.ID, "platform", target.Platform, "platform_post_id", platformPostID)
	return Ack()
}

func (p *PublishProcessor) recordAttempt(ctx context.Context, target *models.PlatformTarget, cause error) error {
	delay := p.backoff.Delay(target.Attempts)
	return p.targets.RecordAttempt(ctx, target.ID, cause.Error(), p.now().Add(delay))
}

// failTarget is the terminal path: the target fails, the parent refolds, and
// the job acks because the failure is final rather than a transport problem.
func (p *PublishProcessor) failTarget(ctx context.Context, target *models.PlatformTarget, lastError string) Result {
	if err := p.targets.MarkFailed(ctx, target.ID, lastError); err != nil {
		return Retry(err)
	}
	if err := p.refoldPostStatus(ctx, target.PostID); err != nil {
		return Retry(err)
	}
	return Ack()
}

// refoldPostStatus recomputes the aggregate post status as a pure fold over
// the current target rows. Recomputing from scratch instead of mutating
// incrementally keeps the aggregate correct across crashes and races.
func (p *PublishProcessor) refoldPostStatus(ctx context.Context, postID int64) error {
	targets, err := p.targets.ListByPostID(ctx, postID)
	if err != nil {
		return err
	}
	return p.posts.UpdateStatus(ctx, models.DerivePostStatus(targets), postID)
}
