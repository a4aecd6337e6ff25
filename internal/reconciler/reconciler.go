// Package reconciler is the producer side of the engine: on every tick it
// scans the domain store for due work (posts to publish, tokens to refresh,
// metrics to re-fetch) and enqueues jobs for it. Safe to run on multiple
// instances concurrently: duplicate ticks are absorbed by the transport's
// idempotency keys, so no leader election is needed.
package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	config "github.com/postwing/engine/configs"
	"github.com/postwing/engine/internal/models"
	"github.com/postwing/engine/internal/queue"
	"github.com/postwing/engine/internal/repository"
	"github.com/robfig/cron"
)

type Reconciler struct {
	cfg       config.Reconciler
	posts     repository.PostRepository
	targets   repository.PlatformTargetRepository
	accounts  repository.ConnectedAccountRepository
	postAccs  repository.PostAccountRepository
	jobs      repository.JobRepository
	transport queue.Transport
	now       func() time.Time
}

func New(
	cfg config.Reconciler,
	posts repository.PostRepository,
	targets repository.PlatformTargetRepository,
	accounts repository.ConnectedAccountRepository,
	postAccs repository.PostAccountRepository,
	jobs repository.JobRepository,
	transport queue.Transport) *Reconciler {
	return &Reconciler{
		cfg:       cfg,
		posts:     posts,
		targets:   targets,
		accounts:  accounts,
		postAccs:  postAccs,
		jobs:      jobs,
		transport: transport,
		now:       time.Now,
	}
}

// Start registers the tick on a cron runner and starts it.
func (r *Reconciler) Start() *cron.Cron {
	c := cron.New()
	c.AddFunc("@every "+r.cfg.TickInterval.String(), r.Tick)
	c.Start()
	return c
}

func (r *Reconciler) Tick() {
	ctx := context.Background()
	r.enqueueDuePosts(ctx)
	r.enqueueTokenRefreshes(ctx)
	r.enqueueMetricsFetches(ctx)
	r.requeueStranded(ctx)
}

func (r *Reconciler) enqueueDuePosts(ctx context.Context) {
	now := r.now()

	posts, err := r.posts.ListDue(ctx, now, r.cfg.BatchSize)
	if err != nil {
		slog.Info(err.Error())
		return
	}

	for _, post := range posts {
		accountIDs, err := r.postAccs.ListAccountIDs(ctx, post.ID)
		if err != nil {
			slog.Info(err.Error())
			continue
		}
		if len(accountIDs) == 0 {
			slog.Info("due post has no selected accounts", "post_id", post.ID)
			continue
		}

		enqueued := 0
		for _, accountID := range accountIDs {
			account, err := r.accounts.GetByID(ctx, accountID)
			if err != nil {
				slog.Info(err.Error())
				continue
			}
			if account == nil {
				slog.Info("selected account does not exist", "post_id", post.ID, "account_id", accountID)
				continue
			}

			dedupeToken, err := gonanoid.New()
			if err != nil {
				slog.Info(err.Error())
				continue
			}

			targetID, err := r.targets.Ensure(ctx, post.ID, account.ID, account.Platform, dedupeToken)
			if err != nil {
				slog.Info(err.Error())
				continue
			}

			err = r.transport.Enqueue(ctx, queue.Task{
				Type:           queue.TaskTypePublish,
				Payload:        queue.PublishPayload{TargetID: targetID},
				IdempotencyKey: queue.PublishKey(targetID),
			})
			if err != nil && !errors.Is(err, queue.ErrDuplicate) {
				slog.Info(err.Error())
				continue
			}
			enqueued++
		}

		if enqueued > 0 {
			if err := r.posts.UpdateStatus(ctx, models.PostStatusPublishing, post.ID); err != nil {
				slog.Info(err.Error())
			}
		}
	}
}

func (r *Reconciler) enqueueTokenRefreshes(ctx context.Context) {
	now := r.now()

	accounts, err := r.accounts.ListExpiring(ctx, now.Add(r.cfg.TokenLeadWindow))
	if err != nil {
		slog.Info(err.Error())
		return
	}

	for _, account := range accounts {
		err := r.transport.Enqueue(ctx, queue.Task{
			Type:           queue.TaskTypeRefreshToken,
			Payload:        queue.RefreshTokenPayload{AccountID: account.ID},
			IdempotencyKey: queue.RefreshKey(account.ID, account.TokenExpiresAt),
		})
		if err != nil && !errors.Is(err, queue.ErrDuplicate) {
			slog.Info(err.Error())
		}
	}
}

func (r *Reconciler) enqueueMetricsFetches(ctx context.Context) {
	now := r.now()

	targets, err := r.targets.ListStaleMetrics(ctx, now,
		r.cfg.MetricsFresh, r.cfg.MetricsFreshOld, r.cfg.MetricsDecayAge, r.cfg.BatchSize)
	if err != nil {
		slog.Info(err.Error())
		return
	}

	for _, target := range targets {
		daily := target.PublishedAt != nil && now.Sub(*target.PublishedAt) > r.cfg.MetricsDecayAge
		bucket := queue.MetricsBucket(now, daily)

		err := r.transport.Enqueue(ctx, queue.Task{
			Type:           queue.TaskTypeFetchMetrics,
			Payload:        queue.FetchMetricsPayload{TargetID: target.ID},
			IdempotencyKey: queue.MetricsKey(target.ID, bucket),
		})
		if err != nil && !errors.Is(err, queue.ErrDuplicate) {
			slog.Info(err.Error())
		}
	}
}

// requeueStranded feeds queued ledger rows whose delivery never reached asynq
// back onto the queue. A row is only stranded when a crash or redis failure
// separated the ledger insert from the asynq enqueue; the grace window keeps
// freshly inserted rows out, and Redeliver no-ops on keys asynq still tracks.
func (r *Reconciler) requeueStranded(ctx context.Context) {
	cutoff := r.now().Add(-r.cfg.StrandedAfter)

	jobs, err := r.jobs.ListStranded(ctx, cutoff, r.cfg.BatchSize)
	if err != nil {
		slog.Info(err.Error())
		return
	}

	for _, job := range jobs {
		if err := r.transport.Redeliver(ctx, job); err != nil {
			slog.Info(err.Error())
			continue
		}
		slog.Info("stranded job requeued", "kind", job.Kind, "key", job.IdempotencyKey)
	}
}
