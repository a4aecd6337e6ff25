package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	config "github.com/postwing/engine/configs"
	"github.com/postwing/engine/internal/queue"
	"github.com/postwing/engine/internal/repository"
	"github.com/postwing/engine/pkg/backoff"
)

// Server consumes the three task kinds and translates processor decisions
// into asynq semantics: Ack → nil, Retry → error (redelivered with backoff),
// Dead → SkipRetry (archived, job row dead).
type Server struct {
	srv    *asynq.Server
	mux    *asynq.ServeMux
	jobs   repository.JobRepository
	policy backoff.Policy
}

func NewServer(
	redisOpt asynq.RedisClientOpt,
	cfg config.Worker,
	jobs repository.JobRepository,
	publish *PublishProcessor,
	analytics *AnalyticsProcessor,
	token *TokenProcessor) *Server {

	policy := backoff.New(cfg.BackoffBase, cfg.BackoffCap)

	s := &Server{jobs: jobs, policy: policy}

	s.srv = asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Concurrency,
		RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
			return policy.Jittered(n)
		},
		ErrorHandler: asynq.ErrorHandlerFunc(s.onError),
	})

	s.mux = asynq.NewServeMux()
	s.mux.HandleFunc(queue.TaskTypePublish, handle(s, func(ctx context.Context, p queue.PublishPayload) Result {
		return publish.Process(ctx, p)
	}))
	s.mux.HandleFunc(queue.TaskTypeFetchMetrics, handle(s, func(ctx context.Context, p queue.FetchMetricsPayload) Result {
		return analytics.Process(ctx, p)
	}))
	s.mux.HandleFunc(queue.TaskTypeRefreshToken, handle(s, func(ctx context.Context, p queue.RefreshTokenPayload) Result {
		return token.Process(ctx, p)
	}))

	return s
}

func (s *Server) Run() error {
	return s.srv.Run(s.mux)
}

func (s *Server) Shutdown() {
	s.srv.Shutdown()
}

// handle adapts a typed processor to an asynq handler, keeping the job
// ledger row in step with each delivery.
func handle[P any](s *Server, process func(ctx context.Context, payload P) Result) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var payload P
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("unmarshal %s payload: %v: %w", task.Type(), err, asynq.SkipRetry)
		}

		key, _ := asynq.GetTaskID(ctx)
		if err := s.jobs.MarkInFlight(ctx, key); err != nil {
			slog.Info(err.Error())
		}

		retried, _ := asynq.GetRetryCount(ctx)
		return s.settle(ctx, task.Type(), key, process(ctx, payload), retried)
	}
}

// settle translates a processor decision into ledger state and the return
// value asynq expects: nil completes, SkipRetry archives, anything else is
// redelivered with backoff.
func (s *Server) settle(ctx context.Context, taskType, key string, result Result, retried int) error {
	switch result.Decision {
	case DecisionAck:
		if err := s.jobs.MarkDone(ctx, key); err != nil {
			slog.Info(err.Error())
		}
		return nil

	case DecisionDead:
		if err := s.jobs.MarkDead(ctx, key, result.Err.Error()); err != nil {
			slog.Info(err.Error())
		}
		slog.Error("job dead-lettered", "task", taskType, "key", key, "error", result.Err.Error())
		return fmt.Errorf("%v: %w", result.Err, asynq.SkipRetry)

	default:
		// visible_at records the pre-jitter delay; asynq applies its own
		// jitter via RetryDelayFunc.
		visibleAt := time.Now().Add(s.policy.Delay(retried))
		if err := s.jobs.MarkRetrying(ctx, key, visibleAt, result.Err.Error()); err != nil {
			slog.Info(err.Error())
		}
		return result.Err
	}
}

// onError fires on every failed delivery; once retries are exhausted asynq
// archives the task and the job row goes dead. This is the operator alert
// point for stuck work.
func (s *Server) onError(ctx context.Context, task *asynq.Task, err error) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	key, _ := asynq.GetTaskID(ctx)
	s.recordFailure(ctx, task.Type(), key, err, retried, maxRetry)
}

// recordFailure dead-letters the ledger row on the final permitted attempt.
// asynq counts retries from zero, so retried == maxRetry identifies attempt
// maxRetry+1, the one after which the task is archived.
func (s *Server) recordFailure(ctx context.Context, taskType, key string, err error, retried, maxRetry int) {
	if retried < maxRetry {
		return
	}

	if markErr := s.jobs.MarkDead(ctx, key, err.Error()); markErr != nil {
		slog.Info(markErr.Error())
	}
	slog.Error("job exhausted retries", "task", taskType, "key", key, "attempts", retried+1, "error", err.Error())
}
