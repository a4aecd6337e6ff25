package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/postwing/engine/internal/models"
	"github.com/postwing/engine/internal/repository"
)

// ErrDuplicate reports that a live job with the same idempotency key already
// exists. Producers treat it as a no-op.
var ErrDuplicate = errors.New("duplicate idempotency key")

type Task struct {
	Type           string
	Payload        any
	IdempotencyKey string
	Delay          time.Duration
}

// Transport enqueues work for at-least-once delivery. Implementations must
// reject a second enqueue of an idempotency key whose job is still live, and
// must make Redeliver safe to call for a key that is already in flight.
type Transport interface {
	Enqueue(ctx context.Context, task Task) error
	Redeliver(ctx context.Context, job *models.Job) error
}

// AsynqTransport is the production transport: the jobs table is the durable
// idempotency ledger, asynq (redis) the delivery mechanism. The job row is
// written first so a crash or redis failure between the two steps leaves a
// queued row, never a delivered task without a row; the reconciler's stranded
// sweep feeds such rows back through Redeliver.
type AsynqTransport struct {
	client     *asynq.Client
	jobs       repository.JobRepository
	maxRetries int
}

func NewAsynqTransport(client *asynq.Client, jobs repository.JobRepository, maxRetries int) *AsynqTransport {
	return &AsynqTransport{client: client, jobs: jobs, maxRetries: maxRetries}
}

func (t *AsynqTransport) Enqueue(ctx context.Context, task Task) error {
	payload, err := json.Marshal(task.Payload)
	if err != nil {
		return err
	}

	jobID, err := gonanoid.New()
	if err != nil {
		return err
	}

	inserted, err := t.jobs.Enqueue(ctx, &models.Job{
		ID:             jobID,
		Kind:           JobKindFor(task.Type),
		Payload:        payload,
		IdempotencyKey: task.IdempotencyKey,
		VisibleAt:      time.Now().Add(task.Delay),
	})
	if err != nil {
		return err
	}
	if !inserted {
		return ErrDuplicate
	}

	_, err = t.client.EnqueueContext(ctx, asynq.NewTask(task.Type, payload),
		asynq.TaskID(task.IdempotencyKey),
		asynq.ProcessIn(task.Delay),
		asynq.MaxRetry(t.maxRetries),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return ErrDuplicate
		}
		// The queued row stays behind; the stranded sweep will redeliver it.
		slog.Info(err.Error())
		return err
	}

	slog.Info("task enqueued", "type", task.Type, "key", task.IdempotencyKey, "delay", task.Delay)
	return nil
}

// Redeliver pushes an existing ledger row back onto asynq. A task already
// tracked under the row's key is left alone.
func (t *AsynqTransport) Redeliver(ctx context.Context, job *models.Job) error {
	delay := time.Until(job.VisibleAt)
	if delay < 0 {
		delay = 0
	}

	_, err := t.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeFor(job.Kind), job.Payload),
		asynq.TaskID(job.IdempotencyKey),
		asynq.ProcessIn(delay),
		asynq.MaxRetry(t.maxRetries),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		slog.Info(err.Error())
		return err
	}

	slog.Info("stranded task redelivered", "kind", job.Kind, "key", job.IdempotencyKey)
	return nil
}
