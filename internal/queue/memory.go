package queue

import (
	"context"
	"sync"

	"github.com/postwing/engine/internal/models"
)

// MemoryTransport is an in-process Transport with the same idempotency
// contract as the production one. It backs tests that exercise producers
// without redis.
type MemoryTransport struct {
	mu    sync.Mutex
	live  map[string]bool
	tasks []Task
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{live: make(map[string]bool)}
}

func (t *MemoryTransport) Enqueue(_ context.Context, task Task) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.live[task.IdempotencyKey] {
		return ErrDuplicate
	}
	t.live[task.IdempotencyKey] = true
	t.tasks = append(t.tasks, task)
	return nil
}

// Redeliver restores a ledger row whose task was lost. A key that is still
// live is left alone, matching the asynq task id conflict behavior.
func (t *MemoryTransport) Redeliver(_ context.Context, job *models.Job) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.live[job.IdempotencyKey] {
		return nil
	}
	t.live[job.IdempotencyKey] = true
	t.tasks = append(t.tasks, Task{
		Type:           TaskTypeFor(job.Kind),
		Payload:        job.Payload,
		IdempotencyKey: job.IdempotencyKey,
	})
	return nil
}

// Complete releases the key, as a finished job would in the ledger.
func (t *MemoryTransport) Complete(idempotencyKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.live, idempotencyKey)
}

func (t *MemoryTransport) Tasks() []Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Task, len(t.tasks))
	copy(out, t.tasks)
	return out
}
