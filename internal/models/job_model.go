package models

import (
	"encoding/json"
	"time"
)

// Job is the durable record of one unit of queued work. The jobs table is
// the idempotency ledger: the unique idempotency key guarantees one row per
// logical unit of work while asynq handles delivery.
type Job struct {
	ID             string          `db:"id" json:"id"`
	Kind           string          `db:"kind" json:"kind"`
	Payload        json.RawMessage `db:"payload" json:"payload"`
	IdempotencyKey string          `db:"idempotency_key" json:"idempotency_key"`
	State          string          `db:"state" json:"state"`
	Attempts       int             `db:"attempts" json:"attempts"`
	VisibleAt      time.Time       `db:"visible_at" json:"visible_at"`
	LastError      string          `db:"last_error" json:"last_error"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

const (
	JobKindPublish      = "publish"
	JobKindFetchMetrics = "fetch_metrics"
	JobKindRefreshToken = "refresh_token"
)

const (
	JobStateQueued   = "queued"
	JobStateInFlight = "in_flight"
	JobStateDone     = "done"
	JobStateRetrying = "retrying"
	JobStateDead     = "dead"
)

// Terminal reports whether the job can never run again. A terminal row's
// idempotency key may be recycled by a later enqueue.
func (j *Job) Terminal() bool {
	return j.State == JobStateDone || j.State == JobStateDead
}
