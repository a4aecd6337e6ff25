package queue

import (
	"fmt"
	"time"

	"github.com/postwing/engine/internal/models"
)

const (
	TaskTypePublish      = "post:publish"
	TaskTypeFetchMetrics = "analytics:fetch"
	TaskTypeRefreshToken = "token:refresh"
)

type PublishPayload struct {
	TargetID int64 `json:"target_id"`
}

type FetchMetricsPayload struct {
	TargetID int64 `json:"target_id"`
}

type RefreshTokenPayload struct {
	AccountID int64 `json:"account_id"`
}

// JobKindFor maps an asynq task type to the job ledger kind.
func JobKindFor(taskType string) string {
	switch taskType {
	case TaskTypePublish:
		return models.JobKindPublish
	case TaskTypeFetchMetrics:
		return models.JobKindFetchMetrics
	case TaskTypeRefreshToken:
		return models.JobKindRefreshToken
	default:
		return taskType
	}
}

// TaskTypeFor is the inverse of JobKindFor, used when a ledger row is pushed
// back onto the queue.
func TaskTypeFor(kind string) string {
	switch kind {
	case models.JobKindPublish:
		return TaskTypePublish
	case models.JobKindFetchMetrics:
		return TaskTypeFetchMetrics
	case models.JobKindRefreshToken:
		return TaskTypeRefreshToken
	default:
		return kind
	}
}

// PublishKey is stable per target: one publish unit of work per target, ever,
// until the job completes or dead-letters.
func PublishKey(targetID int64) string {
	return fmt.Sprintf("publish:%d", targetID)
}

// RefreshKey includes the expiry instant so each expiry window enqueues
// exactly once, however many reconciler ticks observe it.
func RefreshKey(accountID int64, expiresAt time.Time) string {
	return fmt.Sprintf("refresh:%d:%d", accountID, expiresAt.Unix())
}

// MetricsKey buckets fetches by hour (or day, once the post has aged past the
// decay window) so a slow fetch cannot be double-enqueued within its bucket.
func MetricsKey(targetID int64, bucket string) string {
	return fmt.Sprintf("metrics:%d:%s", targetID, bucket)
}

func MetricsBucket(now time.Time, daily bool) string {
	if daily {
		return now.UTC().Format("2006-01-02")
	}
	return now.UTC().Format("2006-01-02T15")
}
