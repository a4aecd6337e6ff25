// Package platform holds the adapters that talk to external social networks.
// Every adapter call is context-bounded and every failure is classified into
// the PlatformError taxonomy before it reaches a processor.
package platform

import (
	"context"
	"time"

	"github.com/postwing/engine/internal/models"
)

type MetricSet struct {
	Likes       int64
	Shares      int64
	Comments    int64
	Impressions int64
	Reach       int64
}

type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// PublishRequest carries everything an adapter needs to deliver one target.
// DedupeToken is a stable per-target token passed to platforms that accept a
// client-supplied idempotency token, narrowing the duplicate-publish window
// under at-least-once redelivery.
type PublishRequest struct {
	Post        *models.ScheduledPost
	Media       []*models.MediaAsset
	DedupeToken string
}

type Adapter interface {
	Name() string
	Publish(ctx context.Context, account *models.ConnectedAccount, req *PublishRequest) (string, error)
	FetchMetrics(ctx context.Context, account *models.ConnectedAccount, platformPostID string) (*MetricSet, error)
	RefreshToken(ctx context.Context, account *models.ConnectedAccount) (*Credentials, error)
}

// Registry maps platform names to adapters.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}
