package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/postwing/engine/internal/models"
	"github.com/postwing/engine/internal/platform"
	"github.com/postwing/engine/internal/service"
)

// In-memory doubles for the repository and adapter seams. They keep the
// processors testable as pure state transitions without postgres or redis.

type fakePostRepo struct {
	posts map[int64]*models.ScheduledPost
}

func newFakePostRepo(posts ...*models.ScheduledPost) *fakePostRepo {
	r := &fakePostRepo{posts: make(map[int64]*models.ScheduledPost)}
	for _, p := range posts {
		r.posts[p.ID] = p
	}
	return r
}

func (r *fakePostRepo) GetByID(_ context.Context, id int64) (*models.ScheduledPost, error) {
	return r.posts[id], nil
}

func (r *fakePostRepo) ListDue(_ context.Context, now time.Time, limit int) ([]*models.ScheduledPost, error) {
	var due []*models.ScheduledPost
	for _, p := range r.posts {
		if p.Status == models.PostStatusScheduled && !p.ScheduledTime.After(now) {
			due = append(due, p)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *fakePostRepo) UpdateStatus(_ context.Context, status string, postID int64) error {
	if p, ok := r.posts[postID]; ok {
		p.Status = status
	}
	return nil
}

type fakeTargetRepo struct {
	targets map[int64]*models.PlatformTarget
	nextID  int64
}

func newFakeTargetRepo(targets ...*models.PlatformTarget) *fakeTargetRepo {
	r := &fakeTargetRepo{targets: make(map[int64]*models.PlatformTarget), nextID: 1}
	for _, t := range targets {
		r.targets[t.ID] = t
		if t.ID >= r.nextID {
			r.nextID = t.ID + 1
		}
	}
	return r
}

func (r *fakeTargetRepo) GetByID(_ context.Context, id int64) (*models.PlatformTarget, error) {
	return r.targets[id], nil
}

func (r *fakeTargetRepo) ListByPostID(_ context.Context, postID int64) ([]*models.PlatformTarget, error) {
	var out []*models.PlatformTarget
	for _, t := range r.targets {
		if t.PostID == postID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeTargetRepo) Ensure(_ context.Context, postID, accountID int64, platformName, dedupeToken string) (int64, error) {
	for _, t := range r.targets {
		if t.PostID == postID && t.AccountID == accountID {
			return t.ID, nil
		}
	}
	id := r.nextID
	r.nextID++
	r.targets[id] = &models.PlatformTarget{
		ID:          id,
		PostID:      postID,
		AccountID:   accountID,
		Platform:    platformName,
		Status:      models.TargetStatusPending,
		DedupeToken: dedupeToken,
	}
	return id, nil
}

func (r *fakeTargetRepo) SetPublishing(_ context.Context, id int64) error {
	r.targets[id].Status = models.TargetStatusPublishing
	return nil
}

func (r *fakeTargetRepo) MarkPublished(_ context.Context, id int64, platformPostID string, publishedAt time.Time) error {
	t := r.targets[id]
	t.Status = models.TargetStatusPublished
	t.PlatformPostID = platformPostID
	t.PublishedAt = &publishedAt
	t.LastError = ""
	return nil
}

func (r *fakeTargetRepo) MarkFailed(_ context.Context, id int64, lastError string) error {
	t := r.targets[id]
	t.Status = models.TargetStatusFailed
	t.LastError = lastError
	return nil
}

func (r *fakeTargetRepo) RecordAttempt(_ context.Context, id int64, lastError string, nextAttemptAt time.Time) error {
	t := r.targets[id]
	t.Attempts++
	t.LastError = lastError
	t.NextAttemptAt = &nextAttemptAt
	return nil
}

func (r *fakeTargetRepo) MarkUnreachable(_ context.Context, id int64) error {
	r.targets[id].Unreachable = true
	return nil
}

func (r *fakeTargetRepo) ListStaleMetrics(_ context.Context, now time.Time, fresh, freshOld, decayAge time.Duration, limit int) ([]*models.PlatformTarget, error) {
	var out []*models.PlatformTarget
	for _, t := range r.targets {
		if t.Status == models.TargetStatusPublished && !t.Unreachable {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fakeAccountRepo struct {
	accounts map[int64]*models.ConnectedAccount
}

func newFakeAccountRepo(accounts ...*models.ConnectedAccount) *fakeAccountRepo {
	r := &fakeAccountRepo{accounts: make(map[int64]*models.ConnectedAccount)}
	for _, a := range accounts {
		r.accounts[a.ID] = a
	}
	return r
}

func (r *fakeAccountRepo) GetByID(_ context.Context, id int64) (*models.ConnectedAccount, error) {
	return r.accounts[id], nil
}

func (r *fakeAccountRepo) ListExpiring(_ context.Context, until time.Time) ([]*models.ConnectedAccount, error) {
	var out []*models.ConnectedAccount
	for _, a := range r.accounts {
		if a.Status == models.AccountStatusActive && !a.TokenExpiresAt.After(until) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeAccountRepo) SetToken(_ context.Context, id int64, accessToken, refreshToken string, expiresAt time.Time) error {
	a := r.accounts[id]
	a.AccessToken = accessToken
	if refreshToken != "" {
		a.RefreshToken = refreshToken
	}
	a.TokenExpiresAt = expiresAt
	a.Status = models.AccountStatusActive
	a.ReauthCount = 0
	return nil
}

func (r *fakeAccountRepo) SetStatus(_ context.Context, id int64, status string) error {
	r.accounts[id].Status = status
	return nil
}

func (r *fakeAccountRepo) IncrementReauth(_ context.Context, id int64) (int, error) {
	r.accounts[id].ReauthCount++
	return r.accounts[id].ReauthCount, nil
}

type fakeAnalyticsRepo struct {
	snapshots []*models.AnalyticsSnapshot
}

func (r *fakeAnalyticsRepo) Create(_ context.Context, snapshot *models.AnalyticsSnapshot) (int64, error) {
	snapshot.ID = int64(len(r.snapshots) + 1)
	r.snapshots = append(r.snapshots, snapshot)
	return snapshot.ID, nil
}

// fakeJobRepo tracks ledger rows by idempotency key.
type fakeJobRepo struct {
	jobs map[string]*models.Job
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[string]*models.Job)}
}

func (r *fakeJobRepo) get(key string) *models.Job {
	if _, ok := r.jobs[key]; !ok {
		r.jobs[key] = &models.Job{IdempotencyKey: key, State: models.JobStateQueued}
	}
	return r.jobs[key]
}

func (r *fakeJobRepo) Enqueue(_ context.Context, job *models.Job) (bool, error) {
	if existing, ok := r.jobs[job.IdempotencyKey]; ok && !existing.Terminal() {
		return false, nil
	}
	r.jobs[job.IdempotencyKey] = job
	job.State = models.JobStateQueued
	return true, nil
}

func (r *fakeJobRepo) GetByKey(_ context.Context, key string) (*models.Job, error) {
	return r.jobs[key], nil
}

func (r *fakeJobRepo) MarkInFlight(_ context.Context, key string) error {
	job := r.get(key)
	job.State = models.JobStateInFlight
	job.Attempts++
	return nil
}

func (r *fakeJobRepo) MarkDone(_ context.Context, key string) error {
	r.get(key).State = models.JobStateDone
	return nil
}

func (r *fakeJobRepo) MarkRetrying(_ context.Context, key string, visibleAt time.Time, lastError string) error {
	job := r.get(key)
	job.State = models.JobStateRetrying
	job.VisibleAt = visibleAt
	job.LastError = lastError
	return nil
}

func (r *fakeJobRepo) MarkDead(_ context.Context, key string, lastError string) error {
	job := r.get(key)
	job.State = models.JobStateDead
	job.LastError = lastError
	return nil
}

func (r *fakeJobRepo) ListStranded(_ context.Context, cutoff time.Time, limit int) ([]*models.Job, error) {
	return nil, nil
}

func (r *fakeJobRepo) CountByKindAndState(_ context.Context) (map[string]map[string]int, error) {
	return nil, nil
}

type fakeMediaService struct {
	assets  map[int64][]*models.MediaAsset
	invalid map[int64]bool
}

func newFakeMediaService() *fakeMediaService {
	return &fakeMediaService{assets: make(map[int64][]*models.MediaAsset), invalid: make(map[int64]bool)}
}

func (s *fakeMediaService) ResolveForPost(_ context.Context, postID int64) ([]*models.MediaAsset, error) {
	return s.assets[postID], nil
}

func (s *fakeMediaService) Validate(_ context.Context, asset *models.MediaAsset) error {
	if s.invalid[asset.ID] {
		return fmt.Errorf("%w: %s", service.ErrUnsupportedMedia, asset.FileName)
	}
	return nil
}

func (s *fakeMediaService) Download(_ context.Context, asset *models.MediaAsset) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), nil
}

// fakeAdapter replays a scripted sequence of publish outcomes, then keeps
// returning the last one.
type fakeAdapter struct {
	name string

	publishIDs   []string
	publishErrs  []error
	publishCalls int

	metrics    *platform.MetricSet
	metricsErr error

	creds      *platform.Credentials
	refreshErr error
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) Publish(_ context.Context, _ *models.ConnectedAccount, _ *platform.PublishRequest) (string, error) {
	call := a.publishCalls
	a.publishCalls++

	if len(a.publishErrs) > 0 {
		i := call
		if i >= len(a.publishErrs) {
			i = len(a.publishErrs) - 1
		}
		if a.publishErrs[i] != nil {
			return "", a.publishErrs[i]
		}
	}
	if len(a.publishIDs) > 0 {
		i := call
		if i >= len(a.publishIDs) {
			i = len(a.publishIDs) - 1
		}
		return a.publishIDs[i], nil
	}
	return "", fmt.Errorf("fakeAdapter %s: no scripted publish outcome", a.name)
}

func (a *fakeAdapter) FetchMetrics(_ context.Context, _ *models.ConnectedAccount, _ string) (*platform.MetricSet, error) {
	if a.metricsErr != nil {
		return nil, a.metricsErr
	}
	return a.metrics, nil
}

func (a *fakeAdapter) RefreshToken(_ context.Context, _ *models.ConnectedAccount) (*platform.Credentials, error) {
	if a.refreshErr != nil {
		return nil, a.refreshErr
	}
	return a.creds, nil
}

type fakeLimiter struct {
	allow bool
}

func (l *fakeLimiter) Allow(_ context.Context, _ string) (bool, error) {
	return l.allow, nil
}
