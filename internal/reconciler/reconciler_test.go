package reconciler

import (
	"context"
	"encoding/json"
	"sort"
	"testing"
	"time"

	config "github.com/postwing/engine/configs"
	"github.com/postwing/engine/internal/models"
	"github.com/postwing/engine/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tickNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type stubPostRepo struct {
	posts map[int64]*models.ScheduledPost
}

func (r *stubPostRepo) GetByID(_ context.Context, id int64) (*models.ScheduledPost, error) {
	return r.posts[id], nil
}

func (r *stubPostRepo) ListDue(_ context.Context, now time.Time, limit int) ([]*models.ScheduledPost, error) {
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

func (r *stubPostRepo) UpdateStatus(_ context.Context, status string, postID int64) error {
	r.posts[postID].Status = status
	return nil
}

type stubTargetRepo struct {
	targets map[int64]*models.PlatformTarget
	nextID  int64
}

func (r *stubTargetRepo) GetByID(_ context.Context, id int64) (*models.PlatformTarget, error) {
	return r.targets[id], nil
}

func (r *stubTargetRepo) ListByPostID(_ context.Context, postID int64) ([]*models.PlatformTarget, error) {
	var out []*models.PlatformTarget
	for _, t := range r.targets {
		if t.PostID == postID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *stubTargetRepo) Ensure(_ context.Context, postID, accountID int64, platformName, dedupeToken string) (int64, error) {
	for _, t := range r.targets {
		if t.PostID == postID && t.AccountID == accountID {
			return t.ID, nil
		}
	}
	r.nextID++
	r.targets[r.nextID] = &models.PlatformTarget{
		ID:          r.nextID,
		PostID:      postID,
		AccountID:   accountID,
		Platform:    platformName,
		Status:      models.TargetStatusPending,
		DedupeToken: dedupeToken,
	}
	return r.nextID, nil
}

func (r *stubTargetRepo) SetPublishing(_ context.Context, id int64) error { return nil }

func (r *stubTargetRepo) MarkPublished(_ context.Context, id int64, platformPostID string, publishedAt time.Time) error {
	return nil
}

func (r *stubTargetRepo) MarkFailed(_ context.Context, id int64, lastError string) error { return nil }

func (r *stubTargetRepo) RecordAttempt(_ context.Context, id int64, lastError string, nextAttemptAt time.Time) error {
	return nil
}

func (r *stubTargetRepo) MarkUnreachable(_ context.Context, id int64) error { return nil }

func (r *stubTargetRepo) ListStaleMetrics(_ context.Context, now time.Time, fresh, freshOld, decayAge time.Duration, limit int) ([]*models.PlatformTarget, error) {
	var out []*models.PlatformTarget
	for _, t := range r.targets {
		if t.Status == models.TargetStatusPublished && !t.Unreachable {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type stubAccountRepo struct {
	accounts map[int64]*models.ConnectedAccount
}

func (r *stubAccountRepo) GetByID(_ context.Context, id int64) (*models.ConnectedAccount, error) {
	return r.accounts[id], nil
}

func (r *stubAccountRepo) ListExpiring(_ context.Context, until time.Time) ([]*models.ConnectedAccount, error) {
	var out []*models.ConnectedAccount
	for _, a := range r.accounts {
		if a.Status == models.AccountStatusActive && !a.TokenExpiresAt.After(until) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *stubAccountRepo) SetToken(_ context.Context, id int64, accessToken, refreshToken string, expiresAt time.Time) error {
	return nil
}

func (r *stubAccountRepo) SetStatus(_ context.Context, id int64, status string) error { return nil }

func (r *stubAccountRepo) IncrementReauth(_ context.Context, id int64) (int, error) { return 0, nil }

type stubPostAccountRepo struct {
	byPost map[int64][]int64
}

func (r *stubPostAccountRepo) ListAccountIDs(_ context.Context, postID int64) ([]int64, error) {
	return r.byPost[postID], nil
}

type stubJobRepo struct {
	stranded []*models.Job
}

func (r *stubJobRepo) Enqueue(_ context.Context, job *models.Job) (bool, error) { return true, nil }

func (r *stubJobRepo) GetByKey(_ context.Context, key string) (*models.Job, error) {
	return nil, nil
}

func (r *stubJobRepo) MarkInFlight(_ context.Context, key string) error { return nil }

func (r *stubJobRepo) MarkDone(_ context.Context, key string) error { return nil }

func (r *stubJobRepo) MarkRetrying(_ context.Context, key string, visibleAt time.Time, lastError string) error {
	return nil
}

func (r *stubJobRepo) MarkDead(_ context.Context, key string, lastError string) error { return nil }

func (r *stubJobRepo) ListStranded(_ context.Context, cutoff time.Time, limit int) ([]*models.Job, error) {
	var out []*models.Job
	for _, job := range r.stranded {
		if !job.UpdatedAt.After(cutoff) {
			out = append(out, job)
		}
	}
	return out, nil
}

func (r *stubJobRepo) CountByKindAndState(_ context.Context) (map[string]map[string]int, error) {
	return nil, nil
}

type fixture struct {
	posts     *stubPostRepo
	targets   *stubTargetRepo
	accounts  *stubAccountRepo
	postAccs  *stubPostAccountRepo
	jobs      *stubJobRepo
	transport *queue.MemoryTransport
	rec       *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		posts:     &stubPostRepo{posts: make(map[int64]*models.ScheduledPost)},
		targets:   &stubTargetRepo{targets: make(map[int64]*models.PlatformTarget)},
		accounts:  &stubAccountRepo{accounts: make(map[int64]*models.ConnectedAccount)},
		postAccs:  &stubPostAccountRepo{byPost: make(map[int64][]int64)},
		jobs:      &stubJobRepo{},
		transport: queue.NewMemoryTransport(),
	}
	cfg := config.Reconciler{
		TickInterval:    30 * time.Second,
		TokenLeadWindow: time.Hour,
		MetricsFresh:    time.Hour,
		MetricsFreshOld: 24 * time.Hour,
		MetricsDecayAge: 7 * 24 * time.Hour,
		StrandedAfter:   5 * time.Minute,
		BatchSize:       100,
	}
	f.rec = New(cfg, f.posts, f.targets, f.accounts, f.postAccs, f.jobs, f.transport)
	f.rec.now = func() time.Time { return tickNow }
	return f
}

func (f *fixture) tasksOfType(taskType string) []queue.Task {
	var out []queue.Task
	for _, task := range f.transport.Tasks() {
		if task.Type == taskType {
			out = append(out, task)
		}
	}
	return out
}

func TestTickFansOutDuePostAcrossAccounts(t *testing.T) {
	f := newFixture(t)
	f.posts.posts[1] = &models.ScheduledPost{ID: 1, Status: models.PostStatusScheduled, ScheduledTime: tickNow.Add(-time.Minute)}
	f.postAccs.byPost[1] = []int64{5, 6}
	f.accounts.accounts[5] = &models.ConnectedAccount{ID: 5, Platform: "tiktok", Status: models.AccountStatusActive, TokenExpiresAt: tickNow.Add(48 * time.Hour)}
	f.accounts.accounts[6] = &models.ConnectedAccount{ID: 6, Platform: "instagram", Status: models.AccountStatusActive, TokenExpiresAt: tickNow.Add(48 * time.Hour)}

	f.rec.Tick()

	tasks := f.tasksOfType(queue.TaskTypePublish)
	require.Len(t, tasks, 2)
	assert.Len(t, f.targets.targets, 2)
	assert.Equal(t, models.PostStatusPublishing, f.posts.posts[1].Status)

	// Every target got its own dedupe token.
	tokens := make(map[string]bool)
	for _, target := range f.targets.targets {
		require.NotEmpty(t, target.DedupeToken)
		tokens[target.DedupeToken] = true
	}
	assert.Len(t, tokens, 2)
}

func TestTickIgnoresFuturePosts(t *testing.T) {
	f := newFixture(t)
	f.posts.posts[1] = &models.ScheduledPost{ID: 1, Status: models.PostStatusScheduled, ScheduledTime: tickNow.Add(time.Hour)}
	f.postAccs.byPost[1] = []int64{5}

	f.rec.Tick()

	assert.Empty(t, f.transport.Tasks())
	assert.Equal(t, models.PostStatusScheduled, f.posts.posts[1].Status)
}

func TestRepeatedTicksDoNotDuplicatePublishJobs(t *testing.T) {
	f := newFixture(t)
	f.posts.posts[1] = &models.ScheduledPost{ID: 1, Status: models.PostStatusScheduled, ScheduledTime: tickNow.Add(-time.Minute)}
	f.postAccs.byPost[1] = []int64{5}
	f.accounts.accounts[5] = &models.ConnectedAccount{ID: 5, Platform: "tiktok", Status: models.AccountStatusActive, TokenExpiresAt: tickNow.Add(48 * time.Hour)}

	f.rec.Tick()

	// A competing instance sees the post before the status flip lands.
	f.posts.posts[1].Status = models.PostStatusScheduled
	f.rec.Tick()

	assert.Len(t, f.tasksOfType(queue.TaskTypePublish), 1)
	assert.Len(t, f.targets.targets, 1)
}

func TestTickEnqueuesOneRefreshPerExpiryWindow(t *testing.T) {
	f := newFixture(t)
	f.accounts.accounts[5] = &models.ConnectedAccount{ID: 5, Platform: "tiktok", Status: models.AccountStatusActive, TokenExpiresAt: tickNow.Add(30 * time.Minute)}

	f.rec.Tick()
	f.rec.Tick()

	tasks := f.tasksOfType(queue.TaskTypeRefreshToken)
	require.Len(t, tasks, 1)
	assert.Equal(t, queue.RefreshKey(5, tickNow.Add(30*time.Minute)), tasks[0].IdempotencyKey)

	// A new expiry after a successful refresh opens a new window.
	f.accounts.accounts[5].TokenExpiresAt = tickNow.Add(45 * time.Minute)
	f.rec.Tick()
	assert.Len(t, f.tasksOfType(queue.TaskTypeRefreshToken), 2)
}

func TestTickSkipsAccountsOutsideLeadWindow(t *testing.T) {
	f := newFixture(t)
	f.accounts.accounts[5] = &models.ConnectedAccount{ID: 5, Platform: "tiktok", Status: models.AccountStatusActive, TokenExpiresAt: tickNow.Add(48 * time.Hour)}
	f.accounts.accounts[6] = &models.ConnectedAccount{ID: 6, Platform: "youtube", Status: models.AccountStatusNeedsReauth, TokenExpiresAt: tickNow.Add(10 * time.Minute)}

	f.rec.Tick()

	assert.Empty(t, f.tasksOfType(queue.TaskTypeRefreshToken))
}

func TestTickEnqueuesOneMetricsFetchPerBucket(t *testing.T) {
	f := newFixture(t)
	publishedAt := tickNow.Add(-2 * time.Hour)
	f.targets.targets[10] = &models.PlatformTarget{
		ID: 10, PostID: 1, AccountID: 5, Platform: "tiktok",
		Status: models.TargetStatusPublished, PlatformPostID: "tt-100", PublishedAt: &publishedAt,
	}

	f.rec.Tick()
	f.rec.Tick()

	tasks := f.tasksOfType(queue.TaskTypeFetchMetrics)
	require.Len(t, tasks, 1)
	assert.Equal(t, queue.MetricsKey(10, queue.MetricsBucket(tickNow, false)), tasks[0].IdempotencyKey)
}

func TestTickRequeuesStrandedJobs(t *testing.T) {
	f := newFixture(t)
	payload, err := json.Marshal(queue.PublishPayload{TargetID: 7})
	require.NoError(t, err)

	// A ledger row inserted before a crash or redis failure, never delivered.
	f.jobs.stranded = []*models.Job{{
		ID:             "job-1",
		Kind:           models.JobKindPublish,
		Payload:        payload,
		IdempotencyKey: queue.PublishKey(7),
		State:          models.JobStateQueued,
		VisibleAt:      tickNow.Add(-10 * time.Minute),
		UpdatedAt:      tickNow.Add(-10 * time.Minute),
	}}

	f.rec.Tick()

	tasks := f.tasksOfType(queue.TaskTypePublish)
	require.Len(t, tasks, 1)
	assert.Equal(t, queue.PublishKey(7), tasks[0].IdempotencyKey)

	// The key is live now, so further ticks do not deliver it again.
	f.rec.Tick()
	assert.Len(t, f.tasksOfType(queue.TaskTypePublish), 1)
}

func TestTickLeavesFreshQueuedRowsAlone(t *testing.T) {
	f := newFixture(t)
	payload, err := json.Marshal(queue.PublishPayload{TargetID: 7})
	require.NoError(t, err)

	// Inside the grace window the worker may simply not have picked it up yet.
	f.jobs.stranded = []*models.Job{{
		ID:             "job-1",
		Kind:           models.JobKindPublish,
		Payload:        payload,
		IdempotencyKey: queue.PublishKey(7),
		State:          models.JobStateQueued,
		VisibleAt:      tickNow,
		UpdatedAt:      tickNow.Add(-time.Minute),
	}}

	f.rec.Tick()

	assert.Empty(t, f.tasksOfType(queue.TaskTypePublish))
}

func TestTickUsesDailyBucketForOldPosts(t *testing.T) {
	f := newFixture(t)
	publishedAt := tickNow.Add(-10 * 24 * time.Hour)
	f.targets.targets[10] = &models.PlatformTarget{
		ID: 10, PostID: 1, AccountID: 5, Platform: "tiktok",
		Status: models.TargetStatusPublished, PlatformPostID: "tt-100", PublishedAt: &publishedAt,
	}

	f.rec.Tick()

	tasks := f.tasksOfType(queue.TaskTypeFetchMetrics)
	require.Len(t, tasks, 1)
	assert.Equal(t, queue.MetricsKey(10, queue.MetricsBucket(tickNow, true)), tasks[0].IdempotencyKey)
}
