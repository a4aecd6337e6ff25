package models

import "time"

// PlatformTarget is the per-platform delivery unit of a ScheduledPost. One
// row per (post, connected account) pair; the publish worker is its only
// writer after the reconciler creates it.
type PlatformTarget struct {
	ID             int64      `db:"id" json:"id"`
	PostID         int64      `db:"post_id" json:"post_id"`
	AccountID      int64      `db:"account_id" json:"account_id"`
	Platform       string     `db:"platform" json:"platform"`
	Status         string     `db:"status" json:"status"`
	PlatformPostID string     `db:"platform_post_id" json:"platform_post_id"`
	DedupeToken    string     `db:"dedupe_token" json:"-"`
	LastError      string     `db:"last_error" json:"last_error"`
	Attempts       int        `db:"attempts" json:"attempts"`
	NextAttemptAt  *time.Time `db:"next_attempt_at" json:"next_attempt_at"`
	PublishedAt    *time.Time `db:"published_at" json:"published_at"`
	Unreachable    bool       `db:"unreachable" json:"unreachable"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

const (
	TargetStatusPending    = "pending"
	TargetStatusPublishing = "publishing"
	TargetStatusPublished  = "published"
	TargetStatusFailed     = "failed"
)

// DerivePostStatus folds a post's targets into the aggregate status. The
// stored post status must always equal this fold; callers recompute it after
// every terminal target transition instead of mutating incrementally.
func DerivePostStatus(targets []*PlatformTarget) string {
	if len(targets) == 0 {
		return PostStatusPublishing
	}

	published := 0
	failed := 0
	for _, t := range targets {
		switch t.Status {
		case TargetStatusPublished:
			published++
		case TargetStatusFailed:
			failed++
		}
	}

	switch {
	case published == len(targets):
		return PostStatusPublished
	case failed == len(targets):
		return PostStatusFailed
	case published > 0 && published+failed == len(targets):
		return PostStatusPartiallyPublished
	default:
		return PostStatusPublishing
	}
}
