package models

import "time"

// AnalyticsSnapshot is an append-only capture of engagement metrics for a
// published target. Rows are never updated in place; trend analysis diffs
// successive snapshots.
type AnalyticsSnapshot struct {
	ID             int64     `db:"id" json:"id"`
	TargetID       int64     `db:"target_id" json:"target_id"`
	PlatformPostID string    `db:"platform_post_id" json:"platform_post_id"`
	Likes          int64     `db:"likes" json:"likes"`
	Shares         int64     `db:"shares" json:"shares"`
	Comments       int64     `db:"comments" json:"comments"`
	Impressions    int64     `db:"impressions" json:"impressions"`
	Reach          int64     `db:"reach" json:"reach"`
	Unreachable    bool      `db:"unreachable" json:"unreachable"`
	FetchedAt      time.Time `db:"fetched_at" json:"fetched_at"`
}
