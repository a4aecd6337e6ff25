package models

import "time"

type ScheduledPost struct {
	ID             int64     `db:"id" json:"id"`
	OrganizationID int64     `db:"organization_id" json:"organization_id"`
	PostType       string    `db:"post_type" json:"post_type"`
	Caption        string    `db:"caption" json:"caption"`
	Title          string    `db:"title" json:"title"`
	ScheduledTime  time.Time `db:"scheduled_time" json:"scheduled_time"`
	Status         string    `db:"status" json:"status"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

const (
	PostStatusDraft              = "draft"
	PostStatusScheduled          = "scheduled"
	PostStatusPublishing         = "publishing"
	PostStatusPartiallyPublished = "partially_published"
	PostStatusPublished          = "published"
	PostStatusFailed             = "failed"
	PostStatusCanceled           = "canceled"
)

type MediaAsset struct {
	ID           int64     `db:"id"`
	OrgID        int64     `db:"organization_id"`
	FileName     string    `db:"file_name"`
	FileType     string    `db:"file_type"`
	FileSize     int64     `db:"file_size"`
	FileURL      string    `db:"file_url"`
	ThumbnailURL string    `db:"thumbnail_url"`
	CreatedAt    time.Time `db:"created_at"`
}

type PostMedia struct {
	PostID       int64     `db:"post_id"`
	AssetID      int64     `db:"asset_id"`
	DisplayOrder int       `db:"display_order"`
	CreatedAt    time.Time `db:"created_at"`
}
