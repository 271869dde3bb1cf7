package models

import (
	"time"

	"github.com/lib/pq"
)

type Post struct {
	ID            int64             `db:"id" json:"id"`
	UserID        int64             `db:"user_id" json:"user_id"`
	Caption       string            `db:"caption" json:"caption"`
	Title         string            `db:"title" json:"title"`
	ScheduledAt   *time.Time        `db:"scheduled_at" json:"scheduled_at"`
	DeliveryMode  string            `db:"delivery_mode" json:"delivery_mode"` // auto, notify
	Status        string            `db:"status" json:"status"`
	ClaimedAt     *time.Time        `db:"claimed_at" json:"-"`
	NotifiedAt    *time.Time        `db:"notified_at" json:"notified_at"`
	PostedAt      *time.Time        `db:"posted_at" json:"posted_at"`
	Keywords      pq.StringArray    `db:"keywords" json:"keywords"`
	ReplyPrivate  bool              `db:"reply_private" json:"reply_private"`
	ReplyTemplate map[string]string `db:"reply_templates" json:"reply_templates"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at" json:"updated_at"`
}

// HasAutomation reports whether the comment poller should watch this post.
func (p *Post) HasAutomation() bool {
	return len(p.Keywords) > 0 && len(p.ReplyTemplate) > 0
}

type MediaAsset struct {
	ID           int64     `db:"id"`
	UserID       int64     `db:"user_id"`
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
	Platform     string    `db:"platform"` // empty = default media set
	DisplayOrder int       `db:"display_order"`
	CreatedAt    time.Time `db:"created_at"`
}

// MediaItem is the resolved form handed to the platform adapters.
type MediaItem struct {
	URL  string `json:"url"`
	Kind string `json:"kind"` // image, video
}

const (
	MediaKindImage = "image"
	MediaKindVideo = "video"
)

const (
	PostStatusDraft     = "draft"
	PostStatusScheduled = "scheduled"
	PostStatusPosting   = "posting"
	PostStatusPosted    = "posted"
	PostStatusFailed    = "failed"
)

const (
	DeliveryModeAuto   = "auto"
	DeliveryModeNotify = "notify"
)
