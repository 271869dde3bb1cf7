package models

import (
	"database/sql"
	"time"
)

// PostTarget is one (platform, connected account) delivery of a post.
type PostTarget struct {
	ID              int64          `db:"id" json:"id"`
	PostID          int64          `db:"post_id" json:"post_id"`
	AccountID       int64          `db:"account_id" json:"account_id"`
	Platform        string         `db:"platform" json:"platform"`
	Status          string         `db:"status" json:"status"`
	PlatformPostID  string         `db:"platform_post_id" json:"platform_post_id"`
	CaptionOverride sql.NullString `db:"caption_override" json:"-"`
	MediaSkipped    bool           `db:"media_skipped" json:"media_skipped"`
	ErrorMessage    string         `db:"error_message" json:"error_message"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// EffectiveCaption resolves the per-platform override against the post default.
func (t *PostTarget) EffectiveCaption(post *Post) string {
	if t.CaptionOverride.Valid && t.CaptionOverride.String != "" {
		return t.CaptionOverride.String
	}
	return post.Caption
}

const (
	PlatformInstagram = "instagram"
	PlatformFacebook  = "facebook"
	PlatformTiktok    = "tiktok"
	PlatformYoutube   = "youtube"
	PlatformTwitter   = "twitter"
	PlatformLinkedin  = "linkedin"
)
