package models

import "time"

// PublishToken authorizes the notify-mode flow: reading one post, editing its
// per-platform captions and triggering a single publish. Single use, 7 days.
type PublishToken struct {
	ID        int64      `db:"id"`
	PostID    int64      `db:"post_id"`
	Token     string     `db:"token"`
	ExpiresAt time.Time  `db:"expires_at"`
	UsedAt    *time.Time `db:"used_at"`
	CreatedAt time.Time  `db:"created_at"`
}

func (t *PublishToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

func (t *PublishToken) Used() bool {
	return t.UsedAt != nil
}
