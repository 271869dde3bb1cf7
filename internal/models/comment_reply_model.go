package models

import "time"

// CommentReply is the dedup ledger for keyword auto-replies. A row existing
// for (target_id, comment_id) means the reply was sent, or is being sent right
// now; the row is inserted before the outbound call and removed if that call
// fails.
type CommentReply struct {
	ID        int64     `db:"id"`
	TargetID  int64     `db:"target_id"`
	CommentID string    `db:"comment_id"`
	RepliedAt time.Time `db:"replied_at"`
}
