package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/lib/pq"
	"github.com/maheshrc27/postpilot/internal/models"
)

// ErrDuplicateReply means the (target, comment) pair is already in the ledger:
// another poller run got there first, or the reply was already sent.
var ErrDuplicateReply = errors.New("reply already recorded for this comment")

// CommentReplyRepository is the dedup ledger. Insert must be performed before
// the outbound reply call; the unique constraint on (target_id, comment_id) is
// the concurrency primitive that prevents double replies across overlapping
// poller runs.
type CommentReplyRepository interface {
	Insert(ctx context.Context, targetID int64, commentID string) error
	Delete(ctx context.Context, targetID int64, commentID string) error
	ListByTargetID(ctx context.Context, targetID int64) ([]*models.CommentReply, error)
}

type commentReplyRepository struct {
	db *sql.DB
}

func NewCommentReplyRepository(db *sql.DB) CommentReplyRepository {
	return &commentReplyRepository{db: db}
}

const uniqueViolation = "23505"

func (r *commentReplyRepository) Insert(ctx context.Context, targetID int64, commentID string) error {
	query := `INSERT INTO comment_replies (target_id, comment_id) VALUES ($1, $2)`
	_, err := r.db.ExecContext(ctx, query, targetID, commentID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateReply
		}
		slog.Info(err.Error())
		return err
	}
	return nil
}

// Delete releases a ledger row after a failed send so a later run can retry.
func (r *commentReplyRepository) Delete(ctx context.Context, targetID int64, commentID string) error {
	query := `DELETE FROM comment_replies WHERE target_id = $1 AND comment_id = $2`
	_, err := r.db.ExecContext(ctx, query, targetID, commentID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *commentReplyRepository) ListByTargetID(ctx context.Context, targetID int64) ([]*models.CommentReply, error) {
	query := `SELECT id, target_id, comment_id, replied_at FROM comment_replies WHERE target_id = $1`
	rows, err := r.db.QueryContext(ctx, query, targetID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var replies []*models.CommentReply
	for rows.Next() {
		var reply models.CommentReply
		if err := rows.Scan(&reply.ID, &reply.TargetID, &reply.CommentID, &reply.RepliedAt); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		replies = append(replies, &reply)
	}
	return replies, rows.Err()
}
