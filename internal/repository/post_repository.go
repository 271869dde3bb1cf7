package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/maheshrc27/postpilot/internal/models"
)

type PostRepository interface {
	Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Post, error)
	GetByUserID(ctx context.Context, userID int64) ([]*models.Post, error)
	CheckByUserID(ctx context.Context, postID, userID int64) (bool, error)
	UpdateStatus(ctx context.Context, status string, postID int64) error
	UpdateCaption(ctx context.Context, postID int64, caption string) error
	MarkPosted(ctx context.Context, postID int64) error
	MarkFailed(ctx context.Context, postID int64) error
	MarkNotified(ctx context.Context, postID int64) error
	ClaimForPublish(ctx context.Context, postID int64, staleBefore time.Time) (bool, error)
	ReleaseClaim(ctx context.Context, postID int64) error
	ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*models.Post, error)
	ListWithAutomation(ctx context.Context) ([]*models.Post, error)
	Remove(ctx context.Context, id int64) error
}

type postRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) PostRepository {
	return &postRepository{db: db}
}

const postColumns = `id, user_id, caption, title, scheduled_at, delivery_mode, status, claimed_at, notified_at, posted_at, keywords, reply_private, reply_templates, created_at, updated_at`

func scanPost(row interface{ Scan(...interface{}) error }) (*models.Post, error) {
	var post models.Post
	var templates []byte
	err := row.Scan(&post.ID, &post.UserID, &post.Caption, &post.Title, &post.ScheduledAt,
		&post.DeliveryMode, &post.Status, &post.ClaimedAt, &post.NotifiedAt, &post.PostedAt,
		&post.Keywords, &post.ReplyPrivate, &templates, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(templates) > 0 {
		if err := json.Unmarshal(templates, &post.ReplyTemplate); err != nil {
			return nil, err
		}
	}
	return &post, nil
}

func (r *postRepository) Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error) {
	query := `
		INSERT INTO posts (user_id, caption, title, scheduled_at, delivery_mode, status, keywords, reply_private, reply_templates)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	templates, err := json.Marshal(post.ReplyTemplate)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	var id int64
	args := []interface{}{post.UserID, post.Caption, post.Title, post.ScheduledAt,
		post.DeliveryMode, post.Status, pq.Array(post.Keywords), post.ReplyPrivate, templates}

	if tx != nil {
		err = tx.QueryRowContext(ctx, query, args...).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, args...).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *postRepository) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1`
	post, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return post, nil
}

func (r *postRepository) GetByUserID(ctx context.Context, userID int64) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

func (r *postRepository) CheckByUserID(ctx context.Context, postID, userID int64) (bool, error) {
	query := "SELECT 1 FROM posts WHERE id = $1 AND user_id = $2"

	var result int
	err := r.db.QueryRowContext(ctx, query, postID, userID).Scan(&result)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		slog.Info(err.Error())
		return false, err
	}

	return result == 1, nil
}

func (r *postRepository) UpdateStatus(ctx context.Context, status string, postID int64) error {
	query := `UPDATE posts SET status = $1, updated_at = $2 WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, status, time.Now(), postID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *postRepository) UpdateCaption(ctx context.Context, postID int64, caption string) error {
	query := `UPDATE posts SET caption = $1, updated_at = $2 WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, caption, time.Now(), postID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *postRepository) MarkPosted(ctx context.Context, postID int64) error {
	query := `
		UPDATE posts
		SET status = $1, posted_at = $2, claimed_at = NULL, updated_at = $2
		WHERE id = $3
	`
	_, err := r.db.ExecContext(ctx, query, models.PostStatusPosted, time.Now(), postID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *postRepository) MarkFailed(ctx context.Context, postID int64) error {
	query := `
		UPDATE posts
		SET status = $1, claimed_at = NULL, updated_at = $2
		WHERE id = $3
	`
	_, err := r.db.ExecContext(ctx, query, models.PostStatusFailed, time.Now(), postID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *postRepository) MarkNotified(ctx context.Context, postID int64) error {
	query := `UPDATE posts SET notified_at = $1, updated_at = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, time.Now(), postID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// ClaimForPublish is the soft lock both schedulers share. The conditional
// update succeeds for draft/scheduled posts and for posting posts whose claim
// went stale (publisher crashed mid-run); it fails for anything already
// claimed or terminal.
func (r *postRepository) ClaimForPublish(ctx context.Context, postID int64, staleBefore time.Time) (bool, error) {
	query := `
		UPDATE posts
		SET status = $1, claimed_at = $2, updated_at = $2
		WHERE id = $3
		  AND (status IN ($4, $5) OR (status = $1 AND claimed_at < $6))
	`
	result, err := r.db.ExecContext(ctx, query, models.PostStatusPosting, time.Now(), postID,
		models.PostStatusDraft, models.PostStatusScheduled, staleBefore)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return affected == 1, nil
}

// ReleaseClaim hands a posting post back to the scheduled pool so a later
// attempt can claim it again. The publisher calls it when every target
// failure was transient and nothing terminal should be recorded yet.
func (r *postRepository) ReleaseClaim(ctx context.Context, postID int64) error {
	query := `
		UPDATE posts
		SET status = $1, claimed_at = NULL, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	_, err := r.db.ExecContext(ctx, query, models.PostStatusScheduled, time.Now(), postID, models.PostStatusPosting)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// ListDue returns due scheduled posts, plus auto-mode posts stranded in
// posting by a crashed run once their claim has gone stale. The second group
// keeps sweep-only deployments from losing posts forever: ClaimForPublish can
// steal a stale claim, but only if something lists the post again.
func (r *postRepository) ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*models.Post, error) {
	query := `
		SELECT ` + postColumns + `
		FROM posts
		WHERE scheduled_at IS NOT NULL
		  AND scheduled_at <= $1
		  AND ((status = $2 AND (delivery_mode = $3 OR notified_at IS NULL))
		    OR (status = $4 AND delivery_mode = $3 AND claimed_at < $5))
		ORDER BY scheduled_at ASC
		LIMIT $6
	`
	rows, err := r.db.QueryContext(ctx, query, now, models.PostStatusScheduled,
		models.DeliveryModeAuto, models.PostStatusPosting, staleBefore, limit)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

func (r *postRepository) ListWithAutomation(ctx context.Context) ([]*models.Post, error) {
	query := `
		SELECT ` + postColumns + `
		FROM posts
		WHERE status = $1 AND array_length(keywords, 1) > 0
	`
	rows, err := r.db.QueryContext(ctx, query, models.PostStatusPosted)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

func (r *postRepository) Remove(ctx context.Context, id int64) error {
	query := `DELETE FROM posts WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
