package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/maheshrc27/postpilot/internal/models"
)

type PostTargetRepository interface {
	Create(ctx context.Context, tx *sql.Tx, target *models.PostTarget) (int64, error)
	ListByPostID(ctx context.Context, postID int64) ([]*models.PostTarget, error)
	ListPostedWithPlatformID(ctx context.Context, postID int64) ([]*models.PostTarget, error)
	MarkPosted(ctx context.Context, targetID int64, platformPostID string, mediaSkipped bool) error
	MarkFailed(ctx context.Context, targetID int64, errorMessage string) error
	SetCaptionOverride(ctx context.Context, targetID int64, caption string) error
}

type postTargetRepository struct {
	db *sql.DB
}

func NewPostTargetRepository(db *sql.DB) PostTargetRepository {
	return &postTargetRepository{db: db}
}

const targetColumns = `id, post_id, account_id, platform, status, platform_post_id, caption_override, media_skipped, error_message, created_at, updated_at`

func scanTarget(row interface{ Scan(...interface{}) error }) (*models.PostTarget, error) {
	var t models.PostTarget
	err := row.Scan(&t.ID, &t.PostID, &t.AccountID, &t.Platform, &t.Status, &t.PlatformPostID,
		&t.CaptionOverride, &t.MediaSkipped, &t.ErrorMessage, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *postTargetRepository) Create(ctx context.Context, tx *sql.Tx, target *models.PostTarget) (int64, error) {
	query := `
		INSERT INTO post_targets (post_id, account_id, platform, status, caption_override)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	var id int64
	var err error
	args := []interface{}{target.PostID, target.AccountID, target.Platform, target.Status, target.CaptionOverride}

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

// ListByPostID returns targets in stored order, which is also publish order.
func (r *postTargetRepository) ListByPostID(ctx context.Context, postID int64) ([]*models.PostTarget, error) {
	query := `SELECT ` + targetColumns + ` FROM post_targets WHERE post_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, postID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var targets []*models.PostTarget
	for rows.Next() {
		target, err := scanTarget(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, rows.Err()
}

func (r *postTargetRepository) ListPostedWithPlatformID(ctx context.Context, postID int64) ([]*models.PostTarget, error) {
	query := `
		SELECT ` + targetColumns + `
		FROM post_targets
		WHERE post_id = $1 AND status = $2 AND platform_post_id <> ''
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, postID, models.PostStatusPosted)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var targets []*models.PostTarget
	for rows.Next() {
		target, err := scanTarget(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, rows.Err()
}

func (r *postTargetRepository) MarkPosted(ctx context.Context, targetID int64, platformPostID string, mediaSkipped bool) error {
	query := `
		UPDATE post_targets
		SET status = $1, platform_post_id = $2, media_skipped = $3, error_message = '', updated_at = $4
		WHERE id = $5
	`
	_, err := r.db.ExecContext(ctx, query, models.PostStatusPosted, platformPostID, mediaSkipped, time.Now(), targetID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *postTargetRepository) MarkFailed(ctx context.Context, targetID int64, errorMessage string) error {
	query := `
		UPDATE post_targets
		SET status = $1, error_message = $2, updated_at = $3
		WHERE id = $4
	`
	_, err := r.db.ExecContext(ctx, query, models.PostStatusFailed, errorMessage, time.Now(), targetID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *postTargetRepository) SetCaptionOverride(ctx context.Context, targetID int64, caption string) error {
	query := `UPDATE post_targets SET caption_override = $1, updated_at = $2 WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, caption, time.Now(), targetID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
