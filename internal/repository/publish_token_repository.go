package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/maheshrc27/postpilot/internal/models"
)

type PublishTokenRepository interface {
	Create(ctx context.Context, postID int64, token string, expiresAt time.Time) error
	GetByToken(ctx context.Context, token string) (*models.PublishToken, error)
	MarkUsed(ctx context.Context, id int64) (bool, error)
}

type publishTokenRepository struct {
	db *sql.DB
}

func NewPublishTokenRepository(db *sql.DB) PublishTokenRepository {
	return &publishTokenRepository{db: db}
}

func (r *publishTokenRepository) Create(ctx context.Context, postID int64, token string, expiresAt time.Time) error {
	query := `INSERT INTO publish_tokens (post_id, token, expires_at) VALUES ($1, $2, $3)`
	_, err := r.db.ExecContext(ctx, query, postID, token, expiresAt)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *publishTokenRepository) GetByToken(ctx context.Context, token string) (*models.PublishToken, error) {
	query := `SELECT id, post_id, token, expires_at, used_at, created_at FROM publish_tokens WHERE token = $1`
	row := r.db.QueryRowContext(ctx, query, token)

	var t models.PublishToken
	err := row.Scan(&t.ID, &t.PostID, &t.Token, &t.ExpiresAt, &t.UsedAt, &t.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return &t, nil
}

// MarkUsed burns the token. The conditional update makes the one-time-use
// guarantee hold under concurrent publish calls with the same token.
func (r *publishTokenRepository) MarkUsed(ctx context.Context, id int64) (bool, error) {
	query := `UPDATE publish_tokens SET used_at = $1 WHERE id = $2 AND used_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, time.Now(), id)
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
