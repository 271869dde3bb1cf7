package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"

	"github.com/maheshrc27/postpilot/internal/models"
)

type PostMediaRepository interface {
	Create(ctx context.Context, tx *sql.Tx, pm *models.PostMedia) error
	ListByPostID(ctx context.Context, postID int64) ([]*models.PostMedia, error)
	// EffectiveMedia resolves the media list an adapter should publish: the
	// rows tagged with the platform when any exist, otherwise the default set.
	EffectiveMedia(ctx context.Context, postID int64, platform string) ([]models.MediaItem, error)
	Remove(ctx context.Context, postID int64) error
}

type postMediaRepository struct {
	db *sql.DB
}

func NewPostMediaRepository(db *sql.DB) PostMediaRepository {
	return &postMediaRepository{db: db}
}

func (r *postMediaRepository) Create(ctx context.Context, tx *sql.Tx, pm *models.PostMedia) error {
	var err error

	query := `
		INSERT INTO post_media (post_id, asset_id, platform, display_order)
		VALUES ($1, $2, $3, $4)
	`
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, pm.PostID, pm.AssetID, pm.Platform, pm.DisplayOrder)
	} else {
		_, err = r.db.ExecContext(ctx, query, pm.PostID, pm.AssetID, pm.Platform, pm.DisplayOrder)
	}

	if err != nil {
		slog.Info(err.Error())
		return err
	}

	return nil
}

func (r *postMediaRepository) ListByPostID(ctx context.Context, postID int64) ([]*models.PostMedia, error) {
	query := `
		SELECT post_id, asset_id, platform, display_order
		FROM post_media
		WHERE post_id = $1
		ORDER BY display_order
	`

	rows, err := r.db.QueryContext(ctx, query, postID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var postMedias []*models.PostMedia
	for rows.Next() {
		var pm models.PostMedia
		if err := rows.Scan(&pm.PostID, &pm.AssetID, &pm.Platform, &pm.DisplayOrder); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		postMedias = append(postMedias, &pm)
	}
	return postMedias, rows.Err()
}

func (r *postMediaRepository) EffectiveMedia(ctx context.Context, postID int64, platform string) ([]models.MediaItem, error) {
	items, err := r.listMedia(ctx, postID, platform)
	if err != nil {
		return nil, err
	}
	if len(items) > 0 {
		return items, nil
	}
	return r.listMedia(ctx, postID, "")
}

func (r *postMediaRepository) listMedia(ctx context.Context, postID int64, platform string) ([]models.MediaItem, error) {
	query := `
		SELECT ma.file_url, ma.file_type
		FROM post_media pm
		JOIN media_assets ma ON ma.id = pm.asset_id
		WHERE pm.post_id = $1 AND pm.platform = $2
		ORDER BY pm.display_order
	`

	rows, err := r.db.QueryContext(ctx, query, postID, platform)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var items []models.MediaItem
	for rows.Next() {
		var fileURL, fileType string
		if err := rows.Scan(&fileURL, &fileType); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		kind := models.MediaKindImage
		if strings.HasPrefix(fileType, "video/") {
			kind = models.MediaKindVideo
		}
		items = append(items, models.MediaItem{URL: fileURL, Kind: kind})
	}
	return items, rows.Err()
}

func (r *postMediaRepository) Remove(ctx context.Context, postID int64) error {
	query := `DELETE FROM post_media WHERE post_id = $1`
	_, err := r.db.ExecContext(ctx, query, postID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
