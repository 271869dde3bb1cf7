package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"time"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	"github.com/lib/pq"
	"github.com/maheshrc27/postpilot/internal/models"
	"github.com/maheshrc27/postpilot/internal/repository"
	"github.com/maheshrc27/postpilot/internal/storage"
	"github.com/maheshrc27/postpilot/internal/transfer"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const scheduledAtLayout = "2006-01-02T15:04"

// MediaUpload groups uploaded files by the platform they are meant for. The
// empty key is the default set used by every target without an override.
type MediaUpload map[string][]*multipart.FileHeader

type PostService interface {
	CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation, media MediaUpload) (int64, *time.Time, error)
	List(ctx context.Context, userID int64) ([]*models.Post, error)
	PostInfo(ctx context.Context, postID, userID int64) (*models.Post, error)
	Remove(ctx context.Context, userID, postID int64) error
}

type postService struct {
	db *sql.DB
	pr repository.PostRepository
	pt repository.PostTargetRepository
	ac repository.SocialAccountRepository
	ma repository.MediaAssetRepository
	pm repository.PostMediaRepository
	r2 *storage.R2Storage
}

func NewPostService(
	db *sql.DB,
	pr repository.PostRepository,
	pt repository.PostTargetRepository,
	ac repository.SocialAccountRepository,
	ma repository.MediaAssetRepository,
	pm repository.PostMediaRepository,
	r2 *storage.R2Storage) PostService {
	return &postService{
		db: db,
		pr: pr,
		pt: pt,
		ac: ac,
		ma: ma,
		pm: pm,
		r2: r2,
	}
}

// CreatePost validates the composition, stores the post with its targets and
// media inside one transaction, and returns the scheduled time when the post
// should be enqueued (nil for drafts).
func (s *postService) CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation, media MediaUpload) (int64, *time.Time, error) {
	if pc == nil {
		err := errors.New("post creation data is nil")
		slog.Error(err.Error())
		return 0, nil, err
	}
	if pc.Caption == "" && len(media) == 0 {
		err := errors.New("post needs a caption or media")
		slog.Info(err.Error())
		return 0, nil, err
	}

	var scheduledAt *time.Time
	status := models.PostStatusDraft
	if pc.ScheduledAt != "" {
		t, err := time.Parse(scheduledAtLayout, pc.ScheduledAt)
		if err != nil {
			err = fmt.Errorf("invalid scheduled time format: %w", err)
			slog.Error(err.Error())
			return 0, nil, err
		}
		scheduledAt = &t
		status = models.PostStatusScheduled
	}

	deliveryMode := pc.DeliveryMode
	if deliveryMode == "" {
		deliveryMode = models.DeliveryModeAuto
	}
	if deliveryMode != models.DeliveryModeAuto && deliveryMode != models.DeliveryModeNotify {
		err := fmt.Errorf("unknown delivery mode %q", deliveryMode)
		slog.Info(err.Error())
		return 0, nil, err
	}

	var selections []transfer.TargetSelection
	if err := json.Unmarshal([]byte(pc.Targets), &selections); err != nil {
		err = fmt.Errorf("invalid targets format: %w", err)
		slog.Error(err.Error())
		return 0, nil, err
	}
	if len(selections) == 0 {
		err := errors.New("no target accounts selected")
		slog.Error(err.Error())
		return 0, nil, err
	}

	keywords, err := parseKeywords(pc.Keywords)
	if err != nil {
		slog.Error(err.Error())
		return 0, nil, err
	}

	templates, err := parseReplyTemplates(pc.ReplyTemplates)
	if err != nil {
		slog.Error(err.Error())
		return 0, nil, err
	}
	if len(keywords) > 0 && len(templates) == 0 {
		err := errors.New("reply keywords set but no reply templates")
		slog.Info(err.Error())
		return 0, nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	post := models.Post{
		UserID:        userID,
		Caption:       pc.Caption,
		Title:         pc.Title,
		ScheduledAt:   scheduledAt,
		DeliveryMode:  deliveryMode,
		Status:        status,
		Keywords:      pq.StringArray(keywords),
		ReplyPrivate:  pc.ReplyPrivate,
		ReplyTemplate: templates,
	}

	postID, err := s.pr.Create(ctx, tx, &post)
	if err != nil {
		return 0, nil, fmt.Errorf("error creating post: %w", err)
	}

	if err = s.saveTargets(ctx, tx, userID, postID, selections); err != nil {
		return 0, nil, fmt.Errorf("error processing targets: %w", err)
	}

	if err = s.processMedia(ctx, tx, userID, postID, media); err != nil {
		return 0, nil, fmt.Errorf("error processing media: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return postID, scheduledAt, nil
}

func (s *postService) saveTargets(ctx context.Context, tx *sql.Tx, userID, postID int64, selections []transfer.TargetSelection) error {
	seen := make(map[int64]struct{}, len(selections))
	for _, sel := range selections {
		if _, dup := seen[sel.AccountID]; dup {
			return fmt.Errorf("account %d selected twice", sel.AccountID)
		}
		seen[sel.AccountID] = struct{}{}

		exists, err := s.ac.CheckByUserID(ctx, sel.AccountID, userID)
		if err != nil {
			return fmt.Errorf("error checking social account %d: %w", sel.AccountID, err)
		}
		if !exists {
			return fmt.Errorf("social account %d does not exist", sel.AccountID)
		}

		account, err := s.ac.GetByID(ctx, sel.AccountID)
		if err != nil || account == nil {
			return fmt.Errorf("error loading social account %d", sel.AccountID)
		}

		target := models.PostTarget{
			PostID:    postID,
			AccountID: sel.AccountID,
			Platform:  account.Platform,
			Status:    models.PostStatusScheduled,
		}
		if sel.Caption != "" {
			target.CaptionOverride = sql.NullString{String: sel.Caption, Valid: true}
		}
		if _, err := s.pt.Create(ctx, tx, &target); err != nil {
			return fmt.Errorf("error saving target for account %d: %w", sel.AccountID, err)
		}
	}
	return nil
}

func (s *postService) processMedia(ctx context.Context, tx *sql.Tx, userID, postID int64, media MediaUpload) error {
	allowedTypes := map[string]struct{}{
		"mp4": {}, "mov": {}, "jpeg": {}, "png": {}, "jpg": {},
	}

	for platform, files := range media {
		for i, file := range files {
			fileContent, err := file.Open()
			if err != nil {
				return fmt.Errorf("error opening file: %w", err)
			}

			fileBytes, err := io.ReadAll(fileContent)
			fileContent.Close()
			if err != nil {
				return fmt.Errorf("error reading file content: %w", err)
			}

			fileType, err := filetype.Match(fileBytes)
			if err != nil || fileType == types.Unknown {
				return fmt.Errorf("unsupported file type: %w", err)
			}
			if _, ok := allowedTypes[fileType.Extension]; !ok {
				return fmt.Errorf("file type %s is not allowed", fileType.Extension)
			}

			assetID, err := s.saveFile(ctx, tx, userID, fileType.MIME.Value, fileBytes)
			if err != nil {
				return fmt.Errorf("error uploading file: %w", err)
			}

			postMedia := models.PostMedia{
				PostID:       postID,
				AssetID:      assetID,
				Platform:     platform,
				DisplayOrder: i,
			}
			if err := s.pm.Create(ctx, tx, &postMedia); err != nil {
				return fmt.Errorf("error saving media file: %w", err)
			}
		}
	}
	return nil
}

func (s *postService) saveFile(ctx context.Context, tx *sql.Tx, userID int64, fileType string, file []byte) (int64, error) {
	id, err := gonanoid.New()
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	url, err := s.r2.Upload(ctx, id, file, fileType)
	if err != nil {
		return 0, err
	}

	ma := models.MediaAsset{
		UserID:   userID,
		FileName: id,
		FileType: fileType,
		FileSize: int64(len(file)),
		FileURL:  url,
	}

	assetID, err := s.ma.Create(ctx, tx, &ma)
	if err != nil {
		return 0, err
	}

	return assetID, nil
}

func (s *postService) PostInfo(ctx context.Context, postID, userID int64) (*models.Post, error) {
	var err error

	if userID == 0 {
		err = errors.New("user is not valid")
		slog.Info(err.Error())
		return nil, err
	}

	if postID == 0 {
		err = errors.New("post id is not valid")
		slog.Info(err.Error())
		return nil, err
	}

	isValid, err := s.pr.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return nil, err
	}

	if !isValid {
		err = errors.New("post doesn't exist")
		slog.Info(err.Error())
		return nil, err
	}

	post, err := s.pr.GetByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("error getting post info")
	}

	return post, nil
}

func (s *postService) List(ctx context.Context, userID int64) ([]*models.Post, error) {
	posts, err := s.pr.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing posts")
	}
	return posts, nil
}

func (s *postService) Remove(ctx context.Context, userID, postID int64) error {
	var err error

	if userID == 0 {
		err = errors.New("user is not valid")
		slog.Info(err.Error())
		return err
	}

	if postID == 0 {
		err = errors.New("post_id is not valid")
		slog.Info(err.Error())
		return err
	}

	isValid, err := s.pr.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return err
	}

	if !isValid {
		err = errors.New("post doesn't exist")
		slog.Info(err.Error())
		return err
	}

	if err = s.pr.Remove(ctx, postID); err != nil {
		return fmt.Errorf("error removing post")
	}

	return nil
}

func parseKeywords(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var keywords []string
	if err := json.Unmarshal([]byte(raw), &keywords); err != nil {
		return nil, fmt.Errorf("invalid keywords format: %w", err)
	}
	return keywords, nil
}

func parseReplyTemplates(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	var templates map[string]string
	if err := json.Unmarshal([]byte(raw), &templates); err != nil {
		return nil, fmt.Errorf("invalid reply templates format: %w", err)
	}
	return templates, nil
}
