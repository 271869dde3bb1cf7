package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/maheshrc27/postpilot/internal/models"
	"github.com/maheshrc27/postpilot/internal/platform"
	"github.com/maheshrc27/postpilot/internal/publisher"
	"github.com/maheshrc27/postpilot/internal/repository"
	"github.com/maheshrc27/postpilot/pkg/crypto"
)

type sweepPostRepo struct {
	due         []*models.Post
	notified    []int64
	grantClaims bool
	released    []int64
}

func (r *sweepPostRepo) Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error) {
	return 0, errors.New("not implemented")
}
func (r *sweepPostRepo) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	for _, p := range r.due {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, nil
}
func (r *sweepPostRepo) GetByUserID(ctx context.Context, userID int64) ([]*models.Post, error) {
	return nil, nil
}
func (r *sweepPostRepo) CheckByUserID(ctx context.Context, postID, userID int64) (bool, error) {
	return true, nil
}
func (r *sweepPostRepo) UpdateStatus(ctx context.Context, status string, postID int64) error {
	return nil
}
func (r *sweepPostRepo) UpdateCaption(ctx context.Context, postID int64, caption string) error {
	return nil
}
func (r *sweepPostRepo) MarkPosted(ctx context.Context, postID int64) error {
	r.setStatus(postID, models.PostStatusPosted)
	return nil
}
func (r *sweepPostRepo) MarkFailed(ctx context.Context, postID int64) error {
	r.setStatus(postID, models.PostStatusFailed)
	return nil
}
func (r *sweepPostRepo) MarkNotified(ctx context.Context, postID int64) error {
	r.notified = append(r.notified, postID)
	return nil
}
func (r *sweepPostRepo) ClaimForPublish(ctx context.Context, postID int64, staleBefore time.Time) (bool, error) {
	if !r.grantClaims {
		return false, nil
	}
	for _, p := range r.due {
		if p.ID == postID && (p.Status == models.PostStatusDraft || p.Status == models.PostStatusScheduled) {
			p.Status = models.PostStatusPosting
			return true, nil
		}
	}
	return false, nil
}
func (r *sweepPostRepo) ReleaseClaim(ctx context.Context, postID int64) error {
	r.released = append(r.released, postID)
	r.setStatus(postID, models.PostStatusScheduled)
	return nil
}
func (r *sweepPostRepo) ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*models.Post, error) {
	return r.due, nil
}
func (r *sweepPostRepo) setStatus(postID int64, status string) {
	for _, p := range r.due {
		if p.ID == postID {
			p.Status = status
		}
	}
}
func (r *sweepPostRepo) ListWithAutomation(ctx context.Context) ([]*models.Post, error) {
	return nil, nil
}
func (r *sweepPostRepo) Remove(ctx context.Context, id int64) error { return nil }

type sweepTokenRepo struct {
	created []string
	err     error
}

func (r *sweepTokenRepo) Create(ctx context.Context, postID int64, token string, expiresAt time.Time) error {
	if r.err != nil {
		return r.err
	}
	r.created = append(r.created, token)
	return nil
}
func (r *sweepTokenRepo) GetByToken(ctx context.Context, token string) (*models.PublishToken, error) {
	return nil, nil
}
func (r *sweepTokenRepo) MarkUsed(ctx context.Context, id int64) (bool, error) { return false, nil }

type sweepUserRepo struct {
	user *models.User
}

func (r *sweepUserRepo) GetByID(ctx context.Context, id int64) (*models.User, bool, error) {
	if r.user == nil {
		return nil, false, nil
	}
	return r.user, true, nil
}

type recordingNotifier struct {
	sent []string
	err  error
}

func (n *recordingNotifier) PostReady(ctx context.Context, email string, post *models.Post, publishLink string) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, publishLink)
	return nil
}

func sweepPublisher(posts repository.PostRepository) *publisher.Publisher {
	vault, _ := crypto.NewVault([]byte("0123456789abcdef"))
	return publisher.New(posts, nil, nil, nil, vault, platform.Registry{}, nil, 10*time.Minute)
}

func duePost(id int64, mode string) *models.Post {
	at := time.Now().Add(-time.Minute)
	return &models.Post{ID: id, UserID: 1, Caption: "hi", ScheduledAt: &at,
		DeliveryMode: mode, Status: models.PostStatusScheduled}
}

func TestSweepNotifiesOnceAndStampsAfterSend(t *testing.T) {
	posts := &sweepPostRepo{due: []*models.Post{duePost(1, models.DeliveryModeNotify)}}
	tokens := &sweepTokenRepo{}
	users := &sweepUserRepo{user: &models.User{ID: 1, Email: "owner@example.com"}}
	notifier := &recordingNotifier{}

	s := NewSweeper(posts, tokens, users, sweepPublisher(posts), notifier, "https://app.example.com", 10*time.Minute, 25)
	summary, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if summary.Notified != 1 {
		t.Fatalf("notified = %d, want 1", summary.Notified)
	}
	if len(tokens.created) != 1 {
		t.Fatalf("tokens created = %d, want 1", len(tokens.created))
	}
	if len(notifier.sent) != 1 || !strings.HasPrefix(notifier.sent[0], "https://app.example.com/publish/") {
		t.Fatalf("unexpected publish link: %v", notifier.sent)
	}
	if len(posts.notified) != 1 || posts.notified[0] != 1 {
		t.Fatalf("MarkNotified calls = %v, want [1]", posts.notified)
	}
}

func TestSweepFailedSendLeavesPostUnnotified(t *testing.T) {
	posts := &sweepPostRepo{due: []*models.Post{duePost(1, models.DeliveryModeNotify)}}
	tokens := &sweepTokenRepo{}
	users := &sweepUserRepo{user: &models.User{ID: 1, Email: "owner@example.com"}}
	notifier := &recordingNotifier{err: errors.New("smtp down")}

	s := NewSweeper(posts, tokens, users, sweepPublisher(posts), notifier, "https://app.example.com", 10*time.Minute, 25)
	summary, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if summary.Failed != 1 {
		t.Fatalf("failed = %d, want 1", summary.Failed)
	}
	// Not stamped: the next sweep must retry this notification.
	if len(posts.notified) != 0 {
		t.Fatalf("MarkNotified calls = %v, want none", posts.notified)
	}
}

func TestSweepSkipsPostsClaimedElsewhere(t *testing.T) {
	// ClaimForPublish returns false, which Publish surfaces as ErrAlreadyClaimed.
	posts := &sweepPostRepo{due: []*models.Post{duePost(1, models.DeliveryModeAuto)}}
	s := NewSweeper(posts, &sweepTokenRepo{}, &sweepUserRepo{}, sweepPublisher(posts), &recordingNotifier{}, "https://app.example.com", 10*time.Minute, 25)

	summary, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if summary.Published != 0 || summary.Failed != 0 {
		t.Fatalf("summary = %+v, want the claimed post skipped", summary)
	}
	if len(summary.Items) != 1 || summary.Items[0].Action != "skipped" {
		t.Fatalf("items = %+v, want one skipped item", summary.Items)
	}
}
