package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/postpilot/internal/models"
	"github.com/maheshrc27/postpilot/internal/platform"
	"github.com/maheshrc27/postpilot/internal/publisher"
	"github.com/maheshrc27/postpilot/pkg/crypto"
)

type workerTargetRepo struct {
	targets []*models.PostTarget
}

func (r *workerTargetRepo) Create(ctx context.Context, tx *sql.Tx, target *models.PostTarget) (int64, error) {
	return 0, errors.New("not implemented")
}
func (r *workerTargetRepo) ListByPostID(ctx context.Context, postID int64) ([]*models.PostTarget, error) {
	return r.targets, nil
}
func (r *workerTargetRepo) ListPostedWithPlatformID(ctx context.Context, postID int64) ([]*models.PostTarget, error) {
	return nil, nil
}
func (r *workerTargetRepo) MarkPosted(ctx context.Context, targetID int64, platformPostID string, mediaSkipped bool) error {
	for _, t := range r.targets {
		if t.ID == targetID {
			t.Status = models.PostStatusPosted
			t.PlatformPostID = platformPostID
		}
	}
	return nil
}
func (r *workerTargetRepo) MarkFailed(ctx context.Context, targetID int64, errorMessage string) error {
	for _, t := range r.targets {
		if t.ID == targetID {
			t.Status = models.PostStatusFailed
			t.ErrorMessage = errorMessage
		}
	}
	return nil
}
func (r *workerTargetRepo) SetCaptionOverride(ctx context.Context, targetID int64, caption string) error {
	return nil
}

type workerAccountRepo struct {
	account *models.SocialAccount
}

func (r *workerAccountRepo) Create(ctx context.Context, tx *sql.Tx, sa *models.SocialAccount) (int64, error) {
	return 0, errors.New("not implemented")
}
func (r *workerAccountRepo) GetByID(ctx context.Context, id int64) (*models.SocialAccount, error) {
	return r.account, nil
}
func (r *workerAccountRepo) ListInfoByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	return nil, nil
}
func (r *workerAccountRepo) ListExpiring(ctx context.Context, initialTime, finalTime time.Time) ([]*models.SocialAccount, error) {
	return nil, nil
}
func (r *workerAccountRepo) CheckByUserID(ctx context.Context, accountID, userID int64) (bool, error) {
	return true, nil
}
func (r *workerAccountRepo) SetToken(ctx context.Context, accountID int64, sa *models.SocialAccount) error {
	return nil
}
func (r *workerAccountRepo) Remove(ctx context.Context, id int64) error { return nil }

type workerMediaRepo struct{}

func (r *workerMediaRepo) Create(ctx context.Context, tx *sql.Tx, pm *models.PostMedia) error {
	return errors.New("not implemented")
}
func (r *workerMediaRepo) ListByPostID(ctx context.Context, postID int64) ([]*models.PostMedia, error) {
	return nil, nil
}
func (r *workerMediaRepo) EffectiveMedia(ctx context.Context, postID int64, platform string) ([]models.MediaItem, error) {
	return nil, nil
}
func (r *workerMediaRepo) Remove(ctx context.Context, postID int64) error { return nil }

// flakyAdapter fails the first n calls with a retryable upstream error.
type flakyAdapter struct {
	calls    int
	failures int
}

func (a *flakyAdapter) Platform() string { return "twitter" }
func (a *flakyAdapter) Publish(ctx context.Context, req platform.PublishRequest) (*platform.PublishResult, error) {
	a.calls++
	if a.calls <= a.failures {
		return nil, &platform.Error{Platform: "twitter", StatusCode: 502, Message: "upstream error"}
	}
	return &platform.PublishResult{PlatformPostID: "tw-1"}, nil
}

func TestHandlePublishTaskBadPayloadSkipsRetry(t *testing.T) {
	w := NewWorker(sweepPublisher(&sweepPostRepo{}))

	task := asynq.NewTask(TaskTypePublishPost, []byte("not json"))
	err := w.HandlePublishTask(context.Background(), task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("err = %v, want SkipRetry", err)
	}
}

func TestHandlePublishTaskMissingPostSkipsRetry(t *testing.T) {
	w := NewWorker(sweepPublisher(&sweepPostRepo{}))

	task := asynq.NewTask(TaskTypePublishPost, []byte(`{"post_id": 99}`))
	err := w.HandlePublishTask(context.Background(), task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("err = %v, want SkipRetry for an unknown post", err)
	}
}

func TestHandlePublishTaskAlreadyPublishedIsNoOp(t *testing.T) {
	posts := &sweepPostRepo{due: []*models.Post{
		{ID: 1, Status: models.PostStatusPosted},
	}}
	w := NewWorker(sweepPublisher(posts))

	task := asynq.NewTask(TaskTypePublishPost, []byte(`{"post_id": 1}`))
	if err := w.HandlePublishTask(context.Background(), task); err != nil {
		t.Fatalf("err = %v, want nil for already-published post", err)
	}
}

func TestHandlePublishTaskClaimedElsewhereIsNoOp(t *testing.T) {
	posts := &sweepPostRepo{due: []*models.Post{
		{ID: 1, Status: models.PostStatusScheduled},
	}}
	// sweepPostRepo never grants the claim, standing in for a concurrent run.
	w := NewWorker(sweepPublisher(posts))

	task := asynq.NewTask(TaskTypePublishPost, []byte(`{"post_id": 1}`))
	if err := w.HandlePublishTask(context.Background(), task); err != nil {
		t.Fatalf("err = %v, want nil when another run holds the claim", err)
	}
}

func TestHandlePublishTaskRetriesTransientFailure(t *testing.T) {
	vault, err := crypto.NewVault([]byte("0123456789abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	token, err := vault.Encrypt("tw-token")
	if err != nil {
		t.Fatal(err)
	}

	posts := &sweepPostRepo{grantClaims: true, due: []*models.Post{
		{ID: 1, Caption: "hi", DeliveryMode: models.DeliveryModeAuto, Status: models.PostStatusScheduled},
	}}
	targets := &workerTargetRepo{targets: []*models.PostTarget{
		{ID: 10, PostID: 1, AccountID: 100, Platform: "twitter", Status: models.PostStatusScheduled},
	}}
	accounts := &workerAccountRepo{account: &models.SocialAccount{ID: 100, Platform: "twitter", AccessToken: token}}
	adapter := &flakyAdapter{failures: 1}

	pub := publisher.New(posts, targets, accounts, &workerMediaRepo{}, vault,
		platform.Registry{"twitter": adapter}, nil, 10*time.Minute)
	w := NewWorker(pub)
	task := asynq.NewTask(TaskTypePublishPost, []byte(`{"post_id": 1}`))

	if err := w.HandlePublishTask(context.Background(), task); err == nil {
		t.Fatal("first attempt should surface the transient failure for retry")
	}
	// The post must come back out of posting, or the retry would be a no-op.
	if posts.due[0].Status != models.PostStatusScheduled {
		t.Fatalf("post status after transient failure = %q, want scheduled", posts.due[0].Status)
	}
	if len(posts.released) != 1 {
		t.Fatalf("released claims = %v, want [1]", posts.released)
	}

	if err := w.HandlePublishTask(context.Background(), task); err != nil {
		t.Fatalf("second attempt returned error: %v", err)
	}
	if adapter.calls != 2 {
		t.Errorf("adapter called %d times across two attempts, want 2", adapter.calls)
	}
	if posts.due[0].Status != models.PostStatusPosted {
		t.Errorf("post status = %q, want posted", posts.due[0].Status)
	}
}

func TestRetryDelayDoubles(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{1, "1m0s"},
		{2, "2m0s"},
		{3, "4m0s"},
	}
	for _, tt := range tests {
		if got := RetryDelay(tt.n, nil, nil); got.String() != tt.want {
			t.Errorf("RetryDelay(%d) = %s, want %s", tt.n, got, tt.want)
		}
	}
}
