package publisher

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/maheshrc27/postpilot/internal/models"
	"github.com/maheshrc27/postpilot/internal/platform"
	"github.com/maheshrc27/postpilot/pkg/crypto"
)

type fakePostRepo struct {
	post        *models.Post
	claimResult bool
	claimErr    error
	status      string
}

func (r *fakePostRepo) Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error) {
	return 0, errors.New("not implemented")
}
func (r *fakePostRepo) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	if r.post != nil && r.status != "" {
		r.post.Status = r.status
	}
	return r.post, nil
}
func (r *fakePostRepo) GetByUserID(ctx context.Context, userID int64) ([]*models.Post, error) {
	return nil, nil
}
func (r *fakePostRepo) CheckByUserID(ctx context.Context, postID, userID int64) (bool, error) {
	return true, nil
}
func (r *fakePostRepo) UpdateStatus(ctx context.Context, status string, postID int64) error {
	r.status = status
	return nil
}
func (r *fakePostRepo) UpdateCaption(ctx context.Context, postID int64, caption string) error {
	return nil
}
func (r *fakePostRepo) MarkPosted(ctx context.Context, postID int64) error {
	r.status = models.PostStatusPosted
	return nil
}
func (r *fakePostRepo) MarkFailed(ctx context.Context, postID int64) error {
	r.status = models.PostStatusFailed
	return nil
}
func (r *fakePostRepo) MarkNotified(ctx context.Context, postID int64) error { return nil }
func (r *fakePostRepo) ClaimForPublish(ctx context.Context, postID int64, staleBefore time.Time) (bool, error) {
	return r.claimResult, r.claimErr
}
func (r *fakePostRepo) ReleaseClaim(ctx context.Context, postID int64) error {
	r.status = models.PostStatusScheduled
	return nil
}
func (r *fakePostRepo) ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*models.Post, error) {
	return nil, nil
}
func (r *fakePostRepo) ListWithAutomation(ctx context.Context) ([]*models.Post, error) {
	return nil, nil
}
func (r *fakePostRepo) Remove(ctx context.Context, id int64) error { return nil }

type fakeTargetRepo struct {
	targets []*models.PostTarget
}

func (r *fakeTargetRepo) Create(ctx context.Context, tx *sql.Tx, target *models.PostTarget) (int64, error) {
	return 0, errors.New("not implemented")
}
func (r *fakeTargetRepo) ListByPostID(ctx context.Context, postID int64) ([]*models.PostTarget, error) {
	return r.targets, nil
}
func (r *fakeTargetRepo) ListPostedWithPlatformID(ctx context.Context, postID int64) ([]*models.PostTarget, error) {
	return nil, nil
}
func (r *fakeTargetRepo) MarkPosted(ctx context.Context, targetID int64, platformPostID string, mediaSkipped bool) error {
	for _, t := range r.targets {
		if t.ID == targetID {
			t.Status = models.PostStatusPosted
			t.PlatformPostID = platformPostID
			t.MediaSkipped = mediaSkipped
		}
	}
	return nil
}
func (r *fakeTargetRepo) MarkFailed(ctx context.Context, targetID int64, errorMessage string) error {
	for _, t := range r.targets {
		if t.ID == targetID {
			t.Status = models.PostStatusFailed
			t.ErrorMessage = errorMessage
		}
	}
	return nil
}
func (r *fakeTargetRepo) SetCaptionOverride(ctx context.Context, targetID int64, caption string) error {
	return nil
}

type fakeAccountRepo struct {
	accounts map[int64]*models.SocialAccount
	updated  *models.SocialAccount
}

func (r *fakeAccountRepo) Create(ctx context.Context, tx *sql.Tx, sa *models.SocialAccount) (int64, error) {
	return 0, errors.New("not implemented")
}
func (r *fakeAccountRepo) GetByID(ctx context.Context, id int64) (*models.SocialAccount, error) {
	return r.accounts[id], nil
}
func (r *fakeAccountRepo) ListInfoByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	return nil, nil
}
func (r *fakeAccountRepo) ListExpiring(ctx context.Context, initialTime, finalTime time.Time) ([]*models.SocialAccount, error) {
	return nil, nil
}
func (r *fakeAccountRepo) CheckByUserID(ctx context.Context, accountID, userID int64) (bool, error) {
	return true, nil
}
func (r *fakeAccountRepo) SetToken(ctx context.Context, accountID int64, sa *models.SocialAccount) error {
	r.updated = sa
	return nil
}
func (r *fakeAccountRepo) Remove(ctx context.Context, id int64) error { return nil }

type fakeMediaRepo struct {
	items []models.MediaItem
}

func (r *fakeMediaRepo) Create(ctx context.Context, tx *sql.Tx, pm *models.PostMedia) error {
	return errors.New("not implemented")
}
func (r *fakeMediaRepo) ListByPostID(ctx context.Context, postID int64) ([]*models.PostMedia, error) {
	return nil, nil
}
func (r *fakeMediaRepo) EffectiveMedia(ctx context.Context, postID int64, platform string) ([]models.MediaItem, error) {
	return r.items, nil
}
func (r *fakeMediaRepo) Remove(ctx context.Context, postID int64) error { return nil }

type fakeAdapter struct {
	name    string
	publish func(ctx context.Context, req platform.PublishRequest) (*platform.PublishResult, error)
	calls   int
}

func (a *fakeAdapter) Platform() string { return a.name }
func (a *fakeAdapter) Publish(ctx context.Context, req platform.PublishRequest) (*platform.PublishResult, error) {
	a.calls++
	return a.publish(ctx, req)
}

type fakeRefresher struct {
	token *platform.RefreshedToken
	err   error
	calls int
}

func (r *fakeRefresher) Refresh(ctx context.Context, creds platform.Credentials) (*platform.RefreshedToken, error) {
	r.calls++
	return r.token, r.err
}

func testVault(t *testing.T) *crypto.Vault {
	t.Helper()
	vault, err := crypto.NewVault([]byte("0123456789abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	return vault
}

func encrypt(t *testing.T, vault *crypto.Vault, plaintext string) string {
	t.Helper()
	out, err := vault.Encrypt(plaintext)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func scheduledPost(id int64) *models.Post {
	return &models.Post{ID: id, Caption: "hello", Status: models.PostStatusScheduled}
}

func TestPublishAggregatesMediaSkippedAsPosted(t *testing.T) {
	vault := testVault(t)
	posts := &fakePostRepo{post: scheduledPost(1), claimResult: true}
	targets := &fakeTargetRepo{targets: []*models.PostTarget{
		{ID: 10, PostID: 1, AccountID: 100, Platform: "instagram", Status: models.PostStatusScheduled},
		{ID: 11, PostID: 1, AccountID: 101, Platform: "twitter", Status: models.PostStatusScheduled},
	}}
	accounts := &fakeAccountRepo{accounts: map[int64]*models.SocialAccount{
		100: {ID: 100, Platform: "instagram", AccessToken: encrypt(t, vault, "ig-token")},
		101: {ID: 101, Platform: "twitter", AccessToken: encrypt(t, vault, "tw-token")},
	}}

	adapters := platform.Registry{
		"instagram": &fakeAdapter{name: "instagram", publish: func(ctx context.Context, req platform.PublishRequest) (*platform.PublishResult, error) {
			return &platform.PublishResult{PlatformPostID: "ig-1"}, nil
		}},
		"twitter": &fakeAdapter{name: "twitter", publish: func(ctx context.Context, req platform.PublishRequest) (*platform.PublishResult, error) {
			return &platform.PublishResult{PlatformPostID: "tw-1", MediaSkipped: true}, nil
		}},
	}

	pub := New(posts, targets, accounts, &fakeMediaRepo{}, vault, adapters, nil, 10*time.Minute)
	results, err := pub.Publish(context.Background(), 1)
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if !r.OK {
			t.Errorf("target on %s failed: %s", r.Platform, r.Error)
		}
	}
	if posts.status != models.PostStatusPosted {
		t.Errorf("post status = %q, want %q", posts.status, models.PostStatusPosted)
	}

	var twitter *TargetResult
	for i := range results {
		if results[i].Platform == "twitter" {
			twitter = &results[i]
		}
	}
	if twitter == nil || !twitter.MediaSkipped {
		t.Error("twitter result should carry media_skipped")
	}
}

func TestPublishPartialFailureMarksPostFailed(t *testing.T) {
	vault := testVault(t)
	posts := &fakePostRepo{post: scheduledPost(1), claimResult: true}
	targets := &fakeTargetRepo{targets: []*models.PostTarget{
		{ID: 10, PostID: 1, AccountID: 100, Platform: "instagram", Status: models.PostStatusScheduled},
		{ID: 11, PostID: 1, AccountID: 101, Platform: "linkedin", Status: models.PostStatusScheduled},
	}}
	accounts := &fakeAccountRepo{accounts: map[int64]*models.SocialAccount{
		100: {ID: 100, Platform: "instagram", AccessToken: encrypt(t, vault, "ig-token")},
		101: {ID: 101, Platform: "linkedin", AccessToken: encrypt(t, vault, "li-token")},
	}}

	adapters := platform.Registry{
		"instagram": &fakeAdapter{name: "instagram", publish: func(ctx context.Context, req platform.PublishRequest) (*platform.PublishResult, error) {
			return &platform.PublishResult{PlatformPostID: "ig-1"}, nil
		}},
		"linkedin": &fakeAdapter{name: "linkedin", publish: func(ctx context.Context, req platform.PublishRequest) (*platform.PublishResult, error) {
			return nil, errors.New("boom")
		}},
	}

	pub := New(posts, targets, accounts, &fakeMediaRepo{}, vault, adapters, nil, 10*time.Minute)
	results, err := pub.Publish(context.Background(), 1)
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	if posts.status != models.PostStatusFailed {
		t.Errorf("post status = %q, want %q", posts.status, models.PostStatusFailed)
	}

	// The instagram target must stay posted even though the post failed.
	if targets.targets[0].Status != models.PostStatusPosted {
		t.Errorf("instagram target status = %q, want posted", targets.targets[0].Status)
	}
	if targets.targets[1].Status != models.PostStatusFailed {
		t.Errorf("linkedin target status = %q, want failed", targets.targets[1].Status)
	}
	if targets.targets[1].ErrorMessage == "" {
		t.Error("failed target should persist an error message")
	}
	for _, r := range results {
		if r.Platform == "linkedin" && r.OK {
			t.Error("linkedin result should not be OK")
		}
	}
}

func TestPublishSkipsAlreadyPostedTargets(t *testing.T) {
	vault := testVault(t)
	posts := &fakePostRepo{post: scheduledPost(1), claimResult: true}
	targets := &fakeTargetRepo{targets: []*models.PostTarget{
		{ID: 10, PostID: 1, AccountID: 100, Platform: "instagram", Status: models.PostStatusPosted, PlatformPostID: "ig-1"},
		{ID: 11, PostID: 1, AccountID: 101, Platform: "twitter", Status: models.PostStatusScheduled},
	}}
	accounts := &fakeAccountRepo{accounts: map[int64]*models.SocialAccount{
		101: {ID: 101, Platform: "twitter", AccessToken: encrypt(t, vault, "tw-token")},
	}}

	instagram := &fakeAdapter{name: "instagram", publish: func(ctx context.Context, req platform.PublishRequest) (*platform.PublishResult, error) {
		return &platform.PublishResult{PlatformPostID: "ig-dup"}, nil
	}}
	twitter := &fakeAdapter{name: "twitter", publish: func(ctx context.Context, req platform.PublishRequest) (*platform.PublishResult, error) {
		return &platform.PublishResult{PlatformPostID: "tw-1"}, nil
	}}

	pub := New(posts, targets, accounts, &fakeMediaRepo{}, vault,
		platform.Registry{"instagram": instagram, "twitter": twitter}, nil, 10*time.Minute)
	results, err := pub.Publish(context.Background(), 1)
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	if instagram.calls != 0 {
		t.Errorf("instagram adapter called %d times for already-posted target", instagram.calls)
	}
	if twitter.calls != 1 {
		t.Errorf("twitter adapter called %d times, want 1", twitter.calls)
	}
	if results[0].PlatformID != "ig-1" {
		t.Errorf("posted target should keep its original platform id, got %q", results[0].PlatformID)
	}
}

func TestPublishTerminalStatusIsNoOp(t *testing.T) {
	posts := &fakePostRepo{post: &models.Post{ID: 1, Status: models.PostStatusPosted}}
	pub := New(posts, &fakeTargetRepo{}, &fakeAccountRepo{}, &fakeMediaRepo{}, testVault(t), platform.Registry{}, nil, 10*time.Minute)

	_, err := pub.Publish(context.Background(), 1)
	if !errors.Is(err, ErrAlreadyPublished) {
		t.Fatalf("err = %v, want ErrAlreadyPublished", err)
	}
}

func TestPublishClaimLost(t *testing.T) {
	posts := &fakePostRepo{post: scheduledPost(1), claimResult: false}
	pub := New(posts, &fakeTargetRepo{}, &fakeAccountRepo{}, &fakeMediaRepo{}, testVault(t), platform.Registry{}, nil, 10*time.Minute)

	_, err := pub.Publish(context.Background(), 1)
	if !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("err = %v, want ErrAlreadyClaimed", err)
	}
}

func TestPublishRefreshesOnceOnAuthFailure(t *testing.T) {
	vault := testVault(t)
	posts := &fakePostRepo{post: scheduledPost(1), claimResult: true}
	targets := &fakeTargetRepo{targets: []*models.PostTarget{
		{ID: 10, PostID: 1, AccountID: 100, Platform: "tiktok", Status: models.PostStatusScheduled},
	}}
	accounts := &fakeAccountRepo{accounts: map[int64]*models.SocialAccount{
		100: {
			ID:           100,
			Platform:     "tiktok",
			AccessToken:  encrypt(t, vault, "stale-token"),
			RefreshToken: encrypt(t, vault, "refresh-token"),
		},
	}}

	adapter := &fakeAdapter{name: "tiktok", publish: func(ctx context.Context, req platform.PublishRequest) (*platform.PublishResult, error) {
		if req.Creds.AccessToken == "stale-token" {
			return nil, &platform.Error{Platform: "tiktok", StatusCode: 401, Message: "token expired"}
		}
		return &platform.PublishResult{PlatformPostID: "tt-1"}, nil
	}}
	refresher := &fakeRefresher{token: &platform.RefreshedToken{
		AccessToken: "fresh-token",
		ExpiresAt:   time.Now().Add(time.Hour),
	}}

	pub := New(posts, targets, accounts, &fakeMediaRepo{}, vault,
		platform.Registry{"tiktok": adapter},
		map[string]platform.Refresher{"tiktok": refresher}, 10*time.Minute)

	results, err := pub.Publish(context.Background(), 1)
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	if refresher.calls != 1 {
		t.Errorf("refresher called %d times, want 1", refresher.calls)
	}
	if adapter.calls != 2 {
		t.Errorf("adapter called %d times, want 2", adapter.calls)
	}
	if !results[0].OK {
		t.Errorf("target should succeed after refresh, got error %q", results[0].Error)
	}
	if accounts.updated == nil {
		t.Fatal("rotated token was not persisted")
	}
	if got, _ := vault.Decrypt(accounts.updated.AccessToken); got != "fresh-token" {
		t.Errorf("persisted access token = %q, want fresh-token", got)
	}
}

func TestPublishTransientFailureLeavesPostClaimable(t *testing.T) {
	vault := testVault(t)
	posts := &fakePostRepo{post: scheduledPost(1), claimResult: true}
	targets := &fakeTargetRepo{targets: []*models.PostTarget{
		{ID: 10, PostID: 1, AccountID: 100, Platform: "twitter", Status: models.PostStatusScheduled},
	}}
	accounts := &fakeAccountRepo{accounts: map[int64]*models.SocialAccount{
		100: {ID: 100, Platform: "twitter", AccessToken: encrypt(t, vault, "tw-token")},
	}}

	adapter := &fakeAdapter{name: "twitter", publish: func(ctx context.Context, req platform.PublishRequest) (*platform.PublishResult, error) {
		return nil, &platform.Error{Platform: "twitter", StatusCode: 502, Message: "upstream error"}
	}}

	pub := New(posts, targets, accounts, &fakeMediaRepo{}, vault,
		platform.Registry{"twitter": adapter}, nil, 10*time.Minute)

	results, err := pub.Publish(context.Background(), 1)
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if results[0].OK || !results[0].Transient {
		t.Fatalf("result = %+v, want a transient failure", results[0])
	}
	// The claim must be handed back, not burned into a terminal failure,
	// so the next attempt can run.
	if posts.status != models.PostStatusScheduled {
		t.Fatalf("post status = %q, want scheduled", posts.status)
	}

	if _, err := pub.Publish(context.Background(), 1); err != nil {
		t.Fatalf("second attempt returned error: %v", err)
	}
	if adapter.calls != 2 {
		t.Errorf("adapter called %d times across two attempts, want 2", adapter.calls)
	}
}

func TestPublishMixedFailureMarksPostFailed(t *testing.T) {
	vault := testVault(t)
	posts := &fakePostRepo{post: scheduledPost(1), claimResult: true}
	targets := &fakeTargetRepo{targets: []*models.PostTarget{
		{ID: 10, PostID: 1, AccountID: 100, Platform: "twitter", Status: models.PostStatusScheduled},
		{ID: 11, PostID: 1, AccountID: 101, Platform: "instagram", Status: models.PostStatusScheduled},
	}}
	accounts := &fakeAccountRepo{accounts: map[int64]*models.SocialAccount{
		100: {ID: 100, Platform: "twitter", AccessToken: encrypt(t, vault, "tw-token")},
		101: {ID: 101, Platform: "instagram", AccessToken: encrypt(t, vault, "ig-token")},
	}}

	adapters := platform.Registry{
		"twitter": &fakeAdapter{name: "twitter", publish: func(ctx context.Context, req platform.PublishRequest) (*platform.PublishResult, error) {
			return nil, &platform.Error{Platform: "twitter", StatusCode: 503, Message: "over capacity"}
		}},
		"instagram": &fakeAdapter{name: "instagram", publish: func(ctx context.Context, req platform.PublishRequest) (*platform.PublishResult, error) {
			return nil, &platform.Error{Platform: "instagram", StatusCode: 400, Message: "unsupported media", Permanent: true}
		}},
	}

	pub := New(posts, targets, accounts, &fakeMediaRepo{}, vault, adapters, nil, 10*time.Minute)
	if _, err := pub.Publish(context.Background(), 1); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	// A permanent failure among the results is terminal even when other
	// targets only failed transiently.
	if posts.status != models.PostStatusFailed {
		t.Errorf("post status = %q, want failed", posts.status)
	}
}

func TestAbandonMarksPostFailed(t *testing.T) {
	posts := &fakePostRepo{post: scheduledPost(1)}
	pub := New(posts, &fakeTargetRepo{}, &fakeAccountRepo{}, &fakeMediaRepo{}, testVault(t), platform.Registry{}, nil, 10*time.Minute)

	if err := pub.Abandon(context.Background(), 1); err != nil {
		t.Fatalf("Abandon returned error: %v", err)
	}
	if posts.status != models.PostStatusFailed {
		t.Errorf("post status = %q, want failed", posts.status)
	}
}

func TestPublishRefreshFailureRecordsTargetFailure(t *testing.T) {
	vault := testVault(t)
	posts := &fakePostRepo{post: scheduledPost(1), claimResult: true}
	targets := &fakeTargetRepo{targets: []*models.PostTarget{
		{ID: 10, PostID: 1, AccountID: 100, Platform: "youtube", Status: models.PostStatusScheduled},
	}}
	accounts := &fakeAccountRepo{accounts: map[int64]*models.SocialAccount{
		100: {
			ID:           100,
			Platform:     "youtube",
			AccessToken:  encrypt(t, vault, "stale-token"),
			RefreshToken: encrypt(t, vault, "refresh-token"),
		},
	}}

	adapter := &fakeAdapter{name: "youtube", publish: func(ctx context.Context, req platform.PublishRequest) (*platform.PublishResult, error) {
		return nil, &platform.Error{Platform: "youtube", StatusCode: 401, Message: "token expired"}
	}}
	refresher := &fakeRefresher{err: errors.New("refresh rejected")}

	pub := New(posts, targets, accounts, &fakeMediaRepo{}, vault,
		platform.Registry{"youtube": adapter},
		map[string]platform.Refresher{"youtube": refresher}, 10*time.Minute)

	results, err := pub.Publish(context.Background(), 1)
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	if results[0].OK {
		t.Error("target should fail when refresh fails")
	}
	if adapter.calls != 1 {
		t.Errorf("adapter called %d times, want 1 (no retry without fresh creds)", adapter.calls)
	}
	if posts.status != models.PostStatusFailed {
		t.Errorf("post status = %q, want failed", posts.status)
	}
}
