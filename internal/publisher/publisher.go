package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maheshrc27/postpilot/internal/models"
	"github.com/maheshrc27/postpilot/internal/platform"
	"github.com/maheshrc27/postpilot/internal/repository"
	"github.com/maheshrc27/postpilot/pkg/crypto"
)

var (
	ErrPostNotFound = errors.New("post not found")
	// ErrAlreadyPublished means the post is in a terminal state; callers
	// treat it as a safe no-op.
	ErrAlreadyPublished = errors.New("post already published")
	// ErrAlreadyClaimed means another run holds a fresh POSTING claim.
	ErrAlreadyClaimed = errors.New("post claimed by another publisher")
)

const maxErrorLen = 500

// TargetResult is the per-target outcome surfaced to callers. Failures are
// values here; only the inability to load or claim the post is an error.
type TargetResult struct {
	TargetID     int64  `json:"-"`
	Platform     string `json:"platform"`
	OK           bool   `json:"ok"`
	PlatformID   string `json:"platform_post_id,omitempty"`
	MediaSkipped bool   `json:"media_skipped,omitempty"`
	Error        string `json:"error,omitempty"`
	Transient    bool   `json:"-"`
}

// Publisher fans one post out to all of its targets, isolating per-target
// failures and computing the aggregate post status.
type Publisher struct {
	posts      repository.PostRepository
	targets    repository.PostTargetRepository
	accounts   repository.SocialAccountRepository
	media      repository.PostMediaRepository
	vault      *crypto.Vault
	adapters   platform.Registry
	refreshers map[string]platform.Refresher
	claimTTL   time.Duration
}

func New(
	posts repository.PostRepository,
	targets repository.PostTargetRepository,
	accounts repository.SocialAccountRepository,
	media repository.PostMediaRepository,
	vault *crypto.Vault,
	adapters platform.Registry,
	refreshers map[string]platform.Refresher,
	claimTTL time.Duration) *Publisher {
	return &Publisher{
		posts:      posts,
		targets:    targets,
		accounts:   accounts,
		media:      media,
		vault:      vault,
		adapters:   adapters,
		refreshers: refreshers,
		claimTTL:   claimTTL,
	}
}

// Publish delivers the post to every pending target. Targets already posted
// (from an interrupted earlier run) are skipped, which is what makes retrying
// after a crash safe.
func (p *Publisher) Publish(ctx context.Context, postID int64) ([]TargetResult, error) {
	post, err := p.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, ErrPostNotFound
	}

	switch post.Status {
	case models.PostStatusPosted, models.PostStatusFailed:
		return nil, ErrAlreadyPublished
	}

	claimed, err := p.posts.ClaimForPublish(ctx, postID, time.Now().Add(-p.claimTTL))
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrAlreadyClaimed
	}

	targets, err := p.targets.ListByPostID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		if err := p.posts.MarkFailed(ctx, postID); err != nil {
			slog.Info(err.Error())
		}
		return nil, errors.New("post has no targets")
	}

	results := make([]TargetResult, 0, len(targets))
	for _, target := range targets {
		if target.Status == models.PostStatusPosted {
			results = append(results, TargetResult{
				TargetID:     target.ID,
				Platform:     target.Platform,
				OK:           true,
				PlatformID:   target.PlatformPostID,
				MediaSkipped: target.MediaSkipped,
			})
			continue
		}
		results = append(results, p.publishTarget(ctx, post, target))
	}

	failed, transient := 0, 0
	for _, r := range results {
		if r.OK {
			continue
		}
		failed++
		if r.Transient {
			transient++
		}
	}

	switch {
	case failed == 0:
		err = p.posts.MarkPosted(ctx, postID)
	case failed == transient:
		// Every failure is retryable. Hand the claim back instead of going
		// terminal so the next attempt (job retry or sweep) can claim the
		// post again; already-posted targets are skipped on that attempt.
		err = p.posts.ReleaseClaim(ctx, postID)
	default:
		err = p.posts.MarkFailed(ctx, postID)
	}
	if err != nil {
		return results, err
	}

	return results, nil
}

// Abandon marks the post failed. Callers use it when the retry budget for
// transient failures is exhausted and the post must stop being claimable.
func (p *Publisher) Abandon(ctx context.Context, postID int64) error {
	return p.posts.MarkFailed(ctx, postID)
}

// publishTarget runs one adapter call, with a single refresh-and-retry cycle
// on authentication failure, and persists the outcome immediately.
func (p *Publisher) publishTarget(ctx context.Context, post *models.Post, target *models.PostTarget) TargetResult {
	result := TargetResult{TargetID: target.ID, Platform: target.Platform}

	adapter, ok := p.adapters.Adapter(target.Platform)
	if !ok {
		return p.failTarget(ctx, result, fmt.Errorf("no adapter registered for platform %s", target.Platform))
	}

	account, err := p.accounts.GetByID(ctx, target.AccountID)
	if err != nil {
		return p.failTarget(ctx, result, err)
	}
	if account == nil {
		return p.failTarget(ctx, result, fmt.Errorf("social account %d not found", target.AccountID))
	}

	creds, err := p.decryptCredentials(account)
	if err != nil {
		return p.failTarget(ctx, result, err)
	}

	media, err := p.media.EffectiveMedia(ctx, post.ID, target.Platform)
	if err != nil {
		return p.failTarget(ctx, result, err)
	}

	req := platform.PublishRequest{
		Caption: target.EffectiveCaption(post),
		Title:   post.Title,
		Media:   media,
		Creds:   creds,
	}

	publishResult, err := adapter.Publish(ctx, req)
	if err != nil && platform.IsAuthFailure(err) {
		refreshedCreds, refreshErr := p.refreshCredentials(ctx, account, creds)
		if refreshErr != nil {
			slog.Info(fmt.Sprintf("token refresh for account %d failed: %v", account.ID, refreshErr))
		} else {
			req.Creds = refreshedCreds
			publishResult, err = adapter.Publish(ctx, req)
		}
	}
	if err != nil {
		result.Transient = platform.IsTransient(err)
		return p.failTarget(ctx, result, err)
	}

	if err := p.targets.MarkPosted(ctx, target.ID, publishResult.PlatformPostID, publishResult.MediaSkipped); err != nil {
		return p.failTarget(ctx, result, err)
	}

	result.OK = true
	result.PlatformID = publishResult.PlatformPostID
	result.MediaSkipped = publishResult.MediaSkipped
	return result
}

func (p *Publisher) failTarget(ctx context.Context, result TargetResult, cause error) TargetResult {
	message := truncateError(cause)
	result.Error = message

	slog.Info(fmt.Sprintf("target %d (%s) failed: %s", result.TargetID, result.Platform, message))
	if err := p.targets.MarkFailed(ctx, result.TargetID, message); err != nil {
		slog.Info(err.Error())
	}
	return result
}

func (p *Publisher) decryptCredentials(account *models.SocialAccount) (platform.Credentials, error) {
	creds := platform.Credentials{
		AccountID:   account.AccountID,
		AccountName: account.AccountName,
	}

	accessToken, err := p.vault.Decrypt(account.AccessToken)
	if err != nil {
		return creds, fmt.Errorf("decrypting access token: %w", err)
	}
	creds.AccessToken = accessToken

	if account.OAuth1Token != "" && account.OAuth1Secret != "" {
		token, err := p.vault.Decrypt(account.OAuth1Token)
		if err != nil {
			return creds, fmt.Errorf("decrypting oauth1 token: %w", err)
		}
		secret, err := p.vault.Decrypt(account.OAuth1Secret)
		if err != nil {
			return creds, fmt.Errorf("decrypting oauth1 secret: %w", err)
		}
		creds.OAuth1Token = token
		creds.OAuth1Secret = secret
	}

	return creds, nil
}

// refreshCredentials runs exactly one refresh cycle and persists the rotated
// tokens. It never loops: the caller retries the adapter once and records
// failure if that retry fails too.
func (p *Publisher) refreshCredentials(ctx context.Context, account *models.SocialAccount, creds platform.Credentials) (platform.Credentials, error) {
	refresher, ok := p.refreshers[account.Platform]
	if !ok {
		return creds, fmt.Errorf("platform %s does not support token refresh", account.Platform)
	}
	if account.RefreshToken == "" {
		return creds, errors.New("no refresh token stored")
	}

	refreshToken, err := p.vault.Decrypt(account.RefreshToken)
	if err != nil {
		return creds, fmt.Errorf("decrypting refresh token: %w", err)
	}
	creds.RefreshToken = refreshToken

	refreshed, err := refresher.Refresh(ctx, creds)
	if err != nil {
		return creds, err
	}

	encryptedAccess, err := p.vault.Encrypt(refreshed.AccessToken)
	if err != nil {
		return creds, err
	}
	update := &models.SocialAccount{
		AccessToken:    encryptedAccess,
		TokenExpiresAt: refreshed.ExpiresAt,
	}
	if refreshed.RefreshToken != "" {
		encryptedRefresh, err := p.vault.Encrypt(refreshed.RefreshToken)
		if err != nil {
			return creds, err
		}
		update.RefreshToken = encryptedRefresh
	}

	if err := p.accounts.SetToken(ctx, account.ID, update); err != nil {
		return creds, err
	}

	creds.AccessToken = refreshed.AccessToken
	if refreshed.RefreshToken != "" {
		creds.RefreshToken = refreshed.RefreshToken
	}
	return creds, nil
}

func truncateError(err error) string {
	message := err.Error()
	if len(message) > maxErrorLen {
		message = message[:maxErrorLen]
	}
	return message
}
