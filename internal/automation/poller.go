package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maheshrc27/postpilot/internal/models"
	"github.com/maheshrc27/postpilot/internal/platform"
	"github.com/maheshrc27/postpilot/internal/repository"
	"github.com/maheshrc27/postpilot/pkg/crypto"
)

const (
	// Replies on twitter are tweets themselves; keep headroom under the
	// 280 limit for the mention prefix the API adds.
	twitterReplyMaxLen = 256
	// After this many consecutive send failures on one target the run moves
	// on; the next run will pick the comments up again.
	maxErrorsPerTarget = 5
)

// Poller scans posted targets of automation-enabled posts and replies to
// matching comments exactly once each, using the ledger as the dedup
// primitive.
type Poller struct {
	posts    repository.PostRepository
	targets  repository.PostTargetRepository
	accounts repository.SocialAccountRepository
	ledger   repository.CommentReplyRepository
	vault    *crypto.Vault
	clients  map[string]platform.CommentClient
}

func NewPoller(
	posts repository.PostRepository,
	targets repository.PostTargetRepository,
	accounts repository.SocialAccountRepository,
	ledger repository.CommentReplyRepository,
	vault *crypto.Vault,
	clients map[string]platform.CommentClient) *Poller {
	return &Poller{
		posts:    posts,
		targets:  targets,
		accounts: accounts,
		ledger:   ledger,
		vault:    vault,
		clients:  clients,
	}
}

type RunSummary struct {
	PostsScanned   int `json:"posts_scanned"`
	TargetsScanned int `json:"targets_scanned"`
	Replied        int `json:"replied"`
	Skipped        int `json:"skipped"`
	Errors         int `json:"errors"`
}

// Run executes one polling pass over every automation-enabled posted post.
// Per-target failures are counted, logged and isolated; the pass always
// visits every target it can.
func (p *Poller) Run(ctx context.Context) (*RunSummary, error) {
	posts, err := p.posts.ListWithAutomation(ctx)
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{PostsScanned: len(posts)}
	for _, post := range posts {
		targets, err := p.targets.ListPostedWithPlatformID(ctx, post.ID)
		if err != nil {
			slog.Info(err.Error())
			summary.Errors++
			continue
		}

		for _, target := range targets {
			summary.TargetsScanned++
			p.pollTarget(ctx, post, target, summary)
		}
	}

	return summary, nil
}

func (p *Poller) pollTarget(ctx context.Context, post *models.Post, target *models.PostTarget, summary *RunSummary) {
	client, ok := p.clients[target.Platform]
	if !ok {
		return
	}

	template, ok := post.ReplyTemplate[target.Platform]
	if !ok || template == "" {
		return
	}

	account, err := p.accounts.GetByID(ctx, target.AccountID)
	if err != nil || account == nil {
		slog.Info(fmt.Sprintf("poll target %d: account %d unavailable", target.ID, target.AccountID))
		summary.Errors++
		return
	}

	creds, err := p.decryptCredentials(account)
	if err != nil {
		slog.Info(err.Error())
		summary.Errors++
		return
	}

	comments, err := client.ListComments(ctx, creds, target.PlatformPostID)
	if err != nil {
		slog.Info(fmt.Sprintf("listing comments for target %d: %v", target.ID, err))
		summary.Errors++
		return
	}

	replyText := template
	if target.Platform == models.PlatformTwitter {
		replyText = truncateRunes(replyText, twitterReplyMaxLen)
	}

	sendErrors := 0
	for _, comment := range comments {
		if sendErrors >= maxErrorsPerTarget {
			break
		}
		// Never reply to our own replies, or the bot talks to itself.
		if comment.AuthorID != "" && comment.AuthorID == account.AccountID {
			continue
		}
		if !Match(post.Keywords, comment.Text) {
			continue
		}

		if err := p.ledger.Insert(ctx, target.ID, comment.ID); err != nil {
			if errors.Is(err, repository.ErrDuplicateReply) {
				summary.Skipped++
				continue
			}
			summary.Errors++
			sendErrors++
			continue
		}

		if err := client.Reply(ctx, creds, target.PlatformPostID, comment, replyText, post.ReplyPrivate); err != nil {
			slog.Info(fmt.Sprintf("reply to comment %s on target %d failed: %v", comment.ID, target.ID, err))
			// Release the ledger row so the next run retries this comment.
			if delErr := p.ledger.Delete(ctx, target.ID, comment.ID); delErr != nil {
				slog.Info(delErr.Error())
			}
			summary.Errors++
			sendErrors++
			continue
		}

		summary.Replied++
	}
}

func (p *Poller) decryptCredentials(account *models.SocialAccount) (platform.Credentials, error) {
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

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
