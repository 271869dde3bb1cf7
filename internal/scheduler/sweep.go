package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/maheshrc27/postpilot/internal/models"
	"github.com/maheshrc27/postpilot/internal/notify"
	"github.com/maheshrc27/postpilot/internal/publisher"
	"github.com/maheshrc27/postpilot/internal/repository"
)

const (
	publishTokenLength = 32
	publishTokenTTL    = 7 * 24 * time.Hour
)

// Sweeper is the stateless scheduler: it scans storage for due posts and
// either publishes them or notifies a human, depending on delivery mode. It
// coordinates with the queue worker purely through the post status claim.
type Sweeper struct {
	posts    repository.PostRepository
	tokens   repository.PublishTokenRepository
	users    repository.UserRepository
	pub      *publisher.Publisher
	notifier notify.Notifier
	appURL   string
	claimTTL time.Duration
	limit    int
}

func NewSweeper(
	posts repository.PostRepository,
	tokens repository.PublishTokenRepository,
	users repository.UserRepository,
	pub *publisher.Publisher,
	notifier notify.Notifier,
	appURL string,
	claimTTL time.Duration,
	limit int) *Sweeper {
	return &Sweeper{
		posts:    posts,
		tokens:   tokens,
		users:    users,
		pub:      pub,
		notifier: notifier,
		appURL:   appURL,
		claimTTL: claimTTL,
		limit:    limit,
	}
}

type SweepItem struct {
	PostID  int64                    `json:"post_id"`
	Action  string                   `json:"action"` // published, notified, skipped, failed
	Detail  string                   `json:"detail,omitempty"`
	Targets []publisher.TargetResult `json:"targets,omitempty"`
}

type SweepSummary struct {
	Scanned   int         `json:"scanned"`
	Published int         `json:"published"`
	Notified  int         `json:"notified"`
	Failed    int         `json:"failed"`
	Items     []SweepItem `json:"items"`
}

// Run processes one sweep. Safe to invoke repeatedly: already-handled posts
// drop out of the due predicate or are claimed away. Posts stranded in
// posting by a crashed run come back once their claim is older than the TTL.
func (s *Sweeper) Run(ctx context.Context) (*SweepSummary, error) {
	now := time.Now()
	due, err := s.posts.ListDue(ctx, now, now.Add(-s.claimTTL), s.limit)
	if err != nil {
		return nil, err
	}

	summary := &SweepSummary{Scanned: len(due), Items: make([]SweepItem, 0, len(due))}
	for _, post := range due {
		var item SweepItem
		if post.DeliveryMode == models.DeliveryModeNotify {
			item = s.notifyPost(ctx, post)
		} else {
			item = s.publishPost(ctx, post)
		}

		switch item.Action {
		case "published":
			summary.Published++
		case "notified":
			summary.Notified++
		case "failed":
			summary.Failed++
		}
		summary.Items = append(summary.Items, item)
	}

	return summary, nil
}

func (s *Sweeper) publishPost(ctx context.Context, post *models.Post) SweepItem {
	item := SweepItem{PostID: post.ID}

	results, err := s.pub.Publish(ctx, post.ID)
	if err != nil {
		if errors.Is(err, publisher.ErrAlreadyPublished) || errors.Is(err, publisher.ErrAlreadyClaimed) {
			item.Action = "skipped"
			item.Detail = err.Error()
			return item
		}
		item.Action = "failed"
		item.Detail = err.Error()
		return item
	}

	item.Targets = results
	item.Action = "published"
	for _, r := range results {
		if !r.OK {
			item.Action = "failed"
			item.Detail = reconnectHint(results)
			break
		}
	}
	return item
}

// notifyPost mints a single-use publish token and mails a link. The notified
// stamp is only written after a successful send so a failed notification is
// retried on the next sweep.
func (s *Sweeper) notifyPost(ctx context.Context, post *models.Post) SweepItem {
	item := SweepItem{PostID: post.ID}

	user, found, err := s.users.GetByID(ctx, post.UserID)
	if err != nil || !found {
		item.Action = "failed"
		item.Detail = "owner not found"
		return item
	}

	token, err := gonanoid.New(publishTokenLength)
	if err != nil {
		item.Action = "failed"
		item.Detail = err.Error()
		return item
	}

	if err := s.tokens.Create(ctx, post.ID, token, time.Now().Add(publishTokenTTL)); err != nil {
		item.Action = "failed"
		item.Detail = err.Error()
		return item
	}

	link := fmt.Sprintf("%s/publish/%s", s.appURL, token)
	if err := s.notifier.PostReady(ctx, user.Email, post, link); err != nil {
		slog.Info(fmt.Sprintf("notification for post %d failed: %v", post.ID, err))
		item.Action = "failed"
		item.Detail = "notification send failed"
		return item
	}

	if err := s.posts.MarkNotified(ctx, post.ID); err != nil {
		item.Action = "failed"
		item.Detail = err.Error()
		return item
	}

	item.Action = "notified"
	return item
}

func reconnectHint(results []publisher.TargetResult) string {
	for _, r := range results {
		if !r.OK && (r.Error != "" && !r.Transient) {
			return fmt.Sprintf("%s failed: %s; the account may need to be reconnected", r.Platform, r.Error)
		}
	}
	return "transient target failures; the post stays scheduled for the next sweep"
}
