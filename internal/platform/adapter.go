package platform

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/maheshrc27/postpilot/internal/models"
)

// Credentials are the decrypted tokens for one connected account. The vault
// stays outside this package; adapters only ever see plaintext.
type Credentials struct {
	AccountID    string
	AccountName  string
	AccessToken  string
	RefreshToken string
	OAuth1Token  string
	OAuth1Secret string
}

type PublishRequest struct {
	Caption string
	Title   string
	Media   []models.MediaItem
	Creds   Credentials
}

type PublishResult struct {
	PlatformPostID string
	// MediaSkipped marks a degraded publish: the text went out but the media
	// upload was refused (Twitter 403 case).
	MediaSkipped bool
}

// Adapter publishes one post to one platform.
type Adapter interface {
	Platform() string
	Publish(ctx context.Context, req PublishRequest) (*PublishResult, error)
}

type Comment struct {
	ID       string
	AuthorID string
	Text     string
}

// CommentClient is implemented by adapters whose platform supports the
// keyword auto-reply flow.
type CommentClient interface {
	ListComments(ctx context.Context, creds Credentials, platformPostID string) ([]Comment, error)
	Reply(ctx context.Context, creds Credentials, platformPostID string, comment Comment, text string, private bool) error
}

type RefreshedToken struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Refresher exchanges a refresh token for fresh credentials where the
// platform supports it.
type Refresher interface {
	Refresh(ctx context.Context, creds Credentials) (*RefreshedToken, error)
}

// Registry maps platform name to adapter, replacing per-platform switches.
type Registry map[string]Adapter

func (r Registry) Adapter(platformName string) (Adapter, bool) {
	a, ok := r[platformName]
	return a, ok
}

// CommentClients filters the registry down to adapters that can run comment
// automation.
func (r Registry) CommentClients() map[string]CommentClient {
	clients := make(map[string]CommentClient)
	for name, a := range r {
		if c, ok := a.(CommentClient); ok {
			clients[name] = c
		}
	}
	return clients
}

func firstOfKind(media []models.MediaItem, kind string) (models.MediaItem, bool) {
	for _, m := range media {
		if m.Kind == kind {
			return m, true
		}
	}
	return models.MediaItem{}, false
}

func imagesOnly(media []models.MediaItem) []models.MediaItem {
	var images []models.MediaItem
	for _, m := range media {
		if m.Kind == models.MediaKindImage {
			images = append(images, m)
		}
	}
	return images
}

func fetchBytes(ctx context.Context, client *http.Client, platformName, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, netError(platformName, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, netError(platformName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, netError(platformName, fmt.Errorf("fetching media %s: status %d", url, resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, netError(platformName, err)
	}
	return data, nil
}
