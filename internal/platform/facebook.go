package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/maheshrc27/postpilot/internal/models"
)

const facebookGraphVersion = "v21.0"

// FacebookAdapter posts to a page feed. The stored user token is not the page
// token; the page-scoped token is resolved from /me/accounts on every publish.
type FacebookAdapter struct {
	BaseURL string
	HTTP    *http.Client
}

func NewFacebookAdapter() *FacebookAdapter {
	return &FacebookAdapter{
		BaseURL: "https://graph.facebook.com",
		HTTP:    http.DefaultClient,
	}
}

func (a *FacebookAdapter) Platform() string {
	return models.PlatformFacebook
}

func (a *FacebookAdapter) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	pageID, pageToken, err := a.resolvePage(ctx, req.Creds)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("message", req.Caption)
	form.Set("access_token", pageToken)
	if img, ok := firstOfKind(req.Media, models.MediaKindImage); ok {
		form.Set("link", img.URL)
	}

	feedURL := fmt.Sprintf("%s/%s/%s/feed", a.BaseURL, facebookGraphVersion, pageID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, feedURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, netError(a.Platform(), err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.HTTP.Do(httpReq)
	if err != nil {
		return nil, netError(a.Platform(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, netError(a.Platform(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(a.Platform(), resp.StatusCode, respBody)
	}

	var result graphIDResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, netError(a.Platform(), err)
	}
	if result.ID == "" {
		return nil, rejected(a.Platform(), "no post id returned from page feed")
	}

	return &PublishResult{PlatformPostID: result.ID}, nil
}

// resolvePage finds the page matching the connected account id in the user's
// page list, falling back to the first page.
func (a *FacebookAdapter) resolvePage(ctx context.Context, creds Credentials) (string, string, error) {
	accountsURL := fmt.Sprintf("%s/%s/me/accounts?access_token=%s", a.BaseURL, facebookGraphVersion, creds.AccessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, accountsURL, nil)
	if err != nil {
		return "", "", netError(a.Platform(), err)
	}
	resp, err := a.HTTP.Do(req)
	if err != nil {
		return "", "", netError(a.Platform(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", netError(a.Platform(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", apiError(a.Platform(), resp.StatusCode, respBody)
	}

	var result struct {
		Data []struct {
			ID          string `json:"id"`
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", "", netError(a.Platform(), err)
	}
	if len(result.Data) == 0 {
		return "", "", &Error{Platform: a.Platform(), StatusCode: http.StatusForbidden, Message: "no pages available; reconnect the facebook account"}
	}

	for _, page := range result.Data {
		if page.ID == creds.AccountID {
			return page.ID, page.AccessToken, nil
		}
	}
	return result.Data[0].ID, result.Data[0].AccessToken, nil
}

func (a *FacebookAdapter) ListComments(ctx context.Context, creds Credentials, platformPostID string) ([]Comment, error) {
	_, pageToken, err := a.resolvePage(ctx, creds)
	if err != nil {
		return nil, err
	}

	commentsURL := fmt.Sprintf("%s/%s/%s/comments?fields=id,message,from&access_token=%s",
		a.BaseURL, facebookGraphVersion, platformPostID, pageToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, commentsURL, nil)
	if err != nil {
		return nil, netError(a.Platform(), err)
	}
	resp, err := a.HTTP.Do(req)
	if err != nil {
		return nil, netError(a.Platform(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, netError(a.Platform(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(a.Platform(), resp.StatusCode, respBody)
	}

	var result struct {
		Data []struct {
			ID      string `json:"id"`
			Message string `json:"message"`
			From    struct {
				ID string `json:"id"`
			} `json:"from"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, netError(a.Platform(), err)
	}

	comments := make([]Comment, 0, len(result.Data))
	for _, c := range result.Data {
		comments = append(comments, Comment{ID: c.ID, AuthorID: c.From.ID, Text: c.Message})
	}
	return comments, nil
}

func (a *FacebookAdapter) Reply(ctx context.Context, creds Credentials, platformPostID string, comment Comment, text string, private bool) error {
	pageID, pageToken, err := a.resolvePage(ctx, creds)
	if err != nil {
		return err
	}

	var replyURL string
	var payload map[string]interface{}

	if private {
		replyURL = fmt.Sprintf("%s/%s/%s/messages?access_token=%s", a.BaseURL, facebookGraphVersion, pageID, pageToken)
		payload = map[string]interface{}{
			"recipient": map[string]string{"comment_id": comment.ID},
			"message":   map[string]string{"text": text},
		}
	} else {
		replyURL = fmt.Sprintf("%s/%s/%s/comments", a.BaseURL, facebookGraphVersion, comment.ID)
		payload = map[string]interface{}{
			"message":      text,
			"access_token": pageToken,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return netError(a.Platform(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, replyURL, bytes.NewBuffer(body))
	if err != nil {
		return netError(a.Platform(), err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return netError(a.Platform(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return netError(a.Platform(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return apiError(a.Platform(), resp.StatusCode, respBody)
	}
	return nil
}
