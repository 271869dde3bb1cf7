package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/maheshrc27/postpilot/internal/models"
)

const instagramGraphVersion = "v21.0"

// InstagramAdapter publishes through the Instagram Graph API: create a media
// container from an image URL, then publish the container. Requires a
// business or creator account with at least one image.
type InstagramAdapter struct {
	BaseURL string
	HTTP    *http.Client
}

func NewInstagramAdapter() *InstagramAdapter {
	return &InstagramAdapter{
		BaseURL: "https://graph.instagram.com",
		HTTP:    http.DefaultClient,
	}
}

func (a *InstagramAdapter) Platform() string {
	return models.PlatformInstagram
}

func (a *InstagramAdapter) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	images := imagesOnly(req.Media)
	if len(images) == 0 {
		return nil, rejected(a.Platform(), "instagram requires at least one image")
	}

	var creationID string
	var err error
	if len(images) == 1 {
		creationID, err = a.createContainer(ctx, req.Creds, map[string]interface{}{
			"image_url":    images[0].URL,
			"caption":      req.Caption,
			"access_token": req.Creds.AccessToken,
		})
	} else {
		creationID, err = a.createCarousel(ctx, req.Creds, req.Caption, images)
	}
	if err != nil {
		return nil, err
	}

	postID, err := a.publishContainer(ctx, req.Creds, creationID)
	if err != nil {
		return nil, err
	}

	return &PublishResult{PlatformPostID: postID}, nil
}

func (a *InstagramAdapter) createCarousel(ctx context.Context, creds Credentials, caption string, images []models.MediaItem) (string, error) {
	childIDs := make([]string, 0, len(images))
	for _, img := range images {
		id, err := a.createContainer(ctx, creds, map[string]interface{}{
			"image_url":        img.URL,
			"is_carousel_item": true,
			"access_token":     creds.AccessToken,
		})
		if err != nil {
			return "", err
		}
		childIDs = append(childIDs, id)
	}

	return a.createContainer(ctx, creds, map[string]interface{}{
		"media_type":   "CAROUSEL",
		"caption":      caption,
		"children":     childIDs,
		"access_token": creds.AccessToken,
	})
}

func (a *InstagramAdapter) createContainer(ctx context.Context, creds Credentials, payload map[string]interface{}) (string, error) {
	url := fmt.Sprintf("%s/%s/%s/media", a.BaseURL, instagramGraphVersion, creds.AccountID)

	result, err := a.postJSON(ctx, url, payload)
	if err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", rejected(a.Platform(), "no media container id returned")
	}
	return result.ID, nil
}

func (a *InstagramAdapter) publishContainer(ctx context.Context, creds Credentials, creationID string) (string, error) {
	url := fmt.Sprintf("%s/%s/%s/media_publish", a.BaseURL, instagramGraphVersion, creds.AccountID)

	result, err := a.postJSON(ctx, url, map[string]interface{}{
		"creation_id":  creationID,
		"access_token": creds.AccessToken,
	})
	if err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", rejected(a.Platform(), "no media id returned from media_publish")
	}
	return result.ID, nil
}

func (a *InstagramAdapter) postJSON(ctx context.Context, url string, payload interface{}) (*graphIDResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, netError(a.Platform(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, netError(a.Platform(), err)
	}
	req.Header.Set("Content-Type", "application/json")

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

	var result graphIDResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, netError(a.Platform(), err)
	}
	return &result, nil
}

type graphIDResponse struct {
	ID string `json:"id"`
}

// ListComments fetches comments on a published media object.
func (a *InstagramAdapter) ListComments(ctx context.Context, creds Credentials, platformPostID string) ([]Comment, error) {
	url := fmt.Sprintf("%s/%s/%s/comments?fields=id,text,from&access_token=%s",
		a.BaseURL, instagramGraphVersion, platformPostID, creds.AccessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
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
			ID   string `json:"id"`
			Text string `json:"text"`
			From struct {
				ID string `json:"id"`
			} `json:"from"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, netError(a.Platform(), err)
	}

	comments := make([]Comment, 0, len(result.Data))
	for _, c := range result.Data {
		comments = append(comments, Comment{ID: c.ID, AuthorID: c.From.ID, Text: c.Text})
	}
	return comments, nil
}

// Reply answers a comment publicly, or as a private message when configured.
func (a *InstagramAdapter) Reply(ctx context.Context, creds Credentials, platformPostID string, comment Comment, text string, private bool) error {
	var url string
	var payload map[string]interface{}

	if private {
		url = fmt.Sprintf("%s/%s/me/messages?access_token=%s", a.BaseURL, instagramGraphVersion, creds.AccessToken)
		payload = map[string]interface{}{
			"recipient": map[string]string{"comment_id": comment.ID},
			"message":   map[string]string{"text": text},
		}
	} else {
		url = fmt.Sprintf("%s/%s/%s/replies", a.BaseURL, instagramGraphVersion, comment.ID)
		payload = map[string]interface{}{
			"message":      text,
			"access_token": creds.AccessToken,
		}
	}

	_, err := a.postJSON(ctx, url, payload)
	return err
}
