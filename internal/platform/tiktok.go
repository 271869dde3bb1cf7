package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/maheshrc27/postpilot/internal/models"
	"github.com/maheshrc27/postpilot/internal/transfer"
)

// TiktokAdapter publishes through the Content Posting API using
// PULL_FROM_URL sources: videos via video/init, photo posts via content/init.
type TiktokAdapter struct {
	BaseURL string
	HTTP    *http.Client
}

func NewTiktokAdapter() *TiktokAdapter {
	return &TiktokAdapter{
		BaseURL: "https://open.tiktokapis.com",
		HTTP:    http.DefaultClient,
	}
}

func (a *TiktokAdapter) Platform() string {
	return models.PlatformTiktok
}

func (a *TiktokAdapter) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	if video, ok := firstOfKind(req.Media, models.MediaKindVideo); ok {
		return a.publishVideo(ctx, req, video)
	}

	images := imagesOnly(req.Media)
	if len(images) == 0 {
		return nil, rejected(a.Platform(), "tiktok requires a video or at least one photo")
	}
	return a.publishPhotos(ctx, req, images)
}

func (a *TiktokAdapter) publishVideo(ctx context.Context, req PublishRequest, video models.MediaItem) (*PublishResult, error) {
	uploadRequest := transfer.VideoUploadRequest{
		PostInfo: transfer.VideoPostInfo{
			Title:                 req.Caption,
			PrivacyLevel:          "PUBLIC_TO_EVERYONE",
			VideoCoverTimestampMs: 1000,
		},
		SourceInfo: transfer.VideoSourceInfo{
			Source:   "PULL_FROM_URL",
			VideoURL: video.URL,
		},
	}

	return a.initPublish(ctx, req.Creds, "/v2/post/publish/video/init/", uploadRequest)
}

func (a *TiktokAdapter) publishPhotos(ctx context.Context, req PublishRequest, images []models.MediaItem) (*PublishResult, error) {
	photoURLs := make([]string, 0, len(images))
	for _, img := range images {
		photoURLs = append(photoURLs, img.URL)
	}

	uploadRequest := transfer.PhotoUploadRequest{
		PostInfo: transfer.PhotoPostInfo{
			Title:        req.Caption,
			PrivacyLevel: "PUBLIC_TO_EVERYONE",
			AutoAddMusic: true,
		},
		SourceInfo: transfer.PhotoSourceInfo{
			Source:          "PULL_FROM_URL",
			PhotoCoverIndex: 0,
			PhotoImages:     photoURLs,
		},
		PostMode:  "DIRECT_POST",
		MediaType: "PHOTO",
	}

	return a.initPublish(ctx, req.Creds, "/v2/post/publish/content/init/", uploadRequest)
}

func (a *TiktokAdapter) initPublish(ctx context.Context, creds Credentials, path string, payload interface{}) (*PublishResult, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, netError(a.Platform(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, netError(a.Platform(), err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

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

	var result transfer.TikTokUploadResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, netError(a.Platform(), err)
	}
	if result.Error.Code != "" && result.Error.Code != "ok" {
		return nil, rejected(a.Platform(), result.Error.Message)
	}
	if result.Data.PublishID == "" {
		return nil, rejected(a.Platform(), "no publish id returned")
	}

	return &PublishResult{PlatformPostID: result.Data.PublishID}, nil
}

// TiktokRefresher rotates tokens with the refresh_token grant.
type TiktokRefresher struct {
	ClientKey    string
	ClientSecret string
	TokenURL     string
	HTTP         *http.Client
}

func NewTiktokRefresher(clientKey, clientSecret string) *TiktokRefresher {
	return &TiktokRefresher{
		ClientKey:    clientKey,
		ClientSecret: clientSecret,
		TokenURL:     "https://open.tiktokapis.com/v2/oauth/token/",
		HTTP:         http.DefaultClient,
	}
}

func (r *TiktokRefresher) Refresh(ctx context.Context, creds Credentials) (*RefreshedToken, error) {
	if creds.RefreshToken == "" {
		return nil, rejected(models.PlatformTiktok, "no refresh token stored")
	}

	data := url.Values{}
	data.Set("client_key", r.ClientKey)
	data.Set("client_secret", r.ClientSecret)
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", creds.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, netError(models.PlatformTiktok, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.HTTP.Do(req)
	if err != nil {
		return nil, netError(models.PlatformTiktok, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, netError(models.PlatformTiktok, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(models.PlatformTiktok, resp.StatusCode, respBody)
	}

	var result transfer.TiktokTokenResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, netError(models.PlatformTiktok, err)
	}
	if result.AccessToken == "" {
		return nil, apiError(models.PlatformTiktok, resp.StatusCode, respBody)
	}

	return &RefreshedToken{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresAt:    transfer.ExpiresAt(result.ExpiresIn),
	}, nil
}
