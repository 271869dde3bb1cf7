package platform

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/maheshrc27/postpilot/internal/models"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// YoutubeAdapter uploads a video through the Data API. The media file is
// pulled from its URL into a temp file first because the upload call needs a
// seekable reader.
type YoutubeAdapter struct {
	HTTP *http.Client
}

func NewYoutubeAdapter() *YoutubeAdapter {
	return &YoutubeAdapter{HTTP: http.DefaultClient}
}

func (a *YoutubeAdapter) Platform() string {
	return models.PlatformYoutube
}

func (a *YoutubeAdapter) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	video, ok := firstOfKind(req.Media, models.MediaKindVideo)
	if !ok {
		return nil, rejected(a.Platform(), "youtube requires a video")
	}

	tempFile, err := a.downloadVideo(ctx, video.URL)
	if err != nil {
		return nil, err
	}
	defer os.Remove(tempFile)

	file, err := os.Open(tempFile)
	if err != nil {
		return nil, netError(a.Platform(), err)
	}
	defer file.Close()

	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: req.Creds.AccessToken}))
	service, err := youtube.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, netError(a.Platform(), err)
	}

	upload := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       req.Title,
			Description: req.Caption,
			CategoryId:  "22",
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus: "public",
		},
	}

	call := service.Videos.Insert([]string{"snippet", "status"}, upload)
	response, err := call.Media(file).Context(ctx).Do()
	if err != nil {
		return nil, netError(a.Platform(), err)
	}

	return &PublishResult{PlatformPostID: response.Id}, nil
}

func (a *YoutubeAdapter) downloadVideo(ctx context.Context, videoURL string) (string, error) {
	tempFile, err := os.CreateTemp("", "upload-*.mp4")
	if err != nil {
		return "", netError(a.Platform(), err)
	}
	defer tempFile.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURL, nil)
	if err != nil {
		os.Remove(tempFile.Name())
		return "", netError(a.Platform(), err)
	}

	resp, err := a.HTTP.Do(req)
	if err != nil {
		os.Remove(tempFile.Name())
		return "", netError(a.Platform(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		os.Remove(tempFile.Name())
		return "", netError(a.Platform(), fmt.Errorf("downloading video: status %d", resp.StatusCode))
	}

	if _, err := io.Copy(tempFile, resp.Body); err != nil {
		os.Remove(tempFile.Name())
		return "", netError(a.Platform(), err)
	}

	return tempFile.Name(), nil
}

// YoutubeRefresher rotates tokens against the Google OAuth2 endpoint.
type YoutubeRefresher struct {
	ClientID     string
	ClientSecret string
}

func NewYoutubeRefresher(clientID, clientSecret string) *YoutubeRefresher {
	return &YoutubeRefresher{ClientID: clientID, ClientSecret: clientSecret}
}

func (r *YoutubeRefresher) Refresh(ctx context.Context, creds Credentials) (*RefreshedToken, error) {
	if creds.RefreshToken == "" {
		return nil, rejected(models.PlatformYoutube, "no refresh token stored")
	}

	conf := &oauth2.Config{
		ClientID:     r.ClientID,
		ClientSecret: r.ClientSecret,
		Scopes:       []string{"https://www.googleapis.com/auth/youtube.upload"},
		Endpoint:     google.Endpoint,
	}

	tokenSource := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})
	token, err := tokenSource.Token()
	if err != nil {
		return nil, netError(models.PlatformYoutube, err)
	}

	return &RefreshedToken{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}, nil
}
