package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/dghubble/oauth1"
	"github.com/maheshrc27/postpilot/internal/models"
	"golang.org/x/oauth2"
)

// TweetMaxLen is the hard caption limit; anything longer is truncated before
// the outbound call.
const TweetMaxLen = 280

// TwitterAdapter posts tweets via the v2 API. Media upload prefers the legacy
// v1.1 user-context endpoint when an OAuth 1.0a token pair is stored, then
// the v2 bearer endpoint, falling back to v1.1 with the bearer token. A 403
// on media upload degrades to a text-only tweet instead of failing the
// target.
type TwitterAdapter struct {
	APIBaseURL     string
	UploadBaseURL  string
	ConsumerKey    string
	ConsumerSecret string
	HTTP           *http.Client
}

func NewTwitterAdapter(consumerKey, consumerSecret string) *TwitterAdapter {
	return &TwitterAdapter{
		APIBaseURL:     "https://api.twitter.com",
		UploadBaseURL:  "https://upload.twitter.com",
		ConsumerKey:    consumerKey,
		ConsumerSecret: consumerSecret,
		HTTP:           http.DefaultClient,
	}
}

func (a *TwitterAdapter) Platform() string {
	return models.PlatformTwitter
}

// TruncateTweet cuts text to the platform limit on rune boundaries.
func TruncateTweet(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

func (a *TwitterAdapter) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	text := TruncateTweet(req.Caption, TweetMaxLen)

	var mediaIDs []string
	mediaSkipped := false

	if img, ok := firstOfKind(req.Media, models.MediaKindImage); ok {
		data, err := fetchBytes(ctx, a.HTTP, a.Platform(), img.URL)
		if err != nil {
			return nil, err
		}

		mediaID, err := a.uploadMedia(ctx, req.Creds, data)
		if err != nil {
			var pe *Error
			if asPlatformError(err, &pe) && pe.StatusCode == http.StatusForbidden {
				// Media upload forbidden for this app tier; tweet text-only.
				mediaSkipped = true
			} else {
				return nil, err
			}
		} else {
			mediaIDs = append(mediaIDs, mediaID)
		}
	}

	payload := map[string]interface{}{"text": text}
	if len(mediaIDs) > 0 {
		payload["media"] = map[string]interface{}{"media_ids": mediaIDs}
	}

	tweetID, err := a.postTweet(ctx, req.Creds, payload)
	if err != nil {
		return nil, err
	}

	return &PublishResult{PlatformPostID: tweetID, MediaSkipped: mediaSkipped}, nil
}

func (a *TwitterAdapter) postTweet(ctx context.Context, creds Credentials, payload map[string]interface{}) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", netError(a.Platform(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.APIBaseURL+"/2/tweets", bytes.NewBuffer(body))
	if err != nil {
		return "", netError(a.Platform(), err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return "", netError(a.Platform(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", netError(a.Platform(), err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", apiError(a.Platform(), resp.StatusCode, respBody)
	}

	var result struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", netError(a.Platform(), err)
	}
	if result.Data.ID == "" {
		return "", rejected(a.Platform(), "no tweet id returned")
	}
	return result.Data.ID, nil
}

func (a *TwitterAdapter) uploadMedia(ctx context.Context, creds Credentials, data []byte) (string, error) {
	if creds.OAuth1Token != "" && creds.OAuth1Secret != "" && a.ConsumerKey != "" {
		return a.uploadMediaOAuth1(ctx, creds, data)
	}

	mediaID, err := a.uploadMediaV2(ctx, creds, data)
	if err != nil {
		var pe *Error
		if asPlatformError(err, &pe) && pe.StatusCode == http.StatusNotFound {
			// v2 media upload not available on this tier; try the v1.1 path.
			return a.uploadMediaV1(ctx, creds, data, nil)
		}
		return "", err
	}
	return mediaID, nil
}

func (a *TwitterAdapter) uploadMediaOAuth1(ctx context.Context, creds Credentials, data []byte) (string, error) {
	config := oauth1.NewConfig(a.ConsumerKey, a.ConsumerSecret)
	token := oauth1.NewToken(creds.OAuth1Token, creds.OAuth1Secret)
	client := config.Client(ctx, token)
	return a.uploadMediaV1(ctx, creds, data, client)
}

// uploadMediaV1 posts multipart media to /1.1/media/upload.json. With a nil
// client it falls back to the bearer token.
func (a *TwitterAdapter) uploadMediaV1(ctx context.Context, creds Credentials, data []byte, client *http.Client) (string, error) {
	body, contentType, err := multipartMedia(data)
	if err != nil {
		return "", netError(a.Platform(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.UploadBaseURL+"/1.1/media/upload.json", body)
	if err != nil {
		return "", netError(a.Platform(), err)
	}
	req.Header.Set("Content-Type", contentType)

	if client == nil {
		client = a.HTTP
		req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", netError(a.Platform(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", netError(a.Platform(), err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", apiError(a.Platform(), resp.StatusCode, respBody)
	}

	var result struct {
		MediaIDString string `json:"media_id_string"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", netError(a.Platform(), err)
	}
	if result.MediaIDString == "" {
		return "", rejected(a.Platform(), "no media id returned from v1.1 upload")
	}
	return result.MediaIDString, nil
}

func (a *TwitterAdapter) uploadMediaV2(ctx context.Context, creds Credentials, data []byte) (string, error) {
	body, contentType, err := multipartMedia(data)
	if err != nil {
		return "", netError(a.Platform(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.APIBaseURL+"/2/media/upload", body)
	if err != nil {
		return "", netError(a.Platform(), err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return "", netError(a.Platform(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", netError(a.Platform(), err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", apiError(a.Platform(), resp.StatusCode, respBody)
	}

	var result struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", netError(a.Platform(), err)
	}
	if result.Data.ID == "" {
		return "", rejected(a.Platform(), "no media id returned from v2 upload")
	}
	return result.Data.ID, nil
}

func multipartMedia(data []byte) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("media", "media")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}

// ListComments returns replies in the tweet's conversation, deduplicated by
// id within the fetch.
func (a *TwitterAdapter) ListComments(ctx context.Context, creds Credentials, platformPostID string) ([]Comment, error) {
	searchURL := fmt.Sprintf("%s/2/tweets/search/recent?query=conversation_id:%s&tweet.fields=author_id", a.APIBaseURL, platformPostID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, netError(a.Platform(), err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

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
			ID       string `json:"id"`
			Text     string `json:"text"`
			AuthorID string `json:"author_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, netError(a.Platform(), err)
	}

	seen := make(map[string]struct{}, len(result.Data))
	comments := make([]Comment, 0, len(result.Data))
	for _, t := range result.Data {
		if _, ok := seen[t.ID]; ok {
			continue
		}
		seen[t.ID] = struct{}{}
		comments = append(comments, Comment{ID: t.ID, AuthorID: t.AuthorID, Text: t.Text})
	}
	return comments, nil
}

// Reply posts a threaded tweet under the original comment.
func (a *TwitterAdapter) Reply(ctx context.Context, creds Credentials, platformPostID string, comment Comment, text string, private bool) error {
	payload := map[string]interface{}{
		"text":  text,
		"reply": map[string]string{"in_reply_to_tweet_id": comment.ID},
	}
	_, err := a.postTweet(ctx, creds, payload)
	return err
}

// TwitterRefresher exchanges an OAuth2 refresh token for new credentials.
type TwitterRefresher struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

func NewTwitterRefresher(clientID, clientSecret string) *TwitterRefresher {
	return &TwitterRefresher{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     "https://api.twitter.com/2/oauth2/token",
	}
}

func (r *TwitterRefresher) Refresh(ctx context.Context, creds Credentials) (*RefreshedToken, error) {
	if creds.RefreshToken == "" {
		return nil, rejected(models.PlatformTwitter, "no refresh token stored")
	}

	conf := &oauth2.Config{
		ClientID:     r.ClientID,
		ClientSecret: r.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: r.TokenURL},
	}

	tokenSource := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})
	token, err := tokenSource.Token()
	if err != nil {
		return nil, netError(models.PlatformTwitter, err)
	}

	return &RefreshedToken{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}, nil
}
