package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/maheshrc27/postpilot/internal/models"
)

const linkedinVersion = "202411"

// LinkedinAdapter publishes member posts. Image posts go through the
// three-step flow: initialize an upload owned by the author URN, PUT the raw
// bytes to the returned URL, then create the post referencing the image URN.
type LinkedinAdapter struct {
	BaseURL string
	HTTP    *http.Client
}

func NewLinkedinAdapter() *LinkedinAdapter {
	return &LinkedinAdapter{
		BaseURL: "https://api.linkedin.com",
		HTTP:    http.DefaultClient,
	}
}

func (a *LinkedinAdapter) Platform() string {
	return models.PlatformLinkedin
}

func (a *LinkedinAdapter) authorURN(creds Credentials) string {
	return "urn:li:person:" + creds.AccountID
}

func (a *LinkedinAdapter) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	author := a.authorURN(req.Creds)

	var imageURN string
	if img, ok := firstOfKind(req.Media, models.MediaKindImage); ok {
		data, err := fetchBytes(ctx, a.HTTP, a.Platform(), img.URL)
		if err != nil {
			return nil, err
		}
		imageURN, err = a.uploadImage(ctx, req.Creds, author, data)
		if err != nil {
			return nil, err
		}
	}

	payload := map[string]interface{}{
		"author":     author,
		"commentary": req.Caption,
		"visibility": "PUBLIC",
		"distribution": map[string]interface{}{
			"feedDistribution":               "MAIN_FEED",
			"targetEntities":                 []interface{}{},
			"thirdPartyDistributionChannels": []interface{}{},
		},
		"lifecycleState":            "PUBLISHED",
		"isReshareDisabledByAuthor": false,
	}
	if imageURN != "" {
		payload["content"] = map[string]interface{}{
			"media": map[string]string{"id": imageURN},
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, netError(a.Platform(), err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/rest/posts", bytes.NewBuffer(body))
	if err != nil {
		return nil, netError(a.Platform(), err)
	}
	a.setHeaders(httpReq, req.Creds)

	resp, err := a.HTTP.Do(httpReq)
	if err != nil {
		return nil, netError(a.Platform(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, netError(a.Platform(), err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, apiError(a.Platform(), resp.StatusCode, respBody)
	}

	postURN := resp.Header.Get("x-restli-id")
	if postURN == "" {
		return nil, rejected(a.Platform(), "no post urn returned")
	}

	return &PublishResult{PlatformPostID: postURN}, nil
}

func (a *LinkedinAdapter) uploadImage(ctx context.Context, creds Credentials, author string, data []byte) (string, error) {
	initPayload := map[string]interface{}{
		"initializeUploadRequest": map[string]string{"owner": author},
	}
	body, err := json.Marshal(initPayload)
	if err != nil {
		return "", netError(a.Platform(), err)
	}

	initURL := a.BaseURL + "/rest/images?action=initializeUpload"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, initURL, bytes.NewBuffer(body))
	if err != nil {
		return "", netError(a.Platform(), err)
	}
	a.setHeaders(req, creds)

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return "", netError(a.Platform(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", netError(a.Platform(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", apiError(a.Platform(), resp.StatusCode, respBody)
	}

	var initResult struct {
		Value struct {
			UploadURL string `json:"uploadUrl"`
			Image     string `json:"image"`
		} `json:"value"`
	}
	if err := json.Unmarshal(respBody, &initResult); err != nil {
		return "", netError(a.Platform(), err)
	}
	if initResult.Value.UploadURL == "" || initResult.Value.Image == "" {
		return "", rejected(a.Platform(), "initializeUpload returned no upload url")
	}

	putReq, err := http.NewRequestWithContext(ctx, http.MethodPut, initResult.Value.UploadURL, bytes.NewReader(data))
	if err != nil {
		return "", netError(a.Platform(), err)
	}
	putReq.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	putReq.Header.Set("Content-Type", "application/octet-stream")

	putResp, err := a.HTTP.Do(putReq)
	if err != nil {
		return "", netError(a.Platform(), err)
	}
	defer putResp.Body.Close()

	if putResp.StatusCode >= 300 {
		putBody, _ := io.ReadAll(putResp.Body)
		return "", apiError(a.Platform(), putResp.StatusCode, putBody)
	}

	return initResult.Value.Image, nil
}

func (a *LinkedinAdapter) setHeaders(req *http.Request, creds Credentials) {
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("LinkedIn-Version", linkedinVersion)
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")
}

func (a *LinkedinAdapter) ListComments(ctx context.Context, creds Credentials, platformPostID string) ([]Comment, error) {
	commentsURL := fmt.Sprintf("%s/rest/socialActions/%s/comments", a.BaseURL, url.PathEscape(platformPostID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, commentsURL, nil)
	if err != nil {
		return nil, netError(a.Platform(), err)
	}
	a.setHeaders(req, creds)

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
		Elements []struct {
			CommentURN string `json:"commentUrn"`
			Actor      string `json:"actor"`
			Message    struct {
				Text string `json:"text"`
			} `json:"message"`
		} `json:"elements"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, netError(a.Platform(), err)
	}

	comments := make([]Comment, 0, len(result.Elements))
	for _, c := range result.Elements {
		comments = append(comments, Comment{ID: c.CommentURN, AuthorID: c.Actor, Text: c.Message.Text})
	}
	return comments, nil
}

// Reply creates a nested comment addressed with the author actor URN and the
// parent comment URN.
func (a *LinkedinAdapter) Reply(ctx context.Context, creds Credentials, platformPostID string, comment Comment, text string, private bool) error {
	payload := map[string]interface{}{
		"actor":         a.authorURN(creds),
		"message":       map[string]string{"text": text},
		"parentComment": comment.ID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return netError(a.Platform(), err)
	}

	replyURL := fmt.Sprintf("%s/rest/socialActions/%s/comments", a.BaseURL, url.PathEscape(platformPostID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, replyURL, bytes.NewBuffer(body))
	if err != nil {
		return netError(a.Platform(), err)
	}
	a.setHeaders(req, creds)

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return netError(a.Platform(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return apiError(a.Platform(), resp.StatusCode, respBody)
	}
	return nil
}
