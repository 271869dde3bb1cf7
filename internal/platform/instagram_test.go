package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/maheshrc27/postpilot/internal/models"
)

func testInstagramAdapter(url string) *InstagramAdapter {
	return &InstagramAdapter{BaseURL: url, HTTP: http.DefaultClient}
}

func TestInstagramPublishSingleImage(t *testing.T) {
	var containerPayload map[string]interface{}
	var publishPayload map[string]interface{}

	mux := http.NewServeMux()
	mux.HandleFunc("/v21.0/acc-1/media", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&containerPayload)
		w.Write([]byte(`{"id":"container-1"}`))
	})
	mux.HandleFunc("/v21.0/acc-1/media_publish", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&publishPayload)
		w.Write([]byte(`{"id":"media-1"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	a := testInstagramAdapter(server.URL)
	result, err := a.Publish(context.Background(), PublishRequest{
		Caption: "sunset",
		Media:   []models.MediaItem{{URL: "https://cdn.example.com/a.jpg", Kind: models.MediaKindImage}},
		Creds:   Credentials{AccountID: "acc-1", AccessToken: "tok"},
	})
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	if result.PlatformPostID != "media-1" {
		t.Errorf("post id = %q, want media-1", result.PlatformPostID)
	}
	if containerPayload["image_url"] != "https://cdn.example.com/a.jpg" {
		t.Errorf("container image_url = %v", containerPayload["image_url"])
	}
	if containerPayload["caption"] != "sunset" {
		t.Errorf("container caption = %v", containerPayload["caption"])
	}
	if publishPayload["creation_id"] != "container-1" {
		t.Errorf("publish creation_id = %v", publishPayload["creation_id"])
	}
}

func TestInstagramPublishCarousel(t *testing.T) {
	containerCalls := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/v21.0/acc-1/media", func(w http.ResponseWriter, r *http.Request) {
		containerCalls++
		var payload map[string]interface{}
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["media_type"] == "CAROUSEL" {
			children, _ := payload["children"].([]interface{})
			if len(children) != 2 {
				t.Errorf("carousel children = %v, want 2", children)
			}
			w.Write([]byte(`{"id":"carousel-1"}`))
			return
		}
		if payload["is_carousel_item"] != true {
			t.Error("child container should be marked is_carousel_item")
		}
		fmt.Fprintf(w, `{"id":"child-%d"}`, containerCalls)
	})
	mux.HandleFunc("/v21.0/acc-1/media_publish", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"media-2"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	a := testInstagramAdapter(server.URL)
	result, err := a.Publish(context.Background(), PublishRequest{
		Caption: "album",
		Media: []models.MediaItem{
			{URL: "https://cdn.example.com/a.jpg", Kind: models.MediaKindImage},
			{URL: "https://cdn.example.com/b.jpg", Kind: models.MediaKindImage},
		},
		Creds: Credentials{AccountID: "acc-1", AccessToken: "tok"},
	})
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	if result.PlatformPostID != "media-2" {
		t.Errorf("post id = %q, want media-2", result.PlatformPostID)
	}
	// Two children plus the carousel container itself.
	if containerCalls != 3 {
		t.Errorf("container calls = %d, want 3", containerCalls)
	}
}

func TestInstagramPublishRejectsWithoutImages(t *testing.T) {
	a := testInstagramAdapter("http://unused")
	_, err := a.Publish(context.Background(), PublishRequest{
		Caption: "text only",
		Media:   []models.MediaItem{{URL: "https://cdn.example.com/v.mp4", Kind: models.MediaKindVideo}},
		Creds:   Credentials{AccountID: "acc-1", AccessToken: "tok"},
	})

	var pe *Error
	if !asPlatformError(err, &pe) || !pe.Permanent {
		t.Fatalf("err = %v, want a permanent platform error", err)
	}
}
