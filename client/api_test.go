package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGenerateMapsPaymentRequired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		fmt.Fprint(w, `{"error":"Insufficient credits"}`)
	}))
	t.Cleanup(server.Close)

	api := New(server.URL)
	api.SetToken("tok")

	_, err := api.Generate(context.Background(), GenerateParams{ImageURL: "https://x.test/a.png", Style: "mini"})
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("err = %v, want ErrInsufficientCredits", err)
	}
}

func TestGenerateSurfacesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"Failed to generate image","details":"model exploded"}`)
	}))
	t.Cleanup(server.Close)

	api := New(server.URL)

	_, err := api.Generate(context.Background(), GenerateParams{ImageURL: "https://x.test/a.png", Style: "mini"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %T, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", apiErr.StatusCode)
	}
	if apiErr.Message != "Failed to generate image" || apiErr.Details != "model exploded" {
		t.Fatalf("unexpected error fields: %#v", apiErr)
	}
}

func TestCreatePlushDrivesTracker(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/upload-image", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		fmt.Fprint(w, `{"url":"https://blobs.test/uploads/1.png","pathname":"/uploads/1.png"}`)
	})
	mux.HandleFunc("/api/generate-plush", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization = %q", got)
		}
		fmt.Fprint(w, `{"id":"gen-1","originalImageUrl":"https://blobs.test/o.png","generatedImageUrl":"https://blobs.test/g.png","style":"mini","createdAt":"2026-01-02T03:04:05Z","creditsRemaining":4}`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	api := New(server.URL)
	api.SetToken("tok")
	tracker := NewProgressTracker()

	generation, err := api.CreatePlush(context.Background(), tracker, "photo.png", strings.NewReader("fake-image"), "mini", "high")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if generation.ID != "gen-1" || generation.CreditsRemaining != 4 {
		t.Fatalf("unexpected generation: %#v", generation)
	}
	if tracker.State() != StateComplete || tracker.Progress() != 100 {
		t.Fatalf("tracker settled wrong: %q/%d", tracker.State(), tracker.Progress())
	}
}

func TestCreatePlushFailureSettlesTracker(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/upload-image", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"url":"https://blobs.test/uploads/1.png","pathname":"/uploads/1.png"}`)
	})
	mux.HandleFunc("/api/generate-plush", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"Failed to generate image"}`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	api := New(server.URL)
	tracker := NewProgressTracker()

	_, err := api.CreatePlush(context.Background(), tracker, "photo.png", strings.NewReader("fake-image"), "mini", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if tracker.State() != StateError {
		t.Fatalf("tracker state = %q, want error", tracker.State())
	}
	if err := tracker.Reset(); err != nil {
		t.Fatalf("reset after failure: %v", err)
	}
}

func TestGalleryAndFavorite(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/gallery", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":"a","style":"mini"},{"id":"b","style":"cartoon"}]`)
	})
	mux.HandleFunc("/api/gallery/a/favorite", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %q", r.Method)
		}
		fmt.Fprint(w, `{"id":"a","style":"mini","isFavorite":true}`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	api := New(server.URL)

	listed, err := api.Gallery(context.Background())
	if err != nil {
		t.Fatalf("gallery: %v", err)
	}
	if len(listed) != 2 || listed[0].ID != "a" {
		t.Fatalf("unexpected gallery: %#v", listed)
	}

	updated, err := api.SetFavorite(context.Background(), "a", true)
	if err != nil {
		t.Fatalf("favorite: %v", err)
	}
	if !updated.IsFavorite {
		t.Fatal("favorite flag not set on response")
	}
}
