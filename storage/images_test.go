package storage

import (
	"strings"
	"testing"
)

func TestBuildObjectName(t *testing.T) {
	name := buildObjectName("photo.png", "image/png", []string{"users", "7", "originals"})
	if !strings.HasPrefix(name, "users/7/originals/") {
		t.Fatalf("object name = %q", name)
	}
	if !strings.HasSuffix(name, ".png") {
		t.Fatalf("extension missing: %q", name)
	}

	// Segments are sanitized; empty ones disappear.
	name = buildObjectName("", "image/webp", []string{"/uploads/", ""})
	if !strings.HasPrefix(name, "uploads/") || !strings.HasSuffix(name, ".webp") {
		t.Fatalf("object name = %q", name)
	}

	// No segments puts the object at the bucket root.
	name = buildObjectName("", "image/jpeg", nil)
	if strings.Contains(name, "/") {
		t.Fatalf("rootless name contains a folder: %q", name)
	}
}

func TestObjectNameFromURL(t *testing.T) {
	store := &ImageStore{bucket: "plushify", publicURL: "https://cdn.example.com"}

	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"https://cdn.example.com/plushify/users/1/a.png", "users/1/a.png", true},
		{"/plushify/users/1/a.png", "users/1/a.png", true},
		{"users/1/a.png", "users/1/a.png", true},
		{"https://elsewhere.example.com/plushify/users/1/a.png", "", false},
		{"", "", false},
	}

	for _, tc := range cases {
		got, ok := store.objectNameFromURL(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("objectNameFromURL(%q) = %q/%v, want %q/%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestBuildPublicURL(t *testing.T) {
	store := &ImageStore{bucket: "plushify", publicURL: "https://cdn.example.com/"}

	got := store.buildPublicURL("/users/1/a.png")
	want := "https://cdn.example.com/plushify/users/1/a.png"
	if got != want {
		t.Fatalf("public URL = %q, want %q", got, want)
	}
}

func TestIsAllowedImageContent(t *testing.T) {
	allowed := []string{"image/png", "IMAGE/PNG", "image/jpeg", "image/webp", "image/gif", " image/png "}
	for _, contentType := range allowed {
		if !isAllowedImageContent(contentType) {
			t.Fatalf("%q rejected", contentType)
		}
	}

	rejected := []string{"image/svg+xml", "application/pdf", "text/html", ""}
	for _, contentType := range rejected {
		if isAllowedImageContent(contentType) {
			t.Fatalf("%q accepted", contentType)
		}
	}
}

func TestImageExtension(t *testing.T) {
	cases := []struct {
		filename    string
		contentType string
		want        string
	}{
		{"", "image/png", ".png"},
		{"", "image/jpeg", ".jpg"},
		{"", "image/webp", ".webp"},
		{"photo.JPG", "application/octet-stream", ".jpg"},
		{"noext", "", ".bin"},
	}

	for _, tc := range cases {
		if got := imageExtension(tc.filename, tc.contentType); got != tc.want {
			t.Fatalf("imageExtension(%q, %q) = %q, want %q", tc.filename, tc.contentType, got, tc.want)
		}
	}
}
