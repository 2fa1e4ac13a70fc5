package gcs

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/option"
)

func TestObjectName(t *testing.T) {
	now := time.Date(2024, 3, 2, 8, 30, 5, 0, time.UTC)
	actual := ObjectName("banner.png", now)
	expected := "slack_banner.png_20240302083005.png"
	if actual != expected {
		t.Errorf("expected %q, got %q", expected, actual)
	}
}

func TestUpload(t *testing.T) {
	var m sync.Mutex
	var path, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Lock()
		defer m.Unlock()
		path = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"bucket":"archive","name":"slack_a.png_20240302083005.png"}`)
	}))
	defer srv.Close()

	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	u, err := New(ctx, log, "archive", option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication())
	if err != nil {
		t.Fatalf("failed to create uploader: %v", err)
	}

	uri, err := u.Upload(ctx, "slack_a.png_20240302083005.png", []byte("image-bytes"), "image/png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uri != "gs://archive/slack_a.png_20240302083005.png" {
		t.Errorf("unexpected URI: %q", uri)
	}

	m.Lock()
	defer m.Unlock()
	if !strings.HasSuffix(path, "/b/archive/o") {
		t.Errorf("unexpected path: %q", path)
	}
	if !strings.Contains(body, "slack_a.png_20240302083005.png") {
		t.Errorf("expected the object name in the request, got %q", body)
	}
	if !strings.Contains(body, "image-bytes") {
		t.Errorf("expected the image in the request, got %q", body)
	}
}

func TestUploadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":403,"message":"forbidden"}}`, http.StatusForbidden)
	}))
	defer srv.Close()

	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	u, err := New(ctx, log, "archive", option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication())
	if err != nil {
		t.Fatalf("failed to create uploader: %v", err)
	}
	if _, err = u.Upload(ctx, "a.png", []byte("x"), "image/png"); err == nil {
		t.Fatal("expected error, got nil")
	}
}
