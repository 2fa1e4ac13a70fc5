package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestAuth(t *testing.T) {
	apiKeyToUserName := map[string]string{
		"test-api-key-1": "user-1",
		"test-api-key-2": "user-2",
		"test-api-key-3": TestUser,
	}
	tests := []struct {
		name           string
		req            func() *http.Request
		expectedStatus int
		expectedUser   string
	}{
		{
			name:           "no auth header returns 401",
			req:            func() *http.Request { return httptest.NewRequest("GET", "/", nil) },
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name: "auth header not in map returns 401",
			req: func() *http.Request {
				req := httptest.NewRequest("GET", "/", nil)
				req.Header.Set("Authorization", "Bearer not-in-map")
				return req
			},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name: "auth header in map returns 200",
			req: func() *http.Request {
				req := httptest.NewRequest("GET", "/", nil)
				req.Header.Set("Authorization", "Bearer test-api-key-1")
				return req
			},
			expectedStatus: http.StatusOK,
			expectedUser:   "user-1",
		},
		{
			name: "auth header doesn't need Bearer prefix",
			req: func() *http.Request {
				req := httptest.NewRequest("GET", "/", nil)
				req.Header.Set("Authorization", "test-api-key-2")
				return req
			},
			expectedStatus: http.StatusOK,
			expectedUser:   "user-2",
		},
		{
			name: "empty bearer token returns 401",
			req: func() *http.Request {
				req := httptest.NewRequest("POST", "/query", nil)
				req.Header.Set("Authorization", "Bearer ")
				return req
			},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name: "the test user can authenticate",
			req: func() *http.Request {
				req := httptest.NewRequest("POST", "/query", nil)
				req.Header.Set("Authorization", "Bearer test-api-key-3")
				return req
			},
			expectedStatus: http.StatusOK,
			expectedUser:   TestUser,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var user string
			var ok bool
			h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				user, ok = GetUser(r)
				if !ok {
					t.Error("expected user to be set")
				}
				w.WriteHeader(http.StatusOK)
			})

			auth := New(discard, apiKeyToUserName, h)
			w := httptest.NewRecorder()
			auth.ServeHTTP(w, tt.req())
			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if user != tt.expectedUser {
				t.Errorf("expected user to be %s, got %s", tt.expectedUser, user)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		t.Helper()
		fileName := filepath.Join(dir, name)
		if err := os.WriteFile(fileName, []byte(content), 0o600); err != nil {
			t.Fatalf("failed to write file: %v", err)
		}
		return fileName
	}

	t.Run("keys are loaded", func(t *testing.T) {
		actual, err := LoadFromFile(write("keys.json", `{"key-1":"user-1","key-2":"test-user-no-llm"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		expected := map[string]string{"key-1": "user-1", "key-2": TestUser}
		if diff := cmp.Diff(expected, actual); diff != "" {
			t.Error(diff)
		}
	})
	t.Run("empty keys are rejected", func(t *testing.T) {
		if _, err := LoadFromFile(write("empty.json", `{"":"user-1"}`)); err == nil {
			t.Error("expected error, got nil")
		}
	})
	t.Run("invalid JSON is rejected", func(t *testing.T) {
		if _, err := LoadFromFile(write("invalid.json", `["key-1"]`)); err == nil {
			t.Error("expected error, got nil")
		}
	})
	t.Run("missing files are an error", func(t *testing.T) {
		if _, err := LoadFromFile(filepath.Join(dir, "missing.json")); err == nil {
			t.Error("expected error, got nil")
		}
	})
}
