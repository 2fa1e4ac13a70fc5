package post

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/a-h/slackrag/auth"
	"github.com/a-h/slackrag/models"
	"github.com/a-h/slackrag/search"
	"github.com/a-h/slackrag/websearch"
	"github.com/google/go-cmp/cmp"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeRunner struct {
	filterWords []string
	answer      websearch.Answer
	err         error
	calls       int
}

func (f *fakeRunner) RunQuery(ctx context.Context, prompt string, filterWords []string) (websearch.Answer, error) {
	f.calls++
	f.filterWords = filterWords
	return f.answer, f.err
}

func post(user, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body))
	if user != "" {
		r = auth.WithUser(r, user)
	}
	return r
}

func TestHandler(t *testing.T) {
	tests := []struct {
		name                string
		user                string
		body                string
		runner              *fakeRunner
		expectedStatus      int
		expectedResponse    *models.QueryPostResponse
		expectedFilterWords []string
		expectedCalls       int
	}{
		{
			name:           "unauthenticated requests are rejected",
			body:           `{"text":"hello"}`,
			runner:         &fakeRunner{},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "invalid JSON is a bad request",
			user:           "user-1",
			body:           `{`,
			runner:         &fakeRunner{},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "text is required",
			user:           "user-1",
			body:           `{"text":""}`,
			runner:         &fakeRunner{},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:             "the test user gets a canned answer",
			user:             auth.TestUser,
			body:             `{"text":"hello"}`,
			runner:           &fakeRunner{},
			expectedStatus:   http.StatusOK,
			expectedResponse: &models.QueryPostResponse{Query: "hello", Result: TestMessage},
		},
		{
			name:   "queries are answered",
			user:   "user-1",
			body:   `{"text":"How much is acme?","filterWords":["acme"]}`,
			runner: &fakeRunner{answer: websearch.Answer{
				Query:   "How much is acme?",
				Result:  "Acme: $10. https://example.com/pricing",
				Keyword: "pricing",
				Sources: []search.Result{{Title: "Pricing", Link: "https://example.com/pricing", FileName: "pricing"}},
			}},
			expectedStatus:   http.StatusOK,
			expectedResponse: &models.QueryPostResponse{
				Query:   "How much is acme?",
				Result:  "Acme: $10. https://example.com/pricing",
				Keyword: "pricing",
				Sources: []models.Source{{Title: "Pricing", Link: "https://example.com/pricing", FileName: "pricing"}},
			},
			expectedFilterWords: []string{"internal", "acme"},
			expectedCalls:       1,
		},
		{
			name:                "no answer is not an error",
			user:                "user-1",
			body:                `{"text":"unknown"}`,
			runner:              &fakeRunner{answer: websearch.Answer{Query: "unknown", Result: websearch.NoAnswer}},
			expectedStatus:      http.StatusOK,
			expectedResponse:    &models.QueryPostResponse{Query: "unknown", Result: "No Answer"},
			expectedFilterWords: []string{"internal"},
			expectedCalls:       1,
		},
		{
			name:                "pipeline errors are internal server errors",
			user:                "user-1",
			body:                `{"text":"hello"}`,
			runner:              &fakeRunner{err: errors.New("search unavailable")},
			expectedStatus:      http.StatusInternalServerError,
			expectedFilterWords: []string{"internal"},
			expectedCalls:       1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(discard, tt.runner, []string{"internal"})
			w := httptest.NewRecorder()
			h.ServeHTTP(w, post(tt.user, tt.body))

			if w.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
			if tt.runner.calls != tt.expectedCalls {
				t.Errorf("expected %d calls, got %d", tt.expectedCalls, tt.runner.calls)
			}
			if diff := cmp.Diff(tt.expectedFilterWords, tt.runner.filterWords); diff != "" {
				t.Errorf("unexpected filter words: %s", diff)
			}
			if tt.expectedResponse == nil {
				return
			}
			var actual models.QueryPostResponse
			if err := json.Unmarshal(w.Body.Bytes(), &actual); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if diff := cmp.Diff(*tt.expectedResponse, actual); diff != "" {
				t.Error(diff)
			}
		})
	}
}
