package post

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/a-h/respond"
	"github.com/a-h/slackrag/auth"
	"github.com/a-h/slackrag/models"
	"github.com/a-h/slackrag/websearch"
)

// TestMessage is the result returned to the test user.
const TestMessage = "This is a test message."

type QueryRunner interface {
	RunQuery(ctx context.Context, prompt string, filterWords []string) (websearch.Answer, error)
}

func New(log *slog.Logger, runner QueryRunner, filterWords []string) Handler {
	return Handler{
		log:         log,
		runner:      runner,
		filterWords: filterWords,
	}
}

type Handler struct {
	log         *slog.Logger
	runner      QueryRunner
	filterWords []string
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.GetUser(r)
	if !ok {
		http.Error(w, "authentication not provided", http.StatusUnauthorized)
		return
	}

	var req models.QueryPostRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		h.log.Error("failed to decode body", slog.Any("error", err))
		respond.WithError(w, "failed to decode body", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		respond.WithError(w, "text is required", http.StatusBadRequest)
		return
	}

	// If this is a test API key, don't use the LLM.
	if user == auth.TestUser {
		respond.WithJSON(w, models.QueryPostResponse{Query: req.Text, Result: TestMessage}, http.StatusOK)
		return
	}

	filterWords := append(append([]string{}, h.filterWords...), req.FilterWords...)
	answer, err := h.runner.RunQuery(r.Context(), req.Text, filterWords)
	if err != nil {
		h.log.Error("failed to run query", slog.String("user", user), slog.Any("error", err))
		respond.WithError(w, "failed to run query", http.StatusInternalServerError)
		return
	}
	h.log.Info("query answered", slog.String("user", user), slog.String("keyword", answer.Keyword), slog.Int("sources", len(answer.Sources)))

	resp := models.QueryPostResponse{
		Query:   answer.Query,
		Result:  answer.Result,
		Keyword: answer.Keyword,
	}
	for _, s := range answer.Sources {
		resp.Sources = append(resp.Sources, models.Source{
			Title:    s.Title,
			Link:     s.Link,
			FileName: s.FileName,
		})
	}
	respond.WithJSON(w, resp, http.StatusOK)
}
