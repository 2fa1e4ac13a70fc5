package post

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/a-h/respond"
	"github.com/a-h/slackrag/auth"
	"github.com/a-h/slackrag/models"
	"github.com/tmc/langchaingo/schema"
)

// New creates a handler that returns the documents the answer chain would be given for
// the text.
func New(log *slog.Logger, retriever schema.Retriever) Handler {
	return Handler{
		log:       log,
		retriever: retriever,
	}
}

type Handler struct {
	log       *slog.Logger
	retriever schema.Retriever
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.GetUser(r)
	if !ok {
		http.Error(w, "authentication not provided", http.StatusUnauthorized)
		return
	}

	var req models.ContextPostRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		h.log.Error("failed to decode body", slog.Any("error", err))
		respond.WithError(w, "failed to decode body", http.StatusBadRequest)
		return
	}

	var docs []schema.Document

	// If this is a test API key, don't use the LLM.
	if req.Text != "" && user != auth.TestUser {
		docs, err = h.retriever.GetRelevantDocuments(r.Context(), req.Text)
		if err != nil {
			h.log.Error("failed to retrieve documents", slog.Any("error", err))
			respond.WithError(w, "failed to retrieve documents", http.StatusInternalServerError)
			return
		}
	}

	resp := models.ContextPostResponse{
		Results: []models.ContextDocument{},
	}
	for _, doc := range docs {
		metadata := make(map[string]string, len(doc.Metadata))
		for k, v := range doc.Metadata {
			metadata[k] = fmt.Sprint(v)
		}
		resp.Results = append(resp.Results, models.ContextDocument{
			Text:     doc.PageContent,
			Distance: float64(doc.Score),
			Link:     metadata["link"],
			Title:    metadata["title"],
			Metadata: metadata,
		})
	}

	respond.WithJSON(w, resp, http.StatusOK)
}
