package post

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/a-h/respond"
	"github.com/a-h/slackrag/auth"
	"github.com/a-h/slackrag/models"
	"github.com/a-h/slackrag/search"
	"github.com/a-h/slackrag/websearch"
)

type PageReader interface {
	Texts(ctx context.Context, url string) ([]string, error)
}

type TextAdder interface {
	AddTexts(ctx context.Context, texts []string, metadatas []map[string]string) error
}

func New(log *slog.Logger, reader PageReader, store TextAdder) Handler {
	return Handler{
		log:    log,
		reader: reader,
		store:  store,
		now:    time.Now,
	}
}

type Handler struct {
	log    *slog.Logger
	reader PageReader
	store  TextAdder
	now    func() time.Time
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.GetUser(r)
	if !ok {
		http.Error(w, "authentication not provided", http.StatusUnauthorized)
		return
	}

	var req models.DocumentsPostRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		h.log.Error("failed to decode body", slog.Any("error", err))
		respond.WithError(w, "failed to decode body", http.StatusBadRequest)
		return
	}
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		respond.WithError(w, "url must be an absolute http or https URL", http.StatusBadRequest)
		return
	}

	// If this is a test API key, don't load or embed anything.
	if user == auth.TestUser {
		respond.WithJSON(w, models.DocumentsPostResponse{}, http.StatusOK)
		return
	}

	chunks, err := h.reader.Texts(r.Context(), req.URL)
	if err != nil {
		h.log.Error("failed to read page", slog.String("url", req.URL), slog.Any("error", err))
		respond.WithError(w, "failed to read page", http.StatusBadGateway)
		return
	}

	result := search.Result{
		Title:    req.Title,
		Link:     req.URL,
		FileName: search.FileName(req.URL),
	}
	now := h.now().In(websearch.JST)
	texts := make([]string, len(chunks))
	metadatas := make([]map[string]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = websearch.RecordText(result, chunk)
		metadatas[i] = websearch.Metadata(now, "", "", result, chunk)
	}
	if err = h.store.AddTexts(r.Context(), texts, metadatas); err != nil {
		h.log.Error("failed to add texts", slog.Any("error", err))
		respond.WithError(w, "failed to add texts", http.StatusInternalServerError)
		return
	}
	h.log.Info("document added", slog.String("user", user), slog.String("url", req.URL), slog.Int("chunks", len(chunks)))

	respond.WithJSON(w, models.DocumentsPostResponse{Chunks: len(chunks)}, http.StatusOK)
}
