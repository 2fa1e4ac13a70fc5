package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/a-h/slackrag/db"
	"github.com/a-h/slackrag/llmguard"
	"github.com/a-h/slackrag/pgstore"
	"github.com/a-h/slackrag/vectorstore"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/googleai/vertex"
	"github.com/tmc/langchaingo/llms/ollama"
)

// ProviderFlags select the model provider and the models used for each task.
type ProviderFlags struct {
	LLMProvider      string `help:"The model provider." env:"LLM_PROVIDER" enum:"vertex,googleai,ollama" default:"vertex"`
	ProjectID        string `help:"The Google Cloud project." env:"PROJECT_ID" default:""`
	Region           string `help:"The Vertex AI region." env:"REGION" default:"asia-northeast1"`
	GoogleAPIKey     string `help:"The Gemini API key, used by the googleai provider." env:"GOOGLE_API_KEY" default:""`
	OllamaURL        string `help:"The URL of the Ollama server." env:"OLLAMA_URL" default:"http://127.0.0.1:11434/"`
	KeywordModel     string `help:"The model that extracts search keywords." env:"GEMINI_MODEL_NAME" default:"gemini-1.5-flash"`
	AnswerModel      string `help:"The model that writes answers from search results." env:"USE_TEXT_MODEL_NAME" default:"gemini-1.5-flash"`
	EmbeddingModel   string `help:"The model to use for embeddings." env:"USE_MODEL_NAME" default:"text-embedding-004"`
	VisionModel      string `help:"The model that reads text from images." env:"VISION_MODEL_NAME" default:"gemini-1.5-flash"`
	CheckModel       string `help:"The model that checks extracted text for forbidden text." env:"CHECK_MODEL_NAME" default:"gemini-1.5-flash"`
	LLMRatePerMinute int    `help:"The maximum number of model requests per minute for each model, 0 for no limit." env:"LLM_RATE_PER_MINUTE" default:"60"`
}

// newClient returns a provider client whose default model is model.
func (f ProviderFlags) newClient(ctx context.Context, httpClient *http.Client, model string) (client interface {
	llms.Model
	embeddings.EmbedderClient
}, err error) {
	switch f.LLMProvider {
	case "vertex":
		return vertex.New(ctx,
			googleai.WithCloudProject(f.ProjectID),
			googleai.WithCloudLocation(f.Region),
			googleai.WithDefaultModel(model),
			googleai.WithDefaultEmbeddingModel(f.EmbeddingModel),
		)
	case "googleai":
		return googleai.New(ctx,
			googleai.WithAPIKey(f.GoogleAPIKey),
			googleai.WithDefaultModel(model),
			googleai.WithDefaultEmbeddingModel(f.EmbeddingModel),
		)
	case "ollama":
		return ollama.New(
			ollama.WithModel(model),
			ollama.WithHTTPClient(httpClient),
			ollama.WithServerURL(f.OllamaURL),
		)
	}
	return nil, fmt.Errorf("unknown LLM provider %q", f.LLMProvider)
}

// NewModel returns the named model wrapped with a rate limit and circuit breaker.
func (f ProviderFlags) NewModel(ctx context.Context, log *slog.Logger, httpClient *http.Client, name, model string) (llms.Model, error) {
	client, err := f.newClient(ctx, httpClient, model)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s model: %w", name, err)
	}
	return llmguard.New(log, name, client, f.LLMRatePerMinute), nil
}

func (f ProviderFlags) NewEmbedder(ctx context.Context, httpClient *http.Client) (embeddings.Embedder, error) {
	client, err := f.newClient(ctx, httpClient, f.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}
	emb, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return emb, nil
}

// StoreFlags select the vector store backend and the partition records are kept in.
type StoreFlags struct {
	VectorBackend string `help:"The vector store backend." env:"VECTOR_BACKEND" enum:"rqlite,postgres" default:"rqlite"`
	RqliteURL     string `help:"The URL of the rqlite server." env:"RQLITE_URL" default:"http://localhost:4001"`
	DatabaseURL   string `help:"The PostgreSQL connection string, used by the postgres backend." env:"DATABASE_URL" default:""`
	Dataset       string `help:"The dataset part of the partition name." env:"BIGQUERY_DATASET" default:"slackrag"`
	Table         string `help:"The table part of the partition name." env:"BIGQUERY_TABLE" default:"web"`
}

func (f StoreFlags) Partition() string {
	return f.Dataset + "." + f.Table
}

// OpenBackend connects to the backend and migrates its schema.
func (f StoreFlags) OpenBackend(ctx context.Context, log *slog.Logger) (backend vectorstore.Backend, closer func(), err error) {
	switch f.VectorBackend {
	case "rqlite":
		u, err := db.ParseRqliteURL(f.RqliteURL)
		if err != nil {
			return nil, nil, err
		}
		log.Info("opening rqlite vector store", slog.String("url", u.Redacted()))
		return db.Open(f.RqliteURL)
	case "postgres":
		log.Info("opening postgres vector store")
		s, err := pgstore.Open(ctx, f.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown vector backend %q", f.VectorBackend)
}
