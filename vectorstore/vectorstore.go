package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
)

// Record is an embedded text appended to a partition of a backend.
type Record struct {
	Text      string
	Metadata  map[string]string
	Embedding []float32
	CreatedAt time.Time
}

// Match is a record returned by a nearest neighbour search, ordered by ascending
// Euclidean distance.
type Match struct {
	Text      string
	Metadata  map[string]string
	Embedding []float32
	Distance  float64
}

// Backend stores records. Records are only ever appended.
type Backend interface {
	Append(ctx context.Context, partition string, records []Record) error
	Nearest(ctx context.Context, partition string, embedding []float32, limit int) ([]Match, error)
}

func New(log *slog.Logger, embedder embeddings.Embedder, backend Backend, partition string) *Store {
	return &Store{
		log:       log,
		embedder:  embedder,
		backend:   backend,
		partition: partition,
		now:       time.Now,
	}
}

// Store embeds text and keeps it in a single backend partition.
type Store struct {
	log       *slog.Logger
	embedder  embeddings.Embedder
	backend   Backend
	partition string
	now       func() time.Time
}

func (s *Store) AddTexts(ctx context.Context, texts []string, metadatas []map[string]string) error {
	if len(texts) == 0 {
		return nil
	}
	if len(metadatas) != len(texts) {
		return fmt.Errorf("vectorstore: %d texts but %d metadatas", len(texts), len(metadatas))
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("vectorstore: failed to embed documents: %w", err)
	}
	if len(vectors) != len(texts) {
		s.log.Error("length mismatch", slog.Int("texts", len(texts)), slog.Int("embeddings", len(vectors)))
		return fmt.Errorf("vectorstore: embedded %d of %d texts", len(vectors), len(texts))
	}
	createdAt := s.now()
	records := make([]Record, len(texts))
	for i := range texts {
		records[i] = Record{
			Text:      texts[i],
			Metadata:  metadatas[i],
			Embedding: vectors[i],
			CreatedAt: createdAt,
		}
	}
	if err = s.backend.Append(ctx, s.partition, records); err != nil {
		return fmt.Errorf("vectorstore: failed to append records: %w", err)
	}
	s.log.Debug("appended records", slog.String("partition", s.partition), slog.Int("count", len(records)))
	return nil
}

// Retriever returns k documents chosen by maximal marginal relevance.
func (s *Store) Retriever(k int) schema.Retriever {
	return Retriever{
		store:  s,
		K:      k,
		FetchK: DefaultFetchK,
		Lambda: DefaultLambda,
	}
}

const (
	DefaultFetchK = 20
	DefaultLambda = 0.5
)

type Retriever struct {
	store *Store
	K     int
	// FetchK is the number of nearest candidates considered.
	FetchK int
	// Lambda of 1 ranks purely by relevance, 0 purely by diversity.
	Lambda float64
}

var _ schema.Retriever = Retriever{}

func (r Retriever) GetRelevantDocuments(ctx context.Context, query string) (docs []schema.Document, err error) {
	queryVector, err := r.store.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: failed to embed query: %w", err)
	}
	fetchK := max(r.FetchK, r.K)
	candidates, err := r.store.backend.Nearest(ctx, r.store.partition, queryVector, fetchK)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: nearest search failed: %w", err)
	}
	vectors := make([][]float32, len(candidates))
	for i, c := range candidates {
		vectors[i] = c.Embedding
	}
	for _, i := range MaximalMarginalRelevance(queryVector, vectors, r.K, r.Lambda) {
		c := candidates[i]
		metadata := make(map[string]any, len(c.Metadata)+1)
		for k, v := range c.Metadata {
			metadata[k] = v
		}
		metadata["distance"] = c.Distance
		docs = append(docs, schema.Document{
			PageContent: c.Text,
			Metadata:    metadata,
			Score:       float32(c.Distance),
		})
	}
	return docs, nil
}
