package websearch

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/a-h/slackrag/prompts"
	"github.com/a-h/slackrag/search"
	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// NoAnswer is the result when the web search finds nothing.
const NoAnswer = "No Answer"

// NumberOfResults is the number of documents retrieved for the answer.
const NumberOfResults = 3

var tracer = otel.Tracer("github.com/a-h/slackrag/websearch")

// JST is the zone of the timestamps stored with each record.
var JST = time.FixedZone("JST", 9*60*60)

type Searcher interface {
	Search(ctx context.Context, keyword string) ([]search.Result, error)
}

// PageReader returns the cleaned, chunked text of the page at a URL.
type PageReader interface {
	Texts(ctx context.Context, url string) ([]string, error)
}

type VectorStore interface {
	AddTexts(ctx context.Context, texts []string, metadatas []map[string]string) error
	Retriever(k int) schema.Retriever
}

type Answer struct {
	Query   string          `json:"query"`
	Result  string          `json:"result"`
	Keyword string          `json:"keyword,omitempty"`
	Sources []search.Result `json:"sources,omitempty"`
}

func New(log *slog.Logger, keywordLLM, answerLLM llms.Model, searcher Searcher, reader PageReader, store VectorStore, p prompts.Prompts) *Pipeline {
	return &Pipeline{
		log:        log,
		keywordLLM: keywordLLM,
		answerLLM:  answerLLM,
		searcher:   searcher,
		reader:     reader,
		store:      store,
		prompts:    p,
		Now:        time.Now,
	}
}

type Pipeline struct {
	log        *slog.Logger
	keywordLLM llms.Model
	answerLLM  llms.Model
	searcher   Searcher
	reader     PageReader
	store      VectorStore
	prompts    prompts.Prompts
	Now        func() time.Time
}

// ExtractKeywords asks the model for the keywords of prompt, then removes each filter
// word from the result.
func (p *Pipeline) ExtractKeywords(ctx context.Context, prompt string, filterWords []string) (keyword string, err error) {
	keyword, err = llms.GenerateFromSinglePrompt(ctx, p.keywordLLM, p.prompts.KeywordPrompt(prompt),
		llms.WithMaxTokens(1024),
		llms.WithTemperature(0.1),
		llms.WithTopP(0.8),
		llms.WithTopK(40),
	)
	if err != nil {
		return "", err
	}
	return FilterKeywords(keyword, filterWords), nil
}

// FilterKeywords removes every occurrence of each filter word from keyword.
func FilterKeywords(keyword string, filterWords []string) string {
	for _, fw := range filterWords {
		if fw == "" {
			continue
		}
		keyword = strings.ReplaceAll(keyword, fw, "")
	}
	return strings.TrimSpace(keyword)
}

// RunQuery answers prompt from web pages found by searching for its keywords. Every page
// read is appended to the vector store before the answer is generated.
func (p *Pipeline) RunQuery(ctx context.Context, prompt string, filterWords []string) (answer Answer, err error) {
	ctx, span := tracer.Start(ctx, "websearch.RunQuery")
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	keyword, err := p.ExtractKeywords(ctx, prompt, filterWords)
	if err != nil {
		return answer, fmt.Errorf("websearch: failed to extract keywords: %w", err)
	}
	span.SetAttributes(attribute.String("websearch.keyword", keyword))
	p.log.Info("extracted keywords", slog.String("keyword", keyword))

	results, err := p.searcher.Search(ctx, keyword)
	if err != nil {
		return answer, fmt.Errorf("websearch: search failed: %w", err)
	}
	span.SetAttributes(attribute.Int("websearch.results", len(results)))
	if len(results) == 0 {
		p.log.Info("no search results", slog.String("keyword", keyword))
		return Answer{Query: prompt, Result: NoAnswer}, nil
	}

	texts, metadatas, err := p.documents(ctx, prompt, keyword, results)
	if err != nil {
		return answer, err
	}
	if err = p.store.AddTexts(ctx, texts, metadatas); err != nil {
		return answer, fmt.Errorf("websearch: failed to add texts: %w", err)
	}
	p.log.Info("added texts to vector store", slog.Int("count", len(texts)))

	result, err := p.answer(ctx, prompt)
	if err != nil {
		return answer, fmt.Errorf("websearch: failed to generate answer: %w", err)
	}
	return Answer{
		Query:   prompt,
		Result:  result,
		Keyword: keyword,
		Sources: results,
	}, nil
}

func (p *Pipeline) documents(ctx context.Context, prompt, keyword string, results []search.Result) (texts []string, metadatas []map[string]string, err error) {
	ctx, span := tracer.Start(ctx, "websearch.documents", trace.WithAttributes(attribute.Int("websearch.results", len(results))))
	defer span.End()

	now := p.Now().In(JST)
	for _, r := range results {
		chunks, err := p.reader.Texts(ctx, r.Link)
		if err != nil {
			return nil, nil, fmt.Errorf("websearch: failed to read %s: %w", r.Link, err)
		}
		for _, chunk := range chunks {
			texts = append(texts, RecordText(r, chunk))
			metadatas = append(metadatas, Metadata(now, prompt, keyword, r, chunk))
		}
	}
	span.SetAttributes(attribute.Int("websearch.chunks", len(texts)))
	return texts, metadatas, nil
}

// RecordText prefixes the chunk with the title and link of the page it was read from.
func RecordText(r search.Result, chunk string) string {
	return "タイトル" + r.Title + "\nリンク:" + r.Link + "\n" + chunk
}

// Metadata describes a chunk read from a search result.
func Metadata(now time.Time, prompt, keyword string, r search.Result, chunk string) map[string]string {
	return map[string]string{
		"yyyymmdd":    now.Format("2006-01-02"),
		"hourminsec":  now.Format("15:04:05"),
		"prompt":      prompt,
		"keyword":     keyword,
		"title":       r.Title,
		"link":        r.Link,
		"len":         strconv.Itoa(utf8.RuneCountInString(chunk)),
		"html_file":   r.FileName,
		"update_time": now.Format("2006-01-02 15:04:05.000000"),
	}
}

func (p *Pipeline) answer(ctx context.Context, prompt string) (string, error) {
	ctx, span := tracer.Start(ctx, "websearch.answer")
	defer span.End()

	qa := chains.NewRetrievalQA(
		chains.NewStuffDocuments(chains.NewLLMChain(p.answerLLM, p.prompts.AnswerTemplate())),
		p.store.Retriever(NumberOfResults),
	)
	return chains.Run(ctx, qa, prompt+p.prompts.AnswerSuffix, chains.WithTemperature(0))
}
