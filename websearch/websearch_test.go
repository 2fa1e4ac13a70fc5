package websearch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/a-h/slackrag/prompts"
	"github.com/a-h/slackrag/search"
	"github.com/google/go-cmp/cmp"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeLLM returns its responses in order and records every prompt and call option.
type fakeLLM struct {
	responses []string
	prompts   []string
	options   []llms.CallOptions
}

func (f *fakeLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}
	f.options = append(f.options, opts)
	var sb strings.Builder
	for _, m := range messages {
		for _, p := range m.Parts {
			if tc, ok := p.(llms.TextContent); ok {
				sb.WriteString(tc.Text)
			}
		}
	}
	f.prompts = append(f.prompts, sb.String())
	if len(f.responses) == 0 {
		return nil, errors.New("no more responses")
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: resp}}}, nil
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

type fakeSearcher struct {
	results  []search.Result
	keywords []string
}

func (f *fakeSearcher) Search(ctx context.Context, keyword string) ([]search.Result, error) {
	f.keywords = append(f.keywords, keyword)
	return f.results, nil
}

type fakeReader map[string][]string

func (f fakeReader) Texts(ctx context.Context, url string) ([]string, error) {
	texts, ok := f[url]
	if !ok {
		return nil, errors.New("not found")
	}
	return texts, nil
}

type fakeStore struct {
	texts     []string
	metadatas []map[string]string
	k         int
}

func (f *fakeStore) AddTexts(ctx context.Context, texts []string, metadatas []map[string]string) error {
	f.texts = append(f.texts, texts...)
	f.metadatas = append(f.metadatas, metadatas...)
	return nil
}

func (f *fakeStore) Retriever(k int) schema.Retriever {
	f.k = k
	return f
}

func (f *fakeStore) GetRelevantDocuments(ctx context.Context, query string) (docs []schema.Document, err error) {
	for _, t := range f.texts {
		docs = append(docs, schema.Document{PageContent: t})
	}
	return docs, nil
}

func TestFilterKeywords(t *testing.T) {
	tests := []struct {
		name        string
		keyword     string
		filterWords []string
		expected    string
	}{
		{
			name:     "no filter words leaves the keywords unchanged",
			keyword:  "slack golang bot",
			expected: "slack golang bot",
		},
		{
			name:        "filter words are removed as exact substrings",
			keyword:     "acme slack acmecorp bot",
			filterWords: []string{"acme"},
			expected:    "slack corp bot",
		},
		{
			name:        "matching is case sensitive",
			keyword:     "Acme slack",
			filterWords: []string{"acme"},
			expected:    "Acme slack",
		},
		{
			name:        "empty filter words are ignored",
			keyword:     "slack",
			filterWords: []string{""},
			expected:    "slack",
		},
		{
			name:        "filter words are applied in order",
			keyword:     "abc",
			filterWords: []string{"b", "ac"},
			expected:    "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if actual := FilterKeywords(tt.keyword, tt.filterWords); actual != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, actual)
			}
		})
	}
}

func TestExtractKeywords(t *testing.T) {
	llm := &fakeLLM{responses: []string{"acme pricing plans\n"}}
	p := New(discard, llm, nil, nil, nil, nil, prompts.Default())
	actual, err := p.ExtractKeywords(context.Background(), "What plans does acme offer?", []string{"acme "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if actual != "pricing plans" {
		t.Errorf("expected %q, got %q", "pricing plans", actual)
	}
	if !strings.Contains(llm.prompts[0], "What plans does acme offer?") {
		t.Errorf("expected the prompt to be included, got %q", llm.prompts[0])
	}
	opts := llm.options[0]
	if opts.MaxTokens != 1024 || opts.Temperature != 0.1 || opts.TopP != 0.8 || opts.TopK != 40 {
		t.Errorf("unexpected decoding options: max tokens %d, temperature %v, top p %v, top k %d", opts.MaxTokens, opts.Temperature, opts.TopP, opts.TopK)
	}
}

func TestRunQuery(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC)

	t.Run("no search results returns no answer without writing", func(t *testing.T) {
		keywordLLM := &fakeLLM{responses: []string{"nothing"}}
		answerLLM := &fakeLLM{}
		store := &fakeStore{}
		p := New(discard, keywordLLM, answerLLM, &fakeSearcher{}, fakeReader{}, store, prompts.Default())
		actual, err := p.RunQuery(ctx, "unknown question", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if diff := cmp.Diff(Answer{Query: "unknown question", Result: NoAnswer}, actual); diff != "" {
			t.Error(diff)
		}
		if len(store.texts) != 0 {
			t.Errorf("expected no writes, got %d", len(store.texts))
		}
		if len(answerLLM.prompts) != 0 {
			t.Errorf("expected the answer model not to be called")
		}
	})
	t.Run("pages are stored and used to answer", func(t *testing.T) {
		keywordLLM := &fakeLLM{responses: []string{"acme pricing"}}
		answerLLM := &fakeLLM{responses: []string{"Acme: plans start at $10. https://example.com/pricing"}}
		results := []search.Result{
			{Title: "Pricing", Link: "https://example.com/pricing", FileName: "pricing"},
			{Title: "Plans", Link: "https://example.com/plans.html", FileName: "plans.html"},
		}
		searcher := &fakeSearcher{results: results}
		reader := fakeReader{
			"https://example.com/pricing":    {"Plans start at $10."},
			"https://example.com/plans.html": {"Basic plan.", "Pro plan."},
		}
		store := &fakeStore{}
		p := New(discard, keywordLLM, answerLLM, searcher, reader, store, prompts.Default())
		p.Now = func() time.Time { return now }

		actual, err := p.RunQuery(ctx, "How much is acme?", []string{"acme"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		expected := Answer{
			Query:   "How much is acme?",
			Result:  "Acme: plans start at $10. https://example.com/pricing",
			Keyword: "pricing",
			Sources: results,
		}
		if diff := cmp.Diff(expected, actual); diff != "" {
			t.Error(diff)
		}
		if diff := cmp.Diff([]string{"pricing"}, searcher.keywords); diff != "" {
			t.Errorf("unexpected search keywords: %s", diff)
		}
		expectedTexts := []string{
			"タイトルPricing\nリンク:https://example.com/pricing\nPlans start at $10.",
			"タイトルPlans\nリンク:https://example.com/plans.html\nBasic plan.",
			"タイトルPlans\nリンク:https://example.com/plans.html\nPro plan.",
		}
		if diff := cmp.Diff(expectedTexts, store.texts); diff != "" {
			t.Error(diff)
		}
		expectedMetadata := map[string]string{
			"yyyymmdd":    "2024-03-02",
			"hourminsec":  "08:30:00",
			"prompt":      "How much is acme?",
			"keyword":     "pricing",
			"title":       "Plans",
			"link":        "https://example.com/plans.html",
			"len":         "9",
			"html_file":   "plans.html",
			"update_time": "2024-03-02 08:30:00.000000",
		}
		if diff := cmp.Diff(expectedMetadata, store.metadatas[2]); diff != "" {
			t.Error(diff)
		}
		if store.k != NumberOfResults {
			t.Errorf("expected k=%d, got %d", NumberOfResults, store.k)
		}
		answerPrompt := answerLLM.prompts[0]
		if !strings.Contains(answerPrompt, "How much is acme?"+prompts.Default().AnswerSuffix) {
			t.Errorf("expected the augmented question in the prompt, got %q", answerPrompt)
		}
		if !strings.Contains(answerPrompt, "Basic plan.") {
			t.Errorf("expected retrieved context in the prompt, got %q", answerPrompt)
		}
		if answerLLM.options[0].Temperature != 0 {
			t.Errorf("expected temperature 0, got %v", answerLLM.options[0].Temperature)
		}
	})
	t.Run("page read failures are returned", func(t *testing.T) {
		keywordLLM := &fakeLLM{responses: []string{"acme"}}
		store := &fakeStore{}
		searcher := &fakeSearcher{results: []search.Result{{Title: "Gone", Link: "https://example.com/gone", FileName: "gone"}}}
		p := New(discard, keywordLLM, &fakeLLM{}, searcher, fakeReader{}, store, prompts.Default())
		if _, err := p.RunQuery(ctx, "question", nil); err == nil {
			t.Fatal("expected error, got nil")
		}
		if len(store.texts) != 0 {
			t.Errorf("expected no writes, got %d", len(store.texts))
		}
	})
}
