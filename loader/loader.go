package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/jaytaylor/html2text"
	"github.com/tmc/langchaingo/textsplitter"
)

const (
	DefaultStartTag = "<main"
	DefaultEndTag   = "</main"

	ChunkSize    = 1000
	ChunkOverlap = 100
)

// ErrNoContent is returned when the start URL could not be loaded as HTML.
var ErrNoContent = errors.New("loader: no content")

type Page struct {
	URL  string
	HTML string
}

func New(log *slog.Logger) *Loader {
	return &Loader{
		log:      log,
		MaxDepth: 2,
		Timeout:  30 * time.Second,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(ChunkSize),
			textsplitter.WithChunkOverlap(ChunkOverlap),
			textsplitter.WithSeparators([]string{"\n\n", "。"}),
		),
	}
}

type Loader struct {
	log *slog.Logger
	// MaxDepth of 1 only loads the start page, 2 also loads its child pages.
	MaxDepth int
	Timeout  time.Duration
	splitter textsplitter.TextSplitter
}

// Load fetches the page at rawURL and any pages it links to that sit underneath rawURL,
// up to MaxDepth.
func (l *Loader) Load(ctx context.Context, rawURL string) (pages []Page, err error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("loader: invalid url %q: %w", rawURL, err)
	}
	prefix := base.String()

	c := colly.NewCollector(
		colly.MaxDepth(l.MaxDepth),
		colly.StdlibContext(ctx),
	)
	c.SetRequestTimeout(l.Timeout)

	var m sync.Mutex
	var startErr error
	c.OnResponse(func(r *colly.Response) {
		if !strings.Contains(r.Headers.Get("Content-Type"), "html") {
			l.log.Debug("skipping non-HTML response", slog.String("url", r.Request.URL.String()))
			return
		}
		m.Lock()
		defer m.Unlock()
		pages = append(pages, Page{URL: r.Request.URL.String(), HTML: string(r.Body)})
	})
	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" || link == prefix || !strings.HasPrefix(link, prefix) {
			return
		}
		if err := e.Request.Visit(link); err != nil {
			l.log.Debug("skipped child page", slog.String("url", link), slog.Any("error", err))
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		if r.Request.Depth > 1 {
			l.log.Warn("failed to load child page", slog.String("url", r.Request.URL.String()), slog.Int("status", r.StatusCode), slog.Any("error", err))
			return
		}
		m.Lock()
		defer m.Unlock()
		startErr = fmt.Errorf("loader: failed to load %s: %w", rawURL, err)
	})

	if err = c.Visit(prefix); err != nil {
		return nil, fmt.Errorf("loader: failed to visit %s: %w", rawURL, err)
	}
	c.Wait()

	if startErr != nil {
		return nil, startErr
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoContent, rawURL)
	}
	return pages, nil
}

// Slice returns the region of html starting at the first startTag and ending before the
// first endTag that follows it. A missing start tag slices from the beginning, a missing
// end tag slices to the end.
func Slice(html, startTag, endTag string) string {
	start := strings.Index(html, startTag)
	if start < 0 {
		start = 0
	}
	end := strings.Index(html[start:], endTag)
	if end < 0 {
		return html[start:]
	}
	return html[start : start+end]
}

// ToText converts HTML markup to plain text, dropping scripts and styles.
func ToText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("loader: failed to parse HTML: %w", err)
	}
	doc.Find("script, style, noscript").Remove()
	cleaned, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("loader: failed to render HTML: %w", err)
	}
	text, err := html2text.FromString(cleaned, html2text.Options{})
	if err != nil {
		return "", fmt.Errorf("loader: failed to convert HTML to text: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Chunk splits text longer than 999 characters into overlapping chunks. Shorter text is
// returned as a single chunk.
func (l *Loader) Chunk(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(text) < ChunkSize {
		return []string{text}, nil
	}
	chunks, err := l.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("loader: failed to split text: %w", err)
	}
	return chunks, nil
}

// Texts loads rawURL, then slices, cleans and chunks every page.
func (l *Loader) Texts(ctx context.Context, rawURL string) (texts []string, err error) {
	pages, err := l.Load(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	for _, page := range pages {
		text, err := ToText(Slice(page.HTML, DefaultStartTag, DefaultEndTag))
		if err != nil {
			return nil, fmt.Errorf("loader: %s: %w", page.URL, err)
		}
		chunks, err := l.Chunk(text)
		if err != nil {
			return nil, fmt.Errorf("loader: %s: %w", page.URL, err)
		}
		texts = append(texts, chunks...)
	}
	return texts, nil
}
