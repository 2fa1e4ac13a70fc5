package main

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"

	"github.com/a-h/slackrag/client"
	"github.com/a-h/slackrag/models"
	"gopkg.in/yaml.v3"
)

type ImportCommand struct {
	ServerURL string   `help:"The URL of the slackrag server." env:"SLACKRAG_SERVER_URL" default:"http://localhost:8080"`
	APIKey    string   `help:"The API key for the slackrag server." env:"SLACKRAG_API_KEY" default:""`
	File      string   `help:"A YAML list of pages, each with a url and title." type:"existingfile" default:""`
	URLs      []string `arg:"" optional:"" help:"URLs of pages to import."`
	DryRun    bool     `help:"Do not actually import the pages." env:"DRY_RUN" default:"false"`
	LogLevel  string   `help:"The log level to use." env:"LOG_LEVEL" default:"info"`
}

func (c ImportCommand) Run(ctx context.Context) (err error) {
	log := getLogger(c.LogLevel)

	rsc := client.New(c.ServerURL, c.APIKey)

	var pages []models.DocumentsPostRequest
	if c.File != "" {
		f, err := os.Open(c.File)
		if err != nil {
			return fmt.Errorf("failed to open page list: %w", err)
		}
		defer f.Close()
		if pages, err = ReadPages(f); err != nil {
			return err
		}
	}
	for req := range Pages(pages, c.URLs) {
		log.Info("importing page", slog.String("url", req.URL))
		if c.DryRun {
			log.Info("skipping page import in dry run mode", slog.String("url", req.URL))
			continue
		}
		resp, err := rsc.DocumentsPost(ctx, req)
		if err != nil {
			return fmt.Errorf("failed to import %s: %w", req.URL, err)
		}
		log.Info("page imported", slog.String("url", req.URL), slog.Int("chunks", resp.Chunks))
	}
	return nil
}

// ReadPages reads a YAML list of pages.
func ReadPages(r io.Reader) (pages []models.DocumentsPostRequest, err error) {
	var items []struct {
		URL   string `yaml:"url"`
		Title string `yaml:"title"`
	}
	if err = yaml.NewDecoder(r).Decode(&items); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode page list: %w", err)
	}
	for i, item := range items {
		if item.URL == "" {
			return nil, fmt.Errorf("page %d has no url", i)
		}
		pages = append(pages, models.DocumentsPostRequest{URL: item.URL, Title: item.Title})
	}
	return pages, nil
}

// Pages yields the pages from the list, then each URL, skipping duplicate URLs.
func Pages(pages []models.DocumentsPostRequest, urls []string) iter.Seq[models.DocumentsPostRequest] {
	return func(yield func(models.DocumentsPostRequest) bool) {
		seen := make(map[string]struct{})
		emit := func(p models.DocumentsPostRequest) bool {
			if _, ok := seen[p.URL]; ok {
				return true
			}
			seen[p.URL] = struct{}{}
			return yield(p)
		}
		for _, p := range pages {
			if !emit(p) {
				return
			}
		}
		for _, u := range urls {
			if !emit(models.DocumentsPostRequest{URL: u}) {
				return
			}
		}
	}
}
