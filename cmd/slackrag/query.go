package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/a-h/slackrag/client"
	"github.com/a-h/slackrag/models"
)

type QueryCommand struct {
	ServerURL   string   `help:"The URL of the slackrag server." env:"SLACKRAG_SERVER_URL" default:"http://localhost:8080"`
	APIKey      string   `help:"The API key for the slackrag server." env:"SLACKRAG_API_KEY" default:""`
	FilterWords []string `help:"Words removed from search keywords." sep:","`
	JSON        bool     `help:"Print the full JSON response." default:"false"`
	Text        string   `arg:"" help:"The question to ask."`
}

func (c QueryCommand) Run(ctx context.Context) (err error) {
	rsc := client.New(c.ServerURL, c.APIKey)
	resp, err := rsc.QueryPost(ctx, models.QueryPostRequest{
		Text:        c.Text,
		FilterWords: c.FilterWords,
	})
	if err != nil {
		return fmt.Errorf("failed to query: %w", err)
	}
	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	fmt.Println(resp.Result)
	return nil
}
