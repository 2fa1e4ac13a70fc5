package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/a-h/slackrag/client"
	"github.com/a-h/slackrag/models"
)

type ContextCommand struct {
	ServerURL string `help:"The URL of the slackrag server." env:"SLACKRAG_SERVER_URL" default:"http://localhost:8080"`
	APIKey    string `help:"The API key for the slackrag server." env:"SLACKRAG_API_KEY" default:""`
	Text      string `help:"The text to send."`
	Pretty    bool   `help:"Pretty print the JSON output." default:"true"`
}

func (c ContextCommand) Run(ctx context.Context) (err error) {
	rsc := client.New(c.ServerURL, c.APIKey)
	resp, err := rsc.ContextPost(ctx, models.ContextPostRequest{
		Text: c.Text,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	if c.Pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(resp)
}
