package slackbot

import (
	"bytes"
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// Client posts replies and downloads files with the bot token.
type Client struct {
	api *slack.Client
}

func NewClient(api *slack.Client) *Client {
	return &Client{api: api}
}

func (c *Client) Reply(ctx context.Context, channel, threadTS, text string) error {
	_, _, err := c.api.PostMessageContext(ctx, channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		return fmt.Errorf("slackbot: failed to post message: %w", err)
	}
	return nil
}

func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.api.GetFileContext(ctx, url, &buf); err != nil {
		return nil, fmt.Errorf("slackbot: failed to download file: %w", err)
	}
	return buf.Bytes(), nil
}
