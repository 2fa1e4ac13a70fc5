package slackbot

import (
	"context"
	"log/slog"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// RunSocketMode receives events over a Socket Mode connection until ctx is cancelled. The
// api client must carry the app-level token.
func RunSocketMode(ctx context.Context, log *slog.Logger, api *slack.Client, bot *Bot) error {
	client := socketmode.New(api)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-client.Events:
				if !ok {
					return
				}
				handleSocketEvent(ctx, log, client, bot, evt)
			}
		}
	}()
	err := client.RunContext(ctx)
	bot.Wait()
	return err
}

func handleSocketEvent(ctx context.Context, log *slog.Logger, client *socketmode.Client, bot *Bot, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		log.Info("connecting to Slack with Socket Mode")
	case socketmode.EventTypeConnectionError:
		log.Warn("Socket Mode connection failed", slog.Any("data", evt.Data))
	case socketmode.EventTypeConnected:
		log.Info("connected to Slack with Socket Mode")
	case socketmode.EventTypeEventsAPI:
		ev, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			log.Warn("unexpected events API payload", slog.Any("data", evt.Data))
			return
		}
		if evt.Request != nil {
			client.Ack(*evt.Request)
		}
		eventID, m, ok := mention(ev)
		if !ok {
			return
		}
		bot.Dispatch(context.WithoutCancel(ctx), eventID, m)
	}
}
