package slackbot

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

const maxEventBytes = 1 << 20

// NewEventsHandler serves the Events API. Callbacks are acknowledged before the mention
// is processed, so Slack never waits on the model. Every request is rejected when
// signingSecret is empty.
func NewEventsHandler(log *slog.Logger, signingSecret string, bot *Bot) EventsHandler {
	return EventsHandler{
		Log:           log,
		SigningSecret: signingSecret,
		Bot:           bot,
	}
}

type EventsHandler struct {
	Log           *slog.Logger
	SigningSecret string
	Bot           *Bot
}

func (h EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.SigningSecret == "" {
		h.Log.Error("rejecting event, no signing secret is configured")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes))
	if err != nil {
		h.Log.Warn("failed to read event body", slog.Any("error", err))
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	sv, err := slack.NewSecretsVerifier(r.Header, h.SigningSecret)
	if err != nil {
		h.Log.Warn("invalid signature headers", slog.Any("error", err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if _, err = sv.Write(body); err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if err = sv.Ensure(); err != nil {
		h.Log.Warn("invalid signature", slog.Any("error", err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ev, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		h.Log.Warn("failed to parse event", slog.Any("error", err))
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	switch ev.Type {
	case slackevents.URLVerification:
		var cr slackevents.ChallengeResponse
		if err = json.Unmarshal(body, &cr); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(cr.Challenge))
		return
	case slackevents.CallbackEvent:
		w.WriteHeader(http.StatusOK)
		if retry := r.Header.Get("X-Slack-Retry-Num"); retry != "" {
			h.Log.Debug("ignoring event retry", slog.String("retry", retry), slog.String("reason", r.Header.Get("X-Slack-Retry-Reason")))
			return
		}
		eventID, m, ok := mention(ev)
		if !ok {
			return
		}
		h.Bot.Dispatch(context.WithoutCancel(r.Context()), eventID, m)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// mention returns the app_mention carried by the event, if any.
func mention(ev slackevents.EventsAPIEvent) (eventID string, m Mention, ok bool) {
	if ev.Type != slackevents.CallbackEvent {
		return "", m, false
	}
	cb, ok := ev.Data.(*slackevents.EventsAPICallbackEvent)
	if !ok || cb.InnerEvent == nil {
		return "", m, false
	}
	if err := json.Unmarshal(*cb.InnerEvent, &m); err != nil {
		return "", m, false
	}
	if m.Type != string(slackevents.AppMention) {
		return "", m, false
	}
	return cb.EventID, m, true
}
