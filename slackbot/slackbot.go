package slackbot

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/a-h/slackrag/gcs"
	"github.com/a-h/slackrag/websearch"
	"github.com/google/uuid"
	"github.com/slack-go/slack"
)

type Replier interface {
	Reply(ctx context.Context, channel, threadTS, text string) error
}

type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

type QueryRunner interface {
	RunQuery(ctx context.Context, prompt string, filterWords []string) (websearch.Answer, error)
}

type ImageExtractor interface {
	Extract(ctx context.Context, forbidden string, image []byte, fileName string) (string, error)
}

type Uploader interface {
	Upload(ctx context.Context, name string, data []byte, contentType string) (uri string, err error)
}

// Mention is the app_mention event. Files are attached when the message has uploads.
type Mention struct {
	Type     string       `json:"type"`
	User     string       `json:"user"`
	BotID    string       `json:"bot_id"`
	Text     string       `json:"text"`
	TS       string       `json:"ts"`
	ThreadTS string       `json:"thread_ts"`
	Channel  string       `json:"channel"`
	EventTS  string       `json:"event_ts"`
	Files    []slack.File `json:"files"`
}

const (
	MessageProcessing    = "処理中"
	MessageDone          = "おわり"
	MessageCheckFinished = "チェック終了！"
	MessageFailed        = "処理に失敗しました。時間をおいて再度お試しください。"
)

func MessageReceived(n int) string {
	return fmt.Sprintf("画像を%d枚受信しました", n)
}

func MessageUnreadable(fileName string) string {
	return "画像リンクから画像が読み取れませんでした。" + fileName
}

func MessageCheckFailed(fileName string) string {
	return "画像をチェックできませんでした。" + fileName
}

type Config struct {
	FilterWords []string
	// CheckText is the forbidden text used when the mention has no text of its own.
	CheckText string
}

func New(log *slog.Logger, replier Replier, downloader Downloader, runner QueryRunner, extractor ImageExtractor, uploader Uploader, config Config) *Bot {
	return &Bot{
		log:        log,
		replier:    replier,
		downloader: downloader,
		runner:     runner,
		extractor:  extractor,
		uploader:   uploader,
		config:     config,
		Now:        time.Now,
	}
}

type Bot struct {
	log        *slog.Logger
	replier    Replier
	downloader Downloader
	runner     QueryRunner
	extractor  ImageExtractor
	uploader   Uploader
	config     Config
	wg         sync.WaitGroup
	Now        func() time.Time
}

var mentionRegexp = regexp.MustCompile(`<@.*>`)

// StripMention removes the user mention from the text.
func StripMention(text string) string {
	return strings.TrimSpace(mentionRegexp.ReplaceAllString(text, ""))
}

// ThreadTS is the thread that replies to m are posted in.
func ThreadTS(m Mention) string {
	if m.ThreadTS != "" {
		return m.ThreadTS
	}
	return m.TS
}

// Dispatch processes the mention in the background. Wait blocks until every dispatched
// mention has been processed.
func (b *Bot) Dispatch(ctx context.Context, eventID string, m Mention) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.Process(ctx, eventID, m)
	}()
}

func (b *Bot) Wait() {
	b.wg.Wait()
}

// Process handles the mention, posting a failure message to the thread if it fails.
func (b *Bot) Process(ctx context.Context, eventID string, m Mention) {
	if eventID == "" {
		eventID = uuid.NewString()
	}
	log := b.log.With(slog.String("event_id", eventID), slog.String("channel", m.Channel), slog.String("user", m.User))
	if m.BotID != "" {
		log.Debug("ignoring bot message", slog.String("bot_id", m.BotID))
		return
	}
	start := time.Now()
	log.Info("processing mention", slog.Int("files", len(m.Files)))
	if err := b.HandleMention(ctx, log, m); err != nil {
		log.Error("failed to process mention", slog.Any("error", err))
		if err = b.replier.Reply(ctx, m.Channel, ThreadTS(m), MessageFailed); err != nil {
			log.Error("failed to post failure message", slog.Any("error", err))
		}
		return
	}
	log.Info("processed mention", slog.Duration("duration", time.Since(start)))
}

// HandleMention runs the image check when files are attached, otherwise it answers the
// text with a web search.
func (b *Bot) HandleMention(ctx context.Context, log *slog.Logger, m Mention) error {
	thread := ThreadTS(m)
	text := StripMention(m.Text)
	if len(m.Files) > 0 {
		return b.checkImages(ctx, log, m.Channel, thread, text, m.Files)
	}
	return b.answer(ctx, m.Channel, thread, text)
}

func (b *Bot) answer(ctx context.Context, channel, thread, text string) error {
	if err := b.replier.Reply(ctx, channel, thread, MessageProcessing); err != nil {
		return err
	}
	answer, err := b.runner.RunQuery(ctx, text, b.config.FilterWords)
	if err != nil {
		return err
	}
	if err = b.replier.Reply(ctx, channel, thread, answer.Result); err != nil {
		return err
	}
	return b.replier.Reply(ctx, channel, thread, MessageDone)
}

func (b *Bot) checkImages(ctx context.Context, log *slog.Logger, channel, thread, text string, files []slack.File) error {
	forbidden := text
	if forbidden == "" {
		forbidden = b.config.CheckText
	}
	if err := b.replier.Reply(ctx, channel, thread, MessageReceived(len(files))); err != nil {
		return err
	}
	for _, f := range files {
		reply := b.checkImage(ctx, log, forbidden, f)
		if err := b.replier.Reply(ctx, channel, thread, reply); err != nil {
			return err
		}
	}
	return b.replier.Reply(ctx, channel, thread, MessageCheckFinished)
}

func (b *Bot) checkImage(ctx context.Context, log *slog.Logger, forbidden string, f slack.File) (reply string) {
	log = log.With(slog.String("file", f.Name), slog.String("mimetype", f.Mimetype))
	if f.URLPrivateDownload == "" || f.Mimetype != "image/png" {
		log.Warn("unsupported file")
		return MessageUnreadable(f.Name)
	}
	data, err := b.downloader.Download(ctx, f.URLPrivateDownload)
	if err != nil || len(data) == 0 {
		log.Warn("failed to download file", slog.Any("error", err), slog.Int("bytes", len(data)))
		return MessageUnreadable(f.Name)
	}
	uri, err := b.uploader.Upload(ctx, gcs.ObjectName(f.Name, b.Now()), data, f.Mimetype)
	if err != nil {
		log.Error("failed to archive file", slog.Any("error", err))
		return MessageCheckFailed(f.Name)
	}
	log.Info("archived file", slog.String("uri", uri))
	reply, err = b.extractor.Extract(ctx, forbidden, data, f.Name)
	if err != nil {
		log.Error("failed to extract text", slog.Any("error", err))
		return MessageCheckFailed(f.Name)
	}
	return reply
}
