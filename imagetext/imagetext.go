package imagetext

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/a-h/slackrag/prompts"
	"github.com/tmc/langchaingo/llms"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("github.com/a-h/slackrag/imagetext")

func New(log *slog.Logger, vision, check llms.Model, p prompts.Prompts) *Extractor {
	return &Extractor{
		log:     log,
		vision:  vision,
		check:   check,
		prompts: p,
	}
}

// Extractor reads the text in an image, then checks it for forbidden text.
type Extractor struct {
	log     *slog.Logger
	vision  llms.Model
	check   llms.Model
	prompts prompts.Prompts
}

// Extract returns the reply to post for the image. A vision response without content is
// not an error; the reply names the file instead.
func (e *Extractor) Extract(ctx context.Context, forbidden string, image []byte, fileName string) (reply string, err error) {
	ctx, span := tracer.Start(ctx, "imagetext.Extract")
	defer span.End()
	span.SetAttributes(attribute.String("imagetext.file", fileName), attribute.Int("imagetext.bytes", len(image)))

	extracted, err := e.ExtractText(ctx, image)
	if err != nil {
		return "", err
	}
	if extracted == "" {
		e.log.Warn("vision model returned no content", slog.String("file", fileName))
		return NoResponse(fileName), nil
	}
	e.log.Debug("extracted text", slog.String("file", fileName), slog.Int("len", len(extracted)))

	answer, err := llms.GenerateFromSinglePrompt(ctx, e.check, e.prompts.CheckPrompt(extracted, forbidden),
		llms.WithMaxTokens(1024),
		llms.WithTemperature(0.2),
		llms.WithTopK(40),
		llms.WithTopP(0.8),
	)
	if err != nil {
		return "", fmt.Errorf("imagetext: check failed: %w", err)
	}
	return Reply(answer, fileName), nil
}

// ExtractText sends the PNG to the vision model. It returns an empty string when the
// model returns no choices.
func (e *Extractor) ExtractText(ctx context.Context, image []byte) (string, error) {
	content := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.BinaryPart("image/png", image),
				llms.TextPart(e.prompts.Vision),
			},
		},
	}
	resp, err := e.vision.GenerateContent(ctx, content,
		llms.WithMaxTokens(2048),
		llms.WithTemperature(0.4),
		llms.WithTopP(1),
		llms.WithTopK(32),
	)
	if err != nil {
		return "", fmt.Errorf("imagetext: vision failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

func Reply(answer, fileName string) string {
	return fmt.Sprintf("Answer: %s\nFileName:%s", answer, fileName)
}

func NoResponse(fileName string) string {
	return "No response:" + fileName
}
