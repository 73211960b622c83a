package ai

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tasks/backend/internal/logging"
	"github.com/zhouzirui/z-tasks/backend/internal/model/chat"
	"github.com/zhouzirui/z-tasks/backend/internal/model/variant"
)

const (
	maxTitleRunes = 80
	fallbackTitle = "New chat"
)

const titleInstructions = `You will generate a short title based on the first message a user begins a conversation with.
Ensure it is not more than 80 characters long. The title should be a summary of the user's message.
Do not use quotes or colons.`

var titleTemplate = prompt.FromMessages(
	schema.FString,
	schema.SystemMessage(titleInstructions),
	schema.UserMessage("{message}"),
)

// TitleGenerator names new sessions after their first user message.
type TitleGenerator struct {
	models ModelProvider
	logger *zap.Logger
}

func NewTitleGenerator(models ModelProvider, logger *zap.Logger) *TitleGenerator {
	if logger == nil {
		logger = logging.Default()
	}
	return &TitleGenerator{models: models, logger: logger}
}

// Generate returns a title for the session. Model failures fall back to the
// truncated message text, so a title is always produced.
func (g *TitleGenerator) Generate(ctx context.Context, first chat.Message) string {
	text := strings.TrimSpace(first.Text())
	if text == "" {
		return fallbackTitle
	}
	if g == nil || g.models == nil {
		return truncateTitle(text)
	}

	title, err := g.generate(ctx, text)
	if err != nil {
		g.logger.Warn("title generation failed", zap.String("message_id", first.ID), zap.Error(err))
		return truncateTitle(text)
	}
	if title = cleanTitle(title); title == "" {
		return truncateTitle(text)
	}
	return title
}

func (g *TitleGenerator) generate(ctx context.Context, text string) (string, error) {
	chatModel, err := g.models.ChatModel(ctx, variant.TitleModel)
	if err != nil {
		return "", err
	}

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(titleTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return "", err
	}

	reply, err := runnable.Invoke(ctx, map[string]any{"message": text})
	if err != nil {
		return "", err
	}
	return reply.Content, nil
}

func cleanTitle(title string) string {
	title = strings.TrimSpace(title)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	title = strings.Trim(title, "\"'` ")
	return truncateTitle(title)
}

func truncateTitle(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= maxTitleRunes {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:maxTitleRunes-3])) + "..."
}
