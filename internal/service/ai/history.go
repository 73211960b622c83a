package ai

import (
	"encoding/json"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-tasks/backend/internal/model/chat"
)

// toSchemaMessages converts a transcript to model input. Reasoning parts are
// never replayed; tool parts are dropped when the variant runs without tools.
func toSchemaMessages(messages []chat.Message, withTools bool) []*schema.Message {
	history := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, userMessage(msg))
		case chat.RoleAssistant:
			history = append(history, assistantMessages(msg, withTools)...)
		}
	}
	return history
}

func userMessage(msg chat.Message) *schema.Message {
	text := msg.Text()
	if len(msg.Attachments) == 0 {
		return schema.UserMessage(text)
	}

	var builder strings.Builder
	builder.WriteString(text)
	for _, att := range msg.Attachments {
		builder.WriteString("\n[attachment: ")
		builder.WriteString(att.Name)
		builder.WriteString(" ")
		builder.WriteString(att.URL)
		builder.WriteString("]")
	}
	return schema.UserMessage(builder.String())
}

// assistantMessages splits one stored assistant message back into the
// assistant/tool exchange the model produced.
func assistantMessages(msg chat.Message, withTools bool) []*schema.Message {
	var (
		out     []*schema.Message
		content strings.Builder
		calls   []schema.ToolCall
	)

	flush := func() {
		if content.Len() == 0 && len(calls) == 0 {
			return
		}
		out = append(out, schema.AssistantMessage(content.String(), calls))
		content.Reset()
		calls = nil
	}

	for _, part := range msg.Parts {
		switch part.Type {
		case chat.PartText:
			if len(calls) > 0 {
				flush()
			}
			content.WriteString(part.Text)
		case chat.PartToolCall:
			if !withTools {
				continue
			}
			calls = append(calls, schema.ToolCall{
				ID:   part.ToolCallID,
				Type: "function",
				Function: schema.FunctionCall{
					Name:      part.ToolName,
					Arguments: string(part.Arguments),
				},
			})
		case chat.PartToolResult:
			if !withTools {
				continue
			}
			flush()
			out = append(out, toolMessage(part.ToolCallID, part.ToolName, toolResultContent(part)))
		}
	}
	flush()
	return out
}

func toolMessage(callID, name, content string) *schema.Message {
	msg := schema.ToolMessage(content, callID)
	msg.ToolName = name
	return msg
}

func toolResultContent(part chat.Part) string {
	body := map[string]any{
		"success": part.Success != nil && *part.Success,
		"message": part.Message,
	}
	if len(part.Payload) > 0 {
		body["payload"] = part.Payload
	}
	data, err := json.Marshal(body)
	if err != nil {
		return part.Message
	}
	return string(data)
}
