package chat

import "time"

const interruptedToolMessage = "Tool execution was interrupted."

// AssembleMessage folds a turn's events into the assistant message that is
// persisted once the stream completes. Consecutive deltas of the same kind are
// merged; every tool-call part ends up with a matching tool-result part.
func AssembleMessage(id, chatID string, events []Event, createdAt time.Time) Message {
	msg := Message{
		ID:          id,
		ChatID:      chatID,
		Role:        RoleAssistant,
		Parts:       make([]Part, 0, 4),
		Attachments: []Attachment{},
		CreatedAt:   createdAt,
	}

	pending := make(map[string]int)
	var order []string

	for _, ev := range events {
		switch ev.Type {
		case EventStart:
			if msg.ID == "" {
				msg.ID = ev.MessageID
			}
		case EventTextDelta:
			msg.Parts = appendDelta(msg.Parts, PartText, ev.Content)
		case EventReasoningDelta:
			msg.Parts = appendDelta(msg.Parts, PartReasoning, ev.Content)
		case EventToolCall:
			msg.Parts = append(msg.Parts, Part{
				Type:       PartToolCall,
				ToolCallID: ev.ToolCallID,
				ToolName:   ev.Name,
				Arguments:  ev.Arguments,
			})
			pending[ev.ToolCallID]++
			order = append(order, ev.ToolCallID)
		case EventToolResult:
			msg.Parts = append(msg.Parts, Part{
				Type:       PartToolResult,
				ToolCallID: ev.ToolCallID,
				ToolName:   ev.Name,
				Success:    ev.Success,
				Message:    ev.Message,
				Payload:    ev.Payload,
			})
			if pending[ev.ToolCallID] > 0 {
				pending[ev.ToolCallID]--
			}
		}
	}

	for _, callID := range order {
		if pending[callID] == 0 {
			continue
		}
		pending[callID]--
		failed := false
		msg.Parts = append(msg.Parts, Part{
			Type:       PartToolResult,
			ToolCallID: callID,
			ToolName:   toolNameOf(msg.Parts, callID),
			Success:    &failed,
			Message:    interruptedToolMessage,
		})
	}

	return msg
}

func appendDelta(parts []Part, kind PartType, content string) []Part {
	if content == "" {
		return parts
	}
	if n := len(parts); n > 0 && parts[n-1].Type == kind {
		parts[n-1].Text += content
		return parts
	}
	return append(parts, Part{Type: kind, Text: content})
}

func toolNameOf(parts []Part, callID string) string {
	for _, part := range parts {
		if part.Type == PartToolCall && part.ToolCallID == callID {
			return part.ToolName
		}
	}
	return ""
}
