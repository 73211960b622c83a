package chat

import (
	"encoding/json"
	"strings"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartType tags a content segment of a message.
type PartType string

const (
	PartText       PartType = "text"
	PartReasoning  PartType = "reasoning"
	PartToolCall   PartType = "tool-call"
	PartToolResult PartType = "tool-result"
)

// Part is one ordered content segment of a message.
type Part struct {
	Type       PartType        `json:"type"`
	Text       string          `json:"text,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	Success    *bool           `json:"success,omitempty"`
	Message    string          `json:"message,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Attachment references a file uploaded alongside a user message.
type Attachment struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
}

// Message is an append-only transcript entry of a session.
type Message struct {
	ID          string       `json:"id"`
	ChatID      string       `json:"chatId"`
	Role        Role         `json:"role"`
	Parts       []Part       `json:"parts"`
	Attachments []Attachment `json:"attachments"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Text concatenates the text parts of the message.
func (m Message) Text() string {
	var builder strings.Builder
	for _, part := range m.Parts {
		if part.Type == PartText {
			builder.WriteString(part.Text)
		}
	}
	return builder.String()
}
