package chat

import "encoding/json"

// FaultMessage is the only detail of an internal failure a client sees.
const FaultMessage = "Oops, an error occurred!"

// EventType tags a record of the response stream.
type EventType string

const (
	EventStart          EventType = "start"
	EventTextDelta      EventType = "text-delta"
	EventReasoningDelta EventType = "reasoning-delta"
	EventToolCall       EventType = "tool-call"
	EventToolResult     EventType = "tool-result"
	EventDone           EventType = "done"
	EventError          EventType = "error"
)

// Event is one record of a turn's response stream. Seq is assigned by the
// broker and is strictly increasing within a stream, starting at 1.
type Event struct {
	Seq        int64           `json:"seq"`
	Type       EventType       `json:"type"`
	MessageID  string          `json:"messageId,omitempty"`
	Content    string          `json:"content,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	Name       string          `json:"name,omitempty"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	Success    *bool           `json:"success,omitempty"`
	Message    string          `json:"message,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Terminal reports whether no event may follow e.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

func TextDelta(content string) Event {
	return Event{Type: EventTextDelta, Content: content}
}

func ReasoningDelta(content string) Event {
	return Event{Type: EventReasoningDelta, Content: content}
}

func Done() Event {
	return Event{Type: EventDone}
}

func Failure(message string) Event {
	return Event{Type: EventError, Message: message}
}
