package chat

import "time"

// Visibility controls who may read a session's transcript.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Valid reports whether v is one of the known visibility values.
func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// Session captures a chat conversation owned by a single user.
type Session struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"ownerId"`
	Title      string     `json:"title"`
	Visibility Visibility `json:"visibility"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// StreamRecord is the resumption handle of one model invocation.
type StreamRecord struct {
	StreamID  string    `json:"streamId"`
	ChatID    string    `json:"chatId"`
	CreatedAt time.Time `json:"createdAt"`
}
