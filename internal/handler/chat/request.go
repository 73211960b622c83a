package chat

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-tasks/backend/internal/model/chat"
	"github.com/zhouzirui/z-tasks/backend/internal/service/turn"
)

const maxTextRunes = 2000

var allowedMediaTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
}

type requestPart struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
	Name      string `json:"name,omitempty"`
	URL       string `json:"url,omitempty"`
}

type requestMessage struct {
	ID    string        `json:"id"`
	Role  string        `json:"role"`
	Parts []requestPart `json:"parts"`
}

// submitRequest 是 POST /api/chat 的请求体。
type submitRequest struct {
	ID                     string         `json:"id"`
	Message                requestMessage `json:"message"`
	SelectedChatModel      string         `json:"selectedChatModel"`
	SelectedVisibilityType string         `json:"selectedVisibilityType"`
}

// submission validates the body and converts it for the turn service. File
// parts become attachments.
func (req submitRequest) submission(ownerID string) (turn.Submission, error) {
	if _, err := uuid.Parse(req.ID); err != nil {
		return turn.Submission{}, errors.New("id must be a uuid")
	}
	if _, err := uuid.Parse(req.Message.ID); err != nil {
		return turn.Submission{}, errors.New("message.id must be a uuid")
	}
	if req.Message.Role != string(chat.RoleUser) {
		return turn.Submission{}, errors.New("message.role must be user")
	}
	if strings.TrimSpace(req.SelectedChatModel) == "" {
		return turn.Submission{}, errors.New("selectedChatModel is required")
	}
	visibility := chat.Visibility(req.SelectedVisibilityType)
	if !visibility.Valid() {
		return turn.Submission{}, errors.New("selectedVisibilityType must be public or private")
	}
	if len(req.Message.Parts) == 0 {
		return turn.Submission{}, errors.New("message.parts must not be empty")
	}

	msg := chat.Message{
		ID:          req.Message.ID,
		ChatID:      req.ID,
		Role:        chat.RoleUser,
		Parts:       make([]chat.Part, 0, len(req.Message.Parts)),
		Attachments: []chat.Attachment{},
	}
	for _, part := range req.Message.Parts {
		switch part.Type {
		case "text":
			n := utf8.RuneCountInString(part.Text)
			if n == 0 || n > maxTextRunes {
				return turn.Submission{}, errors.New("text parts must hold 1 to 2000 characters")
			}
			msg.Parts = append(msg.Parts, chat.Part{Type: chat.PartText, Text: part.Text})
		case "file":
			if _, ok := allowedMediaTypes[part.MediaType]; !ok {
				return turn.Submission{}, errors.New("file parts must be jpeg or png images")
			}
			if part.URL == "" || part.Name == "" {
				return turn.Submission{}, errors.New("file parts need a name and url")
			}
			msg.Attachments = append(msg.Attachments, chat.Attachment{
				Name:        part.Name,
				URL:         part.URL,
				ContentType: part.MediaType,
			})
		default:
			return turn.Submission{}, errors.New("unsupported part type " + part.Type)
		}
	}

	return turn.Submission{
		ChatID:     req.ID,
		OwnerID:    ownerID,
		Message:    msg,
		VariantID:  req.SelectedChatModel,
		Visibility: visibility,
	}, nil
}
