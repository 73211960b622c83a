package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"github.com/zhouzirui/z-tasks/backend/internal/middleware"
	"github.com/zhouzirui/z-tasks/backend/internal/model/chat"
	"github.com/zhouzirui/z-tasks/backend/internal/model/variant"
	"github.com/zhouzirui/z-tasks/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/z-tasks/backend/internal/service/chat"
	"github.com/zhouzirui/z-tasks/backend/internal/service/stream"
	"github.com/zhouzirui/z-tasks/backend/internal/service/turn"
)

type echoRunner struct{}

func (echoRunner) Run(_ context.Context, t ai.Turn, emit ai.Emitter) {
	last := t.History[len(t.History)-1]
	emit(chat.TextDelta("You said: "))
	emit(chat.TextDelta(last.Text()))
	emit(chat.Done())
}

func setupRouter(t *testing.T) (*chi.Mux, *chatservice.MemoryStore, *stream.Broker) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	chats := chatservice.NewMemoryStore()
	broker := stream.NewBroker(stream.NewMemoryLog(), stream.WithLogger(logger))
	t.Cleanup(broker.Wait)
	svc := turn.NewService(chats, variant.NewMemoryStore(variant.Seed()), echoRunner{}, broker, turn.WithLogger(logger))

	r := chi.NewRouter()
	r.Use(middleware.Identity)
	New(svc).RegisterRoutes(r)
	return r, chats, broker
}

func submitBody(chatID, text string) map[string]any {
	return map[string]any{
		"id": chatID,
		"message": map[string]any{
			"id":    uuid.NewString(),
			"role":  "user",
			"parts": []map[string]any{{"type": "text", "text": text}},
		},
		"selectedChatModel":      variant.ChatModel,
		"selectedVisibilityType": "private",
	}
}

func post(r http.Handler, owner string, body any) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set(middleware.UserHeader, owner)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

// parseSSE returns the data payloads and ids of an SSE body.
func parseSSE(t *testing.T, body string) ([]chat.Event, []string, bool) {
	t.Helper()
	var (
		events []chat.Event
		ids    []string
		done   bool
	)
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "id: "):
			ids = append(ids, strings.TrimPrefix(line, "id: "))
		case line == "data: [DONE]":
			done = true
		case strings.HasPrefix(line, "data: "):
			var ev chat.Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				t.Fatalf("bad event %q: %v", line, err)
			}
			events = append(events, ev)
		}
	}
	return events, ids, done
}

func TestSubmitStreamsTurn(t *testing.T) {
	r, chats, broker := setupRouter(t)
	chatID := uuid.NewString()

	resp := post(r, "alice", submitBody(chatID, "hello"))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if resp.Header().Get("X-Stream-ID") == "" {
		t.Fatal("expected X-Stream-ID header")
	}

	events, ids, done := parseSSE(t, resp.Body.String())
	if !done {
		t.Fatal("expected [DONE] marker")
	}
	if len(events) != 4 || len(ids) != 4 {
		t.Fatalf("expected 4 events, got %d (%d ids)", len(events), len(ids))
	}
	if events[0].Type != chat.EventStart || ids[0] != "1" || ids[3] != "4" {
		t.Fatalf("unexpected framing %+v %v", events[0], ids)
	}
	if events[2].Content != "hello" {
		t.Fatalf("unexpected echo %q", events[2].Content)
	}

	broker.Wait()
	messages, err := chats.ListMessages(context.Background(), chatID)
	if err != nil {
		t.Fatalf("ListMessages err: %v", err)
	}
	if len(messages) != 2 || messages[1].Text() != "You said: hello" {
		t.Fatalf("unexpected transcript %+v", messages)
	}
}

func TestSubmitRequiresIdentity(t *testing.T) {
	r, _, _ := setupRouter(t)
	resp := post(r, "", submitBody(uuid.NewString(), "hello"))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"code":"unauthorized:chat"`) {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
}

func TestSubmitRejectsBadBodies(t *testing.T) {
	r, _, _ := setupRouter(t)

	mutations := map[string]func(map[string]any){
		"chat id not uuid": func(b map[string]any) { b["id"] = "chat-1" },
		"assistant role":   func(b map[string]any) { b["message"].(map[string]any)["role"] = "assistant" },
		"unknown model":    func(b map[string]any) { b["selectedChatModel"] = "nope" },
		"title model":      func(b map[string]any) { b["selectedChatModel"] = variant.TitleModel },
		"visibility":       func(b map[string]any) { b["selectedVisibilityType"] = "team" },
		"long text": func(b map[string]any) {
			b["message"].(map[string]any)["parts"] = []map[string]any{{"type": "text", "text": strings.Repeat("x", 2001)}}
		},
		"gif attachment": func(b map[string]any) {
			b["message"].(map[string]any)["parts"] = []map[string]any{{"type": "file", "mediaType": "image/gif", "name": "a.gif", "url": "https://x/a.gif"}}
		},
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			body := submitBody(uuid.NewString(), "hello")
			mutate(body)
			resp := post(r, "alice", body)
			if resp.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.Code)
			}
			if !strings.Contains(resp.Body.String(), `"code":"bad_request:api"`) {
				t.Fatalf("unexpected body %s", resp.Body.String())
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader("{"))
	req.Header.Set(middleware.UserHeader, "alice")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed json, got %d", resp.Code)
	}
}

func TestSubmitToForeignChatIsForbidden(t *testing.T) {
	r, _, broker := setupRouter(t)
	chatID := uuid.NewString()

	if resp := post(r, "alice", submitBody(chatID, "hello")); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	broker.Wait()

	if resp := post(r, "bob", submitBody(chatID, "hijack")); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestDeleteAndMessages(t *testing.T) {
	r, _, broker := setupRouter(t)
	chatID := uuid.NewString()
	post(r, "alice", submitBody(chatID, "hello"))
	broker.Wait()

	get := func(owner string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/chat/"+chatID+"/messages", nil)
		req.Header.Set(middleware.UserHeader, owner)
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		return resp
	}
	del := func(owner, query string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodDelete, "/chat"+query, nil)
		req.Header.Set(middleware.UserHeader, owner)
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		return resp
	}

	if resp := get("alice"); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if resp := get("bob"); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
	if resp := del("alice", ""); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without id, got %d", resp.Code)
	}
	if resp := del("bob", "?id="+chatID); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}

	resp := del("alice", "?id="+chatID)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var deleted chat.Session
	if err := json.Unmarshal(resp.Body.Bytes(), &deleted); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if deleted.ID != chatID || deleted.OwnerID != "alice" {
		t.Fatalf("unexpected record %+v", deleted)
	}
	if resp := get("alice"); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.Code)
	}
}

func TestSubmissionConvertsAttachments(t *testing.T) {
	req := submitRequest{
		ID: uuid.NewString(),
		Message: requestMessage{
			ID:   uuid.NewString(),
			Role: "user",
			Parts: []requestPart{
				{Type: "text", Text: "what is this"},
				{Type: "file", MediaType: "image/png", Name: "a.png", URL: "https://files/a.png"},
			},
		},
		SelectedChatModel:      variant.ChatModel,
		SelectedVisibilityType: "public",
	}

	sub, err := req.submission("alice")
	if err != nil {
		t.Fatalf("submission err: %v", err)
	}
	if len(sub.Message.Parts) != 1 || len(sub.Message.Attachments) != 1 {
		t.Fatalf("unexpected message %+v", sub.Message)
	}
	if sub.Message.Attachments[0].ContentType != "image/png" || sub.Visibility != chat.VisibilityPublic {
		t.Fatalf("unexpected conversion %+v", sub)
	}
}
