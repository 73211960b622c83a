package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/zhouzirui/z-tasks/backend/internal/model/variant"
	chatservice "github.com/zhouzirui/z-tasks/backend/internal/service/chat"
	"github.com/zhouzirui/z-tasks/backend/internal/service/stream"
	taskservice "github.com/zhouzirui/z-tasks/backend/internal/service/task"
	"github.com/zhouzirui/z-tasks/backend/internal/service/turn"
)

func newTestRouter(t *testing.T) http.Handler {
	logger := zaptest.NewLogger(t)
	variants := variant.NewMemoryStore(variant.Seed())
	broker := stream.NewBroker(stream.NewMemoryLog(), stream.WithLogger(logger))
	t.Cleanup(broker.Wait)
	return NewRouter(Deps{
		Turns:    turn.NewService(chatservice.NewMemoryStore(), variants, nil, broker, turn.WithLogger(logger)),
		Tasks:    taskservice.NewMemoryStore(),
		Variants: variants,
		Logger:   logger,
	})
}

func TestRoutesAreMounted(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		method string
		path   string
		user   string
		want   int
	}{
		{http.MethodGet, "/healthz", "", http.StatusOK},
		{http.MethodGet, "/api/models", "", http.StatusOK},
		{http.MethodGet, "/api/tasks", "alice", http.StatusOK},
		{http.MethodGet, "/api/tasks", "", http.StatusUnauthorized},
		{http.MethodPost, "/api/chat", "", http.StatusUnauthorized},
		{http.MethodGet, "/api/chat/nope/messages", "alice", http.StatusNotFound},
		{http.MethodGet, "/api/chat/nope/stream", "alice", http.StatusNotFound},
		{http.MethodOptions, "/api/chat", "", http.StatusNoContent},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		if tc.user != "" {
			req.Header.Set("X-User-ID", tc.user)
		}
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		if resp.Code != tc.want {
			t.Errorf("%s %s: expected %d, got %d", tc.method, tc.path, tc.want, resp.Code)
		}
	}
}
