package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tasks/backend/internal/logging"
	"github.com/zhouzirui/z-tasks/backend/internal/middleware"
	"github.com/zhouzirui/z-tasks/backend/internal/model/chat"
	streamsvc "github.com/zhouzirui/z-tasks/backend/internal/service/stream"
	"github.com/zhouzirui/z-tasks/backend/internal/service/turn"
	"github.com/zhouzirui/z-tasks/backend/pkg/utils"
)

// Resumer reattaches callers to the stream of a chat.
type Resumer interface {
	Resume(ctx context.Context, ownerID, chatID, streamID string, after int64) (chat.StreamRecord, streamsvc.Reader, error)
}

// Handler 提供流的断线续传接口（SSE 与 WebSocket）。
type Handler struct {
	turns    Resumer
	upgrader websocket.Upgrader
}

// New 创建流处理器
func New(turns Resumer) *Handler {
	return &Handler{
		turns: turns,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes 注册续传路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/chat/{chatID}/stream", h.handleResume)
	r.Get("/chat/{chatID}/stream/ws", h.handleWebSocket)
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	record, reader, ok := h.resume(w, r)
	if !ok {
		return
	}
	defer reader.Close()

	w.Header().Set("X-Stream-ID", record.StreamID)
	ServeSSE(w, r, reader)
}

// resume validates the request and attaches a reader. It writes the error
// response itself and reports false when no reader could be attached.
func (h *Handler) resume(w http.ResponseWriter, r *http.Request) (chat.StreamRecord, streamsvc.Reader, bool) {
	owner := middleware.UserID(r.Context())
	if owner == "" {
		utils.RespondError(w, http.StatusUnauthorized, utils.CodeUnauthorized, "You need to sign in to continue.")
		return chat.StreamRecord{}, nil, false
	}

	after, err := parseAfter(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, utils.CodeBadRequest, "after must be a non-negative integer")
		return chat.StreamRecord{}, nil, false
	}

	chatID := chi.URLParam(r, "chatID")
	streamID := strings.TrimSpace(r.URL.Query().Get("streamId"))
	record, reader, err := h.turns.Resume(r.Context(), owner, chatID, streamID, after)
	if err != nil {
		RespondResumeError(w, r, err)
		return chat.StreamRecord{}, nil, false
	}
	return record, reader, true
}

// RespondResumeError maps resume failures to HTTP responses.
func RespondResumeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, streamsvc.ErrResumeUnavailable):
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, turn.ErrForbidden):
		utils.RespondError(w, http.StatusForbidden, utils.CodeForbidden, "This chat belongs to another user.")
	case errors.Is(err, chat.ErrSessionNotFound), errors.Is(err, chat.ErrStreamNotFound):
		utils.RespondError(w, http.StatusNotFound, utils.CodeNotFound, "The requested stream was not found.")
	default:
		logging.From(r.Context()).Error("failed to resume stream", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, utils.CodeInternal, chat.FaultMessage)
	}
}

// parseAfter reads the resume position from ?after= or Last-Event-ID.
func parseAfter(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("after"))
	if raw == "" {
		raw = strings.TrimSpace(r.Header.Get("Last-Event-ID"))
	}
	if raw == "" {
		return 0, nil
	}
	after, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || after < 0 {
		return 0, errors.New("invalid resume position")
	}
	return after, nil
}

// ServeSSE writes every event of reader as an SSE record until the stream
// ends or the client goes away. Leaving early never stops the turn.
func ServeSSE(w http.ResponseWriter, r *http.Request, reader streamsvc.Reader) {
	logger := logging.From(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, utils.CodeInternal, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		ev, err := reader.Next(ctx)
		if errors.Is(err, io.EOF) {
			if err := utils.SendSSEDone(w, flusher); err != nil {
				logger.Debug("client left before end of stream", zap.Error(err))
			}
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("stream read failed", zap.Error(err))
			}
			return
		}
		if err := utils.SendSSEEvent(w, flusher, ev.Seq, ev); err != nil {
			logger.Debug("client disconnected", zap.Int64("seq", ev.Seq), zap.Error(err))
			return
		}
	}
}
