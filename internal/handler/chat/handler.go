package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tasks/backend/internal/handler/stream"
	"github.com/zhouzirui/z-tasks/backend/internal/logging"
	"github.com/zhouzirui/z-tasks/backend/internal/middleware"
	"github.com/zhouzirui/z-tasks/backend/internal/model/chat"
	streamsvc "github.com/zhouzirui/z-tasks/backend/internal/service/stream"
	"github.com/zhouzirui/z-tasks/backend/internal/service/turn"
	"github.com/zhouzirui/z-tasks/backend/pkg/utils"
)

const maxBodyBytes = 1 << 20

// Turns is the part of the turn service the chat routes use.
type Turns interface {
	Submit(ctx context.Context, sub turn.Submission) (chat.StreamRecord, streamsvc.Reader, error)
	Messages(ctx context.Context, ownerID, chatID string) ([]chat.Message, error)
	Delete(ctx context.Context, ownerID, chatID string) (chat.Session, error)
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	turns Turns
}

// New 创建聊天处理器
func New(turns Turns) *Handler {
	return &Handler{turns: turns}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleSubmit)
	r.Delete("/chat", h.handleDelete)
	r.Get("/chat/{chatID}/messages", h.handleMessages)
}

// handleSubmit 提交用户消息并以 SSE 返回本轮事件流
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	owner := middleware.UserID(r.Context())
	if owner == "" {
		respondUnauthorized(w)
		return
	}

	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, utils.CodeBadRequest, "The request couldn't be processed. Please check your input and try again.")
		return
	}
	sub, err := req.submission(owner)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, utils.CodeBadRequest, err.Error())
		return
	}

	record, reader, err := h.turns.Submit(r.Context(), sub)
	if err != nil {
		respondTurnError(w, r, err)
		return
	}
	defer reader.Close()

	w.Header().Set("X-Stream-ID", record.StreamID)
	stream.ServeSSE(w, r, reader)
}

// handleDelete 删除会话并返回被删除的记录
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	owner := middleware.UserID(r.Context())
	if owner == "" {
		respondUnauthorized(w)
		return
	}

	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		utils.RespondError(w, http.StatusBadRequest, utils.CodeBadRequest, "id query parameter is required")
		return
	}

	session, err := h.turns.Delete(r.Context(), owner, id)
	if err != nil {
		respondTurnError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	owner := middleware.UserID(r.Context())
	if owner == "" {
		respondUnauthorized(w)
		return
	}

	messages, err := h.turns.Messages(r.Context(), owner, chi.URLParam(r, "chatID"))
	if err != nil {
		respondTurnError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}

func respondUnauthorized(w http.ResponseWriter) {
	utils.RespondError(w, http.StatusUnauthorized, utils.CodeUnauthorized, "You need to sign in to continue.")
}

func respondTurnError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, turn.ErrOwnerMissing):
		respondUnauthorized(w)
	case errors.Is(err, turn.ErrInvalidMessage), errors.Is(err, turn.ErrUnknownVariant):
		utils.RespondError(w, http.StatusBadRequest, utils.CodeBadRequest, err.Error())
	case errors.Is(err, turn.ErrForbidden):
		utils.RespondError(w, http.StatusForbidden, utils.CodeForbidden, "This chat belongs to another user.")
	case errors.Is(err, chat.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, utils.CodeNotFound, "The requested chat was not found.")
	default:
		logging.From(r.Context()).Error("chat request failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, utils.CodeInternal, chat.FaultMessage)
	}
}
