package task

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tasks/backend/internal/logging"
	"github.com/zhouzirui/z-tasks/backend/internal/middleware"
	"github.com/zhouzirui/z-tasks/backend/internal/model/task"
	"github.com/zhouzirui/z-tasks/backend/pkg/utils"
)

// Handler 任务列表的HTTP处理器，供客户端缓存刷新与乐观更新使用。
type Handler struct {
	tasks task.Store
}

// New 创建任务处理器
func New(tasks task.Store) *Handler {
	return &Handler{tasks: tasks}
}

// RegisterRoutes 注册任务相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Post("/toggle-all", h.handleToggleAll)
		r.Post("/clear-completed", h.handleClearCompleted)
		r.Patch("/{taskID}", h.handleUpdate)
		r.Delete("/{taskID}", h.handleDelete)
	})
}

type createRequest struct {
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

type updateRequest struct {
	Text      *string    `json:"text"`
	Completed *bool      `json:"completed"`
	Time      *time.Time `json:"time"`
}

type toggleRequest struct {
	Completed *bool `json:"completed"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	tasks, err := h.tasks.List(r.Context(), owner)
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, tasks)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req createRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" || req.Time.IsZero() {
		utils.RespondError(w, http.StatusBadRequest, utils.CodeTaskInvalid, "text and time are required")
		return
	}

	created, err := h.tasks.Create(r.Context(), owner, req.Text, req.Time.UTC())
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if !decode(w, r, &req) {
		return
	}

	patch := task.Patch{Text: req.Text, Completed: req.Completed}
	if req.Time != nil {
		at := req.Time.UTC()
		patch.Time = &at
	}
	if patch.Empty() {
		utils.RespondError(w, http.StatusBadRequest, utils.CodeTaskInvalid, "Provide new text, completion status, or new datetime.")
		return
	}

	updated, err := h.tasks.Update(r.Context(), chi.URLParam(r, "taskID"), owner, patch)
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "taskID")
	if err := h.tasks.Delete(r.Context(), id, owner); err != nil {
		respondStoreError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (h *Handler) handleToggleAll(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req toggleRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Completed == nil {
		utils.RespondError(w, http.StatusBadRequest, utils.CodeTaskInvalid, "completed is required")
		return
	}

	n, err := h.tasks.BulkUpdate(r.Context(), owner, *req.Completed)
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]int{"updated": n})
}

// handleClearCompleted 删除已完成任务并返回剩余任务。
func (h *Handler) handleClearCompleted(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	if _, err := h.tasks.BulkDeleteCompleted(r.Context(), owner); err != nil {
		respondStoreError(w, r, err)
		return
	}
	h.handleList(w, r)
}

func requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := middleware.UserID(r.Context())
	if owner == "" {
		utils.RespondError(w, http.StatusUnauthorized, utils.CodeTaskAuth, "You need to sign in to continue.")
		return "", false
	}
	return owner, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(dst); err != nil {
		utils.RespondError(w, http.StatusBadRequest, utils.CodeTaskInvalid, "invalid request body")
		return false
	}
	return true
}

func respondStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		utils.RespondError(w, http.StatusNotFound, utils.CodeTaskNotFound, "Task not found.")
	case errors.Is(err, task.ErrEmptyText):
		utils.RespondError(w, http.StatusBadRequest, utils.CodeTaskInvalid, err.Error())
	default:
		logging.From(r.Context()).Error("task request failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, utils.CodeInternal, "Failed to access tasks.")
	}
}
