package variant

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-tasks/backend/internal/model/variant"
	"github.com/zhouzirui/z-tasks/backend/pkg/utils"
)

// Handler 模型变体的HTTP处理器
type Handler struct {
	variants variant.Store
}

// New 创建变体处理器
func New(variants variant.Store) *Handler {
	return &Handler{variants: variants}
}

// RegisterRoutes 注册变体相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/models", h.handleListVariants)
}

// handleListVariants 列出客户端可选的变体
func (h *Handler) handleListVariants(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.variants.List())
}
