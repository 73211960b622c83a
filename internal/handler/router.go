package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tasks/backend/internal/handler/chat"
	"github.com/zhouzirui/z-tasks/backend/internal/handler/stream"
	"github.com/zhouzirui/z-tasks/backend/internal/handler/task"
	"github.com/zhouzirui/z-tasks/backend/internal/handler/variant"
	middlewarePkg "github.com/zhouzirui/z-tasks/backend/internal/middleware"
	taskModel "github.com/zhouzirui/z-tasks/backend/internal/model/task"
	variantModel "github.com/zhouzirui/z-tasks/backend/internal/model/variant"
	turnService "github.com/zhouzirui/z-tasks/backend/internal/service/turn"
	"github.com/zhouzirui/z-tasks/backend/pkg/utils"
)

// Deps are the services the HTTP surface is built on.
type Deps struct {
	Turns    *turnService.Service
	Tasks    taskModel.Store
	Variants variantModel.Store
	Logger   *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.Identity)
	r.Use(middlewarePkg.RequestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		variant.New(deps.Variants).RegisterRoutes(api)
		task.New(deps.Tasks).RegisterRoutes(api)
		chat.New(deps.Turns).RegisterRoutes(api)
		stream.New(deps.Turns).RegisterRoutes(api)
	})

	return r
}
