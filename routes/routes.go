package routes

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/upb/org-rag-assistant/app"
	"github.com/upb/org-rag-assistant/handlers"
	"github.com/upb/org-rag-assistant/middleware"
	"github.com/upb/org-rag-assistant/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	cfg := deps.Config
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	if deps.Metrics != nil {
		r.Use(middleware.Metrics(deps.Metrics))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	var sqlDB *sql.DB
	if deps.DB != nil {
		sqlDB = deps.DB.DB
	}
	health := handlers.NewHealthHandler(sqlDB, deps.Index, cfg.RAG.OrganizationName+" AI Assistant", deps.Logger)

	r.Get("/", health.HandleRoot)
	r.Get("/health", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	chat := handlers.NewChatHandler(deps.Conversations, deps.Orchestrator, cfg.RAG.DebugProbeQuery, deps.Logger)

	r.Route("/api/chat", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(cfg.Server.WriteTimeout))
			r.Post("/message", chat.HandleSendMessage)
		})

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(cfg.Server.RequestTimeout))
			r.Post("/new", chat.HandleCreateConversation)
			r.Get("/conversations", chat.HandleListConversations)
			r.Get("/conversations/{id}", chat.HandleGetConversation)
			r.Delete("/conversations/{id}", chat.HandleDeleteConversation)
			r.Put("/conversations/{id}/title", chat.HandleUpdateTitle)
			r.Get("/debug/rag-test", chat.HandleRAGTest)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	return r
}
