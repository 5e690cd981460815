package api

import (
	"encoding/json"
	"net/http"

	"github.com/tapcanvas/tapcanvas/ai-engine/internal/api/handlers"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/api/middleware"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/config"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.UserExtractor)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-Id", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Chat
		r.Route("/chat", func(r chi.Router) {
			r.Post("/", h.Chat)
			r.Post("/stream", h.ChatStream)
			r.Post("/intelligent", h.IntelligentChat)
			r.Post("/intelligent/stream", h.IntelligentChatStream)
		})

		// Tool results & the per-user event stream
		r.Post("/tools/result", h.SubmitToolResult)
		r.Get("/events", h.Events)

		// Prompt sample library
		r.Get("/prompts/search", h.SearchPrompts)

		// Plans
		r.Get("/plans/active", h.ActivePlans)

		// Provider records
		r.Route("/providers", func(r chi.Router) {
			r.Get("/", h.ListProviders)
			r.Route("/{vendor}", func(r chi.Router) {
				r.Get("/", h.GetProvider)
				r.Put("/", h.UpsertProvider)
				r.Delete("/", h.DeleteProvider)
			})
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "tapcanvas-ai-engine",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "tapcanvas-ai-engine",
		})
	}
}
