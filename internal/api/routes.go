package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Route("/templates", func(r chi.Router) {
			r.Post("/validate", h.ValidateTemplate)
			r.Post("/", h.SaveTemplate)
			r.Get("/", h.ListTemplates)
			r.Get("/{guid}", h.GetTemplate)
			r.Delete("/{guid}", h.DeleteTemplate)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.CreateSession)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/document", h.GetDocument)
				r.Post("/layers/next", h.RunNextLayer)
				r.Post("/layers/{index}", h.RunLayer)
				r.Post("/overrides", h.ApplyOverride)
				r.Post("/expression", h.ProposeExpression)
				r.Post("/reset", h.ResetSession)
				r.Delete("/", h.DeleteSession)
			})
		})

		r.Post("/expressions/validate", h.ValidateExpression)
	})

	return r
}
