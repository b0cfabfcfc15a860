package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(CORS(allowedOrigins))

	// Public routes
	r.Get("/health", apiHandler.HealthHandler)
	r.Post("/init-session", apiHandler.InitSessionHandler)

	// Credential-gated routes
	r.Group(func(r chi.Router) {
		r.Use(SessionGate(apiHandler.codec, apiHandler.logger))

		r.Post("/fetch-history", apiHandler.FetchHistoryHandler)
		r.Post("/clear-history", apiHandler.ClearHistoryHandler)
		r.Post("/ask-agent", apiHandler.AskAgentHandler)
		r.Post("/test-auth", apiHandler.TestAuthHandler)
	})

	return r
}
