package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"spurr-backend/internal/handlers"
	"spurr-backend/internal/middleware"
)

func New(
	chatHandler *handlers.ChatHandler,
	chatLimiter *middleware.RateLimiter,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {

		// ──── Chat Routes ────
		r.Route("/chat", func(r chi.Router) {
			r.Use(middleware.Session)
			r.With(chatLimiter.Middleware).Post("/message", chatHandler.SendMessage)
			r.Get("/", chatHandler.ListConversations)
			r.Get("/{id}", chatHandler.GetHistory)
		})
	})

	return r
}
