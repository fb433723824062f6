package routes

import (
	"net/http"

	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/handlers"
	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/metrics"
	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// Deps are the handlers and guards the router is assembled from.
type Deps struct {
	Chats      *handlers.ChatHandler
	WebSocket  *handlers.ChatWebSocket
	Auth       middleware.Authenticator
	SendLimit  *middleware.KeyedLimiter
	ReadLimit  *middleware.KeyedLimiter
	TrustProxy bool
}

func SetupRoutes(r chi.Router, d Deps) {
	// Health check and metrics (no auth, no rate limit)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	key := middleware.UserOrIPKey(d.TrustProxy)
	sendLimit := middleware.RateLimit(d.SendLimit, key, "Too many messages. Please slow down.")
	readLimit := middleware.RateLimit(d.ReadLimit, key, "Too many chat history requests. Please slow down.")

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSession(d.Auth))

		r.Route("/api/chats", func(r chi.Router) {
			r.Get("/", d.Chats.ListChats)
			r.Post("/", d.Chats.CreateChat)
			r.Post("/bootstrap", d.Chats.Bootstrap)

			r.Route("/{chatId}", func(r chi.Router) {
				r.Get("/", d.Chats.GetChat)
				r.With(readLimit).Get("/messages", d.Chats.LoadMessages)
				r.With(sendLimit).Post("/messages", d.Chats.SendMessage)
			})
		})

		// WebSocket endpoint for realtime chat
		r.Method(http.MethodGet, "/ws/chat", d.WebSocket)
	})
}
