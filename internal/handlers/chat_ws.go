package handlers

import (
	"net/http"

	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/middleware"
	"github.com/BisonCoders/BisonCodersWeb-sub000/internal/realtime"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ChatWebSocket upgrades authenticated requests and hands the connection
// to the realtime gateway. It must run behind middleware.RequireSession,
// which also accepts the token as a query parameter for browsers.
type ChatWebSocket struct {
	upgrader websocket.Upgrader
	gateway  *realtime.Gateway
	log      *zap.Logger
}

func NewChatWebSocket(gateway *realtime.Gateway, allowedOrigins []string, log *zap.Logger) *ChatWebSocket {
	return &ChatWebSocket{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return middleware.OriginAllowed(r, allowedOrigins)
			},
		},
		gateway: gateway,
		log:     log,
	}
}

func (h *ChatWebSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Message: "Missing session token"})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	h.gateway.Serve(r.Context(), conn, userID)
}
