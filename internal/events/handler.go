package events

import (
	"net/http"

	"github.com/fileregistry/backend/internal/auth"
	apperrors "github.com/fileregistry/backend/internal/errors"
	"github.com/fileregistry/backend/internal/logger"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades authenticated clients onto the event hub.
type Handler struct {
	hub         *Hub
	authService *auth.Service
}

func NewHandler(hub *Hub, authService *auth.Service) *Handler {
	return &Handler{
		hub:         hub,
		authService: authService,
	}
}

// ServeWS handles websocket requests. Authentication is via the token
// query parameter because the browser WebSocket API cannot set an
// Authorization header.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	token := r.URL.Query().Get("token")
	if token == "" {
		apperrors.WriteError(w, requestID, apperrors.Unauthorized("missing token parameter"))
		return
	}

	if _, err := h.authService.ValidateAccessToken(token); err != nil {
		apperrors.WriteError(w, requestID, apperrors.Forbidden("invalid access token"))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn(r.Context(), "websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	client := NewClient(h.hub, conn)
	h.hub.register <- client

	go client.WritePump()
	go client.ReadPump()
}
