package syncserver

import (
	"fmt"
	"log"
	"net/http"

	"orator-go/internal/auth"
	"orator-go/internal/config"
	ws "orator-go/internal/websocket"
)

// WebSocketHandler accepts push connections from clients.
type WebSocketHandler struct {
	hub       *ws.Hub
	blacklist auth.TokenBlacklist
	cfg       config.Config
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(hub *ws.Hub, blacklist auth.TokenBlacklist, cfg config.Config) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, blacklist: blacklist, cfg: cfg}
}

// ServeWS upgrades the HTTP request to a WebSocket push connection. The
// token travels as a query parameter because browsers cannot set headers on
// WebSocket upgrades.
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing authentication token", http.StatusUnauthorized)
		return
	}

	claims, err := auth.ValidateToken(r.Context(), token, h.cfg.Auth.JWTSecretKey, h.blacklist)
	if err != nil {
		log.Printf("WebSocket connection rejected, invalid token: %v", err)
		http.Error(w, fmt.Sprintf("invalid token: %v", err), http.StatusUnauthorized)
		return
	}

	ws.ServeWsPerConnection(h.hub, claims.UserID, w, r, h.cfg.WebSocket)
}
