package websocket

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Handler upgrades /ws/events connections into subscribed Hub clients. The
// backend only ever talks to its own menu-bar UI over loopback, so there is
// no per-connection auth — origin checking still guards against a stray
// browser tab on the same machine reading task output.
type Handler struct {
	hub      *Hub
	ctx      context.Context
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(ctx context.Context, hub *Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hub:    hub,
		ctx:    ctx,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origin == "http://localhost" || origin == "app://helm"
			},
		},
	}
}

func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	clientID := uuid.New().String()
	client := NewClient(h.ctx, h.hub, conn, clientID, h.logger)

	h.hub.register <- client
	go client.WritePump()
	go client.ReadPump()
}
