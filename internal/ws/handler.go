package ws

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/threadscope/borderd/internal/event"
)

// clientBuffer is the per-client send queue depth.
const clientBuffer = 64

// Handler upgrades /ws requests and forwards bus events to the hub.
type Handler struct {
	hub    *Hub
	logger *zap.Logger
}

// NewHandler creates the WebSocket endpoint and subscribes the hub to all
// bus events. The returned unsubscribe function detaches it again.
func NewHandler(hub *Hub, bus event.Subscriber, logger *zap.Logger) (*Handler, func()) {
	h := &Handler{hub: hub, logger: logger}
	unsubscribe := bus.SubscribeAll(func(_ context.Context, e event.Event) {
		hub.Broadcast(Message{
			Topic:     e.Topic,
			Source:    e.Source,
			Timestamp: e.Timestamp,
			Data:      e.Payload,
		})
	})
	return h, unsubscribe
}

// RegisterRoutes mounts the WebSocket endpoint.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", h.handleWS)
}

// handleWS upgrades the connection and pumps events until the client goes
// away.
func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan Message, clientBuffer),
		logger: h.logger,
	}
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	ctx := r.Context()
	go client.writePump(ctx)
	client.readPump(ctx)
	_ = conn.Close(websocket.StatusNormalClosure, "")
}
