package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/liboscore/shim/internal/apimetrics"
	"github.com/liboscore/shim/internal/ipc"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventsHandler streams helper reconfigure/teardown/dispatch/broadcast
// events to WebSocket clients as they occur, grounded on the teacher's
// internal/ws.Handler connection loop.
type EventsHandler struct {
	manager *ipc.Manager
	metrics *apimetrics.Metrics
	log     *zap.Logger
}

// Handle upgrades the connection and forwards every metrics event until
// the client disconnects or the request context is canceled.
func (h *EventsHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	events, cancel := h.manager.Metrics.Subscribe()
	defer cancel()

	_ = conn.WriteJSON(map[string]any{"kind": "connected"})

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			h.metrics.RecordWSMessage("out", ev.Kind)
		case <-time.After(30 * time.Second):
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
