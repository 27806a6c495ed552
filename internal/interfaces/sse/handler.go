package sse

import (
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"bean-relay/internal/infrastructure/hub"
	"bean-relay/internal/infrastructure/logger"
)

type ServerSentEventHandler struct {
	hub    *hub.Hub
	logger logger.Logger
}

func NewServerSentEventHandler(hubInstance *hub.Hub, logger logger.Logger) *ServerSentEventHandler {
	return &ServerSentEventHandler{
		hub:    hubInstance,
		logger: logger.WithField("handler", "sse"),
	}
}

// Connect streams overlay events to the client until it goes away or the
// connection is closed by the hub.
func (h *ServerSentEventHandler) Connect(c *gin.Context) {
	if !h.hub.IsRunning() {
		h.logger.Warn("Rejecting SSE connection, hub is not running")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Service temporarily unavailable",
		})
		return
	}

	conn := hub.NewSSEConnection(c.Request.Context(), "sse-"+uuid.NewString(), c.Writer, h.logger)

	if err := h.hub.RegisterConnection(conn); err != nil {
		h.logger.Errorf("Failed to register connection: %v", err)
		_ = conn.Close()
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to register connection",
		})
		return
	}
	h.logger.Infof("Overlay connected (%s). Total: %d", conn.ID(), h.hub.ConnectionCount())

	c.Status(http.StatusOK)
	sse.Encode(c.Writer, sse.Event{
		Event: "connected",
		Data: map[string]interface{}{
			"connection_id": conn.ID(),
			"timestamp":     time.Now().Format(time.RFC3339),
		},
	})
	c.Writer.Flush()

	conn.Serve()

	h.hub.UnregisterConnection(conn)
	h.logger.Infof("Overlay disconnected (%s). Total: %d", conn.ID(), h.hub.ConnectionCount())
}
