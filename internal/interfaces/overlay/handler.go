package overlay

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"bean-relay/internal/infrastructure/hub"
	"bean-relay/internal/infrastructure/logger"
)

// OverlayHandler serves the overlay page and relay status.
type OverlayHandler struct {
	page   string
	hub    *hub.Hub
	logger logger.Logger
}

func NewOverlayHandler(page string, hubInstance *hub.Hub, logger logger.Logger) *OverlayHandler {
	return &OverlayHandler{
		page:   page,
		hub:    hubInstance,
		logger: logger.WithField("handler", "overlay"),
	}
}

func (h *OverlayHandler) Page(c *gin.Context) {
	if _, err := os.Stat(h.page); err != nil {
		h.logger.Errorf("Overlay page unavailable: %v", err)
		c.String(http.StatusNotFound, "overlay page not found")
		return
	}
	c.File(h.page)
}

func (h *OverlayHandler) Status(c *gin.Context) {
	connections := h.hub.GetConnections()
	byTransport := make(map[string]int)
	for _, conn := range connections {
		byTransport[conn.Type()]++
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"hub_running": h.hub.IsRunning(),
		"connections": len(connections),
		"transports":  byTransport,
	})
}
