package overlay

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bean-relay/internal/infrastructure/hub"
	"bean-relay/internal/infrastructure/logger"
)

// InitOverlayRouter registers the page, status and optional metrics routes.
func InitOverlayRouter(logger logger.Logger, page string, hubInstance *hub.Hub, metrics http.Handler, rg *gin.RouterGroup) {
	overlayHandler := NewOverlayHandler(page, hubInstance, logger)

	rg.GET("/", overlayHandler.Page)
	rg.GET("/status", overlayHandler.Status)
	if metrics != nil {
		rg.GET("/metrics", gin.WrapH(metrics))
	}
}
