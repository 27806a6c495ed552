package websocket

import (
	"bean-relay/internal/infrastructure/hub"
	"bean-relay/internal/infrastructure/logger"

	"github.com/gin-gonic/gin"
)

// InitWebSocketRouter serves the overlay websocket on the group root and /ws.
func InitWebSocketRouter(logger logger.Logger, hubInstance *hub.Hub, rg *gin.RouterGroup) {
	wsHandler := NewWebSocketHandler(hubInstance, logger)

	rg.GET("/", wsHandler.Connect)
	rg.GET("/ws", wsHandler.Connect)
}
