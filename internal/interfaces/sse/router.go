package sse

import (
	"github.com/gin-gonic/gin"

	"bean-relay/internal/infrastructure/hub"
	"bean-relay/internal/infrastructure/logger"
)

func InitSSERouter(logger logger.Logger, hubInstance *hub.Hub, rg *gin.RouterGroup) {
	sseHandler := NewServerSentEventHandler(hubInstance, logger)

	sseGroup := rg.Group("/sse")
	sseGroup.GET("", sseHandler.Connect)
}
