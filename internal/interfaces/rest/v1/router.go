package v1

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"bean-relay/internal/application/ingress"
	"bean-relay/internal/infrastructure/logger"
	"bean-relay/internal/interfaces/rest/v1/handler"
)

const (
	eventsPerSecond = 10
	eventBurst      = 20
)

// InitEventRouter mounts the local event trigger API under /api/v1/events.
func InitEventRouter(logger logger.Logger, events ingress.EventHandler, connections handler.ConnectionCounter, rg *gin.RouterGroup) {
	eventHandler := handler.NewEventHandler(events, connections, logger)

	apiGroup := rg.Group("/api/v1/events")
	apiGroup.Use(handler.RateLimit(rate.NewLimiter(eventsPerSecond, eventBurst)))
	{
		apiGroup.POST("/cheer", eventHandler.Cheer)
		apiGroup.POST("/redemption", eventHandler.Redemption)
	}
}
