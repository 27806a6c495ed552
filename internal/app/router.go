package app

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"bean-relay/internal/application/ingress"
	"bean-relay/internal/infrastructure/hub"
	"bean-relay/internal/infrastructure/logger"
	"bean-relay/internal/interfaces/overlay"
	v1 "bean-relay/internal/interfaces/rest/v1"
	"bean-relay/internal/interfaces/sse"
	"bean-relay/internal/interfaces/websocket"
)

// InitConnectionRouter serves overlay connections: websocket on / and /ws,
// Server-Sent Events on /sse.
func InitConnectionRouter(hubInstance *hub.Hub, log logger.Logger) http.Handler {
	router := gin.New()
	router.Use(requestLogger(log))
	router.Use(gin.Recovery())

	rootGroup := router.Group("")

	sse.InitSSERouter(log, hubInstance, rootGroup)
	websocket.InitWebSocketRouter(log, hubInstance, rootGroup)

	return router
}

// InitOverlayRouter serves the overlay page, status, metrics and the local
// event trigger API.
func InitOverlayRouter(
	page string,
	hubInstance *hub.Hub,
	events ingress.EventHandler,
	metrics http.Handler,
	log logger.Logger,
) http.Handler {
	router := gin.New()
	router.Use(requestLogger(log))
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	rootGroup := router.Group("")

	overlay.InitOverlayRouter(log, page, hubInstance, metrics, rootGroup)
	v1.InitEventRouter(log, events, hubInstance, rootGroup)

	return router
}

func requestLogger(log logger.Logger) gin.HandlerFunc {
	log = log.WithField("component", "http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logger.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("Request handled")
	}
}
