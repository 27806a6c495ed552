package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bean-relay/internal/application/ingress"
	"bean-relay/internal/infrastructure/logger"
)

// ConnectionCounter reports how many overlays are attached.
type ConnectionCounter interface {
	ConnectionCount() int
}

// EventHandler lets local tools trigger overlay events without the upstream
// platform.
type EventHandler struct {
	events      ingress.EventHandler
	connections ConnectionCounter
	logger      logger.Logger
}

type CheerRequest struct {
	Bits     int    `json:"bits" binding:"min=0"`
	UserName string `json:"user_name"`
}

type RedemptionRequest struct {
	RewardTitle string `json:"reward_title" binding:"required"`
	UserName    string `json:"user_name"`
}

func NewEventHandler(events ingress.EventHandler, connections ConnectionCounter, logger logger.Logger) *EventHandler {
	return &EventHandler{
		events:      events,
		connections: connections,
		logger:      logger.WithField("handler", "events"),
	}
}

func (h *EventHandler) Cheer(c *gin.Context) {
	var req CheerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warnf("Invalid cheer request: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cheer format",
		})
		return
	}

	h.events.OnCheer(c.Request.Context(), ingress.CheerRecord{
		Bits:     req.Bits,
		UserName: req.UserName,
	})

	c.JSON(http.StatusAccepted, gin.H{
		"status":      "sent",
		"connections": h.connections.ConnectionCount(),
	})
}

func (h *EventHandler) Redemption(c *gin.Context) {
	var req RedemptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warnf("Invalid redemption request: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid redemption format",
		})
		return
	}

	h.events.OnRedemption(c.Request.Context(), ingress.RedemptionRecord{
		RewardTitle: req.RewardTitle,
		UserName:    req.UserName,
	})

	c.JSON(http.StatusAccepted, gin.H{
		"status":      "sent",
		"connections": h.connections.ConnectionCount(),
	})
}
