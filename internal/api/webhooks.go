package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CaptureWebhook stores an arbitrary JSON payload for webhook conditions
func (h *Handlers) CaptureWebhook(c *gin.Context) {
	var payload interface{}
	if err := c.ShouldBindJSON(&payload); err != nil {
		sendError(c, http.StatusBadRequest, "payload must be JSON: "+err.Error())
		return
	}

	tenantID, source := c.Param("tenant"), c.Param("source")
	h.webhooks.Capture(tenantID, source, payload, time.Now().UTC())
	h.logger.Debug("Webhook captured",
		zap.String("tenant_id", tenantID),
		zap.String("source", source))
	sendSuccess(c, http.StatusAccepted, gin.H{"source": source})
}
