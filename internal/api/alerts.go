package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/t77yq/alert-engine/internal/model"
	"github.com/t77yq/alert-engine/internal/storage"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type transitionRequest struct {
	Actor string `json:"actor"`
	Note  string `json:"note"`
}

type transitionFunc func(ctx context.Context, tenantID, id, actor, note string) (*model.AlertInstance, error)

// ListAlerts returns a page of the tenant's alert instances
func (h *Handlers) ListAlerts(c *gin.Context) {
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		sendError(c, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	limit, err := queryInt(c, "limit", defaultPageSize)
	if err != nil || limit <= 0 {
		sendError(c, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	filter := storage.InstanceFilter{
		Status: model.AlertStatus(c.Query("status")),
		RuleID: c.Query("rule_id"),
	}
	instances, total, err := h.alerts.List(c.Request.Context(), c.Param("tenant"), filter, offset, limit)
	if err != nil {
		sendFailure(c, err)
		return
	}
	sendSuccessWithMeta(c, instances, gin.H{
		"total":  total,
		"offset": offset,
		"limit":  limit,
	})
}

// GetAlert returns one alert instance
func (h *Handlers) GetAlert(c *gin.Context) {
	instance, err := h.alerts.Get(c.Request.Context(), c.Param("tenant"), c.Param("id"))
	if err != nil {
		sendFailure(c, err)
		return
	}
	sendSuccess(c, http.StatusOK, instance)
}

// AcknowledgeAlert moves an active instance to acknowledged
func (h *Handlers) AcknowledgeAlert(c *gin.Context) {
	h.transition(c, h.alerts.Acknowledge)
}

// ResolveAlert resolves an active or acknowledged instance
func (h *Handlers) ResolveAlert(c *gin.Context) {
	h.transition(c, h.alerts.Resolve)
}

// SuppressAlert suppresses an active instance
func (h *Handlers) SuppressAlert(c *gin.Context) {
	h.transition(c, h.alerts.Suppress)
}

func (h *Handlers) transition(c *gin.Context, fn transitionFunc) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	instance, err := fn(c.Request.Context(), c.Param("tenant"), c.Param("id"), req.Actor, req.Note)
	if err != nil {
		sendFailure(c, err)
		return
	}
	sendSuccess(c, http.StatusOK, instance)
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
