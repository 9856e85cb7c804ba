package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/t77yq/alert-engine/internal/engine"
	"github.com/t77yq/alert-engine/internal/model"
	"github.com/t77yq/alert-engine/internal/rules"
	"github.com/t77yq/alert-engine/internal/storage"
)

// CreateRule stores a new rule for the tenant
func (h *Handlers) CreateRule(c *gin.Context) {
	rule := rules.NewDraft()
	if err := c.ShouldBindJSON(rule); err != nil {
		sendError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	created, err := h.rules.Create(c.Request.Context(), c.Param("tenant"), rule)
	if err != nil {
		sendFailure(c, err)
		return
	}
	sendSuccess(c, http.StatusCreated, created)
}

// ListRules lists the tenant's rules, optionally by enabled flag or tag
func (h *Handlers) ListRules(c *gin.Context) {
	var filter storage.RuleFilter
	if raw := c.Query("enabled"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			sendError(c, http.StatusBadRequest, fmt.Sprintf("invalid enabled filter %q", raw))
			return
		}
		filter.Enabled = &enabled
	}
	filter.Tag = c.Query("tag")

	list, err := h.rules.List(c.Request.Context(), c.Param("tenant"), filter)
	if err != nil {
		sendFailure(c, err)
		return
	}
	sendSuccessWithMeta(c, list, gin.H{"count": len(list)})
}

// GetRule returns one rule
func (h *Handlers) GetRule(c *gin.Context) {
	rule, err := h.rules.Get(c.Request.Context(), c.Param("tenant"), c.Param("id"))
	if err != nil {
		sendFailure(c, err)
		return
	}
	sendSuccess(c, http.StatusOK, rule)
}

// UpdateRule replaces the user-editable fields of a rule
func (h *Handlers) UpdateRule(c *gin.Context) {
	rule := rules.NewDraft()
	if err := c.ShouldBindJSON(rule); err != nil {
		sendError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	updated, err := h.rules.Update(c.Request.Context(), c.Param("tenant"), c.Param("id"), rule)
	if err != nil {
		sendFailure(c, err)
		return
	}
	sendSuccess(c, http.StatusOK, updated)
}

// DeleteRule removes a rule
func (h *Handlers) DeleteRule(c *gin.Context) {
	if err := h.rules.Delete(c.Request.Context(), c.Param("tenant"), c.Param("id")); err != nil {
		sendFailure(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// EnableRule turns a rule on
func (h *Handlers) EnableRule(c *gin.Context) {
	h.setEnabled(c, true)
}

// DisableRule turns a rule off
func (h *Handlers) DisableRule(c *gin.Context) {
	h.setEnabled(c, false)
}

func (h *Handlers) setEnabled(c *gin.Context, enabled bool) {
	rule, err := h.rules.SetEnabled(c.Request.Context(), c.Param("tenant"), c.Param("id"), enabled)
	if err != nil {
		sendFailure(c, err)
		return
	}
	sendSuccess(c, http.StatusOK, rule)
}

// TestRule evaluates a stored rule immediately
func (h *Handlers) TestRule(c *gin.Context) {
	var opts engine.TestOptions
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&opts); err != nil {
			sendError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	rule, err := h.rules.Get(c.Request.Context(), c.Param("tenant"), c.Param("id"))
	if err != nil {
		sendFailure(c, err)
		return
	}
	h.runTest(c, rule, opts)
}

type adHocTestRequest struct {
	Rule     *model.Rule `json:"rule" binding:"required"`
	Dispatch bool        `json:"dispatch"`
	Record   bool        `json:"record"`
}

// TestAdHocRule evaluates an unsaved rule. Recording is refused because
// the instance would point at a rule that does not exist.
func (h *Handlers) TestAdHocRule(c *gin.Context) {
	req := adHocTestRequest{Rule: rules.NewDraft()}
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Record {
		sendError(c, http.StatusBadRequest, "record is only supported for stored rules")
		return
	}
	if err := h.rules.Prepare(c.Param("tenant"), req.Rule); err != nil {
		sendFailure(c, err)
		return
	}
	h.runTest(c, req.Rule, engine.TestOptions{Dispatch: req.Dispatch})
}

func (h *Handlers) runTest(c *gin.Context, rule *model.Rule, opts engine.TestOptions) {
	result, err := h.engine.TestRule(c.Request.Context(), rule, opts)
	if err != nil {
		sendFailure(c, err)
		return
	}
	h.logger.Info("Rule tested",
		zap.String("tenant_id", rule.TenantID),
		zap.String("rule_id", rule.ID),
		zap.Bool("triggered", result.Triggered),
		zap.Bool("dispatch", opts.Dispatch),
		zap.Bool("record", opts.Record))
	sendSuccess(c, http.StatusOK, result)
}
