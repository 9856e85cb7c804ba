// Package api exposes rules, alert instances and webhook ingestion over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/t77yq/alert-engine/internal/alert"
	"github.com/t77yq/alert-engine/internal/datasource"
	"github.com/t77yq/alert-engine/internal/engine"
	"github.com/t77yq/alert-engine/internal/rules"
)

// Pinger reports whether the backing store is reachable
type Pinger interface {
	Ping() error
}

// Handlers holds the services behind the routes
type Handlers struct {
	logger   *zap.Logger
	rules    *rules.Service
	alerts   *alert.Service
	engine   *engine.Engine
	webhooks *datasource.WebhookSource
	store    Pinger
}

// NewHandlers creates the route handlers
func NewHandlers(ruleService *rules.Service, alerts *alert.Service, eng *engine.Engine, webhooks *datasource.WebhookSource, store Pinger, logger *zap.Logger) *Handlers {
	return &Handlers{
		logger:   logger.Named("api"),
		rules:    ruleService,
		alerts:   alerts,
		engine:   eng,
		webhooks: webhooks,
		store:    store,
	}
}

// NewRouter wires every route. gatherer serves /metrics and may be nil.
func NewRouter(h *Handlers, gatherer prometheus.Gatherer) *gin.Engine {
	router := gin.New()
	router.Use(recovery(h.logger), requestLogger(h.logger))

	router.GET("/healthz", h.Health)
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	tenant := router.Group("/api/v1/tenants/:tenant")
	{
		ruleRoutes := tenant.Group("/rules")
		ruleRoutes.POST("", h.CreateRule)
		ruleRoutes.GET("", h.ListRules)
		ruleRoutes.POST("/test", h.TestAdHocRule)
		ruleRoutes.GET("/:id", h.GetRule)
		ruleRoutes.PUT("/:id", h.UpdateRule)
		ruleRoutes.DELETE("/:id", h.DeleteRule)
		ruleRoutes.POST("/:id/enable", h.EnableRule)
		ruleRoutes.POST("/:id/disable", h.DisableRule)
		ruleRoutes.POST("/:id/test", h.TestRule)

		alertRoutes := tenant.Group("/alerts")
		alertRoutes.GET("", h.ListAlerts)
		alertRoutes.GET("/:id", h.GetAlert)
		alertRoutes.POST("/:id/acknowledge", h.AcknowledgeAlert)
		alertRoutes.POST("/:id/resolve", h.ResolveAlert)
		alertRoutes.POST("/:id/suppress", h.SuppressAlert)

		tenant.POST("/webhooks/:source", h.CaptureWebhook)
	}

	return router
}

// Health reports liveness and store reachability
func (h *Handlers) Health(c *gin.Context) {
	status := http.StatusOK
	health := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.store != nil {
		if err := h.store.Ping(); err != nil {
			status = http.StatusServiceUnavailable
			health["status"] = "unhealthy"
			health["store"] = err.Error()
		}
	}
	c.JSON(status, health)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("tenant_id", c.Param("tenant")),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("error", c.Errors.String()))
			logger.Error("HTTP request failed", fields...)
			return
		}
		logger.Debug("HTTP request", fields...)
	}
}

func recovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.Error("Panic recovered in handler",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Any("panic", recovered))
		sendError(c, http.StatusInternalServerError, "internal error")
	})
}
