package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/t77yq/alert-engine/internal/alert"
	"github.com/t77yq/alert-engine/internal/model"
	"github.com/t77yq/alert-engine/internal/storage"
)

// Response is the envelope of every API response
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Field     string      `json:"field,omitempty"`
	Meta      interface{} `json:"meta,omitempty"`
	Timestamp string      `json:"timestamp"`
}

func sendSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func sendSuccessWithMeta(c *gin.Context, data interface{}, meta interface{}) {
	c.JSON(http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Meta:      meta,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func sendError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, Response{
		Success:   false,
		Error:     message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// sendFailure maps a service error onto a status code
func sendFailure(c *gin.Context, err error) {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		c.AbortWithStatusJSON(http.StatusBadRequest, Response{
			Success:   false,
			Error:     err.Error(),
			Field:     verr.Field,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	case errors.Is(err, model.ErrInvalidRule),
		errors.Is(err, alert.ErrActorRequired),
		errors.Is(err, alert.ErrInvalidStatus):
		sendError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		sendError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, alert.ErrInvalidTransition):
		sendError(c, http.StatusConflict, err.Error())
	default:
		_ = c.Error(err)
		sendError(c, http.StatusInternalServerError, "internal error")
	}
}
