package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/pawsos/backend/internal/http/middleware"
	"github.com/pawsos/backend/internal/service"
)

type Handler struct {
	Engine    *service.Engine
	Store     service.Store
	Validator *validator.Validate
	Logger    zerolog.Logger
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

// writeEngineError maps an engine error kind to the HTTP envelope. System errors are
// logged with their cause and answered without it.
func (h *Handler) writeEngineError(c *gin.Context, err error) {
	switch service.KindOf(err) {
	case service.KindInvalidInput:
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	case service.KindNotPermitted:
		writeError(c, http.StatusForbidden, "NOT_PERMITTED", err.Error(), nil)
	case service.KindAlreadyClaimed:
		writeError(c, http.StatusConflict, "ALREADY_CLAIMED", err.Error(), nil)
	case service.KindNotFound:
		writeError(c, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	default:
		h.Logger.Error().
			Err(err).
			Str("request_id", c.GetString(middleware.RequestIDHeader)).
			Str("path", c.FullPath()).
			Msg("request failed")
		writeError(c, http.StatusInternalServerError, "SYSTEM_ERROR", "Internal error", nil)
	}
}

// bind decodes and validates a JSON body. With optional set, an empty body is
// accepted and leaves req at its zero value.
func (h *Handler) bind(c *gin.Context, req any, optional bool) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		if !(optional && errors.Is(err, io.EOF)) {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
			return false
		}
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return false
	}
	return true
}

func queryLimit(c *gin.Context) int {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	return limit
}

func ok(c *gin.Context, status int, payload gin.H) {
	body := gin.H{"success": true}
	for k, v := range payload {
		body[k] = v
	}
	c.JSON(status, body)
}
