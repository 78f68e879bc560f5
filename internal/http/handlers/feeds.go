package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pawsos/backend/internal/http/middleware"
	"github.com/pawsos/backend/internal/service"
)

// @Summary Open cases for the calling responder
// @Tags feeds
// @Produce json
// @Param limit query int false "Max items (default 50, max 200)"
// @Success 200 {object} map[string]any
// @Router /api/feed [get]
func (h *Handler) ResponderFeed(c *gin.Context) {
	items, err := h.Engine.ResponderFeed(c.Request.Context(), middleware.Caller(c), queryLimit(c))
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"items": items})
}

func (h *Handler) EscalatedFeed(c *gin.Context) {
	items, err := h.Engine.EscalatedFeed(c.Request.Context(), middleware.Caller(c), queryLimit(c))
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"items": items})
}

func (h *Handler) OwnerActiveCases(c *gin.Context) {
	items, err := h.Engine.OwnerActiveCases(c.Request.Context(), middleware.Caller(c), queryLimit(c))
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"items": items})
}

// @Summary Personal case history
// @Tags history
// @Produce json
// @Param view query string false "active, archived or trash"
// @Success 200 {object} map[string]any
// @Router /api/history [get]
func (h *Handler) History(c *gin.Context) {
	view := service.HistoryView(c.DefaultQuery("view", string(service.ViewActive)))
	items, err := h.Engine.History(c.Request.Context(), middleware.Caller(c), view, queryLimit(c))
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"items": items, "view": view})
}

func (h *Handler) ArchiveToggle(c *gin.Context) {
	h.transition(c, h.Engine.ArchiveToggle)
}

func (h *Handler) SoftDelete(c *gin.Context) {
	h.transition(c, h.Engine.SoftDelete)
}

func (h *Handler) Restore(c *gin.Context) {
	h.transition(c, h.Engine.Restore)
}

func (h *Handler) PermanentDelete(c *gin.Context) {
	if err := h.Engine.PermanentDelete(c.Request.Context(), c.Param("id"), middleware.Caller(c)); err != nil {
		h.writeEngineError(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"id": c.Param("id")})
}

func (h *Handler) EmptyTrash(c *gin.Context) {
	n, err := h.Engine.EmptyTrash(c.Request.Context(), middleware.Caller(c))
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"purged": n})
}
