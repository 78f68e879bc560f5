package handlers

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pawsos/backend/internal/http/middleware"
)

const streamHeartbeat = 25 * time.Second

// @Summary Live view of one case (Server-Sent Events)
// @Tags streams
// @Produce text/event-stream
// @Param id path string true "Case ID"
// @Router /api/cases/{id}/stream [get]
func (h *Handler) CaseStream(c *gin.Context) {
	sub, err := h.Engine.WatchCase(c.Request.Context(), c.Param("id"), middleware.Caller(c))
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	defer sub.Close()
	streamUpdates(c, "case", sub.Updates())
}

// @Summary Live responder feed (Server-Sent Events)
// @Tags streams
// @Produce text/event-stream
// @Param escalated query bool false "Stream the escalated pool instead"
// @Router /api/feed/stream [get]
func (h *Handler) FeedStream(c *gin.Context) {
	escalated, _ := strconv.ParseBool(c.DefaultQuery("escalated", "false"))
	sub, err := h.Engine.WatchFeed(c.Request.Context(), middleware.Caller(c), escalated)
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	defer sub.Close()
	streamUpdates(c, "feed", sub.Updates())
}

func streamUpdates[T any](c *gin.Context, event string, updates <-chan T) {
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()
	c.Stream(func(w io.Writer) bool {
		select {
		case v, open := <-updates:
			if !open {
				return false
			}
			c.SSEvent(event, v)
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", time.Now().UTC().Unix())
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
