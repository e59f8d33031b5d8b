package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ActivityStream pushes time-in and time-out events as server-sent events,
// with a ping every pingInterval to keep proxies from closing the stream.
func (h *Handler) ActivityStream(c *gin.Context) {
	events, unsubscribe := h.events.Subscribe()
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent("ready", gin.H{"at": time.Now().UTC()})
	c.Writer.Flush()

	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.SSEvent(evt.Type, evt)
		case t := <-ping.C:
			c.SSEvent("ping", gin.H{"at": t.UTC()})
		}
		c.Writer.Flush()
	}
}
