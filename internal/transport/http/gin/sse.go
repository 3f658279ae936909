package httpgin

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/seatlock/internal/realtime"
)

// @Summary  Change feed for one sale instance (SSE)
// @Param    id  path  int  true  "Sale instance ID"
// @Produce  text/event-stream
// @Router   /sales/{id}/events [get]
func handleEvents(hub *realtime.Broadcaster) gin.HandlerFunc {
	return func(c *gin.Context) {
		saleInstanceID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}

		ch := hub.Subscribe(saleInstanceID)
		defer hub.Unsubscribe(saleInstanceID, ch)

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")

		// Keepalives stop idle proxies from cutting the stream; clients
		// reconcile with an authoritative status read after any gap, so a
		// dropped stream is safe, just slower.
		keepalive := time.NewTicker(25 * time.Second)
		defer keepalive.Stop()

		c.Stream(func(w io.Writer) bool {
			select {
			case <-c.Request.Context().Done():
				return false
			case <-keepalive.C:
				c.SSEvent("ping", time.Now().Unix())
				return true
			case ev, open := <-ch:
				if !open {
					return false
				}
				name := "lock"
				if ev.Sale != nil {
					name = "sale"
				}
				c.SSEvent(name, ev)
				return true
			}
		})
	}
}
