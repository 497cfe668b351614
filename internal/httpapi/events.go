package httpapi

import (
	"net/http"
	"sync/atomic"
	"time"

	"outbound-dialer/internal/dialer"
	"outbound-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	eventBuffer    = 64
	eventKeepAlive = 25 * time.Second
)

// StreamEvents pushes session updates to the client as server-sent events,
// starting with a snapshot. A client that falls eventBuffer updates behind
// loses the overflow and should re-read the snapshot. The stream ends with a
// closed event when the session is closed.
func (h Handlers) StreamEvents(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	updates := make(chan dialer.Update, eventBuffer)
	var dropped atomic.Int64
	unsubscribe := s.Subscribe(func(u dialer.Update) {
		select {
		case updates <- u:
		default:
			dropped.Add(1)
		}
	})
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	c.SSEvent("snapshot", s.Snapshot())
	c.Writer.Flush()

	keepAlive := time.NewTicker(eventKeepAlive)
	defer keepAlive.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			if n := dropped.Load(); n > 0 {
				logger.FromGin(c).Debug("event stream closed", "dropped", n)
			}
			return
		case <-s.Done():
			c.SSEvent("closed", gin.H{"queue_id": s.Queue().ID})
			c.Writer.Flush()
			return
		case u := <-updates:
			c.SSEvent(string(u.Kind), u)
		case <-keepAlive.C:
			if _, err := c.Writer.WriteString(": keep-alive\n\n"); err != nil {
				return
			}
		}
		c.Writer.Flush()
	}
}
