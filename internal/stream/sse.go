package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tyin88/agentgw/internal/domain"
)

// SSEWriter frames stream events onto an HTTP response:
// "event: <type>\ndata: <json>\n\n". A background ticker writes comment
// pings so idle connections stay open.
type SSEWriter struct {
	mu      sync.Mutex
	c       echo.Context
	flusher http.Flusher
	done    chan struct{}
}

// NewSSEWriter sets the SSE headers, flushes them, and starts the keepalive
// ticker. Call Close when the stream ends.
func NewSSEWriter(c echo.Context, pingInterval time.Duration) *SSEWriter {
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	w := &SSEWriter{c: c, done: make(chan struct{})}
	if flusher, ok := c.Response().Writer.(http.Flusher); ok {
		w.flusher = flusher
		w.flusher.Flush()
	}

	if pingInterval > 0 {
		go w.pingLoop(pingInterval)
	}
	return w
}

// Send writes one event frame.
func (w *SSEWriter) Send(ev domain.StreamEvent) error {
	data, err := json.Marshal(ev.Payload())
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprintf(w.c.Response(), "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return fmt.Errorf("write %s event: %w", ev.Type, err)
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

// Close stops the keepalive ticker.
func (w *SSEWriter) Close() {
	close(w.done)
}

func (w *SSEWriter) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-w.c.Request().Context().Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			fmt.Fprint(w.c.Response(), ": ping\n\n")
			if w.flusher != nil {
				w.flusher.Flush()
			}
			w.mu.Unlock()
		}
	}
}
