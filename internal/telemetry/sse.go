package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/road-telemetry/roadwatch/internal/record"
)

// SSEConn is a server-sent events subscription. It is push-only: Receive
// just waits for the request to end.
type SSEConn struct {
	w  http.ResponseWriter
	rc *http.ResponseController

	mu     sync.Mutex
	closed bool

	gone      chan struct{}
	closeOnce sync.Once
}

// NewSSEConn writes the event-stream headers and flushes them.
func NewSSEConn(w http.ResponseWriter) (*SSEConn, error) {
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := rc.Flush(); err != nil {
		return nil, fmt.Errorf("streaming unsupported: %w", err)
	}
	return &SSEConn{w: w, rc: rc, gone: make(chan struct{})}, nil
}

// Format is always JSON; SSE data lines are text.
func (c *SSEConn) Format() record.Format { return record.FormatJSON }

func (c *SSEConn) Send(ctx context.Context, f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return net.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.rc.SetWriteDeadline(deadline); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
	}

	if f.Seq > 0 {
		if _, err := fmt.Fprintf(c.w, "id: %d\n", f.Seq); err != nil {
			return fmt.Errorf("failed to write event ID: %w", err)
		}
	}
	if _, err := fmt.Fprintf(c.w, "event: %s\ndata: %s\n\n", f.Kind, f.Data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return c.rc.Flush()
}

func (c *SSEConn) Heartbeat(ctx context.Context) error {
	return c.Send(ctx, heartbeatFrame(time.Now()))
}

func (c *SSEConn) Receive(ctx context.Context) (Control, error) {
	select {
	case <-ctx.Done():
		return Control{}, ctx.Err()
	case <-c.gone:
		return Control{}, net.ErrClosed
	}
}

// Close unblocks Receive and fails any in-flight write by moving the write
// deadline to now. The handler must still return for the response to end.
func (c *SSEConn) Close(reason error) error {
	c.closeOnce.Do(func() {
		close(c.gone)
		_ = c.rc.SetWriteDeadline(time.Now())

		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
	})
	return nil
}

// LastEventID reads the resume position from the Last-Event-ID header, or
// the lastEventId query parameter for clients that cannot set headers.
func LastEventID(r *http.Request) int64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("lastEventId")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

// ServeSSE runs an SSE subscription for agentID until the request ends or
// the subscriber is dropped.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request, agentID int64) error {
	conn, err := NewSSEConn(w)
	if err != nil {
		return err
	}
	return h.Serve(r.Context(), conn, Request{
		AgentID:   agentID,
		LastSeq:   LastEventID(r),
		Transport: TransportSSE,
	})
}
