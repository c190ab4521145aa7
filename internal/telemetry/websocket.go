package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"

	"github.com/road-telemetry/roadwatch/internal/record"
)

// WebSocketConn is a WebSocket subscription. Record frames are text JSON
// messages, or binary CBOR messages when the client asked for ?format=cbor.
// Ready and heartbeat frames are not sent; heartbeats are pings.
type WebSocketConn struct {
	c      *websocket.Conn
	format record.Format
}

// WebSocketOptions tunes AcceptWebSocket.
type WebSocketOptions struct {
	// OriginPatterns are extra host patterns allowed to connect cross-origin.
	OriginPatterns []string

	// MaxMessageBytes limits inbound control messages.
	MaxMessageBytes int64

	// Format, when set, fixes the frame format and the format query
	// parameter is ignored.
	Format record.Format
}

// AcceptWebSocket upgrades the request. On error the response has already
// been written.
func AcceptWebSocket(w http.ResponseWriter, r *http.Request, opts WebSocketOptions) (*WebSocketConn, error) {
	format := opts.Format
	if format == "" {
		var err error
		if format, err = record.ParseFormat(r.URL.Query().Get("format")); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return nil, err
		}
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: opts.OriginPatterns,
	})
	if err != nil {
		return nil, err
	}
	if opts.MaxMessageBytes > 0 {
		c.SetReadLimit(opts.MaxMessageBytes)
	}
	return &WebSocketConn{c: c, format: format}, nil
}

func (c *WebSocketConn) Format() record.Format { return c.format }

func (c *WebSocketConn) Send(ctx context.Context, f Frame) error {
	if f.Kind != FrameRecord {
		return nil
	}
	typ := websocket.MessageText
	if c.format.Binary() {
		typ = websocket.MessageBinary
	}
	return c.c.Write(ctx, typ, f.Data)
}

func (c *WebSocketConn) Heartbeat(ctx context.Context) error {
	return c.c.Ping(ctx)
}

// Receive returns the next control message. Binary messages and text that
// is not a control object come back as an empty Control.
func (c *WebSocketConn) Receive(ctx context.Context) (Control, error) {
	typ, data, err := c.c.Read(ctx)
	if err != nil {
		return Control{}, err
	}
	var ctl Control
	if typ != websocket.MessageText || json.Unmarshal(data, &ctl) != nil {
		return Control{}, nil
	}
	return ctl, nil
}

// Close performs the closing handshake when the client unsubscribed or the
// server is shutting down. Any other reason tears the connection down
// immediately so a dispatcher or failed writer is never held up.
func (c *WebSocketConn) Close(reason error) error {
	switch {
	case errors.Is(reason, ErrUnsubscribed):
		return c.c.Close(websocket.StatusNormalClosure, "unsubscribed")
	case errors.Is(reason, ErrHubStopped):
		return c.c.Close(websocket.StatusGoingAway, "server shutting down")
	default:
		return c.c.CloseNow()
	}
}

// ServeWebSocket upgrades the request and runs the subscription for
// agentID. WebSocket has no resume position, so nothing is replayed.
func (h *Hub) ServeWebSocket(w http.ResponseWriter, r *http.Request, agentID int64, opts WebSocketOptions) error {
	if opts.MaxMessageBytes == 0 {
		opts.MaxMessageBytes = h.cfg.MaxMessageBytes
	}
	conn, err := AcceptWebSocket(w, r, opts)
	if err != nil {
		return err
	}
	return h.Serve(r.Context(), conn, Request{
		AgentID:   agentID,
		Transport: TransportWebSocket,
	})
}
