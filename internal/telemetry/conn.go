package telemetry

import (
	"context"
	"errors"
	"fmt"

	"github.com/road-telemetry/roadwatch/internal/record"
)

// FrameKind names a frame on the subscription channel.
type FrameKind string

const (
	FrameReady     FrameKind = "ready"
	FrameRecord    FrameKind = "record"
	FrameHeartbeat FrameKind = "heartbeat"
)

// Frame is one message queued for a subscriber. Data is already encoded in
// the subscriber's wire format.
type Frame struct {
	Seq     int64
	AgentID int64
	Kind    FrameKind
	Data    []byte
}

// Control actions a client may send.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// Control is a client-to-server message. Unknown actions are ignored.
type Control struct {
	Action  string `json:"action"`
	AgentID *int64 `json:"agentId,omitempty"`
}

var (
	// ErrUnsubscribed closes a connection whose client asked to unsubscribe.
	ErrUnsubscribed = errors.New("client unsubscribed")

	// ErrHubStopped closes connections at shutdown.
	ErrHubStopped = errors.New("telemetry hub stopped")

	// ErrSlowConsumer is a delivery failure raised when a subscriber's send
	// queue is full.
	ErrSlowConsumer = fmt.Errorf("%w: send queue full", record.ErrDelivery)

	errSubscriberClosed = errors.New("subscriber closed")
)

// Conn is the transport behind a subscriber. Send and Heartbeat are only
// called from the subscriber's writer goroutine; Receive only from the
// reader. Close may be called from any goroutine and must make a blocked
// Send or Receive return promptly.
type Conn interface {
	// Format is the encoding record frames must be delivered in.
	Format() record.Format

	Send(ctx context.Context, f Frame) error
	Heartbeat(ctx context.Context) error

	// Receive blocks for the next control message.
	Receive(ctx context.Context) (Control, error)

	Close(reason error) error
}
