package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/road-telemetry/roadwatch/internal/metrics"
	"github.com/road-telemetry/roadwatch/internal/record"
)

// Subscriber is one live connection. Frames reach the connection only
// through its queue, drained by a single writer goroutine.
type Subscriber struct {
	id        string
	conn      Conn
	format    record.Format
	transport string
	queue     chan Frame
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	closed bool
	reason error

	// bindMu guards binding; see Registry.Subscribe.
	bindMu  sync.Mutex
	binding *Subscription

	registry *Registry
	metrics  *metrics.Metrics
	onClose  func(*Subscriber, error)
}

func newSubscriber(conn Conn, transport string, queueSize int, registry *Registry, m *metrics.Metrics) *Subscriber {
	return &Subscriber{
		id:        uuid.NewString(),
		conn:      conn,
		format:    conn.Format(),
		transport: transport,
		queue:     make(chan Frame, queueSize),
		done:      make(chan struct{}),
		registry:  registry,
		metrics:   m,
	}
}

// ID is unique per connection.
func (s *Subscriber) ID() string { return s.id }

// Format is the wire format record frames are encoded in.
func (s *Subscriber) Format() record.Format { return s.format }

// Done is closed once the subscriber is closed.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// AgentID reports the agent s is currently bound to.
func (s *Subscriber) AgentID() (int64, bool) {
	s.bindMu.Lock()
	defer s.bindMu.Unlock()
	if s.binding == nil {
		return 0, false
	}
	return s.binding.agentID, true
}

// Reason is the error passed to the first Close, or nil while open.
func (s *Subscriber) Reason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *Subscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// enqueue never blocks. A full queue is ErrSlowConsumer.
func (s *Subscriber) enqueue(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errSubscriberClosed
	}
	select {
	case s.queue <- f:
		return nil
	default:
		return ErrSlowConsumer
	}
}

func (s *Subscriber) boundTo(agentID int64) bool {
	id, ok := s.AgentID()
	return ok && id == agentID
}

// Close transitions s to Closed. Only the first call has any effect: it
// stops the writer, closes the connection and releases the registry
// binding exactly once.
func (s *Subscriber) Close(reason error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.reason = reason
		s.mu.Unlock()

		close(s.done)
		_ = s.conn.Close(reason)
		s.registry.Release(s)

		if s.onClose != nil {
			s.onClose(s, reason)
		}
	})
}

// run is the writer loop. It returns after the subscriber is closed; a
// failed send or heartbeat closes it with a delivery error.
func (s *Subscriber) run(ctx context.Context, writeTimeout, heartbeat time.Duration) {
	var tick <-chan time.Time
	if heartbeat > 0 {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-s.done:
			return

		case <-ctx.Done():
			s.Close(ctx.Err())
			return

		case f := <-s.queue:
			// select picks randomly between ready cases
			if s.isClosed() {
				return
			}
			// frames dispatched for an agent this connection has since left
			if f.Kind == FrameRecord && !s.boundTo(f.AgentID) {
				continue
			}
			if err := s.write(ctx, writeTimeout, func(ctx context.Context) error { return s.conn.Send(ctx, f) }); err != nil {
				s.fail(fmt.Errorf("%w: send: %w", record.ErrDelivery, err))
				return
			}
			if f.Kind == FrameRecord {
				s.metrics.Delivered()
			}

		case <-tick:
			if err := s.write(ctx, writeTimeout, s.conn.Heartbeat); err != nil {
				s.fail(fmt.Errorf("%w: heartbeat: %w", record.ErrDelivery, err))
				return
			}
		}
	}
}

// fail closes s after a send error detected by the writer. A send that
// fails because s was already closed is not counted.
func (s *Subscriber) fail(err error) {
	if !s.isClosed() {
		s.metrics.DeliveryFailed(failureReason(err))
	}
	s.Close(err)
}

func (s *Subscriber) write(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx)
}
