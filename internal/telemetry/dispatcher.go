package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/road-telemetry/roadwatch/internal/metrics"
	"github.com/road-telemetry/roadwatch/internal/record"
)

// stream is the per-agent dispatch state. Holding mu serializes sequence
// assignment, buffering and enqueueing for one agent, which is what keeps
// every subscriber's queue in dispatch order. A stream is created by the
// first Dispatch for its agent and never removed, so sequence numbers stay
// monotonic for the life of the process.
type stream struct {
	mu     sync.Mutex
	seq    int64
	buffer *EventBuffer
}

// Dispatcher delivers committed records to the subscribers of their agent.
type Dispatcher struct {
	registry   *Registry
	bufferSize int
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu      sync.Mutex
	streams map[int64]*stream
}

// NewDispatcher creates a dispatcher reading subscriber sets from registry.
// bufferSize bounds the per-agent replay buffer.
func NewDispatcher(registry *Registry, bufferSize int, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{
		registry:   registry,
		bufferSize: bufferSize,
		logger:     logger,
		metrics:    m,
		streams:    make(map[int64]*stream),
	}
}

func (d *Dispatcher) stream(agentID int64) *stream {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.streams[agentID]
	if !ok {
		st = &stream{buffer: NewEventBuffer(d.bufferSize)}
		d.streams[agentID] = st
	}
	return st
}

// attach replays buffered events after lastSeq to sub and subscribes it to
// agentID, both under the agent's stream lock, so no record is delivered
// twice or skipped between replay and live delivery.
//
// An agent with no dispatched record has no stream and nothing to replay;
// subscribing does not create one.
func (d *Dispatcher) attach(sub *Subscriber, agentID, lastSeq int64) {
	d.mu.Lock()
	st, ok := d.streams[agentID]
	if !ok {
		// a first Dispatch creates the stream under d.mu and snapshots after
		// it, so it sees sub
		d.registry.Subscribe(agentID, sub)
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	st.mu.Lock()
	defer st.mu.Unlock()

	if lastSeq > 0 {
		for _, ev := range st.buffer.After(lastSeq) {
			f, err := eventFrame(ev, sub.format)
			if err != nil {
				continue
			}
			if err := sub.enqueue(f); err != nil {
				break
			}
		}
	}
	d.registry.Subscribe(agentID, sub)
}

func (d *Dispatcher) streamCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}

type failedDelivery struct {
	sub *Subscriber
	err error
}

// Dispatch hands rec to every current subscriber of rec.AgentID and returns
// the sequence number it assigned. rec must already be committed.
//
// Dispatch never blocks on a connection and never fails. A subscriber whose
// queue is full, or whose frame cannot be encoded, is closed after the agent
// lock is released; its siblings are unaffected.
func (d *Dispatcher) Dispatch(ctx context.Context, rec record.Record) int64 {
	st := d.stream(rec.AgentID)

	st.mu.Lock()
	st.seq++
	ev := Event{Seq: st.seq, Record: rec}
	st.buffer.Add(ev)

	frames := make(map[record.Format]Frame, 2)
	var failed []failedDelivery
	for _, sub := range d.registry.Snapshot(rec.AgentID) {
		f, ok := frames[sub.format]
		if !ok {
			var err error
			if f, err = eventFrame(ev, sub.format); err != nil {
				failed = append(failed, failedDelivery{sub, err})
				continue
			}
			frames[sub.format] = f
		}
		if err := sub.enqueue(f); err != nil && !errors.Is(err, errSubscriberClosed) {
			failed = append(failed, failedDelivery{sub, err})
		}
	}
	st.mu.Unlock()

	d.metrics.Dispatched()

	for _, fd := range failed {
		d.logger.WarnContext(ctx, "dropping subscriber",
			"subscriber", fd.sub.id,
			"agent_id", rec.AgentID,
			"seq", ev.Seq,
			"error", fd.err)
		d.metrics.DeliveryFailed(failureReason(fd.err))
		fd.sub.Close(fd.err)
	}
	return ev.Seq
}

// LastSeq is the most recent sequence number dispatched for agentID.
func (d *Dispatcher) LastSeq(agentID int64) int64 {
	d.mu.Lock()
	st, ok := d.streams[agentID]
	d.mu.Unlock()
	if !ok {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.seq
}

func eventFrame(ev Event, format record.Format) (Frame, error) {
	data, err := record.Encode(ev.Record, format)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Seq:     ev.Seq,
		AgentID: ev.Record.AgentID,
		Kind:    FrameRecord,
		Data:    data,
	}, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrSlowConsumer):
		return "slow_consumer"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, record.ErrDelivery):
		return "send_error"
	default:
		return "encode_error"
	}
}
