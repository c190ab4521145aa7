//
//
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/road-telemetry/roadwatch/internal/config"
	"github.com/road-telemetry/roadwatch/internal/metrics"
	"github.com/road-telemetry/roadwatch/internal/record"
)

// stopTimeout bounds how long Stop waits for connections to wind down.
const stopTimeout = 5 * time.Second

// Transports.
const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

// Request describes a new subscription.
type Request struct {
	AgentID int64

	// LastSeq replays buffered records with a greater sequence number
	// before live delivery starts. Zero means no replay.
	LastSeq int64

	Transport string
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Subscribers int           `json:"subscribers"`
	Agents      int           `json:"agents"`
	PerAgent    map[int64]int `json:"perAgent"`
}

// Option configures a Hub.
type Option func(*Hub)

func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// Hub owns the registry and dispatcher and runs the lifecycle of every
// subscription connection.
type Hub struct {
	cfg        config.StreamConfig
	registry   *Registry
	dispatcher *Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu          sync.Mutex
	subscribers map[string]*Subscriber
	stopped     bool
	wg          sync.WaitGroup
}

// NewHub creates a hub with the given stream settings.
func NewHub(cfg config.StreamConfig, opts ...Option) *Hub {
	h := &Hub{
		cfg:         cfg,
		registry:    NewRegistry(),
		subscribers: make(map[string]*Subscriber),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.New(slog.DiscardHandler)
	}
	// replay plus the ready frame must fit a fresh queue
	if h.cfg.QueueSize < h.cfg.BufferSize+1 {
		h.cfg.QueueSize = h.cfg.BufferSize + 1
	}
	h.dispatcher = NewDispatcher(h.registry, h.cfg.BufferSize, h.logger, h.metrics)
	return h
}

// Registry exposes the subscription registry.
func (h *Hub) Registry() *Registry { return h.registry }

// Dispatch delivers a committed record; see Dispatcher.Dispatch.
func (h *Hub) Dispatch(ctx context.Context, rec record.Record) int64 {
	return h.dispatcher.Dispatch(ctx, rec)
}

// Serve runs one connection from Subscribed to Closed. It returns once the
// connection is closed and its writer has exited. ctx bounds the whole
// connection.
func (h *Hub) Serve(ctx context.Context, conn Conn, req Request) error {
	sub := newSubscriber(conn, req.Transport, h.cfg.QueueSize, h.registry, h.metrics)
	sub.onClose = h.forget

	if err := h.track(sub); err != nil {
		_ = conn.Close(err)
		return err
	}
	defer h.wg.Done()

	h.metrics.SubscriberOpened(req.Transport)
	h.logger.Info("subscriber connected",
		"subscriber", sub.id,
		"agent_id", req.AgentID,
		"transport", req.Transport,
		"format", sub.format,
		"last_seq", req.LastSeq)

	_ = sub.enqueue(readyFrame(sub.id, req.AgentID))
	h.attach(sub, req.AgentID, req.LastSeq)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		sub.run(ctx, h.cfg.WriteTimeout, h.heartbeatInterval())
	}()

	sub.Close(h.readLoop(ctx, sub))
	<-writerDone
	return nil
}

// attach replays buffered events after lastSeq and binds sub to agentID.
func (h *Hub) attach(sub *Subscriber, agentID, lastSeq int64) {
	h.dispatcher.attach(sub, agentID, lastSeq)
}

func (h *Hub) readLoop(ctx context.Context, sub *Subscriber) error {
	for {
		ctl, err := sub.conn.Receive(ctx)
		if err != nil {
			return err
		}

		switch ctl.Action {
		case ActionSubscribe:
			if ctl.AgentID == nil || *ctl.AgentID < 0 {
				continue
			}
			from, _ := sub.AgentID()
			h.attach(sub, *ctl.AgentID, 0)
			h.logger.Info("subscriber moved", "subscriber", sub.id, "from_agent_id", from, "agent_id", *ctl.AgentID)
		case ActionUnsubscribe:
			return ErrUnsubscribed
		}
	}
}

func (h *Hub) track(sub *Subscriber) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return ErrHubStopped
	}
	h.subscribers[sub.id] = sub
	h.wg.Add(1)
	return nil
}

func (h *Hub) forget(sub *Subscriber, reason error) {
	h.mu.Lock()
	delete(h.subscribers, sub.id)
	h.mu.Unlock()

	h.metrics.SubscriberClosed()

	level := slog.LevelInfo
	if errors.Is(reason, record.ErrDelivery) {
		level = slog.LevelWarn
	}
	h.logger.Log(context.Background(), level, "subscriber closed", "subscriber", sub.id, "reason", reason)
}

func (h *Hub) heartbeatInterval() time.Duration {
	if h.cfg.HeartbeatInterval <= 0 {
		return 0
	}
	if h.cfg.HeartbeatJitter <= 0 {
		return h.cfg.HeartbeatInterval
	}
	// spread heartbeats so connections opened together do not tick together
	return h.cfg.HeartbeatInterval + rand.N(h.cfg.HeartbeatJitter)
}

// Stats reports current subscriber counts.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	n := len(h.subscribers)
	h.mu.Unlock()

	per := h.registry.Counts()
	return Stats{Subscribers: n, Agents: len(per), PerAgent: per}
}

// Stop closes every subscriber and waits, bounded, for their Serve calls to
// return. Later Serve calls fail with ErrHubStopped.
func (h *Hub) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	h.logger.Info("telemetry hub stopping", "subscribers", len(subs))

	// A graceful transport close may wait on the peer, so close in parallel.
	for _, sub := range subs {
		go sub.Close(ErrHubStopped)
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("telemetry hub stopped")
	case <-time.After(stopTimeout):
		h.logger.Warn("telemetry hub stop timed out", "timeout", stopTimeout)
	}
}

func readyFrame(subscriberID string, agentID int64) Frame {
	data, _ := json.Marshal(map[string]any{
		"subscriberId": subscriberID,
		"agentId":      agentID,
	})
	return Frame{Kind: FrameReady, AgentID: agentID, Data: data}
}

func heartbeatFrame(now time.Time) Frame {
	data, _ := json.Marshal(map[string]any{"ts": now.UTC().Format(time.RFC3339)})
	return Frame{Kind: FrameHeartbeat, Data: data}
}
