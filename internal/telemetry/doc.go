// Package telemetry fans committed records out to live subscribers.
//
// The Registry maps an agent id to the connections subscribed to it. The
// Dispatcher assigns each committed record a per-agent sequence number,
// keeps it in a bounded replay buffer and enqueues it on every subscriber
// in a copy-out snapshot of the agent's set. Each Subscriber owns one
// writer goroutine draining a bounded queue, so sends to a connection are
// serialized and arrive in dispatch order. The Hub ties these together with
// the connection lifecycle:
//
//	Connecting -> Subscribed -> Closed
//
// Close is idempotent and releases the registry binding exactly once,
// whichever of the reader, the writer or the dispatcher triggers it.
//
// Lock order: Dispatcher.mu or stream.mu -> Subscriber.bindMu ->
// Registry.mu -> shard.mu.
package telemetry
