package telemetry

import (
	"sync"

	"github.com/road-telemetry/roadwatch/internal/record"
)

// Event is a dispatched record with its per-agent sequence number.
type Event struct {
	Seq    int64
	Record record.Record
}

// EventBuffer keeps the last capacity events of one agent for replay.
type EventBuffer struct {
	mu       sync.RWMutex
	events   []Event
	capacity int
}

// NewEventBuffer creates a buffer. A capacity of zero disables replay.
func NewEventBuffer(capacity int) *EventBuffer {
	return &EventBuffer{
		events:   make([]Event, 0, capacity),
		capacity: capacity,
	}
}

// Add appends ev, evicting the oldest event when full.
func (b *EventBuffer) Add(ev Event) {
	if b.capacity <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.events) == b.capacity {
		copy(b.events, b.events[1:])
		b.events = b.events[:len(b.events)-1]
	}
	b.events = append(b.events, ev)
}

// After returns buffered events with Seq greater than seq, oldest first.
func (b *EventBuffer) After(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	for _, ev := range b.events {
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}

func (b *EventBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}

func (b *EventBuffer) Cap() int { return b.capacity }
