package telemetry

import (
	"fmt"
	"slices"
	"sync"
	"testing"
)

func newTestSubscriber(reg *Registry) *Subscriber {
	return newSubscriber(newFakeConn(), "test", 8, reg, nil)
}

func TestRegistrySnapshotContainsOnlyAgentSubscribers(t *testing.T) {
	reg := NewRegistry()
	a, b, c := newTestSubscriber(reg), newTestSubscriber(reg), newTestSubscriber(reg)

	reg.Subscribe(42, a)
	reg.Subscribe(42, b)
	reg.Subscribe(7, c)

	got := reg.Snapshot(42)
	if !slices.Equal(got, []*Subscriber{a, b}) {
		t.Fatalf("Snapshot(42) = %v, want [a b] in subscription order", ids(got))
	}
	if got := reg.Snapshot(7); !slices.Equal(got, []*Subscriber{c}) {
		t.Fatalf("Snapshot(7) = %v, want [c]", ids(got))
	}
	if got := reg.Snapshot(1000); len(got) != 0 {
		t.Fatalf("Snapshot of unknown agent = %v, want empty", ids(got))
	}
}

func TestRegistrySubscribeSameAgentIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	a := newTestSubscriber(reg)

	h1 := reg.Subscribe(42, a)
	h2 := reg.Subscribe(42, a)

	if h1 != h2 {
		t.Error("second Subscribe to the same agent returned a new handle")
	}
	if n := reg.Len(42); n != 1 {
		t.Errorf("Len(42) = %d, want 1", n)
	}
}

func TestRegistryResubscribeMovesConnection(t *testing.T) {
	reg := NewRegistry()
	a := newTestSubscriber(reg)

	old := reg.Subscribe(42, a)
	moved := reg.Subscribe(7, a)

	if n := reg.Len(42); n != 0 {
		t.Errorf("Len(42) = %d after move, want 0", n)
	}
	if n := reg.Len(7); n != 1 {
		t.Errorf("Len(7) = %d after move, want 1", n)
	}
	if id, ok := a.AgentID(); !ok || id != 7 {
		t.Errorf("AgentID() = %d, %v; want 7, true", id, ok)
	}
	if moved.AgentID() != 7 || old.AgentID() != 42 {
		t.Errorf("handles report agents %d and %d", old.AgentID(), moved.AgentID())
	}

	// The stale handle must not remove the connection from its new agent.
	reg.Unsubscribe(old)
	if n := reg.Len(7); n != 1 {
		t.Errorf("stale Unsubscribe removed the subscriber: Len(7) = %d", n)
	}

	reg.Unsubscribe(moved)
	if n := reg.Len(7); n != 0 {
		t.Errorf("Len(7) = %d after Unsubscribe, want 0", n)
	}
}

func TestRegistryUnsubscribeTwiceIsNoop(t *testing.T) {
	reg := NewRegistry()
	a, b := newTestSubscriber(reg), newTestSubscriber(reg)

	h := reg.Subscribe(42, a)
	reg.Subscribe(42, b)

	reg.Unsubscribe(h)
	reg.Unsubscribe(h)
	reg.Unsubscribe(nil)

	if got := reg.Snapshot(42); !slices.Equal(got, []*Subscriber{b}) {
		t.Fatalf("Snapshot(42) = %v, want [b]", ids(got))
	}
}

func TestRegistrySnapshotIsCopy(t *testing.T) {
	reg := NewRegistry()
	a, b := newTestSubscriber(reg), newTestSubscriber(reg)
	reg.Subscribe(42, a)

	snap := reg.Snapshot(42)
	snap[0] = b
	reg.Subscribe(42, b)
	reg.Release(a)

	if len(snap) != 1 || snap[0] != b {
		t.Fatalf("snapshot changed after registry mutation: %v", ids(snap))
	}
	if got := reg.Snapshot(42); !slices.Equal(got, []*Subscriber{b}) {
		t.Fatalf("registry affected by caller writing to snapshot: %v", ids(got))
	}
}

func TestRegistryPrunesEmptyAgents(t *testing.T) {
	reg := NewRegistry()
	a := newTestSubscriber(reg)

	h := reg.Subscribe(42, a)
	if got := reg.Agents(); !slices.Equal(got, []int64{42}) {
		t.Fatalf("Agents() = %v, want [42]", got)
	}

	reg.Unsubscribe(h)
	if got := reg.Agents(); len(got) != 0 {
		t.Fatalf("Agents() = %v after last unsubscribe, want empty", got)
	}

	// An emptied agent accepts new subscribers.
	reg.Subscribe(42, a)
	if n := reg.Len(42); n != 1 {
		t.Fatalf("Len(42) = %d after resubscribe, want 1", n)
	}
}

func TestRegistryRejectsClosedSubscriber(t *testing.T) {
	reg := NewRegistry()
	a := newTestSubscriber(reg)
	a.Close(nil)

	if h := reg.Subscribe(42, a); h != nil {
		t.Error("Subscribe returned a handle for a closed subscriber")
	}
	if n := reg.Len(42); n != 0 {
		t.Errorf("Len(42) = %d, want 0", n)
	}
}

func TestRegistryCloseReleasesBinding(t *testing.T) {
	reg := NewRegistry()
	a := newTestSubscriber(reg)
	reg.Subscribe(42, a)

	a.Close(nil)
	a.Close(nil)

	if n := reg.Len(42); n != 0 {
		t.Errorf("Len(42) = %d after Close, want 0", n)
	}
	if _, ok := a.AgentID(); ok {
		t.Error("closed subscriber still reports a binding")
	}
}

// Concurrent churn across agents must leave each agent's set holding
// exactly the subscribers that ended up subscribed to it.
func TestRegistryConcurrentChurn(t *testing.T) {
	reg := NewRegistry()

	const agents = 8
	const perAgent = 50

	subs := make([][]*Subscriber, agents)
	for a := range agents {
		for range perAgent {
			subs[a] = append(subs[a], newTestSubscriber(reg))
		}
	}

	var wg sync.WaitGroup
	for a := range agents {
		for i, sub := range subs[a] {
			wg.Add(1)
			go func() {
				defer wg.Done()
				// bounce through a neighbouring agent first
				reg.Subscribe(int64((a+1)%agents), sub)
				h := reg.Subscribe(int64(a), sub)
				_ = reg.Snapshot(int64(a))
				if i%2 == 1 {
					reg.Unsubscribe(h)
				}
			}()
		}
	}
	wg.Wait()

	for a := range agents {
		got := reg.Snapshot(int64(a))
		if len(got) != perAgent/2 {
			t.Errorf("agent %d has %d subscribers, want %d", a, len(got), perAgent/2)
		}
		for _, sub := range got {
			if !slices.Contains(subs[a], sub) {
				t.Errorf("agent %d holds subscriber %s from another agent", a, sub.id)
			}
			if idx := slices.Index(subs[a], sub); idx%2 == 1 {
				t.Errorf("agent %d holds unsubscribed subscriber %d", a, idx)
			}
		}
	}
	if total := len(reg.Agents()); total != agents {
		t.Errorf("Agents() has %d entries, want %d", total, agents)
	}
}

func ids(subs []*Subscriber) []string {
	out := make([]string, len(subs))
	for i, s := range subs {
		out[i] = fmt.Sprintf("%.8s", s.id)
	}
	return out
}
