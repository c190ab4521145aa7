package telemetry

import (
	"slices"
	"sync"
)

// Subscription is the handle returned by Registry.Subscribe. It goes stale
// once its subscriber is unsubscribed or moved to another agent; a stale
// handle is ignored by Unsubscribe.
type Subscription struct {
	agentID int64
	sub     *Subscriber
}

// AgentID is the agent this handle was issued for.
func (h *Subscription) AgentID() int64 { return h.agentID }

// Subscriber is the connection this handle was issued for.
func (h *Subscription) Subscriber() *Subscriber { return h.sub }

// Registry maps agent ids to the subscribers currently bound to them.
//
// Each agent has its own shard lock, so subscribe, unsubscribe and snapshot
// on different agents never contend beyond the short map lookup. A shard is
// created on first subscribe and pruned when its last member leaves.
type Registry struct {
	mu     sync.RWMutex
	shards map[int64]*shard
}

type shard struct {
	mu      sync.Mutex
	members []*Subscriber

	// retired is set when the shard is removed from Registry.shards. An
	// insert that raced with pruning retries against a fresh shard.
	retired bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{shards: make(map[int64]*shard)}
}

// Subscribe binds sub to agentID.
//
// Subscribing again to the same agent returns the existing handle without
// adding a second entry. Subscribing to a different agent moves sub: it
// leaves the old agent's set before joining the new one and the old handle
// goes stale. A closed subscriber is never added; Subscribe returns nil.
func (r *Registry) Subscribe(agentID int64, sub *Subscriber) *Subscription {
	sub.bindMu.Lock()
	defer sub.bindMu.Unlock()

	if sub.isClosed() {
		return nil
	}

	if cur := sub.binding; cur != nil {
		if cur.agentID == agentID {
			return cur
		}
		r.remove(cur.agentID, sub)
		sub.binding = nil
	}

	r.insert(agentID, sub)
	h := &Subscription{agentID: agentID, sub: sub}
	sub.binding = h
	return h
}

// Unsubscribe removes the handle's subscriber from its agent. It is a no-op
// for a nil or stale handle and safe to call repeatedly.
func (r *Registry) Unsubscribe(h *Subscription) {
	if h == nil {
		return
	}
	sub := h.sub
	sub.bindMu.Lock()
	defer sub.bindMu.Unlock()

	if sub.binding != h {
		return
	}
	r.remove(h.agentID, sub)
	sub.binding = nil
}

// Release unbinds sub from whatever agent it is bound to.
func (r *Registry) Release(sub *Subscriber) {
	sub.bindMu.Lock()
	defer sub.bindMu.Unlock()

	if sub.binding == nil {
		return
	}
	r.remove(sub.binding.agentID, sub)
	sub.binding = nil
}

// Snapshot returns a copy of agentID's subscribers in subscription order.
// An unknown agent yields an empty slice.
func (r *Registry) Snapshot(agentID int64) []*Subscriber {
	r.mu.RLock()
	s := r.shards[agentID]
	r.mu.RUnlock()

	if s == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.members)
}

// Len is the number of subscribers bound to agentID.
func (r *Registry) Len(agentID int64) int {
	r.mu.RLock()
	s := r.shards[agentID]
	r.mu.RUnlock()

	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

// Agents returns the agent ids with at least one subscriber, sorted.
func (r *Registry) Agents() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int64, 0, len(r.shards))
	for id := range r.shards {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Counts returns subscribers per agent.
func (r *Registry) Counts() map[int64]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[int64]int, len(r.shards))
	for id, s := range r.shards {
		s.mu.Lock()
		if n := len(s.members); n > 0 {
			counts[id] = n
		}
		s.mu.Unlock()
	}
	return counts
}

func (r *Registry) insert(agentID int64, sub *Subscriber) {
	for {
		s := r.shardFor(agentID)

		s.mu.Lock()
		if s.retired {
			s.mu.Unlock()
			continue
		}
		if !slices.Contains(s.members, sub) {
			s.members = append(s.members, sub)
		}
		s.mu.Unlock()
		return
	}
}

func (r *Registry) shardFor(agentID int64) *shard {
	r.mu.RLock()
	s := r.shards[agentID]
	r.mu.RUnlock()
	if s != nil {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s = r.shards[agentID]; s == nil {
		s = &shard{}
		r.shards[agentID] = s
	}
	return s
}

func (r *Registry) remove(agentID int64, sub *Subscriber) {
	r.mu.RLock()
	s := r.shards[agentID]
	r.mu.RUnlock()

	if s == nil {
		return
	}

	s.mu.Lock()
	if i := slices.Index(s.members, sub); i >= 0 {
		s.members = slices.Delete(s.members, i, i+1)
	}
	empty := len(s.members) == 0
	s.mu.Unlock()

	if empty {
		r.prune(agentID, s)
	}
}

// prune drops s from the map if it is still empty. Taking r.mu before s.mu
// keeps the same order as Counts.
func (r *Registry) prune(agentID int64, s *shard) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shards[agentID] != s {
		return
	}
	s.mu.Lock()
	if len(s.members) == 0 {
		s.retired = true
		delete(r.shards, agentID)
	}
	s.mu.Unlock()
}
