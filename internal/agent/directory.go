//
//
package agent

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/road-telemetry/roadwatch/internal/record"
	"github.com/road-telemetry/roadwatch/internal/store"
)

// Agent summarizes one telemetry source.
type Agent struct {
	ID            int64     `json:"id"`
	Records       int64     `json:"records"`
	LastRecordID  int64     `json:"lastRecordId,omitempty"`
	LastRoadState string    `json:"lastRoadState,omitempty"`
	LastSeen      time.Time `json:"lastSeen,omitzero"`
	Subscribers   int       `json:"subscribers"`
}

// AgentList is the response format for GET /agents.
type AgentList struct {
	Items []Agent `json:"items"`
}

// Directory tracks agents by id.
type Directory struct {
	mu     sync.RWMutex
	agents map[int64]*Agent
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{agents: make(map[int64]*Agent)}
}

// Observe records that rec was committed.
func (d *Directory) Observe(rec record.Record) {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, ok := d.agents[rec.AgentID]
	if !ok {
		a = &Agent{ID: rec.AgentID}
		d.agents[rec.AgentID] = a
	}
	a.Records++
	if rec.ID >= a.LastRecordID {
		a.LastRecordID = rec.ID
		a.LastRoadState = rec.RoadState
		a.LastSeen = rec.Timestamp
	}
}

// Load rebuilds the directory from every record in s. It is meant for
// startup, before ingest begins.
func (d *Directory) Load(ctx context.Context, s store.Store) error {
	err := scan(ctx, s, store.Filter{Limit: store.DefaultListLimit}, d.Observe)
	if err != nil {
		return fmt.Errorf("failed to load agents: %w", err)
	}
	return nil
}

// Refresh recomputes one agent from the records s holds for it, dropping
// the agent when none are left. Callers keep ingest for agentID out while
// it runs.
func (d *Directory) Refresh(ctx context.Context, s store.Store, agentID int64) error {
	fresh := NewDirectory()
	err := scan(ctx, s, store.Filter{AgentID: &agentID, Limit: store.DefaultListLimit}, fresh.Observe)
	if err != nil {
		return fmt.Errorf("failed to refresh agent %d: %w", agentID, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if a, ok := fresh.agents[agentID]; ok {
		d.agents[agentID] = a
	} else {
		delete(d.agents, agentID)
	}
	return nil
}

func scan(ctx context.Context, s store.Store, f store.Filter, fn func(record.Record)) error {
	for {
		page, err := s.List(ctx, f)
		if err != nil {
			return err
		}
		for _, rec := range page {
			fn(rec)
		}
		if len(page) < f.Limit {
			return nil
		}
		f.Offset += len(page)
	}
}

// Get returns a copy of one agent.
func (d *Directory) Get(id int64) (Agent, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	a, ok := d.agents[id]
	if !ok {
		return Agent{}, false
	}
	return *a, true
}

// List returns every known agent sorted by id, with subscriber counts
// merged in. Agents that have subscribers but no records yet are included.
func (d *Directory) List(subscribers map[int64]int) AgentList {
	d.mu.RLock()
	items := make([]Agent, 0, len(d.agents))
	for _, a := range d.agents {
		cp := *a
		cp.Subscribers = subscribers[a.ID]
		items = append(items, cp)
	}
	d.mu.RUnlock()

	for id, n := range subscribers {
		if _, ok := d.Get(id); !ok {
			items = append(items, Agent{ID: id, Subscribers: n})
		}
	}

	slices.SortFunc(items, func(a, b Agent) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return AgentList{Items: items}
}
