//
//
package store

import (
	"context"

	"github.com/road-telemetry/roadwatch/internal/record"
)

// DefaultListLimit bounds List when the caller passes no limit.
const DefaultListLimit = 1000

// Filter narrows List. The zero value lists everything up to
// DefaultListLimit, ordered by id ascending.
type Filter struct {
	AgentID *int64
	Limit   int
	Offset  int
}

// EffectiveLimit applies DefaultListLimit.
func (f Filter) EffectiveLimit() int {
	if f.Limit <= 0 || f.Limit > DefaultListLimit {
		return DefaultListLimit
	}
	return f.Limit
}

// Store is the durable CRUD contract for processed telemetry records.
type Store interface {
	// Create commits r and returns it with the assigned id. r.ID is ignored.
	Create(ctx context.Context, r record.Record) (record.Record, error)

	// Get returns record.ErrNotFound when id is absent.
	Get(ctx context.Context, id int64) (record.Record, error)

	// List returns records matching f ordered by id.
	List(ctx context.Context, f Filter) ([]record.Record, error)

	// Update replaces every field but the id. Returns record.ErrNotFound
	// when id is absent.
	Update(ctx context.Context, r record.Record) (record.Record, error)

	// Delete removes id and returns the removed record.
	Delete(ctx context.Context, id int64) (record.Record, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}
