package ingest

import (
	"context"
	"time"

	"github.com/road-telemetry/roadwatch/internal/record"
	"github.com/road-telemetry/roadwatch/internal/store"
)

// Port is what the API needs from the ingest service.
type Port interface {
	Ingest(ctx context.Context, in record.Input) (record.Record, error)
	Get(ctx context.Context, id int64) (record.Record, error)
	List(ctx context.Context, f store.Filter) ([]record.Record, error)
	Update(ctx context.Context, id int64, in record.Input) (record.Record, error)
	Delete(ctx context.Context, id int64) (record.Record, error)
	Ping(ctx context.Context) error
}

// Dispatcher fans a committed record out to subscribers.
type Dispatcher interface {
	Dispatch(ctx context.Context, rec record.Record) int64
}

// AuditLogger writes audit records for mutations.
type AuditLogger interface {
	Record(ctx context.Context, action string, rec record.Record, err error, latency time.Duration)
}

// Observer follows what the store holds per agent. Observe is called for
// every created record; Refresh after an update or delete touched agentID.
type Observer interface {
	Observe(rec record.Record)
	Refresh(ctx context.Context, src store.Store, agentID int64) error
}
