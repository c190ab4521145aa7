package api

import (
	"net/http"

	"github.com/road-telemetry/roadwatch/internal/agent"
	"github.com/road-telemetry/roadwatch/internal/ingest"
	"github.com/road-telemetry/roadwatch/internal/telemetry"
)

// RecordPort is the minimal interface the API needs for record CRUD.
type RecordPort = ingest.Port

// StreamPort defines the minimal interface the API needs from the telemetry hub.
type StreamPort interface {
	ServeSSE(w http.ResponseWriter, r *http.Request, agentID int64) error
	ServeWebSocket(w http.ResponseWriter, r *http.Request, agentID int64, opts telemetry.WebSocketOptions) error
	Stats() telemetry.Stats
}

// AgentReadPort lists known agents.
type AgentReadPort interface {
	List(subscribers map[int64]int) agent.AgentList
}

// Compile-time assertions for port conformance
var _ RecordPort = (*ingest.Service)(nil)
var _ StreamPort = (*telemetry.Hub)(nil)
var _ AgentReadPort = (*agent.Directory)(nil)
