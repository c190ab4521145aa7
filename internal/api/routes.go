//
//
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/road-telemetry/roadwatch/internal/auth"
	"github.com/road-telemetry/roadwatch/internal/record"
	"github.com/road-telemetry/roadwatch/internal/telemetry"
)

const (
	apiV1        = "/api/v1"
	maxBodyBytes = 1 << 20
	healthPing   = 2 * time.Second
)

// RegisterRoutes registers every endpoint on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	// Health endpoint (no auth required)
	mux.HandleFunc(apiV1+"/health", s.handleHealth)
	mux.HandleFunc(apiV1+"/capabilities", s.guard(auth.ScopeRead, s.handleCapabilities))

	mux.HandleFunc(apiV1+"/records", s.handleRecords)
	mux.HandleFunc(apiV1+"/records/{id}", s.handleRecord)

	mux.HandleFunc(apiV1+"/agents", s.guard(auth.ScopeRead, s.handleAgents))

	// Subscription channels are open to anyone who can reach them
	mux.HandleFunc(apiV1+"/agents/{agentId}/stream", s.handleWebSocket)
	mux.HandleFunc(apiV1+"/agents/{agentId}/events", s.handleSSE)

	if s.metricsHandler != nil {
		mux.Handle(s.metricsPath, s.metricsHandler)
	}

	s.registerLegacyRoutes(mux)
}

func (s *Server) guard(scope string, next http.HandlerFunc) http.HandlerFunc {
	return s.authMiddleware.Require(scope)(next)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthPing)
	defer cancel()

	subsystems := map[string]bool{
		"store":  s.records != nil && s.records.Ping(ctx) == nil,
		"stream": s.stream != nil,
	}

	status := "ok"
	for _, up := range subsystems {
		if !up {
			status = "degraded"
		}
	}

	health := map[string]any{
		"status":     status,
		"uptimeSec":  time.Since(s.startTime).Seconds(),
		"version":    s.version,
		"subsystems": subsystems,
	}

	if status == "ok" {
		WriteSuccess(w, health)
		return
	}
	WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
		"One or more subsystems are unavailable", health)
}

// handleCapabilities handles GET /capabilities
func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}

	WriteSuccess(w, map[string]any{
		"transports": []string{telemetry.TransportWebSocket, telemetry.TransportSSE},
		"formats":    []string{string(record.FormatJSON), string(record.FormatCBOR)},
		"version":    s.version,
	})
}

// handleAgents handles GET /agents
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}

	var counts map[int64]int
	if s.stream != nil {
		counts = s.stream.Stats().PerAgent
	}
	WriteSuccess(w, s.agents.List(counts))
}

// handleWebSocket handles GET /agents/{agentId}/stream
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	agentID, err := pathID(r, "agentId")
	if err != nil {
		writeAPIError(w, err)
		return
	}
	s.serveWebSocket(w, r, agentID)
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request, agentID int64) {
	if err := s.stream.ServeWebSocket(w, r, agentID, s.wsOptions); err != nil {
		s.logger.Warn("websocket subscription failed", "agent_id", agentID, "error", err)
	}
}

// handleSSE handles GET /agents/{agentId}/events
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	agentID, err := pathID(r, "agentId")
	if err != nil {
		writeAPIError(w, err)
		return
	}

	if err := s.stream.ServeSSE(w, r, agentID); err != nil {
		if errors.Is(err, telemetry.ErrHubStopped) {
			return
		}
		s.logger.Warn("sse subscription failed", "agent_id", agentID, "error", err)
	}
}

// pathID parses a non-negative integer path value.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id < 0 {
		return 0, &record.ValidationError{Field: name, Reason: "must be a non-negative integer"}
	}
	return id, nil
}

// decodeJSON decodes a single JSON object from the request body, rejecting
// unknown fields and trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, strict bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(v); err != nil {
		return &record.ValidationError{Field: "body", Reason: "malformed JSON or unknown fields"}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return &record.ValidationError{Field: "body", Reason: "trailing data after JSON object"}
	}
	return nil
}
