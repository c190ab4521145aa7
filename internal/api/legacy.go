package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/road-telemetry/roadwatch/internal/auth"
	"github.com/road-telemetry/roadwatch/internal/record"
	"github.com/road-telemetry/roadwatch/internal/store"
)

// Bodies of the /processed_agent_data/ routes.
type (
	legacyAgentData struct {
		UserID        *int64                `json:"user_id"`
		Accelerometer *record.Accelerometer `json:"accelerometer"`
		GPS           *record.GPS           `json:"gps"`
		Timestamp     string                `json:"timestamp"`
	}

	legacyInput struct {
		RoadState string           `json:"road_state"`
		AgentData *legacyAgentData `json:"agent_data"`
	}

	legacyValidationDetail struct {
		Loc  []string `json:"loc"`
		Msg  string   `json:"msg"`
		Type string   `json:"type"`
	}
)

func (in legacyInput) toInput() (record.Input, error) {
	if in.AgentData == nil {
		return record.Input{}, &record.ValidationError{Field: "agent_data", Reason: "is required"}
	}
	return record.Input{
		AgentID:       in.AgentData.UserID,
		Accelerometer: in.AgentData.Accelerometer,
		GPS:           in.AgentData.GPS,
		Timestamp:     in.AgentData.Timestamp,
		RoadState:     in.RoadState,
	}, nil
}

func (s *Server) registerLegacyRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/processed_agent_data/{$}", s.handleLegacyCollection)
	mux.HandleFunc("/processed_agent_data/{id}", s.handleLegacyItem)
	mux.HandleFunc("/ws/{agentId}", s.handleLegacyWebSocket)
}

func (s *Server) handleLegacyCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.guard(auth.ScopeRead, s.legacyList)(w, r)
	case http.MethodPost:
		s.guard(auth.ScopeWrite, s.legacyCreate)(w, r)
	default:
		writeLegacyMethodNotAllowed(w)
	}
}

func (s *Server) handleLegacyItem(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.guard(auth.ScopeRead, s.legacyGet)(w, r)
	case http.MethodPut:
		s.guard(auth.ScopeWrite, s.legacyUpdate)(w, r)
	case http.MethodDelete:
		s.guard(auth.ScopeWrite, s.legacyDelete)(w, r)
	default:
		writeLegacyMethodNotAllowed(w)
	}
}

// handleLegacyWebSocket pushes every record as the same flat row the
// legacy REST handlers return.
func (s *Server) handleLegacyWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeLegacyMethodNotAllowed(w)
		return
	}
	agentID, err := pathID(r, "agentId")
	if err != nil {
		writeLegacyError(w, err)
		return
	}
	opts := s.wsOptions
	opts.Format = record.FormatRow
	if err := s.stream.ServeWebSocket(w, r, agentID, opts); err != nil {
		s.logger.Warn("websocket subscription failed", "agent_id", agentID, "error", err)
	}
}

func (s *Server) legacyCreate(w http.ResponseWriter, r *http.Request) {
	in, err := decodeLegacy(w, r)
	if err != nil {
		writeLegacyError(w, err)
		return
	}
	rec, err := s.records.Ingest(r.Context(), in)
	if err != nil {
		writeLegacyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec.Row())
}

func (s *Server) legacyList(w http.ResponseWriter, r *http.Request) {
	out := []record.Row{}
	f := store.Filter{Limit: store.DefaultListLimit}
	for {
		page, err := s.records.List(r.Context(), f)
		if err != nil {
			writeLegacyError(w, err)
			return
		}
		for _, rec := range page {
			out = append(out, rec.Row())
		}
		if len(page) < f.Limit {
			break
		}
		f.Offset += len(page)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) legacyGet(w http.ResponseWriter, r *http.Request) {
	id, err := legacyID(r)
	if err != nil {
		writeLegacyError(w, err)
		return
	}
	rec, err := s.records.Get(r.Context(), id)
	if err != nil {
		writeLegacyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec.Row())
}

func (s *Server) legacyUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := legacyID(r)
	if err != nil {
		writeLegacyError(w, err)
		return
	}
	in, err := decodeLegacy(w, r)
	if err != nil {
		writeLegacyError(w, err)
		return
	}
	rec, err := s.records.Update(r.Context(), id, in)
	if err != nil {
		writeLegacyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec.Row())
}

func (s *Server) legacyDelete(w http.ResponseWriter, r *http.Request) {
	id, err := legacyID(r)
	if err != nil {
		writeLegacyError(w, err)
		return
	}
	rec, err := s.records.Delete(r.Context(), id)
	if err != nil {
		writeLegacyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec.Row())
}

// legacyID accepts any integer, so a negative id is simply not found.
func legacyID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, &record.ValidationError{Field: "id", Reason: "must be an integer"}
	}
	return id, nil
}

func decodeLegacy(w http.ResponseWriter, r *http.Request) (record.Input, error) {
	var in legacyInput
	if err := decodeJSON(w, r, &in, false); err != nil {
		return record.Input{}, err
	}
	return in.toInput()
}

// writeLegacyError writes FastAPI-shaped errors: {"detail": ...}.
func writeLegacyError(w http.ResponseWriter, err error) {
	var verr *record.ValidationError
	switch {
	case errors.As(err, &verr):
		loc := []string{"body", verr.Field}
		if verr.Field == "id" || verr.Field == "agentId" {
			loc = []string{"path", verr.Field}
		}
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []legacyValidationDetail{{Loc: loc, Msg: verr.Reason, Type: "value_error"}},
		})
	case errors.Is(err, record.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Item not found"})
	case errors.Is(err, record.ErrStorage):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "Storage is unavailable"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Internal Server Error"})
	}
}

func writeLegacyMethodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "Method Not Allowed"})
}
