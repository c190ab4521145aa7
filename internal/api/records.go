package api

import (
	"net/http"
	"strconv"

	"github.com/road-telemetry/roadwatch/internal/auth"
	"github.com/road-telemetry/roadwatch/internal/record"
	"github.com/road-telemetry/roadwatch/internal/store"
)

// RecordList is the data of GET /records.
type RecordList struct {
	Items  []record.Record `json:"items"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// handleRecords handles GET and POST /records
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.guard(auth.ScopeRead, s.listRecords)(w, r)
	case http.MethodPost:
		s.guard(auth.ScopeWrite, s.createRecord)(w, r)
	default:
		writeMethodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

// handleRecord handles GET, PUT and DELETE /records/{id}
func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.guard(auth.ScopeRead, s.getRecord)(w, r)
	case http.MethodPut:
		s.guard(auth.ScopeWrite, s.updateRecord)(w, r)
	case http.MethodDelete:
		s.guard(auth.ScopeWrite, s.deleteRecord)(w, r)
	default:
		writeMethodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (s *Server) createRecord(w http.ResponseWriter, r *http.Request) {
	var in record.Input
	if err := decodeJSON(w, r, &in, true); err != nil {
		writeAPIError(w, err)
		return
	}

	rec, err := s.records.Ingest(r.Context(), in)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	WriteCreated(w, rec)
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	recs, err := s.records.List(r.Context(), f)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if recs == nil {
		recs = []record.Record{}
	}
	WriteSuccess(w, RecordList{Items: recs, Limit: f.EffectiveLimit(), Offset: f.Offset})
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeAPIError(w, err)
		return
	}

	rec, err := s.records.Get(r.Context(), id)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	WriteSuccess(w, rec)
}

func (s *Server) updateRecord(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeAPIError(w, err)
		return
	}
	var in record.Input
	if err := decodeJSON(w, r, &in, true); err != nil {
		writeAPIError(w, err)
		return
	}

	rec, err := s.records.Update(r.Context(), id, in)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	WriteSuccess(w, rec)
}

func (s *Server) deleteRecord(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeAPIError(w, err)
		return
	}

	rec, err := s.records.Delete(r.Context(), id)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	WriteSuccess(w, rec)
}

func parseFilter(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	var f store.Filter

	if raw := q.Get("agentId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 0 {
			return f, &record.ValidationError{Field: "agentId", Reason: "must be a non-negative integer"}
		}
		f.AgentID = &id
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &f.Limit}, {"offset", &f.Offset}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, &record.ValidationError{Field: p.name, Reason: "must be a non-negative integer"}
		}
		*p.dst = n
	}
	return f, nil
}
