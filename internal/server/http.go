package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/alfredjeanlab/lambdaq/internal/history"
	"github.com/alfredjeanlab/lambdaq/internal/model"
)

// NewHTTPHandler returns an http.Handler serving the runtime API, the
// management API and the event stream.
func (s *RuntimeServer) NewHTTPHandler() http.Handler {
	mux := http.NewServeMux()
	s.registerRuntimeRoutes(mux)
	mux.HandleFunc("POST /v1/events", s.handleEnqueue)
	mux.HandleFunc("GET /v1/events/pending", s.handleListPending)
	mux.HandleFunc("GET /v1/events/completed", s.handleListCompleted)
	mux.HandleFunc("GET /v1/events/active", s.handleGetActive)
	mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)
	mux.HandleFunc("GET /v1/events/{id}", s.handleGetEvent)
	mux.HandleFunc("DELETE /v1/events/pending", s.handleClearPending)
	mux.HandleFunc("DELETE /v1/events/completed", s.handleClearCompleted)
	mux.HandleFunc("DELETE /v1/events/{id}", s.handleDeleteEvent)
	mux.HandleFunc("GET /v1/summary", s.handleSummary)
	mux.HandleFunc("GET /v1/history", s.handleListHistory)
	mux.HandleFunc("GET /v1/runtimes", s.handleListRuntimes)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	return RecoveryMiddleware(s.logger, LoggingMiddleware(s.logger, mux))
}

// handleHealth handles GET /v1/health.
func (s *RuntimeServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "session_id": s.sessionID})
}

// handleEnqueue handles POST /v1/events. The raw body is the payload.
func (s *RuntimeServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRuntimeBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body: "+err.Error())
		return
	}
	ev := s.enqueue(r.Context(), string(body))
	writeJSON(w, http.StatusCreated, ev)
}

// handleListPending handles GET /v1/events/pending.
func (s *RuntimeServer) handleListPending(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.store.Pending()))
}

// handleListCompleted handles GET /v1/events/completed.
func (s *RuntimeServer) handleListCompleted(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.store.Completed()))
}

// handleGetActive handles GET /v1/events/active.
func (s *RuntimeServer) handleGetActive(w http.ResponseWriter, _ *http.Request) {
	ev, ok := s.store.Active()
	if !ok {
		writeError(w, http.StatusNotFound, "no active event")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// handleGetEvent handles GET /v1/events/{id}.
func (s *RuntimeServer) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ev, ok := s.store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "event not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// handleClearPending handles DELETE /v1/events/pending.
func (s *RuntimeServer) handleClearPending(w http.ResponseWriter, r *http.Request) {
	s.clearPending(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// handleClearCompleted handles DELETE /v1/events/completed.
func (s *RuntimeServer) handleClearCompleted(w http.ResponseWriter, r *http.Request) {
	s.clearCompleted(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteEvent handles DELETE /v1/events/{id}. Deleting an id that is
// not present (or is active) is not an error.
func (s *RuntimeServer) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	s.deleteEvent(r.Context(), r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

// handleSummary handles GET /v1/summary.
func (s *RuntimeServer) handleSummary(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Summary())
}

// handleListHistory handles GET /v1/history?session=&limit=.
func (s *RuntimeServer) handleListHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	recs, err := s.recorder.List(r.Context(), q.Get("session"), limit)
	if err != nil {
		s.logger.Error("failed to list history", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	if recs == nil {
		recs = []*history.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// handleListRuntimes handles GET /v1/runtimes?stale=5m. Clients idle longer
// than stale are omitted.
func (s *RuntimeServer) handleListRuntimes(w http.ResponseWriter, r *http.Request) {
	var stale time.Duration
	if v := r.URL.Query().Get("stale"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "invalid stale duration")
			return
		}
		stale = d
	}
	writeJSON(w, http.StatusOK, s.presence.Roster(stale))
}

func nonNil(evs []model.Event) []model.Event {
	if evs == nil {
		return []model.Event{}
	}
	return evs
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
