package ingest

import (
	"encoding/json"
	"io"
	"net/http"

	"codeberg.org/mutker/itrack/internal/analysis"
	"codeberg.org/mutker/itrack/internal/metrics"
	"codeberg.org/mutker/itrack/internal/telemetry"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		s.log.Debug().Err(err).Msg("Failed to read telemetry body")
		writeError(w, http.StatusBadRequest, "Invalid data")
		return
	}

	payload, err := telemetry.Decode(body)
	if err != nil {
		s.log.Debug().Err(err).Msg("Failed to decode telemetry payload")
		writeError(w, http.StatusBadRequest, "Invalid data")
		return
	}

	sessionID := s.session(w, r)

	if payload.Empty() {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	result := analysis.Calculate(payload)

	batch := &metrics.Batch{
		SessionID:  sessionID,
		ReceivedAt: s.now(),
		Payload:    payload,
		Metrics:    result.All(),
	}
	if err := s.store.Record(r.Context(), batch); err != nil {
		s.log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to store telemetry batch")
		writeError(w, http.StatusInternalServerError, "Failed to store metrics")
		return
	}

	s.log.Debug().
		Str("session_id", sessionID).
		Int("observations", payload.Len()).
		Int("metrics", result.Len()).
		Msg("Telemetry batch accepted")

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionMetrics(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	stored, err := s.store.Query(r.Context(), id)
	if err != nil {
		s.log.Error().Err(err).Str("session_id", id).Msg("Failed to query metrics")
		writeError(w, http.StatusInternalServerError, "Failed to query metrics")
		return
	}
	if stored == nil {
		stored = []metrics.StoredMetric{}
	}

	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok")
}

// session resolves the uploader's session from the cookie, then the
// header. A new session cookie is issued when neither is present.
func (s *Server) session(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if id := r.Header.Get(SessionHeader); id != "" {
		return id
	}

	id := uuid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
