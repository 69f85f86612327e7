package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/teranos/pact/logger"
	"github.com/teranos/pact/version"
)

// HandleCertificate serves the stored certificate of a trace as it was
// written by the pipeline.
func (s *Server) HandleCertificate(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	traceID, err := normalizeTraceID(r.PathValue("traceId"))
	if err != nil {
		writeErrorFor(w, err)
		return
	}

	rec, err := s.store.Get(r.Context(), traceID)
	if err != nil {
		if statusFor(err) >= http.StatusInternalServerError {
			s.logger.Errorw("certificate lookup failed", logger.FieldTraceID, traceID, logger.FieldError, err)
		}
		writeErrorFor(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Certificate-Version", strconv.FormatInt(rec.Version, 10))
	if !rec.ExpiresAt.IsZero() {
		w.Header().Set("Expires", rec.ExpiresAt.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(rec.Payload); err != nil {
		s.logger.Debugw("certificate write failed", logger.FieldTraceID, traceID, logger.FieldError, err)
	}
}

// HandleHealth serves a liveness probe with version info
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	info := version.Get()
	health := map[string]interface{}{
		"status":          "ok",
		"version":         info.Version,
		"commit":          info.CommitHash,
		"build_time":      info.BuildTime,
		"clients":         s.Clients(),
		"published":       s.published.Load(),
		"broadcast_drops": s.broadcastDrops.Load(),
		"time":            time.Now().UTC().Format(time.RFC3339),
	}
	_ = writeJSON(w, http.StatusOK, health)
}
