package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/ibeckermayer/dripfeed/internal/lifecycle"
	"github.com/ibeckermayer/dripfeed/internal/store"
)

const defaultAttemptLimit = 50

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.manager.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context(), s.botID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	limit := defaultAttemptLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
		limit = n
	}

	attempts, err := s.store.RecentAttempts(r.Context(), s.botID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read attempts", err)
		return
	}
	if attempts == nil {
		attempts = []store.Attempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}

// handlePublish triggers exactly one out-of-band publish cycle.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	err := s.manager.RunCycle(r.Context())
	switch {
	case errors.Is(err, lifecycle.ErrNotInitialized):
		writeError(w, http.StatusConflict, "lifecycle manager not initialized", nil)
	case errors.Is(err, lifecycle.ErrCycleInFlight):
		writeError(w, http.StatusConflict, "a publish cycle is already running", nil)
	case err != nil:
		writeError(w, http.StatusInternalServerError, "publish cycle failed", err)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"result": "cycle completed"})
	}
}

// handleReplenish triggers an out-of-band replenishment.
func (s *Server) handleReplenish(w http.ResponseWriter, r *http.Request) {
	if !s.manager.Initialized() {
		writeError(w, http.StatusConflict, "lifecycle manager not initialized", nil)
		return
	}
	if err := s.manager.Replenish(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "replenishment failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "replenished"})
}

// handleRecompute rebuilds the cached stats row from a full scan.
func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.RecomputeStats(r.Context(), s.botID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to recompute stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[server] failed to encode response: %v", err)
	}
}

// writeError logs the internal error and returns a sanitized JSON error to
// the client.
func writeError(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil {
		log.Printf("[server] %s: %v", msg, err)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
